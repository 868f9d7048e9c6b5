// Command resultsets fetches code search results for every
// repositories_<N> unit in an input directory and writes one resultsets_<N>
// file per unit. Units whose output already exists are skipped, so an
// interrupted run can simply be started again.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/reposcrape/internal/cli"
	"github.com/Sternrassler/reposcrape/internal/config"
	"github.com/Sternrassler/reposcrape/pkg/cache"
	"github.com/Sternrassler/reposcrape/pkg/client"
	"github.com/Sternrassler/reposcrape/pkg/pagination"
	"github.com/Sternrassler/reposcrape/pkg/query"
	"github.com/Sternrassler/reposcrape/pkg/ratelimit"
	"github.com/Sternrassler/reposcrape/pkg/retrieval"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := cli.SignalContext(context.Background())
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	retrieval retrieval.Config
	apiKeys   cli.StringList

	baseURL              string
	cooldown             time.Duration
	maxAttempts          int
	multiplier           float64
	maxCooldown          time.Duration
	giveUpOnClientErrors bool
	maxPages             int
	rps                  float64

	redisURL string
	cacheTTL time.Duration

	ambient cli.Ambient
}

// parseFlags parses args with defaults from the environment.
func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	env := config.New().Prefix(cli.EnvPrefix)
	root := config.New()

	o := &options{}
	r := &o.retrieval
	fs := cli.NewFlagSet("resultsets", stderr)

	cli.StringVar(fs, &r.InputDir, "i", "input", env.MayString("INPUT", ""), "input directory holding repositories_<N> files")
	cli.StringVar(fs, &r.OutputDir, "o", "output", env.MayString("OUTPUT", ""), "output directory for resultsets_<N> files")
	fs.Var(&o.apiKeys, "apikey", "search API credential (repeatable; need many)")
	fs.Var(&o.apiKeys, "a", "shorthand for -apikey")
	cli.IntVar(fs, &r.Workers, "t", "threads", env.MayInt("THREADS", 0), "units processed in parallel")
	fs.IntVar(&r.QueueCapacity, "queue", env.MayInt("QUEUE", 1000), "units admitted ahead of the workers")
	fs.IntVar(&r.Budget, "budget", env.MayInt("BUDGET", query.DefaultBudget), "per-request query budget in characters")
	fs.IntVar(&r.Overhead, "overhead", env.MayInt("OVERHEAD", query.DefaultOverhead), "fixed per-request length reserved out of the budget")
	fs.IntVar(&r.ProgressEvery, "progress", env.MayInt("PROGRESS", retrieval.DefaultProgressEvery), "log progress every N units (0 disables)")

	fs.StringVar(&o.baseURL, "base-url", env.MayString("BASE_URL", client.DefaultBaseURL), "search API root")
	fs.DurationVar(&o.cooldown, "cooldown", env.MayDuration("COOLDOWN", client.DefaultCooldown), "pause before retrying a failed batch")
	fs.IntVar(&o.maxAttempts, "max-attempts", env.MayInt("MAX_ATTEMPTS", 0), "attempts per batch before the unit is aborted (0 retries forever)")
	fs.Float64Var(&o.multiplier, "cooldown-multiplier", env.MayFloat64("COOLDOWN_MULTIPLIER", 1), "cooldown growth per retry (1 keeps it fixed)")
	fs.DurationVar(&o.maxCooldown, "max-cooldown", env.MayDuration("MAX_COOLDOWN", 0), "cap for the grown cooldown (0 means no cap)")
	fs.BoolVar(&o.giveUpOnClientErrors, "no-retry-client-errors", env.MayBool("NO_RETRY_CLIENT_ERRORS", false), "abort the unit on 4xx responses other than rate limits")
	fs.IntVar(&o.maxPages, "max-pages", env.MayInt("MAX_PAGES", 1), "result pages fetched per batch")
	fs.Float64Var(&o.rps, "rps", env.MayFloat64("RPS", 0), "requests per second across all workers (0 disables pacing)")

	fs.StringVar(&o.redisURL, "redis", env.MayString("REDIS", root.MayString("REDIS_URL", "")), "redis address or URL for the response cache and quota tracking (empty disables)")
	fs.DurationVar(&o.cacheTTL, "cache-ttl", env.MayDuration("CACHE_TTL", cache.DefaultTTL), "freshness window for cached responses")

	o.ambient.Register(fs, env)

	if err := cli.Parse(fs, args); err != nil {
		return nil, fs, err
	}
	if len(o.apiKeys) == 0 {
		o.apiKeys = env.MayCSV("API_KEYS", nil)
	}

	var errs []error
	if len(o.apiKeys) == 0 {
		errs = append(errs, errors.New("at least one -apikey is required"))
	}
	if err := config.Validate(o.retrieval); err != nil {
		errs = append(errs, err)
	}
	if o.maxAttempts < 0 {
		errs = append(errs, errors.New("max-attempts must not be negative"))
	}
	if o.maxPages < 1 {
		errs = append(errs, errors.New("max-pages must be 1 or greater"))
	}
	if o.rps < 0 {
		errs = append(errs, errors.New("rps must not be negative"))
	}
	return o, fs, errors.Join(errs...)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	o, fs, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return cli.ExitOK
	}
	if err != nil {
		return cli.UsageError(fs, err)
	}

	logger := o.ambient.Logger(stderr)
	stopOps := o.ambient.StartOps(logger)
	defer stopOps()

	ccfg := client.DefaultConfig(o.apiKeys)
	ccfg.BaseURL = o.baseURL
	ccfg.RequestsPerSecond = o.rps
	ccfg.CacheTTL = o.cacheTTL
	if o.maxPages > 1 {
		ccfg.PerPage = 100
	}

	if o.redisURL != "" {
		rdb, err := openRedis(ctx, o.redisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to Redis")
			return cli.ExitFailure
		}
		defer rdb.Close()
		ccfg.Cache = cache.NewManager(rdb, cache.DefaultStaleFor)
		ccfg.RateLimiter = ratelimit.NewTracker(rdb, logger.With().Str("component", "ratelimit").Logger())
		logger.Info().Msg("Response cache and quota tracking enabled")
	}

	c, err := client.New(ccfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create search client")
		return cli.ExitFailure
	}

	pcfg := pagination.DefaultConfig()
	pcfg.MaxPages = o.maxPages
	fetcher := pagination.NewBatchFetcher[client.Record](c, pcfg)

	governor := client.NewGovernor(client.RetryConfig{
		Cooldown:             o.cooldown,
		MaxAttempts:          o.maxAttempts,
		Multiplier:           o.multiplier,
		MaxCooldown:          o.maxCooldown,
		GiveUpOnClientErrors: o.giveUpOnClientErrors,
	})

	runner, err := retrieval.New(o.retrieval, fetcher, governor)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return cli.ExitFailure
	}

	logger.Info().
		Str("run_id", runner.RunID()).
		Int("credentials", len(o.apiKeys)).
		Dur("cooldown", o.cooldown).
		Int("max_attempts", o.maxAttempts).
		Int("max_pages", o.maxPages).
		Msg("Starting resultsets")

	sum, err := runner.Run(ctx)
	return exitCode(logger, sum, err)
}

func exitCode(logger zerolog.Logger, sum retrieval.Summary, err error) int {
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		logger.Warn().Str("run_id", sum.RunID).Msg("Interrupted; unfinished units will run next time")
		return cli.ExitFailure
	case err != nil:
		logger.Error().Err(err).Msg("Retrieval failed")
		return cli.ExitFailure
	case sum.Cancelled > 0:
		logger.Warn().Int64("cancelled", sum.Cancelled).Msg("Interrupted; unfinished units will run next time")
		return cli.ExitFailure
	}
	return cli.ExitOK
}

// openRedis accepts a redis:// URL or a bare host:port and pings the server.
func openRedis(ctx context.Context, addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
