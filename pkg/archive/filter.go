package archive

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/reposcrape/internal/config"
	"github.com/Sternrassler/reposcrape/pkg/scheduler"
	"github.com/Sternrassler/reposcrape/pkg/units"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for the archive filter.
var archivesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reposcrape_archives_total",
	Help: "Scanned archives by outcome",
}, []string{"outcome"})

// DefaultProgressEvery is how many scanned archives pass between progress logs.
const DefaultProgressEvery = 1000

// Config holds the filter settings.
type Config struct {
	InputDir      string `flag:"input" validate:"required"`
	Pattern       string `flag:"pattern" validate:"required"`
	Workers       int    `flag:"threads" validate:"min=1"`
	QueueCapacity int    `flag:"queue" validate:"min=1"`
	ProgressEvery int    `flag:"progress" validate:"min=0"`
}

// Summary reports one filter run.
type Summary struct {
	RunID    string
	Total    int64
	Matches  int64
	Failed   int64
	Duration time.Duration
}

// Filter scans every archive in a directory on a worker pool.
type Filter struct {
	cfg     Config
	pattern *regexp.Regexp
	runID   string
	logger  zerolog.Logger

	total   atomic.Int64
	matches atomic.Int64
	failed  atomic.Int64
}

// New validates cfg, compiles the pattern anchored to whole names, and
// creates a Filter.
func New(cfg Config) (*Filter, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	full, err := CompilePattern(cfg.Pattern)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	return &Filter{
		cfg:     cfg,
		pattern: full,
		runID:   runID,
		logger: log.With().
			Str("component", "archive-filter").
			Str("run_id", runID).
			Logger(),
	}, nil
}

// Run scans every *.zip file in the input directory. Unreadable archives are
// logged and counted as failed; they never stop the run.
func (f *Filter) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	list, err := units.Enumerate(f.cfg.InputDir, units.ArchivePattern)
	if err != nil {
		return Summary{RunID: f.runID}, err
	}

	pool, err := scheduler.New(scheduler.Config{
		Workers:       f.cfg.Workers,
		QueueCapacity: f.cfg.QueueCapacity,
		Name:          "archive",
		Logger:        &f.logger,
	})
	if err != nil {
		return Summary{RunID: f.runID}, err
	}

	f.logger.Info().
		Int("archives", len(list)).
		Str("pattern", f.pattern.String()).
		Msg("Starting archive filter")

	pool.Start(ctx)

	var submitErr error
	for _, u := range list {
		if err := pool.Submit(ctx, f.task(u)); err != nil {
			submitErr = err
			break
		}
	}

	pool.Close()
	pool.Wait()

	sum := Summary{
		RunID:    f.runID,
		Total:    f.total.Load(),
		Matches:  f.matches.Load(),
		Failed:   f.failed.Load(),
		Duration: time.Since(start),
	}
	f.logger.Info().
		Int64("total", sum.Total).
		Int64("matches", sum.Matches).
		Int64("failed", sum.Failed).
		Dur("duration", sum.Duration).
		Msgf("Total: %d, Matches: %d", sum.Total, sum.Matches)

	if submitErr != nil {
		return sum, fmt.Errorf("submit archives: %w", submitErr)
	}
	return sum, nil
}

func (f *Filter) task(u units.Unit) scheduler.Task {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		f.logger.Debug().Str("archive", u.Name).Msg("Scanning archive")
		hit, err := Scan(u.Path, f.pattern)
		n := f.total.Add(1)
		switch {
		case err != nil:
			f.failed.Add(1)
			archivesTotal.WithLabelValues("failed").Inc()
		case hit:
			f.matches.Add(1)
			archivesTotal.WithLabelValues("match").Inc()
			f.logger.Debug().Str("archive", u.Name).Msg("Archive matches")
		default:
			archivesTotal.WithLabelValues("miss").Inc()
		}

		if every := int64(f.cfg.ProgressEvery); every > 0 && n%every == 0 {
			f.logger.Info().
				Int64("matches", f.matches.Load()).
				Int64("total", n).
				Msgf("%d / %d", f.matches.Load(), n)
		}

		if err != nil {
			return fmt.Errorf("archive %s: %w", u.Name, err)
		}
		return nil
	}
}

// Matches reports whether name fully matches the filter pattern.
func (f *Filter) Matches(name string) bool {
	return f.pattern.MatchString(name)
}

// CompilePattern compiles expr anchored to whole names, for callers that
// want to validate a pattern before building a Filter.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, errors.New("pattern is required")
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	return units.Anchor(re)
}
