package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcrape_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryCooldownSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reposcrape_retry_cooldown_seconds",
		Help:    "Cooldown before a retry by error class",
		Buckets: []float64{1, 5, 30, 60, 300, 600, 1800},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcrape_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// DefaultCooldown is the pause between failed attempts.
const DefaultCooldown = 5 * time.Minute

// RetryConfig holds the configuration for the retry governor.
type RetryConfig struct {
	// Cooldown is the pause before the first retry.
	Cooldown time.Duration

	// MaxAttempts caps attempts including the first. Zero retries until
	// success or cancellation.
	MaxAttempts int

	// Multiplier grows the cooldown after each retry. Values <= 1 keep it fixed.
	Multiplier float64

	// MaxCooldown caps the grown cooldown. Zero means no cap.
	MaxCooldown time.Duration

	// GiveUpOnClientErrors stops retrying 4xx failures other than rate limits.
	GiveUpOnClientErrors bool
}

// DefaultRetryConfig returns a fixed five minute cooldown with no attempt cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Cooldown: DefaultCooldown,
	}
}

// Governor repeats an operation after a cooldown until it succeeds, the
// attempt cap is reached, or the context ends. A Governor holds no per-call
// state and may be shared by any number of tasks.
type Governor struct {
	cfg    RetryConfig
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewGovernor creates a Governor. A non-positive cooldown falls back to
// DefaultCooldown.
func NewGovernor(cfg RetryConfig) *Governor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	return &Governor{
		cfg:    cfg,
		logger: log.With().Str("component", "retry").Logger(),
		sleep:  sleepCtx,
	}
}

// Config returns the effective configuration.
func (g *Governor) Config() RetryConfig {
	return g.cfg
}

// Do runs fn until it returns nil. Every failure is logged with its attempt
// number, then the governor waits out the cooldown and tries again. Waiting
// stops early when ctx ends.
func (g *Governor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	cooldown := g.cfg.Cooldown

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				g.logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if isContextErr(ctx, err) {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		class := ClassOf(err)

		if g.cfg.GiveUpOnClientErrors && isPermanent(class) {
			g.logger.Warn().
				Err(err).
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Permanent failure, not retrying")
			return err
		}

		if g.cfg.MaxAttempts > 0 && attempt >= g.cfg.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			g.logger.Warn().
				Err(err).
				Str("error_class", string(class)).
				Int("max_attempts", g.cfg.MaxAttempts).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryCooldownSeconds.WithLabelValues(string(class)).Observe(cooldown.Seconds())

		g.logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("cooldown", cooldown).
			Msg("Attempt failed, cooling down before retry")

		if err := g.sleep(ctx, cooldown); err != nil {
			g.logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry cooldown")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		cooldown = g.next(cooldown)
	}
}

func (g *Governor) next(d time.Duration) time.Duration {
	if g.cfg.Multiplier <= 1 {
		return d
	}
	d = time.Duration(float64(d) * g.cfg.Multiplier)
	if g.cfg.MaxCooldown > 0 && d > g.cfg.MaxCooldown {
		d = g.cfg.MaxCooldown
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
