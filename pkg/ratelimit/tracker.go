package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	quotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reposcrape_rate_limit_remaining",
		Help: "Requests remaining in the current window by credential fingerprint",
	}, []string{"credential"})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcrape_rate_limit_blocks_total",
		Help: "Total number of requests refused because the credential was exhausted",
	})
)

// ErrNoStore is returned by operations that need Redis when the tracker has none.
var ErrNoStore = errors.New("rate limit tracker has no redis client")

// Tracker records per-credential quota in Redis so that concurrent tasks and
// separate processes sharing the same credentials see the same state.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

func stateKey(credential string) string {
	return fmt.Sprintf(redisKeyFormat, Fingerprint(credential))
}

// GetState retrieves the last known state for credential. A credential with
// no recorded state is returned as unknown, which never blocks.
func (t *Tracker) GetState(ctx context.Context, credential string) (*RateLimitState, error) {
	if t.redis == nil {
		return nil, ErrNoStore
	}

	fields, err := t.redis.HGetAll(ctx, stateKey(credential)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		return &RateLimitState{LastUpdate: t.now()}, nil
	}

	state := &RateLimitState{Known: true}
	if state.Remaining, err = strconv.Atoi(fields[fieldRemaining]); err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	if v, ok := fields[fieldLimit]; ok {
		state.Limit, _ = strconv.Atoi(v)
	}
	reset, err := strconv.ParseInt(fields[fieldReset], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset: %w", err)
	}
	state.ResetAt = time.Unix(reset, 0)
	if v, ok := fields[fieldLastUpdate]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			state.LastUpdate = time.UnixMilli(ms)
		}
	}

	return state, nil
}

// ParseHeaders extracts quota state from response headers. ok is false when
// the response carries no quota headers at all.
func ParseHeaders(headers http.Header, now time.Time) (state *RateLimitState, ok bool, err error) {
	remainStr := headers.Get("X-RateLimit-Remaining")
	retryAfter := headers.Get("Retry-After")
	if remainStr == "" && retryAfter == "" {
		return nil, false, nil
	}

	state = &RateLimitState{LastUpdate: now, Known: true}

	if remainStr != "" {
		if state.Remaining, err = strconv.Atoi(remainStr); err != nil {
			return nil, false, fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
		}

		resetStr := headers.Get("X-RateLimit-Reset")
		if resetStr == "" && retryAfter == "" {
			return nil, false, fmt.Errorf("X-RateLimit-Reset header missing")
		}
		if resetStr != "" {
			reset, err := strconv.ParseInt(resetStr, 10, 64)
			if err != nil {
				return nil, false, fmt.Errorf("parse X-RateLimit-Reset header: %w", err)
			}
			state.ResetAt = time.Unix(reset, 0)
		}

		if limitStr := headers.Get("X-RateLimit-Limit"); limitStr != "" {
			state.Limit, _ = strconv.Atoi(limitStr)
		}
	}

	// Retry-After means the request was refused regardless of the counters.
	if retryAfter != "" {
		secs, err := strconv.Atoi(retryAfter)
		if err != nil {
			return nil, false, fmt.Errorf("parse Retry-After header: %w", err)
		}
		state.Remaining = 0
		if at := now.Add(time.Duration(secs) * time.Second); at.After(state.ResetAt) {
			state.ResetAt = at
		}
	}

	return state, true, nil
}

// UpdateFromHeaders parses quota headers for credential and stores them.
// Responses without quota headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, credential string, headers http.Header) error {
	state, ok, err := ParseHeaders(headers, t.now())
	if err != nil || !ok {
		return err
	}
	if t.redis == nil {
		return ErrNoStore
	}

	key := stateKey(credential)
	fp := Fingerprint(credential)

	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldRemaining, state.Remaining,
		fieldLimit, state.Limit,
		fieldReset, state.ResetAt.Unix(),
		fieldLastUpdate, state.LastUpdate.UnixMilli(),
	)
	// Keep state around a little past the reset so it can still be inspected.
	pipe.ExpireAt(ctx, key, state.ResetAt.Add(time.Minute))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	quotaRemaining.WithLabelValues(fp).Set(float64(state.Remaining))

	switch {
	case state.Exhausted():
		t.logger.Warn().
			Str("credential", fp).
			Time("reset_at", state.ResetAt).
			Msg("Credential quota exhausted")
	case state.Low():
		t.logger.Info().
			Str("credential", fp).
			Int("remaining", state.Remaining).
			Msg("Credential quota low")
	default:
		t.logger.Debug().
			Str("credential", fp).
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether credential may be used now. When it
// may not, wait is the time until its window resets.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, credential string) (allowed bool, wait time.Duration, err error) {
	state, err := t.GetState(ctx, credential)
	if err != nil {
		return false, 0, err
	}

	if state.Exhausted() {
		wait = state.TimeUntilReset()
		t.logger.Debug().
			Str("credential", Fingerprint(credential)).
			Dur("wait_duration", wait).
			Msg("Credential exhausted, refusing request")
		rateLimitBlocksTotal.Inc()
		return false, wait, nil
	}

	return true, 0, nil
}
