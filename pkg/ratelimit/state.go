// Package ratelimit tracks the per-credential search quota reported in
// X-RateLimit-* response headers and gates requests for credentials that are
// known to be exhausted until their window resets.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Redis key layout for rate limit state. The %s is a credential fingerprint,
// never the credential itself.
const (
	RedisKeyPrefix = "reposcrape:rate_limit:"
	redisKeyFormat = RedisKeyPrefix + "%s"
)

// Hash fields stored under each credential key.
const (
	fieldRemaining  = "remaining"
	fieldLimit      = "limit"
	fieldReset      = "reset"
	fieldLastUpdate = "last_update"
)

// Thresholds for rate limit decisions.
const (
	// RemainingThresholdLow marks a credential as close to exhaustion. It only
	// affects logging; requests are still allowed.
	RemainingThresholdLow = 3
)

// RateLimitState represents the last known quota for one credential.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window.
	// Extracted from the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Limit is the window size from X-RateLimit-Limit, 0 if absent.
	Limit int `json:"limit"`

	// ResetAt is when the window resets. From X-RateLimit-Reset (epoch
	// seconds) or Retry-After (seconds from now).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was recorded.
	LastUpdate time.Time `json:"last_update"`

	// Known is false when no response has reported a quota yet.
	Known bool `json:"known"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Exhausted returns true if the credential has no requests left and its
// window has not reset yet.
func (s *RateLimitState) Exhausted() bool {
	return s.Known && s.Remaining <= 0 && s.TimeUntilReset() > 0
}

// Low returns true if the credential is close to exhaustion.
func (s *RateLimitState) Low() bool {
	return s.Known && s.Remaining < RemainingThresholdLow && !s.Exhausted()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// Fingerprint returns a short stable identifier for a credential that is
// safe to log and to use in storage keys.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:6])
}
