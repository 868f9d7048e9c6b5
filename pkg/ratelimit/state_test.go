package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *RateLimitState
		maxAge   time.Duration
		expected bool
	}{
		{"fresh state", &RateLimitState{LastUpdate: time.Now()}, 5 * time.Minute, false},
		{"stale state", &RateLimitState{LastUpdate: time.Now().Add(-10 * time.Minute)}, 5 * time.Minute, true},
		{"just under max age", &RateLimitState{LastUpdate: time.Now().Add(-4 * time.Minute)}, 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRateLimitState_Exhausted(t *testing.T) {
	future := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name      string
		state     RateLimitState
		exhausted bool
		low       bool
	}{
		{"unknown", RateLimitState{Remaining: 0, ResetAt: future}, false, false},
		{"plenty", RateLimitState{Known: true, Remaining: 25, ResetAt: future}, false, false},
		{"low", RateLimitState{Known: true, Remaining: 2, ResetAt: future}, false, true},
		{"at low threshold", RateLimitState{Known: true, Remaining: RemainingThresholdLow, ResetAt: future}, false, false},
		{"exhausted", RateLimitState{Known: true, Remaining: 0, ResetAt: future}, true, false},
		{"exhausted but reset passed", RateLimitState{Known: true, Remaining: 0, ResetAt: past}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Exhausted(); got != tt.exhausted {
				t.Errorf("Exhausted() = %v, want %v", got, tt.exhausted)
			}
			if got := tt.state.Low(); got != tt.low {
				t.Errorf("Low() = %v, want %v", got, tt.low)
			}
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	s := &RateLimitState{ResetAt: time.Now().Add(-time.Second)}
	if got := s.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0", got)
	}

	s.ResetAt = time.Now().Add(30 * time.Second)
	if got := s.TimeUntilReset(); got < 29*time.Second || got > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 30s", got)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("ghp_secret_one")
	b := Fingerprint("ghp_secret_two")

	if len(a) != 12 {
		t.Errorf("len(Fingerprint) = %d, want 12", len(a))
	}
	if a == b {
		t.Error("different credentials share a fingerprint")
	}
	if a != Fingerprint("ghp_secret_one") {
		t.Error("Fingerprint is not stable")
	}
}
