//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func quotaHeaders(remaining int, resetIn time.Duration) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "30")
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(resetIn).Unix(), 10))
	return h
}

func TestTracker_Integration_GetState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := NewTracker(redisClient, zerolog.Nop())
	ctx := context.Background()

	state, err := tracker.GetState(ctx, "cred-a")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Known {
		t.Error("state for an unseen credential should be unknown")
	}

	if err := tracker.UpdateFromHeaders(ctx, "cred-a", quotaHeaders(17, 2*time.Minute)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, err = tracker.GetState(ctx, "cred-a")
	if err != nil {
		t.Fatalf("GetState() after update error = %v", err)
	}
	if !state.Known || state.Remaining != 17 || state.Limit != 30 {
		t.Errorf("state = %+v", state)
	}

	got := state.TimeUntilReset()
	if got < 115*time.Second || got > 121*time.Second {
		t.Errorf("TimeUntilReset = %v, want about 2m", got)
	}

	other, err := tracker.GetState(ctx, "cred-b")
	if err != nil {
		t.Fatalf("GetState(cred-b) error = %v", err)
	}
	if other.Known {
		t.Error("credentials must not share state")
	}
}

func TestTracker_Integration_ShouldAllowRequest(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := NewTracker(redisClient, zerolog.Nop())
	ctx := context.Background()

	if err := tracker.UpdateFromHeaders(ctx, "cred-a", quotaHeaders(0, time.Minute)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}
	if err := tracker.UpdateFromHeaders(ctx, "cred-b", quotaHeaders(9, time.Minute)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	allowed, wait, err := tracker.ShouldAllowRequest(ctx, "cred-a")
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("exhausted credential allowed")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %v", wait)
	}

	allowed, _, err = tracker.ShouldAllowRequest(ctx, "cred-b")
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("credential with quota refused")
	}
}

func TestTracker_Integration_KeyExpires(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := NewTracker(redisClient, zerolog.Nop())
	ctx := context.Background()

	if err := tracker.UpdateFromHeaders(ctx, "cred-a", quotaHeaders(0, 30*time.Second)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ttl, err := redisClient.TTL(ctx, stateKey("cred-a")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 30*time.Second || ttl > 91*time.Second {
		t.Errorf("key TTL = %v, want reset plus one minute", ttl)
	}
}
