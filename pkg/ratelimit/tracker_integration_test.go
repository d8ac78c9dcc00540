//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"sync"
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

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_CooldownExpires(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := NewTracker(redisClient, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("Retry-After", "1")
	if err := tracker.RecordRateLimit(ctx, headers); err != nil {
		t.Fatalf("RecordRateLimit() error = %v", err)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsCoolingDown(time.Now()) {
		t.Fatal("expected an active cooldown")
	}

	// The cooldown key carries its own TTL.
	time.Sleep(1500 * time.Millisecond)

	state, err = tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() after expiry error = %v", err)
	}
	if state.IsCoolingDown(time.Now()) {
		t.Errorf("cooldown still active after expiry: %v", state.CooldownUntil)
	}
	if state.Hits != 1 {
		t.Errorf("Hits = %d, want 1", state.Hits)
	}
}

func TestTracker_Integration_SharedAcrossTrackers(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	first := NewTracker(redisClient, logger)
	second := NewTracker(redisClient, logger)
	second.SetMaxWait(300 * time.Millisecond)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("Retry-After", "5")
	if err := first.RecordRateLimit(ctx, headers); err != nil {
		t.Fatalf("RecordRateLimit() error = %v", err)
	}

	var wg sync.WaitGroup
	durations := make([]time.Duration, 3)
	for i := range durations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			if err := second.Wait(ctx); err != nil {
				t.Errorf("Wait() error = %v", err)
			}
			durations[i] = time.Since(start)
		}(i)
	}
	wg.Wait()

	for i, d := range durations {
		if d < 250*time.Millisecond {
			t.Errorf("waiter %d did not observe the shared cooldown (waited %v)", i, d)
		}
	}
}
