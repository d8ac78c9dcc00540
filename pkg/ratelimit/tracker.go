package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	rateLimitHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_rate_limit_hits_total",
		Help: "Total number of 429 responses recorded",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_rate_limit_waits_total",
		Help: "Total number of requests delayed by a shared cooldown",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scraper_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for a shared cooldown",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})
)

// DefaultMaxWait bounds how long a single request waits for a cooldown.
const DefaultMaxWait = 30 * time.Second

// Tracker records 429 cooldowns in Redis and gates requests on them.
// A nil *Tracker is valid and never waits.
type Tracker struct {
	redis   *redis.Client
	logger  zerolog.Logger
	maxWait time.Duration
}

// NewTracker creates a cooldown tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:   redisClient,
		logger:  logger,
		maxWait: DefaultMaxWait,
	}
}

// SetMaxWait changes the per-request wait bound.
func (t *Tracker) SetMaxWait(d time.Duration) {
	if d > 0 {
		t.maxWait = d
	}
}

// GetState retrieves the current cooldown state. An empty Redis yields a
// zero state (no cooldown).
func (t *Tracker) GetState(ctx context.Context) (*CooldownState, error) {
	state := &CooldownState{}

	untilMs, err := t.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	if err == nil {
		state.CooldownUntil = time.UnixMilli(untilMs)
	}

	hits, err := t.redis.Get(ctx, RedisKeyHits).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get hits: %w", err)
	}
	state.Hits = hits

	lastMs, err := t.redis.Get(ctx, RedisKeyLastUpdate).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if err == nil {
		state.LastUpdate = time.UnixMilli(lastMs)
	}

	return state, nil
}

// RecordRateLimit stores the cooldown announced by a 429 response. An
// existing cooldown that ends later is kept.
func (t *Tracker) RecordRateLimit(ctx context.Context, headers http.Header) error {
	if t == nil {
		return nil
	}

	now := time.Now()
	cooldown := ParseRetryAfter(headers, now)
	until := now.Add(cooldown)

	current, err := t.GetState(ctx)
	if err != nil {
		return err
	}
	if current.CooldownUntil.After(until) {
		until = current.CooldownUntil
		cooldown = until.Sub(now)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyCooldownUntil, until.UnixMilli(), cooldown)
	pipe.Incr(ctx, RedisKeyHits)
	pipe.Set(ctx, RedisKeyLastUpdate, now.UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store cooldown in redis: %w", err)
	}

	rateLimitHitsTotal.Inc()
	t.logger.Warn().
		Dur("cooldown", cooldown).
		Time("cooldown_until", until).
		Msg("Admin site rate limited - cooldown recorded")

	return nil
}

// Wait blocks while a shared cooldown is active, at most the tracker's max
// wait. Redis errors are logged and do not block the request.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}

	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Cooldown state unavailable - not waiting")
		return nil
	}

	wait := state.Remaining(time.Now())
	if wait <= 0 {
		return nil
	}
	if wait > t.maxWait {
		wait = t.maxWait
	}

	rateLimitWaitsTotal.Inc()
	rateLimitWaitSeconds.Observe(wait.Seconds())
	t.logger.Debug().Dur("wait", wait).Msg("Waiting for shared cooldown")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
