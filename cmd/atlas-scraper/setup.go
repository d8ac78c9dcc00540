package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/Sternrassler/atlas-scraper/internal/config"
	"github.com/Sternrassler/atlas-scraper/pkg/logging"
	"github.com/Sternrassler/atlas-scraper/pkg/ratelimit"
)

// loadConfig reads the configuration and sets up logging from it.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	lc := cfg.LoggerConfig()
	if cmd.Bool("debug") {
		lc.Level = logging.LevelDebug
	}
	logging.Setup(lc)

	return cfg, nil
}

// newTracker connects the shared cooldown tracker. Without a Redis address,
// or when Redis is unreachable, it returns a nil tracker and runs go
// without a shared cooldown.
func newTracker(ctx context.Context, cfg config.RedisConfig) (*ratelimit.Tracker, func()) {
	if cfg.Addr == "" {
		return nil, func() {}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable - shared cooldown disabled")
		redisClient.Close()
		return nil, func() {}
	}
	log.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")

	tracker := ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit"))
	if cfg.MaxWait > 0 {
		tracker.SetMaxWait(cfg.MaxWait)
	}
	return tracker, func() { redisClient.Close() }
}
