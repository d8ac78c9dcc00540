package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/Sternrassler/atlas-scraper/internal/server"
	"github.com/Sternrassler/atlas-scraper/pkg/scrape"
)

// newServeCommand returns the serve subcommand.
func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve scrape runs over WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Address to listen on",
			},
			&cli.StringFlag{
				Name:  "static-dir",
				Usage: "Directory served at / (the dashboard)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// CLI flags override config
	if cmd.IsSet("addr") {
		cfg.Server.Addr = cmd.String("addr")
	}
	if cmd.IsSet("static-dir") {
		cfg.Server.StaticDir = cmd.String("static-dir")
	}

	tracker, closeTracker := newTracker(ctx, cfg.Redis)
	defer closeTracker()

	runner := scrape.NewRunner(cfg.RunConfig(), tracker)
	srv := server.New(server.Options{
		Addr:            cfg.Server.Addr,
		StaticDir:       cfg.Server.StaticDir,
		SendBuffer:      cfg.Server.SendBuffer,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.ScrapeRunner(runner))

	log.Info().
		Str("list_url", cfg.Site.ListURL).
		Int("concurrency", cfg.Scrape.Concurrency).
		Bool("shared_cooldown", tracker != nil).
		Msg("Starting scraper server")

	return srv.ListenAndServe(ctx)
}
