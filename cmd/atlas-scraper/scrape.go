package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/Sternrassler/atlas-scraper/pkg/export"
	"github.com/Sternrassler/atlas-scraper/pkg/filter"
	"github.com/Sternrassler/atlas-scraper/pkg/logging"
	"github.com/Sternrassler/atlas-scraper/pkg/record"
	"github.com/Sternrassler/atlas-scraper/pkg/scrape"
	"github.com/Sternrassler/atlas-scraper/pkg/stream"
)

// newScrapeCommand returns the scrape subcommand.
func newScrapeCommand() *cli.Command {
	return &cli.Command{
		Name:  "scrape",
		Usage: "Run one scrape and export the result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "cookie",
				Usage:   "Cookie header of a logged-in admin session",
				Sources: cli.EnvVars("ATLAS_COOKIE"),
			},
			&cli.StringSliceFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "Filter rule column:operator:value (repeatable, rules are ANDed)",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: csv, json or tsv",
				Value: string(export.FormatCSV),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file (- for stdout); the format's extension is added when missing",
				Value:   "-",
			},
		},
		Action: runScrape,
	}
}

func runScrape(ctx context.Context, cmd *cli.Command) error {
	cookie := strings.TrimSpace(cmd.String("cookie"))
	if cookie == "" {
		return fmt.Errorf("--cookie or ATLAS_COOKIE is required")
	}
	rules, err := filter.ParseAll(cmd.StringSlice("filter"))
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tracker, closeTracker := newTracker(ctx, cfg.Redis)
	defer closeTracker()

	runner := scrape.NewRunner(cfg.RunConfig(), tracker)
	logger := logging.NewLogger("cli")

	records, err := runner.Run(ctx, uuid.NewString(), "", cookie, logEmitter(logger))
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}

	filtered := filter.Apply(records, rules)
	logger.Info().
		Int("records", len(records)).
		Int("exported", len(filtered)).
		Int("failed", countFailures(filtered)).
		Str("format", string(format)).
		Msg("Writing export")

	return writeOutput(cmd.String("output"), cmd.Root().Writer, format, filtered)
}

// logEmitter reports run events through the logger instead of a session.
func logEmitter(logger zerolog.Logger) stream.Emitter {
	return stream.EmitterFunc(func(_ context.Context, e stream.Event) error {
		switch e.Type {
		case stream.EventLog:
			logger.Info().Msg(fmt.Sprint(e.Payload))
		case stream.EventProgress:
			p := e.Payload.(stream.ProgressPayload)
			logger.Info().Float64("percent", p.Percent).Msg(p.Status)
		case stream.EventUpdateRows:
			for _, u := range e.Payload.([]record.Update) {
				logger.Debug().Str("record_id", string(u.ID)).Str("permissions", u.Permissions).Msg("Row updated")
			}
		case stream.EventError:
			logger.Error().Msg(fmt.Sprint(e.Payload))
		}
		return nil
	})
}

func countFailures(records []record.ListRecord) int {
	n := 0
	for _, r := range records {
		if record.IsFailure(r.Permissions) {
			n++
		}
	}
	return n
}

func writeOutput(path string, stdout io.Writer, format export.Format, records []record.ListRecord) error {
	if path == "" || path == "-" {
		if stdout == nil {
			stdout = os.Stdout
		}
		return export.Write(stdout, format, records)
	}

	if filepath.Ext(path) == "" {
		path += "." + format.Extension()
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := export.Write(f, format, records); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
