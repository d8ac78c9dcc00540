// Package scrape runs the two-phase consumer scrape: walk the list, then
// enrich every record with its permissions, reporting each step as an event.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/atlas-scraper/pkg/client"
	"github.com/Sternrassler/atlas-scraper/pkg/extract"
	"github.com/Sternrassler/atlas-scraper/pkg/logging"
	"github.com/Sternrassler/atlas-scraper/pkg/pagination"
	"github.com/Sternrassler/atlas-scraper/pkg/ratelimit"
	"github.com/Sternrassler/atlas-scraper/pkg/record"
	"github.com/Sternrassler/atlas-scraper/pkg/stream"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_runs_total",
		Help: "Finished scrape runs by outcome",
	}, []string{"outcome"})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scraper_runs_active",
		Help: "Scrape runs in progress",
	})
)

// ErrRunPanicked wraps a panic recovered from the run loop.
var ErrRunPanicked = errors.New("scrape failed unexpectedly")

const (
	outcomeDone      = "done"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// Config holds everything a run needs besides the credential.
type Config struct {
	Client     client.Config
	Pagination pagination.Config
	Retry      client.RetryConfig
	Extract    extract.Config

	// Extractor, when set, replaces the strategies built from Extract.
	Extractor *extract.Extractor
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Client:     client.DefaultConfig(),
		Pagination: pagination.DefaultConfig(),
		Retry:      client.DefaultRetryConfig(),
		Extract:    extract.DefaultConfig(),
	}
}

// Runner executes scrape runs. It is safe for concurrent use; every run has
// its own client, record set and paginator.
type Runner struct {
	config    Config
	tracker   *ratelimit.Tracker
	extractor *extract.Extractor
	logger    zerolog.Logger
}

// NewRunner creates a runner. tracker may be nil to disable the shared
// cooldown.
func NewRunner(cfg Config, tracker *ratelimit.Tracker) *Runner {
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = extract.FromConfig(cfg.Extract)
	}
	return &Runner{
		config:    cfg,
		tracker:   tracker,
		extractor: extractor,
		logger:    logging.NewLogger("scrape"),
	}
}

// Run scrapes all consumers visible to cookie, emitting
//
//	log* progress* init-table (update-rows progress)* progress(100) done
//
// or a single error event in place of the remaining sequence. The returned
// records are the final set; the error is the one reported to the session.
func (r *Runner) Run(ctx context.Context, runID, sessionID, cookie string, emitter stream.Emitter) ([]record.ListRecord, error) {
	logger := logging.RunLogger(r.logger, runID, sessionID)
	out := stream.NewGuard(emitter)
	progress := newProgressTracker(out)

	runsActive.Inc()
	defer runsActive.Dec()

	start := time.Now()
	logger.Info().Msg("Scrape run started")

	records, err := r.runSafely(ctx, cookie, out, progress, logger)
	if err != nil {
		outcome := outcomeError
		if ctx.Err() != nil {
			outcome = outcomeCancelled
		}
		runsTotal.WithLabelValues(outcome).Inc()

		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Scrape run failed")
		if !out.Finished() {
			// The run context may already be gone; the error event still
			// goes to the session if it is alive.
			out.Emit(context.WithoutCancel(ctx), stream.Error(userMessage(err)))
		}
		return records, err
	}

	runsTotal.WithLabelValues(outcomeDone).Inc()
	logger.Info().
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Scrape run complete")

	return records, nil
}

// runSafely turns a panic in the run loop into an error so that it ends the
// run like any other failure.
func (r *Runner) runSafely(ctx context.Context, cookie string, out stream.Emitter, progress *progressTracker, logger zerolog.Logger) (records []record.ListRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Scrape run panicked")
			records, err = nil, fmt.Errorf("%w: %v", ErrRunPanicked, p)
		}
	}()
	return r.run(ctx, cookie, out, progress, logger)
}

func (r *Runner) run(ctx context.Context, cookie string, out stream.Emitter, progress *progressTracker, logger zerolog.Logger) ([]record.ListRecord, error) {
	adminClient, err := client.New(r.config.Client, client.ParseSession(cookie), r.tracker)
	if err != nil {
		return nil, err
	}

	set := record.NewSet()

	// Phase 1: consumer list.
	if err := out.Emit(ctx, stream.Log("Fetching consumer list...")); err != nil {
		return nil, err
	}

	paginator := pagination.NewPaginator(adminClient, r.config.Pagination)
	for page, err := range paginator.Pages(ctx) {
		if err != nil {
			return nil, err
		}
		set.Append(page.Records...)

		msg := fmt.Sprintf("Fetched %d of %d consumers", set.Len(), page.Total)
		if err := out.Emit(ctx, stream.Log(msg)); err != nil {
			return nil, err
		}
		if err := progress.Report(ctx, page.Progress, msg); err != nil {
			return nil, err
		}
	}

	logger.Debug().Int("records", set.Len()).Msg("Consumer list complete")

	if err := out.Emit(ctx, stream.InitTable(set.Snapshot())); err != nil {
		return nil, err
	}

	// Phase 2: permissions.
	if set.Len() > 0 {
		msg := fmt.Sprintf("Fetching permissions for %d consumers...", set.Len())
		if err := out.Emit(ctx, stream.Log(msg)); err != nil {
			return nil, err
		}

		fetcher := client.NewFetcher(adminClient, r.extractor, r.config.Retry)
		batches := pagination.NewBatchFetcher(fetcher, r.config.Pagination)

		err := batches.Enrich(ctx, set, func(b pagination.BatchResult) error {
			if err := out.Emit(ctx, stream.UpdateRows(b.Updates)); err != nil {
				return err
			}
			status := fmt.Sprintf("Processed %d of %d consumers", b.Processed, b.Total)
			return progress.Report(ctx, b.Progress(), status)
		})
		if err != nil {
			return nil, err
		}
	}

	records := set.Snapshot()
	if err := progress.Complete(ctx, "Complete"); err != nil {
		return records, err
	}
	if err := out.Emit(ctx, stream.Done(records)); err != nil {
		return records, err
	}
	return records, nil
}

// userMessage is the text of the error event for err.
func userMessage(err error) string {
	switch {
	case errors.Is(err, client.ErrInvalidSession):
		return client.ErrInvalidSession.Error()
	case errors.Is(err, context.Canceled):
		return "Scrape cancelled"
	case errors.Is(err, ErrRunPanicked):
		return ErrRunPanicked.Error()
	default:
		return err.Error()
	}
}
