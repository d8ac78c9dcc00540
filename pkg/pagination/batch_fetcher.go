package pagination

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_batches_total",
		Help: "Total number of detail batches completed",
	})

	fetchPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_fetch_panics_total",
		Help: "Detail fetches that panicked and were marked failed",
	})
)

// DetailFetcher resolves one record id to its permissions value.
// *client.Fetcher implements it.
type DetailFetcher interface {
	FetchWithRetry(ctx context.Context, id record.ID) string
}

// BatchResult is the outcome of one completed batch.
type BatchResult struct {
	// Index is the zero-based batch number.
	Index int

	// Updates holds exactly one entry per record of the batch, in set order.
	Updates []record.Update

	Processed int
	Total     int
}

// Progress is the run progress after this batch: 10 + 90 * processed/total.
func (r BatchResult) Progress() float64 {
	if r.Total <= 0 {
		return 100
	}
	return 10 + 90*float64(r.Processed)/float64(r.Total)
}

// BatchFetcher enriches a record set in sequential, bounded batches.
type BatchFetcher struct {
	fetcher DetailFetcher
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher(fetcher DetailFetcher, cfg Config) *BatchFetcher {
	return &BatchFetcher{
		fetcher: fetcher,
		config:  cfg.withDefaults(),
		logger:  log.With().Str("component", "batch-fetcher").Logger(),
	}
}

// Enrich fetches the permissions of every record in set, Concurrency records
// at a time, applying each batch's results by id before calling onBatch.
// It stops with the context error if the run is cancelled between batches,
// or with the first error onBatch returns.
func (bf *BatchFetcher) Enrich(ctx context.Context, set *record.Set, onBatch func(BatchResult) error) error {
	start := time.Now()
	total := set.Len()
	size := bf.config.Concurrency

	bf.logger.Info().
		Int("records", total).
		Int("batch_size", size).
		Msg("Starting detail enrichment")

	processed := 0
	for index, from := 0, 0; from < total; index, from = index+1, from+size {
		if from > 0 && bf.config.BatchDelay > 0 {
			if err := sleep(ctx, bf.config.BatchDelay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ids := set.IDs(from, from+size)
		updates := bf.fetchBatch(ctx, ids)
		set.Apply(updates)
		processed += len(ids)
		batchesTotal.Inc()

		if onBatch != nil {
			err := onBatch(BatchResult{
				Index:     index,
				Updates:   updates,
				Processed: processed,
				Total:     total,
			})
			if err != nil {
				return err
			}
		}
	}

	bf.logger.Info().
		Int("records", processed).
		Dur("duration", time.Since(start)).
		Msg("Detail enrichment complete")

	return nil
}

// fetchBatch fetches all ids concurrently; each goroutine owns one slot. A
// fetch that panics resolves its slot to record.ExtractionFailed.
func (bf *BatchFetcher) fetchBatch(ctx context.Context, ids []record.ID) []record.Update {
	updates := make([]record.Update, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id record.ID) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					fetchPanicsTotal.Inc()
					bf.logger.Error().
						Interface("panic", p).
						Str("record_id", string(id)).
						Msg("Detail fetch panicked")
					updates[i] = record.Update{ID: id, Permissions: record.ExtractionFailed}
				}
			}()
			updates[i] = record.Update{
				ID:          id,
				Permissions: bf.fetcher.FetchWithRetry(ctx, id),
			}
		}(i, id)
	}
	wg.Wait()

	return updates
}
