package client

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/atlas-scraper/pkg/extract"
	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_retries_total",
		Help: "Total number of detail fetch retries by error class",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_retry_exhausted_total",
		Help: "Total number of detail fetches that exhausted their retries by error class",
	}, []string{"error_class"})

	extractionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_extraction_outcomes_total",
		Help: "Detail extraction outcomes by winning strategy",
	}, []string{"strategy"})
)

// RetryConfig holds the configuration for detail fetch retries.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		Delay:      2 * time.Second,
	}
}

// DetailSource fetches a single detail page. *Client implements it.
type DetailSource interface {
	DetailPage(ctx context.Context, id record.ID) (DetailResponse, error)
}

// Fetcher resolves a record id to its permissions value, retrying transient
// failures.
type Fetcher struct {
	source    DetailSource
	extractor *extract.Extractor
	config    RetryConfig
	logger    zerolog.Logger
}

// NewFetcher creates a retrying fetcher. A nil extractor uses
// extract.Default().
func NewFetcher(source DetailSource, extractor *extract.Extractor, cfg RetryConfig) *Fetcher {
	if extractor == nil {
		extractor = extract.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Fetcher{
		source:    source,
		extractor: extractor,
		config:    cfg,
		logger:    log.With().Str("component", "detail-fetcher").Logger(),
	}
}

// FetchWithRetry fetches and extracts the permissions of id. It always
// resolves to a string: an extracted value, record.SessionExpired (never
// retried) or record.ExtractionFailed once MaxRetries+1 attempts have
// failed.
func (f *Fetcher) FetchWithRetry(ctx context.Context, id record.ID) string {
	var (
		value    string
		attempt  int
		errClass ErrorClass
	)

	operation := func() error {
		attempt++

		resp, err := f.source.DetailPage(ctx, id)
		if err != nil {
			errClass = Classify(err)
			if !shouldRetry(errClass) {
				return backoff.Permanent(err)
			}
			return err
		}

		res, err := f.extractor.Match(resp.Body, resp.StatusCode)
		if err != nil {
			errClass = ErrorClassRateLimit
			return &HTTPError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassRateLimit, URL: string(id), Err: err}
		}

		value = res.Value
		extractionOutcomesTotal.WithLabelValues(res.Strategy).Inc()
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.config.Delay), uint64(f.config.MaxRetries)),
		ctx,
	)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		retriesTotal.WithLabelValues(string(errClass)).Inc()
		f.logger.Warn().
			Err(err).
			Str("record_id", string(id)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Detail fetch failed - retrying")
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			errClass = ErrorClassCancelled
		}
		retryExhaustedTotal.WithLabelValues(string(errClass)).Inc()
		extractionOutcomesTotal.WithLabelValues("failed").Inc()
		f.logger.Error().
			Err(err).
			Str("record_id", string(id)).
			Int("attempts", attempt).
			Msg("Detail fetch failed permanently")
		return record.ExtractionFailed
	}

	if value == record.SessionExpired {
		f.logger.Warn().Str("record_id", string(id)).Msg("Detail page redirected to login - session expired")
	}

	return value
}
