// Package metrics exposes the scraper's Prometheus metrics.
// All metrics are defined in the packages that own them (client, pagination,
// ratelimit, scrape) and register themselves via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gatherer is the source the metrics endpoint reads from.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - scraper_requests_total{endpoint, status} (Counter): admin site requests by endpoint (list, detail) and HTTP status
//   - scraper_request_duration_seconds{endpoint} (Histogram): request duration by endpoint
//   - scraper_errors_total{class} (Counter): failed requests by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - scraper_retries_total{error_class} (Counter): detail fetch retries by error class
//   - scraper_retry_exhausted_total{error_class} (Counter): detail fetches resolved to "Extraction Failed"
//   - scraper_extraction_outcomes_total{strategy} (Counter): which extraction strategy produced each row
//
// Pagination Metrics (pkg/pagination):
//   - scraper_pages_fetched_total (Counter): consumer list pages fetched
//   - scraper_batches_total (Counter): detail batches completed
//   - scraper_fetch_panics_total (Counter): detail fetches that panicked and were marked failed
//
// Cooldown Metrics (pkg/ratelimit):
//   - scraper_rate_limit_hits_total (Counter): 429 responses recorded as cooldowns
//   - scraper_rate_limit_waits_total (Counter): requests that waited out a cooldown
//   - scraper_rate_limit_wait_seconds (Histogram): time spent waiting
//
// Run Metrics (pkg/scrape):
//   - scraper_runs_total{outcome} (Counter): finished runs by outcome (done, error, cancelled)
//   - scraper_runs_active (Gauge): runs in progress
//
// Example Prometheus Queries:
//
//   # Share of rows that failed extraction
//   sum(rate(scraper_extraction_outcomes_total{strategy="failed"}[15m])) /
//   sum(rate(scraper_extraction_outcomes_total[15m]))
//
//   # Runs ending in an error
//   rate(scraper_runs_total{outcome="error"}[1h])
//
//   # P95 detail page latency
//   histogram_quantile(0.95, rate(scraper_request_duration_seconds_bucket{endpoint="detail"}[5m]))
