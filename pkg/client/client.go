// Package client talks to the admin site: it fetches pages of the consumer
// list, fetches individual consumer detail pages, and retries detail fetches
// with a fixed backoff until a permissions value can be extracted.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/atlas-scraper/pkg/ratelimit"
	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

// Prometheus metrics for admin site requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_requests_total",
		Help: "Total admin site requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scraper_request_duration_seconds",
		Help:    "Admin site request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_errors_total",
		Help: "Total admin site request errors by class",
	}, []string{"class"})
)

const (
	endpointList   = "list"
	endpointDetail = "detail"
)

// DefaultUserAgent mimics a desktop browser; the admin site serves its
// regular pages to it.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds the client configuration.
type Config struct {
	// ListURL is the consumer list endpoint.
	ListURL string

	// DetailURLBase is prefixed to a record id to build its detail URL.
	DetailURLBase string

	// UserAgent header sent with every request.
	UserAgent string

	// Sort and SearchField are passed through to the list endpoint.
	Sort        string
	SearchField string

	// Timeout per request.
	Timeout time.Duration
}

// DefaultConfig returns the configuration for the production admin site.
func DefaultConfig() Config {
	return Config{
		ListURL:       "https://sightmap.com/manage/consumers",
		DetailURLBase: "https://sightmap.com/manage/consumers/",
		UserAgent:     DefaultUserAgent,
		Sort:          "name",
		SearchField:   "name",
		Timeout:       30 * time.Second,
	}
}

// DetailResponse is a fetched detail page.
type DetailResponse struct {
	StatusCode int
	Body       string
}

// Client is an admin site client bound to one session credential.
type Client struct {
	http    *resty.Client
	config  Config
	tracker *ratelimit.Tracker
	logger  zerolog.Logger
}

// New creates a client for the given session. tracker may be nil.
func New(cfg Config, session Session, tracker *ratelimit.Tracker) (*Client, error) {
	if cfg.ListURL == "" {
		return nil, fmt.Errorf("list url is required")
	}
	if cfg.DetailURLBase == "" {
		return nil, fmt.Errorf("detail url base is required")
	}
	if session.Cookie == "" {
		return nil, fmt.Errorf("session cookie is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeaders(session.headers(cfg.UserAgent))

	return &Client{
		http:    httpClient,
		config:  cfg,
		tracker: tracker,
		logger:  log.With().Str("component", "admin-client").Logger(),
	}, nil
}

type listEnvelope struct {
	Meta *struct {
		Pagination *struct {
			Total *int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// ListPage fetches one page of the consumer list. A response without the
// {meta:{pagination:{total}}, data} envelope yields ErrInvalidSession.
func (c *Client) ListPage(ctx context.Context, offset, limit int) (record.Page, error) {
	resp, err := c.get(ctx, endpointList, c.config.ListURL, map[string]string{
		"offset":       strconv.Itoa(offset),
		"limit":        strconv.Itoa(limit),
		"sort":         c.config.Sort,
		"search_field": c.config.SearchField,
	})
	if err != nil {
		return record.Page{}, err
	}

	if class := classifyStatus(resp.StatusCode()); class == ErrorClassServer || class == ErrorClassRateLimit {
		errorsTotal.WithLabelValues(string(class)).Inc()
		return record.Page{}, &HTTPError{
			StatusCode: resp.StatusCode(),
			ErrorClass: class,
			URL:        c.config.ListURL,
		}
	}

	var env listEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil || env.Meta == nil ||
		env.Meta.Pagination == nil || env.Meta.Pagination.Total == nil {
		c.logger.Warn().
			Int("status", resp.StatusCode()).
			Str("preview", preview(resp.Body())).
			Msg("Unexpected list response format")
		return record.Page{}, ErrInvalidSession
	}

	var records []record.ListRecord
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &records); err != nil {
			return record.Page{}, fmt.Errorf("decode list records: %w", err)
		}
	}

	return record.Page{
		Total:   *env.Meta.Pagination.Total,
		Records: records,
	}, nil
}

// DetailPage fetches the detail page of a record. Statuses below 500 are
// returned with their body; the caller decides what a 429 or a login page
// means. Network failures and 5xx responses are returned as *HTTPError.
func (c *Client) DetailPage(ctx context.Context, id record.ID) (DetailResponse, error) {
	target := c.config.DetailURLBase + url.PathEscape(string(id))

	resp, err := c.get(ctx, endpointDetail, target, nil)
	if err != nil {
		return DetailResponse{}, err
	}

	if classifyStatus(resp.StatusCode()) == ErrorClassServer {
		errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return DetailResponse{}, &HTTPError{
			StatusCode: resp.StatusCode(),
			ErrorClass: ErrorClassServer,
			URL:        target,
		}
	}

	return DetailResponse{
		StatusCode: resp.StatusCode(),
		Body:       string(resp.Body()),
	}, nil
}

// get performs a GET after waiting out any shared cooldown, and records a
// new cooldown when the site answers 429.
func (c *Client) get(ctx context.Context, endpoint, target string, query map[string]string) (*resty.Response, error) {
	if err := c.tracker.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for cooldown: %w", err)
	}

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s request: %w", endpoint, ctx.Err())
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Debug().Err(err).Str("url", target).Msg("Request failed")
		return nil, &HTTPError{ErrorClass: ErrorClassNetwork, URL: target, Err: err}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode())).Inc()

	if resp.StatusCode() == http.StatusTooManyRequests {
		if err := c.tracker.RecordRateLimit(ctx, resp.Header()); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record cooldown")
		}
	}

	return resp, nil
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
