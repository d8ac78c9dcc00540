package pagination

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

var pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "scraper_pages_fetched_total",
	Help: "Total number of consumer list pages fetched",
})

// ErrPaginatorUsed is returned when Pages is called a second time.
var ErrPaginatorUsed = errors.New("paginator already used")

// Config holds list and batch fetching configuration.
type Config struct {
	// Limit is the list page size.
	Limit int

	// PageDelay is the pause between two list requests.
	PageDelay time.Duration

	// Concurrency is the number of detail pages fetched per batch.
	Concurrency int

	// BatchDelay is the pause between two batches.
	BatchDelay time.Duration
}

// DefaultConfig returns the pacing the admin site tolerates.
func DefaultConfig() Config {
	return Config{
		Limit:       100,
		PageDelay:   250 * time.Millisecond,
		Concurrency: 2,
		BatchDelay:  time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Limit <= 0 {
		c.Limit = d.Limit
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	return c
}

// ListSource fetches one page of the consumer list. *client.Client
// implements it.
type ListSource interface {
	ListPage(ctx context.Context, offset, limit int) (record.Page, error)
}

// State is the paginator's position in its lifecycle.
type State int

const (
	StateFetchingFirst State = iota
	StateFetchingNext
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFetchingFirst:
		return "fetching_first"
	case StateFetchingNext:
		return "fetching_next"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Page is one fetched list page.
type Page struct {
	Records []record.ListRecord
	Offset  int
	Total   int

	// Progress is the list phase progress after this page, in [0, 10].
	Progress float64
}

// Paginator walks the consumer list once.
type Paginator struct {
	source ListSource
	config Config
	logger zerolog.Logger
	used   atomic.Bool

	mu      sync.Mutex
	state   State
	total   int
	fetched int
}

// NewPaginator creates a paginator over source.
func NewPaginator(source ListSource, cfg Config) *Paginator {
	return &Paginator{
		source: source,
		config: cfg.withDefaults(),
		logger: log.With().Str("component", "paginator").Logger(),
		state:  StateFetchingFirst,
	}
}

// State returns the current state.
func (p *Paginator) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Total returns the total reported by the first page, and whether it is known yet.
func (p *Paginator) Total() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, p.state != StateFetchingFirst
}

// Pages returns an iterator over the list pages. Iteration stops after the
// first error, after an empty page, or once offset reaches the total, so at
// most ceil(total/limit) pages are requested. The iterator can be ranged
// over only once; later calls yield ErrPaginatorUsed.
func (p *Paginator) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if !p.used.CompareAndSwap(false, true) {
			yield(Page{}, ErrPaginatorUsed)
			return
		}

		offset := 0
		for {
			if offset > 0 && p.config.PageDelay > 0 {
				if err := sleep(ctx, p.config.PageDelay); err != nil {
					p.setState(StateFailed)
					yield(Page{}, err)
					return
				}
			}

			res, err := p.source.ListPage(ctx, offset, p.config.Limit)
			if err != nil {
				p.setState(StateFailed)
				p.logger.Warn().Err(err).Int("offset", offset).Msg("List page fetch failed")
				yield(Page{}, err)
				return
			}
			pagesFetchedTotal.Inc()

			page := p.advance(offset, res)
			offset += p.config.Limit

			p.logger.Debug().
				Int("offset", page.Offset).
				Int("records", len(page.Records)).
				Int("total", page.Total).
				Msg("List page fetched")

			done := len(res.Records) == 0 || offset >= page.Total
			if done {
				p.setState(StateDone)
			}
			if !yield(page, nil) || done {
				return
			}
		}
	}
}

func (p *Paginator) advance(offset int, res record.Page) Page {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateFetchingFirst {
		p.total = res.Total
		p.state = StateFetchingNext
	}
	p.fetched += len(res.Records)

	return Page{
		Records:  res.Records,
		Offset:   offset,
		Total:    p.total,
		Progress: listProgress(p.fetched, p.total),
	}
}

func (p *Paginator) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// listProgress maps fetched/total onto the list phase share of [0, 10].
func listProgress(fetched, total int) float64 {
	if total <= 0 {
		return 10
	}
	ratio := float64(fetched) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	return ratio * 10
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
