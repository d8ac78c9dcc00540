// Package testutil provides a mock admin site for scraper tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	listPath   = "/manage/consumers"
	detailPath = "/manage/consumers/"
)

// Consumer is a list row served by the mock.
type Consumer struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// MockAdmin is a configurable mock of the admin site's consumer list and
// detail pages.
type MockAdmin struct {
	server *httptest.Server

	mu             sync.RWMutex
	consumers      []Consumer
	listHandler    http.HandlerFunc
	detailHandlers map[string]http.HandlerFunc
	detailDelay    time.Duration
	listQueries    []url.Values
	detailCounts   map[string]int

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// NewMockAdmin creates a mock site serving n consumers with ids 1..n.
func NewMockAdmin(n int) *MockAdmin {
	m := &MockAdmin{
		consumers:      Consumers(n),
		detailHandlers: make(map[string]http.HandlerFunc),
		detailCounts:   make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestCount++
		m.LastRequestHeader = r.Header.Clone()
		m.mu.Unlock()

		switch {
		case r.URL.Path == listPath:
			m.serveList(w, r)
		case strings.HasPrefix(r.URL.Path, detailPath):
			m.serveDetail(w, r, strings.TrimPrefix(r.URL.Path, detailPath))
		default:
			http.NotFound(w, r)
		}
	}))

	return m
}

// Consumers builds n consumers with ids 1..n.
func Consumers(n int) []Consumer {
	out := make([]Consumer, n)
	for i := range out {
		out[i] = Consumer{
			ID:        i + 1,
			Name:      fmt.Sprintf("consumer-%03d", i+1),
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
		}
	}
	return out
}

// URL returns the mock server URL.
func (m *MockAdmin) URL() string {
	return m.server.URL
}

// ListURL returns the consumer list endpoint.
func (m *MockAdmin) ListURL() string {
	return m.server.URL + listPath
}

// DetailURLBase returns the prefix of detail page URLs.
func (m *MockAdmin) DetailURLBase() string {
	return m.server.URL + detailPath
}

// Close shuts down the mock server.
func (m *MockAdmin) Close() {
	m.server.Close()
}

// SetConsumers replaces the served consumers.
func (m *MockAdmin) SetConsumers(c []Consumer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers = c
}

// SetListHandler overrides the list endpoint.
func (m *MockAdmin) SetListHandler(h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listHandler = h
}

// SetDetailHandler overrides the detail page of one consumer.
func (m *MockAdmin) SetDetailHandler(id string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailHandlers[id] = h
}

// SetDetailResponse serves a fixed status and body for one consumer.
func (m *MockAdmin) SetDetailResponse(id string, status int, body string) {
	m.SetDetailHandler(id, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

// SetDetailDelay slows every detail response down.
func (m *MockAdmin) SetDetailDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailDelay = d
}

// ListQueries returns the query strings of all list requests in order.
func (m *MockAdmin) ListQueries() []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]url.Values, len(m.listQueries))
	copy(out, m.listQueries)
	return out
}

// DetailRequests returns how often the detail page of id was requested.
func (m *MockAdmin) DetailRequests(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detailCounts[id]
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAdmin) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// MaxConcurrentDetails returns the highest number of detail requests that
// were in flight at the same time.
func (m *MockAdmin) MaxConcurrentDetails() int {
	return int(m.maxInFlight.Load())
}

func (m *MockAdmin) serveList(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.listQueries = append(m.listQueries, r.URL.Query())
	handler := m.listHandler
	consumers := m.consumers
	m.mu.Unlock()

	if handler != nil {
		handler(w, r)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	WriteListPage(w, consumers, len(consumers), offset, limit)
}

func (m *MockAdmin) serveDetail(w http.ResponseWriter, r *http.Request, id string) {
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		prev := m.maxInFlight.Load()
		if cur <= prev || m.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	m.mu.Lock()
	m.detailCounts[id]++
	handler := m.detailHandlers[id]
	delay := m.detailDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if handler != nil {
		handler(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(StatePage(DefaultPermission(id))))
}

// WriteListPage writes the list envelope for consumers[offset:offset+limit]
// reporting total.
func WriteListPage(w http.ResponseWriter, consumers []Consumer, total, offset, limit int) {
	end := offset + limit
	if limit <= 0 || end > len(consumers) {
		end = len(consumers)
	}
	if offset > end {
		offset = end
	}

	page := map[string]any{
		"meta": map[string]any{
			"pagination": map[string]any{"total": total, "offset": offset, "limit": limit},
		},
		"data": consumers[offset:end],
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// DefaultPermission is the permission every consumer has unless overridden.
func DefaultPermission(id string) string {
	return "sightmap.consumer-" + id + ".read"
}

// StatePage renders a detail page embedding the initial state with the given
// permission names.
func StatePage(perms ...string) string {
	type perm struct {
		Name string `json:"name"`
	}
	list := make([]perm, len(perms))
	for i, p := range perms {
		list[i] = perm{Name: p}
	}
	state, _ := json.Marshal(map[string]any{
		"consumer": map[string]any{"permissions": list},
	})
	return `<!DOCTYPE html><html><head><title>Consumer</title></head><body><div id="app"></div>` +
		`<script>window.__INITIAL_STATE__ = ` + string(state) + `;</script></body></html>`
}

// LoginPage renders the page the site redirects to when the session is gone.
func LoginPage() string {
	return `<!DOCTYPE html><html><head><title>Login</title></head><body><form action="/login"></form></body></html>`
}

// RateLimitedPage is the body of a 429 response.
func RateLimitedPage() string {
	return `<!DOCTYPE html><html><head><title>Too Many Requests</title></head><body>Slow down</body></html>`
}
