package client

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/atlas-scraper/internal/testutil"
	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

// scriptedSource replays a fixed sequence of responses and then repeats the
// last one.
type scriptedSource struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	resp DetailResponse
	err  error
}

func (s *scriptedSource) DetailPage(ctx context.Context, id record.ID) (DetailResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i].resp, s.responses[i].err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ok(body string) scriptedResponse {
	return scriptedResponse{resp: DetailResponse{StatusCode: http.StatusOK, Body: body}}
}

func status(code int, body string) scriptedResponse {
	return scriptedResponse{resp: DetailResponse{StatusCode: code, Body: body}}
}

func failure(class ErrorClass) scriptedResponse {
	return scriptedResponse{err: &HTTPError{StatusCode: 500, ErrorClass: class, URL: "test"}}
}

var fastRetry = RetryConfig{MaxRetries: 2, Delay: time.Millisecond}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", config.MaxRetries)
	}
	if config.Delay != 2*time.Second {
		t.Errorf("Delay = %v, want 2s", config.Delay)
	}
}

func TestFetchWithRetry(t *testing.T) {
	statePage := testutil.StatePage("sightmap.a.read", "unitmap.b.write")

	tests := []struct {
		name      string
		responses []scriptedResponse
		want      string
		wantCalls int
	}{
		{
			name:      "first attempt succeeds",
			responses: []scriptedResponse{ok(statePage)},
			want:      "sightmap.a.read | unitmap.b.write",
			wantCalls: 1,
		},
		{
			name:      "session expired is not retried",
			responses: []scriptedResponse{ok(testutil.LoginPage())},
			want:      record.SessionExpired,
			wantCalls: 1,
		},
		{
			name:      "no permissions found is final",
			responses: []scriptedResponse{ok("<html><body>nothing here</body></html>")},
			want:      record.NoPermissionsFound,
			wantCalls: 1,
		},
		{
			name:      "server error then success",
			responses: []scriptedResponse{failure(ErrorClassServer), ok(statePage)},
			want:      "sightmap.a.read | unitmap.b.write",
			wantCalls: 2,
		},
		{
			name:      "rate limited then success",
			responses: []scriptedResponse{status(http.StatusTooManyRequests, testutil.RateLimitedPage()), ok(statePage)},
			want:      "sightmap.a.read | unitmap.b.write",
			wantCalls: 2,
		},
		{
			name:      "rate limited page with tokens is extracted",
			responses: []scriptedResponse{status(http.StatusTooManyRequests, "sightmap.x.read")},
			want:      "sightmap.x.read",
			wantCalls: 1,
		},
		{
			name:      "server errors exhaust retries",
			responses: []scriptedResponse{failure(ErrorClassServer)},
			want:      record.ExtractionFailed,
			wantCalls: 3,
		},
		{
			name:      "network errors exhaust retries",
			responses: []scriptedResponse{failure(ErrorClassNetwork)},
			want:      record.ExtractionFailed,
			wantCalls: 3,
		},
		{
			name:      "rate limit exhausts retries",
			responses: []scriptedResponse{status(http.StatusTooManyRequests, testutil.RateLimitedPage())},
			want:      record.ExtractionFailed,
			wantCalls: 3,
		},
		{
			name:      "client error is not retried",
			responses: []scriptedResponse{failure(ErrorClassClient)},
			want:      record.ExtractionFailed,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &scriptedSource{responses: tt.responses}
			f := NewFetcher(source, nil, fastRetry)

			got := f.FetchWithRetry(context.Background(), "42")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, source.Calls())
		})
	}
}

func TestFetchWithRetry_MaxRetries(t *testing.T) {
	for _, retries := range []int{0, 1, 4} {
		source := &scriptedSource{responses: []scriptedResponse{failure(ErrorClassServer)}}
		f := NewFetcher(source, nil, RetryConfig{MaxRetries: retries, Delay: time.Millisecond})

		assert.Equal(t, record.ExtractionFailed, f.FetchWithRetry(context.Background(), "1"))
		assert.Equal(t, retries+1, source.Calls(), "max retries %d", retries)
	}
}

func TestFetchWithRetry_WaitsBetweenAttempts(t *testing.T) {
	source := &scriptedSource{responses: []scriptedResponse{failure(ErrorClassServer)}}
	f := NewFetcher(source, nil, RetryConfig{MaxRetries: 2, Delay: 30 * time.Millisecond})

	start := time.Now()
	f.FetchWithRetry(context.Background(), "1")
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestFetchWithRetry_Cancelled(t *testing.T) {
	source := &scriptedSource{responses: []scriptedResponse{failure(ErrorClassServer)}}
	f := NewFetcher(source, nil, RetryConfig{MaxRetries: 5, Delay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := f.FetchWithRetry(ctx, "1")

	assert.Equal(t, record.ExtractionFailed, got)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, source.Calls())
}

func TestFetchWithRetry_AgainstMockSite(t *testing.T) {
	mock := testutil.NewMockAdmin(2)
	defer mock.Close()

	calls := 0
	var mu sync.Mutex
	mock.SetDetailHandler("2", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(testutil.StatePage()))
	})

	c := newTestClient(t, mock)
	f := NewFetcher(c, nil, fastRetry)

	require.Equal(t, testutil.DefaultPermission("1"), f.FetchWithRetry(context.Background(), "1"))
	require.Equal(t, record.NoPermissionsAssigned, f.FetchWithRetry(context.Background(), "2"))
	assert.Equal(t, 2, mock.DetailRequests("2"))
}
