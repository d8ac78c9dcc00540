package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestHTTPError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *HTTPError
		want string
	}{
		{
			name: "status only",
			err:  &HTTPError{StatusCode: 502, ErrorClass: ErrorClassServer, URL: "http://x/1"},
			want: "server error (status 502): http://x/1",
		},
		{
			name: "network",
			err:  &HTTPError{ErrorClass: ErrorClassNetwork, URL: "http://x/1", Err: errors.New("refused")},
			want: "network error: http://x/1: refused",
		},
		{
			name: "status and cause",
			err:  &HTTPError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, URL: "7", Err: errors.New("rate limited")},
			want: "rate_limit error (status 429): 7: rate limited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	err := fmt.Errorf("wrapped: %w", &HTTPError{ErrorClass: ErrorClassNetwork, Err: cause})

	if !errors.Is(err, cause) {
		t.Error("errors.Is() did not reach the cause")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{302, ""},
		{401, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.want {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ""},
		{"cancelled", context.Canceled, ErrorClassCancelled},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ErrorClassCancelled},
		{"http error", &HTTPError{ErrorClass: ErrorClassServer}, ErrorClassServer},
		{"wrapped http error", fmt.Errorf("x: %w", &HTTPError{ErrorClass: ErrorClassClient}), ErrorClassClient},
		{"unknown", errors.New("eof"), ErrorClassNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClassClient, false},
		{ErrorClassCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.want {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}
