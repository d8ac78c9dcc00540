// Package ratelimit shares a 429 cooldown across scrape runs. When the admin
// site answers Too Many Requests, the Retry-After window is stored in Redis
// and every run waits it out before its next request, so concurrent sessions
// do not keep hammering a server that already pushed back.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// Redis keys for cooldown state storage.
const (
	RedisKeyCooldownUntil = "scraper:rate_limit:cooldown_until"
	RedisKeyHits          = "scraper:rate_limit:hits"
	RedisKeyLastUpdate    = "scraper:rate_limit:last_update"
)

const (
	// DefaultCooldown applies when a 429 carries no usable Retry-After.
	DefaultCooldown = 5 * time.Second

	// MaxCooldown caps any Retry-After the server sends.
	MaxCooldown = 60 * time.Second
)

// CooldownState is the shared rate limit state.
type CooldownState struct {
	// CooldownUntil is when requests may resume. Zero when no cooldown is set.
	CooldownUntil time.Time `json:"cooldown_until"`

	// Hits counts 429 responses observed since the key was created.
	Hits int64 `json:"hits"`

	// LastUpdate is when a 429 was last recorded.
	LastUpdate time.Time `json:"last_update"`
}

// IsCoolingDown reports whether requests should wait at now.
func (s *CooldownState) IsCoolingDown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// Remaining returns how long the cooldown still lasts at now, or 0.
func (s *CooldownState) Remaining(now time.Time) time.Duration {
	d := s.CooldownUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads the Retry-After header as delta-seconds or an HTTP
// date. Missing or unparseable values yield DefaultCooldown; the result is
// clamped to (0, MaxCooldown].
func ParseRetryAfter(headers http.Header, now time.Time) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return DefaultCooldown
	}

	var d time.Duration
	if secs, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(raw); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultCooldown
	}

	if d <= 0 {
		return DefaultCooldown
	}
	if d > MaxCooldown {
		return MaxCooldown
	}
	return d
}
