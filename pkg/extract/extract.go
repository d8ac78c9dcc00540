// Package extract recovers a consumer's permission list from the HTML of its
// detail page.
//
// Extraction is an ordered list of strategies. The first strategy that
// produces a value wins; later strategies never run. The default order is:
//
//  1. LoginRedirect: the page is the login form, the session is gone.
//  2. InitialState: the page embeds window.__INITIAL_STATE__ = {...}; the
//     consumer.permissions[].name values are joined with " | ".
//  3. Tokens: raw scan for dotted permission identifiers such as
//     sightmap.units.read, de-duplicated in first-seen order.
//
// If nothing matched and the response was a 429, Extract returns
// ErrRateLimited so the caller can retry. Otherwise the result is
// record.NoPermissionsFound. Extraction itself never fails.
package extract

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

// ErrRateLimited signals that nothing could be extracted from a 429 response.
var ErrRateLimited = errors.New("rate limited")

// Strategy recovers a permissions value from a page body.
type Strategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string
	// Extract returns the value and true when the strategy applies.
	Extract(body string) (string, bool)
}

// Result is a successful extraction together with the strategy that
// produced it.
type Result struct {
	Value    string
	Strategy string
}

// StrategyNone labels results where no strategy matched.
const StrategyNone = "none"

// Extractor applies strategies in order.
type Extractor struct {
	strategies []Strategy
}

// New creates an extractor with the given strategies in priority order.
func New(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// Config selects the page markers the default strategies look for.
type Config struct {
	// StateVariable is the window global holding the page state.
	StateVariable string

	// TokenPrefixes are the namespaces of dotted permission identifiers.
	TokenPrefixes []string
}

// DefaultConfig returns the markers of the admin site's consumer pages.
func DefaultConfig() Config {
	return Config{
		StateVariable: DefaultStateVariable,
		TokenPrefixes: append([]string(nil), DefaultTokenPrefixes...),
	}
}

// FromConfig returns the default strategy order for cfg. Empty fields fall
// back to their defaults.
func FromConfig(cfg Config) *Extractor {
	if cfg.StateVariable == "" {
		cfg.StateVariable = DefaultStateVariable
	}
	var prefixes []string
	for _, p := range cfg.TokenPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		prefixes = DefaultTokenPrefixes
	}

	return New(
		LoginRedirect{},
		NewInitialState(cfg.StateVariable),
		NewTokens(prefixes...),
	)
}

// Default returns the extractor for the admin site's consumer pages.
func Default() *Extractor {
	return FromConfig(DefaultConfig())
}

// Strategies returns the configured strategy names in order.
func (e *Extractor) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Match runs the strategies against body. status is the HTTP status the body
// was served with.
func (e *Extractor) Match(body string, status int) (Result, error) {
	for _, s := range e.strategies {
		if v, ok := s.Extract(body); ok {
			return Result{Value: v, Strategy: s.Name()}, nil
		}
	}

	if status == http.StatusTooManyRequests {
		return Result{}, ErrRateLimited
	}

	return Result{Value: record.NoPermissionsFound, Strategy: StrategyNone}, nil
}

// Extract is Match without the strategy name.
func (e *Extractor) Extract(body string, status int) (string, error) {
	res, err := e.Match(body, status)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}
