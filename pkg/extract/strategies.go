package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

// LoginMarker identifies the admin site's login page.
const LoginMarker = "<title>Login</title>"

// LoginRedirect detects a detail request that was bounced to the login page.
type LoginRedirect struct{}

func (LoginRedirect) Name() string { return "login_redirect" }

func (LoginRedirect) Extract(body string) (string, bool) {
	if strings.Contains(body, LoginMarker) {
		return record.SessionExpired, true
	}
	return "", false
}

// DefaultStateVariable is the global the admin pages bootstrap from.
const DefaultStateVariable = "__INITIAL_STATE__"

// InitialState reads the consumer's permissions from the JSON object a page
// assigns to window.<Variable>.
type InitialState struct {
	assignment *regexp.Regexp
}

// NewInitialState creates the strategy for the named global.
func NewInitialState(variable string) InitialState {
	return InitialState{
		assignment: regexp.MustCompile(`window\.` + regexp.QuoteMeta(variable) + `\s*=\s*`),
	}
}

func (InitialState) Name() string { return "initial_state" }

type initialState struct {
	Consumer *struct {
		Permissions *[]struct {
			Name string `json:"name"`
		} `json:"permissions"`
	} `json:"consumer"`
}

func (s InitialState) Extract(body string) (string, bool) {
	for _, script := range scriptTexts(body) {
		if v, ok := s.decode(script); ok {
			return v, true
		}
	}
	// Not every response is a well-formed document; try the raw body too.
	return s.decode(body)
}

func (s InitialState) decode(text string) (string, bool) {
	loc := s.assignment.FindStringIndex(text)
	if loc == nil {
		return "", false
	}

	// The decoder stops after one JSON value, so trailing script and nested
	// "};" sequences inside string literals do not matter.
	var state initialState
	if err := json.NewDecoder(strings.NewReader(text[loc[1]:])).Decode(&state); err != nil {
		return "", false
	}
	if state.Consumer == nil || state.Consumer.Permissions == nil {
		return "", false
	}

	names := make([]string, 0, len(*state.Consumer.Permissions))
	for _, p := range *state.Consumer.Permissions {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		return record.NoPermissionsAssigned, true
	}
	return strings.Join(names, record.Delimiter), true
}

func scriptTexts(body string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if text := sel.Text(); strings.Contains(text, "window.") {
			out = append(out, text)
		}
	})
	return out
}

// DefaultTokenPrefixes are the product namespaces permission names live in.
var DefaultTokenPrefixes = []string{"sightmap", "unitmap"}

// Tokens scans the raw body for dotted permission identifiers of the form
// prefix.segment.segment.
type Tokens struct {
	pattern *regexp.Regexp
}

// NewTokens creates the strategy for the given namespace prefixes.
func NewTokens(prefixes ...string) Tokens {
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return Tokens{
		pattern: regexp.MustCompile(`(?:` + strings.Join(quoted, "|") + `)\.[\w-]+\.[\w-]+`),
	}
}

func (Tokens) Name() string { return "tokens" }

func (t Tokens) Extract(body string) (string, bool) {
	matches := t.pattern.FindAllString(body, -1)
	if len(matches) == 0 {
		return "", false
	}

	seen := make(map[string]struct{}, len(matches))
	unique := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		unique = append(unique, m)
	}
	return strings.Join(unique, record.Delimiter), true
}
