package extract

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

func page(script string, rest string) string {
	return `<!DOCTYPE html><html><head><title>Consumer</title></head><body>` +
		`<script>` + script + `</script>` + rest + `</body></html>`
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		status       int
		want         string
		wantStrategy string
		wantErr      error
	}{
		{
			name:         "login page short-circuits everything",
			body:         `<html><head><title>Login</title></head><script>window.__INITIAL_STATE__ = {"consumer":{"permissions":[{"name":"a"}]}};</script> sightmap.units.read</html>`,
			status:       http.StatusOK,
			want:         record.SessionExpired,
			wantStrategy: "login_redirect",
		},
		{
			name:         "login page wins even on 429",
			body:         `<title>Login</title>`,
			status:       http.StatusTooManyRequests,
			want:         record.SessionExpired,
			wantStrategy: "login_redirect",
		},
		{
			name:         "embedded state joins names",
			body:         page(`window.__INITIAL_STATE__ = {"consumer":{"permissions":[{"name":"sightmap.units.read"},{"name":"sightmap.units.write"}]}};`, ""),
			status:       http.StatusOK,
			want:         "sightmap.units.read | sightmap.units.write",
			wantStrategy: "initial_state",
		},
		{
			name:         "embedded state with empty list",
			body:         page(`window.__INITIAL_STATE__ = {"consumer":{"permissions":[]}};`, `sightmap.should.not-be-used`),
			status:       http.StatusOK,
			want:         record.NoPermissionsAssigned,
			wantStrategy: "initial_state",
		},
		{
			name:         "embedded state survives nested terminators in strings",
			body:         page(`window.__INITIAL_STATE__ = {"note":"x};y","consumer":{"permissions":[{"name":"custom perm"}]}}; var other = 1;`, ""),
			status:       http.StatusOK,
			want:         "custom perm",
			wantStrategy: "initial_state",
		},
		{
			name:         "embedded state without permissions falls back to tokens",
			body:         page(`window.__INITIAL_STATE__ = {"consumer":{}};`, `<p>unitmap.maps.view</p>`),
			status:       http.StatusOK,
			want:         "unitmap.maps.view",
			wantStrategy: "tokens",
		},
		{
			name:         "malformed state falls back to tokens",
			body:         page(`window.__INITIAL_STATE__ = {consumer: broken};`, `sightmap.a.b sightmap.c-d.e_f sightmap.a.b`),
			status:       http.StatusOK,
			want:         "sightmap.a.b | sightmap.c-d.e_f",
			wantStrategy: "tokens",
		},
		{
			name:         "state outside script tags in a non-html body",
			body:         `window.__INITIAL_STATE__={"consumer":{"permissions":[{"name":"p1"}]}}`,
			status:       http.StatusOK,
			want:         "p1",
			wantStrategy: "initial_state",
		},
		{
			name:    "nothing matched on 429",
			body:    `<html><body>Too Many Requests</body></html>`,
			status:  http.StatusTooManyRequests,
			wantErr: ErrRateLimited,
		},
		{
			name:         "tokens still win on 429",
			body:         `sightmap.x.y`,
			status:       http.StatusTooManyRequests,
			want:         "sightmap.x.y",
			wantStrategy: "tokens",
		},
		{
			name:         "nothing matched",
			body:         `<html><body>nothing here, other.prefix.value</body></html>`,
			status:       http.StatusOK,
			want:         record.NoPermissionsFound,
			wantStrategy: StrategyNone,
		},
	}

	ex := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ex.Match(tt.body, tt.status)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, tt.wantStrategy, res.Strategy)

			got, err := ex.Extract(tt.body, tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractor_CustomStrategies(t *testing.T) {
	ex := New(NewTokens("acme"), LoginRedirect{})
	assert.Equal(t, []string{"tokens", "login_redirect"}, ex.Strategies())

	// Order is respected: tokens run before the login check here.
	got, err := ex.Extract(`<title>Login</title> acme.billing.read`, http.StatusOK)
	require.NoError(t, err)
	assert.Equal(t, "acme.billing.read", got)
}

func TestInitialState_CustomVariable(t *testing.T) {
	s := NewInitialState("__APP__")
	got, ok := s.Extract(page(`window.__APP__ = {"consumer":{"permissions":[{"name":"a"},{"name":""},{"name":"b"}]}};`, ""))
	require.True(t, ok)
	assert.Equal(t, "a | b", got)

	_, ok = s.Extract(page(`window.__INITIAL_STATE__ = {"consumer":{"permissions":[{"name":"a"}]}};`, ""))
	assert.False(t, ok)
}

func TestInitialState_NullPermissions(t *testing.T) {
	_, ok := NewInitialState(DefaultStateVariable).Extract(page(`window.__INITIAL_STATE__ = {"consumer":{"permissions":null}};`, ""))
	assert.False(t, ok)
}

func TestFromConfig(t *testing.T) {
	ex := FromConfig(Config{StateVariable: "__APP__", TokenPrefixes: []string{" acme ", ""}})
	assert.Equal(t, []string{"login_redirect", "initial_state", "tokens"}, ex.Strategies())

	got, err := ex.Extract(page(`window.__APP__ = {"consumer":{"permissions":[{"name":"x"}]}};`, ""), http.StatusOK)
	require.NoError(t, err)
	assert.Equal(t, "x", got)

	got, err = ex.Extract(`<p>acme.billing.read sightmap.units.read</p>`, http.StatusOK)
	require.NoError(t, err)
	assert.Equal(t, "acme.billing.read", got)
}

func TestFromConfig_EmptyUsesDefaults(t *testing.T) {
	got, err := FromConfig(Config{}).Extract(`<p>unitmap.units.read</p>`, http.StatusOK)
	require.NoError(t, err)
	assert.Equal(t, "unitmap.units.read", got)
}
