package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{name: "number", input: `1234`, want: "1234"},
		{name: "string", input: `"abc-1"`, want: "abc-1"},
		{name: "numeric string", input: `"42"`, want: "42"},
		{name: "null", input: `null`, wantErr: true},
		{name: "object", input: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			err := json.Unmarshal([]byte(tt.input), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestID_MarshalJSON(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{id: "1234", want: `1234`},
		{id: "0", want: `0`},
		{id: "007", want: `"007"`},
		{id: "abc", want: `"abc"`},
		{id: "", want: `""`},
	}

	for _, tt := range tests {
		got, err := json.Marshal(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got), "id %q", tt.id)
	}
}

func TestListRecord_DecodeFromAPI(t *testing.T) {
	body := `{"id": 17, "name": "Acme", "created_at": "2024-03-01T10:00:00Z", "extra": true}`

	var r ListRecord
	require.NoError(t, json.Unmarshal([]byte(body), &r))

	assert.Equal(t, ID("17"), r.ID)
	assert.Equal(t, "Acme", r.Name)
	assert.Equal(t, "2024-03-01T10:00:00Z", r.CreatedAt)
	assert.Empty(t, r.Permissions)
}

func TestIsFailure(t *testing.T) {
	assert.True(t, IsFailure(ExtractionFailed))
	assert.True(t, IsFailure(SessionExpired))
	assert.False(t, IsFailure(NoPermissionsFound))
	assert.False(t, IsFailure("sightmap.a.b"))
	assert.False(t, IsTerminal(Loading))
	assert.True(t, IsTerminal(NoPermissionsAssigned))
}
