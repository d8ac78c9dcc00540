// Package record defines the consumer records harvested from the admin list
// endpoint and the id-indexed collection a scrape run mutates.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Permission values a record may hold at rest.
const (
	// Loading marks a record whose detail page has not been fetched yet.
	Loading = "..."

	// SessionExpired is returned when the detail page is a login redirect.
	SessionExpired = "Session Expired"

	// NoPermissionsAssigned means the embedded state listed zero permissions.
	NoPermissionsAssigned = "No Permissions Assigned"

	// NoPermissionsFound means no strategy matched anything.
	NoPermissionsFound = "No Permissions Found"

	// ExtractionFailed is the terminal marker after retries are exhausted.
	ExtractionFailed = "Extraction Failed"

	// Delimiter joins individual permission tokens.
	Delimiter = " | "
)

// ID is an opaque record identifier. The admin API emits numeric ids but the
// value is never interpreted, so it is kept as text.
type ID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("record id: empty value")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("record id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integer ids back as numbers so clients see the shape the
// admin API produced.
func (id ID) MarshalJSON() ([]byte, error) {
	if isCanonicalInt(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isCanonicalInt(s string) bool {
	if s == "" || len(s) > 18 {
		return false
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return false
	}
	if s[0] == '+' {
		return false
	}
	digits := s
	if s[0] == '-' {
		digits = s[1:]
	}
	return digits == "0" || digits[0] != '0'
}

// ListRecord is one consumer row.
type ListRecord struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	CreatedAt   string `json:"created_at"`
	Permissions string `json:"permissions"`
}

// Update is the {id, permissions} pair emitted per enriched record.
type Update struct {
	ID          ID     `json:"id"`
	Permissions string `json:"permissions"`
}

// Page is one page of the list endpoint after envelope validation.
type Page struct {
	Total   int
	Records []ListRecord
}

// IsTerminal reports whether a permissions value is a final state, i.e. not
// the loading sentinel.
func IsTerminal(permissions string) bool {
	return permissions != Loading
}

// IsFailure reports whether a permissions value marks a row the dashboard
// shows as failed.
func IsFailure(permissions string) bool {
	return permissions == ExtractionFailed || permissions == SessionExpired
}
