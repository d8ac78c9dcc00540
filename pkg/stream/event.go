// Package stream defines the events a scrape run reports to its session and
// guards their order.
package stream

import (
	"context"

	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

// EventType names an event on the wire.
type EventType string

const (
	EventLog        EventType = "log"
	EventProgress   EventType = "progress"
	EventInitTable  EventType = "init-table"
	EventUpdateRows EventType = "update-rows"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one message of a run.
type Event struct {
	Type    EventType
	Payload any
}

// ProgressPayload is the payload of a progress event.
type ProgressPayload struct {
	Percent float64 `json:"percent"`
	Status  string  `json:"status"`
}

// Terminal reports whether e ends a run.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func Log(msg string) Event {
	return Event{Type: EventLog, Payload: msg}
}

func Progress(percent float64, status string) Event {
	return Event{Type: EventProgress, Payload: ProgressPayload{Percent: percent, Status: status}}
}

// InitTable announces the full record set before enrichment starts.
func InitTable(records []record.ListRecord) Event {
	if records == nil {
		records = []record.ListRecord{}
	}
	return Event{Type: EventInitTable, Payload: records}
}

// UpdateRows carries the results of one batch.
func UpdateRows(updates []record.Update) Event {
	if updates == nil {
		updates = []record.Update{}
	}
	return Event{Type: EventUpdateRows, Payload: updates}
}

// Done carries the final record set.
func Done(records []record.ListRecord) Event {
	if records == nil {
		records = []record.ListRecord{}
	}
	return Event{Type: EventDone, Payload: records}
}

func Error(msg string) Event {
	return Event{Type: EventError, Payload: msg}
}

// Emitter delivers events to a session.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e Event) error

func (f EmitterFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}
