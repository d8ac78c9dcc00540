package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrOutOfOrder is returned for an event the run's order does not allow.
	ErrOutOfOrder = errors.New("event out of order")

	// ErrClosed is returned for events emitted after the terminal event.
	ErrClosed = errors.New("event stream closed")
)

// Guard enforces the order of one run's events:
//
//	log*  progress*  init-table  (update-rows progress)*  progress?  done
//
// with log events allowed anywhere before the end and error allowed in
// place of done at any point. Exactly one terminal event passes; everything
// after it is rejected.
type Guard struct {
	next   Emitter
	logger zerolog.Logger

	mu       sync.Mutex
	initSent bool
	finished bool
}

// NewGuard wraps next.
func NewGuard(next Emitter) *Guard {
	return &Guard{
		next:   next,
		logger: log.With().Str("component", "event-guard").Logger(),
	}
}

// Emit forwards e if the run's order allows it.
func (g *Guard) Emit(ctx context.Context, e Event) error {
	g.mu.Lock()
	if err := g.admit(e); err != nil {
		g.mu.Unlock()
		g.logger.Warn().Err(err).Str("event", string(e.Type)).Msg("Event rejected")
		return err
	}
	g.mu.Unlock()

	return g.next.Emit(ctx, e)
}

// Finished reports whether a terminal event has passed.
func (g *Guard) Finished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finished
}

func (g *Guard) admit(e Event) error {
	if g.finished {
		return ErrClosed
	}

	switch e.Type {
	case EventLog, EventProgress:
	case EventInitTable:
		if g.initSent {
			return fmt.Errorf("%w: second %s", ErrOutOfOrder, e.Type)
		}
		g.initSent = true
	case EventUpdateRows, EventDone:
		if !g.initSent {
			return fmt.Errorf("%w: %s before %s", ErrOutOfOrder, e.Type, EventInitTable)
		}
	case EventError:
	default:
		return fmt.Errorf("%w: unknown event %q", ErrOutOfOrder, e.Type)
	}

	if e.Terminal() {
		g.finished = true
	}
	return nil
}
