package scrape

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrRunInProgress is returned when a session starts a second run.
var ErrRunInProgress = errors.New("scrape already in progress")

// ActiveRun is a run owned by a session.
type ActiveRun struct {
	ID        string
	SessionID string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the run's function has returned.
func (a *ActiveRun) Done() <-chan struct{} {
	return a.done
}

// Registry tracks at most one active run per session.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*ActiveRun
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*ActiveRun)}
}

// Start launches fn in its own goroutine under a new run id, unless the
// session already has a run. The run context derives from ctx and is
// cancelled by Cancel or when fn returns. A panic in fn is logged and ends
// the run.
func (r *Registry) Start(ctx context.Context, sessionID string, fn func(ctx context.Context, runID string)) (*ActiveRun, error) {
	r.mu.Lock()
	if _, ok := r.runs[sessionID]; ok {
		r.mu.Unlock()
		return nil, ErrRunInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &ActiveRun{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.runs[sessionID] = run
	r.mu.Unlock()

	go func() {
		defer close(run.done)
		defer r.remove(run)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Str("run_id", run.ID).
					Str("session_id", sessionID).
					Msg("Run goroutine panicked")
			}
		}()
		fn(runCtx, run.ID)
	}()

	return run, nil
}

// Active returns the session's run, if any.
func (r *Registry) Active(sessionID string) (*ActiveRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[sessionID]
	return run, ok
}

// Cancel cancels the session's run and reports whether there was one.
func (r *Registry) Cancel(sessionID string) bool {
	r.mu.Lock()
	run, ok := r.runs[sessionID]
	r.mu.Unlock()
	if ok {
		run.cancel()
	}
	return ok
}

// CancelAll cancels every active run.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		run.cancel()
	}
}

// Len returns the number of active runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *Registry) remove(run *ActiveRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[run.SessionID] == run {
		delete(r.runs, run.SessionID)
	}
}
