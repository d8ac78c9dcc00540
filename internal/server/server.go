// Package server exposes scrape runs over a WebSocket, next to health and
// metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/atlas-scraper/pkg/logging"
	"github.com/Sternrassler/atlas-scraper/pkg/metrics"
	"github.com/Sternrassler/atlas-scraper/pkg/scrape"
	"github.com/Sternrassler/atlas-scraper/pkg/stream"
)

// Runner executes one scrape run. ScrapeRunner adapts a *scrape.Runner.
type Runner interface {
	Run(ctx context.Context, runID, sessionID, cookie string, emitter stream.Emitter) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, runID, sessionID, cookie string, emitter stream.Emitter) error

func (f RunnerFunc) Run(ctx context.Context, runID, sessionID, cookie string, emitter stream.Emitter) error {
	return f(ctx, runID, sessionID, cookie, emitter)
}

// ScrapeRunner adapts a *scrape.Runner to Runner.
func ScrapeRunner(r *scrape.Runner) Runner {
	return RunnerFunc(func(ctx context.Context, runID, sessionID, cookie string, emitter stream.Emitter) error {
		_, err := r.Run(ctx, runID, sessionID, cookie, emitter)
		return err
	})
}

// Options configures the server.
type Options struct {
	Addr string

	// StaticDir, when set, is served at /.
	StaticDir string

	// SendBuffer is the per-session outbound queue size.
	SendBuffer int

	ShutdownTimeout time.Duration
}

// Server is the scraper's HTTP server.
type Server struct {
	httpServer *http.Server
	runner     Runner
	registry   *scrape.Registry
	opts       Options
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// New creates a server.
func New(opts Options, runner Runner) *Server {
	if opts.SendBuffer < 0 {
		opts.SendBuffer = 0
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		runner:   runner,
		registry: scrape.NewRegistry(),
		opts:     opts,
		logger:   logging.NewLogger("server"),
		sessions: make(map[*session]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", s.handleWS)
	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown cancels all runs, closes all sessions and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Server shutting down")
	s.registry.CancelAll()

	s.mu.Lock()
	for sess := range s.sessions {
		sess.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sessions := len(s.sessions)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"sessions":    sessions,
		"active_runs": s.registry.Len(),
	})
}

// handleWS upgrades the connection and serves the session until it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard may be served from another origin
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws accept")
		return
	}
	conn.SetReadLimit(1 << 20)

	sess := newSession(r.Context(), conn, s)
	s.register(sess)
	defer s.unregister(sess)

	sess.serve()
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
	sess.logger.Info().Int("sessions", len(s.sessions)).Msg("ws client connected")
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
	sess.logger.Info().Int("sessions", len(s.sessions)).Msg("ws client disconnected")
}
