package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/atlas-scraper/pkg/scrape"
	"github.com/Sternrassler/atlas-scraper/pkg/stream"
)

// session is one WebSocket connection. It owns at most one run and a single
// ordered outbound queue shared by responses and run events.
type session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   *stream.Queue[[]byte]
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(ctx context.Context, conn *websocket.Conn, srv *Server) *session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	return &session{
		id:     id,
		conn:   conn,
		server: srv,
		send:   stream.NewQueue[[]byte](srv.opts.SendBuffer),
		logger: srv.logger.With().Str("session_id", id).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Emit implements stream.Emitter: events are framed and queued in order.
// It blocks while the queue is full.
func (s *session) Emit(ctx context.Context, e stream.Event) error {
	frame, err := NewEventFrame(string(e.Type), s.id, e.Payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	data, err := MarshalFrame(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", e.Type, err)
	}
	return s.send.Push(ctx, data)
}

// serve runs the session until the connection closes. The write pump runs in
// its own goroutine; closing the connection cancels the session's run.
func (s *session) serve() {
	defer s.close()

	go s.writePump()
	s.readPump()
}

func (s *session) close() {
	if s.server.registry.Cancel(s.id) {
		s.logger.Info().Msg("Connection closed - run cancelled")
	}
	s.send.Close()
	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "")
}

// readPump reads frames from the WS connection and dispatches them.
func (s *session) readPump() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug().Int("status", int(websocket.CloseStatus(err))).Msg("ws read closed")
			} else {
				s.logger.Debug().Err(err).Msg("ws read error")
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("ws unmarshal frame")
			continue
		}

		s.handleFrame(frame)
	}
}

func (s *session) handleFrame(frame Frame) {
	if frame.Type != FrameTypeRequest {
		s.logger.Debug().Str("type", string(frame.Type)).Msg("ws unknown frame type")
		return
	}

	switch frame.Method {
	case MethodStartScrape:
		s.handleStart(frame)
	case MethodCancelScrape:
		s.respond(frame.ID, true, CancelScrapeResult{Cancelled: s.server.registry.Cancel(s.id)}, "")
	default:
		s.respond(frame.ID, false, nil, "unknown method: "+string(frame.Method))
	}
}

func (s *session) handleStart(frame Frame) {
	var params StartScrapeParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		s.respond(frame.ID, false, nil, "invalid params")
		return
	}
	if strings.TrimSpace(params.Cookie) == "" {
		s.respond(frame.ID, false, nil, "cookie is required")
		return
	}

	// The run waits for its start response to be queued so that the
	// response precedes every event of the run.
	ready := make(chan struct{})
	run, err := s.server.registry.Start(s.ctx, s.id, func(ctx context.Context, runID string) {
		select {
		case <-ready:
		case <-ctx.Done():
			return
		}
		if err := s.server.runner.Run(ctx, runID, s.id, params.Cookie, s); err != nil {
			s.logger.Debug().Err(err).Str("run_id", runID).Msg("Run ended with error")
		}
	})
	if err != nil {
		if errors.Is(err, scrape.ErrRunInProgress) {
			ev := s.logger.Warn()
			if active, ok := s.server.registry.Active(s.id); ok {
				ev = ev.Str("run_id", active.ID).Dur("running_for", time.Since(active.StartedAt))
			}
			ev.Msg("Start rejected - run in progress")
		}
		s.respond(frame.ID, false, nil, err.Error())
		return
	}
	defer close(ready)

	s.logger.Info().Str("run_id", run.ID).Msg("Run started")
	s.respond(frame.ID, true, StartScrapeResult{RunID: run.ID, SessionID: s.id}, "")
}

func (s *session) respond(id string, ok bool, payload any, errMsg string) {
	f, err := NewResponseFrame(id, ok, payload, errMsg)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode response")
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal response")
		return
	}
	if err := s.send.Push(s.ctx, data); err != nil {
		s.logger.Debug().Err(err).Msg("response dropped - session closing")
	}
}

// writePump writes queued frames to the WS connection.
func (s *session) writePump() {
	for {
		select {
		case msg := <-s.send.Items():
			if err := s.conn.Write(s.ctx, websocket.MessageText, msg); err != nil {
				s.logger.Debug().Err(err).Msg("ws write failed")
				s.cancel()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
