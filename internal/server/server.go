// Package server exposes the chat over a WebSocket so a browser UI can
// drive the same controller as the terminal.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"VoidChat/internal/conversation"
)

// Command types accepted from clients.
const (
	CommandSubmit  = "submit"
	CommandNewChat = "new_chat"
	CommandSwitch  = "switch"
	CommandDelete  = "delete"
	CommandSync    = "sync"
)

// Command is a client-to-server message.
type Command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Server serves /ws and /healthz.
type Server struct {
	ctrl     *conversation.Controller
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// submissions outlive the connection that sent them
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// ErrClosed rejects commands that arrive after Close.
var ErrClosed = errors.New("server is shutting down")

// New creates a server. hub must be the presenter ctrl was built with.
func New(ctrl *conversation.Controller, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctrl:   ctrl,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close disconnects every peer, cancels in-flight submissions and waits
// for them. Commands received afterwards are rejected.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.hub.closeAll()
	s.pending.Wait()
}

// track registers one unit of pending work unless the server is closed.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pending.Add(1)
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"peers":  s.hub.Count(),
		"state":  s.ctrl.State().String(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade websocket", "error", err)
		return
	}

	if s.ctx.Err() != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ErrClosed.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	connID := uuid.Must(uuid.NewV7()).String()
	p := &peer{
		id:     connID,
		conn:   conn,
		logger: s.logger.With("conn_id", connID),
	}
	s.hub.add(p)
	defer func() {
		s.hub.remove(connID)
		conn.Close()
		p.logger.Info("connection closed")
	}()
	p.logger.Info("new connection", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("read failed", "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			p.logger.Debug("invalid command", "error", err)
			s.reply(p, "Invalid message format")
			continue
		}
		s.dispatch(p, cmd)
	}
}

func (s *Server) dispatch(p *peer, cmd Command) {
	p.logger.Debug("command received", "type", cmd.Type)

	if !s.track() {
		s.reply(p, ErrClosed.Error())
		return
	}
	defer s.pending.Done()

	var err error
	switch cmd.Type {
	case CommandSubmit:
		s.submit(p, cmd.Text)
		return
	case CommandNewChat:
		err = s.ctrl.NewChat(s.ctx)
	case CommandSwitch:
		err = s.ctrl.Switch(s.ctx, cmd.ID)
	case CommandDelete:
		err = s.ctrl.Delete(s.ctx, cmd.ID)
	case CommandSync:
		err = s.ctrl.Refresh()
	default:
		s.reply(p, "Unknown message type")
		return
	}
	if err != nil {
		p.logger.Error("command failed", "type", cmd.Type, "id", cmd.ID, "error", err)
		s.reply(p, err.Error())
	}
}

// submit runs in the background so the connection keeps reading while the
// reply streams.
func (s *Server) submit(p *peer, text string) {
	if !s.track() {
		s.reply(p, ErrClosed.Error())
		return
	}
	go func() {
		defer s.pending.Done()

		err := s.ctrl.Submit(s.ctx, text)
		switch {
		case err == nil:
		case errors.Is(err, conversation.ErrStreamFailed):
			// already broadcast as an error event
		case errors.Is(err, conversation.ErrBusy):
			s.reply(p, err.Error())
		default:
			p.logger.Error("submit failed", "error", err)
			s.reply(p, err.Error())
		}
	}()
}

// reply sends an error event to a single peer.
func (s *Server) reply(p *peer, message string) {
	if err := p.send(Event{Type: EventError, Error: message}); err != nil {
		p.logger.Warn("failed to send error", "error", err)
	}
}
