package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"VoidChat/internal/conversation"
	"VoidChat/internal/session"
)

const writeTimeout = 10 * time.Second

// Event types pushed to clients.
const (
	EventSession      = "session"
	EventHistory      = "history"
	EventUserMessage  = "user_message"
	EventPartial      = "partial"
	EventModelMessage = "model_message"
	EventError        = "error"
	EventState        = "state"
)

// Event is a server-to-client message.
type Event struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Text      string            `json:"text,omitempty"`
	Session   *session.Session  `json:"session,omitempty"`
	Sessions  []session.Summary `json:"sessions,omitempty"`
	State     string            `json:"state,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// peer is one connected websocket client.
type peer struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	// gorilla allows a single concurrent writer
	writeMu sync.Mutex
}

func (p *peer) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans controller output out to every connected peer. It implements
// conversation.Presenter.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	peers map[string]*peer
}

var _ conversation.Presenter = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, peers: make(map[string]*peer)}
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p.id] = p
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Debug("peer joined", "conn_id", p.id, "peers", n)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.peers, id)
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Debug("peer left", "conn_id", id, "peers", n)
}

// closeAll disconnects every peer.
func (h *Hub) closeAll() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*peer)
	h.mu.Unlock()

	for _, p := range peers {
		p.writeMu.Lock()
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		p.writeMu.Unlock()
		p.conn.Close()
	}
	h.logger.Debug("closed all peers", "peers", len(peers))
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if err := p.send(ev); err != nil {
			p.logger.Warn("dropping peer after failed write", "event", ev.Type, "error", err)
			h.remove(p.id)
			p.conn.Close()
		}
	}
}

func (h *Hub) SessionLoaded(s session.Session) {
	h.broadcast(Event{Type: EventSession, SessionID: s.ID, Session: &s})
}

func (h *Hub) HistoryChanged(list []session.Summary) {
	h.broadcast(Event{Type: EventHistory, Sessions: list})
}

func (h *Hub) UserMessage(sessionID, text string) {
	h.broadcast(Event{Type: EventUserMessage, SessionID: sessionID, Text: text})
}

func (h *Hub) Partial(sessionID, text string) {
	h.broadcast(Event{Type: EventPartial, SessionID: sessionID, Text: text})
}

func (h *Hub) ModelMessage(sessionID, text string) {
	h.broadcast(Event{Type: EventModelMessage, SessionID: sessionID, Text: text})
}

func (h *Hub) Error(sessionID, message string) {
	h.broadcast(Event{Type: EventError, SessionID: sessionID, Error: message})
}

func (h *Hub) StateChanged(state conversation.State) {
	h.broadcast(Event{Type: EventState, State: state.String()})
}
