package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"VoidChat/internal/storage"
)

// Storage keys of the two persisted entries.
const (
	SessionsKey = "chatSessions"
	ActiveKey   = "currentSessionId"
)

// ErrNotFound is returned when an operation names a session that does not exist.
var ErrNotFound = errors.New("session not found")

// Store owns every session and the active-session pointer. Every mutation is
// flushed to the backing KV before it returns.
type Store struct {
	kv     storage.KV
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	sessions  map[string]*Session
	activeID  string
	lastStamp int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source used for session ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store backed by kv. Call Load to read persisted state.
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with the persisted one. Missing or
// malformed entries leave the store empty; Load never fails.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*Session)
	s.activeID = ""
	s.lastStamp = 0

	raw, ok, err := s.kv.Get(ctx, SessionsKey)
	if err != nil {
		s.logger.Warn("failed to read sessions, starting empty", "error", err)
		return
	}
	if !ok {
		return
	}

	var sessions map[string]*Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		s.logger.Warn("malformed sessions entry, starting empty", "error", err)
		return
	}
	for id, sess := range sessions {
		if sess == nil {
			continue
		}
		sess.ID = id
		if sess.History == nil {
			sess.History = []Message{}
		}
		s.sessions[id] = sess
		if stamp, ok := parseID(id); ok && stamp > s.lastStamp {
			s.lastStamp = stamp
		}
	}

	activeID, ok, err := s.kv.Get(ctx, ActiveKey)
	if err != nil {
		s.logger.Warn("failed to read active session id", "error", err)
		return
	}
	if ok {
		if _, exists := s.sessions[activeID]; exists {
			s.activeID = activeID
		}
	}

	s.logger.Info("sessions loaded", "count", len(s.sessions), "active_session_id", s.activeID)
}

// Create inserts a new empty session, makes it active and returns its id.
func (s *Store) Create(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.now().UnixMilli()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp

	id := formatID(stamp)
	s.sessions[id] = &Session{
		ID:      id,
		Title:   DefaultTitle,
		History: []Message{},
	}
	s.activeID = id

	return id, s.persistLocked(ctx)
}

// SwitchActive marks id as the active session.
func (s *Store) SwitchActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("switch to %s: %w", id, ErrNotFound)
	}
	s.activeID = id
	return s.persistLocked(ctx)
}

// AppendMessage appends msg to the history of session id.
func (s *Store) AppendMessage(ctx context.Context, id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("append to %s: %w", id, ErrNotFound)
	}
	sess.History = append(sess.History, msg.clone())
	return s.persistLocked(ctx)
}

// SetTitle overwrites the title of session id.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("set title of %s: %w", id, ErrNotFound)
	}
	sess.Title = title
	return s.persistLocked(ctx)
}

// Delete removes session id. When the active session is removed the most
// recent remaining session becomes active.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(s.sessions, id)

	if s.activeID == id {
		s.activeID = ""
		for other := range s.sessions {
			if s.activeID == "" || compareIDs(other, s.activeID) > 0 {
				s.activeID = other
			}
		}
	}
	return s.persistLocked(ctx)
}

// Get returns a copy of session id.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return sess.clone(), nil
}

// Active returns a copy of the active session, if any.
func (s *Store) Active() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return Session{}, false
	}
	return s.sessions[s.activeID].clone(), true
}

// ActiveID returns the active session id or "" when none is active.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// List returns all sessions, most recent first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Summary, 0, len(s.sessions))
	for id, sess := range s.sessions {
		list = append(list, Summary{
			ID:           id,
			Title:        sess.Title,
			MessageCount: len(sess.History),
			Active:       id == s.activeID,
		})
	}
	slices.SortFunc(list, func(a, b Summary) int {
		return compareIDs(b.ID, a.ID)
	})
	return list
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.sessions)
	if err != nil {
		return fmt.Errorf("persist sessions: %w", err)
	}
	err = s.kv.Set(ctx,
		storage.Entry{Key: SessionsKey, Value: string(data)},
		storage.Entry{Key: ActiveKey, Value: s.activeID},
	)
	if err != nil {
		return fmt.Errorf("persist sessions: %w", err)
	}
	return nil
}
