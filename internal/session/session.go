package session

import "strings"

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// DefaultTitle is the placeholder title of a freshly created session.
const DefaultTitle = "New Chat"

// Part is one text segment of a message.
type Part struct {
	Text string `json:"text"`
}

// Message represents a single chat message
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewMessage builds a single-part message.
func NewMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// Text joins the message parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (m Message) clone() Message {
	parts := make([]Part, len(m.Parts))
	copy(parts, m.Parts)
	return Message{Role: m.Role, Parts: parts}
}

// Session represents a chat session
type Session struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	History []Message `json:"history"`
}

// HasModelReply reports whether any model message has been committed.
func (s *Session) HasModelReply() bool {
	for _, m := range s.History {
		if m.Role == RoleModel {
			return true
		}
	}
	return false
}

func (s *Session) clone() Session {
	history := make([]Message, len(s.History))
	for i, m := range s.History {
		history[i] = m.clone()
	}
	return Session{ID: s.ID, Title: s.Title, History: history}
}

// Summary is the history-list view of a session.
type Summary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
	Active       bool   `json:"active"`
}
