package conversation

import "VoidChat/internal/session"

// State is the lifecycle of a single submission.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Presenter renders controller output. Implementations must be safe for
// concurrent use: title updates arrive from a background goroutine.
type Presenter interface {
	// SessionLoaded replaces the visible conversation with s.
	SessionLoaded(s session.Session)

	// HistoryChanged re-renders the session list.
	HistoryChanged(list []session.Summary)

	// UserMessage shows the just-submitted user text.
	UserMessage(sessionID, text string)

	// Partial shows the model reply accumulated so far.
	Partial(sessionID, text string)

	// ModelMessage shows the finalized model reply.
	ModelMessage(sessionID, text string)

	// Error shows a user-visible inline error.
	Error(sessionID, message string)

	// StateChanged reports a submission state transition. Input should be
	// accepted only in StateIdle.
	StateChanged(state State)
}
