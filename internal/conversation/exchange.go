package conversation

import (
	"context"
	"strings"

	"VoidChat/internal/session"
)

// exchange is one user turn and its pending reply. The user message is
// written provisionally when the exchange opens; the reply is either
// committed as a model message or rolled back without touching history.
type exchange struct {
	sessionID string
	userText  string
	reply     strings.Builder
	chunks    int
}

func openExchange(ctx context.Context, store *session.Store, sessionID, text string) (*exchange, error) {
	ex := &exchange{sessionID: sessionID, userText: text}
	return ex, store.AppendMessage(ctx, sessionID, session.NewMessage(session.RoleUser, text))
}

func (ex *exchange) add(delta string) string {
	ex.reply.WriteString(delta)
	ex.chunks++
	return ex.reply.String()
}

func (ex *exchange) commit(ctx context.Context, store *session.Store) (string, error) {
	text := ex.reply.String()
	return text, store.AppendMessage(ctx, ex.sessionID, session.NewMessage(session.RoleModel, text))
}

func (ex *exchange) rollback() {
	ex.reply.Reset()
	ex.chunks = 0
}
