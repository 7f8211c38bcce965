package chatbot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoidChat/internal/backend"
	"VoidChat/internal/config"
	"VoidChat/internal/session"
	"VoidChat/internal/storage"
)

type fakeClient struct {
	chunks []string
	err    error
}

func (c *fakeClient) StreamChat(ctx context.Context, _ backend.ChatRequest) (*backend.Stream, error) {
	return backend.NewStream(ctx, func(ctx context.Context, emit func(string) error) error {
		for _, chunk := range c.chunks {
			if err := emit(chunk); err != nil {
				return err
			}
		}
		return c.err
	}), nil
}

func (c *fakeClient) Generate(context.Context, backend.GenerateRequest) (string, error) {
	return "Cosmic Hello", nil
}

type fakeLister struct {
	fakeClient
	models []backend.ModelInfo
}

func (l *fakeLister) ListModels(context.Context) ([]backend.ModelInfo, error) {
	return l.models, nil
}

func runREPL(t *testing.T, kv storage.KV, client backend.Client, input string) (*ChatBot, string) {
	t.Helper()

	var out bytes.Buffer
	cfg := config.Default()
	cb := assemble(cfg, deps{
		kv:     kv,
		client: client,
		in:     strings.NewReader(input),
		out:    &out,
	})
	require.NoError(t, cb.Run(context.Background()))
	cb.ctrl.Close()
	return cb, out.String()
}

func TestREPL_Conversation(t *testing.T) {
	cb, out := runREPL(t, storage.NewMemoryKV(), &fakeClient{chunks: []string{"Hi", " there"}}, "hello\n/history\n/quit\n")

	assert.Contains(t, out, config.WelcomeMessage)
	assert.Contains(t, out, "Void: Hi there\n")
	assert.Contains(t, out, "Sessions:")
	assert.Contains(t, out, "* 1. ")
	assert.Contains(t, out, "(2 messages)")
	assert.True(t, strings.HasSuffix(out, "Goodbye!\n"))

	sess, ok := cb.store.Active()
	require.True(t, ok)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "Hi there", sess.History[1].Text())
}

func TestREPL_StreamFailure(t *testing.T) {
	cb, out := runREPL(t, storage.NewMemoryKV(), &fakeClient{chunks: []string{"Hi"}, err: errors.New("reset")}, "hello\n")

	assert.Contains(t, out, "Void: Hi\n"+config.StreamErrorMsg)
	assert.NotContains(t, out, "Error: ")

	sess, ok := cb.store.Active()
	require.True(t, ok)
	require.Len(t, sess.History, 1)
	assert.Equal(t, session.RoleUser, sess.History[0].Role)
}

func TestREPL_SwitchAndDeleteByIndex(t *testing.T) {
	cb, _ := runREPL(t, storage.NewMemoryKV(), &fakeClient{}, "/new\n/history\n/switch 2\n")

	list := cb.store.List()
	require.Len(t, list, 2)
	assert.Equal(t, list[1].ID, cb.store.ActiveID(), "list is newest first, so 2 is the older session")

	cb, _ = runREPL(t, storage.NewMemoryKV(), &fakeClient{}, "/new\n/history\n/delete 1\n")
	assert.Len(t, cb.store.List(), 1)
}

func TestREPL_IndexFollowsPrintedList(t *testing.T) {
	// /new reorders the sessions after /history printed them; 1 still means
	// the session printed first
	cb, _ := runREPL(t, storage.NewMemoryKV(), &fakeClient{}, "/history\n/new\n/switch 1\n")

	list := cb.store.List()
	require.Len(t, list, 2)
	assert.Equal(t, list[1].ID, cb.store.ActiveID())

	// without a listing a number is taken as an id
	_, out := runREPL(t, storage.NewMemoryKV(), &fakeClient{}, "/switch 1\n")
	assert.Contains(t, out, session.ErrNotFound.Error())
}

func TestREPL_CommandErrors(t *testing.T) {
	_, out := runREPL(t, storage.NewMemoryKV(), &fakeClient{}, "/switch\n/delete session_9\n/bogus\n/models\n")

	assert.Contains(t, out, "Error: usage: /switch <n|id>")
	assert.Contains(t, out, session.ErrNotFound.Error())
	assert.Contains(t, out, "unknown command: /bogus")
	assert.Contains(t, out, "model listing is only available for the ollama backend")
}

func TestREPL_Models(t *testing.T) {
	client := &fakeLister{models: []backend.ModelInfo{
		{Name: "llama3:latest", Size: 4 * 1024 * 1024 * 1024},
		{Name: "mistral:7b", Size: 1024 * 1024 * 1024},
	}}
	_, out := runREPL(t, storage.NewMemoryKV(), client, "/models\n")

	assert.Contains(t, out, "1. llama3:latest - 4.00 GB (current)")
	assert.Contains(t, out, "2. mistral:7b - 1.00 GB\n")
}

func TestREPL_Help(t *testing.T) {
	_, out := runREPL(t, storage.NewMemoryKV(), &fakeClient{}, "/help\n")
	for _, cmd := range []string{"/new", "/history", "/switch", "/delete", "/models", "/quit"} {
		assert.Contains(t, out, cmd)
	}
}

func TestREPL_HistorySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	kv, err := storage.InitDB(path)
	require.NoError(t, err)
	runREPL(t, kv, &fakeClient{chunks: []string{"Hi there"}}, "hello\n")
	require.NoError(t, kv.Close())

	kv, err = storage.InitDB(path)
	require.NoError(t, err)
	defer kv.Close()
	_, out := runREPL(t, kv, &fakeClient{}, "")

	assert.Contains(t, out, "You: hello\n")
	assert.Contains(t, out, "Void: Hi there\n")
	assert.NotContains(t, out, config.WelcomeMessage)
}

func TestAssemble_Serve(t *testing.T) {
	cfg := config.Default()
	cfg.Serve = true
	cb := assemble(cfg, deps{kv: storage.NewMemoryKV(), client: &fakeClient{}})
	defer cb.ctrl.Close()

	assert.NotNil(t, cb.server)
	assert.Nil(t, cb.repl)
}

func TestNewChatBot(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Backend = config.BackendOllama
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.DBPath = filepath.Join(dir, "voidchat.db")

	cb, err := NewChatBot(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteKV{}, cb.kv)
	assert.IsType(t, &backend.OllamaClient{}, cb.client)
	assert.NotNil(t, cb.repl.models)
	require.NoError(t, cb.Close())

	cfg.Backend = config.BackendGemini
	cfg.APIKey = "test-key"
	cfg.Ephemeral = true
	cb, err = NewChatBot(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryKV{}, cb.kv)
	assert.IsType(t, &backend.GeminiClient{}, cb.client)
	assert.Nil(t, cb.repl.models)
	require.NoError(t, cb.Close())
}
