package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"VoidChat/internal/backend"
	"VoidChat/internal/session"
	"VoidChat/internal/storage"
)

// stubClient is a scripted backend.Client.
type stubClient struct {
	mu sync.Mutex

	chunks  []string
	openErr error // returned by StreamChat
	midErr  error // returned after all chunks instead of completion
	gate    chan struct{}

	generate func(ctx context.Context, req backend.GenerateRequest) (string, error)

	streamCalls   int
	generateCalls int
	chatRequests  []backend.ChatRequest
}

func (s *stubClient) StreamChat(ctx context.Context, req backend.ChatRequest) (*backend.Stream, error) {
	s.mu.Lock()
	s.streamCalls++
	s.chatRequests = append(s.chatRequests, req)
	chunks, openErr, midErr, gate := s.chunks, s.openErr, s.midErr, s.gate
	s.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}
	return backend.NewStream(ctx, func(ctx context.Context, emit func(string) error) error {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, c := range chunks {
			if err := emit(c); err != nil {
				return err
			}
		}
		return midErr
	}), nil
}

func (s *stubClient) Generate(ctx context.Context, req backend.GenerateRequest) (string, error) {
	s.mu.Lock()
	s.generateCalls++
	gen := s.generate
	s.mu.Unlock()

	if gen == nil {
		return "Cosmic Hello", nil
	}
	return gen(ctx, req)
}

func (s *stubClient) calls() (stream, generate int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCalls, s.generateCalls
}

// recordingPresenter captures every presenter call.
type recordingPresenter struct {
	mu       sync.Mutex
	loaded   []session.Session
	lists    [][]session.Summary
	users    []string
	partials []string
	models   []string
	errors   []string
	states   []State
}

func (p *recordingPresenter) SessionLoaded(s session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = append(p.loaded, s)
}

func (p *recordingPresenter) HistoryChanged(list []session.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lists = append(p.lists, list)
}

func (p *recordingPresenter) UserMessage(_, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, text)
}

func (p *recordingPresenter) Partial(_, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partials = append(p.partials, text)
}

func (p *recordingPresenter) ModelMessage(_, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.models = append(p.models, text)
}

func (p *recordingPresenter) Error(_, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, message)
}

func (p *recordingPresenter) StateChanged(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *recordingPresenter) snapshot() recordingPresenter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return recordingPresenter{
		loaded:   append([]session.Session(nil), p.loaded...),
		lists:    append([][]session.Summary(nil), p.lists...),
		users:    append([]string(nil), p.users...),
		partials: append([]string(nil), p.partials...),
		models:   append([]string(nil), p.models...),
		errors:   append([]string(nil), p.errors...),
		states:   append([]State(nil), p.states...),
	}
}

type fixture struct {
	store     *session.Store
	client    *stubClient
	presenter *recordingPresenter
	ctrl      *Controller
}

func newFixture(t *testing.T, client *stubClient) *fixture {
	t.Helper()

	stamp := int64(1_700_000_000_000)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		stamp++
		return time.UnixMilli(stamp)
	}

	store := session.NewStore(storage.NewMemoryKV(), session.WithClock(clock))
	presenter := &recordingPresenter{}
	titles := NewTitleSummarizer(client, "title persona", nil, nil)
	ctrl := NewController(store, client, titles, presenter, Options{
		PersonaInstruction: "persona",
		RequestTimeout:     5 * time.Second,
		TitleTimeout:       5 * time.Second,
	})
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.Start(context.Background()))
	return &fixture{store: store, client: client, presenter: presenter, ctrl: ctrl}
}

func (f *fixture) history(t *testing.T, id string) []string {
	t.Helper()
	sess, err := f.store.Get(id)
	require.NoError(t, err)
	out := make([]string, len(sess.History))
	for i, m := range sess.History {
		out[i] = string(m.Role) + ":" + m.Text()
	}
	return out
}
