// Package conversation drives chat turns between the session store, the
// remote backend and a presenter.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"VoidChat/internal/backend"
	"VoidChat/internal/config"
	"VoidChat/internal/session"
)

var (
	// ErrBusy rejects a submission while another one is in flight.
	ErrBusy = errors.New("a message is already being answered")

	// ErrStreamFailed marks a submission whose reply could not be obtained.
	// The user has already been shown config.StreamErrorMsg.
	ErrStreamFailed = errors.New("stream failed")
)

// Options configures a Controller.
type Options struct {
	PersonaInstruction string
	RequestTimeout     time.Duration
	TitleTimeout       time.Duration

	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Controller runs one submission at a time against the active session.
//
// An in-flight reply is pinned to the session it was submitted from:
// switching or creating sessions mid-stream is allowed, the reply is still
// committed to its origin session, and it is only rendered while that
// session remains active.
type Controller struct {
	store     *session.Store
	client    backend.Client
	titles    *TitleSummarizer
	presenter Presenter
	opts      Options

	logger      *slog.Logger
	tracer      trace.Tracer
	submissions metric.Int64Counter
	failures    metric.Int64Counter
	chunks      metric.Int64Counter

	mu    sync.Mutex
	state State

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// NewController wires a controller. Call Start before the first submission.
func NewController(store *session.Store, client backend.Client, titles *TitleSummarizer, presenter Presenter, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("conversation")
	}
	if opts.Meter == nil {
		opts.Meter = metricnoop.NewMeterProvider().Meter("conversation")
	}

	c := &Controller{
		store:     store,
		client:    client,
		titles:    titles,
		presenter: presenter,
		opts:      opts,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}
	c.submissions = c.counter("chat.submissions", "Messages submitted")
	c.failures = c.counter("chat.failures", "Submissions that ended in a stream failure")
	c.chunks = c.counter("chat.stream.chunks", "Streamed chunks received")
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c
}

func (c *Controller) counter(name, desc string) metric.Int64Counter {
	counter, err := c.opts.Meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c.logger.Warn("failed to create counter", "name", name, "error", err)
		counter, _ = metricnoop.NewMeterProvider().Meter("conversation").Int64Counter(name)
	}
	return counter
}

// State returns the current submission state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.presenter.StateChanged(s)
}

// acquire moves Idle to Sending; it reports false if a submission is in flight.
func (c *Controller) acquire() bool {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return false
	}
	c.state = StateSending
	c.mu.Unlock()
	c.presenter.StateChanged(StateSending)
	return true
}

// persisted downgrades storage write failures to warnings. ErrNotFound is
// passed through: it means the caller referenced a session that is gone.
func (c *Controller) persisted(err error, msg string, args ...any) error {
	if err == nil || errors.Is(err, session.ErrNotFound) {
		return err
	}
	c.logger.Warn(msg, append(args, "error", err)...)
	return nil
}

// Start loads persisted sessions and renders the active one, creating a new
// chat when none is active.
func (c *Controller) Start(ctx context.Context) error {
	c.store.Load(ctx)
	if c.store.ActiveID() == "" {
		return c.NewChat(ctx)
	}
	return c.render()
}

// Refresh re-renders the active session and the history list.
func (c *Controller) Refresh() error {
	return c.render()
}

func (c *Controller) render() error {
	sess, ok := c.store.Active()
	if !ok {
		return fmt.Errorf("render: %w", session.ErrNotFound)
	}
	c.presenter.SessionLoaded(sess)
	c.presenter.HistoryChanged(c.store.List())
	return nil
}

// NewChat creates an empty session and makes it active.
func (c *Controller) NewChat(ctx context.Context) error {
	id, err := c.store.Create(ctx)
	if err := c.persisted(err, "failed to persist new session", "session_id", id); err != nil {
		return err
	}
	c.logger.Info("created new session", "session_id", id)
	return c.render()
}

// Switch makes session id active.
func (c *Controller) Switch(ctx context.Context, id string) error {
	err := c.store.SwitchActive(ctx, id)
	if err := c.persisted(err, "failed to persist active session", "session_id", id); err != nil {
		return err
	}
	c.logger.Info("switched session", "session_id", id)
	return c.render()
}

// Delete removes session id. If no session remains a new chat is started.
func (c *Controller) Delete(ctx context.Context, id string) error {
	err := c.store.Delete(ctx, id)
	if err := c.persisted(err, "failed to persist session deletion", "session_id", id); err != nil {
		return err
	}
	c.logger.Info("deleted session", "session_id", id)
	if c.store.ActiveID() == "" {
		return c.NewChat(ctx)
	}
	return c.render()
}

// Submit sends text to the active session and streams the reply. Blank text
// or a missing active session make it a no-op.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	sessionID := c.store.ActiveID()
	if sessionID == "" {
		return nil
	}
	if !c.acquire() {
		return ErrBusy
	}

	ctx, span := c.tracer.Start(ctx, "chat_submit",
		trace.WithAttributes(attribute.String("session_id", sessionID)),
	)
	defer span.End()
	c.submissions.Add(ctx, 1)

	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	prior, err := c.store.Get(sessionID)
	if err != nil {
		c.setState(StateIdle)
		return err
	}
	firstExchange := !prior.HasModelReply()

	ex, err := openExchange(ctx, c.store, sessionID, text)
	if err := c.persisted(err, "failed to persist user message", "session_id", sessionID); err != nil {
		c.setState(StateIdle)
		return err
	}
	if c.isActive(sessionID) {
		c.presenter.UserMessage(sessionID, text)
	}

	stream, err := c.client.StreamChat(ctx, backend.ChatRequest{
		History:           prior.History,
		Text:              text,
		SystemInstruction: c.opts.PersonaInstruction,
	})
	if err != nil {
		return c.fail(ctx, span, ex, err)
	}
	defer stream.Close()

	c.setState(StateStreaming)
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.fail(ctx, span, ex, err)
		}
		partial := ex.add(delta)
		c.chunks.Add(ctx, 1)
		if c.isActive(sessionID) {
			c.presenter.Partial(sessionID, partial)
		}
	}

	if strings.TrimSpace(ex.reply.String()) == "" {
		// an empty model turn would be replayed with every later request
		return c.fail(ctx, span, ex, backend.ErrEmptyResponse)
	}

	reply, err := ex.commit(ctx, c.store)
	if err := c.persisted(err, "failed to persist model message", "session_id", sessionID); err != nil {
		// the origin session was deleted mid-stream
		c.logger.Warn("dropping reply for missing session", "session_id", sessionID)
		c.setState(StateIdle)
		return err
	}
	span.SetAttributes(attribute.Int("chunks", ex.chunks))
	c.logger.Info("exchange completed", "session_id", sessionID, "chunks", ex.chunks, "reply_length", len(reply))

	if c.isActive(sessionID) {
		c.presenter.ModelMessage(sessionID, reply)
	}
	c.presenter.HistoryChanged(c.store.List())

	if firstExchange {
		c.summarizeAsync(sessionID, text, reply)
	}

	c.setState(StateIdle)
	return nil
}

func (c *Controller) isActive(sessionID string) bool {
	return c.store.ActiveID() == sessionID
}

// fail rolls back the pending reply and surfaces the fixed error string.
func (c *Controller) fail(ctx context.Context, span trace.Span, ex *exchange, err error) error {
	ex.rollback()
	c.failures.Add(ctx, 1)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Error("chat stream failed", "session_id", ex.sessionID, "error", err)

	c.setState(StateFailed)
	if c.isActive(ex.sessionID) {
		c.presenter.Error(ex.sessionID, config.StreamErrorMsg)
	}
	c.setState(StateIdle)
	return fmt.Errorf("%w: %w", ErrStreamFailed, err)
}

func (c *Controller) summarizeAsync(sessionID, userText, modelText string) {
	if c.titles == nil || c.bgCtx.Err() != nil {
		return
	}

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		ctx := c.bgCtx
		if c.opts.TitleTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.TitleTimeout)
			defer cancel()
		}

		title := c.titles.Summarize(ctx, userText, modelText)
		if c.bgCtx.Err() != nil {
			// shutting down; keep the placeholder
			return
		}

		err := c.store.SetTitle(context.WithoutCancel(ctx), sessionID, title)
		if err := c.persisted(err, "failed to persist session title", "session_id", sessionID); err != nil {
			c.logger.Warn("session vanished before its title arrived", "session_id", sessionID)
			return
		}
		c.logger.Info("session titled", "session_id", sessionID, "title", title)
		c.presenter.HistoryChanged(c.store.List())
	}()
}

// Wait blocks until background title jobs have finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// Close cancels background title jobs and waits for them.
func (c *Controller) Close() {
	c.bgCancel()
	c.bg.Wait()
}
