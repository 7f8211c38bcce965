// Package chatbot assembles the application: logging, telemetry, storage,
// the backend client and a presentation layer around one conversation
// controller.
package chatbot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"VoidChat/internal/backend"
	"VoidChat/internal/cache"
	"VoidChat/internal/config"
	"VoidChat/internal/conversation"
	"VoidChat/internal/server"
	"VoidChat/internal/session"
	"VoidChat/internal/storage"
	"VoidChat/internal/telemetry"
)

// titleCacheTTL bounds how long an identical opening exchange reuses its title.
const titleCacheTTL = 24 * time.Hour

// ChatBot represents the main application
type ChatBot struct {
	config config.Config
	kv     storage.KV
	store  *session.Store
	client backend.Client
	ctrl   *conversation.Controller
	logger *slog.Logger

	repl   *REPL
	server *server.Server

	closers []func() error
}

// deps are the pieces NewChatBot builds from the environment.
type deps struct {
	kv     storage.KV
	client backend.Client
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	in     io.Reader
	out    io.Writer
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(cfg config.Config) (*ChatBot, error) {
	logger, logCloser, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, cfg.Telemetry)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	kv, err := openKV(cfg)
	if err != nil {
		shutdown()
		logCloser.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	client := newClient(cfg, backend.Options{
		Logger: logger,
		Tracer: tracer,
		Meter:  meter,
	})

	cb := assemble(cfg, deps{
		kv:     kv,
		client: client,
		logger: logger,
		tracer: tracer,
		meter:  meter,
		in:     os.Stdin,
		out:    os.Stdout,
	})
	cb.closers = append(cb.closers,
		func() error { shutdown(); return nil },
		logCloser.Close,
	)
	return cb, nil
}

func openKV(cfg config.Config) (storage.KV, error) {
	if cfg.Ephemeral {
		return storage.NewMemoryKV(), nil
	}
	return storage.InitDB(cfg.DBPath)
}

func newClient(cfg config.Config, opts backend.Options) backend.Client {
	switch cfg.Backend {
	case config.BackendOllama:
		return backend.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, opts)
	default:
		return backend.NewGeminiClient(cfg.GeminiBaseURL, cfg.APIKey, cfg.Model, opts)
	}
}

// assemble wires the controller and its presentation layer.
func assemble(cfg config.Config, d deps) *ChatBot {
	if d.logger == nil {
		d.logger = slog.Default()
	}

	store := session.NewStore(d.kv, session.WithLogger(d.logger))
	titles := conversation.NewTitleSummarizer(d.client, cfg.TitleInstruction, cache.New(titleCacheTTL), d.logger)
	opts := conversation.Options{
		PersonaInstruction: cfg.PersonaInstruction,
		RequestTimeout:     cfg.RequestTimeout,
		TitleTimeout:       cfg.TitleTimeout,
		Logger:             d.logger,
		Tracer:             d.tracer,
		Meter:              d.meter,
	}

	cb := &ChatBot{
		config: cfg,
		kv:     d.kv,
		store:  store,
		client: d.client,
		logger: d.logger,
	}

	if cfg.Serve {
		hub := server.NewHub(d.logger)
		cb.ctrl = conversation.NewController(store, d.client, titles, hub, opts)
		cb.server = server.New(cb.ctrl, hub, d.logger)
		return cb
	}

	cb.repl = newREPL(d.in, d.out, d.logger)
	cb.ctrl = conversation.NewController(store, d.client, titles, cb.repl, opts)
	cb.repl.ctrl = cb.ctrl
	if lister, ok := d.client.(backend.ModelLister); ok {
		cb.repl.models = lister
		cb.repl.model = cfg.OllamaModel
	}
	return cb
}

// Run starts the chat bot and blocks until the user quits or ctx is done.
func (cb *ChatBot) Run(ctx context.Context) error {
	if err := cb.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start conversation: %w", err)
	}
	cb.logger.Info("chat started",
		"backend", cb.config.Backend,
		"session_id", cb.store.ActiveID(),
		"serve", cb.config.Serve,
	)

	if cb.server != nil {
		return cb.server.ListenAndServe(ctx, cb.config.ListenAddr)
	}
	return cb.repl.Run(ctx)
}

// Close stops background work and releases storage, telemetry and log files.
func (cb *ChatBot) Close() error {
	cb.ctrl.Close()

	var firstErr error
	if err := cb.kv.Close(); err != nil {
		cb.logger.Error("failed to close storage", "error", err)
		firstErr = err
	}
	for _, closeFn := range cb.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
