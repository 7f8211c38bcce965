package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"VoidChat/internal/chatbot"
	"VoidChat/internal/config"
)

func bindFlags(fs *flag.FlagSet, cfg *config.Config, configPath *string) {
	fs.StringVar(configPath, "config", "", "Path to a TOML config file")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "LLM backend (gemini|ollama)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Gemini model name")
	fs.StringVar(&cfg.GeminiBaseURL, "gemini-url", cfg.GeminiBaseURL, "Gemini API base URL")
	fs.StringVar(&cfg.OllamaURL, "ollama-url", cfg.OllamaURL, "Ollama server URL")
	fs.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model specification (format: model:version)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log and telemetry files")
	fs.BoolVar(&cfg.Ephemeral, "ephemeral", cfg.Ephemeral, "Keep sessions in memory only")
	fs.BoolVar(&cfg.Serve, "serve", cfg.Serve, "Serve the WebSocket UI instead of the terminal REPL")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Listen address for -serve")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Timeout for a streamed reply")
	fs.DurationVar(&cfg.TitleTimeout, "title-timeout", cfg.TitleTimeout, "Timeout for session title generation")
	fs.BoolVar(&cfg.Telemetry, "telemetry", cfg.Telemetry, "Export traces and metrics to the log directory")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
}

// parseConfig layers defaults, the optional TOML file and command-line flags,
// in that order of precedence from lowest to highest.
func parseConfig(args []string, stderr io.Writer) (config.Config, error) {
	var configPath string
	cfg := config.Default()

	fs := flag.NewFlagSet("voidchat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bindFlags(fs, &cfg, &configPath)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if configPath != "" {
		fileCfg := config.Default()
		if err := config.LoadTOML(configPath, &fileCfg); err != nil {
			return cfg, err
		}
		// parse again so explicit flags win over the file
		fs = flag.NewFlagSet("voidchat", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		bindFlags(fs, &fileCfg, &configPath)
		if err := fs.Parse(args); err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}

	cfg.ResolveAPIKey()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	bot, err := chatbot.NewChatBot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chatbot: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := bot.Run(ctx)
	stop()

	if err := bot.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}
