package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
)

const (
	DefaultModel         = "gemini-2.5-flash"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "llama3:latest"
	DefaultListenAddr    = "127.0.0.1:8080"

	// PersonaInstruction is the system instruction for the main conversation.
	PersonaInstruction = "You are Void, a witty and charming AI with a great sense of humor. You are playful, a little bit flirty, and love to tell clever, goofy jokes. Keep your responses engaging and fun, but always keep it clean and respectful. Never mention that you are an AI or a language model."

	// TitleInstruction is the system instruction for session title generation.
	TitleInstruction = "You are a witty AI that creates short, clever, and funny titles (max 4 words) for conversations. The titles should reflect a playful, goofy, and slightly flirty personality."

	FallbackTitle  = "A Fateful Encounter"
	StreamErrorMsg = "An anomaly was detected in the data stream. Please try again."
	WelcomeMessage = "The Void is listening... What secrets are we sharing today?"
)

// Config holds application configuration
type Config struct {
	Backend       string `toml:"backend"`
	Model         string `toml:"model"`
	GeminiBaseURL string `toml:"gemini_base_url"`
	APIKey        string `toml:"api_key"`
	OllamaURL     string `toml:"ollama_url"`
	OllamaModel   string `toml:"ollama_model"` // format "model:version" (e.g., "llama3:latest")

	DBPath    string `toml:"db_path"`
	LogDir    string `toml:"log_dir"`
	Ephemeral bool   `toml:"ephemeral"` // keep sessions in memory only

	Serve      bool   `toml:"serve"`
	ListenAddr string `toml:"listen_addr"`

	PersonaInstruction string `toml:"persona_instruction"`
	TitleInstruction   string `toml:"title_instruction"`

	RequestTimeout time.Duration `toml:"request_timeout"`
	TitleTimeout   time.Duration `toml:"title_timeout"`

	Telemetry bool `toml:"telemetry"`
	Debug     bool `toml:"debug"`
}

// Default returns a Config with every field set to its default.
func Default() Config {
	return Config{
		Backend:            BackendGemini,
		Model:              DefaultModel,
		GeminiBaseURL:      DefaultGeminiBaseURL,
		OllamaURL:          DefaultOllamaURL,
		OllamaModel:        DefaultOllamaModel,
		DBPath:             "voidchat.db",
		LogDir:             "logs",
		ListenAddr:         DefaultListenAddr,
		PersonaInstruction: PersonaInstruction,
		TitleInstruction:   TitleInstruction,
		RequestTimeout:     2 * time.Minute,
		TitleTimeout:       30 * time.Second,
	}
}

// LoadTOML decodes the TOML file at path over cfg. Fields absent from the
// file keep their current values.
func LoadTOML(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// ResolveAPIKey fills APIKey from GEMINI_API_KEY or API_KEY when unset.
func (c *Config) ResolveAPIKey() {
	if c.APIKey != "" {
		return
	}
	for _, name := range []string{"GEMINI_API_KEY", "API_KEY"} {
		if v := os.Getenv(name); v != "" {
			c.APIKey = v
			return
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY not set")
		}
		if c.Model == "" {
			return fmt.Errorf("model must not be empty")
		}
	case BackendOllama:
		if c.OllamaModel == "" {
			return fmt.Errorf("ollama model must not be empty")
		}
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if !c.Ephemeral && c.DBPath == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if c.Serve && c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.RequestTimeout < 0 || c.TitleTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
