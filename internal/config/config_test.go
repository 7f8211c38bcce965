package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, BackendGemini, cfg.Backend)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model)
	assert.Equal(t, PersonaInstruction, cfg.PersonaInstruction)
	assert.Equal(t, TitleInstruction, cfg.TitleInstruction)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voidchat.toml")
	data := `
backend = "ollama"
ollama_model = "mistral:7b"
db_path = "/tmp/chat.db"
title_timeout = "5s"
debug = true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg := Default()
	require.NoError(t, LoadTOML(path, &cfg))

	assert.Equal(t, BackendOllama, cfg.Backend)
	assert.Equal(t, "mistral:7b", cfg.OllamaModel)
	assert.Equal(t, "/tmp/chat.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.TitleTimeout)
	assert.True(t, cfg.Debug)
	// untouched fields keep defaults
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, "logs", cfg.LogDir)
}

func TestLoadTOML_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("backend = "), 0644))

	cfg := Default()
	err := LoadTOML(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode TOML file")
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "fallback-key")

	cfg := Default()
	cfg.ResolveAPIKey()
	assert.Equal(t, "fallback-key", cfg.APIKey)

	t.Setenv("GEMINI_API_KEY", "primary-key")
	cfg = Default()
	cfg.ResolveAPIKey()
	assert.Equal(t, "primary-key", cfg.APIKey)

	cfg.APIKey = "explicit"
	cfg.ResolveAPIKey()
	assert.Equal(t, "explicit", cfg.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "gemini ok", mutate: func(c *Config) { c.APIKey = "k" }},
		{name: "gemini missing key", mutate: func(c *Config) {}, wantErr: "GEMINI_API_KEY not set"},
		{name: "ollama ok", mutate: func(c *Config) { c.Backend = BackendOllama }},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "grok" }, wantErr: "unknown backend: grok"},
		{name: "empty db path", mutate: func(c *Config) { c.APIKey = "k"; c.DBPath = "" }, wantErr: "db path"},
		{name: "ephemeral without db path", mutate: func(c *Config) { c.APIKey = "k"; c.DBPath = ""; c.Ephemeral = true }},
		{name: "serve without addr", mutate: func(c *Config) { c.APIKey = "k"; c.Serve = true; c.ListenAddr = "" }, wantErr: "listen address"},
		{name: "negative timeout", mutate: func(c *Config) { c.APIKey = "k"; c.TitleTimeout = -1 }, wantErr: "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
