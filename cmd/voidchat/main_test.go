package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoidChat/internal/config"
)

func TestParseConfig_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, config.BackendGemini, cfg.Backend)
	assert.Equal(t, config.DefaultModel, cfg.Model)
	assert.Equal(t, "from-env", cfg.APIKey)
}

func TestParseConfig_FlagsOverrideFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")

	path := filepath.Join(t.TempDir(), "voidchat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend = "ollama"
ollama_model = "mistral:7b"
db_path = "file.db"
title_timeout = "5s"
`), 0o644))

	cfg, err := parseConfig([]string{"-config", path, "-db", "flag.db", "-serve"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, config.BackendOllama, cfg.Backend)
	assert.Equal(t, "mistral:7b", cfg.OllamaModel)
	assert.Equal(t, "flag.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.TitleTimeout)
	assert.True(t, cfg.Serve)
	assert.Equal(t, config.DefaultListenAddr, cfg.ListenAddr)
}

func TestParseConfig_Invalid(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")

	_, err := parseConfig(nil, io.Discard)
	assert.ErrorContains(t, err, "GEMINI_API_KEY not set")

	_, err = parseConfig([]string{"-backend", "grok"}, io.Discard)
	assert.ErrorContains(t, err, "unknown backend: grok")

	_, err = parseConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")}, io.Discard)
	assert.Error(t, err)

	_, err = parseConfig([]string{"-no-such-flag"}, io.Discard)
	assert.Error(t, err)
}
