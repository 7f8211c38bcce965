package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := InitLogger(dir, true)
	require.NoError(t, err)

	logger.Debug("debug line", "session_id", "session_1")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "voidchat.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"debug line"`)
	assert.Contains(t, string(data), `"session_id":"session_1"`)
}

func TestInitTelemetry_Disabled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), dir, false)
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NotNil(t, meter)
	cleanup()

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "disabled telemetry must not create files")
}

func TestInitTelemetry_Enabled(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), dir, true)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "test_span")
	span.End()
	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "voidchat_traces.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "test_span")

	data, err = os.ReadFile(filepath.Join(dir, "voidchat_metrics.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "test.counter")
}
