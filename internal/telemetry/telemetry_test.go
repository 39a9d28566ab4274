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
	logger, closeFn, err := InitLogger(dir, true)
	require.NoError(t, err)

	logger.Debug("debug line", "session_id", "abc")
	closeFn()

	data, err := os.ReadFile(filepath.Join(dir, "ide3.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"debug line"`)
	assert.Contains(t, string(data), `"session_id":"abc"`)
}

func TestInitLogger_InfoLevelDropsDebug(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logger, closeFn, err := InitLogger(dir, false)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")
	closeFn()

	data, err := os.ReadFile(filepath.Join(dir, "ide3.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestInitTelemetry_FlushesOnCleanup(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), dir)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "ollama_api_call")
	span.End()
	counter, err := meter.Int64Counter("ide3.actions")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	cleanup()

	traces, err := os.ReadFile(filepath.Join(dir, "ide3_traces.log"))
	require.NoError(t, err)
	assert.Contains(t, string(traces), "ollama_api_call")

	metrics, err := os.ReadFile(filepath.Join(dir, "ide3_metrics.log"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "ide3.actions")
}
