package observability

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/processors/minsev"
)

func keepDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func noEnv() []string { return nil }

func TestInstrument_Text(t *testing.T) {
	keepDefaultLogger(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), Options{Level: slog.LevelWarn, Format: FormatText, Output: &buf, Environ: noEnv})
	require.NoError(t, err)

	slog.Info("hidden")
	slog.Warn("shown", "attempt", "a1")
	require.NoError(t, shutdown(context.Background()))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "attempt=a1")
}

func TestInstrument_JSON(t *testing.T) {
	keepDefaultLogger(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), Options{Level: slog.LevelDebug, Format: FormatJSON, Output: &buf, Environ: noEnv})
	require.NoError(t, err)

	slog.Debug("debug record")
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"msg":"debug record"`)
}

func TestInstrument_File(t *testing.T) {
	keepDefaultLogger(t)
	path := filepath.Join(t.TempDir(), "logs", "xterm.log")

	shutdown, err := Instrument(context.Background(), Options{Level: slog.LevelInfo, File: path, Environ: noEnv})
	require.NoError(t, err)

	slog.Info("to file")
	require.NoError(t, shutdown(context.Background()))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "to file")
}

func TestInstrument_OTelStdout(t *testing.T) {
	keepDefaultLogger(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), Options{Level: slog.LevelInfo, Format: FormatOTel, Output: &buf, Environ: noEnv})
	require.NoError(t, err)

	slog.Debug("below minimum severity")
	slog.Info("exported record")
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "exported record")
	assert.NotContains(t, out, "below minimum severity")
}

func TestInstrument_UnsupportedFormat(t *testing.T) {
	keepDefaultLogger(t)
	_, err := Instrument(context.Background(), Options{Format: "xml", Environ: noEnv})
	assert.ErrorContains(t, err, "unsupported log format")
}

func TestNewExporter_UnsupportedProtocol(t *testing.T) {
	env := lookupEnv(func() []string {
		return []string{"OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318", "OTEL_EXPORTER_OTLP_PROTOCOL=http/json"}
	})
	_, err := newExporter(context.Background(), env, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"INFO":   slog.LevelInfo,
		"warn":   slog.LevelWarn,
		"error":  slog.LevelError,
		"info+2": slog.LevelInfo + 2,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, minsev.SeverityDebug, severity(slog.LevelDebug))
	assert.Equal(t, minsev.SeverityInfo, severity(slog.LevelInfo))
	assert.Equal(t, minsev.SeverityWarn, severity(slog.LevelWarn))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError+4))
}

func TestLookupEnv(t *testing.T) {
	env := lookupEnv(func() []string { return []string{"A=1", "B=x=y", "broken"} })
	assert.Equal(t, "1", env("A"))
	assert.Equal(t, "x=y", env("B"))
	assert.Empty(t, env("broken"))
	assert.True(t, strings.HasPrefix(firstNonEmpty("", "a", "b"), "a"))
}
