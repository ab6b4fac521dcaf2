package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/processors/minsev"
)

func TestInstrument_TextAndJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	shutdown, err := Instrument(context.Background(), Config{Level: slog.LevelInfo, Format: FormatJSON, Writer: &buf})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	slog.Debug("hidden")
	slog.Info("shown", "token", "abcdefgh")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	_, err = Instrument(context.Background(), Config{Level: slog.LevelDebug, Format: FormatText, Writer: &buf})
	require.NoError(t, err)
	slog.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestInstrument_OTelStdout(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	shutdown, err := Instrument(context.Background(), Config{
		Level:    slog.LevelInfo,
		Format:   FormatOTel,
		Exporter: ExporterStdout,
		Writer:   &buf,
	})
	require.NoError(t, err)

	slog.Info("exported record")
	slog.Debug("filtered record")
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "exported record")
	assert.NotContains(t, buf.String(), "filtered record")
}

func TestInstrument_Unsupported(t *testing.T) {
	_, err := Instrument(context.Background(), Config{Format: "xml"})
	assert.Error(t, err)

	_, err = Instrument(context.Background(), Config{Format: FormatOTel, Exporter: "kafka"})
	assert.Error(t, err)

	_, err = Instrument(context.Background(), Config{Format: FormatOTel, MinSeverity: "loud"})
	assert.Error(t, err)
}

func TestMinSeverity(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		level    slog.Level
		expected minsev.Severity
	}{
		{"falls back to level", "", slog.LevelWarn, minsev.SeverityWarn},
		{"debug", "debug", slog.LevelInfo, minsev.SeverityDebug},
		{"error", "ERROR", slog.LevelInfo, minsev.SeverityError},
		{"offset", "info+2", slog.LevelInfo, minsev.SeverityInfo},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := minSeverity(tc.input, tc.level)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
