package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		require.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: FormatAuto, Output: &buf})
	streamLogger := WithStream(logger, 42)
	streamLogger.Debug().Str("topic", "lunch").Msg("topic evicted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "topic evicted", line["message"])
	require.Equal(t, float64(42), line["stream_id"])
	require.Equal(t, "lunch", line["topic"])
}

func TestNewConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: FormatConsole, Output: &buf})
	logger.Info().Msg("hello")
	require.Contains(t, buf.String(), "hello")
	require.False(t, json.Valid(buf.Bytes()))
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: FormatJSON, Output: &buf})
	ctx := WithContext(context.Background(), logger)
	ctxLogger := FromContext(ctx)
	ctxLogger.Info().Msg("from ctx")
	require.Contains(t, buf.String(), "from ctx")

	Init(Config{Level: "info", Format: FormatJSON, Output: &buf})
	fallback := FromContext(context.Background())
	fallback.Info().Msg("fallback")
	require.Contains(t, buf.String(), "fallback")
}
