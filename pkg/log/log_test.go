package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{" warn ", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"info", InfoLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestInitJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}}) })

	logger := WithComponent("fetch")
	logger.Info().Str("url", "https://example.invalid").Msg("download started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "fetch", entry["component"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "download started", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}}) })

	Info("dropped")
	Warn("dropped")
	assert.Empty(t, buf.String())

	Error("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}}) })

	l := WithServiceKey("/docs/a.typ")
	l.Debug().Msg("x")
	assert.Contains(t, buf.String(), `"service_key":"/docs/a.typ"`)

	buf.Reset()
	l = WithVersion("v0.13.12")
	l.Debug().Msg("x")
	assert.Contains(t, buf.String(), `"version":"v0.13.12"`)

	buf.Reset()
	l = WithDocument("/docs/b.typ")
	l.Debug().Msg("x")
	assert.Contains(t, buf.String(), `"document":"/docs/b.typ"`)
}
