package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/infra/config"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, config.LoggerConfig{Level: "info", Format: "json"})

	log.Info("agent created", "agent_id", "alpha")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "agent created", entry["msg"])
	assert.Equal(t, "alpha", entry["agent_id"])
	assert.Equal(t, "conclave", entry["service"])
}

func TestNewWriterLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, config.LoggerConfig{Level: "warn", Format: "text"})

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" ERROR ", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "conclave.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "text", Output: path})
	require.NoError(t, err)

	log.Info("written to file")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
}

func TestNewStdStreams(t *testing.T) {
	for _, out := range []string{"stdout", "stderr", ""} {
		log, closer, err := New(config.LoggerConfig{Output: out})
		require.NoError(t, err)
		assert.NotNil(t, log)
		assert.NoError(t, closer())
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing happens")
}
