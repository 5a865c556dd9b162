package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media_syncer/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_WritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncer.log")

	log, closer := New(config.LogConfig{
		Level:  "info",
		Format: "json",
		File:   path,
		Rotation: config.RotationConfig{
			MaxSize:    1,
			MaxBackups: 1,
		},
	})
	log.Info("hello", "run_id", "abc")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"run_id":"abc"`)
}

func TestNew_WithoutFile(t *testing.T) {
	log, closer := New(config.LogConfig{Level: "debug", Format: "text"})

	assert.True(t, log.Enabled(t.Context(), slog.LevelDebug))
	assert.NoError(t, closer.Close())
}
