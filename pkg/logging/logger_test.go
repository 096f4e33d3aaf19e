package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_SessionScoping(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "bridge", slog.LevelInfo)

	log.WithSession("s1").Info("command published", "message_id", "m1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "bridge", entry["component"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "command published", entry["msg"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "bridge", slog.LevelWarn)

	log.Debug("dropped")
	log.Info("dropped too")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}
