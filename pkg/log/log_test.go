package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&buf, "info", FormatJSON)
	logger.Debug("hidden")
	logger.Info("Execution completed", "execution_id", "e-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Execution completed", entry["msg"])
	assert.Equal(t, "e-1", entry["execution_id"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer

	New(&buf, "debug", "pretty").Debug("Step skipped", "step_id", "s2")

	assert.Contains(t, buf.String(), "msg=\"Step skipped\"")
	assert.Contains(t, buf.String(), "step_id=s2")
}
