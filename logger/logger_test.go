package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medchat.log")
	log := New(Options{Level: "warn", Production: true, File: path})

	log.Info("hidden")
	log.Warn("relay slow", zap.String("chat_id", "c1"))
	_ = log.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "relay slow", entry["message"])
	assert.Equal(t, "c1", entry["chat_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	log := New(Options{Level: "loud"})
	assert.True(t, log.Core().Enabled(zap.InfoLevel))
	assert.False(t, log.Core().Enabled(zap.DebugLevel))
}
