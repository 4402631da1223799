package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"mortgagedapp/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormatterAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: "WARN", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown", "op", "create")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "create", entry["op"])
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: "chatty"})

	logger.Debug("debug line")
	assert.Empty(t, buf.String())
	logger.Info("info line")
	assert.Contains(t, buf.String(), "info line")
}
