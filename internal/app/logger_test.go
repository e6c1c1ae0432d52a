package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesServiceAttrs(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "info", AppEnv: "staging"}, buf)
	logger.Info("ban issued")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ban issued", entry["msg"])
	assert.Equal(t, "agora", entry["service"])
	assert.Equal(t, "staging", entry["env"])
}

func TestLoggerLevel(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := newLogger(&Config{LogLevel: "warn"}, buf)
	logger.Info("dropped")
	assert.Empty(t, buf.String())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
