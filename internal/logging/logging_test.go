package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("stage started", zap.String("stage", "spike"), zap.Int("target", 50))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug should be filtered at info level")

	assert.Equal(t, "INFO", gjson.Get(lines[0], "level").String())
	assert.Equal(t, "stage started", gjson.Get(lines[0], "message").String())
	assert.Equal(t, "spike", gjson.Get(lines[0], "stage").String())
	assert.Equal(t, int64(50), gjson.Get(lines[0], "target").Int())
}

func TestNew_ConsoleDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	require.NoError(t, err)

	logger.Info("profile started")
	logger.Debug("vu spawned")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "profile started")
	assert.NotContains(t, out, "vu spawned")
}

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "DEBUG", Output: &buf})
	require.NoError(t, err)

	logger.Debug("vu spawned")
	assert.Contains(t, buf.String(), "vu spawned")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = New(Config{Format: "xml"})
	assert.ErrorContains(t, err, "invalid log format")
}
