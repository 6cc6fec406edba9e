package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerStampsAppAndEnv(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "order-service", "prod")
	log.Info("event_consumed", "event_id", "abc")
	log.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order-service", line["app"])
	assert.Equal(t, "prod", line["env"])
	assert.Equal(t, "event_consumed", line["msg"])
	assert.Equal(t, "abc", line["event_id"])
}
