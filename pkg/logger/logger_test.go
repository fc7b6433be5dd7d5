package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("pool-service", &buf, LevelDebug)

	log.Info("Payment deposited to pool", map[string]interface{}{
		"payment_id": "p-1",
		"error":      errors.New("boom"),
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "pool-service", entry["service"])
	assert.Equal(t, "Payment deposited to pool", entry["message"])
	assert.Equal(t, "p-1", entry["payment_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestJSONLogger_FiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("pool-service", &buf, LevelWarn)

	log.Debug("debug", nil)
	log.Info("info", nil)
	log.Warn("warn", nil)
	log.Error("error", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
