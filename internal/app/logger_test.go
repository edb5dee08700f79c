package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("pricing stage degraded", "stage", "seasonal")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "pricing stage degraded", entry["msg"])
	require.Equal(t, "seasonal", entry["stage"])
}
