package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer
	logger := setup(&buf, "piggyd", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("created", "fingerprint", "0x01")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "created", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "piggyd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, "0xabc", MaskField("caller", "0xabc").Value.String())
	require.Equal(t, "", MaskField("secret", "").Value.String())
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
