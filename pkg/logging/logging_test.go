package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{raw: "", want: zerolog.InfoLevel},
		{raw: "debug", want: zerolog.DebugLevel, ok: true},
		{raw: " WARN ", want: zerolog.WarnLevel, ok: true},
		{raw: "off", want: zerolog.Disabled, ok: true},
		{raw: "loud", want: zerolog.InfoLevel},
	}
	for _, test := range tests {
		t.Run(test.raw, func(t *testing.T) {
			got, ok := ParseLevel(test.raw)
			assert.Equal(t, test.want, got)
			assert.Equal(t, test.ok, ok)
		})
	}
}

func TestNewWriter_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvLogLevel, "warn")

	var buf bytes.Buffer
	logger := NewWriter(&buf, "zkcli")
	logger.Info().Msg("dropped")
	logger.Warn().Str("server", "zk1:2181").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "zkcli", line["app"])
	assert.Equal(t, "zk1:2181", line["server"])
}
