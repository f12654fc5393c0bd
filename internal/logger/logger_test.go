package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestProdModeWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(&buf, "prod", "info"), "assistant")
	l.Info().Str("session", "s1").Msg("exchange completed")
	l.Debug().Msg("dropped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "assistant", line["component"])
	assert.Equal(t, "s1", line["session"])
	assert.Equal(t, "exchange completed", line["message"])
}
