package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
)

func TestSetupWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Debug().Str("room_id", "r1").Msg("hello")

	assert.Contains(t, buf.String(), `"room_id":"r1"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetupWriter_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(config.LogConfig{Level: "chatty", Format: "json"}, &buf)

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
