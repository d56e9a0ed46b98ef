package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.DebugLevel, logger.ParseLevel("debug"))
	assert.Equal(t, logger.InfoLevel, logger.ParseLevel("INFO"))
	assert.Equal(t, logger.WarnLevel, logger.ParseLevel("warning"))
	assert.Equal(t, logger.ErrorLevel, logger.ParseLevel("error"))
	assert.Equal(t, logger.WarnLevel, logger.ParseLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "warning", true)
	t.Cleanup(func() { logger.SetLogLevel(logger.WarnLevel) })

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestComponentAndCode(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "debug", true)
	t.Cleanup(func() { logger.SetLogLevel(logger.WarnLevel) })

	log := logger.Component("output")
	log.ErrorWithCode(errors.New().New(errors.ErrEmitFailed)).Msg("emit")

	out := buf.String()
	assert.Contains(t, out, "component=output")
	assert.Contains(t, out, "error_code=emit_snapshot_failed")
}
