package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{"debug", logger.DebugLevel},
		{"info", logger.InfoLevel},
		{"", logger.InfoLevel},
		{"warning", logger.WarnLevel},
		{"warn", logger.WarnLevel},
		{"WARNING", logger.WarnLevel},
		{"Info", logger.InfoLevel},
		{"error", logger.ErrorLevel},
	}

	for _, tt := range tests {
		got, err := logger.ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logger.ParseLevel("loud")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestComponentLoggerFields(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)

	var buf bytes.Buffer
	log := logger.New(&buf).With("component", "acquisition")
	log.Info().Int("channel", 2).Msg("record stored")

	out := buf.String()
	assert.Contains(t, out, `"component":"acquisition"`)
	assert.Contains(t, out, `"channel":2`)
	assert.Contains(t, out, `"message":"record stored"`)
}

func TestErrorWithCode(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)

	var buf bytes.Buffer
	err := errors.New().WithData(errors.ErrStorageWrite, "CH1/1700000000")
	logger.New(&buf).ErrorWithCode(err).Msg("append failed")

	assert.Contains(t, buf.String(), `"error_code":"storage_write_failed"`)
	assert.Contains(t, buf.String(), `"level":"error"`)
}
