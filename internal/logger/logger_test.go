package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: &buf})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Str("model", "橘猫").Msg("session created")
		assert.Contains(t, buf.String(), `"model":"橘猫"`)
		assert.Contains(t, buf.String(), "session created")
	})

	t.Run("pretty console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: &buf, Pretty: true})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Msg("gateway started")
		assert.Contains(t, buf.String(), "gateway started")
		assert.NotContains(t, buf.String(), `"message"`)
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "anuneko.log")

		logger, err := New(Config{Level: "debug", File: logFile, Rotation: Rotation{MaxSize: 1}})
		require.NoError(t, err)

		logger.Debug().Msg("stream opened")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "stream opened")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("installs global logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: &buf})
		require.NoError(t, err)

		log.Info().Msg("via global")
		assert.Contains(t, buf.String(), "via global")

		require.NoError(t, logger.Close())
		buf.Reset()
		log.Info().Msg("after close")
		assert.Empty(t, buf.String())
	})
}

func TestLoggerRedactsFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "redacted.log")

	logger, err := New(Config{Level: "info", File: logFile, Redaction: true, Rotation: Rotation{MaxSize: 1}})
	require.NoError(t, err)
	assert.NotNil(t, logger.redactor)

	logger.Info().Str("x-token", "very-secret-token").Msg("request sent")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "request sent")
	assert.NotContains(t, string(data), "very-secret-token")
}

func TestLoggerCustomRedactPatterns(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Console: &buf, Redaction: true, RedactPatterns: []string{`neko-[0-9]+`}})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info().Str("user", "neko-4242").Msg("chat handled")
	assert.Contains(t, buf.String(), "[REDACTED]")
	assert.NotContains(t, buf.String(), "neko-4242")

	_, err = New(Config{Level: "info", Redaction: true, RedactPatterns: []string{`([`}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redact pattern")
}

func TestLoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Console: &buf})
	require.NoError(t, err)
	defer logger.Close()

	child := logger.Component("transport")
	assert.Equal(t, zerolog.WarnLevel, child.GetLevel())

	child.Warn().Msg("retrying")
	assert.Contains(t, buf.String(), `"component":"transport"`)
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans", "trace.jsonl")

	w, err := RotatingFile(path, Rotation{MaxSize: 1, MaxAge: 1})
	require.NoError(t, err)

	_, err = w.Write([]byte("{}\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}
