package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := executeCommand(t, "", "serve", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "JSON-RPC")
		assert.Contains(t, output, "shutdown-timeout")
	})

	t.Run("runs until cancelled", func(t *testing.T) {
		fb := newFakeBackend(t)
		path, dataDir := writeConfig(t, fb, nil)
		pidFile := filepath.Join(dataDir, pidFileName)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		type result struct {
			output string
			err    error
		}
		done := make(chan result, 1)
		go func() {
			output, err := executeCommandContext(t, ctx, "", "serve", "--config", path, "--shutdown-timeout", "2")
			done <- result{output, err}
		}()

		assert.Eventually(t, func() bool {
			return isRunning(pidFile)
		}, 5*time.Second, 20*time.Millisecond)

		cancel()

		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.Contains(t, r.output, "Gateway listening on 127.0.0.1:")
			assert.Contains(t, r.output, "Gateway stopped")
		case <-time.After(10 * time.Second):
			t.Fatal("serve did not stop")
		}

		_, err := os.Stat(pidFile)
		assert.True(t, os.IsNotExist(err), "PID file is removed on shutdown")
	})

	t.Run("refuses to start twice", func(t *testing.T) {
		path, dataDir := writeConfig(t, nil, nil)
		require.NoError(t, writePIDFile(pidFilePath(dataDir)))

		_, err := executeCommand(t, "", "serve", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already running")
	})

	t.Run("rejects invalid cleanup schedule", func(t *testing.T) {
		path, dataDir := writeConfig(t, nil, map[string]any{
			"gateway": map[string]any{"host": "127.0.0.1", "port": 0, "cleanup_schedule": "every day"},
		})

		_, err := executeCommand(t, "", "serve", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cleanup_schedule")
		assert.False(t, isRunning(pidFilePath(dataDir)))
	})
}
