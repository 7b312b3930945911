package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// resetFlags puts every flag of the command tree back to its default so
// that runs of the shared root command do not leak into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// setContext gives every command in the tree ctx. cobra only hands the root
// context to a subcommand that has none, so a context left over from an
// earlier run would otherwise win.
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, c := range cmd.Commands() {
		setContext(c, ctx)
	}
}

func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	return executeCommandContext(t, context.Background(), stdin, args...)
}

func executeCommandContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)
	setContext(cmd, ctx)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return output.String(), err
}

type fakeBackend struct {
	server  *httptest.Server
	created atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		n := fb.created.Add(1)
		_, _ = fmt.Fprintf(w, `{"chat_id":"chat-%d"}`, n)
	})
	mux.HandleFunc("/api/v1/user/select_model", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/msg/select-choice", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/msg/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: {\"msg_id\":\"m1\"}\ndata: {\"c\":[{\"v\":\"Hel\"}]}\ndata: {\"v\":\"lo\"}\n"))
	})
	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

// writeConfig writes a config file pointing at the fake backend and returns
// its path together with the data directory.
func writeConfig(t *testing.T, fb *fakeBackend, overrides map[string]any) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")

	backend := map[string]any{
		"create_session_url": "http://127.0.0.1:1/api/v1/chat",
		"stream_url":         "http://127.0.0.1:1/api/v1/msg/{uuid}/stream",
		"select_choice_url":  "http://127.0.0.1:1/api/v1/msg/select-choice",
		"select_model_url":   "http://127.0.0.1:1/api/v1/user/select_model",
	}
	if fb != nil {
		url := fb.server.URL
		backend = map[string]any{
			"create_session_url": url + "/api/v1/chat",
			"stream_url":         url + "/api/v1/msg/{uuid}/stream",
			"select_choice_url":  url + "/api/v1/msg/select-choice",
			"select_model_url":   url + "/api/v1/user/select_model",
		}
	}

	values := map[string]any{
		"backend":  backend,
		"chat":     map[string]any{"command_prefix": "/chat", "watermark": " [neko]"},
		"gateway":  map[string]any{"host": "127.0.0.1", "port": 0},
		"data_dir": dataDir,
	}
	for k, v := range overrides {
		values[k] = v
	}

	data, err := json.Marshal(values)
	require.NoError(t, err)
	path := filepath.Join(dir, "anuneko.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, dataDir
}

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}
