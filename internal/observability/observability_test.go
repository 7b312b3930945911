package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesRecordedSeries(t *testing.T) {
	RecordBackendRequest("create_session", 20*time.Millisecond, true)
	RecordStream("ok", time.Second)
	RecordStreamEvent("plain_text")
	RecordQueueEnqueue("branch", 1)
	RecordQueueCompletion("branch", 5*time.Millisecond, false, 0)
	SetActiveSessions(3)
	RecordAction("chat", "ok")
	RecordGatewayRequest("http", "neko.chat", true)
	SetGatewayClients(2)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `anuneko_backend_requests_total{op="create_session",status="success"}`)
	assert.Contains(t, body, `anuneko_streams_total{outcome="ok"}`)
	assert.Contains(t, body, `anuneko_dequeue_total{lane="branch",status="error"}`)
	assert.Contains(t, body, "anuneko_active_sessions 3")
	assert.Contains(t, body, `anuneko_actions_total{action="chat",result="ok"}`)
	assert.Contains(t, body, `anuneko_gateway_requests_total{method="neko.chat",status="success",transport="http"}`)
	assert.Contains(t, body, "anuneko_gateway_clients 2")
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}

// useAuditFile points the audit logger at a temp file and restores the
// discarding logger afterwards
func useAuditFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() {
		_ = GetAuditLogger().Close()
		auditMu.Lock()
		auditInst = &AuditLogger{logger: zerolog.Nop()}
		auditMu.Unlock()
	})
	return path
}

func TestSessionAuditWritesStructuredEvent(t *testing.T) {
	path := useAuditFile(t)

	RecordSessionAudit(context.Background(), "session_created", "user-1", "success", map[string]interface{}{
		"model": "Orange Cat",
	})
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "session", entry["type"])
	assert.Equal(t, "session_created", entry["action"])
	assert.Equal(t, "user-1", entry["actor"])
	assert.Equal(t, "success", entry["status"])
	assert.Equal(t, "Orange Cat", entry["metadata"].(map[string]interface{})["model"])
}

func TestInitAuditLoggerWritesToFile(t *testing.T) {
	path := useAuditFile(t)

	RecordConfigAudit(context.Background(), "config_reloaded", "watcher", nil)
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "config_reloaded"))
}
