package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/anuneko/pkg/cron"
	"github.com/harun/anuneko/pkg/gateway"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingActions struct {
	cleanups atomic.Int32
}

func (a *countingActions) Chat(ctx context.Context, userID, rawText string) string { return "" }

func (a *countingActions) SwitchModel(ctx context.Context, userID, keyword string) string {
	return ""
}

func (a *countingActions) NewSession(ctx context.Context, userID string) string { return "" }

func (a *countingActions) Cleanup() { a.cleanups.Add(1) }

func newJobsFixture(t *testing.T) (*cron.Service, *gateway.Server, *countingActions) {
	t.Helper()
	actions := &countingActions{}
	server, err := gateway.NewServer(gateway.Config{Actions: actions, Logger: zerolog.Nop()})
	require.NoError(t, err)

	scheduler := cron.NewService(cron.WithLogger(zerolog.Nop()))
	t.Cleanup(scheduler.Stop)
	return scheduler, server, actions
}

func TestCleanupJob_Apply(t *testing.T) {
	scheduler, server, _ := newJobsFixture(t)
	cleanup := newCleanupJob(scheduler, server)

	require.NoError(t, cleanup.apply(""))
	assert.Empty(t, scheduler.ListJobs())

	require.NoError(t, cleanup.apply("@every 1h"))
	jobs := scheduler.ListJobs()
	require.Len(t, jobs, 1)
	first := jobs[0].ID
	assert.Equal(t, cleanupJobName, jobs[0].Name)
	assert.Equal(t, time.Hour, jobs[0].Schedule.Every)

	require.NoError(t, cleanup.apply("@every 1h"))
	assert.Equal(t, first, scheduler.ListJobs()[0].ID, "an unchanged spec keeps the job")

	require.NoError(t, cleanup.apply("0 4 * * *"))
	jobs = scheduler.ListJobs()
	require.Len(t, jobs, 1, "the old schedule is replaced")
	assert.NotEqual(t, first, jobs[0].ID)
	assert.Equal(t, "0 4 * * *", jobs[0].Schedule.Expr)

	err := cleanup.apply("every day")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup_schedule")
	assert.Equal(t, "0 4 * * *", scheduler.ListJobs()[0].Schedule.Expr, "a bad spec keeps the previous schedule")

	require.NoError(t, cleanup.apply(""))
	assert.Empty(t, scheduler.ListJobs())
}

func TestCleanupJob_RunsCleanup(t *testing.T) {
	scheduler, server, actions := newJobsFixture(t)
	cleanup := newCleanupJob(scheduler, server)

	require.NoError(t, cleanup.apply("@every 20ms"))
	assert.Eventually(t, func() bool { return actions.cleanups.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func postJobRPC(t *testing.T, ts *httptest.Server, body string) gateway.RPCResponse {
	t.Helper()
	resp, err := http.Post(ts.URL+"/rpc", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp gateway.RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	return rpcResp
}

func TestRegisterJobMethods(t *testing.T) {
	scheduler, server, actions := newJobsFixture(t)
	cleanup := newCleanupJob(scheduler, server)
	require.NoError(t, cleanup.apply("@every 1h"))
	require.NoError(t, registerJobMethods(server, scheduler))

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	listed := postJobRPC(t, ts, `{"id":"1","method":"gateway.jobs"}`)
	require.Nil(t, listed.Error)
	jobs := listed.Result.(map[string]interface{})["jobs"].([]interface{})
	require.Len(t, jobs, 1)
	id := jobs[0].(map[string]interface{})["id"].(string)

	ran := postJobRPC(t, ts, `{"id":"2","method":"gateway.runJob","params":{"id":"`+id+`"}}`)
	require.Nil(t, ran.Error)
	assert.Equal(t, id, ran.Result.(map[string]interface{})["job"].(map[string]interface{})["id"])
	assert.Eventually(t, func() bool { return actions.cleanups.Load() == 1 }, time.Second, 10*time.Millisecond)

	missing := postJobRPC(t, ts, `{"id":"3","method":"gateway.runJob","params":{"id":"nope"}}`)
	require.NotNil(t, missing.Error)
	assert.Equal(t, gateway.InvalidParams, missing.Error.Code)
	assert.Contains(t, missing.Error.Message, "job not found")

	noID := postJobRPC(t, ts, `{"id":"4","method":"gateway.runJob","params":{}}`)
	require.NotNil(t, noID.Error)
	assert.Equal(t, gateway.InvalidParams, noID.Error.Code)
}
