package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/anuneko/internal/config"
	"github.com/harun/anuneko/pkg/commandqueue"
	"github.com/harun/anuneko/pkg/session"
	"github.com/harun/anuneko/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBackend is a mock implementation of Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) CreateSession(ctx context.Context, model string) (string, error) {
	args := m.Called(ctx, model)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) SelectModel(ctx context.Context, sessionID, model string) bool {
	args := m.Called(ctx, sessionID, model)
	return args.Bool(0)
}

func (m *MockBackend) ResolveBranch(ctx context.Context, messageID string) {
	m.Called(ctx, messageID)
}

func (m *MockBackend) OpenStream(ctx context.Context, sessionID, text string) (io.ReadCloser, error) {
	args := m.Called(ctx, sessionID, text)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

// trackedBody records whether the orchestrator released the stream
type trackedBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

func body(lines ...string) *trackedBody {
	return &trackedBody{Reader: strings.NewReader(strings.Join(lines, "\n"))}
}

type failingStream struct {
	err error
}

func (f failingStream) Read([]byte) (int, error) { return 0, f.err }

func setupOrchestrator(t *testing.T) (*Orchestrator, *MockBackend, *config.Config) {
	t.Helper()
	backend := &MockBackend{}
	cfg := config.DefaultConfig()
	o := New(backend, config.Static{Config: cfg})
	t.Cleanup(func() { _ = o.Close() })
	return o, backend, cfg
}

func TestChat_ImplicitSessionCreatedOnce(t *testing.T) {
	o, backend, cfg := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-1", nil).Once()
	backend.On("SelectModel", mock.Anything, "chat-1", "Orange Cat").Return(true).Once()
	backend.On("OpenStream", mock.Anything, "chat-1", "hello").Return(body(`data: {"v":"hi"}`), nil).Once()
	backend.On("OpenStream", mock.Anything, "chat-1", "again").Return(body(`data: {"v":"yo"}`), nil).Once()

	assert.Equal(t, "hi"+cfg.Chat.Watermark, o.Chat(context.Background(), "u1", "/chat hello"))
	assert.Equal(t, "yo"+cfg.Chat.Watermark, o.Chat(context.Background(), "u1", "  /chat   again  "))

	sess, ok := o.store.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "chat-1", sess.SessionID)
	backend.AssertNumberOfCalls(t, "CreateSession", 1)
	backend.AssertExpectations(t)
}

func TestChat_AggregatesChoicesAndResolvesBranch(t *testing.T) {
	o, backend, cfg := setupOrchestrator(t)

	resolved := make(chan string, 1)
	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, "chat-1", "Orange Cat").Return(true)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(body(
		`data: {"msg_id":"m1"}`,
		`data: {"c":[{"c":0,"v":"He"},{"c":1,"v":"X"}]}`,
		`data: {"c":[{"c":0,"v":"llo"}]}`,
	), nil)
	backend.On("ResolveBranch", mock.Anything, "m1").Run(func(args mock.Arguments) {
		resolved <- args.String(1)
	}).Return()

	assert.Equal(t, "Hello"+cfg.Chat.Watermark, o.Chat(context.Background(), "u1", "/chat hi"))

	select {
	case id := <-resolved:
		assert.Equal(t, "m1", id)
	case <-time.After(time.Second):
		t.Fatal("branch resolution was not scheduled")
	}
}

func TestChat_NoMessageIDSkipsBranchResolution(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, mock.Anything).Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(body(`data: {"v":"x"}`), nil)

	o.Chat(context.Background(), "u1", "/chat hi")
	require.NoError(t, o.Close())
	backend.AssertNotCalled(t, "ResolveBranch", mock.Anything, mock.Anything)
}

func TestChat_UnresolvedBranchSkipsWatermark(t *testing.T) {
	o, backend, cfg := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, mock.Anything).Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)
	stream := body(
		`data: {"msg_id":"m1"}`,
		`data: {"v":"partial text"}`,
		`{"code":"chat_choice_shown"}`,
		`data: {"v":"more"}`,
	)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(stream, nil)

	reply := o.Chat(context.Background(), "u1", "/chat hi")
	assert.Equal(t, MsgUnresolvedBranch, reply)
	assert.NotContains(t, reply, cfg.Chat.Watermark)
	assert.True(t, stream.closed.Load())

	require.NoError(t, o.Close())
	backend.AssertNotCalled(t, "ResolveBranch", mock.Anything, mock.Anything)
}

func TestChat_GarbageStreamIsDegenerateSuccess(t *testing.T) {
	o, backend, cfg := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, mock.Anything).Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(body("", "   ", "garbage", "data: nope", ""), nil)

	assert.Equal(t, cfg.Chat.Watermark, o.Chat(context.Background(), "u1", "/chat hi"))
}

func TestChat_BranchResolutionFailureDoesNotAffectReply(t *testing.T) {
	o, backend, cfg := setupOrchestrator(t)

	release := make(chan struct{})
	called := make(chan struct{})
	backend.On("CreateSession", mock.Anything, mock.Anything).Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(body(`data: {"msg_id":"m1","v":"ok"}`), nil)
	backend.On("ResolveBranch", mock.Anything, "m1").Run(func(args mock.Arguments) {
		close(called)
		<-release
		panic("network unreachable")
	}).Return()

	start := time.Now()
	reply := o.Chat(context.Background(), "u1", "/chat hi")
	assert.Equal(t, "ok"+cfg.Chat.Watermark, reply)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	<-called
	close(release)
}

func TestChat_StreamTimeoutReturnsRetryLater(t *testing.T) {
	o, backend, cfg := setupOrchestrator(t)

	timedOut := &trackedBody{Reader: io.MultiReader(
		strings.NewReader("data: {\"v\":\"partial\"}\n"),
		failingStream{err: context.DeadlineExceeded},
	)}
	backend.On("CreateSession", mock.Anything, mock.Anything).Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(timedOut, nil)

	reply := o.Chat(context.Background(), "u1", "/chat hi")
	assert.Equal(t, MsgRequestFailed, reply)
	assert.NotContains(t, reply, cfg.Chat.Watermark)
	assert.True(t, timedOut.closed.Load(), "stream must be released")
}

func TestChat_OpenStreamErrorReturnsRetryLater(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, mock.Anything).Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").
		Return(nil, &transport.BackendError{Op: transport.OpStream, StatusCode: 502})

	assert.Equal(t, MsgRequestFailed, o.Chat(context.Background(), "u1", "/chat hi"))
}

func TestChat_PrefixGuard(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	assert.Equal(t, "", o.Chat(context.Background(), "u1", "hello /chat"))
	assert.Equal(t, "", o.Chat(context.Background(), "u1", ""))
	assert.Equal(t, MsgEmptyChat("/chat"), o.Chat(context.Background(), "u1", "/chat"))
	assert.Equal(t, MsgEmptyChat("/chat"), o.Chat(context.Background(), "u1", "  /chat   \t "))

	backend.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
	backend.AssertNotCalled(t, "OpenStream", mock.Anything, mock.Anything, mock.Anything)
}

func TestChat_SessionCreateFailure(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, mock.Anything).Return("", transport.ErrNoSessionID)

	assert.Equal(t, MsgCreateFailed, o.Chat(context.Background(), "u1", "/chat hi"))
	_, ok := o.store.Get("u1")
	assert.False(t, ok)
	backend.AssertNotCalled(t, "OpenStream", mock.Anything, mock.Anything, mock.Anything)
}

func TestChat_CustomPrefixAndWatermark(t *testing.T) {
	backend := &MockBackend{}
	cfg := config.DefaultConfig()
	cfg.Chat.CommandPrefix = "!neko"
	cfg.Chat.Watermark = " [wm]"
	live := config.NewLive(cfg)
	o := New(backend, live)
	t.Cleanup(func() { _ = o.Close() })

	backend.On("CreateSession", mock.Anything, mock.Anything).Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(body(`data: {"v":"a"}`), nil).Once()
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(body(`data: {"v":"b"}`), nil).Once()

	assert.Equal(t, "", o.Chat(context.Background(), "u1", "/chat hi"))
	assert.Contains(t, o.Chat(context.Background(), "u1", "!neko"), "e.g. !neko hello")
	assert.Equal(t, "a [wm]", o.Chat(context.Background(), "u1", "!neko hi"))

	reloaded := cfg.Clone()
	reloaded.Chat.Watermark = " [new]"
	live.Swap(reloaded)
	assert.Equal(t, "b [new]", o.Chat(context.Background(), "u1", "!neko hi"))
}

func TestCleanupThenChatRecreatesSession(t *testing.T) {
	o, backend, cfg := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-1", nil).Once()
	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-2", nil).Once()
	backend.On("SelectModel", mock.Anything, mock.Anything, "Orange Cat").Return(true)
	backend.On("OpenStream", mock.Anything, "chat-1", "hi").Return(body(`data: {"v":"one"}`), nil)
	backend.On("OpenStream", mock.Anything, "chat-2", "hi").Return(body(`data: {"v":"two"}`), nil)

	assert.Equal(t, "one"+cfg.Chat.Watermark, o.Chat(context.Background(), "u1", "/chat hi"))

	o.Cleanup()
	o.Cleanup()
	assert.Equal(t, 0, o.store.Len())

	assert.Equal(t, "two"+cfg.Chat.Watermark, o.Chat(context.Background(), "u1", "/chat hi"))
	backend.AssertNumberOfCalls(t, "CreateSession", 2)
}

func TestCleanupResetsModelToDefault(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, "chat-1", mock.Anything).Return(true)

	assert.Equal(t, MsgSwitched("黑猫"), o.SwitchModel(context.Background(), "u1", "黑猫"))
	assert.Equal(t, session.ModelB, o.store.Model("u1"))

	o.Cleanup()
	assert.Equal(t, session.ModelA, o.store.Model("u1"))
}

func TestSwitchModel_Idempotent(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-1", nil).Once()
	backend.On("SelectModel", mock.Anything, "chat-1", "Orange Cat").Return(true)

	first := o.SwitchModel(context.Background(), "u1", "orange")
	second := o.SwitchModel(context.Background(), "u1", "ORANGE")

	assert.Equal(t, MsgSwitched("橘猫"), first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, o.store.Len())
	backend.AssertNumberOfCalls(t, "CreateSession", 1)
}

func TestSwitchModel_UnknownKeyword(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	assert.Equal(t, MsgUnknownModel, o.SwitchModel(context.Background(), "u1", "tabby"))
	backend.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
	backend.AssertNotCalled(t, "SelectModel", mock.Anything, mock.Anything, mock.Anything)
}

func TestSwitchModel_CreateFailure(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, mock.Anything).
		Return("", &transport.BackendError{Op: transport.OpCreateSession, StatusCode: 401})

	assert.Equal(t, MsgSwitchCreateFailed, o.SwitchModel(context.Background(), "u1", "exotic"))
	backend.AssertNotCalled(t, "SelectModel", mock.Anything, mock.Anything, mock.Anything)
}

func TestSwitchModel_RejectedKeepsSession(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, "chat-1", "Orange Cat").Return(true)
	backend.On("SelectModel", mock.Anything, "chat-1", "Exotic Shorthair").Return(false)

	assert.Equal(t, MsgSwitchFailed("黑猫"), o.SwitchModel(context.Background(), "u1", "exotic"))

	sess, ok := o.store.Get("u1")
	require.True(t, ok, "session is kept")
	assert.Equal(t, "chat-1", sess.SessionID)
	assert.Equal(t, session.ModelA, sess.Model, "rejected switch is not recorded")
}

func TestNewSession(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-1", nil).Once()
	backend.On("SelectModel", mock.Anything, "chat-1", mock.Anything).Return(true)
	backend.On("CreateSession", mock.Anything, "Exotic Shorthair").Return("chat-2", nil).Once()
	backend.On("SelectModel", mock.Anything, "chat-2", "Exotic Shorthair").Return(true)

	assert.Equal(t, MsgNewSession("橘猫"), o.NewSession(context.Background(), "u1"))

	o.SwitchModel(context.Background(), "u1", "exotic")
	assert.Equal(t, MsgNewSession("黑猫"), o.NewSession(context.Background(), "u1"))

	sess, _ := o.store.Get("u1")
	assert.Equal(t, "chat-2", sess.SessionID)
	assert.Equal(t, session.ModelB, sess.Model)
}

func TestNewSession_InitialSelectFailureAbsorbed(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, "chat-1", "Orange Cat").Return(false)

	assert.Equal(t, MsgNewSession("橘猫"), o.NewSession(context.Background(), "u1"))
	_, ok := o.store.Get("u1")
	assert.True(t, ok)
}

func TestNewSession_Failure(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, mock.Anything).Return("", errors.New("dial tcp: refused"))
	assert.Equal(t, MsgCreateFailed, o.NewSession(context.Background(), "u1"))
}

func TestConcurrentUsersDoNotInterfere(t *testing.T) {
	o, backend, cfg := setupOrchestrator(t)

	backend.On("CreateSession", mock.Anything, "Orange Cat").Return("chat", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("msg-%d", i)
		backend.On("OpenStream", mock.Anything, "chat", text).Return(body(`data: {"v":"`+text+`"}`), nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("msg-%d", i)
			assert.Equal(t, text+cfg.Chat.Watermark, o.Chat(context.Background(), fmt.Sprintf("user-%d", i), "/chat "+text))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, o.store.Len())
}

func TestStripCommand(t *testing.T) {
	tests := []struct {
		text, prefix, want string
		ok                 bool
	}{
		{"/chat hi", "/chat", "hi", true},
		{"\n\t/chat  hi there ", "/chat", "hi there", true},
		{"/chatty", "/chat", "ty", true},
		{"/chat", "/chat", "", true},
		{"hi /chat", "/chat", "", false},
		{"/chat hi", "", "", false},
	}
	for _, tt := range tests {
		got, ok := StripCommand(tt.text, tt.prefix)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	o, _, _ := setupOrchestrator(t)
	assert.NoError(t, o.Close())
	assert.NoError(t, o.Close())
}

func TestChat_RejectedCredentialsAreFlagged(t *testing.T) {
	var logs bytes.Buffer
	backend := &MockBackend{}
	o := New(backend, config.Static{Config: config.DefaultConfig()}, WithLogger(zerolog.New(&logs)))
	t.Cleanup(func() { _ = o.Close() })

	backend.On("CreateSession", mock.Anything, mock.Anything).
		Return("", &transport.BackendError{Op: transport.OpCreateSession, StatusCode: 401}).Once()
	backend.On("CreateSession", mock.Anything, mock.Anything).
		Return("", &transport.BackendError{Op: transport.OpCreateSession, StatusCode: 500}).Once()

	assert.Equal(t, MsgCreateFailed, o.Chat(context.Background(), "u1", "/chat hi"))
	assert.Contains(t, logs.String(), "Backend rejected the credentials")
	assert.Contains(t, logs.String(), config.TokenEnv)

	logs.Reset()
	assert.Equal(t, MsgCreateFailed, o.Chat(context.Background(), "u1", "/chat hi"))
	assert.NotContains(t, logs.String(), "Backend rejected the credentials")
}

func TestStats(t *testing.T) {
	o, backend, _ := setupOrchestrator(t)
	backend.On("CreateSession", mock.Anything, mock.Anything).Return("chat-1", nil)
	backend.On("SelectModel", mock.Anything, mock.Anything, mock.Anything).Return(true)

	o.NewSession(context.Background(), "u1")

	stats := o.Stats()
	assert.Equal(t, 1, stats["sessions"])
	queue, ok := stats["queue"].(map[string]map[string]int)
	require.True(t, ok)
	assert.Equal(t, commandqueue.DefaultBranchConcurrency, queue[commandqueue.LaneBranch]["concurrency"])
}
