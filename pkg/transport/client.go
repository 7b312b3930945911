package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/anuneko/internal/config"
	"github.com/harun/anuneko/internal/observability"
	"github.com/harun/anuneko/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ResolveBranchTimeout bounds the best-effort branch confirmation.
const ResolveBranchTimeout = 5 * time.Second

const tracerName = "anuneko/transport"

// Operation names used in errors, logs and metrics
const (
	OpCreateSession = "create_session"
	OpSelectModel   = "select_model"
	OpResolveBranch = "resolve_branch"
	OpStream        = "stream"
)

// Client talks to the chat backend. It holds no per-user state.
type Client struct {
	cfg        config.Provider
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Timeouts are applied
// per call through the request context, so the client's own Timeout should
// stay zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for best-effort failures
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a transport client reading its settings from cfg on every call
func New(cfg config.Provider, opts ...Option) *Client {
	observability.EnsureRegistered()

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     log.Logger.With().Str("component", "transport").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession asks the backend for a new chat session using model.
func (c *Client) CreateSession(ctx context.Context, model string) (string, error) {
	cfg := c.cfg.Current()
	ctx, span := tracing.StartSpan(ctx, tracerName, "transport.create_session",
		attribute.String("model", model),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
	defer cancel()

	start := time.Now()
	resp, err := c.postJSON(ctx, cfg, cfg.Backend.CreateSessionURL, map[string]interface{}{
		"model": model,
	})
	if err != nil {
		observability.RecordBackendRequest(OpCreateSession, time.Since(start), false)
		err = &BackendError{Op: OpCreateSession, Err: err}
		tracing.RecordError(span, err)
		return "", err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordBackendRequest(OpCreateSession, time.Since(start), false)
		err := &BackendError{Op: OpCreateSession, StatusCode: resp.StatusCode, Err: errorBody(resp.Body)}
		tracing.RecordError(span, err)
		return "", err
	}

	var payload map[string]interface{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		observability.RecordBackendRequest(OpCreateSession, time.Since(start), false)
		err = &BackendError{Op: OpCreateSession, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		tracing.RecordError(span, err)
		return "", err
	}
	observability.RecordBackendRequest(OpCreateSession, time.Since(start), true)

	for _, key := range []string{"chat_id", "id"} {
		if id := idString(payload[key]); id != "" {
			span.SetAttributes(attribute.String("session_id", id))
			return id, nil
		}
	}

	tracing.RecordError(span, ErrNoSessionID)
	return "", ErrNoSessionID
}

// SelectModel sets the model of a session. It reports success only on
// status 200 and never returns an error.
func (c *Client) SelectModel(ctx context.Context, sessionID, model string) bool {
	cfg := c.cfg.Current()
	ctx, span := tracing.StartSpan(ctx, tracerName, "transport.select_model",
		attribute.String("session_id", sessionID),
		attribute.String("model", model),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
	defer cancel()

	start := time.Now()
	resp, err := c.postJSON(ctx, cfg, cfg.Backend.SelectModelURL, map[string]interface{}{
		"chat_id": sessionID,
		"model":   model,
	})
	if err != nil {
		observability.RecordBackendRequest(OpSelectModel, time.Since(start), false)
		tracing.RecordError(span, err)
		c.loggerFor(ctx).Warn().Err(err).Str("session_id", sessionID).Str("model", model).Msg("Select model failed")
		return false
	}
	defer drainAndClose(resp.Body)

	ok := resp.StatusCode == http.StatusOK
	observability.RecordBackendRequest(OpSelectModel, time.Since(start), ok)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if !ok {
		c.loggerFor(ctx).Warn().Int("status", resp.StatusCode).Str("session_id", sessionID).Msg("Select model rejected")
	}
	return ok
}

// ResolveBranch confirms choice 0 for a message. All failures are logged
// at debug level and dropped.
func (c *Client) ResolveBranch(ctx context.Context, messageID string) {
	cfg := c.cfg.Current()
	ctx, span := tracing.StartSpan(ctx, tracerName, "transport.resolve_branch",
		attribute.String("msg_id", messageID),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, ResolveBranchTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.postJSON(ctx, cfg, cfg.Backend.SelectChoiceURL, map[string]interface{}{
		"msg_id":     messageID,
		"choice_idx": 0,
	})
	if err != nil {
		observability.RecordBackendRequest(OpResolveBranch, time.Since(start), false)
		c.loggerFor(ctx).Debug().Err(err).Str("msg_id", messageID).Msg("Resolve branch failed")
		return
	}
	drainAndClose(resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	observability.RecordBackendRequest(OpResolveBranch, time.Since(start), ok)
	if !ok {
		c.loggerFor(ctx).Debug().Int("status", resp.StatusCode).Str("msg_id", messageID).Msg("Resolve branch rejected")
	}
}

// OpenStream posts text to the session's stream endpoint and returns the
// reply body. The stream timeout bounds connecting, the response headers and
// each gap between reads, not the whole reply. The caller must close the body
// after one decode pass.
func (c *Client) OpenStream(ctx context.Context, sessionID, text string) (io.ReadCloser, error) {
	cfg := c.cfg.Current()

	idle := newIdleGuard(ctx, cfg.StreamTimeout())
	ctx = idle.ctx

	body, err := encodeJSON(map[string]interface{}{
		"contents": []string{text},
	})
	if err != nil {
		idle.stop()
		return nil, &BackendError{Op: OpStream, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.StreamURLFor(sessionID), body)
	if err != nil {
		idle.stop()
		return nil, &BackendError{Op: OpStream, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header = BuildHeaders(cfg)
	req.Header.Set("Content-Type", "text/plain")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		idle.stop()
		observability.RecordBackendRequest(OpStream, time.Since(start), false)
		return nil, &BackendError{Op: OpStream, Err: idle.cause(err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &BackendError{Op: OpStream, StatusCode: resp.StatusCode, Err: errorBody(resp.Body)}
		drainAndClose(resp.Body)
		idle.stop()
		observability.RecordBackendRequest(OpStream, time.Since(start), false)
		return nil, err
	}

	observability.RecordBackendRequest(OpStream, time.Since(start), true)
	idle.touch()
	return &streamBody{ReadCloser: resp.Body, idle: idle}, nil
}

func (c *Client) postJSON(ctx context.Context, cfg *config.Config, url string, payload interface{}) (*http.Response, error) {
	body, err := encodeJSON(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = BuildHeaders(cfg)

	return c.httpClient.Do(req)
}

func (c *Client) loggerFor(ctx context.Context) *zerolog.Logger {
	l := tracing.LoggerFromContext(ctx, c.logger)
	return &l
}

// encodeJSON keeps non-ASCII and HTML characters literal.
func encodeJSON(payload interface{}) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	buf.Truncate(buf.Len() - 1)
	return &buf, nil
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func errorBody(r io.Reader) error {
	body, _ := io.ReadAll(io.LimitReader(r, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64*1024))
	_ = rc.Close()
}

// idleGuard cancels a stream once no bytes arrived for timeout. It also
// covers connecting and waiting for the response headers. A zero timeout
// never fires.
type idleGuard struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

func newIdleGuard(parent context.Context, timeout time.Duration) *idleGuard {
	ctx, cancel := context.WithCancelCause(parent)
	g := &idleGuard{ctx: ctx, cancel: cancel, timeout: timeout}
	if timeout > 0 {
		g.timer = time.AfterFunc(timeout, func() { cancel(ErrStreamIdle) })
	}
	return g
}

func (g *idleGuard) touch() {
	if g.timer != nil {
		g.timer.Reset(g.timeout)
	}
}

func (g *idleGuard) stop() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.cancel(context.Canceled)
}

// cause reports ErrStreamIdle instead of the transport's generic
// cancellation error when the guard fired.
func (g *idleGuard) cause(err error) error {
	if errors.Is(context.Cause(g.ctx), ErrStreamIdle) {
		return ErrStreamIdle
	}
	return err
}

type streamBody struct {
	io.ReadCloser
	idle *idleGuard
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.idle.touch()
	}
	if err != nil && err != io.EOF {
		err = b.idle.cause(err)
	}
	return n, err
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.idle.stop()
	return err
}
