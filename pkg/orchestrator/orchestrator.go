package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/harun/anuneko/internal/config"
	"github.com/harun/anuneko/internal/observability"
	"github.com/harun/anuneko/internal/tracing"
	"github.com/harun/anuneko/pkg/commandqueue"
	"github.com/harun/anuneko/pkg/session"
	"github.com/harun/anuneko/pkg/stream"
	"github.com/harun/anuneko/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "anuneko/orchestrator"

// drainTimeout bounds how long Close waits for pending branch confirmations
const drainTimeout = 5 * time.Second

// Backend is the subset of the transport the orchestrator drives
type Backend interface {
	CreateSession(ctx context.Context, model string) (string, error)
	SelectModel(ctx context.Context, sessionID, model string) bool
	ResolveBranch(ctx context.Context, messageID string)
	OpenStream(ctx context.Context, sessionID, text string) (io.ReadCloser, error)
}

// Orchestrator implements the user-facing chat actions on top of a session
// store and a backend.
type Orchestrator struct {
	backend   Backend
	cfg       config.Provider
	store     *session.Store
	queue     *commandqueue.CommandQueue
	logger    zerolog.Logger
	closeOnce sync.Once
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger for the orchestrator
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator
func New(backend Backend, cfg config.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		cfg:     cfg,
		store:   session.NewStore(),
		logger:  log.Logger.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	workers := cfg.Current().Chat.BranchWorkers
	if workers <= 0 {
		workers = commandqueue.DefaultBranchConcurrency
	}
	o.queue = commandqueue.New(commandqueue.WithLaneConcurrency(commandqueue.LaneBranch, workers))
	return o
}

// Stats reports live sessions and the branch queue's load
func (o *Orchestrator) Stats() map[string]interface{} {
	return map[string]interface{}{
		"sessions": o.store.Len(),
		"queue":    o.queue.GetStats(),
	}
}

// SwitchModel points the user's session at the model named by keyword,
// creating a session first if needed.
func (o *Orchestrator) SwitchModel(ctx context.Context, userID, keyword string) string {
	ctx, span := o.startSpan(ctx, "orchestrator.switch_model", userID)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	model, err := o.switchModel(ctx, userID, keyword)
	tracing.RecordError(span, err)

	switch {
	case err == nil:
		observability.RecordAction("switch_model", "ok")
		return MsgSwitched(model.Label())
	case errors.Is(err, ErrUnknownModel):
		observability.RecordAction("switch_model", "unknown_model")
		return MsgUnknownModel
	case errors.Is(err, ErrSessionCreate):
		observability.RecordAction("switch_model", "session_error")
		logger.Error().Err(err).Msg("Switch model could not create a session")
		return MsgSwitchCreateFailed
	default:
		observability.RecordAction("switch_model", "rejected")
		logger.Warn().Err(err).Str("model", model.Name()).Msg("Switch model failed")
		return MsgSwitchFailed(model.Label())
	}
}

func (o *Orchestrator) switchModel(ctx context.Context, userID, keyword string) (session.Model, error) {
	model, ok := session.ResolveModel(keyword)
	if !ok {
		return model, fmt.Errorf("%w: %q", ErrUnknownModel, keyword)
	}

	sessionID, err := o.ensureSession(ctx, userID)
	if err != nil {
		return model, err
	}

	if !o.backend.SelectModel(ctx, sessionID, model.Name()) {
		observability.RecordSessionAudit(ctx, "model_switched", userID, "failure", map[string]interface{}{
			"model": model.Name(),
		})
		return model, ErrSelectModel
	}

	o.store.SetModel(userID, model)
	observability.RecordSessionAudit(ctx, "model_switched", userID, "success", map[string]interface{}{
		"model": model.Name(),
	})
	return model, nil
}

// NewSession replaces the user's session with a fresh one on the user's
// current model.
func (o *Orchestrator) NewSession(ctx context.Context, userID string) string {
	ctx, span := o.startSpan(ctx, "orchestrator.new_session", userID)
	defer span.End()

	if _, err := o.createSession(ctx, userID); err != nil {
		tracing.RecordError(span, err)
		observability.RecordAction("new_session", "session_error")
		o.loggerFor(ctx).Error().Err(err).Msg("New session failed")
		return MsgCreateFailed
	}

	observability.RecordAction("new_session", "ok")
	return MsgNewSession(o.store.Model(userID).Label())
}

// Chat sends the text after the command prefix and returns the reply. It
// returns "" when rawText does not start with the prefix.
func (o *Orchestrator) Chat(ctx context.Context, userID, rawText string) string {
	cfg := o.cfg.Current()

	content, ok := StripCommand(rawText, cfg.Chat.CommandPrefix)
	if !ok {
		return ""
	}
	if content == "" {
		observability.RecordAction("chat", "empty")
		return MsgEmptyChat(cfg.Chat.CommandPrefix)
	}

	ctx, span := o.startSpan(ctx, "orchestrator.chat", userID)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	sessionID, err := o.ensureSession(ctx, userID)
	if err != nil {
		tracing.RecordError(span, err)
		observability.RecordAction("chat", "session_error")
		logger.Error().Err(err).Msg("Chat could not create a session")
		return MsgCreateFailed
	}
	ctx = tracing.WithSessionID(ctx, sessionID)

	reply, err := o.streamReply(ctx, sessionID, content)
	switch {
	case errors.Is(err, stream.ErrUnresolvedBranch):
		observability.RecordAction("chat", "branch_pending")
		logger.Info().Msg("Reply paused on an unresolved branch")
		return MsgUnresolvedBranch
	case err != nil:
		tracing.RecordError(span, err)
		observability.RecordAction("chat", "stream_error")
		logger.Error().Err(err).Msg("Chat stream failed")
		o.flagRejectedCredentials(ctx, err)
		return MsgRequestFailed
	}

	if reply.HasMessageID() {
		o.scheduleBranchResolution(ctx, reply.LastMessageID)
	}

	observability.RecordAction("chat", "ok")
	return reply.Text + cfg.Chat.Watermark
}

// StripCommand reports whether text, ignoring leading whitespace, starts
// with prefix and returns the rest with surrounding whitespace removed.
func StripCommand(text, prefix string) (string, bool) {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	if prefix == "" || !strings.HasPrefix(trimmed, prefix) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(prefix):]), true
}

// Cleanup clears every session. Safe to call repeatedly.
func (o *Orchestrator) Cleanup() {
	users := o.store.Len()
	o.store.ClearAll()
	observability.RecordSessionAudit(context.Background(), "sessions_cleared", "", "success", map[string]interface{}{
		"sessions": users,
	})
}

// Close clears all sessions, lets pending branch confirmations finish for a
// few seconds and stops the queue.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.Cleanup()
		if !o.queue.WaitForActive(drainTimeout) {
			o.logger.Warn().Msg("Pending branch confirmations abandoned")
		}
		err = o.queue.Close()
	})
	return err
}

// ensureSession returns the user's live session id, creating one if needed.
// Two concurrent first contacts may both create a session; the last one
// stored wins.
func (o *Orchestrator) ensureSession(ctx context.Context, userID string) (string, error) {
	if sess, ok := o.store.Get(userID); ok {
		return sess.SessionID, nil
	}
	return o.createSession(ctx, userID)
}

// createSession asks the backend for a session on the user's model, stores
// it and then best-effort pins the model on the new session.
func (o *Orchestrator) createSession(ctx context.Context, userID string) (string, error) {
	model := o.store.Model(userID)

	sessionID, err := o.backend.CreateSession(ctx, model.Name())
	if err != nil {
		observability.RecordSessionAudit(ctx, "session_created", userID, "failure", map[string]interface{}{
			"model": model.Name(),
			"error": err.Error(),
		})
		o.flagRejectedCredentials(ctx, err)
		return "", fmt.Errorf("%w: %w", ErrSessionCreate, err)
	}

	o.store.SetSessionID(userID, sessionID)
	if o.backend.SelectModel(ctx, sessionID, model.Name()) {
		o.store.SetModel(userID, model)
	}

	o.loggerFor(ctx).Info().
		Str("session_id", sessionID).
		Str("model", model.Name()).
		Msg("Session created")
	observability.RecordSessionAudit(ctx, "session_created", userID, "success", map[string]interface{}{
		"model":      model.Name(),
		"session_id": sessionID,
	})
	return sessionID, nil
}

func (o *Orchestrator) streamReply(ctx context.Context, sessionID, text string) (stream.AggregatedReply, error) {
	start := time.Now()

	body, err := o.backend.OpenStream(ctx, sessionID, text)
	if err != nil {
		observability.RecordStream("error", time.Since(start))
		return stream.AggregatedReply{}, err
	}
	defer body.Close()

	reply, err := stream.Aggregate(stream.NewDecoder(body))
	switch {
	case errors.Is(err, stream.ErrUnresolvedBranch):
		observability.RecordStream("branch_pending", time.Since(start))
	case err != nil:
		observability.RecordStream("error", time.Since(start))
	default:
		observability.RecordStream("ok", time.Since(start))
	}
	return reply, err
}

// scheduleBranchResolution confirms the default branch of messageID in the
// background. The caller's reply never waits on it and its outcome is
// dropped.
func (o *Orchestrator) scheduleBranchResolution(ctx context.Context, messageID string) {
	detached := tracing.Detach(ctx)
	_, err := o.queue.Submit(detached, commandqueue.LaneBranch, func(ctx context.Context) (interface{}, error) {
		o.backend.ResolveBranch(ctx, messageID)
		return nil, nil
	})
	if err != nil {
		o.loggerFor(ctx).Debug().Err(err).Str("msg_id", messageID).Msg("Branch confirmation not scheduled")
	}
}

// flagRejectedCredentials warns when the backend refused the token or
// cookie, which no retry will fix.
func (o *Orchestrator) flagRejectedCredentials(ctx context.Context, err error) {
	if transport.IsStatus(err, http.StatusUnauthorized) || transport.IsStatus(err, http.StatusForbidden) {
		o.loggerFor(ctx).Warn().Err(err).
			Msgf("Backend rejected the credentials, check %s and %s", config.TokenEnv, config.CookieEnv)
	}
}

func (o *Orchestrator) loggerFor(ctx context.Context) *zerolog.Logger {
	l := tracing.LoggerFromContext(ctx, o.logger)
	return &l
}

func (o *Orchestrator) startSpan(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	ctx = tracing.EnsureTraceID(tracing.WithUserID(ctx, userID))
	return tracing.StartSpan(ctx, tracerName, name, attribute.String("user_id", userID))
}
