package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/anuneko/internal/observability"
)

// Actions is what the gateway exposes over RPC
type Actions interface {
	Chat(ctx context.Context, userID, rawText string) string
	SwitchModel(ctx context.Context, userID, keyword string) string
	NewSession(ctx context.Context, userID string) string
	Cleanup()
}

// StatsReporter is implemented by actions that can describe their own
// state for gateway.stats
type StatsReporter interface {
	Stats() map[string]interface{}
}

// Built-in method names
const (
	MethodChat        = "neko.chat"
	MethodSwitchModel = "neko.switchModel"
	MethodNewSession  = "neko.newSession"
	MethodCleanup     = "neko.cleanup"
	MethodClients     = "gateway.clients"
	MethodStats       = "gateway.stats"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod(MethodChat, s.handleChat)
	_ = s.RegisterMethod(MethodSwitchModel, s.handleSwitchModel)
	_ = s.RegisterMethod(MethodNewSession, s.handleNewSession)
	_ = s.RegisterMethod(MethodCleanup, s.handleCleanup)
	_ = s.RegisterMethod(MethodClients, s.handleClients)
	_ = s.RegisterMethod(MethodStats, s.handleStats)
}

func requireString(params map[string]interface{}, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok {
		return "", &RPCError{
			Code:    InvalidParams,
			Message: fmt.Sprintf("%s parameter is required and must be a string", key),
		}
	}
	return value, nil
}

func requireUserID(params map[string]interface{}) (string, error) {
	userID, err := requireString(params, "userId")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(userID) == "" {
		return "", &RPCError{Code: InvalidParams, Message: "userId cannot be empty"}
	}
	return userID, nil
}

func reply(text string) map[string]interface{} {
	return map[string]interface{}{"reply": text}
}

// handleChat handles neko.chat. The reply is empty when text is not a chat
// command.
func (s *Server) handleChat(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUserID(params)
	if err != nil {
		return nil, err
	}
	text, err := requireString(params, "text")
	if err != nil {
		return nil, err
	}
	return reply(s.actions.Chat(ctx, userID, text)), nil
}

// handleSwitchModel handles neko.switchModel
func (s *Server) handleSwitchModel(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUserID(params)
	if err != nil {
		return nil, err
	}
	target, err := requireString(params, "target")
	if err != nil {
		return nil, err
	}
	return reply(s.actions.SwitchModel(ctx, userID, target)), nil
}

// handleNewSession handles neko.newSession
func (s *Server) handleNewSession(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := requireUserID(params)
	if err != nil {
		return nil, err
	}
	return reply(s.actions.NewSession(ctx, userID)), nil
}

// handleCleanup handles neko.cleanup and tells connected clients about it
func (s *Server) handleCleanup(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	actor := ClientIDFromContext(ctx)
	if actor == "" {
		actor = transportFromContext(ctx)
	}
	s.CleanupSessions(ctx, actor)
	return map[string]interface{}{"cleared": true}, nil
}

// CleanupSessions clears every session on behalf of actor and tells
// connected clients about it
func (s *Server) CleanupSessions(ctx context.Context, actor string) {
	s.actions.Cleanup()
	observability.RecordConfigAudit(ctx, "gateway_cleanup", actor, nil)

	s.broadcaster.Broadcast(EventSessionsCleared, map[string]interface{}{
		"by": actor,
	})
}

// handleClients handles gateway.clients
func (s *Server) handleClients(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"clients": s.clients.GetConnectedClients(),
	}, nil
}

// handleStats handles gateway.stats
func (s *Server) handleStats(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	stats := map[string]interface{}{
		"methods": s.router.GetMethods(),
		"clients": s.clients.Count(),
	}
	if reporter, ok := s.actions.(StatsReporter); ok {
		stats["adapter"] = reporter.Stats()
	}
	return stats, nil
}
