package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event names pushed to WebSocket clients
const (
	EventTick            = "tick"
	EventSessionsCleared = "sessions.cleared"
	EventShutdown        = "server.shutdown"
)

// EventBroadcaster sends events to every authenticated client
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends an event to all authenticated clients and returns how
// many received it.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) int {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Seq:       b.seq.Add(1),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return 0
	}

	delivered := 0
	for _, client := range b.clients.GetAuthenticatedClients() {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			continue
		}
		delivered++
	}

	b.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("delivered", delivered).
		Msg("Event broadcast complete")
	return delivered
}
