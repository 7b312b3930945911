package gateway

import "context"

type ctxKey string

const (
	clientIDKey  ctxKey = "clientID"
	transportKey ctxKey = "transport"
)

// Transports a request can arrive on
const (
	TransportHTTP      = "http"
	TransportWebSocket = "ws"
)

func withClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext returns the WebSocket client id of the caller, if any
func ClientIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(clientIDKey).(string); ok {
		return value
	}
	return ""
}

func withTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

func transportFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(transportKey).(string); ok {
		return value
	}
	return TransportHTTP
}
