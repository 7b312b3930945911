package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/anuneko/internal/config"
	"github.com/harun/anuneko/internal/observability"
	"github.com/harun/anuneko/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	maxMessageBytes    = 1 << 20
	defaultTick        = 30 * time.Second
	inFlightWaitWindow = 30 * time.Second
)

// Server exposes the chat actions over HTTP JSON-RPC and WebSocket
type Server struct {
	host           string
	port           int
	tickInterval   time.Duration
	rateLimit      int
	maxConcurrent  int
	server         *http.Server
	listener       net.Listener
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	router         *RPCRouter
	authHandler    *AuthHandler
	broadcaster    *EventBroadcaster
	actions        Actions
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	tickCancel     context.CancelFunc
	tickWG         sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host              string
	Port              int
	SharedSecret      string
	TickInterval      time.Duration
	RequestsPerMinute int
	MaxConcurrent     int
	Actions           Actions
	Logger            zerolog.Logger
}

// ConfigFrom builds a server config from the gateway section of the adapter
// configuration.
func ConfigFrom(gw config.GatewayConfig, actions Actions, logger zerolog.Logger) Config {
	return Config{
		Host:              gw.Host,
		Port:              gw.Port,
		SharedSecret:      gw.SharedSecret,
		RequestsPerMinute: gw.RequestsPerMinute,
		MaxConcurrent:     gw.MaxConcurrent,
		Actions:           actions,
		Logger:            logger,
	}
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Actions == nil {
		return nil, fmt.Errorf("actions are required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTick
	}

	clients := NewClientRegistry()
	s := &Server{
		host:          cfg.Host,
		port:          cfg.Port,
		tickInterval:  cfg.TickInterval,
		rateLimit:     cfg.RequestsPerMinute,
		maxConcurrent: cfg.MaxConcurrent,
		clients:       clients,
		router:        NewRPCRouter(),
		authHandler:   NewAuthHandler(cfg.SharedSecret),
		broadcaster:   NewEventBroadcaster(clients, cfg.Logger),
		actions:       cfg.Actions,
		logger:        cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registerBuiltinMethods()

	return s, nil
}

// Handler returns the HTTP handler serving every gateway endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new work, waits for in-flight requests and shuts down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")
	s.stopTickEmitter()

	s.broadcaster.Broadcast(EventShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown deadline reached, forcing close")
	case <-time.After(inFlightWaitWindow):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) startTickEmitter() {
	tickCtx, cancel := context.WithCancel(context.Background())
	s.tickCancel = cancel
	s.tickWG.Add(1)

	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.broadcaster.Broadcast(EventTick, map[string]interface{}{
					"status": "alive",
				})
			}
		}
	}()
}

func (s *Server) stopTickEmitter() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	s.tickWG.Wait()
}

// requestContext starts a request-scoped context with a trace id
func requestContext(transport, traceID, requestID string) context.Context {
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(context.Background(), traceID)
	ctx = tracing.WithRequestID(ctx, requestID)
	return withTransport(ctx, transport)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(s.rateLimit, s.maxConcurrent),
		State:        StateConnecting,
	}

	if err := s.greet(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to greet client")
		_ = conn.Close()
		return
	}

	s.clients.Add(client)
	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

// greet sends the auth challenge, or marks the client authenticated when no
// secret is configured.
func (s *Server) greet(client *Client) error {
	if !s.authHandler.Required() {
		client.Authenticated = true
		client.State = StateAuthenticated
		return client.WriteJSON(EventMessage{
			Type:      "event",
			Event:     "connected",
			Data:      map[string]interface{}{"clientId": client.ID},
			Timestamp: time.Now().UnixMilli(),
		})
	}

	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}
	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

// handleClient reads messages from a client until it disconnects
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.State = StateDisconnected
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, message)
	}
}

// handleMessage handles a single message from a client
func (s *Server) handleMessage(client *Client, message []byte) {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		s.handleAuthMessage(client, authResp)
		return
	}

	if !client.Authenticated {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return
	}

	if s.shuttingDown() {
		s.sendError(client, req.ID, InternalError, "Server is shutting down")
		return
	}

	allowed, reason := client.RateLimiter.CheckRequestAllowed()
	if !allowed {
		code := RateLimitExceeded
		if reason == ReasonTooManyConcurrent {
			code = TooManyConcurrent
		}
		s.sendError(client, req.ID, code, reason)
		return
	}

	client.RateLimiter.RecordRequestStart()
	s.inFlightReqs.Add(1)

	go func() {
		defer client.RateLimiter.RecordRequestEnd()
		defer s.inFlightReqs.Done()

		ctx := withClientID(requestContext(TransportWebSocket, "", req.ID), client.ID)
		response := s.router.RouteRequest(ctx, req)
		if err := client.WriteJSON(response); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
}

// handleRPC handles single-shot HTTP JSON-RPC requests
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authHandler.VerifySecret(r.Header.Get(SecretHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	req, err := s.router.ParseRequest(body)
	if err != nil {
		code := ParseError
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			code = rpcErr.Code
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorResponse("", code, err.Error()))
		return
	}

	ctx := requestContext(TransportHTTP, r.Header.Get("X-Trace-Id"), req.ID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	resp := s.router.RouteRequest(ctx, req)

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

// handleAuthMessage handles authentication messages
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) {
	if client.Authenticated {
		_ = client.WriteJSON(AuthResult{Event: "auth.success", Success: true})
		return
	}

	// the broadcaster reads Authenticated under the registry lock
	s.clients.mu.Lock()
	result := s.authHandler.HandleAuthResponse(client, authResp.Signature)
	s.clients.mu.Unlock()

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if !result.Success {
		s.logger.Warn().
			Str("clientId", client.ID).
			Str("reason", result.Message).
			Msg("Authentication failed")

		if client.AuthAttempts >= maxAuthAttempts {
			_ = client.Conn.Close()
		}
		return
	}
	s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	if err := client.WriteJSON(errorResponse(requestID, code, message)); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// Broadcast sends an event to all authenticated clients
func (s *Server) Broadcast(event string, data interface{}) int {
	return s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// UnregisterMethod unregisters an RPC method handler
func (s *Server) UnregisterMethod(name string) {
	s.router.UnregisterMethod(name)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
