package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/anuneko/internal/observability"
)

// DefaultIdempotencyTTL is how long a keyed response is replayed
const DefaultIdempotencyTTL = 5 * time.Minute

// RPCRouter handles RPC method registration and request routing
type RPCRouter struct {
	mu               sync.RWMutex
	methods          map[string]RequestHandler
	idempotencyTTL   time.Duration
	idempotencyCache map[string]cachedRPCResponse
	now              func() time.Time
}

type cachedRPCResponse struct {
	response  RPCResponse
	expiresAt time.Time
}

// NewRPCRouter creates a new RPC router
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods:          make(map[string]RequestHandler),
		idempotencyTTL:   DefaultIdempotencyTTL,
		idempotencyCache: make(map[string]cachedRPCResponse),
		now:              time.Now,
	}
}

// RegisterMethod registers an RPC method handler, replacing any previous one
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if name == "" {
		return fmt.Errorf("method name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = handler
	return nil
}

// UnregisterMethod removes an RPC method handler
func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.methods, name)
}

// ParseRequest parses and validates a JSON-RPC request
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error",
			Data:    err.Error(),
		}
	}

	if req.ID == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing id field",
		}
	}

	if req.Method == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}
	}

	switch req.JSONRPC {
	case "":
		req.JSONRPC = "2.0"
	case "2.0":
	default:
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: fmt.Sprintf("Invalid request: unsupported jsonrpc version %q", req.JSONRPC),
		}
	}

	return &req, nil
}

// RouteRequest routes a request to its handler. A request carrying an
// idempotency key gets the cached response of an earlier call with the same
// method and key.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return errorResponse("", InvalidRequest, "invalid request")
	}

	cacheKey := idempotencyCacheKey(req.Method, req.IdempotencyKey)
	if cacheKey != "" {
		if cached, ok := r.getCachedResponse(cacheKey); ok {
			cached.ID = req.ID
			return &cached
		}
	}

	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		observability.RecordGatewayRequest(transportFromContext(ctx), "unknown", false)
		return errorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	result, err := callHandler(ctx, handler, req.Params)
	observability.RecordGatewayRequest(transportFromContext(ctx), req.Method, err == nil)

	var response *RPCResponse
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			response = &RPCResponse{ID: req.ID, JSONRPC: "2.0", Error: rpcErr}
		} else {
			response = errorResponse(req.ID, InternalError, err.Error())
		}
	} else {
		response = &RPCResponse{
			ID:      req.ID,
			JSONRPC: "2.0",
			Result:  result,
		}
	}

	if cacheKey != "" {
		r.cacheResponse(cacheKey, *response)
	}

	return response
}

func callHandler(ctx context.Context, handler RequestHandler, params map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	if params == nil {
		params = map[string]interface{}{}
	}
	return handler(ctx, params)
}

func errorResponse(id string, code int, message string) *RPCResponse {
	return &RPCResponse{
		ID:      id,
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
}

// GetMethods returns all registered method names, sorted
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

func idempotencyCacheKey(method string, idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}
	return method + ":" + idempotencyKey
}

func (r *RPCRouter) getCachedResponse(key string) (RPCResponse, bool) {
	r.mu.RLock()
	entry, exists := r.idempotencyCache[key]
	r.mu.RUnlock()
	if !exists {
		return RPCResponse{}, false
	}

	now := r.now()
	if now.After(entry.expiresAt) {
		r.mu.Lock()
		if current, ok := r.idempotencyCache[key]; ok && now.After(current.expiresAt) {
			delete(r.idempotencyCache, key)
		}
		r.mu.Unlock()
		return RPCResponse{}, false
	}

	return cloneRPCResponse(entry.response), true
}

func (r *RPCRouter) cacheResponse(key string, response RPCResponse) {
	now := r.now()

	r.mu.Lock()
	r.idempotencyCache[key] = cachedRPCResponse{
		response:  cloneRPCResponse(response),
		expiresAt: now.Add(r.idempotencyTTL),
	}
	for cacheKey, entry := range r.idempotencyCache {
		if now.After(entry.expiresAt) {
			delete(r.idempotencyCache, cacheKey)
		}
	}
	r.mu.Unlock()
}

func cloneRPCResponse(src RPCResponse) RPCResponse {
	cloned := RPCResponse{
		ID:      src.ID,
		Result:  src.Result,
		JSONRPC: src.JSONRPC,
	}
	if src.Error != nil {
		errCopy := *src.Error
		cloned.Error = &errCopy
	}
	return cloned
}
