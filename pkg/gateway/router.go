package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// replayTTL is how long an idempotency-keyed response stays replayable.
const replayTTL = 5 * time.Minute

// RPCRouter dispatches parsed JSON-RPC requests to registered method
// handlers and replays cached responses for idempotency-keyed requests.
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]RequestHandler
	replay  *replayCache
}

// NewRPCRouter creates a router with no methods registered.
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]RequestHandler),
		replay:  newReplayCache(replayTTL),
	}
}

// RegisterMethod registers a handler under a method name, replacing any
// existing registration.
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = handler
	return nil
}

// HasMethod reports whether a method is registered.
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.methods[name]
	return ok
}

// MethodNames returns the registered method names, sorted.
func (r *RPCRouter) MethodNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseRequest decodes and validates a JSON-RPC request.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	switch {
	case req.ID == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	}

	if req.JSONRPC == "" {
		req.JSONRPC = jsonrpcVersion
	}
	return &req, nil
}

// RouteRequest routes a request to its handler. The context flows through
// to the handler so caller disconnects cancel the work. Requests carrying
// an idempotency key are answered from the replay cache when possible.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return errorResponse("", InvalidRequest, "invalid request")
	}

	cacheKey := replayKey(req.Method, req.IdempotencyKey)
	if cacheKey != "" {
		if cached, ok := r.replay.get(cacheKey); ok {
			cached.ID = req.ID
			return &cached
		}
	}

	r.mu.RLock()
	handler, ok := r.methods[req.Method]
	r.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	var response *RPCResponse
	if result, err := invokeHandler(ctx, handler, req.Params); err != nil {
		response = &RPCResponse{ID: req.ID, JSONRPC: jsonrpcVersion, Error: rpcErrorFrom(err)}
	} else {
		response = successResponse(req.ID, result)
	}

	// Internal errors are transient; replaying them would turn one crash
	// into a permanent answer for the key.
	if cacheKey != "" && (response.Error == nil || response.Error.Code != InternalError) {
		r.replay.put(cacheKey, *response)
	}
	return response
}

// invokeHandler runs a handler and converts a panic into an error, so a
// broken handler cannot take down the connection read loop.
func invokeHandler(ctx context.Context, handler RequestHandler, params map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &RPCError{
				Code:    InternalError,
				Message: fmt.Sprintf("handler panic: %v", rec),
			}
		}
	}()

	return handler(ctx, params)
}

// rpcErrorFrom keeps handler-chosen codes and wraps everything else as an
// internal error.
func rpcErrorFrom(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &RPCError{
		Code:    InternalError,
		Message: err.Error(),
	}
}

// successResponse builds a result response.
func successResponse(id string, result interface{}) *RPCResponse {
	return &RPCResponse{ID: id, JSONRPC: jsonrpcVersion, Result: result}
}

// errorResponse builds an error response.
func errorResponse(id string, code int, message string) *RPCResponse {
	return &RPCResponse{
		ID:      id,
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// replayKey scopes an idempotency key to its method so the same key sent
// to two methods cannot replay across them.
func replayKey(method, idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}
	return method + ":" + idempotencyKey
}

// replayCache stores responses to idempotency-keyed requests for a bounded
// time. It has its own lock; method registration never contends with
// replay lookups.
type replayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]replayEntry
}

type replayEntry struct {
	response  RPCResponse
	expiresAt time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{
		ttl:     ttl,
		entries: make(map[string]replayEntry),
	}
}

func (c *replayCache) get(key string) (RPCResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return RPCResponse{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return RPCResponse{}, false
	}
	return cloneResponse(entry.response), true
}

// put stores a response and sweeps expired entries while it holds the
// lock, bounding the cache without a background goroutine.
func (c *replayCache) put(key string, response RPCResponse) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = replayEntry{
		response:  cloneResponse(response),
		expiresAt: now.Add(c.ttl),
	}
}

// cloneResponse copies a response deeply enough that a cached entry cannot
// be mutated through a returned pointer.
func cloneResponse(src RPCResponse) RPCResponse {
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
