package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/tyonishi/commanda-sub001/internal/metrics"
	"github.com/tyonishi/commanda-sub001/internal/tracing"
	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
	"github.com/tyonishi/commanda-sub001/pkg/extension"
	"github.com/tyonishi/commanda-sub001/pkg/history"
	"github.com/tyonishi/commanda-sub001/pkg/process"
	"github.com/tyonishi/commanda-sub001/pkg/secrets"
)

// StatusFunc reports daemon-level status for the status RPC method.
type StatusFunc func() map[string]interface{}

const (
	// The server pings every pingInterval; a client silent past pongWait
	// fails its read deadline and is dropped.
	pingInterval = 30 * time.Second
	pongWait     = 75 * time.Second

	// writeWait bounds how long a slow client can stall a write.
	writeWait = 10 * time.Second

	// Tool calls are small JSON documents. Anything larger is a protocol
	// error, not a payload.
	maxMessageBytes = 1 << 20

	// shutdownGrace is how long Stop waits for in-flight requests before
	// closing connections under them.
	shutdownGrace = 30 * time.Second
)

// Server is the main Gateway Server
type Server struct {
	host           string
	port           int
	sharedSecret   string
	tickInterval   time.Duration
	reqsPerMinute  int
	maxConcurrent  int
	server         *http.Server
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	router         *RPCRouter
	authHandler    *AuthHandler
	broadcaster    *EventBroadcaster
	dispatcher     *dispatcher.Dispatcher
	extensions     *extension.Registry
	processes      *process.Manager
	secrets        *secrets.Store
	history        *history.Store
	status         StatusFunc
	metrics        *metrics.Metrics
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
	Dispatcher        *dispatcher.Dispatcher
	Extensions        *extension.Registry
	Processes         *process.Manager
	Secrets           *secrets.Store
	History           *history.Store
	Status            StatusFunc
	Metrics           *metrics.Metrics
	Logger            zerolog.Logger
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}

	clients := NewClientRegistry()
	router := NewRPCRouter()
	authHandler := NewAuthHandler(cfg.SharedSecret)
	broadcaster := NewEventBroadcaster(clients, cfg.Logger)

	s := &Server{
		host:          cfg.Host,
		port:          cfg.Port,
		sharedSecret:  cfg.SharedSecret,
		tickInterval:  cfg.TickInterval,
		reqsPerMinute: cfg.RequestsPerMinute,
		maxConcurrent: cfg.MaxConcurrent,
		clients:       clients,
		router:        router,
		authHandler:   authHandler,
		broadcaster:   broadcaster,
		dispatcher:    cfg.Dispatcher,
		extensions:    cfg.Extensions,
		processes:     cfg.Processes,
		secrets:       cfg.Secrets,
		history:       cfg.History,
		status:        cfg.Status,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The gateway binds loopback; origin checks add nothing there.
				return true
			},
		},
	}

	// Register built-in methods
	s.registerBuiltinMethods()

	return s, nil
}

// Start binds the listener and begins serving. Bind failures surface
// here instead of in a goroutine log line.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("failed to bind gateway listener: %w", err)
	}

	s.server = &http.Server{Handler: mux}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()

	return nil
}

// Stop gracefully stops the Gateway Server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")
	s.stopTickEmitter()

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	if waitTimeout(&s.inFlightReqs, shutdownGrace) {
		s.logger.Info().Msg("All in-flight requests completed")
	} else {
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.clients.CloseAll("server shutting down")

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) startTickEmitter() {
	if s.tickInterval <= 0 {
		return
	}

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
				s.broadcaster.Broadcast("tick", map[string]interface{}{
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

// waitTimeout waits for wg up to d. It reports whether the wait finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// handleWebSocket upgrades a connection and starts its session goroutine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := s.newClient(conn, r.RemoteAddr)
	s.clients.Add(client)
	if s.metrics != nil {
		s.metrics.GatewayConnections.Inc()
	}

	s.logger.Info().
		Str("clientId", client.ID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth challenge")
		s.dropClient(client)
		return
	}

	// Connection context: cancelled on disconnect so in-flight calls
	// dispatched by this client observe cancellation.
	connCtx, connCancel := context.WithCancel(context.Background())

	go s.handleClient(connCtx, connCancel, client)
}

// newClient wraps a fresh connection in an unauthenticated client record.
func (s *Server) newClient(conn *websocket.Conn, remoteAddr string) *Client {
	id, _ := gonanoid.New()
	now := time.Now()

	return &Client{
		ID:           id,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    remoteAddr,
		RateLimiter:  NewClientRateLimiter(s.reqsPerMinute, s.maxConcurrent),
		State:        StateConnecting,
	}
}

// dropClient closes the connection and erases the client from the
// registry and the connection gauge.
func (s *Server) dropClient(client *Client) {
	client.Conn.Close()
	s.clients.Remove(client.ID)
	if s.metrics != nil {
		s.metrics.GatewayConnections.Dec()
	}
}

// sendAuthChallenge issues a fresh challenge and moves the client into
// the authenticating state.
func (s *Server) sendAuthChallenge(client *Client) error {
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

// handleClient reads messages from a client until it disconnects, goes
// silent past pongWait, or sends something oversized.
func (s *Server) handleClient(ctx context.Context, cancel context.CancelFunc, client *Client) {
	defer func() {
		cancel()
		s.dropClient(client)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	client.Conn.SetReadLimit(maxMessageBytes)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.pingLoop(ctx, client)

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			break
		}

		_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.clients.UpdateActivity(client.ID)
		s.handleMessage(ctx, client, message)
	}
}

// pingLoop keeps the connection's read deadline fed. It exits with the
// connection context.
func (s *Server) pingLoop(ctx context.Context, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := client.Conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// handleMessage handles a single message from a client
func (s *Server) handleMessage(ctx context.Context, client *Client, message []byte) {
	// Auth responses share the request framing, so sniff for them before
	// full RPC parsing.
	if authResp, ok := parseAuthResponse(message); ok {
		s.handleAuthMessage(client, authResp)
		return
	}

	if !client.Authenticated {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return
	}

	// Admit under the client's rate limits
	if err := client.RateLimiter.Admit(); err != nil {
		code := RateLimitExceeded
		if errors.Is(err, ErrTooManyConcurrent) {
			code = TooManyConcurrent
		}
		s.sendError(client, req.ID, code, err.Error())
		return
	}
	s.inFlightReqs.Add(1)

	// Handle request asynchronously
	go func() {
		defer client.RateLimiter.Done()
		defer s.inFlightReqs.Done()

		reqCtx := tracing.WithTraceID(ctx, tracing.NewTraceID())
		reqCtx = tracing.WithClientID(reqCtx, client.ID)
		if req.ID != "" {
			reqCtx = tracing.WithRequestID(reqCtx, req.ID)
		}

		response := s.router.RouteRequest(reqCtx, req)
		s.countRequest(req.Method, response)
		if err := client.WriteJSON(response); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
}

// handleRPC handles single-shot HTTP JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.sharedSecret != "" {
		secret := r.Header.Get("X-Commanda-Secret")
		if secret != s.sharedSecret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(RPCResponse{
			ID:      "",
			JSONRPC: jsonrpcVersion,
			Error: &RPCError{
				Code:    ParseError,
				Message: err.Error(),
			},
		})
		return
	}

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}

	// Derive from the request context so an aborted HTTP client
	// cancels the call it started.
	ctx := tracing.WithTraceID(r.Context(), traceID)
	if req.ID != "" {
		ctx = tracing.WithRequestID(ctx, req.ID)
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("trace_id", traceID).
		Str("request_id", req.ID).
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	resp := s.router.RouteRequest(ctx, req)
	s.countRequest(req.Method, resp)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

// parseAuthResponse reports whether a raw message is an auth response.
func parseAuthResponse(message []byte) (AuthResponse, bool) {
	var resp AuthResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return AuthResponse{}, false
	}
	return resp, resp.Method == "auth.response"
}

// handleAuthMessage verifies a challenge signature and reports the result
// back to the client.
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) {
	result := s.authHandler.HandleAuthResponse(client, authResp.Signature)

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if result.Success {
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return
	}

	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")

	// A locked-out client gets no further tries on this connection.
	if client.AuthAttempts >= maxAuthAttempts {
		client.Conn.Close()
	}
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

func (s *Server) countRequest(method string, resp *RPCResponse) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if resp != nil && resp.Error != nil {
		status = "error"
	}
	s.metrics.GatewayRequestsTotal.WithLabelValues(method, status).Inc()
}

// Broadcast broadcasts an event to all authenticated clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
