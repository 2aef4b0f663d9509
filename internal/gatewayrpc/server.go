package gatewayrpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxConnectionsPerSecond = 10
	defaultMaxConnections   = 100
	maxMessagesPerSecond    = 60
	writeWait               = 10 * time.Second
)

// windowCounter is a hard per-wall-clock-second ceiling with no token
// smoothing, distinct from channels.RateLimiter's bucket-and-refill
// pacing: the gateway's connection-rate and per-client message-rate
// gates exist to bound abuse at a flat per-second cap, not to smooth a
// well-behaved client's bursts.
type windowCounter struct {
	mu     sync.Mutex
	second int64
	count  int
	limit  int
}

func newWindowCounter(limit int) *windowCounter {
	return &windowCounter{limit: limit}
}

func (w *windowCounter) allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now().Unix()
	if now != w.second {
		w.second = now
		w.count = 0
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}

// MethodHandler answers one JSON-RPC method call.
type MethodHandler func(ctx context.Context, auth AuthContext, params json.RawMessage) (any, error)

// Config configures a Server.
type Config struct {
	// Addr is the TCP address the server listens on (e.g. ":8787").
	Addr string
	// BearerToken authenticates non-loopback clients; empty disables
	// token auth for non-loopback binds.
	BearerToken string
	// RequireAuth rejects unauthenticated non-loopback connections
	// outright (HTTP 401) instead of granting a read-only context.
	RequireAuth bool
	// TrustedOrigins is the allowlist non-loopback Origin headers are
	// prefix-matched against, in addition to localhost/127.0.0.1.
	TrustedOrigins []string
	// MaxConnections caps concurrently registered clients.
	MaxConnections int
	// PairingSecret signs node.pair JWTs; empty falls back to BearerToken,
	// and then to a process-lifetime random key (pairing tokens from a
	// previous process become invalid on restart in that case).
	PairingSecret string
	Logger        *slog.Logger
}

// Server is the Gateway RPC's WebSocket/JSON-RPC endpoint.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	methodsMu sync.RWMutex
	methods   map[string]MethodHandler

	connRate *windowCounter

	clientsMu sync.RWMutex
	clients   map[string]*clientConn

	broadcast chan string

	httpServer   *http.Server
	promRegistry *prometheus.Registry
	metrics      *gatewayMetrics

	pairing *pairingIssuer
}

type clientConn struct {
	id        string
	conn      *websocket.Conn
	auth      AuthContext
	msgRate   *windowCounter
	writeMu   sync.Mutex
}

// NewServer builds a Server bound to cfg. Register methods with
// Handle before calling Serve.
func NewServer(cfg Config) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	metrics := newGatewayMetrics()
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(metrics.connectedClients, metrics.methodCalls, metrics.methodErrors, metrics.toolDuration)

	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		methods: make(map[string]MethodHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
		},
		connRate:     newWindowCounter(maxConnectionsPerSecond),
		clients:      make(map[string]*clientConn),
		broadcast:    make(chan string, 256),
		promRegistry: promRegistry,
		metrics:      metrics,
		pairing:      newPairingIssuer(cfg.PairingSecret, cfg.BearerToken),
	}
}

// Handle registers a MethodHandler for an exact JSON-RPC method name.
func (s *Server) Handle(method string, handler MethodHandler) {
	s.methodsMu.Lock()
	defer s.methodsMu.Unlock()
	s.methods[method] = handler
}

// Broadcast enqueues a server-initiated notification for every connected
// client. Lossy: when the broadcast queue is full the notification is
// dropped with a warning log instead of blocking the caller. The
// broadcast loop then writes it to each client in turn.
func (s *Server) Broadcast(payload string) {
	select {
	case s.broadcast <- payload:
	default:
		s.logger.Warn("gateway broadcast channel full, dropping notification")
	}
}

// Serve starts the HTTP/WebSocket listener and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	go s.broadcastLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.broadcast:
			s.clientsMu.RLock()
			for _, c := range s.clients {
				c.send(websocket.TextMessage, []byte(payload))
			}
			s.clientsMu.RUnlock()
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.connRate.allow() {
		http.Error(w, "too many new connections", http.StatusTooManyRequests)
		return
	}

	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()
	if count >= s.cfg.MaxConnections {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	loopback := isLoopback(r.RemoteAddr)
	if !loopback && !s.originAllowed(r.Header.Get("Origin")) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	auth, ok := s.authenticate(r, loopback)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &clientConn{
		id:      uuid.NewString(),
		conn:    conn,
		auth:    auth,
		msgRate: newWindowCounter(maxMessagesPerSecond),
	}
	client.auth.ClientID = client.id

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	s.metrics.connectedClients.Inc()

	go s.readLoop(r.Context(), client)
}

// handleHealth answers a plain GET /health check with the connected
// client count, independent of the WebSocket/JSON-RPC surface.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{Status: "ok", Clients: count})
}

// originAllowed implements a prefix-match allowlist: localhost and
// 127.0.0.1 are always accepted, plus any configured trusted host.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	builtins := []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"}
	for _, prefix := range builtins {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	for _, prefix := range s.cfg.TrustedOrigins {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) authenticate(r *http.Request, loopback bool) (AuthContext, bool) {
	now := time.Now().Unix()
	if loopback {
		return AuthContext{Scopes: allScopes(), Identity: "loopback", AuthenticatedAt: now}, true
	}

	if token := bearerToken(r); token != "" {
		if s.cfg.BearerToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.BearerToken)) == 1 {
			return AuthContext{Scopes: allScopes(), Identity: "bearer", AuthenticatedAt: now}, true
		}
		if nodeID, err := s.VerifyPairingToken(token); err == nil {
			return AuthContext{
				Scopes:          map[Scope]bool{ScopeRead: true, ScopeWrite: true, ScopePairing: true},
				Identity:        "node:" + nodeID,
				AuthenticatedAt: now,
			}, true
		}
	}

	if s.cfg.RequireAuth {
		return AuthContext{}, false
	}
	return AuthContext{Scopes: readOnlyScope(), Identity: "anonymous", AuthenticatedAt: now}, true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) readLoop(ctx context.Context, c *clientConn) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()
		s.metrics.connectedClients.Dec()
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.msgRate.allow() {
			c.send(websocket.TextMessage, mustMarshal(newError(nil, CodeRateLimited, "rate limit exceeded")))
			continue
		}
		resp := s.handleMessage(ctx, c, raw)
		c.send(websocket.TextMessage, mustMarshal(resp))
	}
}

func (s *Server) handleMessage(ctx context.Context, c *clientConn, raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return newError(nil, CodeParseError, "parse error")
	}

	required := requiredScope(req.Method)
	if !c.auth.HasScope(required) {
		return newError(req.ID, CodeForbidden, "insufficient permissions")
	}

	s.methodsMu.RLock()
	handler, ok := s.methods[req.Method]
	s.methodsMu.RUnlock()
	if !ok {
		return newError(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}

	s.metrics.methodCalls.WithLabelValues(req.Method).Inc()
	result, err := handler(ctx, c.auth, req.Params)
	if err != nil {
		s.metrics.methodErrors.WithLabelValues(req.Method).Inc()
		return newError(req.ID, CodeInternalError, err.Error())
	}
	return newResult(req.ID, result)
}

func (c *clientConn) send(messageType int, payload []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(messageType, payload)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error"}}`)
	}
	return b
}
