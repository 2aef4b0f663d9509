package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

var capabilities = models.ChannelCapabilities{
	ChatTypes: []models.ChatType{models.ChatDirect},
	Media: models.MediaCapabilities{
		Image: true, Video: true, Audio: true, Voice: true, Document: true,
		MaxFileSize: 100,
	},
	Features: models.FeatureFlags{
		Reactions: true, Edits: true, Deletes: true, Typing: true, ReadReceipts: true,
	},
	Limits: models.RateLimits{TextMaxLength: 100000, CaptionMaxLength: 1000, MessagesPerSecond: 100, MessagesPerMinute: 6000},
}

const (
	pingInterval = 30 * time.Second
	pongWait     = 45 * time.Second
	writeWait    = 10 * time.Second
)

// wsClientMessage is the small tagged-union protocol spoken by the chat
// widget over the socket.
type wsClientMessage struct {
	Type    string `json:"type"`
	ClientID string `json:"client_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Token   string `json:"token,omitempty"`
	Text    string `json:"text,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// wsServerMessage is the tagged-union shape sent back to clients.
type wsServerMessage struct {
	Type      string `json:"type"`
	Success   bool   `json:"success,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Target    string `json:"target,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type client struct {
	id       string
	name     string
	conn     *websocket.Conn
	send     chan wsServerMessage
	peerAddr string
}

// Adapter implements channels.FullAdapter over a WebSocket accept loop.
// Unlike the webhook adapters, it owns a persistent listener: Connect
// starts nothing by itself, StartReceiving does the binding.
type Adapter struct {
	config Config
	logger *slog.Logger
	health *channels.BaseHealthAdapter

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	clientsMu sync.RWMutex
	clients   map[string]*client

	handlerMu sync.RWMutex
	handler   func(*models.InboundMessage)
}

// NewAdapter validates config and prepares the upgrader; it does not
// bind any socket.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	logger := config.Logger.With("adapter", "web", "instance", config.InstanceID)
	a := &Adapter{
		config:  config,
		logger:  logger,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelWeb, logger)
	return a, nil
}

// Metrics reports this adapter's message/connection counters for the
// gateway's Prometheus exporter.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) Info() channels.Info {
	return channels.Info{
		ChannelType:  models.ChannelWeb,
		InstanceID:   a.config.InstanceID,
		Capabilities: capabilities,
	}
}

func (a *Adapter) SetHandler(handler func(*models.InboundMessage)) {
	a.handlerMu.Lock()
	a.handler = handler
	a.handlerMu.Unlock()
}

func (a *Adapter) dispatch(msg *models.InboundMessage) {
	a.handlerMu.RLock()
	h := a.handler
	a.handlerMu.RUnlock()
	if h != nil {
		h(msg)
	}
}

// ClientCount reports the number of currently-connected WebSocket clients.
func (a *Adapter) ClientCount() int {
	a.clientsMu.RLock()
	defer a.clientsMu.RUnlock()
	return len(a.clients)
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.StopReceiving(ctx)
}

func (a *Adapter) IsConnected() bool { return a.health.Status().Connected }

func (a *Adapter) Health(ctx context.Context) channels.HealthStatus { return a.health.HealthCheck(ctx) }

// StartReceiving binds BindAddress and begins accepting WebSocket
// connections in a background goroutine.
func (a *Adapter) StartReceiving(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.BindAddress)
	if err != nil {
		return channels.ErrInternal(fmt.Sprintf("failed to bind %s", a.config.BindAddress), err)
	}
	a.listener = ln

	mux := http.NewServeMux()
	mux.Handle("/", a.UpgradeHandler())
	a.server = &http.Server{Handler: mux}

	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("web channel server stopped", "error", err)
		}
	}()

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	a.logger.Info("web channel listening", "addr", a.config.BindAddress)
	return nil
}

func (a *Adapter) StopReceiving(ctx context.Context) error {
	if a.server != nil {
		_ = a.server.Shutdown(ctx)
		a.server = nil
	}

	a.clientsMu.Lock()
	for _, c := range a.clients {
		close(c.send)
	}
	a.clients = make(map[string]*client)
	a.clientsMu.Unlock()

	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

func (a *Adapter) Receive(ctx context.Context) (*models.InboundMessage, error) {
	return nil, channels.ErrChannelSpecific("web adapter is socket-driven; use SetHandler", nil)
}

func (a *Adapter) TryReceive() (*models.InboundMessage, bool) { return nil, false }

// UpgradeHandler returns the HTTP handler that upgrades incoming requests
// to WebSocket connections. The gateway can mount this directly instead
// of calling StartReceiving, when it already owns the HTTP server.
func (a *Adapter) UpgradeHandler() http.Handler {
	return http.HandlerFunc(a.serveUpgrade)
}

func (a *Adapter) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		id:       "anon_" + uuid.NewString(),
		conn:     conn,
		send:     make(chan wsServerMessage, a.config.BroadcastBuffer),
		peerAddr: r.RemoteAddr,
	}

	a.clientsMu.Lock()
	a.clients[c.id] = c
	a.clientsMu.Unlock()
	a.logger.Debug("web client connected", "client_id", c.id, "peer", c.peerAddr)

	go a.writePump(c)
	a.readPump(c)
}

func (a *Adapter) readPump(c *client) {
	defer func() {
		a.clientsMu.Lock()
		delete(a.clients, c.id)
		a.clientsMu.Unlock()
		close(c.send)
		c.conn.Close()
		a.logger.Debug("web client disconnected", "client_id", c.id)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send <- wsServerMessage{Type: "error", Error: fmt.Sprintf("invalid message format: %v", err)}
			continue
		}

		switch msg.Type {
		case "auth":
			a.clientsMu.Lock()
			delete(a.clients, c.id)
			if msg.ClientID != "" {
				c.id = msg.ClientID
			}
			c.name = msg.Name
			a.clients[c.id] = c
			a.clientsMu.Unlock()
			c.send <- wsServerMessage{Type: "auth_result", Success: true, ClientID: c.id}

		case "message":
			chatID := msg.ChatID
			if chatID == "" {
				chatID = c.id
			}
			inbound := &models.InboundMessage{
				ID:        models.MessageId(uuid.NewString()),
				Timestamp: time.Now().UTC(),
				Channel:   models.ChannelWeb,
				AccountID: string(a.config.InstanceID),
				Sender:    models.Sender{ID: c.id, DisplayName: c.name},
				Chat:      models.Chat{ID: chatID, Type: models.ChatDirect},
				Text:      msg.Text,
				Metadata:  map[string]any{"peer_addr": c.peerAddr},
			}
			a.health.RecordMessageReceived()
			a.dispatch(inbound)

		case "ping":
			c.send <- wsServerMessage{Type: "pong"}

		case "typing":
			// Typing notifications from a client are informational only;
			// nothing downstream currently consumes them.
		}
	}
}

func (a *Adapter) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast fans a server message out to every connected client,
// dropping it for any client whose send buffer is full rather than
// blocking the whole adapter on one slow peer.
func (a *Adapter) broadcast(msg wsServerMessage) {
	a.clientsMu.RLock()
	defer a.clientsMu.RUnlock()
	for _, c := range a.clients {
		select {
		case c.send <- msg:
		default:
			a.logger.Warn("dropping frame for slow web client", "client_id", c.id)
		}
	}
}

func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	id := uuid.NewString()
	a.broadcast(wsServerMessage{
		Type:      "message",
		MessageID: id,
		Text:      msg.Text,
		Target:    msg.Target.ChatID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	a.health.RecordMessageSent()
	return channels.SendResult{MessageID: models.MessageId(id), ChatID: msg.Target.ChatID}, nil
}

// SendWithAttachments logs and falls back to a text-only send: the
// widget protocol carries no attachment frame, so only msg.Text is
// broadcast and the media is neither transmitted nor described.
func (a *Adapter) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	if len(msg.Media) > 0 {
		a.logger.Debug("web channel attachments dropped; sending text only", "count", len(msg.Media))
	}
	return a.Send(ctx, msg)
}

func (a *Adapter) Edit(ctx context.Context, messageID models.MessageId, text string) error {
	a.broadcast(wsServerMessage{Type: "edit", MessageID: string(messageID), Text: text, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	return nil
}

func (a *Adapter) Delete(ctx context.Context, messageID models.MessageId) error {
	a.broadcast(wsServerMessage{Type: "delete", MessageID: string(messageID), Timestamp: time.Now().UTC().Format(time.RFC3339)})
	return nil
}

func (a *Adapter) React(ctx context.Context, messageID models.MessageId, emoji string) error {
	a.broadcast(wsServerMessage{Type: "react", MessageID: string(messageID), Emoji: emoji, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	return nil
}

func (a *Adapter) Unreact(ctx context.Context, messageID models.MessageId, emoji string) error {
	a.broadcast(wsServerMessage{Type: "unreact", MessageID: string(messageID), Emoji: emoji, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	return nil
}

func (a *Adapter) SendTyping(ctx context.Context, chatID string) error {
	a.broadcast(wsServerMessage{Type: "typing", Target: chatID, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	return nil
}

func (a *Adapter) MaxMessageLength() int { return capabilities.MaxMessageLength() }
