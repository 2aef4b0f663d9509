package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartassist/smartassist/pkg/models"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.BindAddress != "127.0.0.1:8082" {
		t.Errorf("unexpected default bind address %q", c.BindAddress)
	}
	if c.InstanceID != "default" || c.BroadcastBuffer != 1000 {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestAdapter_MaxMessageLength(t *testing.T) {
	a := newTestAdapter(t)
	if a.MaxMessageLength() != 100000 {
		t.Errorf("expected 100000, got %d", a.MaxMessageLength())
	}
}

func dialTestServer(t *testing.T, a *Adapter) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(a.UpgradeHandler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, srv
}

func TestAdapter_InboundMessageDispatch(t *testing.T) {
	a := newTestAdapter(t)
	received := make(chan *models.InboundMessage, 1)
	a.SetHandler(func(m *models.InboundMessage) { received <- m })

	conn, srv := dialTestServer(t, a)
	defer srv.Close()
	defer conn.Close()

	payload, _ := json.Marshal(wsClientMessage{Type: "message", Text: "hello there", ChatID: "chat-1"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Text != "hello there" {
			t.Errorf("unexpected text %q", msg.Text)
		}
		if msg.Chat.ID != "chat-1" || msg.Chat.Type != models.ChatDirect {
			t.Errorf("unexpected chat %+v", msg.Chat)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

func TestAdapter_AuthAssignsClientID(t *testing.T) {
	a := newTestAdapter(t)
	conn, srv := dialTestServer(t, a)
	defer srv.Close()
	defer conn.Close()

	payload, _ := json.Marshal(wsClientMessage{Type: "auth", ClientID: "user-42", Name: "Ada"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp wsServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "auth_result" || !resp.Success || resp.ClientID != "user-42" {
		t.Errorf("unexpected auth response %+v", resp)
	}
}

func TestAdapter_Ping(t *testing.T) {
	a := newTestAdapter(t)
	conn, srv := dialTestServer(t, a)
	defer srv.Close()
	defer conn.Close()

	payload, _ := json.Marshal(wsClientMessage{Type: "ping"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp wsServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "pong" {
		t.Errorf("expected pong, got %+v", resp)
	}
}

func TestAdapter_Send_BroadcastsToClients(t *testing.T) {
	a := newTestAdapter(t)
	conn, srv := dialTestServer(t, a)
	defer srv.Close()
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let the server register the client

	result, err := a.Send(context.Background(), models.OutboundMessage{
		Target: models.SendTarget{ChatID: "chat-1"},
		Text:   "hi from agent",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.ChatID != "chat-1" {
		t.Errorf("unexpected chat id %q", result.ChatID)
	}

	var resp wsServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "message" || resp.Text != "hi from agent" {
		t.Errorf("unexpected broadcast %+v", resp)
	}
}

func TestAdapter_ClientCount(t *testing.T) {
	a := newTestAdapter(t)
	conn, srv := dialTestServer(t, a)
	defer srv.Close()
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	if a.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", a.ClientCount())
	}
}

func TestAdapter_EditDeleteReactDoNotError(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.Edit(context.Background(), models.MessageId("x"), "y"); err != nil {
		t.Errorf("Edit: %v", err)
	}
	if err := a.Delete(context.Background(), models.MessageId("x")); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := a.React(context.Background(), models.MessageId("x"), "👍"); err != nil {
		t.Errorf("React: %v", err)
	}
	if err := a.Unreact(context.Background(), models.MessageId("x"), "👍"); err != nil {
		t.Errorf("Unreact: %v", err)
	}
	if err := a.SendTyping(context.Background(), "chat-1"); err != nil {
		t.Errorf("SendTyping: %v", err)
	}
}
