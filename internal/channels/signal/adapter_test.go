package signal

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHealth() *channels.BaseHealthAdapter {
	return channels.NewBaseHealthAdapter(models.ChannelSignal, testLogger())
}

func TestConfig_RequiresAccount(t *testing.T) {
	c := Config{}
	if err := c.validate(); err == nil {
		t.Fatal("expected error for missing account")
	}
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{Account: "+15551234567"}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.SignalCLIPath != "signal-cli" {
		t.Errorf("expected default signal-cli path, got %q", c.SignalCLIPath)
	}
	if c.InstanceID != "default" {
		t.Errorf("expected default instance id, got %q", c.InstanceID)
	}
}

func TestTargetParams_Recipient(t *testing.T) {
	params := targetParams("+15557654321")
	recipients, ok := params["recipient"].([]string)
	if !ok || len(recipients) != 1 || recipients[0] != "+15557654321" {
		t.Errorf("expected recipient param, got %v", params)
	}
}

func TestTargetParams_Group(t *testing.T) {
	params := targetParams("group.abc123")
	groupID, ok := params["groupId"].(string)
	if !ok || groupID != "abc123" {
		t.Errorf("expected groupId param, got %v", params)
	}
}

func TestSplitMessageRef(t *testing.T) {
	chatID, ts, err := splitMessageRef(models.MessageId("+15551234567:1700000000000"))
	if err != nil {
		t.Fatalf("splitMessageRef: %v", err)
	}
	if chatID != "+15551234567" || ts != "1700000000000" {
		t.Errorf("got (%q, %q)", chatID, ts)
	}

	if _, _, err := splitMessageRef(models.MessageId("malformed")); err == nil {
		t.Fatal("expected error for malformed ref")
	}
}

func TestExpandPath_NoTilde(t *testing.T) {
	if got := expandPath("/etc/signal-cli"); got != "/etc/signal-cli" {
		t.Errorf("expected unchanged path, got %q", got)
	}
}

func TestHandleReceive_DirectMessage(t *testing.T) {
	var dispatched *models.InboundMessage
	a := &Adapter{logger: testLogger(), health: newTestHealth()}
	a.SetHandler(func(m *models.InboundMessage) { dispatched = m })

	a.handleReceive([]byte(`{
		"source": "+15551234567",
		"sourceName": "Alice",
		"timestamp": 1700000000000,
		"dataMessage": {"message": "hello"}
	}`))

	if dispatched == nil {
		t.Fatal("expected message to be dispatched")
	}
	if dispatched.Chat.Type != models.ChatDirect {
		t.Errorf("expected direct chat type, got %v", dispatched.Chat.Type)
	}
	if dispatched.Text != "hello" {
		t.Errorf("expected text 'hello', got %q", dispatched.Text)
	}
}

func TestHandleReceive_GroupMessage(t *testing.T) {
	var dispatched *models.InboundMessage
	a := &Adapter{logger: testLogger(), health: newTestHealth()}
	a.SetHandler(func(m *models.InboundMessage) { dispatched = m })

	a.handleReceive([]byte(`{
		"source": "+15551234567",
		"timestamp": 1700000000000,
		"dataMessage": {"message": "hi all", "groupInfo": {"groupId": "g1", "groupName": "Test Group"}}
	}`))

	if dispatched == nil {
		t.Fatal("expected message to be dispatched")
	}
	if dispatched.Chat.Type != models.ChatGroup {
		t.Errorf("expected group chat type, got %v", dispatched.Chat.Type)
	}
	if dispatched.AccountID != "g1" {
		t.Errorf("expected account id g1, got %q", dispatched.AccountID)
	}
}

func TestHandleReceive_IgnoresNonDataMessages(t *testing.T) {
	dispatched := false
	a := &Adapter{logger: testLogger(), health: newTestHealth()}
	a.SetHandler(func(m *models.InboundMessage) { dispatched = true })

	a.handleReceive([]byte(`{"source": "+15551234567", "timestamp": 1}`))

	if dispatched {
		t.Error("expected no dispatch for envelope without a data message")
	}
}

func TestAdapter_Edit_Unsupported(t *testing.T) {
	a := &Adapter{logger: testLogger(), health: newTestHealth()}
	err := a.Edit(context.Background(), models.MessageId("+15551234567:1"), "x")
	if err == nil {
		t.Fatal("expected edit to be unsupported")
	}
}

func TestAdapter_MaxMessageLength(t *testing.T) {
	a := &Adapter{}
	if a.MaxMessageLength() != 2000 {
		t.Errorf("expected 2000, got %d", a.MaxMessageLength())
	}
}
