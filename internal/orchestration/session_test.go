package orchestration

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/internal/providers"
	"github.com/smartassist/smartassist/internal/tools"
	"github.com/smartassist/smartassist/pkg/models"
)

// fakeProvider answers one canned turn at a time: the first call emits
// a ToolUse, the second emits closing text, mimicking a model that
// calls a tool then summarizes the result.
type fakeProvider struct {
	calls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamEvent, error) {
	events := make(chan providers.StreamEvent, 4)
	p.calls++
	if p.calls == 1 {
		events <- providers.StreamEvent{Kind: providers.EventToolUse, Tool: &providers.ToolUse{
			ID: "tu_1", Name: "echo", InputJSON: json.RawMessage(`{"text":"hi"}`),
		}}
	} else {
		events <- providers.StreamEvent{Kind: providers.EventText, Text: "done: " + req.Messages[len(req.Messages)-1].Text}
	}
	events <- providers.StreamEvent{Kind: providers.EventDone}
	close(events)
	return events, nil
}

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{Name: "echo", Description: "echoes input", InputSchema: json.RawMessage(`{}`)}
}
func (echoTool) Group() tools.ToolGroup                         { return tools.GroupString }
func (echoTool) RequiresApproval(json.RawMessage) bool          { return false }
func (echoTool) Execute(ctx context.Context, id string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	return &tools.ToolResult{Content: "echoed"}, nil
}

type fakeSender struct {
	sent []models.OutboundMessage
}

func (s *fakeSender) Send(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	s.sent = append(s.sent, msg)
	return channels.SendResult{MessageID: "m1"}, nil
}
func (s *fakeSender) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	return s.Send(ctx, msg)
}
func (s *fakeSender) Edit(ctx context.Context, id models.MessageId, text string) error { return nil }
func (s *fakeSender) Delete(ctx context.Context, id models.MessageId) error            { return nil }
func (s *fakeSender) React(ctx context.Context, id models.MessageId, emoji string) error {
	return nil
}
func (s *fakeSender) Unreact(ctx context.Context, id models.MessageId, emoji string) error {
	return nil
}
func (s *fakeSender) SendTyping(ctx context.Context, chatID string) error { return nil }
func (s *fakeSender) MaxMessageLength() int                              { return 4000 }

func TestSession_Handle_RunsToolThenRepliesWithAssembledText(t *testing.T) {
	toolReg := tools.NewRegistry()
	toolReg.Register(echoTool{})
	executor := tools.NewExecutor(toolReg, nil, nil)

	provReg := providers.NewRegistry(map[string]providers.Provider{"fake": &fakeProvider{}})
	binding := AgentBinding{AgentID: "agent-1", Vendor: "fake", Model: "fake-model"}

	sess := newSession("sess-1", binding, provReg, toolReg, executor, slog.Default(), nil, nil)
	sender := &fakeSender{}

	msg := &models.InboundMessage{
		ID:        "msg-1",
		Channel:   models.ChannelTelegram,
		AccountID: "acct-1",
		Chat:      models.Chat{ID: "chat-1", Type: models.ChatDirect},
		Sender:    models.Sender{ID: "user-1"},
		Text:      "hello there",
	}

	if err := sess.handle(context.Background(), msg, sender); err != nil {
		t.Fatalf("handle returned error: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one outbound send, got %d", len(sender.sent))
	}
	if got := sender.sent[0].Text; got != "done: echoed" {
		t.Errorf("unexpected outbound text: %q", got)
	}
}

func TestSessionKeyFor_GroupChatsShareOneKeyAcrossSenders(t *testing.T) {
	a := &models.InboundMessage{Channel: models.ChannelDiscord, AccountID: "g1", Chat: models.Chat{ID: "c1", Type: models.ChatGroup}, Sender: models.Sender{ID: "u1"}}
	b := &models.InboundMessage{Channel: models.ChannelDiscord, AccountID: "g1", Chat: models.Chat{ID: "c1", Type: models.ChatGroup}, Sender: models.Sender{ID: "u2"}}

	if sessionKeyFor(a) != sessionKeyFor(b) {
		t.Errorf("expected same-chat messages from different senders to share a session key")
	}
}

func TestSessionKeyFor_DirectChatsKeyPerSender(t *testing.T) {
	a := &models.InboundMessage{Channel: models.ChannelTelegram, AccountID: "acct", Chat: models.Chat{ID: "c1", Type: models.ChatDirect}, Sender: models.Sender{ID: "u1"}}
	b := &models.InboundMessage{Channel: models.ChannelTelegram, AccountID: "acct", Chat: models.Chat{ID: "c1", Type: models.ChatDirect}, Sender: models.Sender{ID: "u2"}}

	if sessionKeyFor(a) == sessionKeyFor(b) {
		t.Errorf("expected distinct senders in a direct chat to get distinct session keys")
	}
}
