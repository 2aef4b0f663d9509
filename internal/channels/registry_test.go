package channels

import (
	"context"
	"testing"
	"time"

	"github.com/smartassist/smartassist/pkg/models"
)

// ============================================================================
// Adapter Registry Tests
// ============================================================================

type stubAdapter struct {
	info     Info
	handler  func(*models.InboundMessage)
	messages chan *models.InboundMessage
}

func newStubAdapter(id models.ChannelInstanceId, ct models.ChannelType) *stubAdapter {
	return &stubAdapter{
		info:     Info{ChannelType: ct, InstanceID: id},
		messages: make(chan *models.InboundMessage, 4),
	}
}

func (a *stubAdapter) Info() Info { return a.info }

func (a *stubAdapter) SetHandler(handler func(*models.InboundMessage)) { a.handler = handler }

func (a *stubAdapter) StartReceiving(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-a.messages:
				if !ok {
					return
				}
				if a.handler != nil {
					a.handler(msg)
				}
			}
		}
	}()
	return nil
}

func (a *stubAdapter) StopReceiving(ctx context.Context) error { close(a.messages); return nil }

func (a *stubAdapter) Receive(ctx context.Context) (*models.InboundMessage, error) {
	select {
	case msg := <-a.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *stubAdapter) TryReceive() (*models.InboundMessage, bool) {
	select {
	case msg := <-a.messages:
		return msg, true
	default:
		return nil, false
	}
}

type stubSender struct{}

func (stubSender) Send(ctx context.Context, msg models.OutboundMessage) (SendResult, error) {
	return SendResult{MessageID: "sent-1"}, nil
}
func (stubSender) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (SendResult, error) {
	return SendResult{MessageID: "sent-1"}, nil
}
func (stubSender) Edit(ctx context.Context, messageID models.MessageId, text string) error { return nil }
func (stubSender) Delete(ctx context.Context, messageID models.MessageId) error            { return nil }
func (stubSender) React(ctx context.Context, messageID models.MessageId, emoji string) error {
	return nil
}
func (stubSender) Unreact(ctx context.Context, messageID models.MessageId, emoji string) error {
	return nil
}
func (stubSender) SendTyping(ctx context.Context, chatID string) error { return nil }
func (stubSender) MaxMessageLength() int                              { return 4096 }

type fullStubAdapter struct {
	*stubAdapter
	stubSender
}

func TestRegistrySender(t *testing.T) {
	registry := NewRegistry()
	adapter := &fullStubAdapter{stubAdapter: newStubAdapter("acct-1", models.ChannelDiscord)}
	registry.Register(adapter)

	if _, ok := registry.Sender("acct-1"); !ok {
		t.Fatal("expected sender to be registered")
	}
	if _, ok := registry.Get("acct-1"); !ok {
		t.Fatal("expected adapter to be registered")
	}
}

func TestAggregateMessagesUsesReceivers(t *testing.T) {
	registry := NewRegistry()
	adapter := &fullStubAdapter{stubAdapter: newStubAdapter("acct-1", models.ChannelTelegram)}
	registry.Register(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	out := registry.AggregateMessages(ctx)
	msg := &models.InboundMessage{ID: "m1", Text: "hi"}
	adapter.messages <- msg

	select {
	case got := <-out:
		if got.ID != msg.ID {
			t.Errorf("got message id %q, want %q", got.ID, msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregated message")
	}
}

// ============================================================================
// Channel Metadata Registry Tests
// ============================================================================

func TestListChatChannels(t *testing.T) {
	channels := ListChatChannels()

	if len(channels) != len(ChatChannelOrder) {
		t.Fatalf("expected %d channels, got %d", len(ChatChannelOrder), len(channels))
	}

	for i, meta := range channels {
		if meta.ID != ChatChannelOrder[i] {
			t.Errorf("channel at index %d: expected %s, got %s", i, ChatChannelOrder[i], meta.ID)
		}
		if meta.Label == "" {
			t.Errorf("channel %s has empty Label", meta.ID)
		}
		if meta.SelectionLabel == "" {
			t.Errorf("channel %s has empty SelectionLabel", meta.ID)
		}
	}
}

func TestListChatChannelAliases(t *testing.T) {
	aliases := ListChatChannelAliases()

	if len(aliases) == 0 {
		t.Fatal("expected at least one alias")
	}
	for i := 1; i < len(aliases); i++ {
		if aliases[i-1] > aliases[i] {
			t.Errorf("aliases not sorted: %s > %s", aliases[i-1], aliases[i])
		}
	}
	for _, alias := range aliases {
		if id := NormalizeChatChannelID(alias); id == "" {
			t.Errorf("alias %s does not resolve to a valid channel ID", alias)
		}
	}
}

func TestGetChatChannelMeta(t *testing.T) {
	tests := []struct {
		id       ChatChannelID
		wantNil  bool
		wantName string
	}{
		{ChannelTelegram, false, "Telegram"},
		{ChannelWhatsApp, false, "WhatsApp"},
		{ChannelDiscord, false, "Discord"},
		{ChannelSlack, false, "Slack"},
		{ChannelSignal, false, "Signal"},
		{ChannelIMessage, false, "iMessage"},
		{ChannelLine, false, "LINE"},
		{ChannelWeb, false, "Web"},
		{"nonexistent", true, ""},
		{"", true, ""},
	}

	for _, tc := range tests {
		t.Run(string(tc.id), func(t *testing.T) {
			meta := GetChatChannelMeta(tc.id)
			if tc.wantNil {
				if meta != nil {
					t.Errorf("expected nil for ID %q, got %+v", tc.id, meta)
				}
				return
			}
			if meta == nil {
				t.Fatalf("expected non-nil for ID %q", tc.id)
			}
			if meta.Label != tc.wantName {
				t.Errorf("expected Label %q, got %q", tc.wantName, meta.Label)
			}
		})
	}
}

func TestNormalizeChatChannelID(t *testing.T) {
	tests := []struct {
		input string
		want  ChatChannelID
	}{
		{"telegram", ChannelTelegram},
		{"whatsapp", ChannelWhatsApp},
		{"discord", ChannelDiscord},
		{"slack", ChannelSlack},
		{"signal", ChannelSignal},
		{"imessage", ChannelIMessage},
		{"line", ChannelLine},
		{"web", ChannelWeb},

		{"TELEGRAM", ChannelTelegram},
		{"Telegram", ChannelTelegram},
		{"  telegram  ", ChannelTelegram},
		{"\ttelegram\n", ChannelTelegram},

		{"tg", ChannelTelegram},
		{"wa", ChannelWhatsApp},
		{"imsg", ChannelIMessage},

		{"", ""},
		{"   ", ""},
		{"nonexistent", ""},
		{"invalid-channel", ""},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got := NormalizeChatChannelID(tc.input)
			if got != tc.want {
				t.Errorf("NormalizeChatChannelID(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestIsValidChannelID(t *testing.T) {
	tests := []struct {
		id   ChatChannelID
		want bool
	}{
		{ChannelTelegram, true},
		{ChannelLine, true},
		{"bogus", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := IsValidChannelID(tc.id); got != tc.want {
			t.Errorf("IsValidChannelID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestToAndFromModelChannelType(t *testing.T) {
	for _, id := range ChatChannelOrder {
		ct := ToModelChannelType(id)
		if ct == "" {
			t.Errorf("ToModelChannelType(%s) returned empty", id)
			continue
		}
		if back := FromModelChannelType(ct); back != id {
			t.Errorf("round trip mismatch: %s -> %s -> %s", id, ct, back)
		}
	}
}

func TestFormatChannelPrimerLine(t *testing.T) {
	meta := GetChatChannelMeta(ChannelTelegram)
	line := FormatChannelPrimerLine(meta)
	if line == "" {
		t.Fatal("expected non-empty primer line")
	}
	if FormatChannelPrimerLine(nil) != "" {
		t.Error("expected empty string for nil meta")
	}
}

func TestFormatChannelSelectionLine(t *testing.T) {
	meta := GetChatChannelMeta(ChannelSlack)
	withDocs := FormatChannelSelectionLine(meta, "https://docs.example.com")
	if withDocs == meta.SelectionLabel {
		t.Error("expected docs URL to be appended")
	}
	withoutDocs := FormatChannelSelectionLine(meta, "")
	if withoutDocs != meta.SelectionLabel {
		t.Errorf("expected bare selection label, got %q", withoutDocs)
	}
}
