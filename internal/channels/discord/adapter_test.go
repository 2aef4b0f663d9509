package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

type mockSession struct {
	openCalls  int
	closeCalls int

	sendFunc   func(channelID, content string) (*discordgo.Message, error)
	editFunc   func(channelID, messageID, content string) (*discordgo.Message, error)
	deleteFunc func(channelID, messageID string) error

	reactAdds   []string
	reactRemove []string
	typingCalls int
}

func newMockSession() *mockSession {
	return &mockSession{
		sendFunc: func(channelID, content string) (*discordgo.Message, error) {
			return &discordgo.Message{ID: "msg1", ChannelID: channelID, Content: content}, nil
		},
	}
}

func (m *mockSession) Open() error  { m.openCalls++; return nil }
func (m *mockSession) Close() error { m.closeCalls++; return nil }

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.sendFunc(channelID, content)
}

func (m *mockSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.editFunc != nil {
		return m.editFunc(channelID, messageID, content)
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

func (m *mockSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(channelID, messageID)
	}
	return nil
}

func (m *mockSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	m.typingCalls++
	return nil
}

func (m *mockSession) MessageReactionAdd(channelID, messageID, emoji string, options ...discordgo.RequestOption) error {
	m.reactAdds = append(m.reactAdds, emoji)
	return nil
}

func (m *mockSession) MessageReactionRemove(channelID, messageID, emoji, userID string, options ...discordgo.RequestOption) error {
	m.reactRemove = append(m.reactRemove, emoji)
	return nil
}

func (m *mockSession) AddHandler(handler interface{}) func() { return func() {} }

func newTestAdapter(t *testing.T, session *mockSession) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{Token: "test-token"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	a.SetSession(session)
	return a
}

func TestNewAdapter_RequiresToken(t *testing.T) {
	_, err := NewAdapter(Config{})
	if err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestNewAdapter_Defaults(t *testing.T) {
	a, err := NewAdapter(Config{Token: "tok"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if a.config.MaxReconnectAttempts != 5 {
		t.Errorf("expected default MaxReconnectAttempts=5, got %d", a.config.MaxReconnectAttempts)
	}
	if a.config.InstanceID != "default" {
		t.Errorf("expected default instance id, got %q", a.config.InstanceID)
	}
}

func TestAdapter_Send(t *testing.T) {
	session := newMockSession()
	a := newTestAdapter(t, session)

	result, err := a.Send(context.Background(), models.OutboundMessage{
		Target: models.SendTarget{ChatID: "chan1"},
		Text:   "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.MessageID != "chan1:msg1" {
		t.Errorf("expected compound message id, got %q", result.MessageID)
	}
	if result.ChatID != "chan1" {
		t.Errorf("expected chat id chan1, got %q", result.ChatID)
	}
}

func TestAdapter_Send_MissingChatID(t *testing.T) {
	a := newTestAdapter(t, newMockSession())

	_, err := a.Send(context.Background(), models.OutboundMessage{Text: "hello"})
	if err == nil {
		t.Fatal("expected error for missing chat id")
	}
}

func TestAdapter_Send_RateLimitError(t *testing.T) {
	session := newMockSession()
	session.sendFunc = func(channelID, content string) (*discordgo.Message, error) {
		return nil, errors.New("429 Too Many Requests")
	}
	a := newTestAdapter(t, session)

	_, err := a.Send(context.Background(), models.OutboundMessage{
		Target: models.SendTarget{ChatID: "chan1"},
		Text:   "hi",
	})
	if channels.GetErrorCode(err) != channels.ErrCodeRateLimited {
		t.Errorf("expected rate limited error code, got %v", channels.GetErrorCode(err))
	}
}

func TestAdapter_Edit(t *testing.T) {
	session := newMockSession()
	a := newTestAdapter(t, session)

	err := a.Edit(context.Background(), models.MessageId("chan1:msg1"), "updated")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
}

func TestAdapter_Edit_InvalidMessageRef(t *testing.T) {
	a := newTestAdapter(t, newMockSession())

	err := a.Edit(context.Background(), models.MessageId("no-colon"), "text")
	if err == nil {
		t.Fatal("expected error for malformed message id")
	}
}

func TestAdapter_Delete(t *testing.T) {
	session := newMockSession()
	a := newTestAdapter(t, session)

	err := a.Delete(context.Background(), models.MessageId("chan1:msg1"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestAdapter_ReactAndUnreact(t *testing.T) {
	session := newMockSession()
	a := newTestAdapter(t, session)

	if err := a.React(context.Background(), models.MessageId("chan1:msg1"), "👍"); err != nil {
		t.Fatalf("React: %v", err)
	}
	if err := a.Unreact(context.Background(), models.MessageId("chan1:msg1"), "👍"); err != nil {
		t.Fatalf("Unreact: %v", err)
	}
	if len(session.reactAdds) != 1 || len(session.reactRemove) != 1 {
		t.Errorf("expected one add and one remove, got %d/%d", len(session.reactAdds), len(session.reactRemove))
	}
}

func TestAdapter_SendTyping_NeverFails(t *testing.T) {
	a := newTestAdapter(t, newMockSession())

	if err := a.SendTyping(context.Background(), "chan1"); err != nil {
		t.Errorf("SendTyping should never return an error, got %v", err)
	}
}

func TestAdapter_MaxMessageLength(t *testing.T) {
	a := newTestAdapter(t, newMockSession())
	if a.MaxMessageLength() != 2000 {
		t.Errorf("expected 2000, got %d", a.MaxMessageLength())
	}
}

func TestSplitMessageRef(t *testing.T) {
	chatID, msgID, err := splitMessageRef(models.MessageId("chan1:msg1"))
	if err != nil {
		t.Fatalf("splitMessageRef: %v", err)
	}
	if chatID != "chan1" || msgID != "msg1" {
		t.Errorf("got (%q, %q)", chatID, msgID)
	}

	_, _, err = splitMessageRef(models.MessageId("malformed"))
	if err == nil {
		t.Fatal("expected error for malformed ref")
	}
}

func TestConvertInbound_DirectMessage(t *testing.T) {
	msg := convertInbound(&discordgo.Message{
		ID:        "m1",
		ChannelID: "chan1",
		Content:   "hi there",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	})
	if msg == nil {
		t.Fatal("expected non-nil message")
	}
	if msg.Chat.Type != models.ChatDirect {
		t.Errorf("expected direct chat type, got %v", msg.Chat.Type)
	}
	if msg.ID != "chan1:m1" {
		t.Errorf("expected compound id, got %q", msg.ID)
	}
	if msg.Sender.Username != "alice" {
		t.Errorf("expected sender username alice, got %q", msg.Sender.Username)
	}
}

func TestConvertInbound_GuildMessage(t *testing.T) {
	msg := convertInbound(&discordgo.Message{
		ID:        "m1",
		ChannelID: "chan1",
		GuildID:   "guild1",
		Content:   "hi",
		Author:    &discordgo.User{ID: "u1", Username: "bob"},
	})
	if msg.Chat.Type != models.ChatChannel {
		t.Errorf("expected channel chat type, got %v", msg.Chat.Type)
	}
	if msg.AccountID != "guild1" {
		t.Errorf("expected account id guild1, got %q", msg.AccountID)
	}
}

func TestConvertInbound_BotAuthorIgnoredByHandler(t *testing.T) {
	dispatched := false
	deps := &discordHandlerDeps{
		dispatch: func(*models.InboundMessage) { dispatched = true },
	}
	handleMessageCreate(deps, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m1", ChannelID: "chan1", Author: &discordgo.User{ID: "bot1", Bot: true},
	}})
	if dispatched {
		t.Error("expected bot-authored messages to be ignored")
	}
}

func TestConvertInbound_Attachment(t *testing.T) {
	msg := convertInbound(&discordgo.Message{
		ID:        "m1",
		ChannelID: "chan1",
		Author:    &discordgo.User{ID: "u1"},
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn.example.com/f.png", ContentType: "image/png", Filename: "f.png", Size: 1024},
		},
	})
	if len(msg.Media) != 1 {
		t.Fatalf("expected 1 media attachment, got %d", len(msg.Media))
	}
	if msg.Media[0].Kind != models.MediaImage {
		t.Errorf("expected image kind, got %v", msg.Media[0].Kind)
	}
	if msg.Media[0].SizeByte != 1024 {
		t.Errorf("expected size 1024, got %d", msg.Media[0].SizeByte)
	}
}

func TestAdapter_Info(t *testing.T) {
	a := newTestAdapter(t, newMockSession())
	info := a.Info()
	if info.ChannelType != models.ChannelDiscord {
		t.Errorf("expected discord channel type, got %v", info.ChannelType)
	}
	if !info.Capabilities.Features.Reactions {
		t.Error("expected reactions capability")
	}
}

func TestAdapter_Receive_ReturnsError(t *testing.T) {
	a := newTestAdapter(t, newMockSession())
	_, err := a.Receive(context.Background())
	if err == nil {
		t.Fatal("expected error, adapter is push-based")
	}
}

func TestAdapter_TryReceive_AlwaysFalse(t *testing.T) {
	a := newTestAdapter(t, newMockSession())
	_, ok := a.TryReceive()
	if ok {
		t.Error("expected TryReceive to always return false")
	}
}
