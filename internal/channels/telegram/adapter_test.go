package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

// mockBotClient implements BotClient for testing without hitting Telegram.
type mockBotClient struct {
	mu sync.Mutex

	sendMessageFunc     func(ctx context.Context, params *tgbot.SendMessageParams) (*tgmodels.Message, error)
	editMessageTextFunc func(ctx context.Context, params *tgbot.EditMessageTextParams) (*tgmodels.Message, error)

	sendMessageCalls int
	sendPhotoCalls   int
	editCalls        int
	deleteCalls      int
	reactionCalls    int
	chatActionCalls  int
	registered       []tgbot.HandlerFunc
	startCalls       int
}

func newMockBotClient() *mockBotClient { return &mockBotClient{} }

func (m *mockBotClient) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*tgmodels.Message, error) {
	m.mu.Lock()
	m.sendMessageCalls++
	m.mu.Unlock()
	if m.sendMessageFunc != nil {
		return m.sendMessageFunc(ctx, params)
	}
	return &tgmodels.Message{ID: 100, Chat: tgmodels.Chat{ID: params.ChatID.(int64)}}, nil
}

func (m *mockBotClient) SendPhoto(ctx context.Context, params *tgbot.SendPhotoParams) (*tgmodels.Message, error) {
	m.mu.Lock()
	m.sendPhotoCalls++
	m.mu.Unlock()
	return &tgmodels.Message{ID: 101}, nil
}

func (m *mockBotClient) SendDocument(ctx context.Context, params *tgbot.SendDocumentParams) (*tgmodels.Message, error) {
	return &tgmodels.Message{ID: 102}, nil
}

func (m *mockBotClient) SendAudio(ctx context.Context, params *tgbot.SendAudioParams) (*tgmodels.Message, error) {
	return &tgmodels.Message{ID: 103}, nil
}

func (m *mockBotClient) GetFile(ctx context.Context, params *tgbot.GetFileParams) (*tgmodels.File, error) {
	return &tgmodels.File{FileID: params.FileID}, nil
}

func (m *mockBotClient) GetMe(ctx context.Context) (*tgmodels.User, error) {
	return &tgmodels.User{ID: 1, Username: "testbot"}, nil
}

func (m *mockBotClient) SetWebhook(ctx context.Context, params *tgbot.SetWebhookParams) (bool, error) {
	return true, nil
}

func (m *mockBotClient) EditMessageText(ctx context.Context, params *tgbot.EditMessageTextParams) (*tgmodels.Message, error) {
	m.mu.Lock()
	m.editCalls++
	m.mu.Unlock()
	if m.editMessageTextFunc != nil {
		return m.editMessageTextFunc(ctx, params)
	}
	return &tgmodels.Message{ID: params.MessageID}, nil
}

func (m *mockBotClient) DeleteMessage(ctx context.Context, params *tgbot.DeleteMessageParams) (bool, error) {
	m.mu.Lock()
	m.deleteCalls++
	m.mu.Unlock()
	return true, nil
}

func (m *mockBotClient) SetMessageReaction(ctx context.Context, params *tgbot.SetMessageReactionParams) (bool, error) {
	m.mu.Lock()
	m.reactionCalls++
	m.mu.Unlock()
	return true, nil
}

func (m *mockBotClient) SendChatAction(ctx context.Context, params *tgbot.SendChatActionParams) (bool, error) {
	m.mu.Lock()
	m.chatActionCalls++
	m.mu.Unlock()
	return true, nil
}

func (m *mockBotClient) RegisterHandler(handlerType tgbot.HandlerType, pattern string, matchType tgbot.MatchType, handler tgbot.HandlerFunc) {
	m.registered = append(m.registered, handler)
}

func (m *mockBotClient) RegisterHandlerMatchFunc(matchFunc tgbot.MatchFunc, handler tgbot.HandlerFunc) {
	m.registered = append(m.registered, handler)
}

func (m *mockBotClient) Start(ctx context.Context) {
	m.mu.Lock()
	m.startCalls++
	m.mu.Unlock()
	<-ctx.Done()
}

func (m *mockBotClient) StartWebhook(ctx context.Context) {}

func newTestAdapter(t *testing.T, client BotClient) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{Token: "test-token", RateLimit: 1000, RateBurst: 1000})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	a.SetBotClient(client)
	return a
}

func TestNewAdapter_RequiresToken(t *testing.T) {
	_, err := NewAdapter(Config{})
	if err == nil {
		t.Fatal("expected error for missing token")
	}
	if channels.GetErrorCode(err) != channels.ErrCodeConfig {
		t.Errorf("expected config error code, got %v", channels.GetErrorCode(err))
	}
}

func TestNewAdapter_Defaults(t *testing.T) {
	a, err := NewAdapter(Config{Token: "abc"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if a.config.MaxReconnectAttempts != 5 {
		t.Errorf("expected default MaxReconnectAttempts 5, got %d", a.config.MaxReconnectAttempts)
	}
	if a.config.RateLimit != 30 {
		t.Errorf("expected default RateLimit 30, got %v", a.config.RateLimit)
	}
}

func TestAdapter_Send(t *testing.T) {
	client := newMockBotClient()
	a := newTestAdapter(t, client)

	result, err := a.Send(context.Background(), models.OutboundMessage{
		Target: models.SendTarget{ChatID: "42"},
		Text:   "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.MessageID != "42:100" {
		t.Errorf("expected message id 42:100, got %q", result.MessageID)
	}
	if client.sendMessageCalls != 1 {
		t.Errorf("expected 1 send call, got %d", client.sendMessageCalls)
	}
}

func TestAdapter_Send_MissingChatID(t *testing.T) {
	client := newMockBotClient()
	a := newTestAdapter(t, client)

	_, err := a.Send(context.Background(), models.OutboundMessage{Text: "hello"})
	if err == nil {
		t.Fatal("expected error for missing chat id")
	}
	if channels.GetErrorCode(err) != channels.ErrCodeInvalidMessage {
		t.Errorf("expected invalid message code, got %v", channels.GetErrorCode(err))
	}
}

func TestAdapter_Edit(t *testing.T) {
	client := newMockBotClient()
	a := newTestAdapter(t, client)

	err := a.Edit(context.Background(), models.MessageId("42:100"), "updated text")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if client.editCalls != 1 {
		t.Errorf("expected 1 edit call, got %d", client.editCalls)
	}
}

func TestAdapter_Edit_NotModifiedIsNotAnError(t *testing.T) {
	client := newMockBotClient()
	client.editMessageTextFunc = func(ctx context.Context, params *tgbot.EditMessageTextParams) (*tgmodels.Message, error) {
		return nil, errNotModified{}
	}
	a := newTestAdapter(t, client)

	if err := a.Edit(context.Background(), models.MessageId("42:100"), "same text"); err != nil {
		t.Errorf("expected nil error for not-modified, got %v", err)
	}
}

type errNotModified struct{}

func (errNotModified) Error() string { return "Bad Request: message is not modified" }

func TestAdapter_Edit_InvalidMessageRef(t *testing.T) {
	client := newMockBotClient()
	a := newTestAdapter(t, client)

	err := a.Edit(context.Background(), models.MessageId("not-a-ref"), "text")
	if channels.GetErrorCode(err) != channels.ErrCodeInvalidMessage {
		t.Errorf("expected invalid message code, got %v", channels.GetErrorCode(err))
	}
}

func TestAdapter_Delete(t *testing.T) {
	client := newMockBotClient()
	a := newTestAdapter(t, client)

	if err := a.Delete(context.Background(), models.MessageId("42:100")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if client.deleteCalls != 1 {
		t.Errorf("expected 1 delete call, got %d", client.deleteCalls)
	}
}

func TestAdapter_ReactAndUnreact(t *testing.T) {
	client := newMockBotClient()
	a := newTestAdapter(t, client)

	if err := a.React(context.Background(), models.MessageId("42:100"), "👍"); err != nil {
		t.Fatalf("React: %v", err)
	}
	if err := a.Unreact(context.Background(), models.MessageId("42:100"), "👍"); err != nil {
		t.Fatalf("Unreact: %v", err)
	}
	if client.reactionCalls != 2 {
		t.Errorf("expected 2 reaction calls, got %d", client.reactionCalls)
	}
}

func TestAdapter_SendTyping_NeverFails(t *testing.T) {
	client := newMockBotClient()
	a := newTestAdapter(t, client)

	if err := a.SendTyping(context.Background(), "42"); err != nil {
		t.Errorf("expected nil, typing indicators are best-effort, got %v", err)
	}
	if client.chatActionCalls != 1 {
		t.Errorf("expected 1 chat action call, got %d", client.chatActionCalls)
	}
}

func TestAdapter_MaxMessageLength(t *testing.T) {
	a := newTestAdapter(t, newMockBotClient())
	if got := a.MaxMessageLength(); got != 4096 {
		t.Errorf("expected 4096, got %d", got)
	}
}

func TestMatchMediaMessage(t *testing.T) {
	tests := []struct {
		name   string
		update *tgmodels.Update
		want   bool
	}{
		{"nil message", &tgmodels.Update{}, false},
		{"text message", &tgmodels.Update{Message: &tgmodels.Message{Text: "hi"}}, false},
		{"voice message", &tgmodels.Update{Message: &tgmodels.Message{Voice: &tgmodels.Voice{FileID: "v1"}}}, true},
		{"photo message", &tgmodels.Update{Message: &tgmodels.Message{Photo: []tgmodels.PhotoSize{{FileID: "p1"}}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchMediaMessage(tt.update); got != tt.want {
				t.Errorf("matchMediaMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertInbound_TextMessage(t *testing.T) {
	msg := &tgmodels.Message{
		ID:   55,
		Date: int(time.Now().Unix()),
		Chat: tgmodels.Chat{ID: 999, Type: tgmodels.ChatTypePrivate},
		From: &tgmodels.User{ID: 7, Username: "alice"},
		Text: "hello there",
	}
	inbound := convertInbound(msg, "default")

	if inbound.ID != "999:55" {
		t.Errorf("expected id 999:55, got %q", inbound.ID)
	}
	if inbound.Chat.Type != models.ChatDirect {
		t.Errorf("expected direct chat, got %v", inbound.Chat.Type)
	}
	if inbound.Sender.Username != "alice" {
		t.Errorf("expected sender alice, got %q", inbound.Sender.Username)
	}
	if inbound.Text != "hello there" {
		t.Errorf("expected text preserved, got %q", inbound.Text)
	}
}

func TestConvertInbound_GroupThreadMessage(t *testing.T) {
	msg := &tgmodels.Message{
		ID:              56,
		Chat:            tgmodels.Chat{ID: 1000, Type: tgmodels.ChatTypeSupergroup, Title: "Team"},
		MessageThreadID: 7,
		Text:            "in a topic",
	}
	inbound := convertInbound(msg, "default")

	if inbound.Chat.Type != models.ChatThread {
		t.Errorf("expected thread chat type, got %v", inbound.Chat.Type)
	}
	if inbound.Thread == nil || inbound.Thread.ThreadID != "7" {
		t.Errorf("expected thread id 7, got %+v", inbound.Thread)
	}
}

func TestConvertInbound_PhotoAttachment(t *testing.T) {
	msg := &tgmodels.Message{
		ID:   57,
		Chat: tgmodels.Chat{ID: 1, Type: tgmodels.ChatTypePrivate},
		Photo: []tgmodels.PhotoSize{
			{FileID: "small", FileSize: 100},
			{FileID: "large", FileSize: 5000},
		},
	}
	inbound := convertInbound(msg, "default")

	if len(inbound.Media) != 1 {
		t.Fatalf("expected 1 media attachment, got %d", len(inbound.Media))
	}
	if inbound.Media[0].Source.FileID != "large" {
		t.Errorf("expected largest photo size selected, got %q", inbound.Media[0].Source.FileID)
	}
	if inbound.Media[0].Kind != models.MediaImage {
		t.Errorf("expected image kind, got %v", inbound.Media[0].Kind)
	}
}

func TestSplitMessageRef(t *testing.T) {
	a := &Adapter{}

	chatID, msgID, err := a.splitMessageRef("42:100")
	if err != nil {
		t.Fatalf("splitMessageRef: %v", err)
	}
	if chatID != 42 || msgID != 100 {
		t.Errorf("expected (42, 100), got (%d, %d)", chatID, msgID)
	}

	if _, _, err := a.splitMessageRef("garbage"); err == nil {
		t.Error("expected error for malformed reference")
	}
}

func TestAdapter_Info(t *testing.T) {
	a := newTestAdapter(t, newMockBotClient())
	info := a.Info()
	if info.ChannelType != models.ChannelTelegram {
		t.Errorf("expected telegram channel type, got %v", info.ChannelType)
	}
	if !info.Capabilities.Features.Reactions {
		t.Error("expected reactions capability to be declared")
	}
}

func TestAdapter_StartStopReceiving(t *testing.T) {
	client := newMockBotClient()
	a := newTestAdapter(t, client)

	if err := a.StartReceiving(context.Background()); err != nil {
		t.Fatalf("StartReceiving: %v", err)
	}

	// Give the long-poll goroutine a moment to register handlers.
	time.Sleep(10 * time.Millisecond)
	if len(client.registered) != 2 {
		t.Errorf("expected 2 registered handlers, got %d", len(client.registered))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.StopReceiving(ctx); err != nil {
		t.Fatalf("StopReceiving: %v", err)
	}
}
