// Package telegram implements the Telegram Bot API channel adapter.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string

	InstanceID models.ChannelInstanceId

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// RateLimit/RateBurst pace outbound sends (Telegram allows ~30 msg/sec).
	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	return nil
}

// Adapter implements channels.FullAdapter for Telegram.
type Adapter struct {
	config      Config
	bot         *tgbot.Bot
	botClient   BotClient
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger
	health      *channels.BaseHealthAdapter

	handlerMu sync.RWMutex
	handler   func(*models.InboundMessage)
}

var capabilities = models.ChannelCapabilities{
	ChatTypes: []models.ChatType{models.ChatDirect, models.ChatGroup, models.ChatThread},
	Media: models.MediaCapabilities{
		Image: true, Video: true, Audio: true, Voice: true, Document: true, MaxFileSize: 50,
	},
	Features: models.FeatureFlags{
		Reactions: true, Threads: true, Edits: true, Deletes: true, Typing: true, Mentions: true,
	},
	Limits: models.RateLimits{TextMaxLength: 4096, CaptionMaxLength: 1024, MessagesPerSecond: 30},
}

// NewAdapter validates config and constructs a Telegram adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:      config,
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:      config.Logger.With("adapter", "telegram", "instance", config.InstanceID),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelTelegram, a.logger)
	return a, nil
}

// SetBotClient injects a BotClient for tests.
func (a *Adapter) SetBotClient(client BotClient) { a.botClient = client }

// Metrics reports this adapter's message/connection counters for the
// gateway's Prometheus exporter.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) Info() channels.Info {
	return channels.Info{
		ChannelType:  models.ChannelTelegram,
		InstanceID:   a.config.InstanceID,
		Capabilities: capabilities,
	}
}

func (a *Adapter) Connect(ctx context.Context) error {
	b, err := tgbot.New(a.config.Token)
	if err != nil {
		a.health.SetStatus(false, err.Error())
		a.health.RecordError(channels.ErrCodeAuth)
		return channels.ErrAuth("failed to create bot", err)
	}
	a.bot = b
	a.botClient = newRealBotClient(b)
	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
		a.health.RecordConnectionClosed()
		a.health.SetStatus(false, "")
		return nil
	case <-ctx.Done():
		return channels.ErrInternal("disconnect timed out", ctx.Err())
	}
}

func (a *Adapter) IsConnected() bool { return a.health.Status().Connected }

func (a *Adapter) Health(ctx context.Context) channels.HealthStatus { return a.health.HealthCheck(ctx) }

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

// StartReceiving starts the long-polling loop with automatic reconnection.
func (a *Adapter) StartReceiving(ctx context.Context) error {
	if a.botClient == nil {
		return channels.ErrInternal("bot not connected", nil)
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.botClient.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, a.handleUpdate)
	a.botClient.RegisterHandlerMatchFunc(matchMediaMessage, a.handleUpdate)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		reconnector := &channels.Reconnector{
			Config: channels.ReconnectConfig{
				MaxAttempts:  a.config.MaxReconnectAttempts,
				InitialDelay: a.config.ReconnectDelay,
				MaxDelay:     30 * time.Second,
				Factor:       2,
				Jitter:       true,
			},
			Logger: a.logger,
			Health: a.health,
		}
		_ = reconnector.Run(ctx, func(runCtx context.Context) error {
			a.health.SetStatus(true, "")
			a.botClient.Start(runCtx)
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			return errors.New("long-poll loop exited unexpectedly")
		})
		a.health.SetStatus(false, "")
	}()
	return nil
}

func (a *Adapter) StopReceiving(ctx context.Context) error { return a.Disconnect(ctx) }

func (a *Adapter) Receive(ctx context.Context) (*models.InboundMessage, error) {
	return nil, channels.ErrChannelSpecific("telegram adapter is push-based; use SetHandler", nil)
}

func (a *Adapter) TryReceive() (*models.InboundMessage, bool) { return nil, false }

func matchMediaMessage(update *tgmodels.Update) bool {
	if update.Message == nil {
		return false
	}
	if update.Message.Text != "" {
		return false
	}
	return update.Message.Voice != nil || update.Message.Audio != nil ||
		len(update.Message.Photo) > 0 || update.Message.Document != nil || update.Message.Video != nil
}

func (a *Adapter) handleUpdate(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	start := time.Now()
	if update.Message == nil {
		return
	}
	msg := convertInbound(update.Message, a.config.InstanceID)
	a.health.RecordMessageReceived()
	a.health.RecordReceiveLatency(time.Since(start))
	a.health.UpdateLastPing()
	a.dispatch(msg)
}

func convertInbound(msg *tgmodels.Message, instanceID models.ChannelInstanceId) *models.InboundMessage {
	chatType := models.ChatDirect
	if msg.Chat.Type != tgmodels.ChatTypePrivate {
		chatType = models.ChatGroup
	}
	if msg.MessageThreadID != 0 {
		chatType = models.ChatThread
	}

	var media []models.MediaAttachment
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		media = append(media, models.MediaAttachment{
			Kind:   models.MediaImage,
			Source: models.NewFileIDSource(largest.FileID),
			SizeByte: int64(largest.FileSize),
		})
	case msg.Voice != nil:
		media = append(media, models.MediaAttachment{
			Kind:     models.MediaVoice,
			Source:   models.NewFileIDSource(msg.Voice.FileID),
			MimeType: msg.Voice.MimeType,
			SizeByte: int64(msg.Voice.FileSize),
		})
	case msg.Audio != nil:
		media = append(media, models.MediaAttachment{
			Kind:     models.MediaAudio,
			Source:   models.NewFileIDSource(msg.Audio.FileID),
			MimeType: msg.Audio.MimeType,
			Filename: msg.Audio.FileName,
			SizeByte: int64(msg.Audio.FileSize),
		})
	case msg.Document != nil:
		media = append(media, models.MediaAttachment{
			Kind:     models.MediaDocument,
			Source:   models.NewFileIDSource(msg.Document.FileID),
			MimeType: msg.Document.MimeType,
			Filename: msg.Document.FileName,
			SizeByte: int64(msg.Document.FileSize),
		})
	case msg.Video != nil:
		media = append(media, models.MediaAttachment{
			Kind:     models.MediaVideo,
			Source:   models.NewFileIDSource(msg.Video.FileID),
			MimeType: msg.Video.MimeType,
			SizeByte: int64(msg.Video.FileSize),
		})
	}

	var thread *models.ThreadInfo
	if msg.MessageThreadID != 0 {
		thread = &models.ThreadInfo{ThreadID: strconv.Itoa(msg.MessageThreadID)}
	}

	var quoted *models.QuotedMessage
	if msg.ReplyToMessage != nil {
		quoted = &models.QuotedMessage{
			MessageID: models.MessageId(fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ReplyToMessage.ID)),
			Text:      msg.ReplyToMessage.Text,
		}
	}

	username := ""
	if msg.From != nil {
		username = msg.From.Username
	}
	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}

	return &models.InboundMessage{
		ID:        models.MessageId(fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ID)),
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
		Channel:   models.ChannelTelegram,
		AccountID: instanceID,
		Sender:    models.Sender{ID: senderID, Username: username},
		Chat:      models.Chat{ID: strconv.FormatInt(msg.Chat.ID, 10), Type: chatType, Title: msg.Chat.Title},
		Thread:    thread,
		Text:      msg.Text,
		Media:     media,
		Quote:     quoted,
	}
}

func (a *Adapter) chatID(target models.SendTarget) (int64, error) {
	if target.ChatID == "" {
		return 0, errors.New("chat_id is required")
	}
	return strconv.ParseInt(target.ChatID, 10, 64)
}

func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.SendResult{}, channels.ErrRateLimited("rate limit wait cancelled", err)
	}
	if a.botClient == nil {
		return channels.SendResult{}, channels.ErrInternal("bot not connected", nil)
	}
	chatID, err := a.chatID(msg.Target)
	if err != nil {
		return channels.SendResult{}, channels.ErrInvalidMessage("invalid send target", err)
	}

	params := &tgbot.SendMessageParams{ChatID: chatID, Text: msg.Text}
	if msg.Target.Thread != "" {
		if id, err := strconv.Atoi(msg.Target.Thread); err == nil && id > 0 {
			params.MessageThreadID = id
		}
	}
	if msg.ReplyTo != "" {
		if _, replyMsgID, err := a.splitMessageRef(msg.ReplyTo); err == nil {
			params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: replyMsgID}
		}
	}
	sent, err := a.botClient.SendMessage(ctx, params)
	if err != nil {
		a.health.RecordMessageFailed()
		if isRateLimitError(err) {
			a.health.RecordError(channels.ErrCodeRateLimited)
			return channels.SendResult{}, channels.ErrRateLimited("telegram rate limit exceeded", err)
		}
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.SendResult{}, channels.ErrInternal("send message", err)
	}
	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	msgID := models.MessageId(fmt.Sprintf("%d:%d", chatID, sent.ID))
	return channels.SendResult{MessageID: msgID, ChatID: msg.Target.ChatID}, nil
}

func (a *Adapter) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	result, err := a.Send(ctx, msg)
	if err != nil {
		return result, err
	}
	chatID, _ := a.chatID(msg.Target)
	for _, att := range msg.Media {
		if err := a.rateLimiter.Wait(ctx); err != nil {
			return result, channels.ErrRateLimited("rate limit wait cancelled", err)
		}
		if err := a.sendMedia(ctx, chatID, att); err != nil {
			a.logger.Warn("failed to send attachment", "error", err, "kind", att.Kind)
		}
	}
	return result, nil
}

func (a *Adapter) sendMedia(ctx context.Context, chatID int64, att models.MediaAttachment) error {
	input, err := inputFileFor(att)
	if err != nil {
		return err
	}
	var sendErr error
	switch att.Kind {
	case models.MediaImage:
		_, sendErr = a.botClient.SendPhoto(ctx, &tgbot.SendPhotoParams{ChatID: chatID, Photo: input})
	case models.MediaAudio, models.MediaVoice:
		_, sendErr = a.botClient.SendAudio(ctx, &tgbot.SendAudioParams{ChatID: chatID, Audio: input})
	default:
		_, sendErr = a.botClient.SendDocument(ctx, &tgbot.SendDocumentParams{ChatID: chatID, Document: input})
	}
	if sendErr != nil {
		a.health.RecordError(channels.ErrCodeChannelSpecific)
	}
	return sendErr
}

func inputFileFor(att models.MediaAttachment) (tgmodels.InputFile, error) {
	switch att.Source.Kind {
	case models.MediaSourceFileID:
		return &tgmodels.InputFileString{Data: att.Source.FileID}, nil
	case models.MediaSourceURL:
		return &tgmodels.InputFileString{Data: att.Source.URL}, nil
	case models.MediaSourceBytes:
		filename := att.Filename
		if filename == "" {
			filename = "attachment"
		}
		return &tgmodels.InputFileUpload{Filename: filename, Data: bytesReader(att.Source.Bytes)}, nil
	default:
		return nil, channels.ErrInvalidMessage("unsupported media source for telegram", nil)
	}
}

// Edit requires the target chat id, since Telegram's editMessageText takes
// (chat_id, message_id) as a pair — the chat id is parsed out of the
// "<chat_id>:<message_id>" reference that Send returns.
func (a *Adapter) Edit(ctx context.Context, messageID models.MessageId, text string) error {
	chatID, id, err := a.splitMessageRef(messageID)
	if err != nil {
		return err
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.ErrRateLimited("rate limit wait cancelled", err)
	}
	_, err = a.botClient.EditMessageText(ctx, &tgbot.EditMessageTextParams{ChatID: chatID, MessageID: id, Text: text})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	if err != nil {
		return channels.ErrChannelSpecific("edit message", err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, messageID models.MessageId) error {
	chatID, id, err := a.splitMessageRef(messageID)
	if err != nil {
		return err
	}
	_, err = a.botClient.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: chatID, MessageID: id})
	if err != nil {
		return channels.ErrChannelSpecific("delete message", err)
	}
	return nil
}

func (a *Adapter) React(ctx context.Context, messageID models.MessageId, emoji string) error {
	chatID, id, err := a.splitMessageRef(messageID)
	if err != nil {
		return err
	}
	_, err = a.botClient.SetMessageReaction(ctx, &tgbot.SetMessageReactionParams{
		ChatID:    chatID,
		MessageID: id,
		Reaction:  []tgmodels.ReactionType{{Type: tgmodels.ReactionTypeTypeEmoji, ReactionTypeEmoji: &tgmodels.ReactionTypeEmoji{Emoji: emoji}}},
	})
	if err != nil {
		return channels.ErrChannelSpecific("react to message", err)
	}
	return nil
}

func (a *Adapter) Unreact(ctx context.Context, messageID models.MessageId, emoji string) error {
	chatID, id, err := a.splitMessageRef(messageID)
	if err != nil {
		return err
	}
	_, err = a.botClient.SetMessageReaction(ctx, &tgbot.SetMessageReactionParams{ChatID: chatID, MessageID: id})
	if err != nil {
		return channels.ErrChannelSpecific("remove reaction", err)
	}
	return nil
}

func (a *Adapter) SendTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return channels.ErrInvalidMessage("invalid chat id", err)
	}
	_, err = a.botClient.SendChatAction(ctx, &tgbot.SendChatActionParams{ChatID: id, Action: tgmodels.ChatActionTyping})
	if err != nil {
		// Typing indicators are best-effort; never fail a turn over one.
		a.logger.Debug("typing indicator failed", "error", err, "chat_id", id)
		return nil
	}
	return nil
}

// splitMessageRef recovers the (chat_id, message_id) pair Telegram's API
// requires from a MessageId. Message ids are encoded at Send time as
// "<chat_id>:<message_id>" so later Edit/Delete/React calls can recover the
// chat without a side table.
func (a *Adapter) splitMessageRef(messageID models.MessageId) (int64, int, error) {
	parts := strings.SplitN(string(messageID), ":", 2)
	if len(parts) != 2 {
		return 0, 0, channels.ErrInvalidMessage("message id missing chat reference", nil)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, channels.ErrInvalidMessage("invalid chat id in message reference", err)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, channels.ErrInvalidMessage("invalid message id in message reference", err)
	}
	return chatID, id, nil
}

func (a *Adapter) MaxMessageLength() int { return capabilities.MaxMessageLength() }

func isRateLimitError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "too many requests")
}

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }
