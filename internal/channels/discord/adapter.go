// Package discord implements the Discord channel adapter using discordgo's
// gateway websocket for ingress and REST calls for egress.
package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

// discordSession narrows *discordgo.Session to the methods the adapter
// uses, so tests can substitute a fake without a live gateway connection.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emoji string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emoji, userID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Config holds configuration for the Discord adapter.
type Config struct {
	Token string

	InstanceID models.ChannelInstanceId

	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration

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
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5 // conservative default; Discord's own limits vary per endpoint
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	return nil
}

// discordHandlerDeps is the narrow set of dependencies passed into a
// discordgo event handler closure. Passing the Adapter itself would create
// a reference cycle through discordgo.Session's own handler registry; this
// keeps the handler's capture set to exactly what dispatch needs.
type discordHandlerDeps struct {
	dispatch func(*models.InboundMessage)
	health   *channels.BaseHealthAdapter
	logger   *slog.Logger
}

// Adapter implements channels.FullAdapter for Discord.
type Adapter struct {
	config      Config
	session     discordSession
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger
	health      *channels.BaseHealthAdapter

	cancel context.CancelFunc
	wg     sync.WaitGroup

	handlerMu sync.RWMutex
	handler   func(*models.InboundMessage)
}

var capabilities = models.ChannelCapabilities{
	ChatTypes: []models.ChatType{models.ChatDirect, models.ChatGroup, models.ChatThread, models.ChatChannel},
	Media: models.MediaCapabilities{
		Image: true, Video: true, Audio: true, Document: true, MaxFileSize: 25,
	},
	Features: models.FeatureFlags{
		Reactions: true, Threads: true, Edits: true, Deletes: true, Typing: true, Mentions: true,
	},
	Limits: models.RateLimits{TextMaxLength: 2000, MessagesPerSecond: 5},
}

// NewAdapter validates config and constructs a Discord adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:      config,
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:      config.Logger.With("adapter", "discord", "instance", config.InstanceID),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelDiscord, a.logger)
	return a, nil
}

// SetSession injects a discordSession for tests.
func (a *Adapter) SetSession(s discordSession) { a.session = s }

// Metrics reports this adapter's message/connection counters for the
// gateway's Prometheus exporter.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) Info() channels.Info {
	return channels.Info{
		ChannelType:  models.ChannelDiscord,
		InstanceID:   a.config.InstanceID,
		Capabilities: capabilities,
	}
}

func (a *Adapter) dispatch(msg *models.InboundMessage) {
	a.handlerMu.RLock()
	h := a.handler
	a.handlerMu.RUnlock()
	if h != nil {
		h(msg)
	}
}

func (a *Adapter) SetHandler(handler func(*models.InboundMessage)) {
	a.handlerMu.Lock()
	a.handler = handler
	a.handlerMu.Unlock()
}

func (a *Adapter) Connect(ctx context.Context) error {
	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			a.health.RecordError(channels.ErrCodeAuth)
			return channels.ErrAuth("failed to create discord session", err)
		}
		a.session = dg
	}

	deps := &discordHandlerDeps{dispatch: a.dispatch, health: a.health, logger: a.logger}
	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		handleMessageCreate(deps, m)
	})
	a.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.health.SetStatus(true, "")
		a.health.SetDegraded(false)
	})
	a.session.AddHandler(func(s *discordgo.Session, d *discordgo.Disconnect) {
		a.health.SetStatus(false, "disconnected from discord")
		a.health.SetDegraded(true)
	})

	reconnector := &channels.Reconnector{
		Config: channels.ReconnectConfig{
			MaxAttempts:  a.config.MaxReconnectAttempts,
			InitialDelay: time.Second,
			MaxDelay:     a.config.ReconnectBackoff,
			Factor:       2,
			Jitter:       true,
		},
		Logger: a.logger,
		Health: a.health,
	}
	if err := reconnector.Run(ctx, func(runCtx context.Context) error {
		return a.session.Open()
	}); err != nil {
		a.health.RecordError(channels.ErrCodeAuth)
		return channels.ErrAuth("failed to connect to discord", err)
	}

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.session == nil {
		return nil
	}
	if err := a.session.Close(); err != nil {
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to close discord session", err)
	}
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

func (a *Adapter) IsConnected() bool { return a.health.Status().Connected }

func (a *Adapter) Health(ctx context.Context) channels.HealthStatus { return a.health.HealthCheck(ctx) }

func (a *Adapter) StartReceiving(ctx context.Context) error {
	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	return nil
}

func (a *Adapter) StopReceiving(ctx context.Context) error { return a.Disconnect(ctx) }

func (a *Adapter) Receive(ctx context.Context) (*models.InboundMessage, error) {
	return nil, channels.ErrChannelSpecific("discord adapter is push-based; use SetHandler", nil)
}

func (a *Adapter) TryReceive() (*models.InboundMessage, bool) { return nil, false }

func handleMessageCreate(deps *discordHandlerDeps, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	msg := convertInbound(m.Message)
	if msg == nil {
		return
	}
	if deps.health != nil {
		deps.health.RecordMessageReceived()
	}
	deps.dispatch(msg)
}

func convertInbound(m *discordgo.Message) *models.InboundMessage {
	if m == nil || m.Author == nil {
		return nil
	}

	chatType := models.ChatChannel
	if m.GuildID == "" {
		chatType = models.ChatDirect
	}

	var media []models.MediaAttachment
	for _, att := range m.Attachments {
		media = append(media, models.MediaAttachment{
			Kind:     models.ClassifyMediaKind(att.ContentType),
			Source:   models.NewURLSource(att.URL),
			MimeType: att.ContentType,
			Filename: att.Filename,
			SizeByte: int64(att.Size),
		})
	}

	var thread *models.ThreadInfo
	if m.Thread != nil {
		thread = &models.ThreadInfo{ThreadID: m.Thread.ID, ParentID: m.Thread.ParentID}
		chatType = models.ChatThread
	}

	var quoted *models.QuotedMessage
	if m.MessageReference != nil && m.ReferencedMessage != nil {
		quoted = &models.QuotedMessage{
			MessageID: models.MessageId(m.ChannelID + ":" + m.ReferencedMessage.ID),
			SenderID:  m.ReferencedMessage.Author.ID,
			Text:      m.ReferencedMessage.Content,
		}
	}

	timestamp := time.Now()
	if !m.Timestamp.IsZero() {
		timestamp = m.Timestamp
	}

	return &models.InboundMessage{
		ID:        models.MessageId(m.ChannelID + ":" + m.ID),
		Timestamp: timestamp,
		Channel:   models.ChannelDiscord,
		AccountID: m.GuildID,
		Sender:    models.Sender{ID: m.Author.ID, Username: m.Author.Username, IsBot: m.Author.Bot},
		Chat:      models.Chat{ID: m.ChannelID, Type: chatType, GuildID: m.GuildID},
		Thread:    thread,
		Text:      m.Content,
		Media:     media,
		Quote:     quoted,
	}
}

func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.SendResult{}, channels.ErrRateLimited("rate limit wait cancelled", err)
	}
	if a.session == nil {
		return channels.SendResult{}, channels.ErrInternal("session not connected", nil)
	}
	if msg.Target.ChatID == "" {
		return channels.SendResult{}, channels.ErrInvalidMessage("chat_id is required", nil)
	}

	sent, err := a.session.ChannelMessageSend(msg.Target.ChatID, msg.Text)
	if err != nil {
		a.health.RecordMessageFailed()
		if isRateLimitError(err) {
			a.health.RecordError(channels.ErrCodeRateLimited)
			return channels.SendResult{}, channels.ErrRateLimited("discord rate limit exceeded", err)
		}
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.SendResult{}, channels.ErrInternal("failed to send message", err)
	}
	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	return channels.SendResult{
		MessageID: models.MessageId(msg.Target.ChatID + ":" + sent.ID),
		ChatID:    msg.Target.ChatID,
	}, nil
}

func (a *Adapter) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	// discordgo native upload requires raw io.Reader payloads; media
	// sourced by URL (no local bytes) is sent as a plain link appended
	// to the text instead of a native upload.
	text := msg.Text
	for _, att := range msg.Media {
		if att.Source.Kind == models.MediaSourceURL {
			text += "\n" + att.Source.URL
		}
	}
	out := msg
	out.Text = text
	return a.Send(ctx, out)
}

func splitMessageRef(messageID models.MessageId) (string, string, error) {
	parts := strings.SplitN(string(messageID), ":", 2)
	if len(parts) != 2 {
		return "", "", channels.ErrInvalidMessage("message id missing channel reference", nil)
	}
	return parts[0], parts[1], nil
}

func (a *Adapter) Edit(ctx context.Context, messageID models.MessageId, text string) error {
	channelID, msgID, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.ErrRateLimited("rate limit wait cancelled", err)
	}
	if _, err := a.session.ChannelMessageEdit(channelID, msgID, text); err != nil {
		return channels.ErrChannelSpecific("edit message", err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, messageID models.MessageId) error {
	channelID, msgID, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	if err := a.session.ChannelMessageDelete(channelID, msgID); err != nil {
		return channels.ErrChannelSpecific("delete message", err)
	}
	return nil
}

func (a *Adapter) React(ctx context.Context, messageID models.MessageId, emoji string) error {
	channelID, msgID, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	if err := a.session.MessageReactionAdd(channelID, msgID, emoji); err != nil {
		return channels.ErrChannelSpecific("react to message", err)
	}
	return nil
}

func (a *Adapter) Unreact(ctx context.Context, messageID models.MessageId, emoji string) error {
	channelID, msgID, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	if err := a.session.MessageReactionRemove(channelID, msgID, emoji, "@me"); err != nil {
		return channels.ErrChannelSpecific("remove reaction", err)
	}
	return nil
}

func (a *Adapter) SendTyping(ctx context.Context, chatID string) error {
	if err := a.session.ChannelTyping(chatID); err != nil {
		a.logger.Debug("typing indicator failed", "error", err, "channel_id", chatID)
	}
	return nil
}

func (a *Adapter) MaxMessageLength() int { return capabilities.MaxMessageLength() }

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "rate limit") || strings.Contains(s, "429") || strings.Contains(s, "Too Many Requests")
}
