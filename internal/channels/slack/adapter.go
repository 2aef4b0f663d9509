// Package slack implements the Slack channel adapter using Socket Mode for
// ingress and the Web API for egress.
package slack

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

// Config holds configuration for the Slack adapter.
type Config struct {
	BotToken string // xoxb- token for Web API calls
	AppToken string // xapp- token for Socket Mode

	InstanceID models.ChannelInstanceId

	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.BotToken == "" {
		return channels.ErrConfig("bot_token is required", nil)
	}
	if c.AppToken == "" {
		return channels.ErrConfig("app_token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 1 // Slack's Tier 3 methods allow ~1/sec sustained
	}
	if c.RateBurst == 0 {
		c.RateBurst = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	return nil
}

// Adapter implements channels.FullAdapter for Slack.
type Adapter struct {
	config       Config
	apiClient    SlackAPIClient
	socketClient SocketModeClient
	rateLimiter  *channels.RateLimiter
	logger       *slog.Logger
	health       *channels.BaseHealthAdapter

	botUserID   string
	botUserIDMu sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	handlerMu sync.RWMutex
	handler   func(*models.InboundMessage)
}

var capabilities = models.ChannelCapabilities{
	ChatTypes: []models.ChatType{models.ChatDirect, models.ChatGroup, models.ChatThread, models.ChatChannel},
	Media: models.MediaCapabilities{
		Image: true, Video: true, Audio: true, Document: true, MaxFileSize: 1024,
	},
	Features: models.FeatureFlags{
		Reactions: true, Threads: true, Edits: true, Deletes: true, Typing: false, Mentions: true,
	},
	Limits: models.RateLimits{TextMaxLength: 40000, MessagesPerSecond: 1},
}

// NewAdapter validates config and constructs the client, Socket Mode, and
// rate limiter; it does not open any connection.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	client := slack.New(config.BotToken, slack.OptionAppLevelToken(config.AppToken))
	socket := socketmode.New(client)

	a := &Adapter{
		config:       config,
		apiClient:    client,
		socketClient: newRealSocketModeClient(socket),
		rateLimiter:  channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:       config.Logger.With("adapter", "slack", "instance", config.InstanceID),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelSlack, a.logger)
	return a, nil
}

// SetClients injects fake API/socket clients for tests.
func (a *Adapter) SetClients(api SlackAPIClient, socket SocketModeClient) {
	a.apiClient = api
	a.socketClient = socket
}

// Metrics reports this adapter's message/connection counters for the
// gateway's Prometheus exporter.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) Info() channels.Info {
	return channels.Info{
		ChannelType:  models.ChannelSlack,
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

func (a *Adapter) Connect(ctx context.Context) error {
	authResp, err := a.apiClient.AuthTestContext(ctx)
	if err != nil {
		a.health.RecordError(channels.ErrCodeAuth)
		return channels.ErrAuth("failed to authenticate with slack", err)
	}
	a.botUserIDMu.Lock()
	a.botUserID = authResp.UserID
	a.botUserIDMu.Unlock()

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.health.SetStatus(false, "shutdown timeout")
		return ctx.Err()
	}
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

func (a *Adapter) IsConnected() bool { return a.health.Status().Connected }

func (a *Adapter) Health(ctx context.Context) channels.HealthStatus { return a.health.HealthCheck(ctx) }

func (a *Adapter) StartReceiving(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.handleEvents(runCtx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.socketClient.Run(); err != nil {
			a.health.SetStatus(false, fmt.Sprintf("socket mode error: %v", err))
			a.health.RecordError(channels.ErrCodeChannelSpecific)
		}
	}()
	return nil
}

func (a *Adapter) StopReceiving(ctx context.Context) error { return a.Disconnect(ctx) }

func (a *Adapter) Receive(ctx context.Context) (*models.InboundMessage, error) {
	return nil, channels.ErrChannelSpecific("slack adapter is push-based; use SetHandler", nil)
}

func (a *Adapter) TryReceive() (*models.InboundMessage, bool) { return nil, false }

func (a *Adapter) handleEvents(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socketClient.Events():
			if !ok {
				return
			}
			a.health.UpdateLastPing()

			switch event.Type {
			case socketmode.EventTypeConnectionError:
				a.health.SetStatus(false, "connection error")
			case socketmode.EventTypeConnected:
				a.health.SetStatus(true, "")
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					a.socketClient.Ack(*event.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		if event.Request != nil {
			a.socketClient.Ack(*event.Request)
		}
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.handleAppMention(ev)
	case *slackevents.MessageEvent:
		if ev.BotID != "" {
			return
		}
		if ev.SubType != "" && ev.SubType != "file_share" {
			return
		}
		a.handleMessage(ev)
	}
}

func (a *Adapter) handleAppMention(event *slackevents.AppMentionEvent) {
	a.handleMessage(&slackevents.MessageEvent{
		Type:            "message",
		User:            event.User,
		Text:            event.Text,
		Channel:         event.Channel,
		TimeStamp:       event.TimeStamp,
		ThreadTimeStamp: event.ThreadTimeStamp,
	})
}

func (a *Adapter) handleMessage(event *slackevents.MessageEvent) {
	a.botUserIDMu.RLock()
	botUserID := a.botUserID
	a.botUserIDMu.RUnlock()

	isDM := strings.HasPrefix(event.Channel, "D")
	isMention := botUserID != "" && strings.Contains(event.Text, fmt.Sprintf("<@%s>", botUserID))
	if !isDM && !isMention && event.ThreadTimeStamp == "" {
		return
	}

	msg := convertInbound(event)
	if msg == nil {
		return
	}
	a.health.RecordMessageReceived()
	a.dispatch(msg)
}

func convertInbound(event *slackevents.MessageEvent) *models.InboundMessage {
	text := stripMentions(event.Text)

	chatType := models.ChatChannel
	if strings.HasPrefix(event.Channel, "D") {
		chatType = models.ChatDirect
	}

	var thread *models.ThreadInfo
	if event.ThreadTimeStamp != "" && event.ThreadTimeStamp != event.TimeStamp {
		thread = &models.ThreadInfo{ThreadID: event.ThreadTimeStamp, ParentID: event.Channel}
		chatType = models.ChatThread
	}

	var media []models.MediaAttachment
	if event.Message != nil {
		for _, file := range event.Message.Files {
			media = append(media, models.MediaAttachment{
				Kind:     models.ClassifyMediaKind(file.Mimetype),
				Source:   models.NewURLSource(file.URLPrivateDownload),
				MimeType: file.Mimetype,
				Filename: file.Name,
				SizeByte: int64(file.Size),
			})
		}
	}

	timestamp := time.Now()
	if ts, err := parseSlackTimestamp(event.TimeStamp); err == nil {
		timestamp = ts
	}

	return &models.InboundMessage{
		ID:        models.MessageId(event.Channel + ":" + event.TimeStamp),
		Timestamp: timestamp,
		Channel:   models.ChannelSlack,
		AccountID: event.Channel,
		Sender:    models.Sender{ID: event.User},
		Chat:      models.Chat{ID: event.Channel, Type: chatType},
		Thread:    thread,
		Text:      text,
		Media:     media,
	}
}

func stripMentions(text string) string {
	for strings.Contains(text, "<@") {
		start := strings.Index(text, "<@")
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

func parseSlackTimestamp(ts string) (time.Time, error) {
	var sec, usec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &usec); err != nil {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
	}
	return time.Unix(sec, usec*1000), nil
}

func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.SendResult{}, channels.ErrRateLimited("rate limit wait cancelled", err)
	}
	if msg.Target.ChatID == "" {
		return channels.SendResult{}, channels.ErrInvalidMessage("chat_id is required", nil)
	}

	options := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.Target.Thread != "" {
		options = append(options, slack.MsgOptionTS(msg.Target.Thread))
	}

	channelID, timestamp, err := a.apiClient.PostMessageContext(ctx, msg.Target.ChatID, options...)
	if err != nil {
		a.health.RecordMessageFailed()
		if isRateLimitError(err) {
			a.health.RecordError(channels.ErrCodeRateLimited)
			return channels.SendResult{}, channels.ErrRateLimited("slack rate limit exceeded", err)
		}
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.SendResult{}, channels.ErrInternal("failed to send slack message", err)
	}

	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	return channels.SendResult{
		MessageID: models.MessageId(channelID + ":" + timestamp),
		ChatID:    channelID,
	}, nil
}

func (a *Adapter) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	result, err := a.Send(ctx, msg)
	if err != nil {
		return result, err
	}
	channelID, _, splitErr := splitMessageRef(result.MessageID)
	if splitErr != nil {
		return result, nil
	}
	for _, att := range msg.Media {
		if err := a.uploadAttachment(ctx, channelID, att); err != nil {
			a.logger.Warn("failed to upload slack attachment", "error", err, "filename", att.Filename)
		}
	}
	return result, nil
}

func (a *Adapter) uploadAttachment(ctx context.Context, channelID string, att models.MediaAttachment) error {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	params := slack.UploadFileV2Parameters{
		Filename: att.Filename,
		Channel:  channelID,
	}
	switch att.Source.Kind {
	case models.MediaSourceBytes:
		params.Reader = bytes.NewReader(att.Source.Bytes)
		params.FileSize = len(att.Source.Bytes)
	case models.MediaSourceURL:
		return fmt.Errorf("slack uploads require local bytes; %s is url-sourced", att.Filename)
	default:
		return fmt.Errorf("unsupported media source kind %q for slack upload", att.Source.Kind)
	}
	_, err := a.apiClient.UploadFileV2Context(ctx, params)
	return err
}

func splitMessageRef(messageID models.MessageId) (string, string, error) {
	parts := strings.SplitN(string(messageID), ":", 2)
	if len(parts) != 2 {
		return "", "", channels.ErrInvalidMessage("message id missing channel reference", nil)
	}
	return parts[0], parts[1], nil
}

func (a *Adapter) Edit(ctx context.Context, messageID models.MessageId, text string) error {
	channelID, ts, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.ErrRateLimited("rate limit wait cancelled", err)
	}
	if _, _, _, err := a.apiClient.UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(text, false)); err != nil {
		return channels.ErrChannelSpecific("edit message", err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, messageID models.MessageId) error {
	channelID, ts, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	if _, _, err := a.apiClient.DeleteMessageContext(ctx, channelID, ts); err != nil {
		return channels.ErrChannelSpecific("delete message", err)
	}
	return nil
}

func (a *Adapter) React(ctx context.Context, messageID models.MessageId, emoji string) error {
	channelID, ts, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	ref := slack.ItemRef{Channel: channelID, Timestamp: ts}
	if err := a.apiClient.AddReactionContext(ctx, emoji, ref); err != nil {
		return channels.ErrChannelSpecific("react to message", err)
	}
	return nil
}

func (a *Adapter) Unreact(ctx context.Context, messageID models.MessageId, emoji string) error {
	channelID, ts, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	ref := slack.ItemRef{Channel: channelID, Timestamp: ts}
	if err := a.apiClient.RemoveReactionContext(ctx, emoji, ref); err != nil {
		return channels.ErrChannelSpecific("remove reaction", err)
	}
	return nil
}

// SendTyping is a no-op: Slack's Events API exposes no typing indicator for
// bot users (only the legacy RTM API did, which Socket Mode superseded).
func (a *Adapter) SendTyping(ctx context.Context, chatID string) error { return nil }

func (a *Adapter) MaxMessageLength() int { return capabilities.MaxMessageLength() }

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate limit") || strings.Contains(s, "ratelimited") || strings.Contains(s, "429")
}
