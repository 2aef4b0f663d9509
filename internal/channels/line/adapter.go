package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

var capabilities = models.ChannelCapabilities{
	ChatTypes: []models.ChatType{models.ChatDirect, models.ChatGroup},
	Media: models.MediaCapabilities{
		Image: true, Video: true, Audio: true, Document: true, Sticker: true,
		MaxFileSize: 300,
	},
	Features: models.FeatureFlags{Mentions: true},
	Limits:   models.RateLimits{TextMaxLength: 5000, CaptionMaxLength: 2000, MessagesPerSecond: 10, MessagesPerMinute: 100},
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements channels.FullAdapter for LINE. Like WhatsApp, it has
// no persistent connection: inbound events arrive via WebhookHandler.
type Adapter struct {
	config      Config
	httpClient  httpDoer
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger
	health      *channels.BaseHealthAdapter

	handlerMu sync.RWMutex
	handler   func(*models.InboundMessage)
}

// NewAdapter validates config and constructs the rate limiter; it performs
// no network calls.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:      config,
		httpClient:  http.DefaultClient,
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:      config.Logger.With("adapter", "line", "instance", config.InstanceID),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelLine, a.logger)
	return a, nil
}

// SetHTTPClient injects a fake transport for tests.
func (a *Adapter) SetHTTPClient(client httpDoer) { a.httpClient = client }

// Metrics reports this adapter's message/connection counters for the
// gateway's Prometheus exporter.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) Info() channels.Info {
	return channels.Info{
		ChannelType:  models.ChannelLine,
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

// Connect verifies the access token by fetching bot info.
func (a *Adapter) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/info", nil)
	if err != nil {
		return channels.ErrInternal("failed to build line info request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.ChannelAccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.health.RecordError(channels.ErrCodeAuth)
		return channels.ErrAuth("failed to reach line api", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.health.RecordError(channels.ErrCodeAuth)
		return channels.ErrAuth(fmt.Sprintf("invalid line access token (status %d)", resp.StatusCode), nil)
	}

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

func (a *Adapter) IsConnected() bool { return a.health.Status().Connected }

func (a *Adapter) Health(ctx context.Context) channels.HealthStatus { return a.health.HealthCheck(ctx) }

// StartReceiving is a no-op: inbound delivery is driven by the gateway
// calling WebhookHandler.
func (a *Adapter) StartReceiving(ctx context.Context) error { return nil }

func (a *Adapter) StopReceiving(ctx context.Context) error { return a.Disconnect(ctx) }

func (a *Adapter) Receive(ctx context.Context) (*models.InboundMessage, error) {
	return nil, channels.ErrChannelSpecific("line adapter is webhook-driven; use SetHandler", nil)
}

func (a *Adapter) TryReceive() (*models.InboundMessage, bool) { return nil, false }

// WebhookHandler returns the HTTP handler the gateway mounts at the
// webhook URL registered in the LINE Developers console.
func (a *Adapter) WebhookHandler() http.Handler {
	return http.HandlerFunc(a.serveWebhook)
}

func (a *Adapter) serveWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !verifySignature(body, r.Header.Get("X-Line-Signature"), a.config.ChannelSecret) {
		a.health.RecordError(channels.ErrCodeAuth)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, raw := range payload.Events {
		var env eventEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			a.logger.Warn("failed to decode line event", "error", err)
			continue
		}
		if env.Type != "message" {
			a.logger.Debug("ignoring non-message line event", "type", env.Type)
			continue
		}
		inbound, err := convertMessageEvent(env, a.config.InstanceID)
		if err != nil {
			a.logger.Warn("failed to convert line message event", "error", err)
			continue
		}
		a.health.RecordMessageReceived()
		a.dispatch(inbound)
	}
	w.WriteHeader(http.StatusOK)
}

// verifySignature checks LINE's X-Line-Signature header: base64(HMAC-SHA256(body, channelSecret)).
func verifySignature(body []byte, signature, channelSecret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type webhookPayload struct {
	Destination string            `json:"destination"`
	Events      []json.RawMessage `json:"events"`
}

type eventEnvelope struct {
	Type       string      `json:"type"`
	ReplyToken string      `json:"replyToken"`
	Source     eventSource `json:"source"`
	Timestamp  int64       `json:"timestamp"`
	Message    messagePayload `json:"message"`
}

type eventSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
	RoomID  string `json:"roomId"`
}

type messagePayload struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	FileName  string  `json:"fileName"`
	FileSize  int64   `json:"fileSize"`
	Title     string  `json:"title"`
	Address   string  `json:"address"`
	PackageID string  `json:"packageId"`
	StickerID string  `json:"stickerId"`
}

func convertMessageEvent(env eventEnvelope, accountID models.ChannelInstanceId) (*models.InboundMessage, error) {
	senderID, chatID, chatType := resolveSource(env.Source)

	text, media := convertMessagePayload(env.Message)

	return &models.InboundMessage{
		ID:        models.MessageId(env.Message.ID),
		Timestamp: time.UnixMilli(env.Timestamp).UTC(),
		Channel:   models.ChannelLine,
		AccountID: string(accountID),
		Sender:    models.Sender{ID: senderID},
		Chat:      models.Chat{ID: chatID, Type: chatType},
		Text:      text,
		Media:     media,
		Metadata:  map[string]any{"reply_token": env.ReplyToken},
	}, nil
}

func resolveSource(source eventSource) (senderID, chatID string, chatType models.ChatType) {
	switch source.Type {
	case "group":
		return source.UserID, source.GroupID, models.ChatGroup
	case "room":
		return source.UserID, source.RoomID, models.ChatGroup
	default:
		return source.UserID, source.UserID, models.ChatDirect
	}
}

func convertMessagePayload(msg messagePayload) (string, []models.MediaAttachment) {
	switch msg.Type {
	case "image":
		return "", []models.MediaAttachment{{Kind: models.MediaImage, Source: models.NewFileIDSource(msg.ID), MimeType: "image/jpeg"}}
	case "video":
		return "", []models.MediaAttachment{{Kind: models.MediaVideo, Source: models.NewFileIDSource(msg.ID), MimeType: "video/mp4"}}
	case "audio":
		return "", []models.MediaAttachment{{Kind: models.MediaAudio, Source: models.NewFileIDSource(msg.ID), MimeType: "audio/m4a"}}
	case "file":
		return "", []models.MediaAttachment{{Kind: models.MediaDocument, Source: models.NewFileIDSource(msg.ID), Filename: msg.FileName, SizeByte: msg.FileSize}}
	case "location":
		return msg.Title + "\n" + msg.Address, nil
	case "sticker":
		return fmt.Sprintf("[Sticker: %s/%s]", msg.PackageID, msg.StickerID), nil
	default:
		return msg.Text, nil
	}
}

// outboundMessage mirrors LineOutboundMessage's tagged-union shape for
// the subset of message types this adapter emits.
type outboundMessage map[string]any

func textMessage(text string) outboundMessage { return outboundMessage{"type": "text", "text": text} }

func buildOutboundMessages(msg models.OutboundMessage) []outboundMessage {
	var out []outboundMessage
	if msg.Text != "" {
		out = append(out, textMessage(msg.Text))
	}
	for _, att := range msg.Media {
		if att.Source.Kind != models.MediaSourceURL {
			continue
		}
		url := att.Source.URL
		switch att.Kind {
		case models.MediaImage:
			out = append(out, outboundMessage{"type": "image", "originalContentUrl": url, "previewImageUrl": url})
		case models.MediaVideo:
			out = append(out, outboundMessage{"type": "video", "originalContentUrl": url, "previewImageUrl": url})
		case models.MediaAudio, models.MediaVoice:
			out = append(out, outboundMessage{"type": "audio", "originalContentUrl": url, "duration": 60000})
		default:
			name := att.Filename
			if name == "" {
				name = url
			}
			out = append(out, textMessage(fmt.Sprintf("[File: %s]", name)))
		}
	}
	return out
}

func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.SendResult{}, channels.ErrRateLimited("rate limit wait cancelled", err)
	}
	if msg.Target.ChatID == "" {
		return channels.SendResult{}, channels.ErrInvalidMessage("chat_id is required", nil)
	}

	messages := buildOutboundMessages(msg)
	if len(messages) == 0 {
		return channels.SendResult{}, channels.ErrInvalidMessage("no content to send", nil)
	}
	if len(msg.Media) > 0 {
		for _, att := range msg.Media {
			if att.Source.Kind != models.MediaSourceURL {
				a.logger.Warn("line requires pre-hosted urls for media; skipping non-url attachment", "filename", att.Filename, "kind", att.Kind)
			}
		}
	}

	requestID, err := a.push(ctx, msg.Target.ChatID, messages)
	if err != nil {
		a.health.RecordMessageFailed()
		return channels.SendResult{}, err
	}

	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	return channels.SendResult{MessageID: models.MessageId(requestID), ChatID: msg.Target.ChatID}, nil
}

// SendWithAttachments delegates to Send: LINE requires pre-hosted URLs for
// media, so there is no separate upload step to perform.
func (a *Adapter) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	return a.Send(ctx, msg)
}

func (a *Adapter) push(ctx context.Context, to string, messages []outboundMessage) (string, error) {
	body, err := json.Marshal(map[string]any{"to": to, "messages": messages})
	if err != nil {
		return "", channels.ErrInternal("failed to marshal line payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/message/push", bytes.NewReader(body))
	if err != nil {
		return "", channels.ErrInternal("failed to build line request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.ChannelAccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.health.RecordError(channels.ErrCodeInternal)
		return "", channels.ErrInternal("line push request failed", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		a.health.RecordError(channels.ErrCodeRateLimited)
		return "", channels.ErrRateLimited("line rate limit exceeded", fmt.Errorf("%s", respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.health.RecordError(channels.ErrCodeInternal)
		return "", channels.ErrInternal(fmt.Sprintf("line push failed (%d): %s", resp.StatusCode, respBody), nil)
	}
	return resp.Header.Get("X-Line-Request-Id"), nil
}

// Reply sends messages using a reply token captured from an inbound
// event's metadata, avoiding the push API's per-message cost. Not part
// of channels.ChannelSender: the orchestrator calls it directly when an
// inbound message's metadata carries a reply_token.
func (a *Adapter) Reply(ctx context.Context, replyToken string, msg models.OutboundMessage) error {
	messages := buildOutboundMessages(msg)
	if len(messages) == 0 {
		return channels.ErrInvalidMessage("no content to send", nil)
	}
	body, err := json.Marshal(map[string]any{"replyToken": replyToken, "messages": messages})
	if err != nil {
		return channels.ErrInternal("failed to marshal line reply payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/message/reply", bytes.NewReader(body))
	if err != nil {
		return channels.ErrInternal("failed to build line reply request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.ChannelAccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channels.ErrInternal("line reply request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return channels.ErrInternal(fmt.Sprintf("line reply failed (%d): %s", resp.StatusCode, respBody), nil)
	}
	return nil
}

// Edit, Delete, React, and Unreact are unsupported: the Messaging API has
// no affordance for mutating a delivered message or attaching reactions
// to one sent by a bot.
func (a *Adapter) Edit(ctx context.Context, messageID models.MessageId, text string) error {
	return channels.ErrChannelSpecific("line does not support message editing", nil)
}

func (a *Adapter) Delete(ctx context.Context, messageID models.MessageId) error {
	return channels.ErrChannelSpecific("line does not support message deletion", nil)
}

func (a *Adapter) React(ctx context.Context, messageID models.MessageId, emoji string) error {
	return channels.ErrChannelSpecific("line does not support reactions", nil)
}

func (a *Adapter) Unreact(ctx context.Context, messageID models.MessageId, emoji string) error {
	return channels.ErrChannelSpecific("line does not support reactions", nil)
}

// SendTyping is a no-op: the Messaging API exposes no typing indicator.
func (a *Adapter) SendTyping(ctx context.Context, chatID string) error { return nil }

func (a *Adapter) MaxMessageLength() int { return capabilities.MaxMessageLength() }

// getContent fetches a media message's binary payload from the Data API,
// used to resolve a MediaSourceFileID attachment surfaced by convertMessagePayload.
func (a *Adapter) getContent(ctx context.Context, messageID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/message/%s/content", dataAPIBase, messageID), nil)
	if err != nil {
		return nil, channels.ErrInternal("failed to build line content request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.ChannelAccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, channels.ErrInternal("line content request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, channels.ErrInternal(fmt.Sprintf("line content fetch failed (%d)", resp.StatusCode), nil)
	}
	return io.ReadAll(resp.Body)
}
