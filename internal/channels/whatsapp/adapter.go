package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

var capabilities = models.ChannelCapabilities{
	ChatTypes: []models.ChatType{models.ChatDirect, models.ChatGroup},
	Media: models.MediaCapabilities{
		Image: true, Video: true, Audio: true, Voice: true, Document: true, Sticker: true,
		MaxFileSize: 100,
	},
	Features: models.FeatureFlags{
		Reactions: true, Threads: false, Edits: false, Deletes: false,
		Typing: false, ReadReceipts: true, Mentions: true,
	},
	Limits: models.RateLimits{
		TextMaxLength: 4096, CaptionMaxLength: 1024, MessagesPerSecond: 80, MessagesPerMinute: 1000,
	},
}

// httpDoer is the narrow surface of *http.Client the adapter depends on,
// so tests can inject a fake transport without a real network call.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements channels.FullAdapter for WhatsApp against the
// Business Cloud API. Unlike the socket/subprocess-driven adapters, it has
// no persistent connection: inbound messages arrive via WebhookHandler,
// and Connect/Disconnect only toggle reported health.
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
		logger:      config.Logger.With("adapter", "whatsapp", "instance", config.InstanceID),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelWhatsApp, a.logger)
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
		ChannelType:  models.ChannelWhatsApp,
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

// Connect marks the adapter healthy. There is no socket to open: delivery
// is a Graph API call per send, and receipt is a webhook call per message.
func (a *Adapter) Connect(ctx context.Context) error {
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
// calling WebhookHandler, not by a background goroutine here.
func (a *Adapter) StartReceiving(ctx context.Context) error { return nil }

func (a *Adapter) StopReceiving(ctx context.Context) error { return a.Disconnect(ctx) }

func (a *Adapter) Receive(ctx context.Context) (*models.InboundMessage, error) {
	return nil, channels.ErrChannelSpecific("whatsapp adapter is webhook-driven; use SetHandler", nil)
}

func (a *Adapter) TryReceive() (*models.InboundMessage, bool) { return nil, false }

// WebhookHandler returns the HTTP handler the gateway mounts at the
// webhook URL registered with Meta: GET verifies the subscription
// challenge, POST delivers message/status payloads.
func (a *Adapter) WebhookHandler() http.Handler {
	return http.HandlerFunc(a.serveWebhook)
}

func (a *Adapter) serveWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleVerification(w, r)
	case http.MethodPost:
		a.handleDelivery(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *Adapter) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if a.config.WebhookVerifyToken == "" || q.Get("hub.verify_token") != a.config.WebhookVerifyToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

func (a *Adapter) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if a.config.AppSecret != "" && !verifySignature(body, r.Header.Get("X-Hub-Signature-256"), a.config.AppSecret) {
		a.health.RecordError(channels.ErrCodeAuth)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				var contact *webhookContact
				for i := range change.Value.Contacts {
					if change.Value.Contacts[i].WaID == msg.From {
						contact = &change.Value.Contacts[i]
						break
					}
				}
				inbound := convertWebhookMessage(msg, contact, a.config.PhoneNumberID)
				a.health.RecordMessageReceived()
				a.dispatch(inbound)
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

// verifySignature checks Meta's X-Hub-Signature-256 header (format
// "sha256=<hex-hmac>") against an HMAC-SHA256 of body keyed by appSecret.
func verifySignature(body []byte, header, appSecret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}

func convertWebhookMessage(msg webhookMessage, contact *webhookContact, accountID string) *models.InboundMessage {
	sender := models.Sender{ID: msg.From, Phone: "+" + msg.From}
	if contact != nil {
		sender.DisplayName = contact.Profile.Name
	}

	var quote *models.QuotedMessage
	if msg.Context != nil {
		quote = &models.QuotedMessage{MessageID: models.MessageId(msg.From + ":" + msg.Context.ID), SenderID: msg.Context.From}
	}

	timestamp := time.Now()
	if secs, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
		timestamp = time.Unix(secs, 0).UTC()
	}

	return &models.InboundMessage{
		ID:        models.MessageId(msg.From + ":" + msg.ID),
		Timestamp: timestamp,
		Channel:   models.ChannelWhatsApp,
		AccountID: accountID,
		Sender:    sender,
		Chat:      models.Chat{ID: msg.From, Type: models.ChatDirect},
		Text:      textOf(msg),
		Media:     extractMedia(msg),
		Quote:     quote,
	}
}

func textOf(msg webhookMessage) string {
	if msg.Text != nil {
		return msg.Text.Body
	}
	return ""
}

func extractMedia(msg webhookMessage) []models.MediaAttachment {
	var media []models.MediaAttachment
	if msg.Image != nil {
		media = append(media, models.MediaAttachment{Kind: models.MediaImage, Source: models.NewFileIDSource(msg.Image.ID), MimeType: msg.Image.MimeType})
	}
	if msg.Video != nil {
		media = append(media, models.MediaAttachment{Kind: models.MediaVideo, Source: models.NewFileIDSource(msg.Video.ID), MimeType: msg.Video.MimeType})
	}
	if msg.Audio != nil {
		media = append(media, models.MediaAttachment{Kind: models.MediaAudio, Source: models.NewFileIDSource(msg.Audio.ID), MimeType: msg.Audio.MimeType})
	}
	if msg.Document != nil {
		media = append(media, models.MediaAttachment{
			Kind: models.MediaDocument, Source: models.NewFileIDSource(msg.Document.ID),
			MimeType: msg.Document.MimeType, Filename: msg.Document.Filename,
		})
	}
	return media
}

// webhookPayload and its children mirror Meta's Cloud API webhook
// delivery shape.
type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Value webhookValue `json:"value"`
	Field string       `json:"field"`
}

type webhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         webhookMetadata  `json:"metadata"`
	Contacts         []webhookContact `json:"contacts"`
	Messages         []webhookMessage `json:"messages"`
	Statuses         []webhookStatus  `json:"statuses"`
}

type webhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type webhookContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

type webhookMessage struct {
	From      string           `json:"from"`
	ID        string           `json:"id"`
	Timestamp string           `json:"timestamp"`
	Type      string           `json:"type"`
	Text      *webhookText     `json:"text,omitempty"`
	Image     *webhookMedia    `json:"image,omitempty"`
	Video     *webhookMedia    `json:"video,omitempty"`
	Audio     *webhookMedia    `json:"audio,omitempty"`
	Document  *webhookDocument `json:"document,omitempty"`
	Context   *webhookContext  `json:"context,omitempty"`
}

type webhookText struct {
	Body string `json:"body"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Sha256   string `json:"sha256,omitempty"`
}

type webhookDocument struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type webhookContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

type webhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

type graphSendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Messages         []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphMediaUploadResponse struct {
	ID string `json:"id"`
}

func (a *Adapter) messagesURL() string {
	return fmt.Sprintf("%s/%s/messages", graphAPIBase, a.config.PhoneNumberID)
}

func (a *Adapter) mediaURL() string {
	return fmt.Sprintf("%s/%s/media", graphAPIBase, a.config.PhoneNumberID)
}

func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	start := time.Now()
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return channels.SendResult{}, channels.ErrRateLimited("rate limit wait cancelled", err)
	}
	if msg.Target.ChatID == "" {
		return channels.SendResult{}, channels.ErrInvalidMessage("chat_id is required", nil)
	}

	recipient := normalizePhone(msg.Target.ChatID)
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipient,
		"type":              "text",
		"text": map[string]any{
			"body":        msg.Text,
			"preview_url": !msg.Options.DisablePreview,
		},
	}
	if msg.ReplyTo != "" {
		if _, quotedID, err := splitMessageRef(msg.ReplyTo); err == nil {
			payload["context"] = map[string]any{"message_id": quotedID}
		}
	}

	msgID, err := a.postMessage(ctx, payload)
	if err != nil {
		return channels.SendResult{}, err
	}

	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	return channels.SendResult{
		MessageID: models.MessageId(recipient + ":" + msgID),
		ChatID:    recipient,
	}, nil
}

func (a *Adapter) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	var result channels.SendResult
	var err error
	if msg.Text != "" {
		result, err = a.Send(ctx, msg)
		if err != nil {
			return result, err
		}
	}

	recipient := normalizePhone(msg.Target.ChatID)
	for _, att := range msg.Media {
		if err := a.rateLimiter.Wait(ctx); err != nil {
			return result, channels.ErrRateLimited("rate limit wait cancelled", err)
		}
		msgID, err := a.sendMediaAttachment(ctx, recipient, att)
		if err != nil {
			a.logger.Warn("failed to send whatsapp attachment", "error", err, "filename", att.Filename)
			continue
		}
		result = channels.SendResult{MessageID: models.MessageId(recipient + ":" + msgID), ChatID: recipient}
	}
	return result, nil
}

func (a *Adapter) sendMediaAttachment(ctx context.Context, recipient string, att models.MediaAttachment) (string, error) {
	msgType, field := mediaMessageType(att.Kind)

	mediaObj := map[string]any{}
	switch att.Source.Kind {
	case models.MediaSourceURL:
		mediaObj["link"] = att.Source.URL
	case models.MediaSourceBytes:
		mediaID, err := a.uploadMedia(ctx, att.Source.Bytes, mimeOrDefault(att.MimeType), att.Filename)
		if err != nil {
			return "", err
		}
		mediaObj["id"] = mediaID
	default:
		return "", channels.ErrInvalidMessage(fmt.Sprintf("unsupported media source kind %q for whatsapp", att.Source.Kind), nil)
	}
	if field == "document" && att.Filename != "" {
		mediaObj["filename"] = att.Filename
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipient,
		"type":              msgType,
		field:               mediaObj,
	}
	return a.postMessage(ctx, payload)
}

func mediaMessageType(kind models.MediaKind) (messageType, field string) {
	switch kind {
	case models.MediaImage:
		return "image", "image"
	case models.MediaVideo:
		return "video", "video"
	case models.MediaAudio, models.MediaVoice:
		return "audio", "audio"
	default:
		return "document", "document"
	}
}

func mimeOrDefault(mimeType string) string {
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}

func (a *Adapter) uploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", channels.ErrInternal("failed to build whatsapp media upload", err)
	}
	if err := writer.WriteField("type", mimeType); err != nil {
		return "", channels.ErrInternal("failed to build whatsapp media upload", err)
	}
	if filename == "" {
		filename = "file"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", channels.ErrInternal("failed to build whatsapp media upload", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", channels.ErrInternal("failed to build whatsapp media upload", err)
	}
	if err := writer.Close(); err != nil {
		return "", channels.ErrInternal("failed to build whatsapp media upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.mediaURL(), &buf)
	if err != nil {
		return "", channels.ErrInternal("failed to build whatsapp media upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.config.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.health.RecordError(channels.ErrCodeInternal)
		return "", channels.ErrInternal("whatsapp media upload request failed", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.health.RecordError(channels.ErrCodeInternal)
		return "", channels.ErrInternal(fmt.Sprintf("whatsapp media upload failed (%d): %s", resp.StatusCode, respBody), nil)
	}

	var parsed graphMediaUploadResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", channels.ErrInternal("failed to parse whatsapp media upload response", err)
	}
	return parsed.ID, nil
}

func (a *Adapter) postMessage(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", channels.ErrInternal("failed to marshal whatsapp payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return "", channels.ErrInternal("failed to build whatsapp request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInternal)
		return "", channels.ErrInternal("whatsapp request failed", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeRateLimited)
		return "", channels.ErrRateLimited("whatsapp graph api rate limit exceeded", fmt.Errorf("%s", respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInternal)
		return "", channels.ErrInternal(fmt.Sprintf("whatsapp send failed (%d): %s", resp.StatusCode, respBody), nil)
	}

	var parsed graphSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", channels.ErrInternal("failed to parse whatsapp response", err)
	}
	if len(parsed.Messages) == 0 {
		return "", channels.ErrInternal("whatsapp response missing message id", nil)
	}
	return parsed.Messages[0].ID, nil
}

func splitMessageRef(messageID models.MessageId) (string, string, error) {
	parts := strings.SplitN(string(messageID), ":", 2)
	if len(parts) != 2 {
		return "", "", channels.ErrInvalidMessage("message id missing chat reference", nil)
	}
	return parts[0], parts[1], nil
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Edit and Delete are unsupported: the Cloud API has no affordance for
// mutating or retracting a delivered message.
func (a *Adapter) Edit(ctx context.Context, messageID models.MessageId, text string) error {
	return channels.ErrChannelSpecific("whatsapp does not support message editing", nil)
}

func (a *Adapter) Delete(ctx context.Context, messageID models.MessageId) error {
	return channels.ErrChannelSpecific("whatsapp does not support message deletion", nil)
}

func (a *Adapter) React(ctx context.Context, messageID models.MessageId, emoji string) error {
	recipient, msgID, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipient,
		"type":              "reaction",
		"reaction":          map[string]any{"message_id": msgID, "emoji": emoji},
	}
	if _, err := a.postMessage(ctx, payload); err != nil {
		return channels.ErrChannelSpecific("react to message", err)
	}
	return nil
}

// Unreact removes a reaction by resending with an empty emoji, per the
// Cloud API's own convention for clearing a reaction.
func (a *Adapter) Unreact(ctx context.Context, messageID models.MessageId, emoji string) error {
	recipient, msgID, err := splitMessageRef(messageID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipient,
		"type":              "reaction",
		"reaction":          map[string]any{"message_id": msgID, "emoji": ""},
	}
	if _, err := a.postMessage(ctx, payload); err != nil {
		return channels.ErrChannelSpecific("remove reaction", err)
	}
	return nil
}

// SendTyping is a no-op: the Cloud API exposes no typing indicator.
func (a *Adapter) SendTyping(ctx context.Context, chatID string) error { return nil }

func (a *Adapter) MaxMessageLength() int { return capabilities.MaxMessageLength() }
