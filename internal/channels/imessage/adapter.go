//go:build darwin

package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"

	_ "modernc.org/sqlite"
)

var capabilities = models.ChannelCapabilities{
	ChatTypes: []models.ChatType{models.ChatDirect, models.ChatGroup},
	Media:     models.MediaCapabilities{Image: true, Video: true, Audio: true, Document: true},
	Features:  models.FeatureFlags{},
	Limits:    models.RateLimits{TextMaxLength: 5000},
}

// Adapter implements channels.FullAdapter for iMessage by polling
// ~/Library/Messages/chat.db (read-only) and sending via AppleScript.
type Adapter struct {
	config Config
	logger *slog.Logger
	health *channels.BaseHealthAdapter

	db            *sql.DB
	lastMessageID atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	handlerMu sync.RWMutex
	handler   func(*models.InboundMessage)
}

// NewAdapter validates config and constructs an Adapter; it does not open
// the database until Connect.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config: config,
		logger: config.Logger.With("adapter", "imessage", "instance", config.InstanceID),
	}
	a.health = channels.NewBaseHealthAdapter(models.ChannelIMessage, a.logger)
	return a, nil
}

// Metrics reports this adapter's message/connection counters for the
// gateway's Prometheus exporter.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

func (a *Adapter) Info() channels.Info {
	return channels.Info{
		ChannelType:  models.ChannelIMessage,
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
	dbPath := expandPath(a.config.DatabasePath)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		a.health.RecordError(channels.ErrCodeConfig)
		return channels.ErrConfig(fmt.Sprintf("imessage database not found at %q", dbPath), nil)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to open imessage database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to ping imessage database", err)
	}
	a.db = db

	lastID, err := a.getLastMessageID(ctx)
	if err != nil {
		a.logger.Warn("failed to resolve starting message watermark", "error", err)
		lastID = 0
	}
	a.lastMessageID.Store(lastID)

	a.health.SetStatus(true, "")
	a.health.RecordConnectionOpened()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.db != nil {
		a.db.Close()
	}
	a.health.SetStatus(false, "")
	a.health.RecordConnectionClosed()
	return nil
}

func (a *Adapter) IsConnected() bool { return a.health.Status().Connected }

func (a *Adapter) Health(ctx context.Context) channels.HealthStatus {
	if a.db == nil {
		return channels.HealthStatus{Healthy: false, Message: "database not connected", LastCheck: time.Now()}
	}
	if err := a.db.PingContext(ctx); err != nil {
		return channels.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err), LastCheck: time.Now()}
	}
	return a.health.HealthCheck(ctx)
}

func (a *Adapter) StartReceiving(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.pollLoop(runCtx)
	return nil
}

func (a *Adapter) StopReceiving(ctx context.Context) error { return a.Disconnect(ctx) }

func (a *Adapter) Receive(ctx context.Context) (*models.InboundMessage, error) {
	return nil, channels.ErrChannelSpecific("imessage adapter is push-based; use SetHandler", nil)
}

func (a *Adapter) TryReceive() (*models.InboundMessage, bool) { return nil, false }

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollNewMessages(ctx)
		}
	}
}

func (a *Adapter) pollNewMessages(ctx context.Context) {
	const query = `
		SELECT
			m.ROWID, m.guid, m.text, m.date, m.is_from_me,
			h.id as handle_id, c.chat_identifier, c.display_name, c.style
		FROM message m
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		LEFT JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
		LEFT JOIN chat c ON cmj.chat_id = c.ROWID
		WHERE m.ROWID > ? AND m.is_from_me = 0
		ORDER BY m.ROWID ASC
		LIMIT 100
	`

	rows, err := a.db.QueryContext(ctx, query, a.lastMessageID.Load())
	if err != nil {
		a.logger.Error("failed to poll imessage database", "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var rowID int64
		var guid, text, handleID string
		var dateNano int64
		var isFromMe int
		var chatID, displayName sql.NullString
		var style sql.NullInt64

		if err := rows.Scan(&rowID, &guid, &text, &dateNano, &isFromMe, &handleID, &chatID, &displayName, &style); err != nil {
			a.logger.Error("failed to scan imessage row", "error", err)
			continue
		}
		advanceWatermark(&a.lastMessageID, rowID)
		if isFromMe == 1 {
			continue
		}

		chatType := models.ChatDirect
		accountID := handleID
		if chatID.Valid && style.Valid && style.Int64 == 43 {
			chatType = models.ChatGroup
			accountID = chatID.String
		}

		msg := &models.InboundMessage{
			ID:        models.MessageId(guid),
			Timestamp: appleTimestampToTime(dateNano),
			Channel:   models.ChannelIMessage,
			AccountID: accountID,
			Sender:    models.Sender{ID: handleID},
			Chat:      models.Chat{ID: accountID, Type: chatType, Title: displayName.String},
			Text:      text,
		}
		a.health.RecordMessageReceived()
		a.dispatch(msg)
	}
}

func advanceWatermark(counter *atomic.Int64, rowID int64) {
	for {
		current := counter.Load()
		if rowID <= current {
			return
		}
		if counter.CompareAndSwap(current, rowID) {
			return
		}
	}
}

func (a *Adapter) getLastMessageID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := a.db.QueryRowContext(ctx, "SELECT MAX(ROWID) FROM message").Scan(&maxID); err != nil {
		return 0, err
	}
	if maxID.Valid {
		return maxID.Int64, nil
	}
	return 0, nil
}

func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	start := time.Now()
	if msg.Target.ChatID == "" {
		return channels.SendResult{}, channels.ErrInvalidMessage("chat_id is required", nil)
	}

	script := fmt.Sprintf(`
		tell application "Messages"
			set targetService to 1st account whose service type = iMessage
			set targetBuddy to participant %q of targetService
			send %q to targetBuddy
		end tell
	`, msg.Target.ChatID, escapeAppleScript(msg.Text))

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if output, err := cmd.CombinedOutput(); err != nil {
		a.health.RecordMessageFailed()
		a.health.RecordError(channels.ErrCodeInternal)
		return channels.SendResult{}, channels.ErrInternal(fmt.Sprintf("applescript send failed: %s", output), err)
	}

	a.health.RecordMessageSent()
	a.health.RecordSendLatency(time.Since(start))
	sentAt := time.Now().UnixNano()
	return channels.SendResult{
		MessageID: models.MessageId(fmt.Sprintf("%s:%d", msg.Target.ChatID, sentAt)),
		ChatID:    msg.Target.ChatID,
	}, nil
}

// SendWithAttachments drops media: sending files via the AppleScript bridge
// requires a local file path, and attachments referenced by URL would need
// a download step this adapter does not perform.
func (a *Adapter) SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (channels.SendResult, error) {
	if len(msg.Media) > 0 {
		a.logger.Warn("imessage adapter cannot send media attachments via the applescript bridge", "count", len(msg.Media))
	}
	return a.Send(ctx, msg)
}

// Edit, Delete, React, and Unreact are unsupported: the AppleScript bridge
// has no affordance for mutating a message already delivered.
func (a *Adapter) Edit(ctx context.Context, messageID models.MessageId, text string) error {
	return errUnsupported
}

func (a *Adapter) Delete(ctx context.Context, messageID models.MessageId) error { return errUnsupported }

func (a *Adapter) React(ctx context.Context, messageID models.MessageId, emoji string) error {
	return errUnsupported
}

func (a *Adapter) Unreact(ctx context.Context, messageID models.MessageId, emoji string) error {
	return errUnsupported
}

// SendTyping is a no-op: iMessage exposes no programmatic typing indicator.
func (a *Adapter) SendTyping(ctx context.Context, chatID string) error { return nil }

func (a *Adapter) MaxMessageLength() int { return capabilities.MaxMessageLength() }

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}

// appleTimestampToTime converts an Apple epoch timestamp (nanoseconds since
// 2001-01-01 00:00:00 UTC) to time.Time.
func appleTimestampToTime(nano int64) time.Time {
	appleEpoch := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	return appleEpoch.Add(time.Duration(nano) * time.Nanosecond)
}
