// Package models defines the core data types shared across SmartAssist's
// channel, tool, gateway, and provider layers.
package models

import (
	"time"
)

// ChannelType identifies a messaging transport.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelSignal   ChannelType = "signal"
	ChannelIMessage ChannelType = "imessage"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelLine     ChannelType = "line"
	ChannelWeb      ChannelType = "web"
)

// AgentId, SessionKey, MessageId, ToolUseId, ChannelInstanceId and
// ClientId are opaque strings, globally unique within their own scope.
type (
	AgentId           = string
	SessionKey        = string
	MessageId         = string
	ToolUseId         = string
	ChannelInstanceId = string
	ClientId          = string
)

// ChatType classifies the kind of conversation a message belongs to.
type ChatType string

const (
	ChatDirect  ChatType = "direct"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
	ChatThread  ChatType = "thread"
)

// Sender identifies the author of an inbound message.
type Sender struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`
}

// Chat identifies the conversation a message was exchanged in.
type Chat struct {
	ID      string   `json:"id"`
	Type    ChatType `json:"type"`
	Title   string   `json:"title,omitempty"`
	GuildID string   `json:"guild_id,omitempty"`
}

// ThreadInfo carries threading context, when the originating channel
// supports threads (e.g. Slack threads, Discord forum posts).
type ThreadInfo struct {
	ThreadID string `json:"thread_id"`
	ParentID string `json:"parent_id,omitempty"`
}

// QuotedMessage references a message being replied to or quoted.
type QuotedMessage struct {
	MessageID MessageId `json:"message_id"`
	SenderID  string    `json:"sender_id,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// MediaKind tags the semantic category of a MediaAttachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaVoice    MediaKind = "voice"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// ClassifyMediaKind maps a MIME type to the normalized MediaKind every
// channel adapter must produce when converting native attachments.
//
//	image/*      -> Image
//	video/*      -> Video
//	audio/voice* -> Voice
//	audio/*      -> Audio
//	else         -> Document
func ClassifyMediaKind(mimeType string) MediaKind {
	switch {
	case hasPrefix(mimeType, "image/"):
		return MediaImage
	case hasPrefix(mimeType, "video/"):
		return MediaVideo
	case hasPrefix(mimeType, "audio/voice"):
		return MediaVoice
	case hasPrefix(mimeType, "audio/"):
		return MediaAudio
	default:
		return MediaDocument
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// MediaSourceKind tags which of the four mutually-exclusive ways a
// MediaAttachment carries its payload.
type MediaSourceKind string

const (
	MediaSourceFileID MediaSourceKind = "file_id"
	MediaSourceURL    MediaSourceKind = "url"
	MediaSourceBytes  MediaSourceKind = "bytes"
	MediaSourcePath   MediaSourceKind = "path"
)

// MediaSource is a tagged union over the four ways media can be supplied.
// Exactly one of the fields matching Kind is populated.
type MediaSource struct {
	Kind MediaSourceKind `json:"kind"`

	FileID string `json:"file_id,omitempty"`
	URL    string `json:"url,omitempty"`
	Bytes  []byte `json:"bytes,omitempty"`
	Path   string `json:"path,omitempty"`
}

// NewFileIDSource builds a MediaSource referencing a channel-native file id.
func NewFileIDSource(id string) MediaSource { return MediaSource{Kind: MediaSourceFileID, FileID: id} }

// NewURLSource builds a MediaSource referencing a pre-hosted URL. Channels
// like LINE that require pre-hosted media use this to avoid an upload.
func NewURLSource(url string) MediaSource { return MediaSource{Kind: MediaSourceURL, URL: url} }

// NewBytesSource builds a MediaSource carrying an owned byte payload.
func NewBytesSource(b []byte) MediaSource { return MediaSource{Kind: MediaSourceBytes, Bytes: b} }

// NewPathSource builds a MediaSource referencing a local filesystem path.
func NewPathSource(path string) MediaSource { return MediaSource{Kind: MediaSourcePath, Path: path} }

// MediaAttachment is a single piece of media attached to a message.
type MediaAttachment struct {
	Kind     MediaKind   `json:"kind"`
	Source   MediaSource `json:"source"`
	MimeType string      `json:"mime_type,omitempty"`
	Filename string      `json:"filename,omitempty"`
	SizeByte int64       `json:"size_bytes,omitempty"`
}

// InboundMessage is the normalized shape every channel adapter converts
// its native event type into.
//
// Invariant: ID is unique per (Channel, AccountID). Chat.Type must be a
// member of the originating channel's capability ChatTypes.
type InboundMessage struct {
	ID        MessageId `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   ChannelType `json:"channel"`
	AccountID string    `json:"account_id"`

	Sender Sender `json:"sender"`
	Chat   Chat   `json:"chat"`

	Text  string            `json:"text"`
	Media []MediaAttachment `json:"media,omitempty"`
	Quote *QuotedMessage    `json:"quote,omitempty"`

	Thread   *ThreadInfo    `json:"thread,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SendTarget identifies where an OutboundMessage should be delivered.
type SendTarget struct {
	ChatID string `json:"chat_id"`
	Thread string `json:"thread,omitempty"`
}

// SendOptions carries channel-agnostic delivery hints; channels ignore
// options they don't understand.
type SendOptions struct {
	ParseMode       string `json:"parse_mode,omitempty"`
	DisablePreview  bool   `json:"disable_preview,omitempty"`
}

// OutboundMessage is the normalized shape the orchestrator hands to a
// channel's OutboundAdapter.
//
// Invariant: len(Text) <= channel.MaxMessageLength(); every Media.Kind
// used must appear as supported in the channel's MediaCapabilities.
type OutboundMessage struct {
	Target  SendTarget        `json:"target"`
	Text    string            `json:"text"`
	Media   []MediaAttachment `json:"media,omitempty"`
	ReplyTo MessageId         `json:"reply_to,omitempty"`
	Options SendOptions       `json:"options,omitempty"`
}
