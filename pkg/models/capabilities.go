package models

// MediaCapabilities declares what media a channel can send/receive.
type MediaCapabilities struct {
	Image       bool `json:"image"`
	Video       bool `json:"video"`
	Audio       bool `json:"audio"`
	Voice       bool `json:"voice"`
	Document    bool `json:"document"`
	Sticker     bool `json:"sticker"`
	MaxFileSize int  `json:"max_file_size_mb"`
}

// Supports reports whether the capability set allows the given media kind.
func (m MediaCapabilities) Supports(kind MediaKind) bool {
	switch kind {
	case MediaImage:
		return m.Image
	case MediaVideo:
		return m.Video
	case MediaAudio:
		return m.Audio
	case MediaVoice:
		return m.Voice
	case MediaDocument:
		return m.Document
	case MediaSticker:
		return m.Sticker
	default:
		return false
	}
}

// FeatureFlags declares which optional behaviors a channel implements.
type FeatureFlags struct {
	Reactions      bool `json:"reactions"`
	Threads        bool `json:"threads"`
	Edits          bool `json:"edits"`
	Deletes        bool `json:"deletes"`
	Typing         bool `json:"typing"`
	ReadReceipts   bool `json:"read_receipts"`
	Mentions       bool `json:"mentions"`
	Polls          bool `json:"polls"`
	NativeCommands bool `json:"native_commands"`
}

// RateLimits declares per-channel outbound throughput constraints.
type RateLimits struct {
	TextMaxLength     int `json:"text_max_length"`
	CaptionMaxLength  int `json:"caption_max_length"`
	MessagesPerSecond int `json:"messages_per_second"`
	MessagesPerMinute int `json:"messages_per_minute"`
}

// ChannelCapabilities is the static-per-instance contract the orchestrator
// consults before calling any send/edit/react/delete operation.
type ChannelCapabilities struct {
	ChatTypes []ChatType        `json:"chat_types"`
	Media     MediaCapabilities `json:"media"`
	Features  FeatureFlags      `json:"features"`
	Limits    RateLimits        `json:"limits"`
}

// AllowsChatType reports whether t is one of the channel's supported chat
// types.
func (c ChannelCapabilities) AllowsChatType(t ChatType) bool {
	for _, ct := range c.ChatTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// MaxMessageLength returns the configured outbound text limit, the
// contract every OutboundMessage.Text must respect.
func (c ChannelCapabilities) MaxMessageLength() int {
	return c.Limits.TextMaxLength
}
