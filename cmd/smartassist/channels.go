package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/internal/channels/discord"
	"github.com/smartassist/smartassist/internal/channels/imessage"
	"github.com/smartassist/smartassist/internal/channels/line"
	"github.com/smartassist/smartassist/internal/channels/signal"
	"github.com/smartassist/smartassist/internal/channels/slack"
	"github.com/smartassist/smartassist/internal/channels/telegram"
	"github.com/smartassist/smartassist/internal/channels/web"
	"github.com/smartassist/smartassist/internal/channels/whatsapp"
	"github.com/smartassist/smartassist/internal/runtimeconfig"
	"github.com/smartassist/smartassist/pkg/models"
)

// newChannelAdapter builds the channel-specific adapter named by cc.Type,
// decoding cc.Settings (a JSON5-parsed, already-map[string]any document)
// into that channel's own Config struct via a JSON round trip.
func newChannelAdapter(cc runtimeconfig.ChannelConfig) (channels.Adapter, error) {
	switch cc.Type {
	case string(models.ChannelTelegram):
		var cfg telegram.Config
		if err := decodeSettings(cc, &cfg); err != nil {
			return nil, err
		}
		cfg.InstanceID = cc.InstanceID
		cfg.Logger = slog.Default()
		return telegram.NewAdapter(cfg)

	case string(models.ChannelDiscord):
		var cfg discord.Config
		if err := decodeSettings(cc, &cfg); err != nil {
			return nil, err
		}
		cfg.InstanceID = cc.InstanceID
		cfg.Logger = slog.Default()
		return discord.NewAdapter(cfg)

	case string(models.ChannelSlack):
		var cfg slack.Config
		if err := decodeSettings(cc, &cfg); err != nil {
			return nil, err
		}
		cfg.InstanceID = cc.InstanceID
		cfg.Logger = slog.Default()
		return slack.NewAdapter(cfg)

	case string(models.ChannelSignal):
		var cfg signal.Config
		if err := decodeSettings(cc, &cfg); err != nil {
			return nil, err
		}
		cfg.InstanceID = cc.InstanceID
		cfg.Logger = slog.Default()
		return signal.NewAdapter(cfg)

	case string(models.ChannelIMessage):
		var cfg imessage.Config
		if err := decodeSettings(cc, &cfg); err != nil {
			return nil, err
		}
		cfg.InstanceID = cc.InstanceID
		cfg.Logger = slog.Default()
		return imessage.NewAdapter(cfg)

	case string(models.ChannelWhatsApp):
		var cfg whatsapp.Config
		if err := decodeSettings(cc, &cfg); err != nil {
			return nil, err
		}
		cfg.InstanceID = cc.InstanceID
		cfg.Logger = slog.Default()
		return whatsapp.NewAdapter(cfg)

	case string(models.ChannelLine):
		var cfg line.Config
		if err := decodeSettings(cc, &cfg); err != nil {
			return nil, err
		}
		cfg.InstanceID = cc.InstanceID
		cfg.Logger = slog.Default()
		return line.NewAdapter(cfg)

	case string(models.ChannelWeb):
		var cfg web.Config
		if err := decodeSettings(cc, &cfg); err != nil {
			return nil, err
		}
		cfg.InstanceID = cc.InstanceID
		cfg.Logger = slog.Default()
		return web.NewAdapter(cfg)

	default:
		return nil, fmt.Errorf("unknown channel type %q", cc.Type)
	}
}

func decodeSettings(cc runtimeconfig.ChannelConfig, target any) error {
	if len(cc.Settings) == 0 {
		return nil
	}
	raw, err := json.Marshal(cc.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings for %s: %w", cc.InstanceID, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decoding settings for %s: %w", cc.InstanceID, err)
	}
	return nil
}
