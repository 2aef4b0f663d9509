// Package line implements the LINE channel adapter using the LINE
// Messaging API: inbound events arrive over an HTTPS webhook signed with
// the channel secret, outbound messages are pushed via HTTPS POST.
package line

import (
	"log/slog"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

const (
	apiBase     = "https://api.line.me/v2/bot"
	dataAPIBase = "https://api-data.line.me/v2/bot"
)

// Config holds LINE adapter configuration.
type Config struct {
	// ChannelAccessToken authorizes Messaging API calls.
	ChannelAccessToken string

	// ChannelSecret verifies the X-Line-Signature header on inbound
	// webhook deliveries.
	ChannelSecret string

	// ChannelID is informational only; LINE's API keys requests off the
	// access token, not the channel id.
	ChannelID string

	InstanceID models.ChannelInstanceId

	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.ChannelAccessToken == "" {
		return channels.ErrConfig("channel_access_token is required", nil)
	}
	if c.ChannelSecret == "" {
		return channels.ErrConfig("channel_secret is required", nil)
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
