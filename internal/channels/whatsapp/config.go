// Package whatsapp implements the WhatsApp channel adapter against the
// WhatsApp Business Cloud API: inbound messages arrive over an HTTPS
// webhook, outbound messages are posted to the Graph API.
package whatsapp

import (
	"log/slog"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

// graphAPIBase is the WhatsApp Cloud API base URL.
const graphAPIBase = "https://graph.facebook.com/v18.0"

// Config holds WhatsApp adapter configuration.
type Config struct {
	// PhoneNumberID is the WhatsApp Business phone number id the adapter
	// sends from and receives for.
	PhoneNumberID string

	// AccessToken authorizes Graph API calls. SmartAssist expects a
	// long-lived system-user token; refresh is out of scope for the
	// adapter itself.
	AccessToken string

	// BusinessAccountID is optional and only used for diagnostics.
	BusinessAccountID string

	// WebhookVerifyToken is compared against the `hub.verify_token` query
	// parameter Meta sends during webhook subscription setup.
	WebhookVerifyToken string

	// AppSecret, when set, is used to verify the X-Hub-Signature-256
	// header on inbound webhook deliveries.
	AppSecret string

	InstanceID models.ChannelInstanceId

	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.PhoneNumberID == "" {
		return channels.ErrConfig("phone_number_id is required", nil)
	}
	if c.AccessToken == "" {
		return channels.ErrConfig("access_token is required", nil)
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
