// Package imessage implements the iMessage channel adapter by polling the
// local Messages database and sending via an AppleScript bridge. macOS-only.
//go:build darwin

package imessage

import (
	"log/slog"
	"time"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

// Config holds iMessage adapter configuration.
type Config struct {
	// DatabasePath is the path to the iMessage SQLite database.
	// Defaults to ~/Library/Messages/chat.db.
	DatabasePath string

	// PollInterval is how often to poll for new messages.
	PollInterval time.Duration

	InstanceID models.ChannelInstanceId

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		c.DatabasePath = "~/Library/Messages/chat.db"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

var errUnsupported = channels.ErrInternal("unsupported via AppleScript bridge", nil)
