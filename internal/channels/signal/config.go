// Package signal implements the Signal channel adapter by driving
// signal-cli as a subprocess over its JSON-RPC stdio protocol.
package signal

import (
	"log/slog"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

// Config holds Signal adapter configuration.
type Config struct {
	// Account is the phone number registered with signal-cli (e.g. +1234567890).
	Account string

	// SignalCLIPath is the path to the signal-cli binary.
	SignalCLIPath string

	// ConfigDir is the directory for signal-cli configuration (supports "~/").
	ConfigDir string

	InstanceID models.ChannelInstanceId

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Account == "" {
		return channels.ErrConfig("account (phone number) is required", nil)
	}
	if c.SignalCLIPath == "" {
		c.SignalCLIPath = "signal-cli"
	}
	if c.ConfigDir == "" {
		c.ConfigDir = "~/.config/signal-cli"
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
