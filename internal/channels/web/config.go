// Package web implements a WebSocket-based channel adapter for the
// embedded chat widget and any other first-party client that can speak
// its small JSON-over-WebSocket protocol. Unlike the platform adapters,
// it runs its own accept loop via gorilla/websocket rather than pairing
// with an outbound HTTP API.
package web

import (
	"log/slog"

	"github.com/smartassist/smartassist/pkg/models"
)

// Config holds Web channel configuration.
type Config struct {
	// BindAddress is the host:port the WebSocket server listens on, e.g.
	// "127.0.0.1:8082". Ignored when Upgrade-based mounting is used
	// instead of StartReceiving's standalone listener.
	BindAddress string

	InstanceID models.ChannelInstanceId

	// BroadcastBuffer bounds how many pending broadcast messages a slow
	// client can fall behind by before frames are dropped for it.
	BroadcastBuffer int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.BindAddress == "" {
		c.BindAddress = "127.0.0.1:8082"
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.BroadcastBuffer <= 0 {
		c.BroadcastBuffer = 1000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
