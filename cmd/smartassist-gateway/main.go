// Package main provides smartassist-gateway, a standalone Gateway RPC
// process: the WebSocket/JSON-RPC control plane (approvals, pairing,
// exec scopes) without the channel adapters or orchestration router.
// Useful when the gateway and the channel/agent process are deployed
// and scaled independently.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smartassist/smartassist/internal/gatewayrpc"
	"github.com/smartassist/smartassist/internal/runtimeconfig"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "smartassist-gateway",
		Short:        "smartassist-gateway - standalone Gateway RPC control plane",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "smartassist.json5", "Path to the JSON5 configuration file")
	return root
}

func run(ctx context.Context, configPath string) error {
	cfg, err := runtimeconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	approvals := gatewayrpc.NewApprovalQueue(uuid.NewString, nil)
	server := gatewayrpc.NewServer(gatewayrpc.Config{
		Addr:           cfg.Gateway.Addr,
		BearerToken:    cfg.Gateway.BearerToken,
		RequireAuth:    cfg.Gateway.RequireAuth,
		TrustedOrigins: cfg.Gateway.TrustedOrigins,
		MaxConnections: cfg.Gateway.MaxConnections,
		PairingSecret:  cfg.Gateway.PairingSecret,
		Logger:         slog.Default(),
	})
	gatewayrpc.RegisterBuiltins(server, approvals)
	gatewayrpc.RegisterPairing(server, cfg.Gateway.Addr)

	slog.Info("gateway listening", "addr", cfg.Gateway.Addr)
	if err := server.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
