// Package main provides the CLI entry point for smartassist, the
// multi-channel agent gateway: it connects messaging platforms
// (Telegram, Discord, Slack, Signal, iMessage, WhatsApp, LINE, Web) to
// LLM providers (Anthropic, OpenAI, Google) through a capability-gated
// tool execution layer, and exposes an operator control plane over the
// Gateway RPC WebSocket.
//
// # Basic usage
//
//	smartassist serve --config smartassist.json5
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/internal/gatewayrpc"
	"github.com/smartassist/smartassist/internal/hooks"
	"github.com/smartassist/smartassist/internal/memory"
	"github.com/smartassist/smartassist/internal/orchestration"
	"github.com/smartassist/smartassist/internal/providers"
	"github.com/smartassist/smartassist/internal/runtimeconfig"
	"github.com/smartassist/smartassist/internal/safety"
	"github.com/smartassist/smartassist/internal/telemetry"
	"github.com/smartassist/smartassist/internal/tools"
)

// Build information, populated by ldflags during release builds.
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
	root := &cobra.Command{
		Use:          "smartassist",
		Short:        "smartassist - multi-channel AI agent gateway",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the channel adapters, orchestration router, and gateway RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "smartassist.json5", "Path to the JSON5 configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := runtimeconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	providerRegistry, err := buildProviders(ctx, cfg.Providers)
	if err != nil {
		return fmt.Errorf("configuring providers: %w", err)
	}

	channelRegistry, err := buildChannels(cfg.Channels)
	if err != nil {
		return fmt.Errorf("configuring channels: %w", err)
	}

	memManager, err := buildMemoryManager(cfg.Memory)
	if err != nil {
		return fmt.Errorf("configuring memory: %w", err)
	}
	if memManager != nil {
		defer memManager.Close()
	}

	hookRegistry := hooks.NewRegistry(slog.Default())
	if memManager != nil && (cfg.Memory.AutoCapture || cfg.Memory.AutoRecall) {
		memory.NewMemoryHooks(memManager,
			memory.AutoCaptureConfig{Enabled: cfg.Memory.AutoCapture},
			memory.AutoRecallConfig{Enabled: cfg.Memory.AutoRecall},
			slog.Default(),
		).Register(hookRegistry)
	}

	toolRegistry, sandboxExecutor, err := buildToolRegistry(memManager, cfg.Browser, cfg.Sandbox, cfg.SandboxProfile)
	if err != nil {
		return fmt.Errorf("configuring tools: %w", err)
	}
	if sandboxExecutor != nil {
		defer sandboxExecutor.Close()
	}

	policy := safety.NewDefaultPolicy()
	safetyChecker := tools.NewPolicyChecker(policy, nil)

	approvals := gatewayrpc.NewApprovalQueue(uuid.NewString, nil)
	executor := tools.NewExecutor(toolRegistry, safetyChecker, approvals)

	resolver := orchestration.NewStaticResolver(orchestration.AgentBinding{
		AgentID: cfg.Agent.AgentID,
		Vendor:  cfg.Agent.Vendor,
		Model:   cfg.Agent.Model,
		System:  cfg.Agent.System,
	})

	tracer, shutdownTracer := telemetry.New(telemetry.Config{
		ServiceName:  "smartassist",
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		Insecure:     cfg.Observability.Insecure,
	})
	defer shutdownTracer(context.Background())

	router := orchestration.NewRouter(orchestration.RouterConfig{
		Channels:  channelRegistry,
		Providers: providerRegistry,
		Tools:     toolRegistry,
		Executor:  executor,
		Resolver:  resolver,
		Logger:    slog.Default(),
		Tracer:    tracer,
		Hooks:     hookRegistry,
	})

	gatewayServer := gatewayrpc.NewServer(gatewayrpc.Config{
		Addr:           cfg.Gateway.Addr,
		BearerToken:    cfg.Gateway.BearerToken,
		RequireAuth:    cfg.Gateway.RequireAuth,
		TrustedOrigins: cfg.Gateway.TrustedOrigins,
		MaxConnections: cfg.Gateway.MaxConnections,
		PairingSecret:  cfg.Gateway.PairingSecret,
		Logger:         slog.Default(),
	})
	gatewayrpc.RegisterBuiltins(gatewayServer, approvals)
	gatewayrpc.RegisterPairing(gatewayServer, cfg.Gateway.Addr)
	gatewayServer.RegisterChannelMetrics(channelRegistry.Snapshots)

	if err := channelRegistry.StartAll(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	defer channelRegistry.StopAll(context.Background())

	if reloads, err := runtimeconfig.Watch(ctx, configPath, slog.Default()); err != nil {
		slog.Warn("config file watch disabled", "path", configPath, "error", err)
	} else {
		go broadcastConfigReloads(ctx, reloads, gatewayServer)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- router.Run(ctx) }()
	go func() { errCh <- gatewayServer.Serve(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}

// broadcastConfigReloads forwards each reloaded Config from runtimeconfig.Watch
// to every connected gateway client as a config.reloaded notification, until
// reloads closes (ctx cancelled or the watcher failed).
func broadcastConfigReloads(ctx context.Context, reloads <-chan *runtimeconfig.Config, gatewayServer *gatewayrpc.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-reloads:
			if !ok {
				return
			}
			payload, err := json.Marshal(map[string]any{
				"jsonrpc": "2.0",
				"method":  "config.reloaded",
				"params":  map[string]string{"gateway_addr": cfg.Gateway.Addr},
			})
			if err != nil {
				continue
			}
			gatewayServer.Broadcast(string(payload))
		}
	}
}

func buildProviders(ctx context.Context, configs []runtimeconfig.ProviderConfig) (*providers.Registry, error) {
	bound := make(map[string]providers.Provider, len(configs))
	for _, pc := range configs {
		if pc.APIKey == "" {
			continue
		}
		switch pc.Vendor {
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
				Logger:       slog.Default(),
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic: %w", err)
			}
			bound["anthropic"] = p
		case "openai":
			p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
				Logger:       slog.Default(),
			})
			if err != nil {
				return nil, fmt.Errorf("openai: %w", err)
			}
			bound["openai"] = p
		case "google":
			p, err := providers.NewGoogleProvider(ctx, providers.GoogleConfig{
				APIKey:       pc.APIKey,
				DefaultModel: pc.DefaultModel,
				Logger:       slog.Default(),
			})
			if err != nil {
				return nil, fmt.Errorf("google: %w", err)
			}
			bound["google"] = p
		default:
			return nil, fmt.Errorf("unknown provider vendor %q", pc.Vendor)
		}
	}
	return providers.NewRegistry(bound), nil
}

func buildMemoryManager(cfg runtimeconfig.MemoryConfig) (*memory.Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return memory.NewManager(&memory.Config{
		Enabled:   true,
		Backend:   cfg.Backend,
		Dimension: cfg.Dimension,
		SQLiteVec: memory.SQLiteVecConfig{Path: cfg.SQLiteVecPath},
		Pgvector:  memory.PgvectorConfig{DSN: cfg.PgvectorDSN},
		LanceDB:   memory.LanceDBConfig{Path: cfg.LanceDBPath},
		Embeddings: memory.EmbeddingsConfig{
			Provider:  cfg.EmbeddingsProvider,
			APIKey:    cfg.EmbeddingsAPIKey,
			Model:     cfg.EmbeddingsModel,
			OllamaURL: cfg.OllamaURL,
		},
	})
}

func buildChannels(configs []runtimeconfig.ChannelConfig) (*channels.Registry, error) {
	registry := channels.NewRegistry()
	for _, cc := range configs {
		adapter, err := newChannelAdapter(cc)
		if err != nil {
			return nil, fmt.Errorf("channel %s (%s): %w", cc.InstanceID, cc.Type, err)
		}
		registry.Register(adapter)
	}
	return registry, nil
}
