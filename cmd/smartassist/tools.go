package main

import (
	"fmt"
	"time"

	"github.com/smartassist/smartassist/internal/memory"
	"github.com/smartassist/smartassist/internal/runtimeconfig"
	"github.com/smartassist/smartassist/internal/tools"
	"github.com/smartassist/smartassist/internal/tools/builtin"
	"github.com/smartassist/smartassist/internal/tools/browser"
	"github.com/smartassist/smartassist/internal/tools/sandbox"
)

// buildToolRegistry registers every built-in tool group: FileSystem,
// Archive, String, Memory, Sandbox, and Network. memManager may be nil,
// in which case the memory tools report "not configured" rather than
// panicking. The returned sandbox executor is non-nil only when the
// Strict profile is configured; callers must Close it on shutdown.
func buildToolRegistry(memManager *memory.Manager, browserCfg runtimeconfig.BrowserConfig, sandboxCfg runtimeconfig.SandboxConfig, profile tools.SandboxProfile) (*tools.Registry, *sandbox.Executor, error) {
	registry := tools.NewRegistry()

	registry.Register(builtin.ReadTool{})
	registry.Register(builtin.WriteTool{})
	registry.Register(builtin.EditTool{})
	registry.Register(builtin.GlobTool{})
	registry.Register(builtin.GrepTool{})

	registry.Register(builtin.ZipTool{})
	registry.Register(builtin.TarTool{})

	registry.Register(builtin.CaseConvertTool{})
	registry.Register(builtin.SplitTool{})
	registry.Register(builtin.JoinTool{})
	registry.Register(builtin.RegexReplaceTool{})
	registry.Register(builtin.TrimPadTool{})

	registry.Register(builtin.MemorySearchTool{Manager: memManager})
	registry.Register(builtin.MemoryIndexTool{Manager: memManager})

	var sandboxExecutor *sandbox.Executor
	if profile == tools.SandboxStrict {
		var err error
		sandboxExecutor, err = buildSandboxExecutor(sandboxCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("starting sandbox executor: %w", err)
		}
	}
	registry.Register(builtin.CommandExecutorTool{Sandbox: sandboxExecutor})

	if browserCfg.Enabled {
		maxPages := browserCfg.MaxPages
		if maxPages <= 0 {
			maxPages = 5
		}
		pool, err := browser.NewPool(browser.PoolConfig{
			MaxInstances: maxPages,
			Headless:     browserCfg.Headless,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("starting browser pool: %w", err)
		}
		registry.Register(builtin.BrowserFetchTool{Pool: pool})
	}

	return registry, sandboxExecutor, nil
}

// buildSandboxExecutor constructs the pooled sandbox backing the Strict
// profile's execute_command calls. Backend defaults to Docker; requesting
// Firecracker falls back to Docker when the firecracker binary isn't on
// PATH (handled inside sandbox.NewExecutor).
func buildSandboxExecutor(cfg runtimeconfig.SandboxConfig) (*sandbox.Executor, error) {
	backend := sandbox.BackendDocker
	if cfg.Backend == string(sandbox.BackendFirecracker) {
		backend = sandbox.BackendFirecracker
	}

	opts := []sandbox.Option{sandbox.WithBackend(backend)}
	if cfg.PoolSize > 0 {
		opts = append(opts, sandbox.WithPoolSize(cfg.PoolSize))
	}
	if cfg.MaxPoolSize > 0 {
		opts = append(opts, sandbox.WithMaxPoolSize(cfg.MaxPoolSize))
	}
	if cfg.CPUMillis > 0 {
		opts = append(opts, sandbox.WithDefaultCPU(cfg.CPUMillis))
	}
	if cfg.MemLimitMB > 0 {
		opts = append(opts, sandbox.WithDefaultMemory(cfg.MemLimitMB))
	}
	opts = append(opts, sandbox.WithDefaultTimeout(30*time.Second), sandbox.WithDefaultWorkspaceAccess(sandbox.WorkspaceNone))

	return sandbox.NewExecutor(opts...)
}
