// Package runtimeconfig loads the configuration cmd/smartassist and
// cmd/smartassist-gateway need: provider credentials, channel
// bindings, gateway bind address, and tool sandbox profile. It uses
// internal/configloader for JSON5/YAML/$include parsing and decodes
// the result into this package's own Config, which is sized to what
// SmartAssist actually needs rather than a much larger general-purpose
// document shape.
package runtimeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/smartassist/smartassist/internal/configloader"
	"github.com/smartassist/smartassist/internal/tools"
)

// ProviderConfig carries one LLM vendor's credentials and defaults.
type ProviderConfig struct {
	Vendor       string `json:"vendor"`
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
}

// ChannelConfig is one configured channel instance.
type ChannelConfig struct {
	Type       string         `json:"type"`
	InstanceID string         `json:"instance_id"`
	Settings   map[string]any `json:"settings,omitempty"`
}

// GatewayConfig configures the Gateway RPC listener.
type GatewayConfig struct {
	Addr           string   `json:"addr"`
	BearerToken    string   `json:"bearer_token,omitempty"`
	RequireAuth    bool     `json:"require_auth,omitempty"`
	TrustedOrigins []string `json:"trusted_origins,omitempty"`
	MaxConnections int      `json:"max_connections,omitempty"`
	PairingSecret  string   `json:"pairing_secret,omitempty"`
}

// AgentConfig binds a default agent to a provider/model/system prompt.
type AgentConfig struct {
	AgentID string `json:"agent_id"`
	Vendor  string `json:"vendor"`
	Model   string `json:"model,omitempty"`
	System  string `json:"system,omitempty"`
}

// MemoryConfig configures the optional semantic memory store the
// memory_search/memory_index builtin tools wrap. Absent or
// Enabled=false means those tools report "not configured" rather than
// failing to start the process.
type MemoryConfig struct {
	Enabled            bool   `json:"enabled,omitempty"`
	Backend            string `json:"backend,omitempty"` // sqlite-vec, pgvector, lancedb
	Dimension          int    `json:"dimension,omitempty"`
	SQLiteVecPath      string `json:"sqlite_vec_path,omitempty"`
	PgvectorDSN        string `json:"pgvector_dsn,omitempty"`
	LanceDBPath        string `json:"lancedb_path,omitempty"`
	EmbeddingsProvider string `json:"embeddings_provider,omitempty"` // openai, ollama
	EmbeddingsAPIKey   string `json:"embeddings_api_key,omitempty"`
	EmbeddingsModel    string `json:"embeddings_model,omitempty"`
	OllamaURL          string `json:"ollama_url,omitempty"`

	// AutoCapture stores conversation content matching memory trigger
	// patterns (preferences, decisions, contact facts) without an
	// explicit memory_index tool call.
	AutoCapture bool `json:"auto_capture,omitempty"`
	// AutoRecall injects relevant memories into the system prompt before
	// each turn without an explicit memory_search tool call.
	AutoRecall bool `json:"auto_recall,omitempty"`
}

// BrowserConfig enables the browser_fetch tool. Launching a headless
// browser pool at startup is expensive enough (playwright driver
// install, OS process spawn) that it stays opt-in rather than always-on.
type BrowserConfig struct {
	Enabled   bool `json:"enabled,omitempty"`
	MaxPages  int  `json:"max_pages,omitempty"`
	Headless  bool `json:"headless,omitempty"`
}

// SandboxConfig backs the Strict sandbox profile. Backend is "firecracker"
// or "docker"; an empty value defaults to Docker, with Firecracker used
// opportunistically only when the profile is Strict and the firecracker
// binary is on PATH (the pool itself falls back to Docker otherwise).
type SandboxConfig struct {
	Backend     string `json:"backend,omitempty"`
	PoolSize    int    `json:"pool_size,omitempty"`
	MaxPoolSize int    `json:"max_pool_size,omitempty"`
	MemLimitMB  int    `json:"mem_limit_mb,omitempty"`
	CPUMillis   int    `json:"cpu_millis,omitempty"`
}

// ObservabilityConfig configures span export for the orchestration
// router's per-turn/per-tool tracing. An empty OTLPEndpoint keeps tracing
// on but unexported (no-op spans, zero network calls).
type ObservabilityConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	Insecure     bool   `json:"insecure,omitempty"`
}

// Config is the root document cmd/smartassist and
// cmd/smartassist-gateway load.
type Config struct {
	Providers      []ProviderConfig     `json:"providers"`
	Channels       []ChannelConfig      `json:"channels"`
	Gateway        GatewayConfig        `json:"gateway"`
	Agent          AgentConfig          `json:"agent"`
	Memory         MemoryConfig         `json:"memory,omitempty"`
	Browser        BrowserConfig        `json:"browser,omitempty"`
	Sandbox        SandboxConfig        `json:"sandbox,omitempty"`
	SandboxProfile tools.SandboxProfile `json:"sandbox_profile,omitempty"`
	Observability  ObservabilityConfig  `json:"observability,omitempty"`
}

// envOverrides lists the SMARTASSIST_* / vendor-key environment
// variables applied after parsing.
var envOverrides = map[string]func(*Config, string){
	"SMARTASSIST_GATEWAY_ADDR": func(c *Config, v string) { c.Gateway.Addr = v },
	"SMARTASSIST_BEARER_TOKEN": func(c *Config, v string) { c.Gateway.BearerToken = v },
	"SMARTASSIST_REQUIRE_AUTH": func(c *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Gateway.RequireAuth = b
		}
	},
	"ANTHROPIC_API_KEY": func(c *Config, v string) { setProviderKey(c, "anthropic", v) },
	"OPENAI_API_KEY":     func(c *Config, v string) { setProviderKey(c, "openai", v) },
	"GOOGLE_API_KEY":     func(c *Config, v string) { setProviderKey(c, "google", v) },
}

func setProviderKey(c *Config, vendor, key string) {
	for i := range c.Providers {
		if c.Providers[i].Vendor == vendor {
			c.Providers[i].APIKey = key
			return
		}
	}
	c.Providers = append(c.Providers, ProviderConfig{Vendor: vendor, APIKey: key})
}

// Load reads path via configloader.LoadRaw (JSON5/YAML with $include
// resolution), decodes it into Config, and applies environment
// overrides.
func Load(path string) (*Config, error) {
	raw, err := configloader.LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("runtimeconfig: %w", err)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("runtimeconfig: re-encoding parsed config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return nil, fmt.Errorf("runtimeconfig: decoding config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("runtimeconfig: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	for name, apply := range envOverrides {
		if v := os.Getenv(name); strings.TrimSpace(v) != "" {
			apply(cfg, v)
		}
	}
}

func (c *Config) validate() error {
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8787"
	}
	if c.Agent.AgentID == "" {
		c.Agent.AgentID = "default"
	}
	if c.Agent.Vendor == "" {
		return fmt.Errorf("agent.vendor is required")
	}
	if c.SandboxProfile == "" {
		c.SandboxProfile = tools.SandboxStandard
	}
	return nil
}
