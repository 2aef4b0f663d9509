package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "smartassist.json5")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `{
		agent: { agent_id: "a1", vendor: "anthropic" },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.Addr != ":8787" {
		t.Errorf("expected default gateway addr, got %q", cfg.Gateway.Addr)
	}
	if cfg.SandboxProfile != "standard" {
		t.Errorf("expected default sandbox profile, got %q", cfg.SandboxProfile)
	}
}

func TestLoad_RequiresAgentVendor(t *testing.T) {
	path := writeTempConfig(t, `{ agent: { agent_id: "a1" } }`)

	if _, err := Load(path); err == nil {
		t.Error("expected missing agent.vendor to fail validation")
	}
}

func TestLoad_EnvOverrideSetsProviderKey(t *testing.T) {
	path := writeTempConfig(t, `{ agent: { agent_id: "a1", vendor: "anthropic" } }`)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	found := false
	for _, p := range cfg.Providers {
		if p.Vendor == "anthropic" && p.APIKey == "sk-test-123" {
			found = true
		}
	}
	if !found {
		t.Error("expected ANTHROPIC_API_KEY env override to populate providers[]")
	}
}
