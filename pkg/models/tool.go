package models

import (
	"encoding/json"
	"time"
)

// ToolGroup buckets tools for group-level authorization (policy allow/deny
// lists operate at this granularity as well as by individual tool name).
type ToolGroup string

const (
	ToolGroupFileSystem ToolGroup = "filesystem"
	ToolGroupMemory     ToolGroup = "memory"
	ToolGroupNetwork    ToolGroup = "network"
	ToolGroupArchive    ToolGroup = "archive"
	ToolGroupString     ToolGroup = "string"
	ToolGroupCustom     ToolGroup = "custom"
)

// ExecutionConfig carries static policy knobs attached to a tool
// definition: whether it requires approval by default and which sandbox
// profile it should run under absent an override.
type ExecutionConfig struct {
	RequiresApprovalByDefault bool          `json:"requires_approval_by_default"`
	DefaultSandboxProfile     string        `json:"default_sandbox_profile,omitempty"`
	Timeout                   time.Duration `json:"timeout,omitempty"`
}

// ToolDefinition describes a tool to both the LLM provider (as JSON-Schema
// function-calling metadata) and the executor (as group/execution policy).
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Group       ToolGroup       `json:"group"`
	Execution   ExecutionConfig `json:"execution"`
}

// ToolResult is always returned from a tool invocation, even on failure,
// so the agent can observe and reason about the error.
type ToolResult struct {
	ToolUseID ToolUseId       `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Output    json.RawMessage `json:"output"`
	Duration  time.Duration   `json:"duration,omitempty"`
}

// ErrorResult builds a ToolResult carrying a plain-text error message as
// its JSON output, the shape every failure path in the executor produces.
func ErrorResult(toolUseID ToolUseId, message string) ToolResult {
	out, _ := json.Marshal(map[string]string{"error": message})
	return ToolResult{ToolUseID: toolUseID, IsError: true, Output: out}
}

// TextResult builds a successful ToolResult carrying a plain string
// output, the common case for tools that return human-readable text.
func TextResult(toolUseID ToolUseId, text string) ToolResult {
	out, _ := json.Marshal(map[string]string{"result": text})
	return ToolResult{ToolUseID: toolUseID, IsError: false, Output: out}
}
