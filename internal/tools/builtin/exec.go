package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	execsafety "github.com/smartassist/smartassist/internal/exec"
	"github.com/smartassist/smartassist/internal/tools"
	"github.com/smartassist/smartassist/internal/tools/sandbox"
)

// CommandExecutorTool runs a shell command and reports
// {exit_code, stdout, stderr, duration_ms}. Permissive and Standard
// sandbox profiles run the command directly via os/exec; Strict routes
// it through the pooled sandbox.Executor, which can back onto
// Firecracker microVM isolation.
type CommandExecutorTool struct {
	// Sandbox backs the Strict profile. When nil, Strict execution is
	// refused rather than silently falling back to the host.
	Sandbox *sandbox.Executor
}

func (CommandExecutorTool) Name() string { return "execute_command" }

func (CommandExecutorTool) Group() tools.ToolGroup                { return tools.GroupSandbox }
func (CommandExecutorTool) RequiresApproval(json.RawMessage) bool { return true }

func (CommandExecutorTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "execute_command",
		Description: "Execute a shell command and return its exit code, stdout, stderr, and duration.",
		InputSchema: objSchema(map[string]any{
			"command":    strProp("The executable name or path (no shell metacharacters)."),
			"args":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"timeout_ms": map[string]any{"type": "integer", "description": "Timeout in milliseconds (default 30000)."},
		}, "command"),
	}
}

type commandExecResult struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
}

func (t CommandExecutorTool) Execute(ctx context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Command   string   `json:"command"`
		Args      []string `json:"args"`
		TimeoutMs int      `json:"timeout_ms"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	if !execsafety.IsSafeExecutableValue(input.Command) {
		return tools.ErrorResult(fmt.Sprintf("refusing to run %q: fails executable safety validation", input.Command)), nil
	}
	for _, a := range input.Args {
		if execsafety.ControlChars.MatchString(a) {
			return tools.ErrorResult("argument contains control characters"), nil
		}
	}

	timeout := 30 * time.Second
	if input.TimeoutMs > 0 {
		timeout = time.Duration(input.TimeoutMs) * time.Millisecond
	}

	switch tc.SandboxProfile {
	case tools.SandboxStrict:
		return t.executeStrict(ctx, input.Command, input.Args, timeout)
	default:
		return executeDirect(ctx, tc.Cwd, input.Command, input.Args, timeout)
	}
}

func executeDirect(ctx context.Context, cwd, command string, args []string, timeout time.Duration) (*tools.ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := commandExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: elapsed.Milliseconds(),
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		result.Stderr += "\n" + err.Error()
		result.ExitCode = -1
	}

	payload, _ := json.Marshal(result)
	return &tools.ToolResult{Content: string(payload)}, nil
}

func (t CommandExecutorTool) executeStrict(ctx context.Context, command string, args []string, timeout time.Duration) (*tools.ToolResult, error) {
	if t.Sandbox == nil {
		return tools.ErrorResult("strict sandbox execution is not configured"), nil
	}

	script := strings.Join(append([]string{command}, args...), " ")
	params := sandbox.ExecuteParams{
		Language:        "bash",
		Code:            script,
		Timeout:         int(timeout.Seconds()),
		WorkspaceAccess: sandbox.WorkspaceNone,
	}

	start := time.Now()
	raw, err := t.Sandbox.RunCode(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		return tools.ErrorResult("sandbox execution failed: " + err.Error()), nil
	}

	result := commandExecResult{DurationMs: elapsed.Milliseconds()}
	if raw != nil {
		result.Stdout = raw.Stdout
		result.Stderr = raw.Stderr
		result.ExitCode = raw.ExitCode
		if raw.Timeout {
			result.Stderr += "\ntimed out: " + raw.Error
			result.ExitCode = -1
		} else if raw.Error != "" {
			result.Stderr += "\n" + raw.Error
		}
	}
	out, _ := json.Marshal(result)
	return &tools.ToolResult{Content: string(out)}, nil
}
