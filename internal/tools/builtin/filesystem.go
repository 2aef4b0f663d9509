// Package builtin implements the built-in tool groups: FileSystem
// (read/write/edit/glob/grep), Archive (zip/tar), String (case
// conversions and friends), Memory (semantic search), Sandbox (command
// execution), and Browser (page fetch). Each tool satisfies
// internal/tools.Tool and resolves relative paths against the
// ToolContext's Cwd.
package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/smartassist/smartassist/internal/tools"
)

// resolvePath joins path against cwd unless it is already absolute, and
// rejects any result that escapes cwd via "..".
func resolvePath(cwd, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if cwd == "" {
		cwd = "."
	}
	rootAbs, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}

	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(rootAbs, path)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes the working directory", path)
	}
	return targetAbs, nil
}

func objSchema(properties map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// ---- read ----

// ReadTool reads a file's contents relative to the tool context's cwd.
type ReadTool struct{}

func (ReadTool) Name() string { return "read" }

func (ReadTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "read",
		Description: "Read the contents of a file.",
		InputSchema: objSchema(map[string]any{
			"path": strProp("Path to the file, relative to the working directory."),
		}, "path"),
	}
}

func (ReadTool) Group() tools.ToolGroup                       { return tools.GroupFileSystem }
func (ReadTool) RequiresApproval(json.RawMessage) bool        { return false }

func (ReadTool) Execute(_ context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	path, err := resolvePath(tc.Cwd, input.Path)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("reading %s: %v", input.Path, err)), nil
	}
	return &tools.ToolResult{Content: string(data)}, nil
}

// ---- write ----

// WriteTool creates or overwrites a file. Always requires approval,
// since it mutates the workspace.
type WriteTool struct{}

func (WriteTool) Name() string { return "write" }

func (WriteTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "write",
		Description: "Create or overwrite a file with the given content.",
		InputSchema: objSchema(map[string]any{
			"path":    strProp("Path to the file, relative to the working directory."),
			"content": strProp("The full content to write."),
		}, "path", "content"),
	}
}

func (WriteTool) Group() tools.ToolGroup                 { return tools.GroupFileSystem }
func (WriteTool) RequiresApproval(json.RawMessage) bool  { return true }

func (WriteTool) Execute(_ context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	path, err := resolvePath(tc.Cwd, input.Path)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tools.ErrorResult(fmt.Sprintf("creating parent directories: %v", err)), nil
	}
	if err := os.WriteFile(path, []byte(input.Content), 0o644); err != nil {
		return tools.ErrorResult(fmt.Sprintf("writing %s: %v", input.Path, err)), nil
	}
	return &tools.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(input.Content), input.Path)}, nil
}

// ---- edit ----

// EditTool applies a single find/replace edit to an existing file. If
// old_string occurs more than once and replace_all is false, the edit
// fails without modifying the file.
type EditTool struct{}

func (EditTool) Name() string { return "edit" }

func (EditTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "edit",
		Description: "Replace old_string with new_string in a file. Fails if old_string is not unique unless replace_all is set.",
		InputSchema: objSchema(map[string]any{
			"path":        strProp("Path to the file, relative to the working directory."),
			"old_string":  strProp("Text to find."),
			"new_string":  strProp("Replacement text."),
			"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence instead of requiring a unique match."},
		}, "path", "old_string", "new_string"),
	}
}

func (EditTool) Group() tools.ToolGroup                { return tools.GroupFileSystem }
func (EditTool) RequiresApproval(json.RawMessage) bool { return true }

func (EditTool) Execute(_ context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Path       string `json:"path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	if input.OldString == "" {
		return tools.ErrorResult("old_string must not be empty"), nil
	}

	path, err := resolvePath(tc.Cwd, input.Path)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("reading %s: %v", input.Path, err)), nil
	}
	content := string(data)

	count := strings.Count(content, input.OldString)
	if count == 0 {
		return tools.ErrorResult(fmt.Sprintf("old_string not found in %s", input.Path)), nil
	}
	if count > 1 && !input.ReplaceAll {
		return tools.ErrorResult(fmt.Sprintf(
			"old_string matches %d times in %s; pass replace_all=true or narrow old_string to a unique match", count, input.Path,
		)), nil
	}

	var updated string
	if input.ReplaceAll {
		updated = strings.ReplaceAll(content, input.OldString, input.NewString)
	} else {
		updated = strings.Replace(content, input.OldString, input.NewString, 1)
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return tools.ErrorResult(fmt.Sprintf("writing %s: %v", input.Path, err)), nil
	}
	return &tools.ToolResult{Content: fmt.Sprintf("replaced %d occurrence(s) in %s", count, input.Path)}, nil
}

// ---- glob ----

// GlobTool lists workspace-relative paths matching a glob pattern.
type GlobTool struct{}

func (GlobTool) Name() string { return "glob" }

func (GlobTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "glob",
		Description: "List files matching a glob pattern, relative to the working directory.",
		InputSchema: objSchema(map[string]any{
			"pattern": strProp("Glob pattern (filepath.Match syntax; \"**\" matches one path segment, not any depth), e.g. \"*.go\" or \"src/*.ts\"."),
		}, "pattern"),
	}
}

func (GlobTool) Group() tools.ToolGroup                { return tools.GroupFileSystem }
func (GlobTool) RequiresApproval(json.RawMessage) bool { return false }

func (GlobTool) Execute(_ context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	cwd := tc.Cwd
	if cwd == "" {
		cwd = "."
	}
	rootAbs, err := filepath.Abs(cwd)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}

	matches, err := filepath.Glob(filepath.Join(rootAbs, input.Pattern))
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		if r, err := filepath.Rel(rootAbs, m); err == nil {
			rel = append(rel, r)
		}
	}
	payload, _ := json.Marshal(rel)
	return &tools.ToolResult{Content: string(payload)}, nil
}

// ---- grep ----

// GrepTool searches file contents line-by-line for a substring match
// under a root directory (recursive), relative to the working directory.
type GrepTool struct{}

func (GrepTool) Name() string { return "grep" }

func (GrepTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "grep",
		Description: "Search files under a directory for lines containing a substring.",
		InputSchema: objSchema(map[string]any{
			"pattern": strProp("Substring to search for."),
			"path":    strProp("Directory to search, relative to the working directory (default: \".\")."),
		}, "pattern"),
	}
}

func (GrepTool) Group() tools.ToolGroup                { return tools.GroupFileSystem }
func (GrepTool) RequiresApproval(json.RawMessage) bool { return false }

func (GrepTool) Execute(_ context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	if input.Path == "" {
		input.Path = "."
	}
	root, err := resolvePath(tc.Cwd, input.Path)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}

	var out strings.Builder
	walkErr := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(root, p)
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if strings.Contains(line, input.Pattern) {
				fmt.Fprintf(&out, "%s:%d:%s\n", rel, lineNo, line)
			}
		}
		return nil
	})
	if walkErr != nil {
		return tools.ErrorResult(walkErr.Error()), nil
	}
	return &tools.ToolResult{Content: out.String()}, nil
}
