package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartassist/smartassist/internal/tools"
)

func TestReadWriteTool(t *testing.T) {
	dir := t.TempDir()
	tc := tools.ToolContext{Cwd: dir}

	write := WriteTool{}
	args, _ := json.Marshal(map[string]string{"path": "notes.txt", "content": "hello"})
	result, err := write.Execute(context.Background(), "tu1", args, tc)
	if err != nil || result.IsError {
		t.Fatalf("write failed: %v %+v", err, result)
	}

	read := ReadTool{}
	args, _ = json.Marshal(map[string]string{"path": "notes.txt"})
	result, err = read.Execute(context.Background(), "tu2", args, tc)
	if err != nil || result.IsError {
		t.Fatalf("read failed: %v %+v", err, result)
	}
	if result.Content != "hello" {
		t.Fatalf("expected %q, got %q", "hello", result.Content)
	}
}

func TestResolvePathRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	if _, err := resolvePath(dir, "../../etc/passwd"); err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestEditTool_UniqueMatchOrReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("foo bar foo"), 0o644); err != nil {
		t.Fatal(err)
	}
	tc := tools.ToolContext{Cwd: dir}
	edit := EditTool{}

	// Ambiguous match without replace_all must fail and leave the file untouched.
	args, _ := json.Marshal(map[string]any{"path": "file.txt", "old_string": "foo", "new_string": "baz"})
	result, err := edit.Execute(context.Background(), "tu1", args, tc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected ambiguous match to be rejected")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "foo bar foo" {
		t.Fatalf("file was modified despite rejection: %q", data)
	}

	// With replace_all, every occurrence is replaced.
	args, _ = json.Marshal(map[string]any{"path": "file.txt", "old_string": "foo", "new_string": "baz", "replace_all": true})
	result, err = edit.Execute(context.Background(), "tu2", args, tc)
	if err != nil || result.IsError {
		t.Fatalf("replace_all edit failed: %v %+v", err, result)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "baz bar baz" {
		t.Fatalf("unexpected content: %q", data)
	}

	// A unique match succeeds without replace_all.
	args, _ = json.Marshal(map[string]any{"path": "file.txt", "old_string": "bar", "new_string": "qux"})
	result, err = edit.Execute(context.Background(), "tu3", args, tc)
	if err != nil || result.IsError {
		t.Fatalf("unique edit failed: %v %+v", err, result)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "baz qux baz" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestEditTool_NotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	os.WriteFile(path, []byte("hello"), 0o644)
	tc := tools.ToolContext{Cwd: dir}

	edit := EditTool{}
	args, _ := json.Marshal(map[string]any{"path": "file.txt", "old_string": "missing", "new_string": "x"})
	result, err := edit.Execute(context.Background(), "tu1", args, tc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected not-found old_string to be rejected")
	}
}

func TestGlobAndGrepTool(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc Foo() {}\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("not go\n"), 0o644)
	tc := tools.ToolContext{Cwd: dir}

	glob := GlobTool{}
	args, _ := json.Marshal(map[string]string{"pattern": "*.go"})
	result, err := glob.Execute(context.Background(), "tu1", args, tc)
	if err != nil || result.IsError {
		t.Fatalf("glob failed: %v %+v", err, result)
	}
	var matches []string
	json.Unmarshal([]byte(result.Content), &matches)
	if len(matches) != 1 || matches[0] != "a.go" {
		t.Fatalf("unexpected glob matches: %v", matches)
	}

	grep := GrepTool{}
	args, _ = json.Marshal(map[string]string{"pattern": "Foo"})
	result, err = grep.Execute(context.Background(), "tu2", args, tc)
	if err != nil || result.IsError {
		t.Fatalf("grep failed: %v %+v", err, result)
	}
	if result.Content == "" {
		t.Fatal("expected grep to find a match")
	}
}
