package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type stubSafety struct {
	blockInput  bool
	blockOutput bool
	rewrite     string
}

func (s *stubSafety) CheckInput(name string, args json.RawMessage) error {
	if s.blockInput {
		return errors.New("blocked input")
	}
	return nil
}

func (s *stubSafety) CheckOutput(name string, output string) (string, error) {
	if s.blockOutput {
		return "", errors.New("blocked output")
	}
	if s.rewrite != "" {
		return s.rewrite, nil
	}
	return output, nil
}

type stubApprovals struct {
	decision ApprovalDecision
	err      error
}

func (s *stubApprovals) Submit(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
	return s.decision, s.err
}

func newExecWithTool(tool Tool) *Executor {
	r := NewRegistry()
	r.Register(tool)
	return NewExecutor(r, nil, nil)
}

func TestExecutor_ToolNotFound(t *testing.T) {
	e := NewExecutor(NewRegistry(), nil, nil)
	_, _, err := e.Execute(context.Background(), "t1", "missing", nil, ToolContext{}, OriginOperator)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestExecutor_SuccessfulCall(t *testing.T) {
	e := newExecWithTool(&stubTool{name: "echo", group: GroupString, result: &ToolResult{Content: "hi"}})
	result, _, err := e.Execute(context.Background(), "t1", "echo", nil, ToolContext{}, OriginOperator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "hi" || result.IsError {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestExecutor_CheckInputBlocks(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo", group: GroupString})
	e := NewExecutor(r, &stubSafety{blockInput: true}, nil)

	result, _, err := e.Execute(context.Background(), "t1", "echo", nil, ToolContext{}, OriginOperator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Errorf("expected blocked input to produce an IsError result")
	}
}

func TestExecutor_CheckOutputRewrites(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo", group: GroupString, result: &ToolResult{Content: "secret"}})
	e := NewExecutor(r, &stubSafety{rewrite: "[redacted]"}, nil)

	result, _, err := e.Execute(context.Background(), "t1", "echo", nil, ToolContext{}, OriginOperator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "[redacted]" {
		t.Errorf("expected rewritten content, got %q", result.Content)
	}
}

func TestExecutor_CheckOutputBlocks(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo", group: GroupString, result: &ToolResult{Content: "secret"}})
	e := NewExecutor(r, &stubSafety{blockOutput: true}, nil)

	result, _, err := e.Execute(context.Background(), "t1", "echo", nil, ToolContext{}, OriginOperator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Errorf("expected blocked output to produce an IsError result")
	}
}

func TestExecutor_ApprovalRequired_NoQueueFailsClosed(t *testing.T) {
	e := newExecWithTool(&stubTool{name: "write_file", group: GroupFileSystem, requiresApproval: true})
	result, _, err := e.Execute(context.Background(), "t1", "write_file", nil, ToolContext{}, OriginAgentTurn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Errorf("expected approval-required call with no queue to fail closed")
	}
}

func TestExecutor_ApprovalRequired_OperatorOriginSkipsApproval(t *testing.T) {
	e := newExecWithTool(&stubTool{name: "write_file", group: GroupFileSystem, requiresApproval: true, result: &ToolResult{Content: "done"}})
	result, _, err := e.Execute(context.Background(), "t1", "write_file", nil, ToolContext{}, OriginOperator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || result.Content != "done" {
		t.Errorf("expected operator-origin call to bypass approval, got %+v", result)
	}
}

func TestExecutor_ApprovalApproved(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "write_file", group: GroupFileSystem, requiresApproval: true, result: &ToolResult{Content: "done"}})
	e := NewExecutor(r, nil, &stubApprovals{decision: ApprovalApproved})

	result, _, err := e.Execute(context.Background(), "t1", "write_file", nil, ToolContext{}, OriginAgentTurn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || result.Content != "done" {
		t.Errorf("expected approved call to execute, got %+v", result)
	}
}

func TestExecutor_ApprovalDenied(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "write_file", group: GroupFileSystem, requiresApproval: true, result: &ToolResult{Content: "done"}})
	e := NewExecutor(r, nil, &stubApprovals{decision: ApprovalDenied})

	result, _, err := e.Execute(context.Background(), "t1", "write_file", nil, ToolContext{}, OriginAgentTurn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Errorf("expected denied approval to produce an IsError result")
	}
}

func TestExecutor_ApprovalTimedOut(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "write_file", group: GroupFileSystem, requiresApproval: true})
	e := NewExecutor(r, nil, &stubApprovals{decision: ApprovalTimedOut})

	result, _, err := e.Execute(context.Background(), "t1", "write_file", nil, ToolContext{}, OriginAgentTurn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Errorf("expected timed-out approval to produce an IsError result")
	}
}

func TestExecutor_ExecuteError(t *testing.T) {
	e := newExecWithTool(&stubTool{name: "boom", group: GroupString, err: errors.New("execution failed")})
	_, _, err := e.Execute(context.Background(), "t1", "boom", nil, ToolContext{}, OriginOperator)
	if err == nil {
		t.Errorf("expected execution error to propagate")
	}
}
