package gatewayrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smartassist/smartassist/internal/tools"
)

// defaultApprovalTimeout is used when exec.approval.request omits
// timeout_ms.
const defaultApprovalTimeout = 300 * time.Second

type approvalRequestParams struct {
	Command    string `json:"command"`
	Cwd        string `json:"cwd,omitempty"`
	AgentID    string `json:"agent_id"`
	SessionKey string `json:"session_key"`
	TimeoutMs  int64  `json:"timeout_ms,omitempty"`
}

type approvalRequestResult struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	TimedOut  bool   `json:"timed_out"`
}

type approvalResolveParams struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// RegisterBuiltins wires the always-present methods — ping, system
// introspection, and the exec.approval.* pair — onto s, backed by
// queue. Domain-specific methods (chat.*, agent.*, …) are registered
// separately by the binary assembling the server.
func RegisterBuiltins(s *Server, queue *ApprovalQueue) {
	s.Handle("ping", func(ctx context.Context, auth AuthContext, params json.RawMessage) (any, error) {
		return map[string]string{"pong": time.Now().UTC().Format(time.RFC3339)}, nil
	})

	s.Handle("system.methods", func(ctx context.Context, auth AuthContext, params json.RawMessage) (any, error) {
		s.methodsMu.RLock()
		defer s.methodsMu.RUnlock()
		names := make([]string, 0, len(s.methods))
		for name := range s.methods {
			names = append(names, name)
		}
		return names, nil
	})

	s.Handle("exec.approval.request", func(ctx context.Context, auth AuthContext, raw json.RawMessage) (any, error) {
		var params approvalRequestParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		timeout := defaultApprovalTimeout
		if params.TimeoutMs > 0 {
			timeout = time.Duration(params.TimeoutMs) * time.Millisecond
		}

		req := tools.ApprovalRequest{
			ToolName:  params.Command,
			SessionID: params.SessionKey,
			AgentID:   params.AgentID,
			ExpiresAt: time.Now().Add(timeout),
		}

		id, decision, err := queue.SubmitNamed(ctx, req)
		if err != nil {
			return nil, err
		}
		return approvalRequestResult{
			RequestID: id,
			Approved:  decision == tools.ApprovalApproved,
			TimedOut:  decision == tools.ApprovalTimedOut,
		}, nil
	})

	s.Handle("exec.approval.resolve", func(ctx context.Context, auth AuthContext, raw json.RawMessage) (any, error) {
		var params approvalResolveParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if err := queue.Resolve(params.RequestID, params.Approved); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	s.Handle("exec.approvals.get", func(ctx context.Context, auth AuthContext, raw json.RawMessage) (any, error) {
		return queue.Pending(), nil
	})
}
