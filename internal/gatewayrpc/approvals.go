package gatewayrpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smartassist/smartassist/internal/tools"
)

// ErrApprovalNotFound is returned by Resolve when request_id has no
// pending entry (already resolved, timed out, or never existed).
var ErrApprovalNotFound = errors.New("approval request not found")

// pendingApproval tracks one ApprovalRequest awaiting resolution; ch
// receives exactly one decision, from either Resolve or the timer case
// in SubmitNamed.
type pendingApproval struct {
	request tools.ApprovalRequest
	ch      chan tools.ApprovalDecision
	once    sync.Once
}

func (p *pendingApproval) resolve(decision tools.ApprovalDecision) {
	p.once.Do(func() {
		p.ch <- decision
		close(p.ch)
	})
}

// ApprovalQueue implements tools.ApprovalQueue, blocking Submit until an
// operator calls Resolve via exec.approval.resolve or the request's
// ExpiresAt passes. Entries are cleared atomically on resolution or
// timeout.
type ApprovalQueue struct {
	mu        sync.Mutex
	pending   map[string]*pendingApproval
	nextID    func() string
	onCreated func(id string, req tools.ApprovalRequest)
}

// NewApprovalQueue builds an empty ApprovalQueue. idGen generates
// request ids; callers typically pass uuid.NewString. onCreated, if
// non-nil, fires synchronously whenever a request is enqueued — the
// gateway server uses it to broadcast the new pending approval (and its
// id) to connected operators, since Submit's return value alone never
// surfaces the id to the caller that's still blocked inside it.
func NewApprovalQueue(idGen func() string, onCreated func(id string, req tools.ApprovalRequest)) *ApprovalQueue {
	return &ApprovalQueue{
		pending:   make(map[string]*pendingApproval),
		nextID:    idGen,
		onCreated: onCreated,
	}
}

// Submit enqueues req and blocks until it is resolved, times out at
// req.ExpiresAt, or ctx is cancelled. Satisfies tools.ApprovalQueue.
func (q *ApprovalQueue) Submit(ctx context.Context, req tools.ApprovalRequest) (tools.ApprovalDecision, error) {
	_, decision, err := q.SubmitNamed(ctx, req)
	return decision, err
}

// SubmitNamed is Submit plus the generated request id, for callers (the
// exec.approval.request RPC method) that report the id in their result.
// Like Submit it blocks until the request is resolved, times out or ctx
// is cancelled; the id reaches operators earlier only through onCreated.
func (q *ApprovalQueue) SubmitNamed(ctx context.Context, req tools.ApprovalRequest) (string, tools.ApprovalDecision, error) {
	id := q.nextID()
	entry := &pendingApproval{request: req, ch: make(chan tools.ApprovalDecision, 1)}

	q.mu.Lock()
	q.pending[id] = entry
	q.mu.Unlock()

	if q.onCreated != nil {
		q.onCreated(id, req)
	}

	timer := time.NewTimer(time.Until(req.ExpiresAt))
	defer timer.Stop()

	select {
	case decision := <-entry.ch:
		return id, decision, nil
	case <-timer.C:
		q.remove(id)
		entry.resolve(tools.ApprovalTimedOut)
		return id, tools.ApprovalTimedOut, nil
	case <-ctx.Done():
		q.remove(id)
		return id, tools.ApprovalTimedOut, ctx.Err()
	}
}

// Resolve signals the waiter for requestID with a final decision.
func (q *ApprovalQueue) Resolve(requestID string, approved bool) error {
	q.mu.Lock()
	entry, ok := q.pending[requestID]
	if ok {
		delete(q.pending, requestID)
	}
	q.mu.Unlock()

	if !ok {
		return ErrApprovalNotFound
	}

	decision := tools.ApprovalDenied
	if approved {
		decision = tools.ApprovalApproved
	}
	entry.resolve(decision)
	return nil
}

// Pending returns every currently outstanding ApprovalRequest, for the
// exec.approvals.get-style introspection methods.
func (q *ApprovalQueue) Pending() []tools.ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]tools.ApprovalRequest, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.request)
	}
	return out
}

func (q *ApprovalQueue) remove(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
