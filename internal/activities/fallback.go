package activities

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/meridianhq/accountintel/internal/metrics"
	"github.com/meridianhq/accountintel/internal/retrieval"
)

// FallbackApprovalInput asks a human whether an exhausted authoritative
// source may be bypassed with an unrestricted search.
type FallbackApprovalInput struct {
	SessionID       string               `json:"session_id"`
	WorkflowID      string               `json:"workflow_id"`
	RunID           string               `json:"run_id"`
	Query           string               `json:"query"`
	Intent          retrieval.FactIntent `json:"intent"`
	SourceAttempted retrieval.SourceID   `json:"source_attempted"`
}

// FallbackApprovalResult returns the approval ID the workflow waits on.
type FallbackApprovalResult struct {
	ApprovalID  string    `json:"approval_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// PendingApproval is one open fallback negotiation, kept so the HTTP API
// can list outstanding requests and route decisions back to workflows.
type PendingApproval struct {
	ApprovalID      string               `json:"approval_id"`
	WorkflowID      string               `json:"workflow_id"`
	RunID           string               `json:"run_id"`
	SessionID       string               `json:"session_id"`
	Query           string               `json:"query"`
	Intent          retrieval.FactIntent `json:"intent"`
	SourceAttempted retrieval.SourceID   `json:"source_attempted"`
	RequestedAt     time.Time            `json:"requested_at"`
}

// RequestFallbackApproval registers a pending approval and returns its ID.
// The workflow then waits for a signal carrying the human's decision.
func (a *Activities) RequestFallbackApproval(ctx context.Context, input FallbackApprovalInput) (FallbackApprovalResult, error) {
	logger := activity.GetLogger(ctx)
	approvalID := uuid.New().String()
	now := time.Now()

	a.pendingMu.Lock()
	a.pending[approvalID] = PendingApproval{
		ApprovalID:      approvalID,
		WorkflowID:      input.WorkflowID,
		RunID:           input.RunID,
		SessionID:       input.SessionID,
		Query:           input.Query,
		Intent:          input.Intent,
		SourceAttempted: input.SourceAttempted,
		RequestedAt:     now,
	}
	a.pendingMu.Unlock()

	metrics.FallbackNegotiations.WithLabelValues("requested").Inc()
	logger.Info("RequestFallbackApproval: awaiting user decision",
		"approval_id", approvalID,
		"intent", input.Intent,
		"source_attempted", input.SourceAttempted,
	)
	return FallbackApprovalResult{ApprovalID: approvalID, RequestedAt: now}, nil
}

// ResolveFallbackApproval removes a pending approval once the decision has
// been signaled to the workflow. Unknown IDs are a no-op.
func (a *Activities) ResolveFallbackApproval(ctx context.Context, approvalID string) error {
	a.pendingMu.Lock()
	delete(a.pending, approvalID)
	a.pendingMu.Unlock()
	return nil
}

// PendingApprovals lists open fallback negotiations, for the HTTP API.
func (a *Activities) PendingApprovals() []PendingApproval {
	a.pendingMu.RLock()
	defer a.pendingMu.RUnlock()
	out := make([]PendingApproval, 0, len(a.pending))
	for _, p := range a.pending {
		out = append(out, p)
	}
	return out
}

// LookupApproval returns the pending approval for an ID, if still open.
func (a *Activities) LookupApproval(approvalID string) (PendingApproval, bool) {
	a.pendingMu.RLock()
	defer a.pendingMu.RUnlock()
	p, ok := a.pending[approvalID]
	return p, ok
}
