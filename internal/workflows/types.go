// Package workflows contains the Temporal workflow that orchestrates one
// conversation turn: classify, route, fan out to knowledge sources,
// negotiate fallbacks, merge, and synthesize.
package workflows

import (
	"github.com/meridianhq/accountintel/internal/retrieval"
)

// TurnInput starts one turn workflow.
type TurnInput struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	RawQuery  string `json:"raw_query"`

	// ApprovalTimeoutSeconds overrides the fallback approval wait, mainly
	// for tests. Zero means the worker default.
	ApprovalTimeoutSeconds int `json:"approval_timeout_seconds,omitempty"`
}

// Turn status values.
const (
	TurnCompleted          = "completed"
	TurnNeedsClarification = "needs_clarification"
	TurnFailed             = "failed"
)

// TurnResult is the workflow's final state, also answerable via query
// while the workflow is still running.
type TurnResult struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Answer    string `json:"answer"`

	Query     retrieval.Query              `json:"query"`
	Bundle    retrieval.ContextBundle      `json:"bundle"`
	Fallbacks []retrieval.FallbackDecision `json:"fallbacks,omitempty"`
	ErrorMsg  string                       `json:"error,omitempty"`
}

// QueryTurnStatus is the workflow query handler name exposing progress.
const QueryTurnStatus = "turn-status"

// TurnStatus is the live view of a running turn, for polling clients.
type TurnStatus struct {
	Phase             string                       `json:"phase"`
	AwaitingApprovals []retrieval.FallbackDecision `json:"awaiting_approvals,omitempty"`
}

// Workflow phases reported via the status query.
const (
	PhaseClassifying  = "classifying"
	PhaseRetrieving   = "retrieving"
	PhaseNegotiating  = "negotiating"
	PhaseSynthesizing = "synthesizing"
	PhaseDone         = "done"
)
