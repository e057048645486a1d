package workflows

// FallbackApprovalSignalPrefix prefixes the per-approval signal a turn
// workflow waits on while a fallback negotiation is open. The full name is
// the prefix plus the approval ID returned by RequestFallbackApproval.
const FallbackApprovalSignalPrefix = "fallback-approval-"

// FallbackApprovalSignalName builds the signal name for one approval.
func FallbackApprovalSignalName(approvalID string) string {
	return FallbackApprovalSignalPrefix + approvalID
}

// FallbackApprovalSignal carries the human's decision on whether a missed
// authoritative source may be bypassed with an unrestricted search.
type FallbackApprovalSignal struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	DecidedBy  string `json:"decided_by,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
}
