package workflows

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/meridianhq/accountintel/internal/activities"
	"github.com/meridianhq/accountintel/internal/retrieval"
)

// negotiationOutcome is what one fallback negotiation produced: the final
// decision trail plus any broadened results when the user approved.
type negotiationOutcome struct {
	Decisions []retrieval.FallbackDecision
	Results   []retrieval.Result
}

// negotiateFallback runs the ask-before-broadening protocol for one intent
// whose routed sources came up empty:
//
//	Exhausted -> AwaitingUserApproval -> Approved -> Broadened
//	                                  -> Declined -> PermanentlyMissing
//
// The workflow suspends on the approval signal; no retrieval runs while a
// negotiation is pending. An expired timer counts as a decline. If the
// user approves but the unrestricted sweep also finds nothing, the intent
// is permanently missing for this turn.
func negotiateFallback(ctx workflow.Context, input TurnInput, query retrieval.Query, intent retrieval.FactIntent, attempted retrieval.SourceID, approvalTimeout time.Duration) negotiationOutcome {
	logger := workflow.GetLogger(ctx)

	trail := []retrieval.FallbackDecision{{
		Intent:          intent,
		SourceAttempted: attempted,
		State:           retrieval.FallbackExhausted,
	}}

	var approval activities.FallbackApprovalResult
	err := workflow.ExecuteActivity(ctx, "RequestFallbackApproval", activities.FallbackApprovalInput{
		SessionID:       input.SessionID,
		WorkflowID:      workflow.GetInfo(ctx).WorkflowExecution.ID,
		RunID:           workflow.GetInfo(ctx).WorkflowExecution.RunID,
		Query:           query.RawText,
		Intent:          intent,
		SourceAttempted: attempted,
	}).Get(ctx, &approval)
	if err != nil {
		logger.Error("Fallback approval request failed", "intent", intent, "error", err)
		trail = append(trail, retrieval.FallbackDecision{
			Intent:          intent,
			SourceAttempted: attempted,
			State:           retrieval.FallbackPermanentlyMissing,
		})
		return negotiationOutcome{Decisions: trail}
	}

	trail = append(trail, retrieval.FallbackDecision{
		Intent:          intent,
		SourceAttempted: attempted,
		State:           retrieval.FallbackAwaitingApproval,
		ApprovalID:      approval.ApprovalID,
	})

	logger.Info("Awaiting fallback approval",
		"approval_id", approval.ApprovalID,
		"intent", intent,
		"source_attempted", attempted,
	)

	ch := workflow.GetSignalChannel(ctx, FallbackApprovalSignalName(approval.ApprovalID))
	sel := workflow.NewSelector(ctx)
	timer := workflow.NewTimer(ctx, approvalTimeout)

	var decision FallbackApprovalSignal
	timedOut := false

	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &decision)
	})
	sel.AddFuture(timer, func(f workflow.Future) {
		timedOut = true
		decision = FallbackApprovalSignal{ApprovalID: approval.ApprovalID, Approved: false, Feedback: "approval timeout"}
	})
	sel.Select(ctx)

	if ctx.Err() != nil {
		// Turn cancelled while suspended: the negotiation dies with it.
		trail = append(trail, retrieval.FallbackDecision{
			Intent:          intent,
			SourceAttempted: attempted,
			State:           retrieval.FallbackPermanentlyMissing,
			ApprovalID:      approval.ApprovalID,
		})
		return negotiationOutcome{Decisions: trail}
	}

	// Clear the pending entry regardless of outcome. Best effort.
	_ = workflow.ExecuteActivity(ctx, "ResolveFallbackApproval", approval.ApprovalID).Get(ctx, nil)

	if timedOut {
		logger.Warn("Fallback approval timed out, treating as decline",
			"approval_id", approval.ApprovalID)
	}

	if !decision.Approved {
		trail = append(trail,
			retrieval.FallbackDecision{
				Intent:          intent,
				SourceAttempted: attempted,
				State:           retrieval.FallbackDeclined,
				ApprovalID:      approval.ApprovalID,
				DecidedBy:       decision.DecidedBy,
			},
			retrieval.FallbackDecision{
				Intent:          intent,
				SourceAttempted: attempted,
				State:           retrieval.FallbackPermanentlyMissing,
				ApprovalID:      approval.ApprovalID,
			},
		)
		return negotiationOutcome{Decisions: trail}
	}

	trail = append(trail, retrieval.FallbackDecision{
		Intent:          intent,
		SourceAttempted: attempted,
		State:           retrieval.FallbackApproved,
		ApprovalID:      approval.ApprovalID,
		DecidedBy:       decision.DecidedBy,
	})

	var broadened activities.SourceQueryOutput
	err = workflow.ExecuteActivity(ctx, "ExecuteSourceQuery", activities.SourceQueryInput{
		Intent:    intent,
		Source:    retrieval.SourceUnrestricted,
		Text:      query.RawText,
		Entity:    query.AccountEntity,
		TimeRange: query.TimeHint,
	}).Get(ctx, &broadened)
	if err != nil || len(broadened.Results) == 0 {
		trail = append(trail, retrieval.FallbackDecision{
			Intent:          intent,
			SourceAttempted: attempted,
			State:           retrieval.FallbackPermanentlyMissing,
			ApprovalID:      approval.ApprovalID,
		})
		return negotiationOutcome{Decisions: trail}
	}

	trail = append(trail, retrieval.FallbackDecision{
		Intent:          intent,
		SourceAttempted: attempted,
		State:           retrieval.FallbackBroadened,
		ApprovalID:      approval.ApprovalID,
		DecidedBy:       decision.DecidedBy,
	})
	return negotiationOutcome{Decisions: trail, Results: broadened.Results}
}
