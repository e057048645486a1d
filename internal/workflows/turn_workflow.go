package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/meridianhq/accountintel/internal/activities"
	"github.com/meridianhq/accountintel/internal/adapters"
	"github.com/meridianhq/accountintel/internal/db"
	"github.com/meridianhq/accountintel/internal/merge"
	"github.com/meridianhq/accountintel/internal/policy"
	"github.com/meridianhq/accountintel/internal/retrieval"
	"github.com/meridianhq/accountintel/internal/session"
)

// Orchestration settings shared by all turn workflows on this worker. Set
// once at worker startup, before polling begins; routing and merge logic
// are pure, so determinism across replays holds as long as the policy
// ships with the worker binary.
var (
	routingTable    = policy.Default()
	confidenceFloor = merge.DefaultConfidenceFloor
	maxConcurrency  = 4
	approvalTimeout = 30 * time.Minute
)

// Configure installs the routing table and orchestration knobs. Call before
// the worker starts polling.
func Configure(table *policy.Table, floor float64, concurrency int, approvalWait time.Duration) {
	if table != nil {
		routingTable = table
	}
	if floor > 0 {
		confidenceFloor = floor
	}
	if concurrency > 0 {
		maxConcurrency = concurrency
	}
	if approvalWait > 0 {
		approvalTimeout = approvalWait
	}
}

// TurnWorkflow orchestrates one conversation turn end to end. One workflow
// execution per user turn; the result is the final answer with its full
// provenance trail.
func TurnWorkflow(ctx workflow.Context, input TurnInput) (TurnResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Turn started", "turn_id", input.TurnID, "session_id", input.SessionID)

	result := TurnResult{
		TurnID:    input.TurnID,
		SessionID: input.SessionID,
		Status:    TurnFailed,
	}
	status := TurnStatus{Phase: PhaseClassifying}
	if err := workflow.SetQueryHandler(ctx, QueryTurnStatus, func() (TurnStatus, error) {
		return status, nil
	}); err != nil {
		return result, err
	}

	activityOpts := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOpts)
	startedAt := workflow.Now(ctx)

	// Load conversation history for pronoun resolution and synthesis.
	var snapshot activities.ConversationSnapshot
	if err := workflow.ExecuteActivity(ctx, "GetConversation", activities.GetConversationInput{
		SessionID: input.SessionID,
		UserID:    input.UserID,
	}).Get(ctx, &snapshot); err != nil {
		result.ErrorMsg = err.Error()
		return result, err
	}

	// Classify the raw query into an entity and fact intents.
	var classified activities.ClassifyOutput
	if err := workflow.ExecuteActivity(ctx, "ClassifyQuery", activities.ClassifyInput{
		RawQuery: input.RawQuery,
		History:  snapshot.ClassifierHistory(),
	}).Get(ctx, &classified); err != nil {
		result.ErrorMsg = err.Error()
		return result, err
	}
	result.Query = classified.Query

	if classified.Unresolved {
		result.Status = TurnNeedsClarification
		result.Answer = classified.Clarification
		status.Phase = PhaseDone
		finishTurn(ctx, input, &result, startedAt)
		return result, nil
	}

	// Route each intent to its authoritative sources. A gap in the policy
	// table is a configuration error, surfaced verbatim; intents are never
	// silently broadened.
	routes, err := routingTable.RouteIntents(classified.Query.Intents)
	if err != nil {
		var gap *policy.PolicyGapError
		if errors.As(err, &gap) {
			logger.Error("Routing policy gap", "intent", gap.Intent)
			result.ErrorMsg = gap.Error()
			result.Answer = "I can't answer that yet: no knowledge source is configured for this kind of question. " +
				"Please report this so the routing policy can be extended."
			status.Phase = PhaseDone
			finishTurn(ctx, input, &result, startedAt)
			return result, nil
		}
		result.ErrorMsg = err.Error()
		return result, err
	}

	// Fan out to every routed source concurrently.
	status.Phase = PhaseRetrieving
	calls := buildSourceCalls(classified.Query, routes)
	gathered := fanOutQueries(ctx, classified.Query, calls, maxConcurrency)

	// Negotiate fallbacks for intents whose restricted sources came up
	// empty. Each gap negotiates independently: one pending decision never
	// blocks another intent's question from reaching the user.
	status.Phase = PhaseNegotiating
	type fallbackGap struct {
		Intent    retrieval.FactIntent
		Attempted retrieval.SourceID
	}
	var gaps []fallbackGap
	for _, intent := range classified.Query.Intents {
		if len(gathered[intent]) > 0 {
			continue
		}
		route, ok := routes[intent]
		if !ok {
			continue
		}
		if len(route.Sources) == 1 && route.Sources[0] == retrieval.SourceUnrestricted {
			// Already unrestricted; nothing broader to ask for.
			continue
		}
		gaps = append(gaps, fallbackGap{Intent: intent, Attempted: route.Sources[0]})
		status.AwaitingApprovals = append(status.AwaitingApprovals, retrieval.FallbackDecision{
			Intent:          intent,
			SourceAttempted: route.Sources[0],
			State:           retrieval.FallbackAwaitingApproval,
		})
	}

	outcomes := make([]negotiationOutcome, len(gaps))
	wg := workflow.NewWaitGroup(ctx)
	for i, gap := range gaps {
		i, gap := i, gap
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			outcomes[i] = negotiateFallback(gctx, input, classified.Query, gap.Intent, gap.Attempted, turnApprovalTimeout(input))
		})
	}
	wg.Wait(ctx)
	status.AwaitingApprovals = nil

	for i, gap := range gaps {
		result.Fallbacks = append(result.Fallbacks, outcomes[i].Decisions...)
		if len(outcomes[i].Results) > 0 {
			gathered[gap.Intent] = append(gathered[gap.Intent], outcomes[i].Results...)
		}
	}

	if ctx.Err() != nil {
		// Cancelled while a negotiation was suspended. Record what was
		// gathered on a context that survives the cancellation.
		result.Bundle = merge.New(routingTable, confidenceFloor).Merge(classified.Query.Intents, gathered)
		result.ErrorMsg = "turn cancelled"
		status.Phase = PhaseDone
		dctx, _ := workflow.NewDisconnectedContext(ctx)
		finishTurn(dctx, input, &result, startedAt)
		return result, temporal.NewCanceledError()
	}

	// Merge: dedupe, order, apply the confidence floor, partition missing.
	merger := merge.New(routingTable, confidenceFloor)
	result.Bundle = merger.Merge(classified.Query.Intents, gathered)

	// Synthesize the final answer from the merged bundle.
	status.Phase = PhaseSynthesizing
	deepReadThinEvidence(ctx, &result.Bundle)
	var synthesized activities.SynthesizeOutput
	if err := workflow.ExecuteActivity(ctx, "SynthesizeAnswer", activities.SynthesizeInput{
		Query:   classified.Query,
		Bundle:  result.Bundle,
		History: snapshot.History,
	}).Get(ctx, &synthesized); err != nil {
		result.ErrorMsg = err.Error()
		finishTurn(ctx, input, &result, startedAt)
		return result, err
	}

	result.Status = TurnCompleted
	result.Answer = synthesized.Answer
	status.Phase = PhaseDone
	finishTurn(ctx, input, &result, startedAt)

	logger.Info("Turn completed",
		"turn_id", input.TurnID,
		"satisfied", len(result.Bundle.Satisfied()),
		"missing", len(result.Bundle.Missing),
	)
	return result, nil
}

// Snippets shorter than this are treated as too thin to synthesize from;
// the full document behind the citation is fetched instead.
const deepReadSnippetMin = 200

// deepReadThinEvidence replaces an intent's best snippet with the full
// document content when the search backend returned only a sliver. Fetch
// failures keep the original snippet.
func deepReadThinEvidence(ctx workflow.Context, bundle *retrieval.ContextBundle) {
	logger := workflow.GetLogger(ctx)
	for ei := range bundle.Entries {
		top := &bundle.Entries[ei].Results[0]
		if len(top.Snippet) >= deepReadSnippetMin {
			continue
		}
		var doc adapters.Document
		if err := workflow.ExecuteActivity(ctx, "ReadDocument", activities.ReadDocumentInput{
			URL: top.Citation.URL,
		}).Get(ctx, &doc); err != nil {
			logger.Warn("Full document read failed", "url", top.Citation.URL, "error", err)
			continue
		}
		if doc.Content == "" {
			continue
		}
		if len(doc.Content) > 4000 {
			doc.Content = doc.Content[:4000]
		}
		top.Snippet = doc.Content
	}
}

func turnApprovalTimeout(input TurnInput) time.Duration {
	if input.ApprovalTimeoutSeconds > 0 {
		return time.Duration(input.ApprovalTimeoutSeconds) * time.Second
	}
	return approvalTimeout
}

// finishTurn appends the turn to its session and writes the audit record.
// Both are best effort: a persistence hiccup must not fail an answered turn.
func finishTurn(ctx workflow.Context, input TurnInput, result *TurnResult, startedAt time.Time) {
	logger := workflow.GetLogger(ctx)

	var broadened []retrieval.FactIntent
	for _, d := range result.Fallbacks {
		if d.State == retrieval.FallbackBroadened {
			broadened = append(broadened, d.Intent)
		}
	}

	if err := workflow.ExecuteActivity(ctx, "UpdateConversation", activities.UpdateConversationInput{
		SessionID: input.SessionID,
		Turn: session.TurnRecord{
			TurnID:    input.TurnID,
			Query:     result.Query,
			Answer:    result.Answer,
			Satisfied: result.Bundle.Satisfied(),
			Missing:   result.Bundle.Missing,
			Broadened: broadened,
			Timestamp: workflow.Now(ctx),
		},
	}).Get(ctx, nil); err != nil {
		logger.Warn("Failed to append turn to session", "error", err)
	}

	var rows []db.ResultRow
	for _, entry := range result.Bundle.Entries {
		for _, r := range entry.Results {
			rows = append(rows, db.ResultRow{
				Intent:      entry.Intent,
				Source:      r.Source,
				CitationURL: r.Citation.URL,
				Title:       r.Citation.Title,
				Confidence:  r.Confidence,
				Broadened:   r.Citation.Broadened,
			})
		}
	}
	if err := workflow.ExecuteActivity(ctx, "RecordTurn", activities.RecordTurnInput{
		Turn: db.TurnRow{
			TurnID:        input.TurnID,
			SessionID:     input.SessionID,
			UserID:        input.UserID,
			RawQuery:      input.RawQuery,
			AccountEntity: result.Query.AccountEntity,
			Status:        result.Status,
			Answer:        result.Answer,
			Missing:       result.Bundle.Missing,
			StartedAt:     startedAt,
			CompletedAt:   workflow.Now(ctx),
		},
		Results: rows,
	}).Get(ctx, nil); err != nil {
		logger.Warn("Failed to record turn", "error", err)
	}
}
