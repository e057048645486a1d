package workflows

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/meridianhq/accountintel/internal/activities"
	"github.com/meridianhq/accountintel/internal/adapters"
	"github.com/meridianhq/accountintel/internal/db"
	"github.com/meridianhq/accountintel/internal/policy"
	"github.com/meridianhq/accountintel/internal/retrieval"
	"github.com/meridianhq/accountintel/internal/session"
)

// testApprovalID derives a stable approval ID per intent so tests with
// several concurrent negotiations can signal each one independently.
func testApprovalID(intent retrieval.FactIntent) string {
	return "appr-" + string(intent)
}

// sourceStub scripts per-source responses for ExecuteSourceQuery and records
// which sources were consulted. documents feeds the ReadDocument stub.
type sourceStub struct {
	mu        sync.Mutex
	calls     []retrieval.SourceID
	results   map[retrieval.SourceID][]retrieval.Result
	failed    map[retrieval.SourceID]string
	documents map[string]string
}

func (s *sourceStub) execute(ctx context.Context, in activities.SourceQueryInput) (activities.SourceQueryOutput, error) {
	s.mu.Lock()
	s.calls = append(s.calls, in.Source)
	s.mu.Unlock()

	if kind, ok := s.failed[in.Source]; ok {
		return activities.SourceQueryOutput{
			Intent: in.Intent, Source: in.Source,
			Results: []retrieval.Result{}, Failed: true, FailureKind: kind,
		}, nil
	}
	results := s.results[in.Source]
	if in.Source == retrieval.SourceUnrestricted {
		marked := make([]retrieval.Result, len(results))
		copy(marked, results)
		for i := range marked {
			marked[i].Citation.Broadened = true
		}
		results = marked
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	return activities.SourceQueryOutput{Intent: in.Intent, Source: in.Source, Results: results}, nil
}

func (s *sourceStub) called(src retrieval.SourceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == src {
			return true
		}
	}
	return false
}

func result(src retrieval.SourceID, url string, confidence float64) retrieval.Result {
	return retrieval.Result{
		Source:     src,
		Snippet:    "snippet from " + string(src),
		Citation:   retrieval.Citation{URL: url},
		Confidence: confidence,
	}
}

// turnCaptures records what the workflow persisted at the end of the turn
// and which fallback approvals it requested.
type turnCaptures struct {
	mu        sync.Mutex
	turns     []session.TurnRecord
	rows      []db.TurnRow
	approvals []activities.FallbackApprovalInput
}

func (c *turnCaptures) approvalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.approvals)
}

// newTurnEnv wires a test environment with stubbed activities around the
// real workflow, router, and merger.
func newTurnEnv(t *testing.T, classify activities.ClassifyOutput, sources *sourceStub) (*testsuite.TestWorkflowEnvironment, *turnCaptures) {
	t.Helper()
	captures := &turnCaptures{}
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(TurnWorkflow)

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.GetConversationInput) (activities.ConversationSnapshot, error) {
		return activities.ConversationSnapshot{SessionID: in.SessionID}, nil
	}, activity.RegisterOptions{Name: "GetConversation"})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ClassifyInput) (activities.ClassifyOutput, error) {
		return classify, nil
	}, activity.RegisterOptions{Name: "ClassifyQuery"})

	env.RegisterActivityWithOptions(sources.execute, activity.RegisterOptions{Name: "ExecuteSourceQuery"})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.FallbackApprovalInput) (activities.FallbackApprovalResult, error) {
		captures.mu.Lock()
		captures.approvals = append(captures.approvals, in)
		captures.mu.Unlock()
		return activities.FallbackApprovalResult{ApprovalID: testApprovalID(in.Intent), RequestedAt: time.Now()}, nil
	}, activity.RegisterOptions{Name: "RequestFallbackApproval"})

	env.RegisterActivityWithOptions(func(ctx context.Context, approvalID string) error {
		return nil
	}, activity.RegisterOptions{Name: "ResolveFallbackApproval"})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SynthesizeInput) (activities.SynthesizeOutput, error) {
		if len(in.Bundle.Satisfied()) == 0 {
			return activities.SynthesizeOutput{Answer: "no information found"}, nil
		}
		return activities.SynthesizeOutput{Answer: "synthesized answer"}, nil
	}, activity.RegisterOptions{Name: "SynthesizeAnswer"})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ReadDocumentInput) (adapters.Document, error) {
		if content, ok := sources.documents[in.URL]; ok {
			return adapters.Document{URL: in.URL, Content: content}, nil
		}
		return adapters.Document{URL: in.URL}, nil
	}, activity.RegisterOptions{Name: "ReadDocument"})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.UpdateConversationInput) error {
		captures.mu.Lock()
		captures.turns = append(captures.turns, in.Turn)
		captures.mu.Unlock()
		return nil
	}, activity.RegisterOptions{Name: "UpdateConversation"})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.RecordTurnInput) error {
		captures.mu.Lock()
		captures.rows = append(captures.rows, in.Turn)
		captures.mu.Unlock()
		return nil
	}, activity.RegisterOptions{Name: "RecordTurn"})

	return env, captures
}

func classified(entity string, intents ...retrieval.FactIntent) activities.ClassifyOutput {
	return activities.ClassifyOutput{Query: retrieval.Query{
		RawText:       "test query",
		AccountEntity: entity,
		Intents:       intents,
	}}
}

func fallbackStates(decisions []retrieval.FallbackDecision) []retrieval.FallbackState {
	out := make([]retrieval.FallbackState, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, d.State)
	}
	return out
}

func TestTurnWorkflowAnswersFromAuthoritativeSource(t *testing.T) {
	sources := &sourceStub{results: map[retrieval.SourceID][]retrieval.Result{
		retrieval.SourceCRM: {result(retrieval.SourceCRM, "https://crm.example.com/opp/1", 0.9)},
	}}
	env, _ := newTurnEnv(t, classified("wellstar", retrieval.IntentDateOrContract), sources)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t1", SessionID: "s1", UserID: "u1", RawQuery: "renewal date?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, TurnCompleted, out.Status)
	assert.Equal(t, "synthesized answer", out.Answer)
	assert.Empty(t, out.Fallbacks)
	assert.Empty(t, out.Bundle.Missing)
	require.Len(t, out.Bundle.ResultsFor(retrieval.IntentDateOrContract), 1)

	// Exclusive routing: the CRM alone is consulted for contractual facts.
	assert.Equal(t, []retrieval.SourceID{retrieval.SourceCRM}, sources.calls)
}

func TestTurnWorkflowFallbackDeclineLeavesGap(t *testing.T) {
	sources := &sourceStub{results: map[retrieval.SourceID][]retrieval.Result{
		retrieval.SourceUnrestricted: {result(retrieval.SourceChat, "https://chat.example.com/1", 0.7)},
	}}
	env, _ := newTurnEnv(t, classified("wellstar", retrieval.IntentDateOrContract), sources)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(FallbackApprovalSignalName(testApprovalID(retrieval.IntentDateOrContract)), FallbackApprovalSignal{
			ApprovalID: testApprovalID(retrieval.IntentDateOrContract),
			Approved:   false,
			DecidedBy:  "user-1",
		})
	}, time.Minute)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t2", SessionID: "s1", UserID: "u1", RawQuery: "renewal date?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, TurnCompleted, out.Status)
	assert.Contains(t, out.Bundle.Missing, retrieval.IntentDateOrContract)
	assert.Equal(t, []retrieval.FallbackState{
		retrieval.FallbackExhausted,
		retrieval.FallbackAwaitingApproval,
		retrieval.FallbackDeclined,
		retrieval.FallbackPermanentlyMissing,
	}, fallbackStates(out.Fallbacks))

	// Declined means no broadened search ever runs.
	assert.False(t, sources.called(retrieval.SourceUnrestricted))
}

func TestTurnWorkflowFallbackApprovalBroadens(t *testing.T) {
	sources := &sourceStub{results: map[retrieval.SourceID][]retrieval.Result{
		retrieval.SourceUnrestricted: {result(retrieval.SourceChat, "https://chat.example.com/2", 0.7)},
	}}
	env, _ := newTurnEnv(t, classified("wellstar", retrieval.IntentDateOrContract), sources)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(FallbackApprovalSignalName(testApprovalID(retrieval.IntentDateOrContract)), FallbackApprovalSignal{
			ApprovalID: testApprovalID(retrieval.IntentDateOrContract),
			Approved:   true,
			DecidedBy:  "user-1",
		})
	}, time.Minute)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t3", SessionID: "s1", UserID: "u1", RawQuery: "renewal date?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, TurnCompleted, out.Status)
	assert.NotContains(t, out.Bundle.Missing, retrieval.IntentDateOrContract)
	assert.Equal(t, []retrieval.FallbackState{
		retrieval.FallbackExhausted,
		retrieval.FallbackAwaitingApproval,
		retrieval.FallbackApproved,
		retrieval.FallbackBroadened,
	}, fallbackStates(out.Fallbacks))

	results := out.Bundle.ResultsFor(retrieval.IntentDateOrContract)
	require.Len(t, results, 1)
	assert.True(t, results[0].Citation.Broadened, "broadened provenance must be visible")
	assert.True(t, sources.called(retrieval.SourceUnrestricted))
}

func statesFor(decisions []retrieval.FallbackDecision, intent retrieval.FactIntent) []retrieval.FallbackState {
	var out []retrieval.FallbackState
	for _, d := range decisions {
		if d.Intent == intent {
			out = append(out, d.State)
		}
	}
	return out
}

func TestTurnWorkflowNegotiatesFallbacksIndependently(t *testing.T) {
	sources := &sourceStub{results: map[retrieval.SourceID][]retrieval.Result{
		retrieval.SourceUnrestricted: {result(retrieval.SourceChat, "https://chat.example.com/4", 0.7)},
	}}
	env, captures := newTurnEnv(t, classified("wellstar", retrieval.IntentDateOrContract, retrieval.IntentContact), sources)

	// Both negotiations must be pending before either decision arrives; a
	// suspended approval for one intent never delays the other's request.
	env.RegisterDelayedCallback(func() {
		assert.Equal(t, 2, captures.approvalCount())
		env.SignalWorkflow(FallbackApprovalSignalName(testApprovalID(retrieval.IntentDateOrContract)), FallbackApprovalSignal{
			ApprovalID: testApprovalID(retrieval.IntentDateOrContract),
			Approved:   true,
			DecidedBy:  "user-1",
		})
		env.SignalWorkflow(FallbackApprovalSignalName(testApprovalID(retrieval.IntentContact)), FallbackApprovalSignal{
			ApprovalID: testApprovalID(retrieval.IntentContact),
			Approved:   false,
			DecidedBy:  "user-1",
		})
	}, time.Minute)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t6", SessionID: "s1", UserID: "u1", RawQuery: "renewal date and champion?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, []retrieval.FallbackState{
		retrieval.FallbackExhausted,
		retrieval.FallbackAwaitingApproval,
		retrieval.FallbackApproved,
		retrieval.FallbackBroadened,
	}, statesFor(out.Fallbacks, retrieval.IntentDateOrContract))
	assert.Equal(t, []retrieval.FallbackState{
		retrieval.FallbackExhausted,
		retrieval.FallbackAwaitingApproval,
		retrieval.FallbackDeclined,
		retrieval.FallbackPermanentlyMissing,
	}, statesFor(out.Fallbacks, retrieval.IntentContact))
	assert.NotContains(t, out.Bundle.Missing, retrieval.IntentDateOrContract)
	assert.Contains(t, out.Bundle.Missing, retrieval.IntentContact)
}

func TestTurnWorkflowDeepReadsThinSnippets(t *testing.T) {
	fullDoc := strings.Repeat("renewal terms and pricing detail. ", 20)
	sources := &sourceStub{
		results: map[retrieval.SourceID][]retrieval.Result{
			retrieval.SourceCRM: {result(retrieval.SourceCRM, "https://crm.example.com/opp/1", 0.9)},
		},
		documents: map[string]string{"https://crm.example.com/opp/1": fullDoc},
	}
	env, _ := newTurnEnv(t, classified("wellstar", retrieval.IntentDateOrContract), sources)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t7", SessionID: "s1", UserID: "u1", RawQuery: "renewal date?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	results := out.Bundle.ResultsFor(retrieval.IntentDateOrContract)
	require.Len(t, results, 1)
	assert.Equal(t, fullDoc, results[0].Snippet, "thin snippet should be replaced with the full document")
	assert.Equal(t, "https://crm.example.com/opp/1", results[0].Citation.URL)
}

func TestTurnWorkflowApprovalTimeoutCountsAsDecline(t *testing.T) {
	sources := &sourceStub{results: map[retrieval.SourceID][]retrieval.Result{}}
	env, _ := newTurnEnv(t, classified("wellstar", retrieval.IntentContact), sources)

	// No signal arrives; the approval timer fires first.
	env.ExecuteWorkflow(TurnWorkflow, TurnInput{
		TurnID: "t4", SessionID: "s1", UserID: "u1",
		RawQuery:               "who is the champion?",
		ApprovalTimeoutSeconds: 60,
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Contains(t, out.Bundle.Missing, retrieval.IntentContact)
	states := fallbackStates(out.Fallbacks)
	assert.Equal(t, retrieval.FallbackPermanentlyMissing, states[len(states)-1])
	assert.False(t, sources.called(retrieval.SourceUnrestricted))
}

func TestTurnWorkflowCancelDuringApprovalLeavesGap(t *testing.T) {
	sources := &sourceStub{results: map[retrieval.SourceID][]retrieval.Result{
		retrieval.SourceUnrestricted: {result(retrieval.SourceChat, "https://chat.example.com/3", 0.7)},
	}}
	env, captures := newTurnEnv(t, classified("wellstar", retrieval.IntentContact), sources)

	env.RegisterDelayedCallback(func() {
		env.CancelWorkflow()
	}, time.Minute)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t5", SessionID: "s1", UserID: "u1", RawQuery: "who is the champion?"})
	require.True(t, env.IsWorkflowCompleted())
	assert.True(t, temporal.IsCanceledError(env.GetWorkflowError()))

	// The suspended negotiation dies with the turn: no broadened search,
	// and the session still records the intent as missing.
	assert.False(t, sources.called(retrieval.SourceUnrestricted))
	captures.mu.Lock()
	defer captures.mu.Unlock()
	require.Len(t, captures.turns, 1)
	assert.Contains(t, captures.turns[0].Missing, retrieval.IntentContact)
	assert.Empty(t, captures.turns[0].Broadened)
}

func TestTurnWorkflowMergesAcrossSharedSources(t *testing.T) {
	sources := &sourceStub{results: map[retrieval.SourceID][]retrieval.Result{
		retrieval.SourceDocuments: {result(retrieval.SourceDocuments, "https://docs.example.com/plan", 0.9)},
		retrieval.SourceCalls: {
			result(retrieval.SourceCalls, "https://calls.example.com/qbr-1", 0.8),
			result(retrieval.SourceCalls, "https://calls.example.com/qbr-2", 0.6),
		},
	}}
	env, _ := newTurnEnv(t, classified("adventhealth", retrieval.IntentStrategy), sources)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t5", SessionID: "s2", UserID: "u1", RawQuery: "account strategy?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, TurnCompleted, out.Status)
	assert.True(t, sources.called(retrieval.SourceDocuments))
	assert.True(t, sources.called(retrieval.SourceCalls))

	results := out.Bundle.ResultsFor(retrieval.IntentStrategy)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Confidence, results[i].Confidence,
			"results must be ordered by confidence")
	}
	assert.Empty(t, out.Fallbacks)
}

func TestTurnWorkflowIsolatesFailedSource(t *testing.T) {
	sources := &sourceStub{
		results: map[retrieval.SourceID][]retrieval.Result{
			retrieval.SourceCalls: {result(retrieval.SourceCalls, "https://calls.example.com/1", 0.8)},
			retrieval.SourceChat:  {result(retrieval.SourceChat, "https://chat.example.com/3", 0.7)},
		},
		failed: map[retrieval.SourceID]string{
			retrieval.SourceEmail: "timeout",
		},
	}
	env, _ := newTurnEnv(t, classified("wellstar", retrieval.IntentSentiment), sources)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t6", SessionID: "s1", UserID: "u1", RawQuery: "how do they feel?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, TurnCompleted, out.Status)
	require.Len(t, out.Bundle.ResultsFor(retrieval.IntentSentiment), 2,
		"healthy sources must survive a sibling timeout")
	assert.Empty(t, out.Bundle.Missing)
}

func TestTurnWorkflowClarificationShortCircuits(t *testing.T) {
	sources := &sourceStub{}
	env, _ := newTurnEnv(t, activities.ClassifyOutput{
		Query:         retrieval.Query{RawText: "renewal for Initech?", AccountEntity: retrieval.EntityUnknown},
		Unresolved:    true,
		Clarification: "Which account are you asking about?",
	}, sources)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t7", SessionID: "s1", UserID: "u1", RawQuery: "renewal for Initech?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, TurnNeedsClarification, out.Status)
	assert.Equal(t, "Which account are you asking about?", out.Answer)
	assert.Empty(t, sources.calls, "no retrieval may run before the entity is known")
}

func TestTurnWorkflowPolicyGapSurfaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("general:\n  sources: [unrestricted]\n"), 0o600))
	partial, err := policy.Load(path)
	require.NoError(t, err)

	Configure(partial, 0, 0, 0)
	defer Configure(policy.Default(), 0, 0, 0)

	sources := &sourceStub{}
	env, _ := newTurnEnv(t, classified("wellstar", retrieval.IntentDateOrContract), sources)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t8", SessionID: "s1", UserID: "u1", RawQuery: "renewal date?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TurnResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, TurnFailed, out.Status)
	assert.Contains(t, out.ErrorMsg, "no routing rule")
	assert.Empty(t, sources.calls, "a policy gap must never trigger an unrestricted search")
}

func TestTurnWorkflowRecordsSessionTurn(t *testing.T) {
	sources := &sourceStub{results: map[retrieval.SourceID][]retrieval.Result{
		retrieval.SourceCRM: {result(retrieval.SourceCRM, "https://crm.example.com/opp/1", 0.9)},
	}}
	env, captures := newTurnEnv(t, classified("wellstar", retrieval.IntentDateOrContract), sources)

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{TurnID: "t9", SessionID: "s1", UserID: "u1", RawQuery: "renewal date?"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	captures.mu.Lock()
	defer captures.mu.Unlock()
	require.Len(t, captures.turns, 1)
	assert.Equal(t, "t9", captures.turns[0].TurnID)
	assert.Contains(t, captures.turns[0].Satisfied, retrieval.IntentDateOrContract)
	require.Len(t, captures.rows, 1)
	assert.Equal(t, TurnCompleted, captures.rows[0].Status)
	assert.Equal(t, "wellstar", captures.rows[0].AccountEntity)
}
