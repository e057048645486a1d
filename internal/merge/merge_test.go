package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/accountintel/internal/policy"
	"github.com/meridianhq/accountintel/internal/retrieval"
)

func result(src retrieval.SourceID, url string, conf float64) retrieval.Result {
	return retrieval.Result{
		Source:     src,
		Snippet:    "snippet for " + url,
		Confidence: conf,
		Citation:   retrieval.Citation{URL: url, Title: url},
	}
}

func TestMergeDeduplicatesByURLKeepingHighestConfidence(t *testing.T) {
	m := New(policy.Default(), 0)

	bundle := m.Merge(
		[]retrieval.FactIntent{retrieval.IntentStrategy},
		map[retrieval.FactIntent][]retrieval.Result{
			retrieval.IntentStrategy: {
				result(retrieval.SourceDocuments, "https://docs.example.com/qbr", 0.6),
				result(retrieval.SourceCalls, "https://docs.example.com/qbr/", 0.8),
				result(retrieval.SourceCalls, "https://docs.example.com/QBR?utm=x", 0.5),
			},
		},
	)

	got := bundle.ResultsFor(retrieval.IntentStrategy)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.8, got[0].Confidence, 1e-9)
	assert.NoError(t, bundle.Validate())
}

func TestMergeDeduplicatesSlashBeforeQueryString(t *testing.T) {
	m := New(policy.Default(), 0)

	// A trailing slash hidden behind a query string still collapses onto
	// the bare URL.
	bundle := m.Merge(
		[]retrieval.FactIntent{retrieval.IntentStrategy},
		map[retrieval.FactIntent][]retrieval.Result{
			retrieval.IntentStrategy: {
				result(retrieval.SourceDocuments, "https://docs.example.com/plan/?q=1", 0.6),
				result(retrieval.SourceCalls, "https://docs.example.com/plan", 0.8),
			},
		},
	)

	got := bundle.ResultsFor(retrieval.IntentStrategy)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.8, got[0].Confidence, 1e-9)
}

func TestMergeOrdersByConfidenceThenSourcePriority(t *testing.T) {
	m := New(policy.Default(), 0)

	bundle := m.Merge(
		[]retrieval.FactIntent{retrieval.IntentStrategy},
		map[retrieval.FactIntent][]retrieval.Result{
			retrieval.IntentStrategy: {
				result(retrieval.SourceCalls, "https://calls.example.com/1", 0.7),
				result(retrieval.SourceDocuments, "https://docs.example.com/1", 0.7),
				result(retrieval.SourceCalls, "https://calls.example.com/2", 0.9),
			},
		},
	)

	got := bundle.ResultsFor(retrieval.IntentStrategy)
	require.Len(t, got, 3)
	assert.Equal(t, "https://calls.example.com/2", got[0].Citation.URL)
	// Ties at 0.7: documents outranks calls for the strategy intent.
	assert.Equal(t, retrieval.SourceDocuments, got[1].Source)
	assert.Equal(t, retrieval.SourceCalls, got[2].Source)
}

func TestMergeFloorsOnlyWhenStrongerEvidenceExists(t *testing.T) {
	m := New(policy.Default(), 0.5)

	bundle := m.Merge(
		[]retrieval.FactIntent{retrieval.IntentMetric},
		map[retrieval.FactIntent][]retrieval.Result{
			retrieval.IntentMetric: {
				result(retrieval.SourceCRM, "https://crm.example.com/1", 0.9),
				result(retrieval.SourceDashboards, "https://bi.example.com/1", 0.2),
			},
		},
	)

	got := bundle.ResultsFor(retrieval.IntentMetric)
	require.Len(t, got, 1)
	assert.Equal(t, "https://crm.example.com/1", got[0].Citation.URL)
}

func TestMergeKeepsSoleLowConfidenceEvidenceFlagged(t *testing.T) {
	m := New(policy.Default(), 0.5)

	bundle := m.Merge(
		[]retrieval.FactIntent{retrieval.IntentMetric},
		map[retrieval.FactIntent][]retrieval.Result{
			retrieval.IntentMetric: {
				result(retrieval.SourceDashboards, "https://bi.example.com/1", 0.2),
			},
		},
	)

	got := bundle.ResultsFor(retrieval.IntentMetric)
	require.Len(t, got, 1)
	assert.True(t, got[0].LowConfidence)
	assert.Empty(t, bundle.Missing)
}

func TestMergePartitionsMissingAndSatisfied(t *testing.T) {
	m := New(policy.Default(), 0)
	requested := []retrieval.FactIntent{retrieval.IntentDateOrContract, retrieval.IntentSentiment}

	bundle := m.Merge(requested, map[retrieval.FactIntent][]retrieval.Result{
		retrieval.IntentDateOrContract: {
			result(retrieval.SourceCRM, "https://crm.example.com/opp", 0.9),
		},
	})

	assert.Equal(t, []retrieval.FactIntent{retrieval.IntentDateOrContract}, bundle.Satisfied())
	assert.Equal(t, []retrieval.FactIntent{retrieval.IntentSentiment}, bundle.Missing)

	seen := map[retrieval.FactIntent]int{}
	for _, in := range bundle.Satisfied() {
		seen[in]++
	}
	for _, in := range bundle.Missing {
		seen[in]++
	}
	for _, in := range requested {
		assert.Equal(t, 1, seen[in], "intent %s must be exactly one of satisfied or missing", in)
	}
	assert.NoError(t, bundle.Validate())
}

func TestMergeIsIdempotent(t *testing.T) {
	m := New(policy.Default(), 0.4)
	requested := []retrieval.FactIntent{retrieval.IntentStrategy, retrieval.IntentMetric}
	input := map[retrieval.FactIntent][]retrieval.Result{
		retrieval.IntentStrategy: {
			result(retrieval.SourceDocuments, "https://docs.example.com/a", 0.7),
			result(retrieval.SourceCalls, "https://calls.example.com/b", 0.7),
			result(retrieval.SourceCalls, "https://docs.example.com/a", 0.5),
		},
		retrieval.IntentMetric: {
			result(retrieval.SourceDashboards, "https://bi.example.com/1", 0.3),
		},
	}

	first := m.Merge(requested, input)
	second := m.Merge(requested, input)
	assert.Equal(t, first, second)
}
