// Package merge assembles per-intent source results into a single
// citation-preserving context bundle. Merging is pure: identical input
// always yields an identical bundle.
package merge

import (
	"sort"
	"strings"

	"github.com/meridianhq/accountintel/internal/policy"
	"github.com/meridianhq/accountintel/internal/retrieval"
)

// DefaultConfidenceFloor drops weak results when stronger evidence exists
// for the same intent.
const DefaultConfidenceFloor = 0.35

// Merger deduplicates, orders, and floors results per intent.
type Merger struct {
	table *policy.Table
	floor float64
}

// New creates a merger. A floor <= 0 selects the default.
func New(table *policy.Table, floor float64) *Merger {
	if floor <= 0 {
		floor = DefaultConfidenceFloor
	}
	return &Merger{table: table, floor: floor}
}

// Merge builds the bundle for one turn. requested is the full intent set of
// the turn; intents with no surviving results are recorded in Missing so the
// satisfied and missing sets always partition the request.
func (m *Merger) Merge(requested []retrieval.FactIntent, results map[retrieval.FactIntent][]retrieval.Result) retrieval.ContextBundle {
	bundle := retrieval.ContextBundle{}

	for _, intent := range requested {
		merged := m.mergeIntent(intent, results[intent])
		if len(merged) == 0 {
			bundle.Missing = append(bundle.Missing, intent)
			continue
		}
		bundle.Entries = append(bundle.Entries, retrieval.IntentResults{
			Intent:  intent,
			Results: merged,
		})
	}
	return bundle
}

func (m *Merger) mergeIntent(intent retrieval.FactIntent, in []retrieval.Result) []retrieval.Result {
	if len(in) == 0 {
		return nil
	}

	// Dedup by normalized citation URL, keeping the highest confidence.
	byURL := make(map[string]retrieval.Result, len(in))
	order := make([]string, 0, len(in))
	for _, r := range in {
		key := normalizeURL(r.Citation.URL)
		if key == "" {
			continue
		}
		prev, seen := byURL[key]
		if !seen {
			byURL[key] = r
			order = append(order, key)
			continue
		}
		if r.Confidence > prev.Confidence {
			byURL[key] = r
		}
	}

	merged := make([]retrieval.Result, 0, len(order))
	for _, key := range order {
		merged = append(merged, byURL[key])
	}

	// Descending confidence; ties broken by the intent's source priority,
	// then URL for determinism.
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		ri := m.table.SourceRank(intent, merged[i].Source)
		rj := m.table.SourceRank(intent, merged[j].Source)
		if ri != rj {
			return ri < rj
		}
		return merged[i].Citation.URL < merged[j].Citation.URL
	})

	// Apply the confidence floor, but never empty an intent: when only
	// sub-floor evidence exists, keep it and flag it low-confidence.
	above := merged[:0:0]
	for _, r := range merged {
		if r.Confidence >= m.floor {
			above = append(above, r)
		}
	}
	if len(above) > 0 {
		return above
	}
	flagged := make([]retrieval.Result, len(merged))
	for i, r := range merged {
		r.LowConfidence = true
		flagged[i] = r
	}
	return flagged
}

func normalizeURL(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	url = strings.TrimSuffix(url, "/")
	return strings.ToLower(url)
}
