package retrieval

import (
	"errors"
	"fmt"
	"time"
)

// FactIntent classifies what kind of information a query seeks.
type FactIntent string

const (
	IntentDateOrContract FactIntent = "date_or_contract"
	IntentContact        FactIntent = "contact"
	IntentSentiment      FactIntent = "sentiment"
	IntentStrategy       FactIntent = "strategy"
	IntentMetric         FactIntent = "metric"
	IntentGeneral        FactIntent = "general"
)

// AllIntents lists every known fact intent, in stable order.
func AllIntents() []FactIntent {
	return []FactIntent{
		IntentDateOrContract,
		IntentContact,
		IntentSentiment,
		IntentStrategy,
		IntentMetric,
		IntentGeneral,
	}
}

// SourceID identifies a knowledge source.
type SourceID string

const (
	SourceCRM        SourceID = "crm"
	SourceDocuments  SourceID = "documents"
	SourceCalls      SourceID = "calls"
	SourceEmail      SourceID = "email"
	SourceChat       SourceID = "chat"
	SourceDashboards SourceID = "dashboards"

	// SourceUnrestricted is a sentinel meaning "query every source without a
	// filter". It is reachable only through an approved fallback, never from
	// the routing table (except for the general intent).
	SourceUnrestricted SourceID = "unrestricted"
)

// ConcreteSources lists the real adapter-backed sources, excluding the
// unrestricted sentinel.
func ConcreteSources() []SourceID {
	return []SourceID{SourceCRM, SourceDocuments, SourceCalls, SourceEmail, SourceChat, SourceDashboards}
}

// EntityUnknown is the account entity assigned when resolution fails.
const EntityUnknown = "unknown"

// TimeRange constrains a query to a time window. Either bound may be zero.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Query is the classified form of one user turn. Immutable after creation.
type Query struct {
	RawText       string       `json:"raw_text"`
	AccountEntity string       `json:"account_entity"`
	Intents       []FactIntent `json:"intents"`
	TimeHint      *TimeRange   `json:"time_hint,omitempty"`
}

// HasIntent reports whether the query carries the given intent.
func (q Query) HasIntent(intent FactIntent) bool {
	for _, in := range q.Intents {
		if in == intent {
			return true
		}
	}
	return false
}

// Citation proves provenance of a retrieved fact.
type Citation struct {
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
	Author       string    `json:"author,omitempty"`

	// Broadened marks results obtained from an approved unrestricted search
	// so downstream synthesis can disclose the relaxation.
	Broadened bool `json:"broadened,omitempty"`
}

// Result is a single retrieved fact. Immutable once produced by an adapter.
type Result struct {
	Source     SourceID `json:"source"`
	Snippet    string   `json:"snippet"`
	Citation   Citation `json:"citation"`
	Confidence float64  `json:"confidence"`

	// LowConfidence is set by the merger when a sub-floor result is the only
	// evidence for its intent and is kept rather than dropped.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// IntentResults pairs an intent with its merged, ordered results.
type IntentResults struct {
	Intent  FactIntent `json:"intent"`
	Results []Result   `json:"results"`
}

// ContextBundle is the merged, citation-preserving material handed to
// synthesis. Owned by a single turn and discarded afterwards.
type ContextBundle struct {
	Entries []IntentResults `json:"entries"`
	Missing []FactIntent    `json:"missing,omitempty"`
}

// Satisfied returns the intents that carry at least one result.
func (b ContextBundle) Satisfied() []FactIntent {
	out := make([]FactIntent, 0, len(b.Entries))
	for _, e := range b.Entries {
		if len(e.Results) > 0 {
			out = append(out, e.Intent)
		}
	}
	return out
}

// ResultsFor returns the merged results for one intent, or nil.
func (b ContextBundle) ResultsFor(intent FactIntent) []Result {
	for _, e := range b.Entries {
		if e.Intent == intent {
			return e.Results
		}
	}
	return nil
}

// IsMissing reports whether the intent was recorded as missing.
func (b ContextBundle) IsMissing(intent FactIntent) bool {
	for _, m := range b.Missing {
		if m == intent {
			return true
		}
	}
	return false
}

// Validate checks bundle invariants: every result cites a URL, and no intent
// is both satisfied and missing.
func (b ContextBundle) Validate() error {
	for _, e := range b.Entries {
		for _, r := range e.Results {
			if r.Citation.URL == "" {
				return fmt.Errorf("result from %s for intent %s has no citation URL", r.Source, e.Intent)
			}
		}
		if len(e.Results) > 0 && b.IsMissing(e.Intent) {
			return fmt.Errorf("intent %s is both satisfied and missing", e.Intent)
		}
	}
	return nil
}

// FallbackState tracks one intent's fallback negotiation.
type FallbackState string

const (
	FallbackExhausted          FallbackState = "exhausted"
	FallbackAwaitingApproval   FallbackState = "awaiting_user_approval"
	FallbackApproved           FallbackState = "approved"
	FallbackDeclined           FallbackState = "declined"
	FallbackBroadened          FallbackState = "broadened"
	FallbackPermanentlyMissing FallbackState = "permanently_missing"
)

// FallbackDecision is the transient record of one fallback negotiation.
type FallbackDecision struct {
	Intent          FactIntent    `json:"intent"`
	SourceAttempted SourceID      `json:"source_attempted"`
	State           FallbackState `json:"state"`
	ApprovalID      string        `json:"approval_id,omitempty"`
	DecidedBy       string        `json:"decided_by,omitempty"`
}

// ErrEntityUnresolved is returned when an account name cannot be resolved to
// a canonical entity. Callers must surface a clarification request rather
// than guessing.
var ErrEntityUnresolved = errors.New("account entity could not be resolved")
