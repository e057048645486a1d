package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meridianhq/accountintel/internal/retrieval"
)

// Rule is one routing rule: the ordered sources an intent may consult.
// When Exclusive is set, only the first source is ever queried automatically;
// a miss must go through the fallback protocol instead of falling through.
type Rule struct {
	Sources   []retrieval.SourceID `yaml:"sources"`
	Exclusive bool                 `yaml:"exclusive"`
}

// Table is the single source of truth for which source owns which fact type.
type Table struct {
	rules map[retrieval.FactIntent]Rule
}

// PolicyGapError is returned when an intent has no routing rule. Routing must
// fail loudly rather than default to an unrestricted search.
type PolicyGapError struct {
	Intent retrieval.FactIntent
}

func (e *PolicyGapError) Error() string {
	return fmt.Sprintf("no routing rule for intent %q", e.Intent)
}

// Default returns the built-in routing table, mirroring the account
// intelligence source-of-truth rules: contractual facts and contacts live in
// the CRM exclusively, metrics come from the CRM budget records then
// dashboards, strategy from documents then call transcripts, sentiment from
// calls, chat, and email.
func Default() *Table {
	return &Table{rules: map[retrieval.FactIntent]Rule{
		retrieval.IntentDateOrContract: {Sources: []retrieval.SourceID{retrieval.SourceCRM}, Exclusive: true},
		retrieval.IntentContact:        {Sources: []retrieval.SourceID{retrieval.SourceCRM}, Exclusive: true},
		retrieval.IntentMetric:         {Sources: []retrieval.SourceID{retrieval.SourceCRM, retrieval.SourceDashboards}},
		retrieval.IntentStrategy:       {Sources: []retrieval.SourceID{retrieval.SourceDocuments, retrieval.SourceCalls}},
		retrieval.IntentSentiment:      {Sources: []retrieval.SourceID{retrieval.SourceCalls, retrieval.SourceChat, retrieval.SourceEmail}},
		retrieval.IntentGeneral:        {Sources: []retrieval.SourceID{retrieval.SourceUnrestricted}},
	}}
}

// Load reads a routing table from a YAML file. The file fully replaces the
// defaults; partial tables are rejected by validation only if an intent they
// route is malformed, not if an intent is absent (absent intents surface as
// PolicyGapError at route time).
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var raw map[retrieval.FactIntent]Rule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	t := &Table{rules: raw}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks structural invariants of the table.
func (t *Table) Validate() error {
	for intent, rule := range t.rules {
		if len(rule.Sources) == 0 {
			return fmt.Errorf("intent %q routes to no sources", intent)
		}
		for _, src := range rule.Sources {
			if src == retrieval.SourceUnrestricted && intent != retrieval.IntentGeneral {
				return fmt.Errorf("intent %q may not route to unrestricted; only %q may", intent, retrieval.IntentGeneral)
			}
			if !knownSource(src) {
				return fmt.Errorf("intent %q routes to unknown source %q", intent, src)
			}
		}
		if rule.Exclusive && len(rule.Sources) > 1 {
			return fmt.Errorf("intent %q is exclusive but lists %d sources", intent, len(rule.Sources))
		}
	}
	return nil
}

// Rule returns the rule for an intent.
func (t *Table) Rule(intent retrieval.FactIntent) (Rule, bool) {
	r, ok := t.rules[intent]
	return r, ok
}

// SourceRank returns the position of a source in the intent's priority order,
// for tie-breaking in the merger. Unknown sources rank last; broadened
// (unrestricted) results rank after every listed source.
func (t *Table) SourceRank(intent retrieval.FactIntent, src retrieval.SourceID) int {
	rule, ok := t.rules[intent]
	if !ok {
		return len(retrieval.ConcreteSources()) + 1
	}
	for i, s := range rule.Sources {
		if s == src {
			return i
		}
	}
	return len(rule.Sources) + 1
}

func knownSource(src retrieval.SourceID) bool {
	if src == retrieval.SourceUnrestricted {
		return true
	}
	for _, s := range retrieval.ConcreteSources() {
		if s == src {
			return true
		}
	}
	return false
}
