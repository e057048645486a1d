package policy

import (
	"github.com/meridianhq/accountintel/internal/retrieval"
)

// Route is the resolved routing plan for one intent.
type Route struct {
	Intent    retrieval.FactIntent `json:"intent"`
	Sources   []retrieval.SourceID `json:"sources"`
	Exclusive bool                 `json:"exclusive"`
}

// RouteIntents resolves each requested intent against the table. Pure
// function; the first intent without a rule aborts with PolicyGapError so
// that routing gaps are surfaced instead of silently widened.
func (t *Table) RouteIntents(intents []retrieval.FactIntent) (map[retrieval.FactIntent]Route, error) {
	routed := make(map[retrieval.FactIntent]Route, len(intents))
	for _, intent := range intents {
		rule, ok := t.rules[intent]
		if !ok {
			return nil, &PolicyGapError{Intent: intent}
		}
		sources := make([]retrieval.SourceID, len(rule.Sources))
		copy(sources, rule.Sources)
		routed[intent] = Route{
			Intent:    intent,
			Sources:   sources,
			Exclusive: rule.Exclusive,
		}
	}
	return routed, nil
}
