package intents

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/retrieval"
)

// Turn is the slice of conversation history the classifier needs: enough to
// resolve pronouns back to the last referenced account.
type Turn struct {
	Query         string `json:"query"`
	AccountEntity string `json:"account_entity"`
}

// Classifier maps raw user text to a retrieval.Query: one or more fact
// intents, a canonical account entity, and an optional time hint.
type Classifier struct {
	aliases *StaticAliases
	logger  *zap.Logger
	now     func() time.Time
}

// NewClassifier builds a classifier around an injected alias table.
func NewClassifier(aliases *StaticAliases, logger *zap.Logger) *Classifier {
	return &Classifier{
		aliases: aliases,
		logger:  logger,
		now:     time.Now,
	}
}

// intentKeywords drives the rule-based taxonomy. First match wins per intent;
// a query may fire several intents.
var intentKeywords = map[retrieval.FactIntent][]string{
	retrieval.IntentDateOrContract: {
		"renewal", "renew", "contract", "contracts", "expire", "expiration",
		"deal", "deals", "opportunity", "opportunities",
		"term", "terms", "signed", "close date",
	},
	retrieval.IntentContact: {
		"contact", "contacts", "stakeholder", "stakeholders",
		"champion", "champions", "decision maker", "decision makers",
		"who is", "who are", "point of contact", "sponsor", "sponsors",
	},
	retrieval.IntentSentiment: {
		"sentiment", "feel", "tone", "happy", "unhappy", "frustrated",
		"escalation", "escalations", "complaint", "complaints",
		"chatter", "said on the call",
		"recent call", "recent email", "recent emails", "slack",
	},
	retrieval.IntentStrategy: {
		"strategy", "strategic", "qbr", "account plan", "roadmap",
		"goals", "goal", "initiative", "initiatives",
		"blockers", "action items",
	},
	retrieval.IntentMetric: {
		"funding", "spend", "enrollment", "enrollments", "metric",
		"metrics", "dashboard", "cap", "usage", "funnel", "utilization",
	},
}

// riskKeywords trigger the dual-source rule: account health questions need
// both the CRM risk fields and communications sentiment.
var riskKeywords = []string{"risk", "risks", "at-risk", "health", "churn"}

var pronouns = []string{"they", "them", "their", "the account", "this account"}

// Classify produces the immutable Query for one user turn.
// When the account entity cannot be resolved, the returned Query carries
// retrieval.EntityUnknown and the error is retrieval.ErrEntityUnresolved;
// callers surface a clarification request instead of guessing.
func (c *Classifier) Classify(raw string, history []Turn) (retrieval.Query, error) {
	lower := strings.ToLower(raw)

	q := retrieval.Query{
		RawText:  raw,
		Intents:  c.classifyIntents(lower),
		TimeHint: c.extractTimeHint(lower),
	}

	entity, ok := c.resolveEntity(raw, lower, history)
	if !ok {
		q.AccountEntity = retrieval.EntityUnknown
		c.logger.Info("account entity unresolved", zap.String("query", raw))
		return q, retrieval.ErrEntityUnresolved
	}
	q.AccountEntity = entity

	c.logger.Debug("classified query",
		zap.String("entity", entity),
		zap.Any("intents", q.Intents),
	)
	return q, nil
}

func (c *Classifier) classifyIntents(lower string) []retrieval.FactIntent {
	var out []retrieval.FactIntent
	seen := make(map[retrieval.FactIntent]bool)
	add := func(in retrieval.FactIntent) {
		if !seen[in] {
			seen[in] = true
			out = append(out, in)
		}
	}

	for _, intent := range retrieval.AllIntents() {
		for _, kw := range intentKeywords[intent] {
			if containsWord(lower, kw) {
				add(intent)
				break
			}
		}
	}
	for _, kw := range riskKeywords {
		if containsWord(lower, kw) {
			// Health questions consult the CRM risk fields and the
			// communications sentiment together.
			add(retrieval.IntentDateOrContract)
			add(retrieval.IntentSentiment)
			break
		}
	}
	if len(out) == 0 {
		add(retrieval.IntentGeneral)
	}
	return out
}

func (c *Classifier) resolveEntity(raw, lower string, history []Turn) (string, bool) {
	if entity, ok := c.aliases.match(raw); ok {
		return entity, true
	}
	// Pronoun turns fall back to the last referenced account.
	for _, p := range pronouns {
		if containsWord(lower, p) {
			for i := len(history) - 1; i >= 0; i-- {
				if e := history[i].AccountEntity; e != "" && e != retrieval.EntityUnknown {
					return e, true
				}
			}
			break
		}
	}
	return "", false
}

// extractTimeHint recognizes the handful of relative ranges account managers
// actually ask for; anything else stays unconstrained.
func (c *Classifier) extractTimeHint(lower string) *retrieval.TimeRange {
	now := c.now()
	since := func(d time.Duration) *retrieval.TimeRange {
		return &retrieval.TimeRange{From: now.Add(-d), To: now}
	}

	switch {
	case strings.Contains(lower, "last week"):
		return since(7 * 24 * time.Hour)
	case strings.Contains(lower, "last month"):
		return since(30 * 24 * time.Hour)
	case strings.Contains(lower, "last quarter"):
		return since(90 * 24 * time.Hour)
	case strings.Contains(lower, "this year"):
		return &retrieval.TimeRange{From: time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), To: now}
	case strings.Contains(lower, "recent"), strings.Contains(lower, "lately"):
		return since(14 * 24 * time.Hour)
	}

	// "last N days"
	if idx := strings.Index(lower, "last "); idx >= 0 {
		fields := strings.Fields(lower[idx+len("last "):])
		if len(fields) >= 2 && strings.HasPrefix(fields[1], "day") {
			if n, err := strconv.Atoi(fields[0]); err == nil && n > 0 {
				return since(time.Duration(n) * 24 * time.Hour)
			}
		}
	}
	return nil
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		leftOK := start == 0 || !isWordChar(text[start-1])
		rightOK := end == len(text) || !isWordChar(text[end])
		if leftOK && rightOK {
			return true
		}
		idx = end
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
