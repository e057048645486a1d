package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"

	"github.com/meridianhq/accountintel/internal/intents"
	"github.com/meridianhq/accountintel/internal/retrieval"
)

// ClassifyInput carries one raw user turn plus the conversation history the
// classifier may use for pronoun resolution.
type ClassifyInput struct {
	RawQuery string         `json:"raw_query"`
	History  []intents.Turn `json:"history,omitempty"`
}

// ClassifyOutput is the classified query. When Unresolved is set the entity
// could not be determined and Clarification holds the question to relay to
// the user instead of running any retrieval.
type ClassifyOutput struct {
	Query         retrieval.Query `json:"query"`
	Unresolved    bool            `json:"unresolved,omitempty"`
	Clarification string          `json:"clarification,omitempty"`
}

// ClassifyQuery resolves the account entity and fact intents for one turn.
// Entity resolution failure is data, not an activity error: retrying the
// classifier on the same text cannot succeed.
func (a *Activities) ClassifyQuery(ctx context.Context, input ClassifyInput) (ClassifyOutput, error) {
	logger := activity.GetLogger(ctx)

	query, err := a.classifier.Classify(input.RawQuery, input.History)
	if err != nil {
		if errors.Is(err, retrieval.ErrEntityUnresolved) {
			logger.Info("ClassifyQuery: entity unresolved", "raw_query", input.RawQuery)
			return ClassifyOutput{
				Query:         query,
				Unresolved:    true,
				Clarification: "Which account are you asking about? I couldn't match a name in your question to a known account.",
			}, nil
		}
		return ClassifyOutput{}, err
	}

	logger.Info("ClassifyQuery: classified",
		"account_entity", query.AccountEntity,
		"intents", query.Intents,
	)
	return ClassifyOutput{Query: query}, nil
}
