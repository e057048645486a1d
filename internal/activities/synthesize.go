package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/meridianhq/accountintel/internal/retrieval"
	"github.com/meridianhq/accountintel/internal/session"
)

// SynthesizeInput carries the merged context bundle plus recent history.
type SynthesizeInput struct {
	Query   retrieval.Query         `json:"query"`
	Bundle  retrieval.ContextBundle `json:"bundle"`
	History []session.TurnRecord    `json:"history,omitempty"`
}

// SynthesizeOutput is the user-visible answer.
type SynthesizeOutput struct {
	Answer string `json:"answer"`
}

// SynthesizeAnswer produces the final answer from the merged bundle. When
// every requested intent came up empty it composes the transparency reply
// locally instead of calling the synthesis service with nothing to cite.
func (a *Activities) SynthesizeAnswer(ctx context.Context, input SynthesizeInput) (SynthesizeOutput, error) {
	logger := activity.GetLogger(ctx)

	if len(input.Bundle.Satisfied()) == 0 {
		return SynthesizeOutput{Answer: missingAnswer(input.Query, input.Bundle.Missing)}, nil
	}

	answer, err := a.synthesizer.Synthesize(ctx, input.Bundle, input.History)
	if err != nil {
		return SynthesizeOutput{}, fmt.Errorf("synthesize answer: %w", err)
	}

	if len(input.Bundle.Missing) > 0 {
		answer = answer + "\n\n" + missingAnswer(input.Query, input.Bundle.Missing)
	}

	logger.Info("SynthesizeAnswer: answer produced",
		"satisfied", len(input.Bundle.Satisfied()),
		"missing", len(input.Bundle.Missing),
	)
	return SynthesizeOutput{Answer: answer}, nil
}

// missingAnswer states plainly which kinds of information were not found.
// Gaps are reported, never papered over.
func missingAnswer(query retrieval.Query, missing []retrieval.FactIntent) string {
	if len(missing) == 0 {
		return fmt.Sprintf("I could not find any information for %s matching your question.", query.AccountEntity)
	}
	names := make([]string, 0, len(missing))
	for _, m := range missing {
		names = append(names, strings.ReplaceAll(string(m), "_", " "))
	}
	return fmt.Sprintf("No information was found for: %s. The authoritative sources for these were checked and came up empty.",
		strings.Join(names, ", "))
}
