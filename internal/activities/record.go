package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/meridianhq/accountintel/internal/db"
	"github.com/meridianhq/accountintel/internal/metrics"
)

// RecordTurnInput is the audit record for one completed turn.
type RecordTurnInput struct {
	Turn    db.TurnRow     `json:"turn"`
	Results []db.ResultRow `json:"results,omitempty"`
}

// RecordTurn persists the turn for audit and reporting. When no recorder is
// configured the activity is a no-op so the worker can run without Postgres.
func (a *Activities) RecordTurn(ctx context.Context, input RecordTurnInput) error {
	metrics.TurnsCompleted.WithLabelValues(input.Turn.Status).Inc()
	if !input.Turn.CompletedAt.IsZero() && !input.Turn.StartedAt.IsZero() {
		metrics.TurnDuration.Observe(input.Turn.CompletedAt.Sub(input.Turn.StartedAt).Seconds())
	}
	if a.recorder == nil {
		activity.GetLogger(ctx).Debug("RecordTurn: no recorder configured, skipping",
			"turn_id", input.Turn.TurnID)
		return nil
	}
	if err := a.recorder.RecordTurn(ctx, input.Turn, input.Results); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}
