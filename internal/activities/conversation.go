package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/meridianhq/accountintel/internal/intents"
	"github.com/meridianhq/accountintel/internal/session"
)

// GetConversationInput identifies the session one turn belongs to. A
// missing or expired session is recreated under the same ID so follow-up
// turns keep working after a restart, at the cost of lost history.
type GetConversationInput struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ConversationSnapshot is the read-only view of a session the workflow
// needs: recent turns for pronoun resolution and synthesis context.
type ConversationSnapshot struct {
	SessionID  string               `json:"session_id"`
	History    []session.TurnRecord `json:"history,omitempty"`
	LastEntity string               `json:"last_entity,omitempty"`
}

// ClassifierHistory converts the snapshot into classifier turns.
func (s ConversationSnapshot) ClassifierHistory() []intents.Turn {
	out := make([]intents.Turn, 0, len(s.History))
	for _, t := range s.History {
		out = append(out, intents.Turn{
			Query:         t.Query.RawText,
			AccountEntity: t.Query.AccountEntity,
		})
	}
	return out
}

const historyWindow = 10

// GetConversation loads (or creates) the session for a turn.
func (a *Activities) GetConversation(ctx context.Context, input GetConversationInput) (ConversationSnapshot, error) {
	logger := activity.GetLogger(ctx)

	sess, err := a.sessions.GetSession(ctx, input.SessionID)
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
		sess, err = a.sessions.CreateSessionWithID(ctx, input.SessionID, input.UserID)
		if err != nil {
			return ConversationSnapshot{}, fmt.Errorf("create session: %w", err)
		}
		logger.Info("GetConversation: created session", "session_id", sess.ID)
	} else if err != nil {
		return ConversationSnapshot{}, fmt.Errorf("get session: %w", err)
	}

	return ConversationSnapshot{
		SessionID:  sess.ID,
		History:    sess.RecentTurns(historyWindow),
		LastEntity: sess.LastAccountEntity(),
	}, nil
}

// UpdateConversationInput appends one completed turn to its session.
type UpdateConversationInput struct {
	SessionID string             `json:"session_id"`
	Turn      session.TurnRecord `json:"turn"`
}

// UpdateConversation appends the turn record. Session state is append-only;
// prior turns are never rewritten.
func (a *Activities) UpdateConversation(ctx context.Context, input UpdateConversationInput) error {
	if err := a.sessions.AppendTurn(ctx, input.SessionID, input.Turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}
