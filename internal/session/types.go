package session

import (
	"errors"
	"time"

	"github.com/meridianhq/accountintel/internal/retrieval"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired.
	ErrSessionExpired = errors.New("session expired")
)

// TurnRecord is one completed turn: the classified query, what the bundle
// contained, and the user-visible answer. Append-only.
type TurnRecord struct {
	TurnID    string                 `json:"turn_id"`
	Query     retrieval.Query        `json:"query"`
	Answer    string                 `json:"answer"`
	Satisfied []retrieval.FactIntent `json:"satisfied,omitempty"`
	Missing   []retrieval.FactIntent `json:"missing,omitempty"`
	Broadened []retrieval.FactIntent `json:"broadened,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Session holds one conversation's state for its lifetime. Turns are
// appended by the orchestrator only; the session is cleared on session end.
type Session struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	Turns     []TurnRecord `json:"turns"`
}

// IsExpired checks if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// RecentTurns returns the most recent turns, newest last.
func (s *Session) RecentTurns(count int) []TurnRecord {
	if len(s.Turns) <= count {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-count:]
}

// LastAccountEntity returns the account referenced by the most recent turn
// that resolved one, for pronoun resolution.
func (s *Session) LastAccountEntity() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if e := s.Turns[i].Query.AccountEntity; e != "" && e != retrieval.EntityUnknown {
			return e
		}
	}
	return ""
}
