// Package db persists completed turns for audit and reporting.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/retrieval"
)

// Recorder writes turn records to Postgres.
type Recorder struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRecorder opens a connection pool against the given DSN.
func NewRecorder(dsn string, logger *zap.Logger) (*Recorder, error) {
	database, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	database.SetMaxOpenConns(25)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(5 * time.Minute)
	return &Recorder{db: database, logger: logger}, nil
}

// NewRecorderWithDB wraps an existing connection, for tests.
func NewRecorderWithDB(database *sqlx.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: database, logger: logger}
}

// TurnRow is the persisted form of one completed turn.
type TurnRow struct {
	TurnID        string
	SessionID     string
	UserID        string
	RawQuery      string
	AccountEntity string
	Status        string
	Answer        string
	Missing       []retrieval.FactIntent
	StartedAt     time.Time
	CompletedAt   time.Time
}

// ResultRow is one merged result kept in the turn's bundle.
type ResultRow struct {
	Intent      retrieval.FactIntent
	Source      retrieval.SourceID
	CitationURL string
	Title       string
	Confidence  float64
	Broadened   bool
}

// RecordTurn inserts the turn and its merged results in one transaction.
func (r *Recorder) RecordTurn(ctx context.Context, turn TurnRow, results []ResultRow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	missing, err := json.Marshal(turn.Missing)
	if err != nil {
		return fmt.Errorf("marshal missing intents: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (
			turn_id, session_id, user_id, raw_query, account_entity,
			status, answer, missing_intents, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		turn.TurnID, turn.SessionID, turn.UserID, turn.RawQuery, turn.AccountEntity,
		turn.Status, turn.Answer, missing, turn.StartedAt, turn.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	for _, res := range results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO turn_results (
				turn_id, intent, source, citation_url, title, confidence, broadened
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			turn.TurnID, res.Intent, res.Source, res.CitationURL, res.Title, res.Confidence, res.Broadened,
		)
		if err != nil {
			return fmt.Errorf("insert turn result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}

	r.logger.Debug("recorded turn",
		zap.String("turn_id", turn.TurnID),
		zap.Int("results", len(results)),
	)
	return nil
}

// Ping verifies connectivity, for health checks.
func (r *Recorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the pool.
func (r *Recorder) Close() error {
	return r.db.Close()
}
