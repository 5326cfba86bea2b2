package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apiarysec/stinger/internal/engine"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// SaveTurn upserts the session rollup and appends a turn audit row.
// Tables: honeypot_sessions, honeypot_turns.
func (s *Store) SaveTurn(ctx context.Context, res engine.TurnResult) error {
	evidence, err := json.Marshal(res.Evidence.Report())
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO honeypot_sessions (session_id, turn_count, scam_confirmed, evidence, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (session_id) DO UPDATE SET
			turn_count = EXCLUDED.turn_count,
			scam_confirmed = honeypot_sessions.scam_confirmed OR EXCLUDED.scam_confirmed,
			evidence = EXCLUDED.evidence,
			last_seen_at = now()`,
		res.SessionID, res.TurnCount, res.ScamConfirmed, evidence,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO honeypot_turns (id, session_id, turn_number, scam_detected, scam_type, confidence, degraded, agent_reply, agent_notes, evidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		uuid.New(), res.SessionID, res.TurnCount, res.ScamDetected, res.ScamType, res.Confidence, res.Degraded, res.Reply, res.Notes, evidence,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
