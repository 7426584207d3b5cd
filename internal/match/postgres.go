package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists match records in a single jsonb-backed table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the matches table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS matches (
			match_id   TEXT PRIMARY KEY,
			state      JSONB NOT NULL,
			state_id   BIGINT NOT NULL DEFAULT 0,
			metadata   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("migrate matches table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, record *Record) error {
	meta, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO matches (match_id, state, state_id, metadata) VALUES ($1, $2, $3, $4)`,
		record.MatchID, record.State, record.StateID, meta)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", record.MatchID, err)
	}
	return nil
}

func (s *PostgresStore) Fetch(ctx context.Context, matchID string) (*Record, error) {
	record := &Record{MatchID: matchID}
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state, state_id, metadata FROM matches WHERE match_id = $1`,
		matchID).Scan(&record.State, &record.StateID, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch match %s: %w", matchID, err)
	}
	if err := json.Unmarshal(meta, &record.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for match %s: %w", matchID, err)
	}
	return record, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, matchID string, state json.RawMessage, stateID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET state = $2, state_id = $3, updated_at = now() WHERE match_id = $1`,
		matchID, state, stateID)
	if err != nil {
		return fmt.Errorf("save state for match %s: %w", matchID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveMetadata(ctx context.Context, matchID string, meta Metadata) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET metadata = $2, updated_at = now() WHERE match_id = $1`,
		matchID, encoded)
	if err != nil {
		return fmt.Errorf("save metadata for match %s: %w", matchID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, matchID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM matches WHERE match_id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("delete match %s: %w", matchID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
