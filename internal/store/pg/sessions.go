package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

// PGSessionBackend implements store.SessionBackend backed by Postgres.
type PGSessionBackend struct {
	db *sql.DB
}

var _ store.SessionBackend = (*PGSessionBackend)(nil)

func NewPGSessionBackend(db *sql.DB) *PGSessionBackend {
	return &PGSessionBackend{db: db}
}

func (s *PGSessionBackend) Load(ctx context.Context, path string) (store.SessionState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_key, record FROM session_records WHERE store_path = $1`, path)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	state := store.SessionState{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var rec store.SessionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", key, err)
		}
		state[key] = &rec
	}
	return state, rows.Err()
}

func (s *PGSessionBackend) Get(ctx context.Context, path, key string) (*store.SessionRecord, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM session_records WHERE store_path = $1 AND session_key = $2`,
		path, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	var rec store.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &rec, nil
}

// Save upserts every record for path and deletes rows whose keys are no
// longer present, in one transaction.
func (s *PGSessionBackend) Save(ctx context.Context, path string, state store.SessionState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	keys := make([]string, 0, len(state))
	for key, rec := range state {
		if rec == nil {
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_records (store_path, session_key, record, updated_at_ms)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (store_path, session_key)
			 DO UPDATE SET record = EXCLUDED.record, updated_at_ms = EXCLUDED.updated_at_ms`,
			path, key, raw, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert session %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_records WHERE store_path = $1 AND NOT (session_key = ANY($2))`,
		path, keys); err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}
	return tx.Commit()
}

func (s *PGSessionBackend) Close() error {
	return s.db.Close()
}
