// Package sqlite stores session state in a single SQLite database, one row
// per (store path, session key).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

// SessionBackend implements store.SessionBackend on SQLite.
type SessionBackend struct {
	db *sql.DB
}

var _ store.SessionBackend = (*SessionBackend)(nil)

// DSNForFile builds a DSN with WAL and a busy timeout for the given file.
func DSNForFile(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open opens (and migrates) a SQLite session database.
func Open(dsn string) (*SessionBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite session store: empty dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	b := &SessionBackend{db: db}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SessionBackend) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_records (
			store_path TEXT NOT NULL,
			session_key TEXT NOT NULL,
			record_json TEXT NOT NULL DEFAULT '{}',
			updated_at_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (store_path, session_key)
		);`,
		`CREATE INDEX IF NOT EXISTS session_records_by_updated ON session_records(store_path, updated_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := b.db.Exec(st); err != nil {
			return fmt.Errorf("sqlite session store: migrate: %w", err)
		}
	}
	return nil
}

func (b *SessionBackend) Load(ctx context.Context, path string) (store.SessionState, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT session_key, record_json FROM session_records WHERE store_path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	state := store.SessionState{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var rec store.SessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", key, err)
		}
		state[key] = &rec
	}
	return state, rows.Err()
}

func (b *SessionBackend) Get(ctx context.Context, path, key string) (*store.SessionRecord, error) {
	var raw string
	err := b.db.QueryRowContext(ctx,
		`SELECT record_json FROM session_records WHERE store_path = ? AND session_key = ?`,
		path, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	var rec store.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &rec, nil
}

// Save replaces every row for path inside one transaction.
func (b *SessionBackend) Save(ctx context.Context, path string, state store.SessionState) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_records WHERE store_path = ?`, path); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	for key, rec := range state {
		if rec == nil {
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_records (store_path, session_key, record_json, updated_at_ms) VALUES (?, ?, ?, ?)`,
			path, key, string(raw), rec.UpdatedAt); err != nil {
			return fmt.Errorf("insert session %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (b *SessionBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
