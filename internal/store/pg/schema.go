package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// RequiredSchemaVersion is the migration version this build's queries
// expect. Bump it with every new file under migrations/.
const RequiredSchemaVersion uint = 1

var (
	ErrSchemaOutdated = errors.New("session schema is outdated")
	ErrSchemaDirty    = errors.New("session schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("session schema is newer than this binary")
)

// SchemaStatus is the applied migration version compared with
// RequiredSchemaVersion.
type SchemaStatus struct {
	Current  uint
	Required uint
	Dirty    bool
}

// Err maps the status to one of the schema errors, or nil when compatible.
func (s SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return fmt.Errorf("%w at v%d; run `clawrelay migrate force %d` then `clawrelay migrate up`", ErrSchemaDirty, s.Current, s.Current-1)
	case s.Current < s.Required:
		return fmt.Errorf("%w: v%d, need v%d; run `clawrelay migrate up`", ErrSchemaOutdated, s.Current, s.Required)
	case s.Current > s.Required:
		return fmt.Errorf("%w: v%d, this build supports v%d", ErrSchemaAhead, s.Current, s.Required)
	}
	return nil
}

// CheckSchema reads golang-migrate's schema_migrations table. A missing
// table reads as version 0.
func CheckSchema(ctx context.Context, db *sql.DB) (SchemaStatus, error) {
	s := SchemaStatus{Required: RequiredSchemaVersion}
	var version int64
	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &s.Dirty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
			return s, nil
		}
		return s, fmt.Errorf("read schema version: %w", err)
	}
	s.Current = uint(version)
	return s, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
