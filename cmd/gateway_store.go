package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/clawrelay/internal/config"
	"github.com/nextlevelbuilder/clawrelay/internal/store"
	"github.com/nextlevelbuilder/clawrelay/internal/store/file"
	"github.com/nextlevelbuilder/clawrelay/internal/store/pg"
	"github.com/nextlevelbuilder/clawrelay/internal/store/sqlite"
)

// openSessionBackend opens the backend selected by sessions.backend.
func openSessionBackend(cfg *config.Config) (store.SessionBackend, error) {
	switch cfg.Sessions.Backend {
	case "", "file":
		return file.NewSessionBackend(), nil
	case "sqlite":
		path := config.ExpandHome(cfg.Database.SQLitePath)
		if path == "" {
			path = filepath.Join(cfg.StateDir(), "sessions.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		b, err := sqlite.Open(sqlite.DSNForFile(path))
		if err != nil {
			return nil, err
		}
		slog.Info("session store: sqlite", "path", path)
		return b, nil
	case "postgres", "pg":
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		status, err := pg.CheckSchema(context.Background(), db)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := status.Err(); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("session store: postgres", "schema_version", status.Current)
		return pg.NewPGSessionBackend(db), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Sessions.Backend)
	}
}
