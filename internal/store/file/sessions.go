// Package file stores session state as one JSON document per store path.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

// SessionBackend implements store.SessionBackend on the local filesystem.
type SessionBackend struct{}

var _ store.SessionBackend = (*SessionBackend)(nil)

func NewSessionBackend() *SessionBackend {
	return &SessionBackend{}
}

// Load reads the whole document. A missing file is an empty state.
func (b *SessionBackend) Load(_ context.Context, path string) (store.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.SessionState{}, nil
		}
		return nil, fmt.Errorf("read session store: %w", err)
	}
	state := store.SessionState{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session store %s: %w", path, err)
	}
	for k, r := range state {
		if r == nil {
			delete(state, k)
		}
	}
	return state, nil
}

func (b *SessionBackend) Get(ctx context.Context, path, key string) (*store.SessionRecord, error) {
	state, err := b.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return state[key], nil
}

// Save writes the document atomically: temp file, fsync, rename.
func (b *SessionBackend) Save(_ context.Context, path string, state store.SessionState) error {
	if state == nil {
		state = store.SessionState{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session store dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "sessions-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace session store: %w", err)
	}
	cleanup = false
	return nil
}

func (b *SessionBackend) Close() error { return nil }
