package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

// ErrUnknownSessionKey is returned when a mutation targets a session key
// that is not in the store.
var ErrUnknownSessionKey = errors.New("unknown sessionKey")

// DefaultModel is the model value that clears a session's overrides.
const DefaultModel = "default"

// Mutator edits a session state in place. It may block; a non-nil error
// aborts the transaction and nothing is persisted.
type Mutator func(ctx context.Context, state store.SessionState) error

// Transact applies m to a deep copy of state. On success it returns the
// mutated copy; on failure it returns the error and the input is untouched.
func Transact(ctx context.Context, state store.SessionState, m Mutator) (store.SessionState, error) {
	next := state.Clone()
	if err := m(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Store serializes load-modify-persist transactions per store path.
// Reads do not take the write lock.
type Store struct {
	backend store.SessionBackend
	locks   sync.Map // cleaned path → *semaphore.Weighted
	now     func() time.Time
}

// NewStore wraps a persistence backend.
func NewStore(backend store.SessionBackend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// Backend returns the underlying persistence backend.
func (s *Store) Backend() store.SessionBackend { return s.backend }

func (s *Store) lockFor(path string) *semaphore.Weighted {
	l, _ := s.locks.LoadOrStore(path, semaphore.NewWeighted(1))
	return l.(*semaphore.Weighted)
}

// Update runs m as one serialized transaction on path and returns the
// persisted state. Callers for the same path queue in arrival order;
// a caller whose ctx ends while waiting gives up without running m.
func (s *Store) Update(ctx context.Context, path string, m Mutator) (store.SessionState, error) {
	path = filepath.Clean(path)
	lock := s.lockFor(path)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for session store lock: %w", err)
	}
	defer lock.Release(1)

	state, err := s.backend.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load session store: %w", err)
	}
	next, err := Transact(ctx, state, m)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Save(ctx, path, next); err != nil {
		return nil, fmt.Errorf("persist session store: %w", err)
	}
	return next, nil
}

// Load returns a snapshot of path without taking the write lock.
func (s *Store) Load(ctx context.Context, path string) (store.SessionState, error) {
	return s.backend.Load(ctx, filepath.Clean(path))
}

// ReadUpdatedAt returns when key was last updated, or the zero time when
// the key (or the store) does not exist. It never waits on writers.
func (s *Store) ReadUpdatedAt(ctx context.Context, path, key string) (time.Time, error) {
	rec, err := s.backend.Get(ctx, filepath.Clean(path), key)
	if err != nil {
		return time.Time{}, err
	}
	return rec.UpdatedTime(), nil
}

// upsert returns key's record, creating it with a fresh session ID.
func (s *Store) upsert(state store.SessionState, key string) *store.SessionRecord {
	rec, ok := state[key]
	if !ok || rec == nil {
		rec = &store.SessionRecord{SessionID: uuid.NewString()}
		state[key] = rec
	}
	return rec
}

// UpdateLastRoute records where replies for key were last delivered.
func (s *Store) UpdateLastRoute(ctx context.Context, path, key string, route store.DeliveryContext) error {
	_, err := s.Update(ctx, path, func(_ context.Context, state store.SessionState) error {
		rec := s.upsert(state, key)
		r := route
		rec.LastRoute = &r
		rec.Touch(s.now())
		return nil
	})
	return err
}

// InboundMeta is the per-turn metadata recorded for a session.
type InboundMeta struct {
	Channel  string
	ChatType string
	Label    string
}

// RecordInboundMeta upserts key with the metadata of an inbound turn.
func (s *Store) RecordInboundMeta(ctx context.Context, path, key string, meta InboundMeta) error {
	_, err := s.Update(ctx, path, func(_ context.Context, state store.SessionState) error {
		rec := s.upsert(state, key)
		if meta.Channel != "" {
			rec.Channel = meta.Channel
		}
		if meta.ChatType != "" {
			rec.ChatType = meta.ChatType
		}
		if meta.Label != "" {
			rec.Label = meta.Label
		}
		rec.Touch(s.now())
		return nil
	})
	return err
}

// ModelSelection is a per-session model override request.
// Model "default" (or empty) resets the session to the configured default.
type ModelSelection struct {
	Provider    string
	Model       string
	AuthProfile string
}

// IsDefault reports whether the selection clears overrides.
func (m ModelSelection) IsDefault() bool {
	model := strings.TrimSpace(m.Model)
	return model == "" || strings.EqualFold(model, DefaultModel)
}

// ApplyModelSelection returns a mutator that sets or clears key's overrides.
// Clearing removes the provider, model and auth-profile overrides entirely.
func ApplyModelSelection(key string, sel ModelSelection, now time.Time) Mutator {
	return func(_ context.Context, state store.SessionState) error {
		rec, ok := state[key]
		if !ok || rec == nil {
			return fmt.Errorf("%w: %s", ErrUnknownSessionKey, key)
		}
		if sel.IsDefault() {
			rec.ProviderOverride = ""
			rec.ModelOverride = ""
			rec.AuthProfileOverride = ""
			for _, k := range []string{"providerOverride", "modelOverride", "authProfileOverride"} {
				delete(rec.Extra, k)
			}
		} else {
			rec.ProviderOverride = sel.Provider
			rec.ModelOverride = sel.Model
			rec.AuthProfileOverride = sel.AuthProfile
		}
		rec.Touch(now)
		return nil
	}
}

// SetModelOverride sets or clears the model override for an existing session.
func (s *Store) SetModelOverride(ctx context.Context, path, key string, sel ModelSelection) error {
	_, err := s.Update(ctx, path, ApplyModelSelection(key, sel, s.now()))
	if err != nil {
		return err
	}
	slog.Info("session model override updated",
		"session", key, "provider", sel.Provider, "model", sel.Model, "reset", sel.IsDefault())
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
