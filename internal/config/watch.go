package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
)

const reloadDebounce = 300 * time.Millisecond

// Watcher holds the live config and reloads it when the file changes.
// Readers call Current; a reload swaps the pointer so a reader never sees
// a half-applied config.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	hash    string

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewWatcher loads path and returns a watcher seeded with the result.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, hash: cfg.Hash()}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// OnChange registers fn to be called after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Reload re-reads the file. A parse error keeps the previous config.
// It reports whether the config actually changed.
func (w *Watcher) Reload() (bool, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return false, err
	}
	h := cfg.Hash()
	w.mu.Lock()
	if h == w.hash {
		w.mu.Unlock()
		return false, nil
	}
	w.hash = h
	w.current.Store(cfg)
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return true, nil
}

// Run watches the config file's directory until ctx is done. Editors that
// replace the file by rename are handled by watching the parent directory.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	reload := bus.NewDebouncer(reloadDebounce, func(_ string, _ struct{}) {
		changed, err := w.Reload()
		switch {
		case err != nil:
			slog.Warn("config reload failed, keeping previous", "path", w.path, "error", err)
		case changed:
			slog.Info("config reloaded", "path", w.path)
		}
	})
	defer reload.Stop()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				reload.Schedule(target, struct{}{})
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
