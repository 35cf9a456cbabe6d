package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReload(t *testing.T) {
	path := writeFile(t, "config.json", `{agents: {defaults: {model: "one"}}}`)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	if w.Current().Agents.Defaults.Model != "one" {
		t.Fatal("initial load")
	}

	var seen []string
	w.OnChange(func(c *Config) { seen = append(seen, c.Agents.Defaults.Model) })

	if changed, err := w.Reload(); err != nil || changed {
		t.Fatalf("unchanged reload = %v, %v", changed, err)
	}

	if err := os.WriteFile(path, []byte(`{agents: {defaults: {model: "two"}}}`), 0600); err != nil {
		t.Fatal(err)
	}
	if changed, err := w.Reload(); err != nil || !changed {
		t.Fatalf("reload = %v, %v", changed, err)
	}
	if w.Current().Agents.Defaults.Model != "two" || len(seen) != 1 || seen[0] != "two" {
		t.Fatalf("current = %q, seen = %v", w.Current().Agents.Defaults.Model, seen)
	}

	if err := os.WriteFile(path, []byte(`{broken`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Reload(); err == nil {
		t.Fatal("expected parse error")
	}
	if w.Current().Agents.Defaults.Model != "two" {
		t.Fatal("bad file must keep previous config")
	}
}

func TestWatcherRunPicksUpWrites(t *testing.T) {
	path := writeFile(t, "config.json", `{agents: {defaults: {model: "one"}}}`)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	changed := make(chan string, 4)
	w.OnChange(func(c *Config) { changed <- c.Agents.Defaults.Model })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{agents: {defaults: {model: "two"}}}`), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-changed:
		if m != "two" {
			t.Fatalf("model = %q", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
