package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

func openTestBackend(t *testing.T) *SessionBackend {
	t.Helper()
	b, err := Open(DSNForFile(filepath.Join(t.TempDir(), "sessions.db")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSaveReplacesPathState(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	first := store.SessionState{
		"a": {SessionID: "s-a", UpdatedAt: 1},
		"b": {SessionID: "s-b", UpdatedAt: 2, Extra: map[string]json.RawMessage{"x": json.RawMessage(`true`)}},
	}
	if err := b.Save(ctx, "/p1", first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Save(ctx, "/p2", store.SessionState{"a": {SessionID: "other"}}); err != nil {
		t.Fatalf("Save p2: %v", err)
	}
	if err := b.Save(ctx, "/p1", store.SessionState{"b": first["b"]}); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	state, err := b.Load(ctx, "/p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state) != 1 || state["b"] == nil || state["b"].SessionID != "s-b" {
		t.Fatalf("state = %+v", state)
	}
	if string(state["b"].Extra["x"]) != "true" {
		t.Fatalf("extra lost: %+v", state["b"].Extra)
	}

	rec, err := b.Get(ctx, "/p2", "a")
	if err != nil || rec == nil || rec.SessionID != "other" {
		t.Fatalf("Get p2 = %+v, %v", rec, err)
	}
	rec, err = b.Get(ctx, "/p1", "a")
	if err != nil || rec != nil {
		t.Fatalf("Get removed key = %+v, %v", rec, err)
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
