package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	b := NewSessionBackend()
	state, err := b.Load(context.Background(), filepath.Join(t.TempDir(), "nope", "sessions.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state) != 0 {
		t.Fatalf("state = %v, want empty", state)
	}
}

func TestSaveLoadPreservesUnknownFields(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agents", "default", "sessions", "sessions.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	raw := `{"agent:default:discord:direct:1":{"sessionId":"s1","updatedAt":5,"modelOverride":"m","customFlag":{"a":1}}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewSessionBackend()
	state, err := b.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec := state["agent:default:discord:direct:1"]
	if rec == nil || rec.SessionID != "s1" || rec.ModelOverride != "m" {
		t.Fatalf("record = %+v", rec)
	}
	rec.Label = "renamed"
	if err := b.Save(ctx, path, state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("saved file is not valid JSON: %v", err)
	}
	fields := decoded["agent:default:discord:direct:1"]
	var flag map[string]int
	if err := json.Unmarshal(fields["customFlag"], &flag); err != nil || flag["a"] != 1 {
		t.Fatalf("unknown field lost: %s", data)
	}
	if string(fields["label"]) != `"renamed"` {
		t.Fatalf("label not written: %s", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.json")
	b := NewSessionBackend()
	if err := b.Save(ctx, path, store.SessionState{"k": {SessionID: "s"}}); err != nil {
		t.Fatal(err)
	}
	rec, err := b.Get(ctx, path, "other")
	if err != nil || rec != nil {
		t.Fatalf("Get = %+v, %v; want nil, nil", rec, err)
	}
	rec, err = b.Get(ctx, path, "k")
	if err != nil || rec == nil || rec.SessionID != "s" {
		t.Fatalf("Get = %+v, %v", rec, err)
	}
}
