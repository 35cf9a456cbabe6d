package channels

import (
	"strings"
	"testing"
	"time"
)

func entry(sender, body string) HistoryEntry {
	return HistoryEntry{Sender: sender, Body: body}
}

func TestPendingHistoryEvictsOldest(t *testing.T) {
	h := NewPendingHistory(2)
	h.Append("c1", entry("a", "one"))
	h.Append("c1", entry("b", "two"))
	h.Append("c1", entry("c", "three"))

	got := h.Entries("c1")
	if len(got) != 2 || got[0].Body != "two" || got[1].Body != "three" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestBuildPendingHistoryContext(t *testing.T) {
	h := NewPendingHistory(10)
	h.Append("c1", entry("alice", "first"))
	h.Append("c1", entry("bob", "second"))
	h.Append("c1", entry("carol", "third"))

	got := h.BuildPendingHistoryContext("c1", 2, "current body", nil)
	want := HistoryContextMarker + "\nbob: second\ncarol: third\n\n" + CurrentMessageMarker + "\ncurrent body"
	if got != want {
		t.Fatalf("context =\n%s\nwant\n%s", got, want)
	}

	custom := h.BuildPendingHistoryContext("c1", 10, "now", func(e HistoryEntry) string {
		return "<" + e.Sender + ">"
	})
	if !strings.Contains(custom, "<alice>\n<bob>\n<carol>") {
		t.Fatalf("custom formatter not applied in order: %q", custom)
	}
}

func TestBuildPendingHistoryContextEmpty(t *testing.T) {
	tests := []struct {
		name  string
		h     *PendingHistory
		limit int
	}{
		{"no entries", NewPendingHistory(5), 5},
		{"history disabled", NewPendingHistory(0), 5},
		{"zero limit", NewPendingHistory(5), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.h.Append("other", entry("x", "y"))
			if got := tt.h.BuildPendingHistoryContext("c1", tt.limit, "body", nil); got != "body" {
				t.Fatalf("got %q, want body unchanged", got)
			}
		})
	}
}

func TestDisabledHistoryIgnoresAppend(t *testing.T) {
	h := NewPendingHistory(0)
	h.Append("c1", entry("a", "b"))
	if h.Len() != 0 {
		t.Fatal("append with limit 0 should be a no-op")
	}
}

func TestClearOnlyAffectsKey(t *testing.T) {
	h := NewPendingHistory(5)
	h.Append("c1", entry("a", "1"))
	h.Append("c2", entry("b", "2"))
	h.Clear("c1")
	if len(h.Entries("c1")) != 0 {
		t.Fatal("c1 should be empty")
	}
	if len(h.Entries("c2")) != 1 {
		t.Fatal("c2 should be untouched")
	}
}

func TestPruneIdleAndKeyCap(t *testing.T) {
	now := time.Unix(10_000, 0)
	h := NewPendingHistory(5)
	h.now = func() time.Time { return now }
	h.maxKeys = 2

	h.Append("old", entry("a", "1"))
	now = now.Add(time.Minute)
	h.Append("mid", entry("a", "2"))
	now = now.Add(time.Minute)
	h.Append("new", entry("a", "3"))

	if h.Len() != 2 || len(h.Entries("old")) != 0 {
		t.Fatalf("oldest key should have been evicted, len=%d", h.Len())
	}

	now = now.Add(30 * time.Second)
	if n := h.PruneIdle(time.Minute); n != 1 {
		t.Fatalf("PruneIdle removed %d, want 1", n)
	}
	if len(h.Entries("new")) != 1 {
		t.Fatal("recent key should survive pruning")
	}
}
