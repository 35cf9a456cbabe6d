package bus

import (
	"sync"
	"testing"
	"time"
)

type call struct {
	key string
	v   string
}

func recorder() (func(string, string), func() []call) {
	var mu sync.Mutex
	var calls []call
	return func(k, v string) {
			mu.Lock()
			calls = append(calls, call{k, v})
			mu.Unlock()
		}, func() []call {
			mu.Lock()
			defer mu.Unlock()
			return append([]call(nil), calls...)
		}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDebouncerLastPayloadWins(t *testing.T) {
	consume, calls := recorder()
	d := NewDebouncer(40*time.Millisecond, consume)

	d.Schedule("k", "p1")
	d.Schedule("k", "p2")
	d.Schedule("k", "p3")

	waitFor(t, func() bool { return len(calls()) == 1 })
	time.Sleep(80 * time.Millisecond)

	got := calls()
	if len(got) != 1 {
		t.Fatalf("expected exactly one call, got %v", got)
	}
	if got[0] != (call{"k", "p3"}) {
		t.Fatalf("call = %+v, want k/p3", got[0])
	}
	if d.Pending() != 0 {
		t.Fatalf("pending = %d after fire", d.Pending())
	}
}

func TestDebouncerKeysIndependent(t *testing.T) {
	consume, calls := recorder()
	d := NewDebouncer(30*time.Millisecond, consume)

	d.Schedule("a", "a1")
	d.Schedule("b", "b1")
	d.Schedule("a", "a2")
	d.Schedule("b", "b2")

	waitFor(t, func() bool { return len(calls()) == 2 })
	got := map[string]string{}
	for _, c := range calls() {
		got[c.key] = c.v
	}
	if got["a"] != "a2" || got["b"] != "b2" {
		t.Fatalf("calls = %v", got)
	}
}

func TestDebouncerCancel(t *testing.T) {
	consume, calls := recorder()
	d := NewDebouncer(30*time.Millisecond, consume)

	d.Schedule("k", "v")
	if !d.Cancel("k") {
		t.Fatal("Cancel should report a pending entry")
	}
	if d.Cancel("k") {
		t.Fatal("second Cancel should report nothing pending")
	}
	time.Sleep(80 * time.Millisecond)
	if n := len(calls()); n != 0 {
		t.Fatalf("consumer ran %d times after cancel", n)
	}
}

func TestDebouncerZeroWindowIsSynchronous(t *testing.T) {
	consume, calls := recorder()
	d := NewDebouncer(0, consume)
	d.Schedule("k", "now")
	if got := calls(); len(got) != 1 || got[0].v != "now" {
		t.Fatalf("calls = %v", got)
	}
}

func TestDebouncerStopFlushesPending(t *testing.T) {
	consume, calls := recorder()
	d := NewDebouncer(time.Hour, consume)
	d.Schedule("k", "pending")
	d.Stop()
	if got := calls(); len(got) != 1 || got[0].v != "pending" {
		t.Fatalf("calls = %v", got)
	}
	d.Schedule("k", "late")
	if d.Pending() != 0 {
		t.Fatal("schedule after Stop should be ignored")
	}
}

func TestInboundDebouncerMergesBurst(t *testing.T) {
	got := make(chan InboundMessage, 4)
	d := NewInboundDebouncer(30*time.Millisecond, func(m InboundMessage) { got <- m })
	defer d.Stop()

	base := InboundMessage{Channel: "telegram", ChatID: "42", SenderID: "u1"}
	first := base
	first.Content, first.MessageID = "hello", "1"
	second := base
	second.Content, second.MessageID = "are you there?", "2"
	other := base
	other.SenderID, other.Content = "u2", "different sender"

	d.Push(first)
	d.Push(other)
	d.Push(second)

	byKey := map[string]InboundMessage{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-got:
			byKey[m.SenderID] = m
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for debounced message")
		}
	}
	m := byKey["u1"]
	if m.Content != "hello\nare you there?" {
		t.Fatalf("merged content = %q", m.Content)
	}
	if m.MessageID != "2" {
		t.Fatalf("merged message ID = %q, want newest", m.MessageID)
	}
	if byKey["u2"].Content != "different sender" {
		t.Fatalf("other sender content = %q", byKey["u2"].Content)
	}
}

func TestInboundKey(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want string
	}{
		{"plain", InboundMessage{Channel: "discord", ChatID: "c", SenderID: "s"}, "discord|c|s"},
		{"thread", InboundMessage{Channel: "slack", ChatID: "c", ThreadID: "t", SenderID: "s"}, "slack|c:t|s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InboundKey(tt.msg); got != tt.want {
				t.Fatalf("InboundKey = %q, want %q", got, tt.want)
			}
		})
	}
}
