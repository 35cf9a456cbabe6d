package bus

import (
	"strings"
	"sync"
	"time"
)

// Debouncer coalesces bursts of payloads per key into a single call.
//
// Each Schedule for a key restarts that key's window. When the window
// elapses without another Schedule the consumer runs once with the latest
// payload (or the merged payload, when a merge function is set). Keys are
// independent and their consumers may run concurrently.
type Debouncer[T any] struct {
	window  time.Duration
	consume func(key string, v T)
	merge   func(prev, next T) T

	mu      sync.Mutex
	entries map[string]*debounceEntry[T]
	stopped bool
}

type debounceEntry[T any] struct {
	timer *time.Timer
	value T
	gen   uint64
}

// DebounceOption configures a Debouncer.
type DebounceOption[T any] func(*Debouncer[T])

// WithMerge combines a pending payload with a newer one instead of replacing it.
func WithMerge[T any](merge func(prev, next T) T) DebounceOption[T] {
	return func(d *Debouncer[T]) { d.merge = merge }
}

// NewDebouncer creates a debouncer. A non-positive window disables
// debouncing: Schedule then calls consume synchronously.
func NewDebouncer[T any](window time.Duration, consume func(key string, v T), opts ...DebounceOption[T]) *Debouncer[T] {
	d := &Debouncer[T]{
		window:  window,
		consume: consume,
		entries: make(map[string]*debounceEntry[T]),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Schedule stores v for key and (re)starts the key's window.
func (d *Debouncer[T]) Schedule(key string, v T) {
	if d.window <= 0 {
		d.consume(key, v)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	e, ok := d.entries[key]
	if !ok {
		e = &debounceEntry[T]{value: v}
		d.entries[key] = e
	} else {
		e.timer.Stop()
		if d.merge != nil {
			e.value = d.merge(e.value, v)
		} else {
			e.value = v
		}
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(d.window, func() { d.fire(key, gen) })
}

// fire runs the consumer unless the entry was superseded or cancelled
// after this timer was armed.
func (d *Debouncer[T]) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.entries, key)
	v := e.value
	d.mu.Unlock()

	d.consume(key, v)
}

// Cancel drops a pending payload without calling the consumer.
// It reports whether anything was pending.
func (d *Debouncer[T]) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(d.entries, key)
	return true
}

// Pending returns the number of keys with an open window.
func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stop halts all timers and hands every pending payload to the consumer so
// nothing accepted before shutdown is lost. Later Schedule calls are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	pending := make(map[string]T, len(d.entries))
	for key, e := range d.entries {
		e.timer.Stop()
		pending[key] = e.value
	}
	d.entries = make(map[string]*debounceEntry[T])
	d.mu.Unlock()

	for key, v := range pending {
		d.consume(key, v)
	}
}

// InboundDebouncer merges rapid messages from the same sender in the same
// conversation into one inbound turn.
type InboundDebouncer struct {
	d *Debouncer[InboundMessage]
}

// NewInboundDebouncer creates a debouncer for inbound messages.
func NewInboundDebouncer(window time.Duration, handle func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		d: NewDebouncer(window,
			func(_ string, msg InboundMessage) { handle(msg) },
			WithMerge(MergeInbound),
		),
	}
}

// Push schedules msg under its conversation key.
func (d *InboundDebouncer) Push(msg InboundMessage) {
	d.d.Schedule(InboundKey(msg), msg)
}

// Pending returns the number of open debounce windows.
func (d *InboundDebouncer) Pending() int { return d.d.Pending() }

// Stop flushes pending messages and stops accepting new ones.
func (d *InboundDebouncer) Stop() { d.d.Stop() }

// InboundKey identifies a sender within a conversation: channel|chat|sender.
func InboundKey(msg InboundMessage) string {
	chat := msg.ChatID
	if msg.ThreadID != "" {
		chat += ":" + msg.ThreadID
	}
	return msg.Channel + "|" + chat + "|" + msg.SenderID
}

// MergeInbound joins the bodies of a burst. The newest message supplies
// the reply target, timestamp and mention flag.
func MergeInbound(prev, next InboundMessage) InboundMessage {
	merged := next
	var parts []string
	for _, s := range []string{prev.Content, next.Content} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	merged.Content = strings.Join(parts, "\n")
	merged.Media = append(append([]string(nil), prev.Media...), next.Media...)
	merged.WasMentioned = prev.WasMentioned || next.WasMentioned
	if len(prev.Metadata) > 0 {
		meta := make(map[string]string, len(prev.Metadata)+len(next.Metadata))
		for k, v := range prev.Metadata {
			meta[k] = v
		}
		for k, v := range next.Metadata {
			meta[k] = v
		}
		merged.Metadata = meta
	}
	return merged
}
