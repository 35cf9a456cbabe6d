package channels

import (
	"strings"
	"sync"
	"time"
)

// DefaultGroupHistoryLimit is the number of unanswered group messages kept
// per conversation when a channel does not configure one.
const DefaultGroupHistoryLimit = 50

// MaxHistoryKeys caps how many conversations are tracked at once; the least
// recently touched conversation is evicted first.
const MaxHistoryKeys = 1000

// Context markers wrapped around pending history.
const (
	HistoryContextMarker = "[Chat messages since your last reply - for context]"
	CurrentMessageMarker = "[Current message - respond to this]"
)

// HistoryEntry is one group message the agent has not replied to yet.
type HistoryEntry struct {
	Sender    string
	Body      string
	Timestamp time.Time
	MessageID string
}

type historyLog struct {
	entries []HistoryEntry
	touched time.Time
}

// PendingHistory keeps a bounded log of recent unanswered messages per
// conversation key. It gives the agent group context without a persisted
// transcript. Safe for concurrent use.
type PendingHistory struct {
	limit   int
	maxKeys int
	mu      sync.Mutex
	logs    map[string]*historyLog
	now     func() time.Time
}

// NewPendingHistory creates a history buffer holding up to limit entries per
// key. A limit of 0 disables history entirely.
func NewPendingHistory(limit int) *PendingHistory {
	if limit < 0 {
		limit = 0
	}
	return &PendingHistory{
		limit:   limit,
		maxKeys: MaxHistoryKeys,
		logs:    make(map[string]*historyLog),
		now:     time.Now,
	}
}

// Limit returns the per-key entry cap.
func (h *PendingHistory) Limit() int { return h.limit }

// Append adds entry at the tail of key's log, evicting the oldest entries
// beyond the limit.
func (h *PendingHistory) Append(key string, entry HistoryEntry) {
	if h.limit == 0 || key == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	log, ok := h.logs[key]
	if !ok {
		if len(h.logs) >= h.maxKeys {
			h.evictOldestLocked()
		}
		log = &historyLog{}
		h.logs[key] = log
	}
	log.entries = append(log.entries, entry)
	if over := len(log.entries) - h.limit; over > 0 {
		log.entries = append([]HistoryEntry(nil), log.entries[over:]...)
	}
	log.touched = h.now()
}

// Entries returns a copy of key's log, oldest first.
func (h *PendingHistory) Entries(key string) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	log, ok := h.logs[key]
	if !ok {
		return nil
	}
	return append([]HistoryEntry(nil), log.entries...)
}

// BuildPendingHistoryContext renders up to limit of key's most recent
// entries (oldest first) through formatEntry and places them ahead of the
// current message. Without entries the current body is returned unchanged.
// A nil formatEntry renders "sender: body".
func (h *PendingHistory) BuildPendingHistoryContext(key string, limit int, current string, formatEntry func(HistoryEntry) string) string {
	if limit <= 0 || h.limit == 0 {
		return current
	}
	entries := h.Entries(key)
	if len(entries) == 0 {
		return current
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if formatEntry == nil {
		formatEntry = func(e HistoryEntry) string { return e.Sender + ": " + e.Body }
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, formatEntry(e))
	}
	var b strings.Builder
	b.WriteString(HistoryContextMarker)
	b.WriteString("\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
	b.WriteString(CurrentMessageMarker)
	b.WriteString("\n")
	b.WriteString(current)
	return b.String()
}

// Clear empties key's log. Callers clear only after a reply was actually
// queued for the turn that consumed the history.
func (h *PendingHistory) Clear(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.logs, key)
}

// Len returns the number of tracked keys.
func (h *PendingHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.logs)
}

// PruneIdle drops keys not appended to for longer than maxIdle and returns
// how many were removed.
func (h *PendingHistory) PruneIdle(maxIdle time.Duration) int {
	cutoff := h.now().Add(-maxIdle)
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for key, log := range h.logs {
		if log.touched.Before(cutoff) {
			delete(h.logs, key)
			removed++
		}
	}
	return removed
}

func (h *PendingHistory) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, log := range h.logs {
		if oldestKey == "" || log.touched.Before(oldest) {
			oldestKey, oldest = key, log.touched
		}
	}
	if oldestKey != "" {
		delete(h.logs, oldestKey)
	}
}
