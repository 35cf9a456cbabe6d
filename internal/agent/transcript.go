package agent

import (
	"sync"

	"github.com/nextlevelbuilder/clawrelay/internal/providers"
)

// DefaultTranscriptMessages caps the messages remembered per session.
const DefaultTranscriptMessages = 200

// Transcripts keeps recent user/assistant exchanges per session key in
// memory. A nil *Transcripts remembers nothing.
type Transcripts struct {
	mu       sync.Mutex
	max      int
	sessions map[string][]providers.Message
}

func NewTranscripts(maxMessages int) *Transcripts {
	if maxMessages <= 0 {
		maxMessages = DefaultTranscriptMessages
	}
	return &Transcripts{max: maxMessages, sessions: make(map[string][]providers.Message)}
}

// Append records messages for a session, dropping the oldest beyond the cap.
func (t *Transcripts) Append(key string, msgs ...providers.Message) {
	if t == nil || key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	all := append(t.sessions[key], msgs...)
	if over := len(all) - t.max; over > 0 {
		all = append([]providers.Message(nil), all[over:]...)
	}
	t.sessions[key] = all
}

// Recent returns a copy of the session's messages limited to the last
// turns user turns (0 = everything kept).
func (t *Transcripts) Recent(key string, turns int) []providers.Message {
	if t == nil || key == "" {
		return nil
	}
	t.mu.Lock()
	msgs := limitHistoryTurns(t.sessions[key], turns)
	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	t.mu.Unlock()
	return out
}

// Reset forgets a session.
func (t *Transcripts) Reset(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.sessions, key)
	t.mu.Unlock()
}

// limitHistoryTurns keeps only the last N user turns (and their assistant
// messages). A turn is one user message plus everything up to the next one.
func limitHistoryTurns(msgs []providers.Message, limit int) []providers.Message {
	if limit <= 0 || len(msgs) == 0 {
		return msgs
	}

	userCount := 0
	lastUserIndex := len(msgs)

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			userCount++
			if userCount > limit {
				return msgs[lastUserIndex:]
			}
			lastUserIndex = i
		}
	}

	return msgs
}
