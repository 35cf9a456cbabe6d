// Package reply turns one agent turn's event stream into ordered channel
// deliveries: typing signal, human-like pacing, response prefix, draft
// previews and block/final handoff.
package reply

import "errors"

// ErrStreamAborted marks an agent stream that ended without a Final event.
var ErrStreamAborted = errors.New("reply stream aborted")

// Payload is one deliverable reply unit.
type Payload struct {
	Text      string
	MediaURLs []string
	ReplyToID string
}

// IsEmpty reports whether the payload carries nothing to send.
func (p Payload) IsEmpty() bool {
	return p.Text == "" && len(p.MediaURLs) == 0
}

// Kind tags a delivered unit.
type Kind string

const (
	KindBlock Kind = "block"
	KindFinal Kind = "final"
)

// Event is one item of an agent's reply stream. The set of events is
// closed: Partial, Reasoning, ModelSelected, Block and Final.
type Event interface {
	replyEvent()
}

// Partial carries the cumulative reply text produced so far.
type Partial struct {
	Text string
}

// Reasoning carries the cumulative reasoning text produced so far.
type Reasoning struct {
	Text string
}

// ModelSelected announces the model serving the turn. It may arrive more
// than once (for example after a fallback).
type ModelSelected struct {
	Provider   string
	Model      string
	ThinkLevel string
}

// Block is an intermediate reply unit ready for delivery.
type Block struct {
	Payload Payload
}

// Final ends the turn. Its payload may be empty when everything was
// already delivered as blocks.
type Final struct {
	Payload Payload
}

func (Partial) replyEvent()       {}
func (Reasoning) replyEvent()     {}
func (ModelSelected) replyEvent() {}
func (Block) replyEvent()         {}
func (Final) replyEvent()         {}
