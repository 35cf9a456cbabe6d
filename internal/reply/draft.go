package reply

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nextlevelbuilder/clawrelay/internal/chunker"
)

// StreamMode selects how Partial events drive the draft preview.
type StreamMode string

const (
	// StreamPartial mirrors every partial text into the preview.
	StreamPartial StreamMode = "partial"
	// StreamBlock advances the preview only at chunk boundaries.
	StreamBlock StreamMode = "block"
	// StreamOff disables previews.
	StreamOff StreamMode = "off"
)

// DraftStream is a live, editable preview of the reply being generated.
type DraftStream interface {
	// Update replaces the preview text. It must not block on the network.
	Update(text string)
	// Flush pushes the latest text out.
	Flush(ctx context.Context) error
	// Stop ends the preview. Further updates are ignored.
	Stop()
}

// draftState derives preview text from cumulative partials.
type draftState struct {
	stream      DraftStream
	mode        StreamMode
	chunker     *chunker.BlockChunker
	lastPartial string
	text        string
	emitted     int // bytes of lastPartial released by the chunker
	stopped     bool
}

func newDraftState(stream DraftStream, mode StreamMode, limits *chunker.Limits) *draftState {
	d := &draftState{stream: stream, mode: mode}
	if mode == StreamBlock && limits != nil {
		d.chunker = chunker.New(*limits)
	}
	return d
}

// onPartial updates the preview and reports whether anything was shown.
// A partial that does not extend the previous one means the upstream
// buffer restarted: the chunker and preview text start over.
func (d *draftState) onPartial(text string) bool {
	if d.stopped || d.mode == StreamOff || text == "" || text == d.lastPartial {
		return false
	}
	if d.mode == StreamPartial {
		d.lastPartial = text
		d.stream.Update(text)
		return true
	}

	delta := text
	if strings.HasPrefix(text, d.lastPartial) {
		delta = text[len(d.lastPartial):]
	} else {
		if d.chunker != nil {
			d.chunker.Reset()
		}
		d.text = ""
		d.emitted = 0
	}
	d.lastPartial = text
	if delta == "" {
		return false
	}
	if d.chunker == nil {
		d.text = text
		d.stream.Update(d.text)
		return true
	}

	shown := false
	d.chunker.Append(delta)
	d.chunker.Drain(false, func(string) {
		d.text = d.emittedPrefix()
		d.stream.Update(d.text)
		shown = true
	})
	return shown
}

// emittedPrefix is the part of the latest partial the chunker has released.
// It never shrinks while the partial keeps growing.
func (d *draftState) emittedPrefix() string {
	cut := min(d.chunker.Consumed(), len(d.lastPartial))
	for cut > 0 && cut < len(d.lastPartial) && !utf8.RuneStart(d.lastPartial[cut]) {
		cut--
	}
	if cut <= d.emitted {
		return d.text
	}
	d.emitted = cut
	return strings.TrimRightFunc(d.lastPartial[:cut], unicode.IsSpace)
}

// flush releases whatever the chunker still holds and pushes the preview.
func (d *draftState) flush(ctx context.Context) error {
	if d.stopped {
		return nil
	}
	if d.chunker != nil && d.chunker.HasBuffered() {
		d.chunker.Drain(true, func(string) {})
		d.chunker.Reset()
		d.emitted = len(d.lastPartial)
		d.text = d.lastPartial
		if d.text != "" {
			d.stream.Update(d.text)
		}
	}
	return d.stream.Flush(ctx)
}

func (d *draftState) stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	d.stream.Stop()
}
