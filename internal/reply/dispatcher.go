package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawrelay/internal/chunker"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/clawrelay/internal/reply")

// DeliverFunc sends one unit to the channel. Each call is one externally
// visible attempt.
type DeliverFunc func(ctx context.Context, p Payload, kind Kind) error

// Options configure a Dispatcher.
type Options struct {
	// Deliver is required.
	Deliver DeliverFunc
	// OnError receives delivery failures tagged with the unit kind.
	OnError func(err error, kind Kind)
	// OnReplyStart fires once, before the first visible output of the turn.
	OnReplyStart func(ctx context.Context) error
	// OnIdle fires once when the turn reaches its terminal state.
	OnIdle func()

	HumanDelay HumanDelay
	// ResponsePrefix is prepended to every delivered text; template
	// variables resolve against Prefix.
	ResponsePrefix string
	Prefix         *PrefixContext

	// Draft, when set, receives live previews built from Partial events.
	Draft      DraftStream
	StreamMode StreamMode
	// DraftChunking throttles block-mode previews to chunk boundaries.
	DraftChunking *chunker.Limits
	// ReasoningInDraft shows Reasoning events in the draft preview.
	ReasoningInDraft bool

	// BlockCoalescing merges small blocks into channel-sized units before
	// delivery. Nil delivers every block as it arrives.
	BlockCoalescing *chunker.Limits

	// Sleep overrides the human-delay wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Counts tallies units queued for delivery in a turn.
type Counts struct {
	Final int
	Block int
}

// Result is the terminal state of a turn.
type Result struct {
	// QueuedFinal is true when the turn produced a reply. Callers must not
	// clear conversation history when it is false.
	QueuedFinal bool
	Counts      Counts
	Prefix      PrefixValues
}

// Dispatcher drives one agent turn's event stream to delivery.
type Dispatcher struct {
	opts Options
}

// NewDispatcher validates options and fills defaults.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Deliver == nil {
		return nil, fmt.Errorf("reply dispatcher: Deliver is required")
	}
	if opts.Prefix == nil {
		opts.Prefix = NewPrefixContext("")
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.StreamMode == "" {
		opts.StreamMode = StreamPartial
	}
	return &Dispatcher{opts: opts}, nil
}

// Prefix returns the dispatcher's prefix cell.
func (d *Dispatcher) Prefix() *PrefixContext { return d.opts.Prefix }

// turnState is scoped to a single Run.
type turnState struct {
	opts Options

	started     bool
	delivered   int
	counts      Counts
	finalSeen   bool
	finalQueued bool
	draft       *draftState
	coalescer   *chunker.BlockChunker
	lastReplyTo string
}

// Run consumes events until Final, stream exhaustion or ctx cancellation
// and returns the turn's result. Units are delivered one at a time in event
// order. Events arriving after Final are drained and ignored; the producer
// must close the channel when it is done.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) Result {
	ctx, span := tracer.Start(ctx, "reply.dispatch")
	defer span.End()

	t := &turnState{opts: d.opts}
	if d.opts.Draft != nil {
		t.draft = newDraftState(d.opts.Draft, d.opts.StreamMode, d.opts.DraftChunking)
	}
	if d.opts.BlockCoalescing != nil {
		t.coalescer = chunker.New(*d.opts.BlockCoalescing)
	}

	res := t.loop(ctx, events)

	span.SetAttributes(
		attribute.Bool("reply.queued_final", res.QueuedFinal),
		attribute.Int("reply.blocks", res.Counts.Block),
		attribute.Int("reply.finals", res.Counts.Final),
		attribute.String("reply.model", res.Prefix.ModelFull),
	)
	return res
}

func (t *turnState) loop(ctx context.Context, events <-chan Event) Result {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("reply dispatch cancelled", "error", ctx.Err())
			go drain(events)
			return t.finish()
		case ev, ok := <-events:
			if !ok {
				return t.finish()
			}
			if done := t.handle(ctx, ev); done {
				go drain(events)
				return t.finish()
			}
		}
	}
}

// handle applies one event and reports whether the turn is complete.
func (t *turnState) handle(ctx context.Context, ev Event) bool {
	switch e := ev.(type) {
	case Partial:
		if t.draft != nil && t.draft.onPartial(e.Text) {
			t.signalStart(ctx)
		}
	case Reasoning:
		if t.draft != nil && t.opts.ReasoningInDraft && e.Text != "" {
			t.signalStart(ctx)
			t.draft.stream.Update(e.Text)
		}
	case ModelSelected:
		t.opts.Prefix.Apply(e)
	case Block:
		t.onBlock(ctx, e.Payload)
	case Final:
		t.onFinal(ctx, e.Payload)
		return true
	case nil:
	default:
		slog.Warn("reply dispatch: unexpected event type", "type", fmt.Sprintf("%T", ev))
	}
	return false
}

func (t *turnState) onBlock(ctx context.Context, p Payload) {
	if t.coalescer == nil || len(p.MediaURLs) > 0 {
		t.flushCoalescer(ctx, false)
		t.deliver(ctx, p, KindBlock)
		return
	}
	if p.ReplyToID != "" {
		t.lastReplyTo = p.ReplyToID
	}
	if t.coalescer.HasBuffered() {
		t.coalescer.Append("\n\n")
	}
	t.coalescer.Append(p.Text)
	t.flushCoalescer(ctx, false)
}

func (t *turnState) flushCoalescer(ctx context.Context, force bool) {
	if t.coalescer == nil || !t.coalescer.HasBuffered() {
		return
	}
	var chunks []string
	t.coalescer.Drain(force, func(s string) { chunks = append(chunks, s) })
	for _, c := range chunks {
		t.deliver(ctx, Payload{Text: c, ReplyToID: t.lastReplyTo}, KindBlock)
	}
}

func (t *turnState) onFinal(ctx context.Context, p Payload) {
	t.finalSeen = true
	t.flushCoalescer(ctx, true)
	if t.draft != nil {
		if err := t.draft.flush(ctx); err != nil {
			slog.Debug("draft flush failed", "error", err)
		}
		t.draft.stop()
	}
	if t.deliver(ctx, p, KindFinal) {
		t.finalQueued = true
	}
}

// finish settles the terminal state. A turn whose Final carried nothing
// still counts as a reply when blocks were delivered before it.
func (t *turnState) finish() Result {
	if t.draft != nil {
		t.draft.stop()
	}
	if t.opts.OnIdle != nil {
		t.opts.OnIdle()
	}
	return Result{
		QueuedFinal: t.finalQueued || (t.finalSeen && t.counts.Block > 0),
		Counts:      t.counts,
		Prefix:      t.opts.Prefix.Snapshot(),
	}
}

// signalStart fires OnReplyStart once.
func (t *turnState) signalStart(ctx context.Context) {
	if t.started {
		return
	}
	t.started = true
	if t.opts.OnReplyStart == nil {
		return
	}
	if err := t.opts.OnReplyStart(ctx); err != nil {
		slog.Debug("reply start signal failed", "error", err)
	}
}

// normalize applies silence detection and the response prefix. It returns
// false when nothing is left to send.
func (t *turnState) normalize(p Payload) (Payload, bool) {
	if IsSilentReply(p.Text) {
		p.Text = ""
	}
	if strings.TrimSpace(p.Text) == "" {
		p.Text = ""
	}
	if p.IsEmpty() {
		return p, false
	}
	if t.opts.ResponsePrefix != "" && p.Text != "" {
		prefix := ResolvePrefixTemplate(t.opts.ResponsePrefix, t.opts.Prefix.Snapshot())
		if prefix != "" && !strings.HasPrefix(p.Text, prefix) {
			p.Text = prefix + " " + p.Text
		}
	}
	return p, true
}

// deliver sends one unit and reports whether it was queued. Failures go to
// OnError and never stop the turn.
func (t *turnState) deliver(ctx context.Context, p Payload, kind Kind) bool {
	p, ok := t.normalize(p)
	if !ok {
		return false
	}
	t.signalStart(ctx)
	t.pace(ctx, kind)

	switch kind {
	case KindFinal:
		t.counts.Final++
	case KindBlock:
		t.counts.Block++
	}

	ctx, span := tracer.Start(ctx, "reply.deliver", trace.WithAttributes(
		attribute.String("reply.kind", string(kind)),
		attribute.Int("reply.text_len", len(p.Text)),
		attribute.Int("reply.media", len(p.MediaURLs)),
	))
	defer span.End()

	err := t.opts.Deliver(ctx, p, kind)
	t.delivered++
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if t.opts.OnError != nil {
			t.opts.OnError(err, kind)
		} else {
			slog.Warn("reply delivery failed", "kind", kind, "error", err)
		}
	}
	return true
}

// pace waits the human delay before the first unit and between blocks.
func (t *turnState) pace(ctx context.Context, kind Kind) {
	if t.delivered > 0 && kind != KindBlock {
		return
	}
	d := t.opts.HumanDelay.Pick()
	if d <= 0 {
		return
	}
	if err := t.opts.Sleep(ctx, d); err != nil {
		slog.Debug("human delay interrupted", "error", err)
	}
}

func drain(events <-chan Event) {
	for range events {
	}
}
