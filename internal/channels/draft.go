package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawrelay/internal/reply"
)

// DraftSurface is the platform side of an edit-in-place preview.
type DraftSurface interface {
	Post(ctx context.Context, text string) (messageID string, err error)
	Edit(ctx context.Context, messageID, text string) error
	Delete(ctx context.Context, messageID string) error
}

// DraftOptions tunes an EditDraft.
type DraftOptions struct {
	MinInterval time.Duration // minimum gap between edits (default 1s)
	MaxChars    int           // preview is cut to this many runes (0 = no limit)
	Label       string        // log label, e.g. "telegram"
}

const (
	defaultDraftInterval = time.Second
	draftDeleteTimeout   = 5 * time.Second
)

// EditDraft shows a reply preview by posting one message and editing it as
// text arrives. Edits are throttled; Flush pushes the latest text at once.
// Stop deletes the preview message.
type EditDraft struct {
	surface  DraftSurface
	limiter  *rate.Limiter
	maxChars int
	label    string

	mu      sync.Mutex
	latest  string
	stopped bool

	pushMu    sync.Mutex
	sent      string
	messageID string

	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ reply.DraftStream = (*EditDraft)(nil)

// NewEditDraft starts the edit loop. It ends when ctx is done or Stop is called.
func NewEditDraft(ctx context.Context, surface DraftSurface, opts DraftOptions) *EditDraft {
	interval := opts.MinInterval
	if interval <= 0 {
		interval = defaultDraftInterval
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d := &EditDraft{
		surface:  surface,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		maxChars: opts.MaxChars,
		label:    opts.Label,
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go d.loop(loopCtx)
	return d
}

// Update records the latest preview text and wakes the edit loop.
func (d *EditDraft) Update(text string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.latest = truncateRunes(text, d.maxChars)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Flush pushes the latest text without waiting for the throttle.
func (d *EditDraft) Flush(ctx context.Context) error {
	return d.push(ctx)
}

// Stop ends the edit loop and deletes the preview message, if one was posted.
func (d *EditDraft) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		d.cancel()
		<-d.done

		d.pushMu.Lock()
		id := d.messageID
		d.messageID = ""
		d.pushMu.Unlock()
		if id == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), draftDeleteTimeout)
		defer cancel()
		if err := d.surface.Delete(ctx, id); err != nil {
			slog.Debug("draft: delete preview failed", "channel", d.label, "message_id", id, "error", err)
		}
	})
}

// MessageID returns the preview message ID ("" before the first push).
func (d *EditDraft) MessageID() string {
	d.pushMu.Lock()
	defer d.pushMu.Unlock()
	return d.messageID
}

func (d *EditDraft) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.push(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("draft: preview update failed", "channel", d.label, "error", err)
		}
	}
}

func (d *EditDraft) push(ctx context.Context) error {
	d.pushMu.Lock()
	defer d.pushMu.Unlock()

	d.mu.Lock()
	text := d.latest
	d.mu.Unlock()
	if text == "" || text == d.sent {
		return nil
	}

	if d.messageID == "" {
		id, err := d.surface.Post(ctx, text)
		if err != nil {
			return err
		}
		d.messageID = id
	} else if err := d.surface.Edit(ctx, d.messageID, text); err != nil {
		return err
	}
	d.sent = text
	return nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
