// Package typing keeps a platform "typing..." indicator alive while a reply
// is being produced.
package typing

import (
	"log/slog"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration stops the indicator even if Stop is never called (0 = 60s).
	MaxDuration time.Duration
	// KeepaliveInterval re-sends the indicator before the platform expires it.
	KeepaliveInterval time.Duration
	// StartFn sends one typing signal.
	StartFn func() error
}

const defaultMaxDuration = 60 * time.Second

// Controller repeats StartFn every KeepaliveInterval until stopped or
// MaxDuration elapses.
type Controller struct {
	opts     Options
	stop     chan struct{}
	done     chan struct{}
	start    sync.Once
	stopOnce sync.Once
}

// New creates a controller. Nothing is sent until Start.
func New(opts Options) *Controller {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = defaultMaxDuration
	}
	return &Controller{
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start sends the first signal and begins the keepalive loop. Calls after
// the first are no-ops.
func (c *Controller) Start() {
	c.start.Do(func() {
		c.send()
		go c.loop()
	})
}

// Stop ends the keepalive loop. Safe to call more than once, and before Start.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed when the keepalive loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) loop() {
	defer close(c.done)

	deadline := time.NewTimer(c.opts.MaxDuration)
	defer deadline.Stop()

	var tick <-chan time.Time
	if c.opts.KeepaliveInterval > 0 {
		t := time.NewTicker(c.opts.KeepaliveInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-c.stop:
			return
		case <-deadline.C:
			slog.Debug("typing: max duration reached")
			return
		case <-tick:
			c.send()
		}
	}
}

func (c *Controller) send() {
	if c.opts.StartFn == nil {
		return
	}
	if err := c.opts.StartFn(); err != nil {
		slog.Debug("typing: signal failed", "error", err)
	}
}
