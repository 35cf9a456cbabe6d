package reply

import (
	"context"
	"math/rand/v2"
	"time"
)

// HumanDelayMode selects reply pacing.
type HumanDelayMode string

const (
	HumanDelayOff     HumanDelayMode = "off"
	HumanDelayNatural HumanDelayMode = "natural"
	HumanDelayCustom  HumanDelayMode = "custom"
)

// Natural pacing bounds.
const (
	NaturalDelayMin = 800 * time.Millisecond
	NaturalDelayMax = 2500 * time.Millisecond
)

// HumanDelay configures the pause before the first delivery of a turn and
// between consecutive blocks.
type HumanDelay struct {
	Mode HumanDelayMode
	Min  time.Duration // custom mode only
	Max  time.Duration // custom mode only
}

// Bounds returns the effective [lo, hi] range; ok is false when pacing is off.
func (h HumanDelay) Bounds() (lo, hi time.Duration, ok bool) {
	switch h.Mode {
	case HumanDelayNatural:
		return NaturalDelayMin, NaturalDelayMax, true
	case HumanDelayCustom:
		lo, hi = h.Min, h.Max
		if lo < 0 {
			lo = 0
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		if hi <= 0 {
			return 0, 0, false
		}
		return lo, hi, true
	default:
		return 0, 0, false
	}
}

// Pick returns a random delay within the bounds, or 0 when pacing is off.
func (h HumanDelay) Pick() time.Duration {
	lo, hi, ok := h.Bounds()
	if !ok {
		return 0
	}
	if hi == lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
