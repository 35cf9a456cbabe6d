package reply

import (
	"context"
	"testing"
	"time"
)

func TestHumanDelayBounds(t *testing.T) {
	tests := []struct {
		name   string
		delay  HumanDelay
		lo, hi time.Duration
		ok     bool
	}{
		{"off", HumanDelay{Mode: HumanDelayOff}, 0, 0, false},
		{"unset", HumanDelay{}, 0, 0, false},
		{"natural", HumanDelay{Mode: HumanDelayNatural}, NaturalDelayMin, NaturalDelayMax, true},
		{"custom", HumanDelay{Mode: HumanDelayCustom, Min: time.Second, Max: 2 * time.Second}, time.Second, 2 * time.Second, true},
		{"custom swapped", HumanDelay{Mode: HumanDelayCustom, Min: 2 * time.Second, Max: time.Second}, time.Second, 2 * time.Second, true},
		{"custom zero", HumanDelay{Mode: HumanDelayCustom}, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, ok := tt.delay.Bounds()
			if lo != tt.lo || hi != tt.hi || ok != tt.ok {
				t.Fatalf("Bounds() = %v, %v, %v; want %v, %v, %v", lo, hi, ok, tt.lo, tt.hi, tt.ok)
			}
		})
	}
}

func TestHumanDelayPickWithinBounds(t *testing.T) {
	h := HumanDelay{Mode: HumanDelayCustom, Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for i := 0; i < 200; i++ {
		if d := h.Pick(); d < 10*time.Millisecond || d > 20*time.Millisecond {
			t.Fatalf("Pick() = %v", d)
		}
	}
	if d := (HumanDelay{}).Pick(); d != 0 {
		t.Fatalf("off Pick() = %v", d)
	}
}

func TestSleepCtxHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepCtx(ctx, time.Hour); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep ignored cancellation")
	}
}
