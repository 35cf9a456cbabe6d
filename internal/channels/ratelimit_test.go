package channels

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestOutboundLimiterPerKey(t *testing.T) {
	l := NewOutboundLimiter(0.001, 2)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst should allow two sends")
	}
	if l.Allow("a") {
		t.Fatal("third send should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("keys are independent")
	}
}

func TestOutboundLimiterUnlimited(t *testing.T) {
	l := NewOutboundLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("send %d limited", i)
		}
	}
	var nilLimiter *OutboundLimiter
	if err := nilLimiter.Wait(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
}

func TestOutboundLimiterWaitHonoursContext(t *testing.T) {
	l := NewOutboundLimiter(0.001, 1)
	l.Allow("a")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "a"); err == nil {
		t.Fatal("expected wait to fail before the next token")
	}
}

func TestOutboundLimiterCapsKeys(t *testing.T) {
	l := NewOutboundLimiter(1, 1)
	for i := 0; i < maxTrackedKeys+50; i++ {
		l.Allow(fmt.Sprintf("k%d", i))
	}
	if n := l.Len(); n > maxTrackedKeys {
		t.Fatalf("tracked %d keys", n)
	}
}
