package bus

import (
	"context"
	"testing"
	"time"
)

func TestDedupeCache(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDedupeCache(time.Minute, 2)
	c.nowFunc = func() time.Time { return now }

	if c.IsDuplicate("a") {
		t.Fatal("first sighting reported as duplicate")
	}
	if !c.IsDuplicate("a") {
		t.Fatal("second sighting not reported")
	}
	if c.IsDuplicate("") {
		t.Fatal("empty key must never be a duplicate")
	}

	now = now.Add(2 * time.Minute)
	if c.IsDuplicate("a") {
		t.Fatal("expired key reported as duplicate")
	}

	now = now.Add(time.Second)
	c.IsDuplicate("b")
	now = now.Add(time.Second)
	c.IsDuplicate("c")
	if c.Len() > 2 {
		t.Fatalf("cache grew past max: %d", c.Len())
	}
}

func TestMessageBusRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "discord", Content: "hi"})
	msg, ok := b.ConsumeInbound(context.Background())
	if !ok || msg.Content != "hi" {
		t.Fatalf("ConsumeInbound = %+v, %v", msg, ok)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.SubscribeOutbound(ctx); ok {
		t.Fatal("SubscribeOutbound should fail on cancelled context")
	}
}
