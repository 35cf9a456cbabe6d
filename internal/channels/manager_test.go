package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
)

type fakeChannel struct {
	*BaseChannel
	mu       sync.Mutex
	sent     []bus.OutboundMessage
	startErr error
	stopped  bool
}

func newFakeChannel(name string, r bus.MessageRouter) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, r, config.DeliveryConfig{}, 100)}
}

func (f *fakeChannel) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.SetRunning(true)
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.SetRunning(false)
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) (bus.DeliveryOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return bus.DeliveryOutcome{Channel: f.Name(), ChatID: msg.ChatID, MessageIDs: []string{"1"}}, nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestManagerDeliver(t *testing.T) {
	r := newFakeRouter()
	m := NewManager(r, nil)
	ch := newFakeChannel("discord", r)
	m.RegisterChannel("discord", ch)

	out, err := m.Deliver(context.Background(), bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out.ChatID != "c1" || len(out.MessageIDs) != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := m.Deliver(context.Background(), bus.OutboundMessage{Channel: "nope"}); err == nil {
		t.Fatal("expected unknown channel error")
	}
}

func TestManagerLifecycleAndDispatch(t *testing.T) {
	r := newFakeRouter()
	m := NewManager(r, NewOutboundLimiter(0, 1))
	good := newFakeChannel("discord", r)
	bad := newFakeChannel("telegram", r)
	bad.startErr = errors.New("bad token")
	m.RegisterChannel("discord", good)
	m.RegisterChannel("telegram", bad)

	if err := m.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error from telegram")
	}
	if !good.IsRunning() || bad.IsRunning() {
		t.Fatalf("status = %v", m.GetStatus())
	}

	r.PublishOutbound(bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "notice"})
	deadline := time.After(2 * time.Second)
	for good.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatcher did not deliver")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !good.stopped || !bad.stopped {
		t.Fatal("channels not stopped")
	}
	if got := m.GetEnabledChannels(); len(got) != 2 || got[0] != "discord" {
		t.Fatalf("enabled = %v", got)
	}
	m.UnregisterChannel("telegram")
	if _, ok := m.GetChannel("telegram"); ok {
		t.Fatal("unregister failed")
	}
}
