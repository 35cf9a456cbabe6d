package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
)

// fakeBridge accepts one WebSocket client, records frames it receives and
// can push frames to the client.
type fakeBridge struct {
	srv      *httptest.Server
	received chan frame
	mu       sync.Mutex
	conn     *websocket.Conn
	ready    chan struct{}
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{received: make(chan frame, 16), ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		close(b.ready)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				b.received <- f
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") }

func (b *fakeBridge) push(t *testing.T, f frame) {
	t.Helper()
	<-b.ready
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.conn.WriteJSON(f); err != nil {
		t.Fatal(err)
	}
}

func TestSendAndReceive(t *testing.T) {
	bridge := newFakeBridge(t)
	msgBus := bus.New()
	ch, err := New(config.WhatsAppConfig{
		BridgeURL:      bridge.url(),
		DeliveryConfig: config.DeliveryConfig{ReplyToMode: "first", TextChunkLimit: 4000},
	}, msgBus)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Stop(context.Background())

	out, err := ch.Send(context.Background(), bus.OutboundMessage{
		ChatID:    "123@s.whatsapp.net",
		ReplyToID: "in-1",
		Content:   "hello",
		Media:     []bus.MediaAttachment{{URL: "https://x/y.png", Caption: "pic"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Channel != "whatsapp" {
		t.Fatalf("outcome = %+v", out)
	}

	want := []frame{
		{Type: "message", To: "123@s.whatsapp.net", Content: "hello\n\npic", ReplyTo: "in-1", Media: []string{"https://x/y.png"}},
	}
	for i, w := range want {
		select {
		case got := <-bridge.received:
			if got.Type != w.Type || got.To != w.To || got.Content != w.Content || got.ReplyTo != w.ReplyTo || len(got.Media) != len(w.Media) {
				t.Fatalf("frame %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}

	bridge.push(t, frame{Type: "message", ID: "m1", From: "555@s.whatsapp.net", Chat: "group-1@g.us", Content: "hi bot", Mentioned: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	in, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message")
	}
	if in.Channel != "whatsapp" || in.PeerKind != bus.PeerGroup || !in.WasMentioned || in.MessageID != "m1" || in.ChatID != "group-1@g.us" {
		t.Fatalf("inbound = %+v", in)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	ch, err := New(config.WhatsAppConfig{BridgeURL: "ws://127.0.0.1:1"}, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "x", Content: "hi"}); err == nil {
		t.Fatal("expected not connected error")
	}
}

func TestNewRequiresBridgeURL(t *testing.T) {
	if _, err := New(config.WhatsAppConfig{}, bus.New()); err == nil {
		t.Fatal("expected error")
	}
}
