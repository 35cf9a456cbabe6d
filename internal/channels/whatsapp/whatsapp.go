package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
)

const (
	// MaxMessageChars keeps WhatsApp messages readable; the protocol allows more.
	MaxMessageChars = 4000

	typingKeepalive = 8 * time.Second
	minBackoff      = time.Second
	maxBackoff      = 30 * time.Second
)

// frame is the JSON envelope exchanged with the bridge.
type frame struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"`
	To        string   `json:"to,omitempty"`
	From      string   `json:"from,omitempty"`
	FromName  string   `json:"from_name,omitempty"`
	Chat      string   `json:"chat,omitempty"`
	Content   string   `json:"content,omitempty"`
	ReplyTo   string   `json:"reply_to,omitempty"`
	Media     []string `json:"media,omitempty"`
	Mentioned bool     `json:"mentioned,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// Channel connects to a WhatsApp bridge via WebSocket.
// The bridge (e.g. whatsapp-web.js based) handles the actual WhatsApp
// protocol; this channel just sends/receives JSON frames over WS.
type Channel struct {
	*channels.BaseChannel
	config config.WhatsAppConfig

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, msgBus bus.MessageRouter) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", msgBus, cfg.DeliveryConfig, MaxMessageChars),
		config:      cfg,
	}, nil
}

// Start connects to the bridge and begins listening. A failed first
// connection is retried in the background.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.config.BridgeURL)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	if err := c.connect(runCtx); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop(runCtx)

	c.SetRunning(true)
	return nil
}

// Stop gracefully shuts down the WhatsApp channel.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")
	c.SetRunning(false)

	if c.cancel != nil {
		c.cancel()
	}
	c.closeConn()
	if c.done != nil {
		<-c.done
	}
	return nil
}

// Send writes one frame per planned part to the bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) (bus.DeliveryOutcome, error) {
	out := bus.DeliveryOutcome{Channel: c.Name(), ChatID: msg.ChatID}
	for _, part := range channels.PlanParts(msg, c.ChunkLimits(), c.config.ReplyMode(), 0) {
		f := frame{Type: "message", To: msg.ChatID, Content: part.Text, ReplyTo: part.ReplyToID}
		if part.Media != nil {
			f.Media = []string{part.Media.URL}
		}
		if err := c.write(f); err != nil {
			return out, fmt.Errorf("send whatsapp message: %w", err)
		}
	}
	return out, nil
}

// SendTyping asks the bridge to show the composing state.
func (c *Channel) SendTyping(_ context.Context, chatID string) error {
	return c.write(frame{Type: "typing", To: chatID})
}

// TypingKeepalive returns how often the composing state must be repeated.
func (c *Channel) TypingKeepalive() time.Duration { return typingKeepalive }

func (c *Channel) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp: bridge connected", "url", c.config.BridgeURL)
	return nil
}

func (c *Channel) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// listenLoop reads frames from the bridge, reconnecting with exponential
// backoff whenever the connection drops.
func (c *Channel) listenLoop(ctx context.Context) {
	defer close(c.done)
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn := c.currentConn()
		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(ctx); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = minBackoff
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("whatsapp read error, will reconnect", "error", err)
			}
			c.closeConn()
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("invalid whatsapp frame JSON", "error", err)
			continue
		}
		if f.Type == "message" {
			c.handleIncoming(f)
		}
	}
}

// handleIncoming converts a bridge message frame into a bus message.
// Groups have chat IDs ending in "@g.us".
func (c *Channel) handleIncoming(f frame) {
	if f.From == "" {
		return
	}
	chatID := f.Chat
	if chatID == "" {
		chatID = f.From
	}
	peerKind := bus.PeerDirect
	if strings.HasSuffix(chatID, "@g.us") {
		peerKind = bus.PeerGroup
	}

	content := f.Content
	if content == "" {
		content = "[empty message]"
	}

	msg := bus.InboundMessage{
		SenderID:     f.From,
		SenderName:   f.FromName,
		ChatID:       chatID,
		MessageID:    f.ID,
		Content:      content,
		Media:        f.Media,
		PeerKind:     peerKind,
		WasMentioned: f.Mentioned,
	}
	if f.Timestamp > 0 {
		msg.Timestamp = time.Unix(f.Timestamp, 0)
	}

	if !c.HandleMessage(msg) {
		slog.Debug("whatsapp: message rejected by policy", "sender_id", f.From)
		return
	}
	slog.Debug("whatsapp: message received",
		"sender_id", f.From,
		"chat_id", chatID,
		"preview", channels.Truncate(content, 50),
	)
}
