// Package gateway turns inbound channel messages into agent turns and
// routes the replies back out through the originating channel.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/nextlevelbuilder/clawrelay/internal/agent"
	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
	"github.com/nextlevelbuilder/clawrelay/internal/sessions"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/clawrelay/internal/gateway")

// Inbound dedupe window: webhook retries and reconnect replays land well
// inside it.
const (
	dedupeTTL     = 20 * time.Minute
	dedupeMaxKeys = 5000
)

const defaultDrainTimeout = 30 * time.Second

// ChannelRegistry looks up channels and delivers outbound messages.
// *channels.Manager implements it.
type ChannelRegistry interface {
	GetChannel(name string) (channels.Channel, bool)
	Deliver(ctx context.Context, msg bus.OutboundMessage) (bus.DeliveryOutcome, error)
}

// AgentResolver resolves an agent ID to its runner. *agent.Router implements it.
type AgentResolver interface {
	Get(agentID string) (agent.Runner, error)
}

// Options wires a Processor.
type Options struct {
	// Config returns the current configuration. It is called once per turn
	// so reloaded settings apply to the next turn.
	Config   func() *config.Config
	Bus      bus.MessageRouter
	Channels ChannelRegistry
	Agents   AgentResolver
	Sessions *sessions.Store
	History  *channels.PendingHistory

	// DrainTimeout bounds how long shutdown waits for queued turns before
	// cancelling them (0 = 30s).
	DrainTimeout time.Duration
}

// Processor consumes inbound messages and runs one agent turn per
// (debounced) message, sequentially per conversation.
type Processor struct {
	opts      Options
	dedupe    *bus.DedupeCache
	debouncer *bus.InboundDebouncer
	lanes     *laneSet

	turnCtx     context.Context
	cancelTurns context.CancelFunc

	completed atomic.Int64
	failed    atomic.Int64
}

// New validates opts and builds a processor. The debounce window is read
// from the configuration at construction time.
func New(opts Options) (*Processor, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("gateway: Config is required")
	case opts.Channels == nil:
		return nil, errors.New("gateway: Channels is required")
	case opts.Agents == nil:
		return nil, errors.New("gateway: Agents is required")
	case opts.Sessions == nil:
		return nil, errors.New("gateway: Sessions is required")
	}
	if opts.History == nil {
		opts.History = channels.NewPendingHistory(channels.DefaultGroupHistoryLimit)
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}

	p := &Processor{
		opts:   opts,
		dedupe: bus.NewDedupeCache(dedupeTTL, dedupeMaxKeys),
	}
	p.turnCtx, p.cancelTurns = context.WithCancel(context.Background())
	p.lanes = newLaneSet(p.processTurn)
	if window := opts.Config().Gateway.DebounceWindow(); window > 0 {
		p.debouncer = bus.NewInboundDebouncer(window, p.schedule)
	}
	return p, nil
}

// History returns the pending group history buffer.
func (p *Processor) History() *channels.PendingHistory { return p.opts.History }

// Run consumes the bus until ctx is done, then flushes open debounce
// windows and drains the lanes. In-flight turns are not cancelled by ctx;
// they are cancelled only if draining exceeds DrainTimeout.
func (p *Processor) Run(ctx context.Context) error {
	if p.opts.Bus == nil {
		return errors.New("gateway: Bus is required to run")
	}
	slog.Info("gateway: inbound processor started")
	for {
		msg, ok := p.opts.Bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		p.Handle(msg)
	}
	p.Shutdown()
	return nil
}

// Shutdown flushes pending debounce windows and waits for queued turns.
func (p *Processor) Shutdown() {
	if p.debouncer != nil {
		p.debouncer.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.lanes.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.opts.DrainTimeout):
		active, queued := p.lanes.stats()
		slog.Warn("gateway: drain timeout, cancelling turns", "active_lanes", active, "queued", queued)
		p.cancelTurns()
		<-done
	}
	p.cancelTurns()
	slog.Info("gateway: inbound processor stopped",
		"completed", p.completed.Load(), "failed", p.failed.Load())
}

// Handle applies dedupe and mention gating, then hands the message to the
// debouncer (or straight to its lane when debouncing is off).
func (p *Processor) Handle(msg bus.InboundMessage) {
	if key := bus.DedupeKey(msg); key != "" && p.dedupe.IsDuplicate(key) {
		slog.Debug("gateway: duplicate inbound dropped", "channel", msg.Channel, "message_id", msg.MessageID)
		return
	}

	delivery := p.delivery(msg.Channel)
	if msg.IsGroup() && delivery.MentionRequired() && !msg.WasMentioned {
		p.recordHistory(msg, delivery)
		return
	}

	if p.debouncer != nil {
		p.debouncer.Push(msg)
		return
	}
	p.schedule(msg)
}

func (p *Processor) schedule(msg bus.InboundMessage) {
	if !p.lanes.enqueue(conversationKey(msg), msg) {
		slog.Warn("gateway: processor stopped, inbound dropped", "channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

func (p *Processor) delivery(channel string) config.DeliveryConfig {
	if ch, ok := p.opts.Channels.GetChannel(channel); ok {
		return ch.Delivery()
	}
	return config.DeliveryConfig{}
}

// recordHistory keeps an unmentioned group message as context for the
// next turn in that conversation.
func (p *Processor) recordHistory(msg bus.InboundMessage, delivery config.DeliveryConfig) {
	if delivery.GroupHistoryLimit(channels.DefaultGroupHistoryLimit) == 0 {
		return
	}
	body := strings.TrimSpace(msg.Content)
	if body == "" {
		return
	}
	p.opts.History.Append(conversationKey(msg), channels.HistoryEntry{
		Sender:    senderLabel(msg),
		Body:      body,
		Timestamp: msg.Timestamp,
		MessageID: msg.MessageID,
	})
	slog.Debug("gateway: group message recorded to history",
		"channel", msg.Channel, "chat_id", msg.ChatID, "sender", msg.SenderID)
}

// Stats is a point-in-time view of the processor's queues.
type Stats struct {
	ActiveLanes     int
	QueuedTurns     int
	PendingDebounce int
	HistoryKeys     int
	DedupeKeys      int
	Completed       int64
	Failed          int64
}

// Stats reports queue sizes and turn counters.
func (p *Processor) Stats() Stats {
	active, queued := p.lanes.stats()
	s := Stats{
		ActiveLanes: active,
		QueuedTurns: queued,
		HistoryKeys: p.opts.History.Len(),
		DedupeKeys:  p.dedupe.Len(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
	}
	if p.debouncer != nil {
		s.PendingDebounce = p.debouncer.Pending()
	}
	return s
}

// conversationKey identifies a conversation: channel, chat and thread.
// Turns sharing a key run in order; history is kept under the same key.
func conversationKey(msg bus.InboundMessage) string {
	key := msg.Channel + ":" + msg.ChatID
	if msg.ThreadID != "" {
		key += ":" + msg.ThreadID
	}
	return key
}

func senderLabel(msg bus.InboundMessage) string {
	switch {
	case msg.SenderName != "" && msg.SenderID != "" && msg.SenderName != msg.SenderID:
		return fmt.Sprintf("%s (%s)", msg.SenderName, msg.SenderID)
	case msg.SenderName != "":
		return msg.SenderName
	default:
		return msg.SenderID
	}
}
