package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
)

// Manager manages all registered channels, handling their lifecycle
// and routing outbound messages to the correct channel.
type Manager struct {
	channels     map[string]Channel
	bus          bus.MessageRouter
	limiter      *OutboundLimiter
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new channel manager. limiter may be nil.
// Channels are registered externally via RegisterChannel.
func NewManager(msgBus bus.MessageRouter, limiter *OutboundLimiter) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
		limiter:  limiter,
	}
}

// StartAll starts all registered channels concurrently and the outbound
// dispatch loop. A channel that fails to start is logged and reported in
// the returned error; the others keep running.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(ctx)
	task := &asyncTask{cancel: cancel, done: make(chan struct{})}
	m.dispatchTask = task
	m.mu.Unlock()
	go m.dispatchOutbound(dispatchCtx, task.done)

	chs := m.snapshot()
	if len(chs) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	var g errgroup.Group
	for name, ch := range chs {
		g.Go(func() error {
			slog.Info("starting channel", "channel", name)
			if err := ch.Start(ctx); err != nil {
				slog.Error("failed to start channel", "channel", name, "error", err)
				return fmt.Errorf("start %s: %w", name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	slog.Info("all channels started")
	return err
}

// StopAll stops the dispatch loop, then all channels concurrently.
func (m *Manager) StopAll(ctx context.Context) error {
	slog.Info("stopping all channels")

	m.mu.Lock()
	task := m.dispatchTask
	m.dispatchTask = nil
	m.mu.Unlock()
	if task != nil {
		task.cancel()
		<-task.done
	}

	var g errgroup.Group
	for name, ch := range m.snapshot() {
		g.Go(func() error {
			if err := ch.Stop(ctx); err != nil {
				slog.Error("error stopping channel", "channel", name, "error", err)
				return fmt.Errorf("stop %s: %w", name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	slog.Info("all channels stopped")
	return err
}

func (m *Manager) snapshot() map[string]Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch
	}
	return out
}

// dispatchOutbound delivers messages published to the bus outside of a
// reply turn (notices, scheduled sends).
func (m *Manager) dispatchOutbound(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}
		if _, err := m.Deliver(ctx, msg); err != nil {
			slog.Error("error sending message to channel", "channel", msg.Channel, "error", err)
		}
	}
}

// Deliver sends msg through its channel, paced per conversation.
func (m *Manager) Deliver(ctx context.Context, msg bus.OutboundMessage) (bus.DeliveryOutcome, error) {
	ch, ok := m.GetChannel(msg.Channel)
	if !ok {
		return bus.DeliveryOutcome{}, fmt.Errorf("channel %s not found", msg.Channel)
	}
	if err := m.limiter.Wait(ctx, msg.Channel+":"+msg.ChatID); err != nil {
		return bus.DeliveryOutcome{}, fmt.Errorf("outbound pacing %s/%s: %w", msg.Channel, msg.ChatID, err)
	}
	out, err := ch.Send(ctx, msg)
	if err != nil {
		return out, err
	}
	slog.Debug("delivered", "channel", msg.Channel, "chat_id", msg.ChatID, "messages", len(out.MessageIDs))
	return out, nil
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.channels))
	for name, channel := range m.channels {
		status[name] = channel.IsRunning()
	}
	return status
}

// GetEnabledChannels returns the sorted names of all registered channels.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// UnregisterChannel removes a channel from the manager.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}
