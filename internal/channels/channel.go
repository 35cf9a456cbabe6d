// Package channels provides the channel abstraction layer for multi-platform messaging.
// Channels connect external platforms (Telegram, Discord, Slack, WhatsApp) to the
// gateway via the message bus, and deliver reply units back out.
package channels

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/chunker"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
	"github.com/nextlevelbuilder/clawrelay/internal/reply"
)

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist" // Only whitelisted senders
	GroupPolicyDisabled  GroupPolicy = "disabled"  // No group messages
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord", "slack").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send performs one externally visible delivery attempt, splitting the
	// content into platform-sized messages as needed.
	Send(ctx context.Context, msg bus.OutboundMessage) (bus.DeliveryOutcome, error)

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool

	// Delivery returns the reply-pipeline settings for this channel.
	Delivery() config.DeliveryConfig
}

// TypingChannel can show a "typing" indicator. Platforms expire the
// indicator after a few seconds, so callers repeat it every
// TypingKeepalive until the reply is done.
type TypingChannel interface {
	Channel
	SendTyping(ctx context.Context, chatID string) error
	TypingKeepalive() time.Duration
}

// DraftChannel can show a live preview of a reply while it is generated.
type DraftChannel interface {
	Channel
	NewDraft(ctx context.Context, chatID, threadID string) reply.DraftStream
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name        string
	bus         bus.MessageRouter
	running     atomic.Bool
	allowList   []string
	delivery    config.DeliveryConfig
	platformMax int
}

// NewBaseChannel creates a new BaseChannel. platformMax is the hard message
// size limit of the platform, in characters.
func NewBaseChannel(name string, msgBus bus.MessageRouter, delivery config.DeliveryConfig, platformMax int) *BaseChannel {
	return &BaseChannel{
		name:        name,
		bus:         msgBus,
		allowList:   delivery.AllowFrom,
		delivery:    delivery,
		platformMax: platformMax,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() bus.MessageRouter { return c.bus }

// Delivery returns the reply-pipeline settings.
func (c *BaseChannel) Delivery() config.DeliveryConfig { return c.delivery }

// ChunkLimits returns the outbound chunking limits: the configured text
// chunk limit capped at the platform maximum, plus the line limit.
func (c *BaseChannel) ChunkLimits() chunker.Limits {
	return chunker.Limits{
		MaxChars: c.delivery.ChunkLimit(c.platformMax),
		MaxLines: c.delivery.MaxLinesPerMessage,
	}
}

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart := splitCompound(senderID)

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID, allowedUser := splitCompound(trimmed)

		if senderID == allowed || senderID == trimmed ||
			idPart == trimmed || idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

func splitCompound(s string) (id, user string) {
	if idx := strings.IndexByte(s, '|'); idx > 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// CheckPolicy evaluates the DM or group policy for a sender.
// "open" (default) still honours a non-empty allowlist; "allowlist"
// requires an explicit match.
func (c *BaseChannel) CheckPolicy(peerKind, senderID string) bool {
	policy := c.delivery.DMPolicy
	if peerKind == bus.PeerGroup {
		policy = c.delivery.GroupPolicy
	}

	switch policy {
	case "disabled":
		return false
	case "allowlist":
		return c.HasAllowList() && c.IsAllowed(senderID)
	default: // "open"
		return c.IsAllowed(senderID)
	}
}

// HandleMessage stamps msg with the channel name and publishes it to the
// bus if the sender passes policy. Mention gating is left to the gateway,
// which records unmentioned group messages as pending history.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) bool {
	if !c.CheckPolicy(msg.PeerKind, msg.SenderID) {
		return false
	}
	msg.Channel = c.name
	if msg.PeerKind == "" {
		msg.PeerKind = bus.PeerDirect
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.bus.PublishInbound(msg)
	return true
}

// Truncate shortens s to maxWidth display cells, appending "..." if truncated.
func Truncate(s string, maxWidth int) string {
	return runewidth.Truncate(s, maxWidth, "...")
}
