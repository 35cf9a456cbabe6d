package bus

import (
	"context"
	"time"
)

// Peer kinds carried on InboundMessage.PeerKind.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// InboundMessage represents a message received from a channel (Telegram, Discord, etc.)
type InboundMessage struct {
	Channel      string            `json:"channel"`
	AccountID    string            `json:"account_id,omitempty"`
	SenderID     string            `json:"sender_id"`
	SenderName   string            `json:"sender_name,omitempty"`
	ChatID       string            `json:"chat_id"`
	ThreadID     string            `json:"thread_id,omitempty"`
	MessageID    string            `json:"message_id,omitempty"`
	Content      string            `json:"content"`
	Media        []string          `json:"media,omitempty"`
	PeerKind     string            `json:"peer_kind,omitempty"` // "direct" or "group"
	AgentID      string            `json:"agent_id,omitempty"`
	WasMentioned bool              `json:"was_mentioned,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsGroup reports whether the message came from a multi-party conversation.
func (m InboundMessage) IsGroup() bool { return m.PeerKind == PeerGroup }

// OutboundMessage is one externally visible send attempt on a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id,omitempty"`
	ChatID    string            `json:"chat_id"`
	ThreadID  string            `json:"thread_id,omitempty"`
	ReplyToID string            `json:"reply_to_id,omitempty"`
	Content   string            `json:"content"`
	Media     []MediaAttachment `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg")
	Caption     string `json:"caption,omitempty"`
}

// DeliveryOutcome reports what a channel actually posted.
type DeliveryOutcome struct {
	Channel    string   `json:"channel"`
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// MessageRouter abstracts inbound/outbound message routing between channels and the gateway.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
