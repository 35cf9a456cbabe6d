package gateway

import (
	"fmt"
	"strings"
	"time"
)

// envelopeTimeLayout is the timestamp shown in an inbound envelope header.
const envelopeTimeLayout = "2006-01-02 15:04 MST"

// Envelope describes one inbound message as the agent sees it.
type Envelope struct {
	Channel   string // display name, e.g. "Telegram"
	From      string // sender label
	Timestamp time.Time
	// Previous is when the session was last updated. Zero omits the
	// elapsed marker.
	Previous time.Time
	Body     string
}

// Format renders "[Channel From +elapsed timestamp] body".
func (e Envelope) Format() string {
	header := []string{e.Channel}
	if e.From != "" {
		header = append(header, e.From)
	}
	if !e.Previous.IsZero() && !e.Timestamp.IsZero() {
		if d := e.Timestamp.Sub(e.Previous); d > 0 {
			header = append(header, "+"+formatElapsed(d))
		}
	}
	if !e.Timestamp.IsZero() {
		header = append(header, e.Timestamp.UTC().Format(envelopeTimeLayout))
	}
	return "[" + strings.Join(header, " ") + "] " + e.Body
}

// formatElapsed renders d in its largest whole unit: 45s, 12m, 3h, 2d.
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
}

// channelLabel capitalizes a channel name for display.
func channelLabel(name string) string {
	switch name {
	case "whatsapp":
		return "WhatsApp"
	case "":
		return "Chat"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
