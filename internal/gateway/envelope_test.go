package gateway

import (
	"testing"
	"time"
)

func TestEnvelopeFormat(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{
			name: "first message",
			env:  Envelope{Channel: "Telegram", From: "alice", Timestamp: ts, Body: "hi"},
			want: "[Telegram alice 2026-03-01 12:30 UTC] hi",
		},
		{
			name: "elapsed minutes",
			env:  Envelope{Channel: "Discord", From: "bob", Timestamp: ts, Previous: ts.Add(-12 * time.Minute), Body: "back"},
			want: "[Discord bob +12m 2026-03-01 12:30 UTC] back",
		},
		{
			name: "elapsed days",
			env:  Envelope{Channel: "Slack", Timestamp: ts, Previous: ts.Add(-50 * time.Hour), Body: "x"},
			want: "[Slack +2d 2026-03-01 12:30 UTC] x",
		},
		{
			name: "previous in the future is ignored",
			env:  Envelope{Channel: "Slack", Timestamp: ts, Previous: ts.Add(time.Hour), Body: "x"},
			want: "[Slack 2026-03-01 12:30 UTC] x",
		},
		{
			name: "no timestamp",
			env:  Envelope{Channel: "WhatsApp", From: "carol", Body: "yo"},
			want: "[WhatsApp carol] yo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.env.Format(); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m"},
		{3*time.Hour + 59*time.Minute, "3h"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestChannelLabel(t *testing.T) {
	tests := map[string]string{
		"telegram": "Telegram",
		"whatsapp": "WhatsApp",
		"":         "Chat",
	}
	for in, want := range tests {
		if got := channelLabel(in); got != want {
			t.Errorf("channelLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
