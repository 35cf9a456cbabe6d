package config

import "time"

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// DeliveryConfig holds the reply-pipeline settings every channel shares.
type DeliveryConfig struct {
	AllowFrom          FlexibleStringSlice `json:"allow_from"`
	DMPolicy           string              `json:"dm_policy,omitempty"`             // "open" (default), "allowlist", "disabled"
	GroupPolicy        string              `json:"group_policy,omitempty"`          // "open" (default), "allowlist", "disabled"
	RequireMention     *bool               `json:"require_mention,omitempty"`       // require @bot mention in groups (default true)
	HistoryLimit       int                 `json:"history_limit,omitempty"`         // pending group messages kept for context (default 50, -1 = disabled)
	DMHistoryLimit     int                 `json:"dm_history_limit,omitempty"`      // DM user turns replayed to the model (0 = all kept)
	TextChunkLimit     int                 `json:"text_chunk_limit,omitempty"`      // max chars per message (platform default)
	MaxLinesPerMessage int                 `json:"max_lines_per_message,omitempty"` // 0 = unlimited
	BlockStreaming     *bool               `json:"block_streaming,omitempty"`       // deliver blocks while the model streams (default false)
	StreamMode         string              `json:"stream_mode,omitempty"`           // draft preview: "off" (default), "partial", "block"
	ReplyToMode        string              `json:"reply_to_mode,omitempty"`         // "off", "first" (default), "all"
}

// MentionRequired reports whether group messages need an @mention.
func (d DeliveryConfig) MentionRequired() bool {
	return d.RequireMention == nil || *d.RequireMention
}

// BlockStreamingEnabled reports whether block streaming is on.
func (d DeliveryConfig) BlockStreamingEnabled() bool {
	return d.BlockStreaming != nil && *d.BlockStreaming
}

// GroupHistoryLimit returns the effective pending-history limit (0 = disabled).
func (d DeliveryConfig) GroupHistoryLimit(fallback int) int {
	switch {
	case d.HistoryLimit < 0:
		return 0
	case d.HistoryLimit == 0:
		return fallback
	default:
		return d.HistoryLimit
	}
}

// ChunkLimit returns TextChunkLimit capped at the platform maximum.
func (d DeliveryConfig) ChunkLimit(platformMax int) int {
	if d.TextChunkLimit <= 0 || d.TextChunkLimit > platformMax {
		return platformMax
	}
	return d.TextChunkLimit
}

// ReplyMode returns ReplyToMode with its default applied.
func (d DeliveryConfig) ReplyMode() string {
	switch d.ReplyToMode {
	case "off", "first", "all":
		return d.ReplyToMode
	default:
		return "first"
	}
}

type TelegramConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token"`
	LinkPreview *bool  `json:"link_preview,omitempty"` // enable URL previews in messages (default true)
	DeliveryConfig
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	DeliveryConfig
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
	DeliveryConfig
}

type WhatsAppConfig struct {
	Enabled   bool   `json:"enabled"`
	BridgeURL string `json:"bridge_url"`
	DeliveryConfig
}

// ProvidersConfig maps provider name to its config.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Groq       ProviderConfig `json:"groq"`
	DeepSeek   ProviderConfig `json:"deepseek"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" ||
		p.OpenAI.APIKey != "" ||
		p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" ||
		p.DeepSeek.APIKey != ""
}

// GatewayConfig controls inbound processing.
type GatewayConfig struct {
	InboundDebounceMs int     `json:"inbound_debounce_ms,omitempty"` // merge rapid messages from same sender (default 1000ms, -1 = disabled)
	HistorySweepCron  string  `json:"history_sweep_cron,omitempty"`  // default "*/10 * * * *"
	HistoryIdleTTL    string  `json:"history_idle_ttl,omitempty"`    // Go duration, default "6h"
	OutboundPerSecond float64 `json:"outbound_per_second,omitempty"` // per-chat send rate (default 1)
	OutboundBurst     int     `json:"outbound_burst,omitempty"`      // default 5
}

// DebounceWindow returns the inbound debounce window (0 = disabled).
func (g GatewayConfig) DebounceWindow() time.Duration {
	switch {
	case g.InboundDebounceMs < 0:
		return 0
	case g.InboundDebounceMs == 0:
		return time.Second
	default:
		return time.Duration(g.InboundDebounceMs) * time.Millisecond
	}
}

// IdleTTL parses HistoryIdleTTL, falling back to 6h.
func (g GatewayConfig) IdleTTL() time.Duration {
	if d, err := time.ParseDuration(g.HistoryIdleTTL); err == nil && d > 0 {
		return d
	}
	return 6 * time.Hour
}

// SessionsConfig controls session storage and key scoping.
type SessionsConfig struct {
	Store    string `json:"store,omitempty"`     // path template, "{agentId}" substituted
	StateDir string `json:"state_dir,omitempty"` // default "~/.clawrelay"
	Backend  string `json:"backend,omitempty"`   // "file" (default), "sqlite", "postgres"
	Scope    string `json:"scope,omitempty"`     // "per-sender" (default), "global"
	DmScope  string `json:"dm_scope,omitempty"`  // "main", "per-peer", "per-channel-peer" (default), "per-account-channel-peer"
	MainKey  string `json:"main_key,omitempty"`  // main session key suffix (default "main")
}
