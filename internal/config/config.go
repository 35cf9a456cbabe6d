package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the clawrelay gateway.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// DatabaseConfig configures the SQL session backends.
// PostgresDSN is NEVER read from the config file (secret), only from env
// CLAWRELAY_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // default <state_dir>/sessions.db
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default settings for all agents.
type AgentDefaults struct {
	Provider       string           `json:"provider"`
	Model          string           `json:"model"`
	MaxTokens      int              `json:"max_tokens"`
	ThinkingLevel  string           `json:"thinking_level,omitempty"` // "off" (default), "low", "medium", "high"
	SystemPrompt   string           `json:"system_prompt,omitempty"`
	IdentityName   string           `json:"identity_name,omitempty"`
	ResponsePrefix string           `json:"response_prefix,omitempty"` // e.g. "[{model}]"
	HumanDelay     HumanDelayConfig `json:"human_delay,omitempty"`

	// BlockStreamingChunk bounds blocks cut from the model stream.
	BlockStreamingChunk *ChunkConfig `json:"block_streaming_chunk,omitempty"`
	// BlockStreamingCoalesce merges small blocks before delivery.
	BlockStreamingCoalesce *ChunkConfig `json:"block_streaming_coalesce,omitempty"`
}

// HumanDelayConfig paces replies. Mode: "off" (default), "natural", "custom".
type HumanDelayConfig struct {
	Mode  string `json:"mode,omitempty"`
	MinMs int    `json:"min_ms,omitempty"` // custom only
	MaxMs int    `json:"max_ms,omitempty"` // custom only
}

// ChunkConfig configures a block chunker.
type ChunkConfig struct {
	MinChars int `json:"min_chars,omitempty"`
	MaxChars int `json:"max_chars,omitempty"`
}

// AgentSpec is the per-agent configuration override.
// All fields optional: zero values mean "inherit from defaults".
type AgentSpec struct {
	DisplayName    string          `json:"displayName,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	Model          string          `json:"model,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ThinkingLevel  string          `json:"thinking_level,omitempty"`
	SystemPrompt   string          `json:"system_prompt,omitempty"`
	ResponsePrefix string          `json:"response_prefix,omitempty"`
	Default        bool            `json:"default,omitempty"`
	Identity       *IdentityConfig `json:"identity,omitempty"`
}

// IdentityConfig defines agent persona / display identity.
type IdentityConfig struct {
	Name  string `json:"name,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport (local dev)
	ServiceName string            `json:"service_name,omitempty"` // default "clawrelay"
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Gateway = src.Gateway
	c.Sessions = src.Sessions
	c.Database = src.Database
	c.Telemetry = src.Telemetry
}
