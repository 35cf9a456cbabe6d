package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/clawrelay/internal/sessions"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:      "anthropic",
				Model:         "claude-sonnet-4-5-20250929",
				MaxTokens:     8192,
				ThinkingLevel: "off",
				HumanDelay:    HumanDelayConfig{Mode: "off"},
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{DeliveryConfig: DeliveryConfig{TextChunkLimit: 4096}},
			Discord:  DiscordConfig{DeliveryConfig: DeliveryConfig{TextChunkLimit: 2000, MaxLinesPerMessage: 17}},
			Slack:    SlackConfig{DeliveryConfig: DeliveryConfig{TextChunkLimit: 4000}},
		},
		Gateway: GatewayConfig{
			InboundDebounceMs: 1000,
			HistorySweepCron:  "*/10 * * * *",
			HistoryIdleTTL:    "6h",
			OutboundPerSecond: 1,
			OutboundBurst:     5,
		},
		Sessions: SessionsConfig{
			StateDir: "~/.clawrelay",
			Backend:  "file",
			DmScope:  "per-channel-peer",
			MainKey:  "main",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "clawrelay",
		},
	}
}

// Load reads config from a JSON5 or YAML file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// decode parses data into cfg. YAML documents are normalized through JSON
// so a single set of struct tags serves both formats.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CLAWRELAY_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CLAWRELAY_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("CLAWRELAY_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("CLAWRELAY_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("CLAWRELAY_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)

	envStr("CLAWRELAY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("CLAWRELAY_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("CLAWRELAY_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("CLAWRELAY_SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)
	envStr("CLAWRELAY_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)

	// Auto-enable channels if credentials are provided via env
	if os.Getenv("CLAWRELAY_TELEGRAM_TOKEN") != "" {
		c.Channels.Telegram.Enabled = true
	}
	if os.Getenv("CLAWRELAY_DISCORD_TOKEN") != "" {
		c.Channels.Discord.Enabled = true
	}
	if os.Getenv("CLAWRELAY_SLACK_BOT_TOKEN") != "" && c.Channels.Slack.AppToken != "" {
		c.Channels.Slack.Enabled = true
	}

	envStr("CLAWRELAY_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("CLAWRELAY_MODEL", &c.Agents.Defaults.Model)

	envStr("CLAWRELAY_STATE_DIR", &c.Sessions.StateDir)
	envStr("CLAWRELAY_SESSIONS_STORE", &c.Sessions.Store)
	envStr("CLAWRELAY_SESSIONS_BACKEND", &c.Sessions.Backend)
	envStr("CLAWRELAY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CLAWRELAY_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("CLAWRELAY_OTEL_ENDPOINT", &c.Telemetry.Endpoint)
	if c.Telemetry.Endpoint != "" && os.Getenv("CLAWRELAY_OTEL_ENDPOINT") != "" {
		c.Telemetry.Enabled = true
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// StateDir returns the expanded state directory.
func (c *Config) StateDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Sessions.StateDir)
}

// SessionStorePath resolves the session store file for an agent.
func (c *Config) SessionStorePath(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sessions.ResolveStorePath(c.Sessions.Store, ExpandHome(c.Sessions.StateDir), agentID)
}

// ResolveAgent returns the effective config for a given agent ID,
// with per-agent overrides applied on top of defaults.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	spec, ok := c.Agents.List[agentID]
	if !ok {
		return d
	}
	if spec.Provider != "" {
		d.Provider = spec.Provider
	}
	if spec.Model != "" {
		d.Model = spec.Model
	}
	if spec.MaxTokens > 0 {
		d.MaxTokens = spec.MaxTokens
	}
	if spec.ThinkingLevel != "" {
		d.ThinkingLevel = spec.ThinkingLevel
	}
	if spec.SystemPrompt != "" {
		d.SystemPrompt = spec.SystemPrompt
	}
	if spec.ResponsePrefix != "" {
		d.ResponsePrefix = spec.ResponsePrefix
	}
	if spec.Identity != nil && spec.Identity.Name != "" {
		d.IdentityName = spec.Identity.Name
	}
	return d
}

// ResolveDefaultAgentID returns the agent marked default, or "default".
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, spec := range c.Agents.List {
		if spec.Default {
			return sessions.NormalizeAgentID(id)
		}
	}
	return sessions.DefaultAgentID
}

// AgentIDs returns every configured agent plus the default agent.
func (c *Config) AgentIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.Agents.List)+1)
	for id := range c.Agents.List {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	def := c.ResolveDefaultAgentID()
	for _, id := range ids {
		if sessions.NormalizeAgentID(id) == def {
			return ids
		}
	}
	return append(ids, def)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
