package cmd

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/clawrelay/internal/agent"
	"github.com/nextlevelbuilder/clawrelay/internal/chunker"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
	"github.com/nextlevelbuilder/clawrelay/internal/providers"
)

// buildProviders returns every provider with an API key, by name.
func buildProviders(cfg *config.Config) map[string]providers.Provider {
	out := make(map[string]providers.Provider)

	if p := cfg.Providers.Anthropic; p.APIKey != "" {
		var opts []providers.AnthropicOption
		if p.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(p.APIBase))
		}
		out["anthropic"] = providers.NewAnthropicProvider(p.APIKey, opts...)
	}
	if p := cfg.Providers.OpenAI; p.APIKey != "" {
		out["openai"] = providers.NewOpenAIProvider("openai", p.APIKey, p.APIBase, "gpt-4o")
	}
	if p := cfg.Providers.OpenRouter; p.APIKey != "" {
		out["openrouter"] = providers.NewOpenAIProvider("openrouter", p.APIKey, orDefault(p.APIBase, "https://openrouter.ai/api/v1"), "anthropic/claude-sonnet-4-5")
	}
	if p := cfg.Providers.Groq; p.APIKey != "" {
		out["groq"] = providers.NewOpenAIProvider("groq", p.APIKey, orDefault(p.APIBase, "https://api.groq.com/openai/v1"), "llama-3.3-70b-versatile")
	}
	if p := cfg.Providers.DeepSeek; p.APIKey != "" {
		out["deepseek"] = providers.NewOpenAIProvider("deepseek", p.APIKey, orDefault(p.APIBase, "https://api.deepseek.com/v1"), "deepseek-chat")
	}

	for name := range out {
		slog.Info("registered provider", "name", name)
	}
	return out
}

// buildAgents registers one runner per configured agent. Transcripts are
// shared so a session keeps its memory if the agent is rebuilt.
func buildAgents(cfg *config.Config, provs map[string]providers.Provider, transcripts *agent.Transcripts) (*agent.Router, error) {
	router := agent.NewRouter(cfg.ResolveDefaultAgentID())
	for _, id := range cfg.AgentIDs() {
		ac := cfg.ResolveAgent(id)
		prov, ok := provs[ac.Provider]
		if !ok {
			return nil, fmt.Errorf("agent %s: provider %q has no API key configured", id, ac.Provider)
		}
		var blocks chunker.Limits
		if c := ac.BlockStreamingChunk; c != nil {
			blocks = chunker.Limits{MinChars: c.MinChars, MaxChars: c.MaxChars}
		}
		router.Register(agent.NewLoop(agent.LoopConfig{
			ID:            id,
			Provider:      prov,
			Model:         ac.Model,
			MaxTokens:     int64(ac.MaxTokens),
			ThinkLevel:    ac.ThinkingLevel,
			SystemPrompt:  ac.SystemPrompt,
			BlockChunking: blocks,
			Transcripts:   transcripts,
		}))
	}
	return router, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
