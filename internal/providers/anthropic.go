package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeModel = "claude-sonnet-4-5-20250929"

// thinkingBudgets maps think levels to extended-thinking token budgets.
var thinkingBudgets = map[string]int64{
	"low":    1024,
	"medium": 4096,
	"high":   16384,
}

// AnthropicProvider implements Provider using the official Anthropic SDK.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicOption configures an AnthropicProvider.
type AnthropicOption func(*anthropicConfig)

type anthropicConfig struct {
	model   string
	baseURL string
}

func WithAnthropicModel(model string) AnthropicOption {
	return func(c *anthropicConfig) {
		if model != "" {
			c.model = model
		}
	}
}

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(c *anthropicConfig) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	cfg := anthropicConfig{model: defaultClaudeModel}
	for _, o := range opts {
		o(&cfg)
	}
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(clientOpts...),
		defaultModel: cfg.model,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) buildParams(req ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := maxTokensOr(req.MaxTokens)

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if budget, ok := thinkingBudgets[req.ThinkLevel]; ok {
		if budget >= maxTokens {
			params.MaxTokens = budget + maxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	result := &ChatResponse{Model: string(params.Model), FinishReason: "stop"}
	var content, thinking strings.Builder

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			if ev.Message.Model != "" {
				result.Model = string(ev.Message.Model)
			}
			result.Usage = &Usage{PromptTokens: ev.Message.Usage.InputTokens}
			if onChunk != nil {
				onChunk(StreamChunk{Model: result.Model})
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				content.WriteString(d.Text)
				if onChunk != nil {
					onChunk(StreamChunk{Content: d.Text})
				}
			case anthropic.ThinkingDelta:
				thinking.WriteString(d.Thinking)
				if onChunk != nil {
					onChunk(StreamChunk{Thinking: d.Thinking})
				}
			}
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason == anthropic.StopReasonMaxTokens {
				result.FinishReason = "length"
			}
			if result.Usage == nil {
				result.Usage = &Usage{}
			}
			result.Usage.CompletionTokens = ev.Usage.OutputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	result.Content = content.String()
	result.Thinking = thinking.String()
	if result.Usage != nil {
		result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
	}
	return result, nil
}
