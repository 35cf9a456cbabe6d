package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI-compatible APIs
// (OpenAI, Groq, OpenRouter, DeepSeek, VLLM, etc.)
type OpenAIProvider struct {
	name         string
	client       openai.Client
	defaultModel string
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if name == "" {
		name = "openai"
	}
	if defaultModel == "" {
		defaultModel = openai.ChatModelGPT4oMini
	}
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(apiBase, "/")+"/"))
	}
	return &OpenAIProvider{
		name:         name,
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// resolveModel returns the model ID to use for a request.
// OpenRouter model IDs require a provider prefix; an unprefixed model falls
// back to the provider's default.
func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	if p.name == "openrouter" && !strings.Contains(model, "/") {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) buildParams(req ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:               p.resolveModel(req.Model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokensOr(req.MaxTokens)),
	}
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	params := p.buildParams(req)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	result := &ChatResponse{Model: params.Model, FinishReason: "stop"}
	var content strings.Builder
	announced := false

	for stream.Next() {
		ck := stream.Current()
		if !announced && ck.Model != "" {
			announced = true
			result.Model = ck.Model
			if onChunk != nil {
				onChunk(StreamChunk{Model: ck.Model})
			}
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				content.WriteString(ch.Delta.Content)
				if onChunk != nil {
					onChunk(StreamChunk{Content: ch.Delta.Content})
				}
			}
			if ch.FinishReason == "length" {
				result.FinishReason = "length"
			}
		}
		if ck.Usage.TotalTokens > 0 {
			result.Usage = &Usage{
				PromptTokens:     ck.Usage.PromptTokens,
				CompletionTokens: ck.Usage.CompletionTokens,
				TotalTokens:      ck.Usage.TotalTokens,
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%s stream: %w", p.name, err)
	}
	result.Content = content.String()
	return result, nil
}
