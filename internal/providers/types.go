package providers

import "context"

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// ChatStream sends messages and streams response chunks via callback.
	// Returns the final complete response after streaming ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// ChatRequest contains the input for a ChatStream call.
type ChatRequest struct {
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model,omitempty"`
	MaxTokens int64     `json:"max_tokens,omitempty"`
	// ThinkLevel is "off", "low", "medium" or "high". Providers without
	// reasoning support ignore it.
	ThinkLevel string `json:"think_level,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Model        string `json:"model"`
	Content      string `json:"content"`
	Thinking     string `json:"thinking,omitempty"`
	FinishReason string `json:"finish_reason"` // "stop", "length"
	Usage        *Usage `json:"usage,omitempty"`
}

// StreamChunk is a piece of a streaming response. Model is set once, on the
// first chunk that reports which model is serving the request.
type StreamChunk struct {
	Model    string `json:"model,omitempty"`
	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant"
	Content string `json:"content"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

const defaultMaxTokens = 4096

func maxTokensOr(n int64) int64 {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
