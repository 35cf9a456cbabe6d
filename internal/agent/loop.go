package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/clawrelay/internal/chunker"
	"github.com/nextlevelbuilder/clawrelay/internal/providers"
	"github.com/nextlevelbuilder/clawrelay/internal/reply"
)

// Runner produces the reply events of one agent turn. Run closes events
// before returning, whatever the outcome.
type Runner interface {
	ID() string
	Run(ctx context.Context, req RunRequest, events chan<- reply.Event) error
}

// RunRequest is the input for processing a message through the agent.
type RunRequest struct {
	SessionKey string // composite key: agent:{agentId}:{channel}:{peerKind}:{chatId}
	RunID      string
	Channel    string
	ChatID     string
	PeerKind   string
	SenderID   string
	Message    string // envelope-formatted user message, history context included

	// ProviderOverride and ModelOverride come from the session record.
	// A model override naming another provider is ignored.
	ProviderOverride string
	ModelOverride    string

	HistoryLimit   int  // max user turns replayed from the transcript (0 = all kept)
	BlockStreaming bool // emit Block events while streaming
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	ID            string
	Provider      providers.Provider
	Model         string
	MaxTokens     int64
	ThinkLevel    string // "off", "low", "medium", "high"
	SystemPrompt  string
	BlockChunking chunker.Limits
	Transcripts   *Transcripts // nil keeps no conversation memory
}

// Loop runs single-shot streamed completions for one agent.
type Loop struct {
	id            string
	provider      providers.Provider
	model         string
	maxTokens     int64
	thinkLevel    string
	systemPrompt  string
	blockChunking chunker.Limits
	transcripts   *Transcripts

	activeRuns atomic.Int32
}

func NewLoop(cfg LoopConfig) *Loop {
	think := cfg.ThinkLevel
	if think == "" {
		think = "off"
	}
	return &Loop{
		id:            cfg.ID,
		provider:      cfg.Provider,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		thinkLevel:    think,
		systemPrompt:  cfg.SystemPrompt,
		blockChunking: cfg.BlockChunking,
		transcripts:   cfg.Transcripts,
	}
}

func (l *Loop) ID() string      { return l.id }
func (l *Loop) IsRunning() bool { return l.activeRuns.Load() > 0 }

// Model returns the configured model, or the provider default.
func (l *Loop) Model() string {
	if l.model != "" {
		return l.model
	}
	return l.provider.DefaultModel()
}

func (l *Loop) resolveModel(req RunRequest) string {
	if req.ModelOverride == "" {
		return l.Model()
	}
	if req.ProviderOverride != "" && req.ProviderOverride != l.provider.Name() {
		slog.Debug("agent: ignoring model override for another provider",
			"agent", l.id, "provider", req.ProviderOverride, "model", req.ModelOverride)
		return l.Model()
	}
	return req.ModelOverride
}

// Run streams one completion into events: ModelSelected first, cumulative
// Partial and Reasoning events, Block events when block streaming is on,
// and a Final carrying whatever was not delivered as a block. A provider
// failure ends the stream without a Final and returns an error wrapping
// reply.ErrStreamAborted.
func (l *Loop) Run(ctx context.Context, req RunRequest, events chan<- reply.Event) (err error) {
	defer close(events)
	l.activeRuns.Add(1)
	defer l.activeRuns.Add(-1)

	model := l.resolveModel(req)
	ctx, span := l.startRunSpan(ctx, req, model)
	start := time.Now()
	var resp *providers.ChatResponse
	defer func() { l.endRunSpan(span, start, resp, err) }()

	out := emitter{ctx: ctx, events: events}
	out.send(reply.ModelSelected{Provider: l.provider.Name(), Model: model, ThinkLevel: l.thinkLevel})

	history := l.transcripts.Recent(req.SessionKey, req.HistoryLimit)
	messages := append(history, providers.Message{Role: "user", Content: req.Message})

	var blocks *chunker.BlockChunker
	if req.BlockStreaming {
		blocks = chunker.New(l.blockChunking)
	}
	var visible streamText
	var thinking strings.Builder
	announced := model

	resp, err = l.provider.ChatStream(ctx, providers.ChatRequest{
		System:     l.systemPrompt,
		Messages:   messages,
		Model:      model,
		MaxTokens:  l.maxTokens,
		ThinkLevel: l.thinkLevel,
	}, func(c providers.StreamChunk) {
		if c.Model != "" && c.Model != announced {
			announced = c.Model
			out.send(reply.ModelSelected{Provider: l.provider.Name(), Model: c.Model, ThinkLevel: l.thinkLevel})
		}
		if c.Thinking != "" {
			thinking.WriteString(c.Thinking)
			out.send(reply.Reasoning{Text: thinking.String()})
		}
		if c.Content == "" {
			return
		}
		// Partials and blocks only ever see sanitized text; reasoning
		// tags and media directives stay out of the chat.
		added := visible.append(c.Content)
		if added == "" {
			return
		}
		out.send(reply.Partial{Text: visible.visible})
		if blocks != nil {
			blocks.Append(added)
			blocks.Drain(false, func(b string) {
				out.send(reply.Block{Payload: reply.Payload{Text: b}})
			})
		}
	})
	if err != nil {
		return fmt.Errorf("agent %s: %w: %w", l.id, reply.ErrStreamAborted, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("agent %s: %w: %w", l.id, reply.ErrStreamAborted, ctx.Err())
	}

	final := SanitizeAssistantContent(resp.Content)
	if blocks != nil {
		blocks.Append(visible.finish())
		var rest []string
		blocks.Drain(true, func(b string) { rest = append(rest, b) })
		final = ""
		for i, b := range rest {
			if i == len(rest)-1 {
				final = strings.TrimSpace(b)
				break
			}
			out.send(reply.Block{Payload: reply.Payload{Text: b}})
		}
	}

	if !reply.IsSilentReply(resp.Content) {
		l.transcripts.Append(req.SessionKey,
			providers.Message{Role: "user", Content: req.Message},
			providers.Message{Role: "assistant", Content: SanitizeAssistantContent(resp.Content)},
		)
	}

	out.send(reply.Final{Payload: reply.Payload{Text: final}})
	return nil
}

// emitter writes events unless the run context is done.
type emitter struct {
	ctx    context.Context
	events chan<- reply.Event
}

func (e emitter) send(ev reply.Event) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}
