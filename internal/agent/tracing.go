package agent

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawrelay/internal/providers"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/clawrelay/internal/agent")

const previewLen = 500

func (l *Loop) startRunSpan(ctx context.Context, req RunRequest, model string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.id", l.id),
		attribute.String("agent.run_id", req.RunID),
		attribute.String("agent.session_key", req.SessionKey),
		attribute.String("llm.provider", l.provider.Name()),
		attribute.String("llm.model", model),
		attribute.Bool("agent.block_streaming", req.BlockStreaming),
		attribute.String("agent.input_preview", truncateStr(req.Message, previewLen)),
	))
}

func (l *Loop) endRunSpan(span trace.Span, start time.Time, resp *providers.ChatResponse, runErr error) {
	defer span.End()
	span.SetAttributes(attribute.Int64("agent.duration_ms", time.Since(start).Milliseconds()))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return
	}
	if resp == nil {
		return
	}
	span.SetAttributes(
		attribute.String("llm.response_model", resp.Model),
		attribute.String("llm.finish_reason", resp.FinishReason),
		attribute.String("agent.output_preview", truncateStr(resp.Content, previewLen)),
	)
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int64("llm.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int64("llm.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
}

func truncateStr(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= maxLen {
		return s
	}
	// Don't cut in the middle of a multi-byte rune
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

// EstimateTokens returns a rough token estimate for a slice of messages.
func EstimateTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += utf8.RuneCountInString(m.Content) / 3
	}
	return total
}
