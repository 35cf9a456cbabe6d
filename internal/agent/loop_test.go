package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/clawrelay/internal/chunker"
	"github.com/nextlevelbuilder/clawrelay/internal/providers"
	"github.com/nextlevelbuilder/clawrelay/internal/reply"
)

type fakeProvider struct {
	chunks []providers.StreamChunk
	err    error
	gotReq providers.ChatRequest
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }

func (f *fakeProvider) ChatStream(_ context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	f.gotReq = req
	resp := &providers.ChatResponse{Model: req.Model, FinishReason: "stop"}
	for _, c := range f.chunks {
		resp.Content += c.Content
		onChunk(c)
	}
	if f.err != nil {
		return nil, f.err
	}
	return resp, nil
}

func collect(t *testing.T, l *Loop, req RunRequest) ([]reply.Event, error) {
	t.Helper()
	events := make(chan reply.Event, 64)
	err := l.Run(context.Background(), req, events)
	var out []reply.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, err
}

func TestLoopStreamsPartialsThenFinal(t *testing.T) {
	p := &fakeProvider{chunks: []providers.StreamChunk{{Content: "Hel"}, {Content: "lo"}}}
	l := NewLoop(LoopConfig{ID: "main", Provider: p})

	got, err := collect(t, l, RunRequest{SessionKey: "k", Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	want := []reply.Event{
		reply.ModelSelected{Provider: "fake", Model: "fake-model", ThinkLevel: "off"},
		reply.Partial{Text: "Hel"},
		reply.Partial{Text: "Hello"},
		reply.Final{Payload: reply.Payload{Text: "Hello"}},
	}
	assertEvents(t, got, want)
}

func TestLoopBlockStreaming(t *testing.T) {
	p := &fakeProvider{chunks: []providers.StreamChunk{{Content: "Para one.\n\n"}, {Content: "Para two."}}}
	l := NewLoop(LoopConfig{
		ID:            "main",
		Provider:      p,
		BlockChunking: chunker.Limits{MaxChars: 100, MinChars: 5},
	})

	got, err := collect(t, l, RunRequest{Message: "hi", BlockStreaming: true})
	if err != nil {
		t.Fatal(err)
	}
	want := []reply.Event{
		reply.ModelSelected{Provider: "fake", Model: "fake-model", ThinkLevel: "off"},
		reply.Partial{Text: "Para one.\n\n"},
		reply.Block{Payload: reply.Payload{Text: "Para one."}},
		reply.Partial{Text: "Para one.\n\nPara two."},
		reply.Final{Payload: reply.Payload{Text: "Para two."}},
	}
	assertEvents(t, got, want)
}

func TestLoopAnnouncesServedModel(t *testing.T) {
	p := &fakeProvider{chunks: []providers.StreamChunk{
		{Model: "fake-model-2025"},
		{Thinking: "hmm"},
		{Content: "ok"},
	}}
	l := NewLoop(LoopConfig{ID: "main", Provider: p, ThinkLevel: "low"})

	got, err := collect(t, l, RunRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	want := []reply.Event{
		reply.ModelSelected{Provider: "fake", Model: "fake-model", ThinkLevel: "low"},
		reply.ModelSelected{Provider: "fake", Model: "fake-model-2025", ThinkLevel: "low"},
		reply.Reasoning{Text: "hmm"},
		reply.Partial{Text: "ok"},
		reply.Final{Payload: reply.Payload{Text: "ok"}},
	}
	assertEvents(t, got, want)
}

func TestLoopProviderErrorAbortsWithoutFinal(t *testing.T) {
	p := &fakeProvider{
		chunks: []providers.StreamChunk{{Content: "partial"}},
		err:    errors.New("connection reset"),
	}
	l := NewLoop(LoopConfig{ID: "main", Provider: p})

	got, err := collect(t, l, RunRequest{Message: "hi"})
	if !errors.Is(err, reply.ErrStreamAborted) {
		t.Fatalf("err = %v, want ErrStreamAborted", err)
	}
	for _, ev := range got {
		if _, ok := ev.(reply.Final); ok {
			t.Fatal("aborted stream emitted Final")
		}
	}
}

func TestLoopModelOverride(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		want     string
	}{
		{"no override", "", "", "configured"},
		{"same provider", "fake", "other", "other"},
		{"unqualified", "", "other", "other"},
		{"foreign provider", "openai", "gpt-4o", "configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{chunks: []providers.StreamChunk{{Content: "x"}}}
			l := NewLoop(LoopConfig{ID: "main", Provider: p, Model: "configured"})
			if _, err := collect(t, l, RunRequest{Message: "hi", ProviderOverride: tt.provider, ModelOverride: tt.model}); err != nil {
				t.Fatal(err)
			}
			if p.gotReq.Model != tt.want {
				t.Errorf("model = %q, want %q", p.gotReq.Model, tt.want)
			}
		})
	}
}

func TestLoopRemembersTranscript(t *testing.T) {
	tr := NewTranscripts(0)
	p := &fakeProvider{chunks: []providers.StreamChunk{{Content: "first answer"}}}
	l := NewLoop(LoopConfig{ID: "main", Provider: p, Transcripts: tr})

	if _, err := collect(t, l, RunRequest{SessionKey: "s", Message: "q1"}); err != nil {
		t.Fatal(err)
	}
	p.chunks = []providers.StreamChunk{{Content: "second"}}
	if _, err := collect(t, l, RunRequest{SessionKey: "s", Message: "q2"}); err != nil {
		t.Fatal(err)
	}
	msgs := p.gotReq.Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Content != "q1" || msgs[1].Content != "first answer" || msgs[2].Content != "q2" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestLoopBlocksNeverCarryReasoning(t *testing.T) {
	p := &fakeProvider{chunks: []providers.StreamChunk{
		{Content: "<think>secret plan</think>\n\nHello there.\n\n"},
		{Content: "Bye."},
	}}
	l := NewLoop(LoopConfig{
		ID:            "main",
		Provider:      p,
		BlockChunking: chunker.Limits{MaxChars: 100, MinChars: 5},
	})

	got, err := collect(t, l, RunRequest{Message: "hi", BlockStreaming: true})
	if err != nil {
		t.Fatal(err)
	}
	want := []reply.Event{
		reply.ModelSelected{Provider: "fake", Model: "fake-model", ThinkLevel: "off"},
		reply.Partial{Text: "Hello there.\n\n"},
		reply.Block{Payload: reply.Payload{Text: "Hello there."}},
		reply.Partial{Text: "Hello there.\n\nBye."},
		reply.Final{Payload: reply.Payload{Text: "Bye."}},
	}
	assertEvents(t, got, want)
}

func TestLoopPartialsHoldBackSplitMarkup(t *testing.T) {
	p := &fakeProvider{chunks: []providers.StreamChunk{
		{Content: "Sure.<thi"},
		{Content: "nk>hidden</think> Done.\nMED"},
		{Content: "IA:/tmp/a.png"},
	}}
	l := NewLoop(LoopConfig{ID: "main", Provider: p})

	got, err := collect(t, l, RunRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	want := []reply.Event{
		reply.ModelSelected{Provider: "fake", Model: "fake-model", ThinkLevel: "off"},
		reply.Partial{Text: "Sure."},
		reply.Partial{Text: "Sure. Done.\n"},
		reply.Final{Payload: reply.Payload{Text: "Sure. Done."}},
	}
	assertEvents(t, got, want)
	for _, ev := range got {
		if part, ok := ev.(reply.Partial); ok && (strings.Contains(part.Text, "<") || strings.Contains(part.Text, "MED")) {
			t.Errorf("partial leaked markup: %q", part.Text)
		}
	}
}

func assertEvents(t *testing.T, got, want []reply.Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %#v\nwant %#v", got, want)
	}
	for i := range want {
		if !eventEqual(got[i], want[i]) {
			t.Errorf("event %d = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func eventEqual(a, b reply.Event) bool {
	switch x := a.(type) {
	case reply.Block:
		y, ok := b.(reply.Block)
		return ok && x.Payload.Text == y.Payload.Text && x.Payload.ReplyToID == y.Payload.ReplyToID
	case reply.Final:
		y, ok := b.(reply.Final)
		return ok && x.Payload.Text == y.Payload.Text && x.Payload.ReplyToID == y.Payload.ReplyToID
	default:
		return a == b
	}
}
