package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawrelay/internal/agent"
	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
	"github.com/nextlevelbuilder/clawrelay/internal/channels/typing"
	"github.com/nextlevelbuilder/clawrelay/internal/chunker"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
	"github.com/nextlevelbuilder/clawrelay/internal/reply"
	"github.com/nextlevelbuilder/clawrelay/internal/sessions"
	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

const eventBuffer = 32

// chunkLimiter is implemented by channels embedding channels.BaseChannel.
type chunkLimiter interface {
	ChunkLimits() chunker.Limits
}

// turn carries everything resolved for one inbound message.
type turn struct {
	msg        bus.InboundMessage
	cfg        *config.Config
	agentID    string
	agentCfg   config.AgentDefaults
	runner     agent.Runner
	ch         channels.Channel
	delivery   config.DeliveryConfig
	peerKind   sessions.PeerKind
	sessionKey string
	storePath  string
	historyKey string
}

func (p *Processor) processTurn(msg bus.InboundMessage) {
	ctx, span := tracer.Start(p.turnCtx, "gateway.turn", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("chat_id", msg.ChatID),
		attribute.String("peer_kind", msg.PeerKind),
	))
	defer span.End()

	res, err := p.runTurn(ctx, msg)
	span.SetAttributes(attribute.Bool("reply.queued_final", res.QueuedFinal))
	if err != nil {
		p.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("gateway: turn failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		return
	}
	p.completed.Add(1)
}

// resolve builds the turn's routing: agent, channel and session key.
func (p *Processor) resolve(msg bus.InboundMessage) (*turn, error) {
	cfg := p.opts.Config()

	agentID := msg.AgentID
	if agentID == "" {
		agentID = cfg.ResolveDefaultAgentID()
	}
	agentID = sessions.NormalizeAgentID(agentID)
	runner, err := p.opts.Agents.Get(agentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}

	ch, ok := p.opts.Channels.GetChannel(msg.Channel)
	if !ok {
		return nil, fmt.Errorf("channel %s not registered", msg.Channel)
	}

	t := &turn{
		msg:        msg,
		cfg:        cfg,
		agentID:    agentID,
		agentCfg:   cfg.ResolveAgent(agentID),
		runner:     runner,
		ch:         ch,
		delivery:   ch.Delivery(),
		peerKind:   sessions.PeerKindFromGroup(msg.IsGroup()),
		storePath:  cfg.SessionStorePath(agentID),
		historyKey: conversationKey(msg),
	}
	if t.peerKind == sessions.PeerGroup && msg.ThreadID != "" {
		t.sessionKey = sessions.BuildGroupTopicSessionKey(agentID, msg.Channel, msg.ChatID, msg.ThreadID)
	} else {
		t.sessionKey = sessions.BuildScopedSessionKey(agentID, msg.Channel, t.peerKind, msg.ChatID, sessions.KeyScope{
			Scope:     cfg.Sessions.Scope,
			DMScope:   cfg.Sessions.DmScope,
			MainKey:   cfg.Sessions.MainKey,
			AccountID: msg.AccountID,
		})
	}
	return t, nil
}

func (p *Processor) runTurn(ctx context.Context, msg bus.InboundMessage) (reply.Result, error) {
	t, err := p.resolve(msg)
	if err != nil {
		return reply.Result{}, err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("agent", t.agentID),
		attribute.String("session", t.sessionKey),
	)

	body := p.buildBody(ctx, t)
	rec := p.recordSession(ctx, t)

	req := agent.RunRequest{
		SessionKey:     t.sessionKey,
		RunID:          uuid.NewString(),
		Channel:        msg.Channel,
		ChatID:         msg.ChatID,
		PeerKind:       string(t.peerKind),
		SenderID:       msg.SenderID,
		Message:        body,
		BlockStreaming: t.delivery.BlockStreamingEnabled(),
	}
	if t.peerKind == sessions.PeerDirect {
		req.HistoryLimit = t.delivery.DMHistoryLimit
	}
	if rec != nil {
		req.ProviderOverride = rec.ProviderOverride
		req.ModelOverride = rec.ModelOverride
	}

	slog.Info("gateway: turn started",
		"channel", msg.Channel, "chat_id", msg.ChatID, "agent", t.agentID,
		"session", t.sessionKey, "run_id", req.RunID)

	dispatcher, stopTyping, err := p.newDispatcher(ctx, t)
	if err != nil {
		return reply.Result{}, err
	}
	defer stopTyping()

	events := make(chan reply.Event, eventBuffer)
	runErr := make(chan error, 1)
	go func() {
		runErr <- t.runner.Run(ctx, req, events)
	}()

	res := dispatcher.Run(ctx, events)
	if err := <-runErr; err != nil {
		return res, fmt.Errorf("agent run %s: %w", req.RunID, err)
	}

	if res.QueuedFinal {
		p.opts.History.Clear(t.historyKey)
	}
	slog.Info("gateway: turn finished",
		"channel", msg.Channel, "chat_id", msg.ChatID, "run_id", req.RunID,
		"queued_final", res.QueuedFinal, "blocks", res.Counts.Block, "finals", res.Counts.Final,
		"model", res.Prefix.ModelFull)
	return res, nil
}

// buildBody wraps the message in its envelope and, for groups, prepends
// the unanswered messages recorded since the last reply.
func (p *Processor) buildBody(ctx context.Context, t *turn) string {
	label := channelLabel(t.msg.Channel)
	previous, err := p.opts.Sessions.ReadUpdatedAt(ctx, t.storePath, t.sessionKey)
	if err != nil {
		slog.Warn("gateway: read session timestamp failed", "session", t.sessionKey, "error", err)
	}
	body := Envelope{
		Channel:   label,
		From:      senderLabel(t.msg),
		Timestamp: t.msg.Timestamp,
		Previous:  previous,
		Body:      t.msg.Content,
	}.Format()

	if t.peerKind != sessions.PeerGroup {
		return body
	}
	limit := t.delivery.GroupHistoryLimit(channels.DefaultGroupHistoryLimit)
	return p.opts.History.BuildPendingHistoryContext(t.historyKey, limit, body, func(e channels.HistoryEntry) string {
		text := e.Body
		if e.MessageID != "" {
			text += " [id:" + e.MessageID + "]"
		}
		return Envelope{Channel: label, From: e.Sender, Timestamp: e.Timestamp, Body: text}.Format()
	})
}

// recordSession upserts the session's inbound metadata (and, for DMs, the
// last route) and returns the current record. Store failures are logged;
// the turn continues without overrides.
func (p *Processor) recordSession(ctx context.Context, t *turn) *store.SessionRecord {
	label := t.msg.SenderName
	if t.peerKind == sessions.PeerGroup {
		label = t.msg.ChatID
	}
	if err := p.opts.Sessions.RecordInboundMeta(ctx, t.storePath, t.sessionKey, sessions.InboundMeta{
		Channel:  t.msg.Channel,
		ChatType: string(t.peerKind),
		Label:    label,
	}); err != nil {
		slog.Warn("gateway: record inbound meta failed", "session", t.sessionKey, "error", err)
	}
	if t.peerKind == sessions.PeerDirect {
		if err := p.opts.Sessions.UpdateLastRoute(ctx, t.storePath, t.sessionKey, store.DeliveryContext{
			Channel:   t.msg.Channel,
			To:        t.msg.ChatID,
			AccountID: t.msg.AccountID,
			ThreadID:  t.msg.ThreadID,
		}); err != nil {
			slog.Warn("gateway: update last route failed", "session", t.sessionKey, "error", err)
		}
	}

	state, err := p.opts.Sessions.Load(ctx, t.storePath)
	if err != nil {
		slog.Warn("gateway: load session store failed", "path", t.storePath, "error", err)
		return nil
	}
	return state[t.sessionKey]
}

// newDispatcher builds the reply dispatcher for t. The returned stop
// function ends any typing indicator still running.
func (p *Processor) newDispatcher(ctx context.Context, t *turn) (*reply.Dispatcher, func(), error) {
	var typer *typing.Controller
	if tc, ok := t.ch.(channels.TypingChannel); ok {
		chatID := t.msg.ChatID
		typer = typing.New(typing.Options{
			KeepaliveInterval: tc.TypingKeepalive(),
			StartFn:           func() error { return tc.SendTyping(ctx, chatID) },
		})
	}
	stopTyping := func() {
		if typer != nil {
			typer.Stop()
		}
	}

	opts := reply.Options{
		Deliver: p.deliverFunc(t),
		OnError: func(err error, kind reply.Kind) {
			slog.Warn("gateway: reply delivery failed",
				"channel", t.msg.Channel, "chat_id", t.msg.ChatID, "kind", kind, "error", err)
		},
		OnReplyStart: func(context.Context) error {
			if typer != nil {
				typer.Start()
			}
			return nil
		},
		OnIdle:         stopTyping,
		HumanDelay:     humanDelay(t.agentCfg.HumanDelay),
		ResponsePrefix: t.agentCfg.ResponsePrefix,
		Prefix:         reply.NewPrefixContext(t.agentCfg.IdentityName),
	}

	var limits chunker.Limits
	if cl, ok := t.ch.(chunkLimiter); ok {
		limits = cl.ChunkLimits()
	}

	mode := reply.StreamMode(strings.ToLower(t.delivery.StreamMode))
	if mode == reply.StreamPartial || mode == reply.StreamBlock {
		if dc, ok := t.ch.(channels.DraftChannel); ok {
			if draft := dc.NewDraft(ctx, t.msg.ChatID, t.msg.ThreadID); draft != nil {
				opts.Draft = draft
				opts.StreamMode = mode
				if mode == reply.StreamBlock && limits.MaxChars > 0 {
					l := limits
					opts.DraftChunking = &l
				}
			}
		}
	}

	if t.delivery.BlockStreamingEnabled() {
		if c := t.agentCfg.BlockStreamingCoalesce; c != nil {
			opts.BlockCoalescing = coalesceLimits(*c, limits)
		}
	}

	d, err := reply.NewDispatcher(opts)
	if err != nil {
		return nil, stopTyping, fmt.Errorf("build reply dispatcher: %w", err)
	}
	return d, stopTyping, nil
}

// deliverFunc adapts reply units to outbound channel sends. The reply
// reference follows the channel's reply-to mode across the whole turn.
func (p *Processor) deliverFunc(t *turn) reply.DeliverFunc {
	mode := t.delivery.ReplyMode()
	replied := false
	return func(ctx context.Context, pl reply.Payload, kind reply.Kind) error {
		out := bus.OutboundMessage{
			Channel:   t.msg.Channel,
			AccountID: t.msg.AccountID,
			ChatID:    t.msg.ChatID,
			ThreadID:  t.msg.ThreadID,
			Content:   pl.Text,
		}
		for _, u := range pl.MediaURLs {
			out.Media = append(out.Media, bus.MediaAttachment{URL: u})
		}

		target := pl.ReplyToID
		if target == "" {
			target = t.msg.MessageID
		}
		switch mode {
		case channels.ReplyToAll:
			out.ReplyToID = target
		case channels.ReplyToFirst:
			if !replied {
				out.ReplyToID = target
			}
		}
		replied = true

		outcome, err := p.opts.Channels.Deliver(ctx, out)
		if err != nil {
			return fmt.Errorf("deliver %s to %s/%s: %w", kind, t.msg.Channel, t.msg.ChatID, err)
		}
		slog.Debug("gateway: unit delivered", "kind", kind, "channel", t.msg.Channel, "messages", len(outcome.MessageIDs))
		return nil
	}
}

func humanDelay(c config.HumanDelayConfig) reply.HumanDelay {
	mode := reply.HumanDelayMode(strings.ToLower(c.Mode))
	if mode == "" {
		mode = reply.HumanDelayOff
	}
	return reply.HumanDelay{
		Mode: mode,
		Min:  time.Duration(c.MinMs) * time.Millisecond,
		Max:  time.Duration(c.MaxMs) * time.Millisecond,
	}
}

// coalesceLimits caps the configured coalescing window at the channel's
// chunk limits.
func coalesceLimits(c config.ChunkConfig, channel chunker.Limits) *chunker.Limits {
	l := chunker.Limits{MinChars: c.MinChars, MaxChars: c.MaxChars, MaxLines: channel.MaxLines}
	if channel.MaxChars > 0 && (l.MaxChars <= 0 || l.MaxChars > channel.MaxChars) {
		l.MaxChars = channel.MaxChars
	}
	if l.MinChars > l.MaxChars && l.MaxChars > 0 {
		l.MinChars = l.MaxChars
	}
	return &l
}
