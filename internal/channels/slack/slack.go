// Package slack implements the Slack channel using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
)

const (
	// MaxMessageChars is the practical limit for one Slack message.
	MaxMessageChars = 4000
	// Room kept for a media reference appended to a captioned message.
	mediaLinkReserve = 256

	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// slackClient abstracts the Slack API methods we use.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Channel connects to Slack over Socket Mode.
type Channel struct {
	*channels.BaseChannel
	config    config.SlackConfig
	client    slackClient
	socket    socketClient
	botUserID string
	userNames sync.Map // userID → display name
	cancel    context.CancelFunc
	done      chan struct{}

	baseBackoff  time.Duration
	maxReconnect int
}

// New creates a Slack channel from config.
func New(cfg config.SlackConfig, msgBus bus.MessageRouter) (*Channel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	api := slackapi.New(cfg.BotToken, slackapi.OptionAppLevelToken(cfg.AppToken))
	return &Channel{
		BaseChannel:  channels.NewBaseChannel("slack", msgBus, cfg.DeliveryConfig, MaxMessageChars),
		config:       cfg,
		client:       api,
		socket:       &realSocketClient{client: socketmode.New(api)},
		baseBackoff:  baseBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Start authenticates and begins pumping Socket Mode events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting slack bot (socket mode)")

	auth, err := c.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	c.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.runWithReconnect(runCtx)
	go func() {
		defer close(c.done)
		c.pumpEvents(runCtx)
	}()

	c.SetRunning(true)
	slog.Info("slack: bot connected", "user_id", auth.UserID, "team", auth.Team)
	return nil
}

// Stop cancels the socket and waits for the event pump to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping slack bot")
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return nil
}

// Send posts msg as one or more Slack messages. Replies go into the
// conversation thread: the inbound thread if there is one, otherwise a
// thread started on the message being answered.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (bus.DeliveryOutcome, error) {
	out := bus.DeliveryOutcome{Channel: c.Name(), ChatID: msg.ChatID}
	if !c.IsRunning() {
		return out, fmt.Errorf("slack: not connected")
	}
	if msg.ChatID == "" {
		return out, fmt.Errorf("slack: no channel specified")
	}

	limits := c.ChunkLimits()
	for _, part := range channels.PlanParts(msg, limits, c.config.ReplyMode(), max(limits.MaxChars-mediaLinkReserve, 1)) {
		options := buildMessageOptions(msg.ThreadID, part)
		var ts string
		err := retryOnRateLimit(ctx, func() error {
			var postErr error
			_, ts, postErr = c.client.PostMessageContext(ctx, msg.ChatID, options...)
			return postErr
		})
		if err != nil {
			return out, fmt.Errorf("slack: post message: %w", err)
		}
		out.MessageIDs = append(out.MessageIDs, ts)
	}
	return out, nil
}

// buildMessageOptions maps one planned part to Slack message options.
// Remote media are posted as links for Slack to unfurl; local files are
// named only.
func buildMessageOptions(threadID string, part channels.Part) []slackapi.MsgOption {
	text := part.Text
	if m := part.Media; m != nil {
		ref := m.URL
		if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
			ref = "[attachment: " + filepath.Base(ref) + "]"
		}
		text = strings.TrimSpace(text + "\n" + ref)
	}

	options := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	switch {
	case threadID != "":
		options = append(options, slackapi.MsgOptionTS(threadID))
	case part.ReplyToID != "":
		options = append(options, slackapi.MsgOptionTS(part.ReplyToID))
	}
	return options
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (c *Channel) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < c.maxReconnect; attempt++ {
		err := c.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		slog.Warn("slack: socket mode disconnected, reconnecting",
			"attempt", attempt+1, "max", c.maxReconnect, "error", err, "wait", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	slog.Error("slack: socket mode exhausted reconnection attempts", "attempts", c.maxReconnect)
}

func (c *Channel) pumpEvents(ctx context.Context) {
	events := c.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.handleSocketEvent(ctx, evt)
		}
	}
}

func (c *Channel) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		// app_mention duplicates the message event in channels; the
		// mention is detected from the message text instead.
		if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			c.handleMessage(ctx, ev)
		}
	case socketmode.EventTypeConnected:
		slog.Info("slack: connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		slog.Warn("slack: connection error", "data", evt.Data)
	case socketmode.EventTypeDisconnect:
		slog.Info("slack: server requested disconnect, will reconnect")
	}
}

var mentionToken = regexp.MustCompile(`<@([A-Z0-9]+)>`)

func (c *Channel) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.User == "" || ev.User == c.botUserID || ev.BotID != "" || ev.SubType != "" {
		return
	}

	peerKind := bus.PeerGroup
	if ev.ChannelType == "im" {
		peerKind = bus.PeerDirect
	}

	mentioned := false
	for _, m := range mentionToken.FindAllStringSubmatch(ev.Text, -1) {
		if m[1] == c.botUserID {
			mentioned = true
		}
	}
	content := strings.TrimSpace(strings.ReplaceAll(ev.Text, "<@"+c.botUserID+">", ""))
	if content == "" {
		content = "[empty message]"
	}

	msg := bus.InboundMessage{
		SenderID:     ev.User,
		SenderName:   c.resolveUserName(ctx, ev.User),
		ChatID:       ev.Channel,
		ThreadID:     ev.ThreadTimeStamp,
		MessageID:    ev.TimeStamp,
		Content:      content,
		PeerKind:     peerKind,
		WasMentioned: mentioned,
		Timestamp:    parseSlackTimestamp(ev.TimeStamp),
	}
	if !c.HandleMessage(msg) {
		slog.Debug("slack: message rejected by policy", "user", ev.User, "channel", ev.Channel)
		return
	}
	slog.Debug("slack: message received",
		"user", ev.User, "channel", ev.Channel, "preview", channels.Truncate(content, 50))
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (c *Channel) resolveUserName(ctx context.Context, userID string) string {
	if v, ok := c.userNames.Load(userID); ok {
		return v.(string)
	}
	name := userID
	if user, err := c.client.GetUserInfoContext(ctx, userID); err == nil {
		switch {
		case user.Profile.DisplayName != "":
			name = user.Profile.DisplayName
		case user.RealName != "":
			name = user.RealName
		}
	}
	c.userNames.Store(userID, name)
	return name
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors,
// honouring RetryAfter.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// parseSlackTimestamp converts a Slack timestamp ("1234567890.123456") to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*1000)
}
