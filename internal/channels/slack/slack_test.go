package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
)

type post struct {
	channel string
	text    string
	thread  string
}

type fakeClient struct {
	mu        sync.Mutex
	posts     []post
	failFirst error
	calls     int
}

func (f *fakeClient) AuthTestContext(context.Context) (*slackapi.AuthTestResponse, error) {
	return &slackapi.AuthTestResponse{UserID: "UBOT"}, nil
}

func (f *fakeClient) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 && f.failFirst != nil {
		return "", "", f.failFirst
	}
	_, values, err := slackapi.UnsafeApplyMsgOptions("token", channelID, "https://slack.invalid/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.posts = append(f.posts, post{channel: channelID, text: values.Get("text"), thread: values.Get("thread_ts")})
	return channelID, "1700000000.00000" + string(rune('0'+len(f.posts))), nil
}

func (f *fakeClient) GetUserInfoContext(_ context.Context, userID string) (*slackapi.User, error) {
	if userID == "U1" {
		return &slackapi.User{RealName: "Ada Lovelace", Profile: slackapi.UserProfile{DisplayName: "ada"}}, nil
	}
	return nil, errors.New("user_not_found")
}

type fakeRouter struct {
	mu      sync.Mutex
	inbound []bus.InboundMessage
}

func (r *fakeRouter) PublishInbound(m bus.InboundMessage) {
	r.mu.Lock()
	r.inbound = append(r.inbound, m)
	r.mu.Unlock()
}
func (r *fakeRouter) ConsumeInbound(context.Context) (bus.InboundMessage, bool) {
	return bus.InboundMessage{}, false
}
func (r *fakeRouter) PublishOutbound(bus.OutboundMessage) {}
func (r *fakeRouter) SubscribeOutbound(context.Context) (bus.OutboundMessage, bool) {
	return bus.OutboundMessage{}, false
}

func newTestChannel(t *testing.T, delivery config.DeliveryConfig) (*Channel, *fakeClient, *fakeRouter) {
	t.Helper()
	client := &fakeClient{}
	router := &fakeRouter{}
	c := &Channel{
		BaseChannel: channels.NewBaseChannel("slack", router, delivery, MaxMessageChars),
		config:      config.SlackConfig{DeliveryConfig: delivery},
		client:      client,
		botUserID:   "UBOT",
	}
	c.SetRunning(true)
	return c, client, router
}

func TestSendThreading(t *testing.T) {
	tests := []struct {
		name    string
		msg     bus.OutboundMessage
		threads []string
	}{
		{"inbound thread wins", bus.OutboundMessage{ChatID: "C1", ThreadID: "111.1", ReplyToID: "222.2", Content: "hi"}, []string{"111.1"}},
		{"reply starts a thread", bus.OutboundMessage{ChatID: "C1", ReplyToID: "222.2", Content: "hi"}, []string{"222.2"}},
		{"no reference", bus.OutboundMessage{ChatID: "C1", Content: "hi"}, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, client, _ := newTestChannel(t, config.DeliveryConfig{})
			out, err := c.Send(context.Background(), tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			if len(out.MessageIDs) != len(tt.threads) {
				t.Fatalf("outcome = %+v", out)
			}
			for i, want := range tt.threads {
				if client.posts[i].thread != want {
					t.Errorf("post %d thread = %q, want %q", i, client.posts[i].thread, want)
				}
			}
		})
	}
}

func TestSendChunksLongText(t *testing.T) {
	c, client, _ := newTestChannel(t, config.DeliveryConfig{TextChunkLimit: 10})
	out, err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "C1", Content: "alpha beta gamma delta"})
	if err != nil {
		t.Fatal(err)
	}
	if len(client.posts) < 2 || len(out.MessageIDs) != len(client.posts) {
		t.Fatalf("posts = %+v", client.posts)
	}
	for _, p := range client.posts {
		if len([]rune(p.text)) > 10 {
			t.Errorf("chunk %q exceeds limit", p.text)
		}
	}
}

func TestSendRetriesRateLimit(t *testing.T) {
	c, client, _ := newTestChannel(t, config.DeliveryConfig{})
	client.failFirst = &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	if _, err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "C1", Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if client.calls != 2 || len(client.posts) != 1 {
		t.Fatalf("calls = %d, posts = %d", client.calls, len(client.posts))
	}
}

func TestSendDoesNotRetryOtherErrors(t *testing.T) {
	c, client, _ := newTestChannel(t, config.DeliveryConfig{})
	client.failFirst = errors.New("channel_not_found")
	if _, err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "C1", Content: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if client.calls != 1 {
		t.Fatalf("calls = %d", client.calls)
	}
}

func TestHandleMessage(t *testing.T) {
	c, _, router := newTestChannel(t, config.DeliveryConfig{})
	c.handleMessage(context.Background(), &slackevents.MessageEvent{
		User:            "U1",
		Channel:         "C1",
		ChannelType:     "channel",
		Text:            "<@UBOT> what's up",
		TimeStamp:       "1700000000.000100",
		ThreadTimeStamp: "1699999999.000001",
	})
	c.handleMessage(context.Background(), &slackevents.MessageEvent{User: "UBOT", Channel: "C1", Text: "self"})
	c.handleMessage(context.Background(), &slackevents.MessageEvent{User: "U2", Channel: "C1", SubType: "message_changed"})

	if len(router.inbound) != 1 {
		t.Fatalf("inbound = %+v", router.inbound)
	}
	got := router.inbound[0]
	if got.Content != "what's up" || !got.WasMentioned || got.PeerKind != bus.PeerGroup {
		t.Fatalf("msg = %+v", got)
	}
	if got.SenderName != "ada" || got.ThreadID != "1699999999.000001" || got.Channel != "slack" {
		t.Fatalf("msg = %+v", got)
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	ts := parseSlackTimestamp("1700000000.000100")
	if ts.Unix() != 1700000000 || ts.Nanosecond() != 100000 {
		t.Fatalf("ts = %v", ts)
	}
	if !parseSlackTimestamp("bogus").IsZero() {
		t.Fatal("bogus should be zero")
	}
}
