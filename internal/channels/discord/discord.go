package discord

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
	"github.com/nextlevelbuilder/clawrelay/internal/reply"
)

const (
	// MaxMessageChars is Discord's hard message length limit.
	MaxMessageChars = 2000
	// Room kept for a media URL appended to a captioned message.
	mediaLinkReserve = 256
	// Discord typing expires after 10s.
	typingKeepalive = 9 * time.Second
	draftInterval   = 1200 * time.Millisecond
)

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string // populated on start
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, msgBus bus.MessageRouter) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.DeliveryConfig, MaxMessageChars),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord: bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Send posts msg as one or more Discord messages. The reply reference goes
// on the first message only unless reply_to_mode says otherwise; media
// follow the text.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (bus.DeliveryOutcome, error) {
	out := bus.DeliveryOutcome{Channel: c.Name(), ChatID: msg.ChatID}
	if !c.IsRunning() {
		return out, fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return out, fmt.Errorf("empty chat ID for discord send")
	}

	limits := c.ChunkLimits()
	for _, part := range channels.PlanParts(msg, limits, c.config.ReplyMode(), max(limits.MaxChars-mediaLinkReserve, 1)) {
		send, cleanup, err := buildMessageSend(msg.ChatID, part)
		if err != nil {
			return out, err
		}
		sent, err := c.session.ChannelMessageSendComplex(msg.ChatID, send, discordgo.WithContext(ctx))
		cleanup()
		if err != nil {
			return out, fmt.Errorf("send discord message: %w", err)
		}
		out.MessageIDs = append(out.MessageIDs, sent.ID)
	}
	return out, nil
}

// buildMessageSend maps one planned part to a Discord send. Remote media
// are posted as links (Discord unfurls them); local files are uploaded.
func buildMessageSend(channelID string, part channels.Part) (*discordgo.MessageSend, func(), error) {
	send := &discordgo.MessageSend{Content: part.Text}
	cleanup := func() {}

	if part.ReplyToID != "" {
		send.Reference = &discordgo.MessageReference{MessageID: part.ReplyToID, ChannelID: channelID}
		send.AllowedMentions = &discordgo.MessageAllowedMentions{RepliedUser: false}
	}

	if m := part.Media; m != nil {
		if isRemote(m.URL) {
			send.Content = strings.TrimSpace(part.Text + "\n" + m.URL)
		} else {
			f, err := os.Open(m.URL)
			if err != nil {
				return nil, cleanup, fmt.Errorf("open discord attachment: %w", err)
			}
			cleanup = func() { f.Close() }
			ct := m.ContentType
			if ct == "" {
				ct = mime.TypeByExtension(filepath.Ext(m.URL))
			}
			send.Files = []*discordgo.File{{Name: filepath.Base(m.URL), ContentType: ct, Reader: f}}
		}
	}
	return send, cleanup, nil
}

func isRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// SendTyping shows the typing indicator in channelID.
func (c *Channel) SendTyping(ctx context.Context, channelID string) error {
	return c.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// TypingKeepalive returns how often the typing indicator must be repeated.
func (c *Channel) TypingKeepalive() time.Duration { return typingKeepalive }

// NewDraft returns a preview that edits one message in place.
func (c *Channel) NewDraft(ctx context.Context, chatID, _ string) reply.DraftStream {
	return channels.NewEditDraft(ctx, &draftSurface{session: c.session, channelID: chatID}, channels.DraftOptions{
		MinInterval: draftInterval,
		MaxChars:    MaxMessageChars,
		Label:       c.Name(),
	})
}

type draftSurface struct {
	session   *discordgo.Session
	channelID string
}

func (s *draftSurface) Post(ctx context.Context, text string) (string, error) {
	m, err := s.session.ChannelMessageSend(s.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (s *draftSurface) Edit(ctx context.Context, id, text string) error {
	_, err := s.session.ChannelMessageEdit(s.channelID, id, text, discordgo.WithContext(ctx))
	return err
}

func (s *draftSurface) Delete(ctx context.Context, id string) error {
	return s.session.ChannelMessageDelete(s.channelID, id, discordgo.WithContext(ctx))
}

// handleMessage converts incoming Discord messages into bus messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	content := m.Content
	var media []string
	for _, att := range m.Attachments {
		media = append(media, att.URL)
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	peerKind := bus.PeerDirect
	if m.GuildID != "" {
		peerKind = bus.PeerGroup
	}

	msg := bus.InboundMessage{
		SenderID:     m.Author.ID,
		SenderName:   resolveDisplayName(m),
		ChatID:       m.ChannelID,
		MessageID:    m.ID,
		Content:      content,
		Media:        media,
		PeerKind:     peerKind,
		WasMentioned: c.mentionsBot(m),
		Timestamp:    m.Timestamp,
		Metadata: map[string]string{
			"guild_id": m.GuildID,
			"username": m.Author.Username,
		},
	}

	if !c.HandleMessage(msg) {
		slog.Debug("discord: message rejected by policy", "user_id", m.Author.ID, "channel_id", m.ChannelID)
		return
	}
	slog.Debug("discord: message received",
		"sender_id", m.Author.ID,
		"channel_id", m.ChannelID,
		"peer_kind", peerKind,
		"preview", channels.Truncate(content, 50),
	)
}

// mentionsBot reports an explicit @mention or a reply to one of the bot's messages.
func (c *Channel) mentionsBot(m *discordgo.MessageCreate) bool {
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			return true
		}
	}
	ref := m.ReferencedMessage
	return ref != nil && ref.Author != nil && ref.Author.ID == c.botUserID
}

// resolveDisplayName returns the best available display name for a Discord message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
