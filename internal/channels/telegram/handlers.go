package telegram

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
)

// handleMessage converts an incoming Telegram message into a bus message.
func (c *Channel) handleMessage(message *telego.Message) {
	if isServiceMessage(message) {
		slog.Debug("telegram: service message skipped", "chat_id", message.Chat.ID)
		return
	}
	user := message.From
	if user == nil {
		return
	}

	userID := strconv.FormatInt(user.ID, 10)
	senderID := userID
	if user.Username != "" {
		senderID = userID + "|" + user.Username
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"
	peerKind := bus.PeerDirect
	if isGroup {
		peerKind = bus.PeerGroup
	}

	// For non-forum groups message_thread_id is reply context, not a topic.
	threadID := ""
	if isGroup && message.Chat.IsForum {
		topic := message.MessageThreadID
		if topic == 0 {
			topic = generalTopicID
		}
		threadID = strconv.Itoa(topic)
	}

	content := strings.TrimSpace(strings.Join(nonEmpty(message.Text, message.Caption), "\n"))
	if tags := mediaTags(message); tags != "" {
		content = strings.TrimSpace(tags + "\n\n" + content)
	}
	if content == "" {
		content = "[empty message]"
	}

	senderName := user.FirstName
	if user.Username != "" {
		senderName = "@" + user.Username
	}

	msg := bus.InboundMessage{
		SenderID:     senderID,
		SenderName:   senderName,
		ChatID:       strconv.FormatInt(message.Chat.ID, 10),
		ThreadID:     threadID,
		MessageID:    strconv.Itoa(message.MessageID),
		Content:      content,
		PeerKind:     peerKind,
		WasMentioned: isGroup && detectMention(message, c.bot.Username()),
		Timestamp:    time.Unix(message.Date, 0),
		Metadata: map[string]string{
			"user_id":    userID,
			"username":   user.Username,
			"first_name": user.FirstName,
		},
	}

	if !c.HandleMessage(msg) {
		slog.Debug("telegram: message rejected by policy",
			"user_id", userID, "username", user.Username, "chat_id", message.Chat.ID)
		return
	}
	slog.Debug("telegram: message received",
		"sender_id", senderID,
		"chat_id", msg.ChatID,
		"is_group", isGroup,
		"preview", channels.Truncate(content, 50),
	)
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// detectMention checks if a Telegram message mentions the bot, in text or
// caption entities, by plain @username, or by replying to the bot.
func detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	handle := "@" + strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		for _, entity := range pair.entities {
			if entity.Type != "mention" && entity.Type != "bot_command" {
				continue
			}
			span := entitySpan(pair.text, entity.Offset, entity.Length)
			if strings.Contains(strings.ToLower(span), handle) {
				return true
			}
		}
		if strings.Contains(strings.ToLower(pair.text), handle) {
			return true
		}
	}

	if r := msg.ReplyToMessage; r != nil && r.From != nil && strings.EqualFold(r.From.Username, botUsername) {
		return true
	}
	return false
}

// entitySpan extracts an entity. Telegram offsets count UTF-16 code units.
func entitySpan(text string, offset, length int) string {
	units := 0
	start, end := -1, len(text)
	for i, r := range text {
		if units == offset && start < 0 {
			start = i
		}
		if units == offset+length {
			end = i
			break
		}
		units++
		if r >= 0x10000 {
			units++
		}
	}
	if start < 0 {
		return ""
	}
	return text[start:end]
}

// isServiceMessage returns true for member joins, title changes and other
// system messages that carry no user content.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	return msg.Photo == nil && msg.Audio == nil && msg.Video == nil &&
		msg.Document == nil && msg.Voice == nil && msg.VideoNote == nil &&
		msg.Sticker == nil && msg.Animation == nil && msg.Contact == nil &&
		msg.Location == nil && msg.Venue == nil && msg.Poll == nil
}

// mediaTags describes attached media as placeholder tags for the model.
func mediaTags(msg *telego.Message) string {
	var tags []string
	switch {
	case len(msg.Photo) > 0:
		tags = append(tags, "<media:image>")
	case msg.Video != nil, msg.Animation != nil, msg.VideoNote != nil:
		tags = append(tags, "<media:video>")
	case msg.Voice != nil, msg.Audio != nil:
		tags = append(tags, "<media:audio>")
	case msg.Document != nil:
		tags = append(tags, "<media:document name=\""+msg.Document.FileName+"\">")
	case msg.Sticker != nil:
		tags = append(tags, "<media:sticker>")
	}
	return strings.Join(tags, "\n")
}
