package telegram

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
	"github.com/nextlevelbuilder/clawrelay/internal/reply"
)

// Send posts msg as one or more Telegram messages, HTML-formatted with a
// plain-text retry when Telegram rejects the entities.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (bus.DeliveryOutcome, error) {
	out := bus.DeliveryOutcome{Channel: c.Name(), ChatID: msg.ChatID}
	if !c.IsRunning() {
		return out, fmt.Errorf("telegram bot not running")
	}
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return out, err
	}
	thread := threadIDForSend(msg.ThreadID)

	for _, part := range channels.PlanParts(msg, c.ChunkLimits(), c.config.ReplyMode(), MaxCaptionChars) {
		var sent *telego.Message
		if part.Media != nil {
			sent, err = c.sendMedia(ctx, chatID, thread, part)
		} else {
			sent, err = c.sendText(ctx, chatID, thread, part)
		}
		if err != nil {
			return out, err
		}
		out.MessageIDs = append(out.MessageIDs, strconv.Itoa(sent.MessageID))
	}
	return out, nil
}

func (c *Channel) sendText(ctx context.Context, chatID int64, thread int, part channels.Part) (*telego.Message, error) {
	params := tu.Message(tu.ID(chatID), markdownToHTML(part.Text)).WithParseMode(telego.ModeHTML)
	params.MessageThreadID = thread
	params.ReplyParameters = replyParams(part.ReplyToID)
	if !c.linkPreview() {
		params.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
	}

	sent, err := c.bot.SendMessage(ctx, params)
	if err != nil && isParseError(err) {
		params.Text = part.Text
		params.ParseMode = ""
		sent, err = c.bot.SendMessage(ctx, params)
	}
	if err != nil {
		return nil, fmt.Errorf("send telegram message: %w", err)
	}
	return sent, nil
}

func (c *Channel) sendMedia(ctx context.Context, chatID int64, thread int, part channels.Part) (*telego.Message, error) {
	m := part.Media
	var file telego.InputFile
	if strings.HasPrefix(m.URL, "http://") || strings.HasPrefix(m.URL, "https://") {
		file = tu.FileFromURL(m.URL)
	} else {
		f, err := os.Open(m.URL)
		if err != nil {
			return nil, fmt.Errorf("open telegram attachment: %w", err)
		}
		defer f.Close()
		file = tu.File(f)
	}

	var (
		sent *telego.Message
		err  error
	)
	if strings.HasPrefix(m.ContentType, "image/") {
		params := tu.Photo(tu.ID(chatID), file).WithCaption(part.Text)
		params.MessageThreadID = thread
		params.ReplyParameters = replyParams(part.ReplyToID)
		sent, err = c.bot.SendPhoto(ctx, params)
	} else {
		params := tu.Document(tu.ID(chatID), file).WithCaption(part.Text)
		params.MessageThreadID = thread
		params.ReplyParameters = replyParams(part.ReplyToID)
		sent, err = c.bot.SendDocument(ctx, params)
	}
	if err != nil {
		return nil, fmt.Errorf("send telegram media: %w", err)
	}
	return sent, nil
}

func replyParams(replyToID string) *telego.ReplyParameters {
	id, err := strconv.Atoi(replyToID)
	if err != nil || id == 0 {
		return nil
	}
	return &telego.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true}
}

func isParseError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}

// SendTyping shows the "typing" chat action.
func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping))
}

// NewDraft returns a preview that edits one message in place. The preview
// is plain text so half-written markup never fails to parse.
func (c *Channel) NewDraft(ctx context.Context, chatID, threadID string) reply.DraftStream {
	id, err := parseChatID(chatID)
	if err != nil {
		return nil
	}
	return channels.NewEditDraft(ctx, &draftSurface{bot: c.bot, chatID: id, thread: threadIDForSend(threadID)}, channels.DraftOptions{
		MinInterval: draftInterval,
		MaxChars:    MaxMessageChars,
		Label:       c.Name(),
	})
}

type draftSurface struct {
	bot    *telego.Bot
	chatID int64
	thread int
}

func (s *draftSurface) Post(ctx context.Context, text string) (string, error) {
	params := tu.Message(tu.ID(s.chatID), text)
	params.MessageThreadID = s.thread
	m, err := s.bot.SendMessage(ctx, params)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(m.MessageID), nil
}

func (s *draftSurface) Edit(ctx context.Context, messageID, text string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return err
	}
	_, err = s.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(s.chatID), id, text))
	return err
}

func (s *draftSurface) Delete(ctx context.Context, messageID string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return err
	}
	return s.bot.DeleteMessage(ctx, tu.Delete(tu.ID(s.chatID), id))
}
