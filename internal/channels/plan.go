package channels

import (
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/chunker"
)

// Reply-to modes.
const (
	ReplyToOff   = "off"
	ReplyToFirst = "first"
	ReplyToAll   = "all"
)

// Part is one platform message produced from an outbound message.
type Part struct {
	Text      string
	ReplyToID string
	Media     *bus.MediaAttachment
}

// PlanParts splits msg into platform-sized sends. Without media the text is
// chunked within limits. With media, the first attachment carries the text
// as its caption when it fits captionMax (0 means limits.MaxChars) and the
// other attachments go out with their own captions only. Text too long for
// a caption follows the first attachment as ordinary chunks.
//
// The reply reference is set per replyMode: only the first part for
// "first", every part for "all", none for "off".
func PlanParts(msg bus.OutboundMessage, limits chunker.Limits, replyMode string, captionMax int) []Part {
	if captionMax <= 0 {
		captionMax = limits.MaxChars
	}
	chunks := chunker.ChunkText(msg.Content, limits)

	var parts []Part
	if len(msg.Media) == 0 {
		for _, chunk := range chunks {
			parts = append(parts, Part{Text: chunk})
		}
	}
	for i := range msg.Media {
		m := msg.Media[i]
		if i > 0 || len(chunks) == 0 {
			parts = append(parts, Part{Text: m.Caption, Media: &m})
			continue
		}
		caption := joinCaption(strings.TrimSpace(msg.Content), m.Caption)
		if fitsCaption(caption, captionMax, limits.MaxLines) {
			parts = append(parts, Part{Text: caption, Media: &m})
			continue
		}
		parts = append(parts, Part{Text: m.Caption, Media: &m})
		for _, chunk := range chunks {
			parts = append(parts, Part{Text: chunk})
		}
	}

	if msg.ReplyToID == "" {
		return parts
	}
	for i := range parts {
		switch replyMode {
		case ReplyToAll:
			parts[i].ReplyToID = msg.ReplyToID
		case ReplyToFirst:
			if i == 0 {
				parts[i].ReplyToID = msg.ReplyToID
			}
		}
	}
	return parts
}

func joinCaption(text, own string) string {
	switch {
	case own == "":
		return text
	case text == "":
		return own
	default:
		return text + "\n\n" + own
	}
}

func fitsCaption(s string, maxChars, maxLines int) bool {
	if utf8.RuneCountInString(s) > maxChars {
		return false
	}
	return maxLines <= 0 || strings.Count(s, "\n")+1 <= maxLines
}
