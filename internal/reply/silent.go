package reply

import (
	"strings"
	"unicode"
)

// SilentReplyToken is what an agent answers when it decides not to reply.
const SilentReplyToken = "NO_REPLY"

// IsSilentReply checks if the text is the NO_REPLY token, alone or at
// either end of the text on a word boundary.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed == SilentReplyToken {
		return true
	}
	if rest, ok := strings.CutPrefix(trimmed, SilentReplyToken); ok {
		if r := []rune(rest); !isWordChar(r[0]) {
			return true
		}
	}
	if before, ok := strings.CutSuffix(trimmed, SilentReplyToken); ok {
		if r := []rune(before); !isWordChar(r[len(r)-1]) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
