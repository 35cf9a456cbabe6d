// Package agent streams model completions into reply events.
package agent

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
)

// reasoningTags are the inline reasoning wrappers some models leak into
// their text. Everything between an opening tag and its closer is dropped,
// and an unclosed opener hides the rest of the text.
var reasoningTags = []string{"think", "thinking", "thought", "antthinking"}

var (
	reasoningOpen  = regexp.MustCompile(`(?i)<(think|thinking|thought|antthinking)>`)
	reasoningClose = func() map[string]*regexp.Regexp {
		m := make(map[string]*regexp.Regexp, len(reasoningTags))
		for _, tag := range reasoningTags {
			m[tag] = regexp.MustCompile(`(?i)</` + tag + `>`)
		}
		return m
	}()

	// <final> wrappers go; their content stays.
	finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)
)

// heldTags are the tags a stream may be cut in the middle of. A trailing
// fragment that could still become one of them is not shown yet.
var heldTags = []string{"<think>", "<thinking>", "<thought>", "<antthinking>", "<final>", "</final>"}

// Lines starting with a media marker are attachment directives; the files
// travel as media, never as text.
var mediaMarkers = []string{"MEDIA:", "[[audio_as_voice]]"}

// SanitizeAssistantContent returns the user-visible form of a complete
// assistant reply. The same text is remembered in the transcript.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}
	cleaned := strings.TrimSpace(visibleText(content, true))
	if cleaned != strings.TrimSpace(content) {
		slog.Debug("agent: sanitized assistant content",
			"original_len", len(content), "cleaned_len", len(cleaned))
	}
	return cleaned
}

// visibleText strips reasoning, <final> wrappers and media directives from
// raw model text. While the stream is still open (done=false) it also holds
// back a trailing tag fragment and a last line that may turn out to be a
// media directive, so the result for a longer prefix of the same stream
// always extends the result for a shorter one.
func visibleText(raw string, done bool) string {
	s := stripReasoning(raw)
	if !done {
		s = trimPartialTag(s)
	}
	s = finalTagPattern.ReplaceAllString(s, "")
	s = dropMediaLines(s, done)
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

func stripReasoning(s string) string {
	loc := reasoningOpen.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	var b strings.Builder
	for loc != nil {
		b.WriteString(s[:loc[0]])
		rest := s[loc[1]:]
		end := reasoningClose[strings.ToLower(s[loc[2]:loc[3]])].FindStringIndex(rest)
		if end == nil {
			return b.String()
		}
		s = rest[end[1]:]
		loc = reasoningOpen.FindStringSubmatchIndex(s)
	}
	b.WriteString(s)
	return b.String()
}

func trimPartialTag(s string) string {
	i := strings.LastIndexByte(s, '<')
	if i < 0 || strings.IndexByte(s[i:], '>') >= 0 {
		return s
	}
	tail := strings.ToLower(s[i:])
	for _, tag := range heldTags {
		if strings.HasPrefix(tag, tail) {
			return s[:i]
		}
	}
	return s
}

func dropMediaLines(s string, done bool) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	b.Grow(len(s))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isMediaLine(trimmed) {
			continue
		}
		if !done && i == len(lines)-1 && mayBecomeMediaLine(trimmed) {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

func isMediaLine(trimmed string) bool {
	for _, m := range mediaMarkers {
		if strings.HasPrefix(trimmed, m) {
			return true
		}
	}
	return false
}

func mayBecomeMediaLine(trimmed string) bool {
	for _, m := range mediaMarkers {
		if strings.HasPrefix(m, trimmed) {
			return true
		}
	}
	return false
}

// streamText tracks the visible text of a reply while it streams. The
// visible text only ever grows; advance reports what was added.
type streamText struct {
	raw     strings.Builder
	visible string
}

// append adds a raw content delta and returns the newly visible suffix.
func (s *streamText) append(delta string) string {
	s.raw.WriteString(delta)
	return s.advance(visibleText(s.raw.String(), false))
}

// finish releases anything held back for the end of the stream.
func (s *streamText) finish() string {
	return s.advance(visibleText(s.raw.String(), true))
}

func (s *streamText) advance(next string) string {
	if len(next) <= len(s.visible) || !strings.HasPrefix(next, s.visible) {
		return ""
	}
	added := next[len(s.visible):]
	s.visible = next
	return added
}
