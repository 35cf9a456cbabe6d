// Package chunker splits streamed model output into channel-sized blocks.
//
// A BlockChunker accumulates text deltas and releases chunks that respect a
// character limit and an optional line limit. Breaks prefer paragraph
// boundaries, then newlines, then sentence ends, then whitespace. Fenced code
// blocks are never split while a safe boundary exists inside the window; when
// a hard split inside a fence is unavoidable the chunk closes the fence and
// the remainder re-opens it.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is used when Limits.MaxChars is not positive.
const DefaultMaxChars = 2000

// Limits bounds every chunk produced by a non-forced drain.
// Lengths are counted in runes.
type Limits struct {
	MaxChars int
	MaxLines int // 0 means unlimited
	MinChars int // 0 means emit only when a split is required
}

// BlockChunker buffers text and emits chunks within Limits.
// It is not safe for concurrent use.
type BlockChunker struct {
	limits Limits
	buf    string

	appended  int // input bytes since the last Reset
	synthetic int // leading bytes of buf that re-open a split fence
}

// New returns a chunker with normalized limits.
func New(limits Limits) *BlockChunker {
	if limits.MaxChars <= 0 {
		limits.MaxChars = DefaultMaxChars
	}
	if limits.MaxLines < 0 {
		limits.MaxLines = 0
	}
	if limits.MinChars < 0 {
		limits.MinChars = 0
	}
	if limits.MinChars > limits.MaxChars {
		limits.MinChars = limits.MaxChars
	}
	return &BlockChunker{limits: limits}
}

// Limits returns the normalized limits.
func (c *BlockChunker) Limits() Limits { return c.limits }

// Append adds a text delta to the buffer.
func (c *BlockChunker) Append(delta string) {
	c.buf += delta
	c.appended += len(delta)
}

// Reset discards buffered text and the consumed count.
func (c *BlockChunker) Reset() {
	c.buf = ""
	c.appended = 0
	c.synthetic = 0
}

// HasBuffered reports whether any text is waiting to be drained.
func (c *BlockChunker) HasBuffered() bool {
	return c.buf != ""
}

// Buffered returns the text not yet emitted.
func (c *BlockChunker) Buffered() string {
	return c.buf
}

// Consumed returns how many input bytes have left the buffer since the last
// Reset. Fence lines re-inserted by a split are not counted.
func (c *BlockChunker) Consumed() int {
	return c.appended - (len(c.buf) - c.synthetic)
}

// Drain emits chunks through emit.
//
// Without force, chunks are emitted only while the buffer exceeds the limits
// (or, with MinChars set, once enough text has accumulated up to a paragraph
// or line boundary). With force, the whole buffer is emitted and an
// unterminated fence is closed.
func (c *BlockChunker) Drain(force bool, emit func(string)) {
	for c.buf != "" && c.exceeds(c.buf) {
		chunk, rest, reopened := c.split(c.buf)
		c.setBuf(rest, reopened)
		if chunk != "" {
			emit(chunk)
		}
	}
	if c.buf == "" {
		return
	}
	if force {
		c.drainClosed(emit)
		return
	}
	if c.limits.MinChars > 0 && utf8.RuneCountInString(c.buf) >= c.limits.MinChars {
		if b := c.softBreak(c.buf); b > 0 {
			chunk := strings.TrimRight(c.buf[:b], " \t\r\n")
			c.setBuf(strings.TrimLeft(c.buf[b:], "\r\n"), 0)
			if chunk != "" {
				emit(chunk)
			}
		}
	}
}

// drainClosed emits the whole buffer with any open fence closed. When the
// closing marker would push the last chunk over the limits, the buffer is
// split first with room kept for the marker.
func (c *BlockChunker) drainClosed(emit func(string)) {
	for c.buf != "" {
		out := closeOpenFence(c.buf)
		if !c.exceeds(out) {
			c.setBuf("", 0)
			emit(out)
			return
		}
		tight, ok := c.reserve(out)
		if !ok {
			c.setBuf("", 0)
			emit(out)
			return
		}
		chunk, rest, reopened := tight.split(c.buf)
		c.setBuf(rest, reopened)
		if chunk != "" {
			emit(chunk)
		}
	}
}

// reserve returns a chunker whose limits leave room for what closed adds
// over the buffer. It fails when the limits are too small to hold it.
func (c *BlockChunker) reserve(closed string) (*BlockChunker, bool) {
	limits := c.limits
	limits.MaxChars -= utf8.RuneCountInString(closed) - utf8.RuneCountInString(c.buf)
	if limits.MaxChars <= 0 {
		return nil, false
	}
	if limits.MaxLines > 0 {
		limits.MaxLines -= lineCount(closed) - lineCount(c.buf)
		if limits.MaxLines <= 0 {
			return nil, false
		}
	}
	return &BlockChunker{limits: limits}, true
}

// setBuf replaces the buffer with rest: a suffix of the current buffer,
// behind a re-opened fence line of reopened bytes when a split added one.
func (c *BlockChunker) setBuf(rest string, reopened int) {
	if reopened > 0 {
		c.synthetic = reopened
	} else {
		c.synthetic = max(0, c.synthetic-(len(c.buf)-len(rest)))
	}
	c.buf = rest
}

func (c *BlockChunker) exceeds(s string) bool {
	if utf8.RuneCountInString(s) > c.limits.MaxChars {
		return true
	}
	return c.limits.MaxLines > 0 && lineCount(s) > c.limits.MaxLines
}

// lineCount counts lines, ignoring trailing newlines.
func lineCount(s string) int {
	return strings.Count(strings.TrimRight(s, "\n"), "\n") + 1
}

// window returns the largest byte offset end such that s[:end] holds at most
// maxChars runes and at most maxLines lines.
func window(s string, maxChars, maxLines int) int {
	end := len(s)
	n := 0
	for i := range s {
		if n == maxChars {
			end = i
			break
		}
		n++
	}
	if maxLines > 0 {
		seen := 0
		for i := 0; i < end; i++ {
			if s[i] != '\n' {
				continue
			}
			seen++
			if seen == maxLines {
				end = i + 1
				break
			}
		}
	}
	return end
}

// split cuts one chunk off the front of s. The chunk always fits the limits
// and at least one byte of s is consumed. reopened is the length of the
// fence line put back in front of rest, if any.
func (c *BlockChunker) split(s string) (chunk, rest string, reopened int) {
	lines := scanLines(s)
	limit := window(s, c.limits.MaxChars, c.limits.MaxLines)

	if b := lineBreak(lines, len(s), limit); b > 0 {
		return strings.TrimRight(s[:b], " \t\r\n"), strings.TrimLeft(s[b:], "\r\n"), 0
	}
	if i := wordBreak(s, lines, limit); i > 0 {
		return strings.TrimRight(s[:i], " \t"), strings.TrimLeft(s[i:], " \t"), 0
	}
	return c.hardSplit(s, lines, limit)
}

// lineBreak picks the furthest safe line boundary at or before limit.
// A paragraph break wins when it falls in the second half of the window.
// Breaks between two table rows are used only when nothing else fits.
func lineBreak(lines []lineInfo, size, limit int) int {
	var para, plain, table int
	for k, li := range lines {
		b := li.end + 1
		if li.end >= size || b > limit {
			break
		}
		if li.fenceAfter != nil {
			continue
		}
		interior := li.table && k+1 < len(lines) && lines[k+1].table
		switch {
		case interior:
			table = b
		case k > 0 && li.start == li.end:
			para = b
			plain = b
		default:
			plain = b
		}
	}
	switch {
	case para > 0 && para*2 >= limit:
		return para
	case plain > 0:
		return plain
	default:
		return table
	}
}

// wordBreak picks the furthest whitespace before limit that sits outside any
// fence, preferring one that follows a sentence terminator.
func wordBreak(s string, lines []lineInfo, limit int) int {
	var sentence, word int
	for _, li := range lines {
		if li.start >= limit {
			break
		}
		if li.fenceBefore != nil || li.fenceAfter != nil {
			continue
		}
		end := li.end
		if end > limit {
			end = limit
		}
		for i := li.start + 1; i < end; i++ {
			if s[i] != ' ' && s[i] != '\t' {
				continue
			}
			word = i
			switch s[i-1] {
			case '.', '!', '?':
				sentence = i
			}
		}
	}
	if sentence > 0 {
		return sentence
	}
	return word
}

// hardSplit cuts at the limit. Inside a fence the chunk is closed and the
// remainder re-opened with the original fence line.
func (c *BlockChunker) hardSplit(s string, lines []lineInfo, limit int) (string, string, int) {
	open := fenceAt(lines, limit)
	if open != nil {
		closer := "\n" + open.marker()
		reopen := open.open + "\n"
		overhead := utf8.RuneCountInString(closer) + utf8.RuneCountInString(reopen)
		if overhead*2 < c.limits.MaxChars {
			maxLines := c.limits.MaxLines
			if maxLines > 0 {
				maxLines--
			}
			if maxLines != 0 || c.limits.MaxLines == 0 {
				cut := window(s, c.limits.MaxChars-utf8.RuneCountInString(closer), maxLines)
				body := strings.TrimRight(s[:cut], "\r\n")
				if cut > len(reopen) && fenceAt(lines, cut) == open && body != "" {
					return body + closer, reopen + strings.TrimLeft(s[cut:], "\r\n"), len(reopen)
				}
			}
		}
	}
	return s[:limit], s[limit:], 0
}

// softBreak finds the furthest paragraph or line boundary outside a fence,
// used for MinChars emission before the limits are reached.
func (c *BlockChunker) softBreak(s string) int {
	lines := scanLines(s)
	return lineBreak(lines, len(s), len(s))
}

// ChunkText splits a complete text into chunks within limits.
// Whitespace-only chunks are dropped.
func ChunkText(text string, limits Limits) []string {
	c := New(limits)
	c.Append(text)
	var out []string
	c.Drain(true, func(chunk string) {
		if strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
	})
	return out
}
