package chunker

import "strings"

// fence is an open fenced code block (``` or ~~~).
type fence struct {
	char byte
	size int
	open string // the full opening line, reused when a split re-opens the block
}

func (f *fence) marker() string {
	return strings.Repeat(string(f.char), f.size)
}

// parseFenceOpen reports whether line opens a fenced code block.
// Up to three spaces of indentation are allowed, as in CommonMark.
func parseFenceOpen(line string) (*fence, bool) {
	rest, ok := trimFenceIndent(line)
	if !ok || len(rest) < 3 {
		return nil, false
	}
	ch := rest[0]
	if ch != '`' && ch != '~' {
		return nil, false
	}
	n := 0
	for n < len(rest) && rest[n] == ch {
		n++
	}
	if n < 3 {
		return nil, false
	}
	// Backtick fences cannot carry backticks in the info string.
	if ch == '`' && strings.ContainsRune(rest[n:], '`') {
		return nil, false
	}
	return &fence{char: ch, size: n, open: strings.TrimRight(line, "\r")}, true
}

// closesFence reports whether line terminates f.
func closesFence(line string, f *fence) bool {
	rest, ok := trimFenceIndent(line)
	if !ok {
		return false
	}
	n := 0
	for n < len(rest) && rest[n] == f.char {
		n++
	}
	return n >= f.size && strings.TrimSpace(rest[n:]) == ""
}

func trimFenceIndent(line string) (string, bool) {
	spaces := 0
	for spaces < len(line) && line[spaces] == ' ' {
		spaces++
	}
	if spaces > 3 {
		return "", false
	}
	return line[spaces:], true
}

// lineInfo describes one line of the buffer and the fence state around it.
type lineInfo struct {
	start, end  int // end is the index of '\n', or len(s) for the last line
	fenceBefore *fence
	fenceAfter  *fence
	table       bool
}

func scanLines(s string) []lineInfo {
	var (
		lines []lineInfo
		open  *fence
		pos   int
	)
	for pos <= len(s) {
		end := strings.IndexByte(s[pos:], '\n')
		if end < 0 {
			end = len(s)
		} else {
			end += pos
		}
		text := s[pos:end]
		li := lineInfo{start: pos, end: end, fenceBefore: open}
		if open == nil {
			if f, ok := parseFenceOpen(text); ok {
				open = f
			}
		} else if closesFence(text, open) {
			open = nil
		}
		li.fenceAfter = open
		li.table = li.fenceBefore == nil && strings.HasPrefix(strings.TrimSpace(text), "|")
		lines = append(lines, li)
		if end == len(s) {
			break
		}
		pos = end + 1
	}
	return lines
}

// fenceAt returns the fence open at byte offset cut (text before cut is s[:cut]).
func fenceAt(lines []lineInfo, cut int) *fence {
	if cut <= 0 {
		return nil
	}
	last := cut - 1
	for _, li := range lines {
		if last < li.start || last > li.end {
			continue
		}
		if last == li.end {
			return li.fenceAfter
		}
		return li.fenceBefore
	}
	return nil
}

// closeOpenFence appends a closing marker when s ends inside a fenced block.
func closeOpenFence(s string) string {
	lines := scanLines(s)
	if len(lines) == 0 {
		return s
	}
	open := lines[len(lines)-1].fenceAfter
	if open == nil {
		return s
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + open.marker()
}
