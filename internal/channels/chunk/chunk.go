// Package chunk splits outbound text into pieces that fit a platform's
// message length limit.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TelegramLimit is the maximum text length of a single Telegram message.
const TelegramLimit = 4096

// Text splits text into chunks of at most limit bytes. Breaks prefer a
// newline, then whitespace, then any rune boundary.
func Text(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	rest := text
	for len(rest) > limit {
		head, tail := cut(rest, limit)
		if head = strings.TrimRightFunc(head, unicode.IsSpace); head != "" {
			chunks = append(chunks, head)
		}
		rest = strings.TrimLeft(tail, "\n")
	}
	if strings.TrimSpace(rest) != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// Markdown splits markdown like Text but never leaves a fenced code block
// unterminated: a fence cut at a chunk edge is closed there and reopened at
// the start of the next chunk.
func Markdown(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	s := &splitter{limit: limit}
	for _, line := range strings.SplitAfter(text, "\n") {
		s.add(line)
	}
	s.flush(false)
	return s.chunks
}

type splitter struct {
	limit  int
	chunks []string
	cur    strings.Builder

	// fence is the closing marker of the open code block, "" outside one.
	fence     string
	fenceOpen string
}

func (s *splitter) budget() int {
	if s.fence != "" {
		return s.limit - len(s.fence) - 1
	}
	return s.limit
}

func (s *splitter) add(line string) {
	if s.cur.Len() > 0 && s.cur.Len()+len(line) > s.budget() {
		s.flush(true)
	}
	for s.cur.Len()+len(line) > s.budget() {
		room := s.budget() - s.cur.Len()
		if room <= 0 {
			// Fence header alone exhausts the budget; emit it anyway.
			s.cur.WriteString(line)
			line = ""
			break
		}
		head, tail := cut(line, room)
		s.cur.WriteString(head)
		s.flush(true)
		line = tail
	}
	s.cur.WriteString(line)
	s.trackFence(line)
}

func (s *splitter) flush(reopen bool) {
	body := strings.TrimRight(s.cur.String(), "\n")
	s.cur.Reset()
	if s.fence != "" {
		body += "\n" + s.fence
	}
	if strings.TrimSpace(body) != "" && body != s.fenceOpen+"\n"+s.fence {
		s.chunks = append(s.chunks, body)
	}
	if reopen && s.fence != "" {
		s.cur.WriteString(s.fenceOpen)
		s.cur.WriteByte('\n')
	}
}

func (s *splitter) trackFence(line string) {
	trimmed := strings.TrimSpace(line)
	if s.fence == "" {
		if marker := fenceMarker(trimmed); marker != "" {
			s.fence = marker
			s.fenceOpen = strings.TrimRight(line, "\r\n")
		}
		return
	}
	if marker := fenceMarker(trimmed); marker != "" &&
		marker[0] == s.fence[0] && len(marker) >= len(s.fence) && marker == trimmed {
		s.fence = ""
		s.fenceOpen = ""
	}
}

// fenceMarker returns the run of backticks or tildes opening line, or "" if
// the line is not a fence.
func fenceMarker(line string) string {
	if len(line) < 3 || (line[0] != '`' && line[0] != '~') {
		return ""
	}
	c := line[0]
	n := 0
	for n < len(line) && line[n] == c {
		n++
	}
	if n < 3 {
		return ""
	}
	return line[:n]
}

// cut splits s so that head is at most n bytes and ends on a rune boundary.
func cut(s string, n int) (head, tail string) {
	if len(s) <= n {
		return s, ""
	}
	window := s[:n]
	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return s[:i+1], s[i+1:]
	}
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i > 0 {
		_, size := utf8.DecodeRuneInString(s[i:])
		return s[:i+size], s[i+size:]
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	if n == 0 {
		_, size := utf8.DecodeRuneInString(s)
		n = size
	}
	return s[:n], s[n:]
}
