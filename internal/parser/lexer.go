package parser

import (
	"bytes"
	"strings"
)

// EventKind distinguishes heading events from content events.
type EventKind int

const (
	EventContent EventKind = iota
	EventHeading
)

// Event is one line of a Markdown body. Start and End are byte offsets into
// the enclosing content; End includes the trailing newline.
type Event struct {
	Kind  EventKind
	Depth int    // heading depth (1-6), zero for content
	Text  string // heading text, empty for content
	Code  bool   // fence delimiter or line inside a fenced code block
	Start int
	End   int
}

// Lex turns src into a flat heading/content event stream. base is added to
// every offset. Headings inside fenced code blocks are reported as content.
func Lex(src []byte, base int) []Event {
	var (
		events    []Event
		fenceChar byte
		fenceLen  int
	)
	for pos := 0; pos < len(src); {
		end := len(src)
		if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
			end = pos + i + 1
		}
		line := strings.TrimRight(string(src[pos:end]), "\r\n")
		ev := Event{Kind: EventContent, Start: base + pos, End: base + end}

		if ch, n := fence(line); n > 0 {
			ev.Code = true
			switch {
			case fenceLen == 0:
				fenceChar, fenceLen = ch, n
			case ch == fenceChar && n >= fenceLen && strings.TrimSpace(line[indent(line)+n:]) == "":
				fenceChar, fenceLen = 0, 0
			}
		} else if fenceLen > 0 {
			ev.Code = true
		} else if depth, text, ok := atxHeading(line); ok {
			ev.Kind, ev.Depth, ev.Text = EventHeading, depth, text
		}
		events = append(events, ev)
		pos = end
	}
	return events
}

// indent returns the number of leading spaces.
func indent(line string) int {
	n := 0
	for n < len(line) && line[n] == ' ' {
		n++
	}
	return n
}

// fence reports the fence character and run length when line opens or closes
// a fenced code block.
func fence(line string) (byte, int) {
	i := indent(line)
	if i > 3 || i >= len(line) {
		return 0, 0
	}
	ch := line[i]
	if ch != '`' && ch != '~' {
		return 0, 0
	}
	n := 0
	for i+n < len(line) && line[i+n] == ch {
		n++
	}
	if n < 3 {
		return 0, 0
	}
	return ch, n
}

// atxHeading parses "## Title ##" style headings.
func atxHeading(line string) (int, string, bool) {
	i := indent(line)
	if i > 3 {
		return 0, "", false
	}
	rest := line[i:]
	depth := 0
	for depth < len(rest) && rest[depth] == '#' {
		depth++
	}
	if depth == 0 || depth > 6 {
		return 0, "", false
	}
	rest = rest[depth:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	text := strings.TrimSpace(rest)
	if trimmed := strings.TrimRight(text, "#"); trimmed != text {
		if trimmed == "" || strings.HasSuffix(trimmed, " ") || strings.HasSuffix(trimmed, "\t") {
			text = strings.TrimSpace(trimmed)
		}
	}
	return depth, text, true
}
