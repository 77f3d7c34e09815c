package telegram

import (
	"html"
	"strings"
	"unicode/utf8"
)

// HardLimit is the Telegram message ceiling. Chunking aims below it; this
// is the absolute cut applied right before a send.
const HardLimit = 4096

const headCutMarker = "[…]\n"

// SplitForChannel splits text into ordered chunks of at most maxLen bytes,
// breaking on line boundaries. The chunks concatenate back to the exact
// input. A single line longer than maxLen becomes its own oversized chunk;
// TruncateHead deals with those at send time.
func SplitForChannel(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			// SplitAfter emits a trailing empty element when the text
			// ends with a newline.
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(line) > maxLen {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// TruncateHead cuts text down to at most max bytes by dropping the head:
// the most recent output is the part worth keeping. The cut lands on a
// rune boundary and a marker notes that something was dropped.
func TruncateHead(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	keep := max - len(headCutMarker)
	if keep <= 0 {
		cut := len(text) - max
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
		return text[cut:]
	}
	cut := len(text) - keep
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	// Prefer starting at a fresh line when one is near.
	if nl := strings.IndexByte(text[cut:], '\n'); nl >= 0 && nl < 80 && cut+nl+1 < len(text) {
		cut += nl + 1
	}
	return headCutMarker + text[cut:]
}

// Mono wraps already-captured terminal text for HTML delivery, escaping it
// and preserving alignment with a pre block.
func Mono(text string) string {
	return "<pre>" + html.EscapeString(text) + "</pre>"
}

// Bold returns an escaped bold fragment.
func Bold(text string) string {
	return "<b>" + html.EscapeString(text) + "</b>"
}
