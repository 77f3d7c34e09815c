package screen

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// StripANSI removes ANSI escape codes using a single O(n) pass.
//
// Regex is avoided on purpose: complex ANSI patterns can backtrack
// catastrophically on malformed escape sequences in captured output.
func StripANSI(content string) string {
	// Fast path for content with no escape chars. IndexByte instead of
	// ContainsAny to avoid UTF-8 validation on the needle.
	if strings.IndexByte(content, '\x1b') < 0 && strings.IndexByte(content, '\x9b') < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		if content[i] == '\x1b' {
			// CSI sequence: ESC [ ... letter
			if i+1 < len(content) && content[i+1] == '[' {
				j := i + 2
				for j < len(content) {
					c := content[j]
					if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
						j++
						break
					}
					j++
				}
				i = j
				continue
			}
			// OSC sequence: ESC ] ... BEL, or ESC ] ... ST
			if i+1 < len(content) && content[i+1] == ']' {
				bellPos := strings.Index(content[i:], "\x07")
				if bellPos != -1 {
					i += bellPos + 1
					continue
				}
				stPos := strings.Index(content[i:], "\x1b\\")
				if stPos != -1 {
					i += stPos + 2
					continue
				}
			}
			// Other escape sequence: ESC followed by a single char
			if i+1 < len(content) {
				i += 2
				continue
			}
		}
		// 8-bit CSI (0x9B) without a leading ESC
		if content[i] == '\x9b' {
			j := i + 1
			for j < len(content) {
				c := content[j]
				if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
					j++
					break
				}
				j++
			}
			i = j
			continue
		}
		b.WriteByte(content[i])
		i++
	}
	return b.String()
}

// stripControlChars removes ASCII control characters except tab, newline,
// and carriage return. DEL (127) is excluded too.
func stripControlChars(content string) string {
	var result strings.Builder
	result.Grow(len(content))
	for _, r := range content {
		if (r >= 32 && r != 127) || r == '\t' || r == '\n' || r == '\r' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// LastNLines returns the last n lines of content, with trailing blank lines
// removed first so an all-blank tail does not eat the window.
func LastNLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	start := len(lines) - n
	if start < 0 {
		start = 0
	}
	return lines[start:]
}

// startsWithBoxDrawing checks if a line starts with box-drawing characters (UI borders).
func startsWithBoxDrawing(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) == 0 {
		return false
	}
	r := []rune(trimmed)[0]
	switch r {
	case '│', '├', '└', '─', '┌', '┐', '┘', '┤', '┬', '┴', '┼', '╭', '╰', '╮', '╯':
		return true
	}
	return false
}

var blankLinesPattern = regexp.MustCompile(`\n{3,}`)

// Normalize prepares a capture for line-by-line comparison between polls.
// Styling, control characters, trailing whitespace, and blank-line runs all
// vary without the content changing; stability decisions should not see them.
func Normalize(content string) string {
	result := stripControlChars(StripANSI(content))

	// capture-pane -J can leave trailing spaces after a resize
	lines := strings.Split(result, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	result = strings.Join(lines, "\n")

	return blankLinesPattern.ReplaceAllString(result, "\n\n")
}

// CleanChrome removes terminal UI furniture from a capture: separator rules,
// empty prompt lines, keyboard hints, mode banners, and transient progress
// lines. What survives is the conversational content worth relaying.
func CleanChrome(output string) string {
	lines := strings.Split(output, "\n")
	var cleaned []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		// Separator rules. "Only" catches pure rules like ────────,
		// "mostly" catches prompt bars with stray text mixed in.
		if trimmed != "" && (isOnlySeparators(trimmed) || isMostlySeparators(trimmed)) {
			continue
		}

		// Empty prompt lines. Echoed input lines keep their content.
		if trimmed == ">" || trimmed == "❯" {
			continue
		}

		// Tool-result bracket lines are layout, not content
		if strings.HasPrefix(trimmed, "⎿") {
			continue
		}

		if isHintLine(trimmed) {
			continue
		}

		// Transient progress lines, gone by the next poll anyway
		if startsWithSpinner(trimmed) {
			continue
		}

		// Response bullets read better without the bullet
		if strings.HasPrefix(trimmed, "●") {
			line = strings.TrimSpace(strings.TrimPrefix(trimmed, "●"))
			if line == "" {
				continue
			}
		}

		cleaned = append(cleaned, line)
	}

	result := strings.TrimSpace(strings.Join(cleaned, "\n"))
	return blankLinesPattern.ReplaceAllString(result, "\n\n")
}

// isHintLine matches keyboard hints and permission/context banners that the
// assistant renders around its output.
func isHintLine(trimmed string) bool {
	if strings.Contains(trimmed, "? for shortcuts") || strings.HasPrefix(trimmed, "Tip:") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, hint := range []string{
		"esc to interrupt",
		"esc to cancel",
		"ctrl+c to interrupt",
		"tab to amend",
		"shift+tab to cycle",
		"auto-accept edits",
		"accept edits on",
		"bypassing permissions",
		"plan mode on",
		"context left until auto-compact",
	} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// startsWithSpinner reports whether the first rune of a trimmed line is a
// spinner glyph.
func startsWithSpinner(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	return spinnerRuneMap[[]rune(trimmed)[0]]
}

// isOnlySeparators returns true if the string contains only box-drawing
// separator characters and spaces.
func isOnlySeparators(s string) bool {
	for _, r := range s {
		switch r {
		case '─', '━', '═', '—', '╌', '╍', '┄', '┅', '┈', '┉', ' ':
		default:
			return false
		}
	}
	return true
}

// isMostlySeparators returns true if >60% of non-space runes are box-drawing
// separator characters. Catches prompt bars that render echoed text inside
// the rule.
func isMostlySeparators(s string) bool {
	var sepCount, totalCount int
	for _, r := range s {
		if r == ' ' {
			continue
		}
		totalCount++
		switch r {
		case '─', '━', '═', '—', '╌', '╍', '┄', '┅', '┈', '┉':
			sepCount++
		}
	}
	if totalCount < 10 {
		return false // short lines need the exact match
	}
	return float64(sepCount)/float64(totalCount) > 0.6
}

// echoNeedleMax caps the echo needle length so a pane-width line wrap inside
// the echoed input cannot defeat the match.
const echoNeedleMax = 40

// echoNeedle derives the substring used to locate echoed user input in a
// capture: the first line of the input, clipped to echoNeedleMax runes.
func echoNeedle(userText string) string {
	needle := userText
	if i := strings.IndexByte(needle, '\n'); i >= 0 {
		needle = needle[:i]
	}
	needle = strings.TrimSpace(needle)
	if r := []rune(needle); len(r) > echoNeedleMax {
		needle = string(r[:echoNeedleMax])
	}
	return needle
}

// FindUserEcho returns the index of the last capture line containing the
// echo of userText, or -1 when the echo cannot be located.
func FindUserEcho(lines []string, userText string) int {
	needle := echoNeedle(userText)
	if needle == "" {
		return -1
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], needle) {
			return i
		}
	}
	return -1
}

// ExtractAfterEcho returns the capture content following the echoed user
// input. When the echo cannot be located the whole capture is returned, so
// the caller never loses output to a failed match.
func ExtractAfterEcho(capture, userText string) string {
	lines := strings.Split(capture, "\n")
	idx := FindUserEcho(lines, userText)
	if idx < 0 || idx+1 >= len(lines) {
		if idx >= 0 {
			return ""
		}
		return capture
	}
	return strings.Join(lines[idx+1:], "\n")
}

// FindNewContent returns the part of current that appeared after old.
// It looks for the longest suffix of old as a contiguous block in current,
// which tolerates scrolling: old content may have shifted up, with the new
// output following it. With no overlap at all, current is returned whole.
func FindNewContent(old, current string) string {
	if old == "" {
		return current
	}
	if current == old {
		return ""
	}

	oldLines := strings.Split(old, "\n")
	newLines := strings.Split(current, "\n")

	// Trailing whitespace can differ between captures of the same content
	norm := func(s string) string {
		return strings.TrimRight(s, " \t")
	}

	for suffixStart := 0; suffixStart < len(oldLines); suffixStart++ {
		suffix := oldLines[suffixStart:]

		for nStart := 0; nStart+len(suffix) <= len(newLines); nStart++ {
			match := true
			for j := 0; j < len(suffix); j++ {
				if norm(newLines[nStart+j]) != norm(suffix[j]) {
					match = false
					break
				}
			}
			if match {
				afterIdx := nStart + len(suffix)
				if afterIdx >= len(newLines) {
					return ""
				}
				return strings.TrimSpace(strings.Join(newLines[afterIdx:], "\n"))
			}
		}
	}

	// No overlap found: the screen was replaced wholesale.
	return strings.TrimSpace(current)
}

// TailPreview returns the last maxLines lines of a cleaned capture, for
// in-progress previews.
func TailPreview(capture string, maxLines int) string {
	cleaned := CleanChrome(capture)
	if cleaned == "" {
		return ""
	}
	return strings.Join(LastNLines(cleaned, maxLines), "\n")
}

// ClipWidth truncates s to at most width terminal cells, appending an
// ellipsis when anything was cut. Wide CJK runes count as two cells, so a
// clipped line stays aligned in monospace rendering.
func ClipWidth(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// contextLowThreshold is the remaining-context percentage at or below which
// an advisory is worth sending.
const contextLowThreshold = 20

var contextPercentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)context left until auto-?compact:?\s*(\d{1,3})%`),
	regexp.MustCompile(`(?i)(\d{1,3})%\s+(?:of\s+)?context\s+(?:left|remaining)`),
}

// ContextLowPercent scans a capture for a remaining-context percentage token.
// Returns the percentage and true when one is found at or below the advisory
// threshold.
func ContextLowPercent(capture string) (int, bool) {
	for _, re := range contextPercentPatterns {
		m := re.FindStringSubmatch(capture)
		if m == nil {
			continue
		}
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct > 100 {
			continue
		}
		if pct <= contextLowThreshold {
			return pct, true
		}
		return pct, false
	}
	return 0, false
}
