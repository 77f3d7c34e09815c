package screen

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/chatmux/chatmux/internal/logging"
)

var patternLog = logging.ForComponent(logging.CompScreen)

// RawPatterns holds string-form detection patterns before compilation.
// Patterns prefixed with "re:" are compiled as regex; everything else uses strings.Contains.
type RawPatterns struct {
	BusyPatterns   []string // plain strings + "re:" prefixed regex
	PromptPatterns []string
	DonePatterns   []string
	SpinnerChars   []string
}

// ResolvedPatterns holds the compiled, ready-to-use patterns for activity classification.
type ResolvedPatterns struct {
	BusyStrings   []string
	BusyRegexps   []*regexp.Regexp
	PromptStrings []string
	PromptRegexps []*regexp.Regexp
	DoneStrings   []string
	DoneRegexps   []*regexp.Regexp
	SpinnerChars  []string
}

// DefaultRawPatterns returns the built-in detection patterns for a known profile.
// Returns nil for unknown profiles (they have no defaults).
func DefaultRawPatterns(profile string) *RawPatterns {
	switch strings.ToLower(profile) {
	case "", "claude":
		return &RawPatterns{
			BusyPatterns: []string{
				"esc to interrupt",    // PRIMARY: shown for the whole duration of a turn
				"ctrl+c to interrupt", // SECONDARY: older versions and some tool calls
				"re:(?i)thinking",     // literal status word, any case
			},
			PromptPatterns: []string{">"},
			DonePatterns: []string{
				"✓", "✔",
				`re:(?i)\bdone\b`, // word-bounded so "undone" never counts
			},
			SpinnerChars: defaultSpinnerChars(),
		}
	case "codex":
		return &RawPatterns{
			BusyPatterns: []string{
				"esc to interrupt",
				"press esc to interrupt",
				"ctrl+c to interrupt",
				"re:(?i)thinking",
			},
			PromptPatterns: []string{">", "▌"},
			DonePatterns: []string{
				"✓", "✔",
				`re:(?i)\bdone\b`,
			},
			SpinnerChars: []string{"█", "▓", "▒", "░"},
		}
	case "plain":
		// Bare shells have no spinner and no done marker; the prompt is the
		// only signal.
		return &RawPatterns{
			PromptPatterns: []string{"$", "%", "#", ">"},
		}
	default:
		return nil
	}
}

// defaultSpinnerChars returns the braille + asterisk spinner characters used by Claude Code.
func defaultSpinnerChars() []string {
	return []string{
		"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
		"✳", "✽", "✶", "✢", // asterisk spinner (excl ✻ and · which appear in done/other states)
	}
}

// SpinnerRuneSet returns the full set of spinner runes for content normalization.
// Includes both the active-only chars (used for busy detection) and the
// additional chars (·, ✻) that appear in done/other states but still need
// stripping for stable diffing.
func SpinnerRuneSet() []rune {
	return []rune{
		'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏',
		'·', '✳', '✽', '✶', '✻', '✢',
	}
}

// CompilePatterns compiles raw string patterns into ready-to-use ResolvedPatterns.
// Patterns prefixed with "re:" are compiled as regex. Invalid regex patterns are
// logged as warnings and skipped (never crash).
func CompilePatterns(raw *RawPatterns) (*ResolvedPatterns, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil RawPatterns")
	}

	resolved := &ResolvedPatterns{}

	resolved.BusyStrings, resolved.BusyRegexps = splitPatterns(raw.BusyPatterns, "busy")
	resolved.PromptStrings, resolved.PromptRegexps = splitPatterns(raw.PromptPatterns, "prompt")
	resolved.DoneStrings, resolved.DoneRegexps = splitPatterns(raw.DonePatterns, "done")

	resolved.SpinnerChars = make([]string, len(raw.SpinnerChars))
	copy(resolved.SpinnerChars, raw.SpinnerChars)

	return resolved, nil
}

// splitPatterns separates plain substrings from "re:" prefixed regex patterns,
// compiling the latter. Bad regexes are logged and dropped.
func splitPatterns(patterns []string, kind string) ([]string, []*regexp.Regexp) {
	var strs []string
	var regexps []*regexp.Regexp
	for _, p := range patterns {
		if strings.HasPrefix(p, "re:") {
			re, err := regexp.Compile(p[3:])
			if err != nil {
				patternLog.Warn("invalid_pattern_regex",
					slog.String("kind", kind),
					slog.String("pattern", p),
					slog.String("error", err.Error()))
				continue
			}
			regexps = append(regexps, re)
		} else {
			strs = append(strs, p)
		}
	}
	return strs, regexps
}

// MergeRawPatterns merges defaults with overrides and extras.
//   - If overrides has a field set (non-nil slice, even if empty), it replaces the default.
//   - extras fields are appended to the result (after defaults or overrides).
//   - If defaults is nil, only overrides/extras are used.
func MergeRawPatterns(defaults, overrides, extras *RawPatterns) *RawPatterns {
	result := &RawPatterns{}

	if defaults != nil {
		result.BusyPatterns = copySlice(defaults.BusyPatterns)
		result.PromptPatterns = copySlice(defaults.PromptPatterns)
		result.DonePatterns = copySlice(defaults.DonePatterns)
		result.SpinnerChars = copySlice(defaults.SpinnerChars)
	}

	if overrides != nil {
		if overrides.BusyPatterns != nil {
			result.BusyPatterns = copySlice(overrides.BusyPatterns)
		}
		if overrides.PromptPatterns != nil {
			result.PromptPatterns = copySlice(overrides.PromptPatterns)
		}
		if overrides.DonePatterns != nil {
			result.DonePatterns = copySlice(overrides.DonePatterns)
		}
		if overrides.SpinnerChars != nil {
			result.SpinnerChars = copySlice(overrides.SpinnerChars)
		}
	}

	if extras != nil {
		result.BusyPatterns = append(result.BusyPatterns, extras.BusyPatterns...)
		result.PromptPatterns = append(result.PromptPatterns, extras.PromptPatterns...)
		result.DonePatterns = append(result.DonePatterns, extras.DonePatterns...)
		result.SpinnerChars = append(result.SpinnerChars, extras.SpinnerChars...)
	}

	return result
}

// spinnerRuneMap is a lookup table for O(1) spinner rune detection.
// Built once at init from SpinnerRuneSet() for use in single-pass stripping.
var spinnerRuneMap map[rune]bool

func init() {
	spinnerRuneMap = make(map[rune]bool, len(SpinnerRuneSet()))
	for _, r := range SpinnerRuneSet() {
		spinnerRuneMap[r] = true
	}
}

// StripSpinnerRunes removes all spinner characters in a single O(n) pass.
func StripSpinnerRunes(s string) string {
	return strings.Map(func(r rune) rune {
		if spinnerRuneMap[r] {
			return -1
		}
		return r
	}, s)
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
