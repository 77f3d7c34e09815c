package screen

import (
	"log/slog"
	"strings"
)

// classifyWindow is how many trailing lines participate in classification.
// Anything above that is scrollback and may describe work long finished.
const classifyWindow = 10

// State is the single activity label derived from a pane capture.
type State string

const (
	StateThinking State = "thinking"
	StateReady    State = "ready"
	StateDone     State = "done"
	StateUnknown  State = "unknown"
)

// Activity is the classification of one pane capture.
//
// Thinking and Done are independent observations; Ready is already gated on
// Thinking being false. State collapses them by fixed precedence
// thinking > ready > done > unknown: a spinner can coexist with a stale
// echoed prompt line, so activity has to win.
type Activity struct {
	Thinking bool
	Ready    bool
	Done     bool
	State    State
}

// Classifier reduces a raw pane capture to an Activity.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(screen string) Activity
}

// PatternClassifier classifies captures against a compiled pattern profile.
// It is immutable after construction and safe for concurrent use.
type PatternClassifier struct {
	patterns *ResolvedPatterns
}

// NewClassifier builds a PatternClassifier for the named profile, with extra
// patterns from configuration appended to the profile defaults. An unknown
// profile name falls back to the claude defaults rather than disabling
// detection.
func NewClassifier(profile string, extras *RawPatterns) (*PatternClassifier, error) {
	defaults := DefaultRawPatterns(profile)
	if defaults == nil {
		patternLog.Warn("unknown_profile",
			slog.String("profile", profile),
			slog.String("fallback", "claude"))
		defaults = DefaultRawPatterns("claude")
	}

	resolved, err := CompilePatterns(MergeRawPatterns(defaults, nil, extras))
	if err != nil {
		return nil, err
	}
	return &PatternClassifier{patterns: resolved}, nil
}

// Classify inspects the trailing lines of a capture and reports what the
// assistant process appears to be doing. An empty capture is Unknown.
func (c *PatternClassifier) Classify(screen string) Activity {
	lines := LastNLines(StripANSI(screen), classifyWindow)
	window := strings.Join(lines, "\n")

	thinking := c.hasSpinner(lines) || c.hasBusyText(window)
	ready := !thinking && c.hasPrompt(lines)
	done := c.hasDoneMark(window)

	var state State
	switch {
	case thinking:
		state = StateThinking
	case ready:
		state = StateReady
	case done:
		state = StateDone
	default:
		state = StateUnknown
	}

	return Activity{Thinking: thinking, Ready: ready, Done: done, State: state}
}

// hasSpinner reports whether any trailing line carries a spinner glyph.
// Lines starting with box-drawing characters are skipped: bordered panels
// reuse the same glyphs as decoration.
func (c *PatternClassifier) hasSpinner(lines []string) bool {
	for _, line := range lines {
		if startsWithBoxDrawing(line) {
			continue
		}
		for _, ch := range c.patterns.SpinnerChars {
			if strings.Contains(line, ch) {
				return true
			}
		}
	}
	return false
}

func (c *PatternClassifier) hasBusyText(window string) bool {
	for _, s := range c.patterns.BusyStrings {
		if strings.Contains(window, s) {
			return true
		}
	}
	for _, re := range c.patterns.BusyRegexps {
		if re.MatchString(window) {
			return true
		}
	}
	return false
}

// hasPrompt reports whether some trimmed trailing line equals or starts with
// a prompt glyph. An echoed input line ("> build it") counts too; precedence
// in Classify keeps that from masking an active spinner.
func (c *PatternClassifier) hasPrompt(lines []string) bool {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, p := range c.patterns.PromptStrings {
			if trimmed == p || strings.HasPrefix(trimmed, p) {
				return true
			}
		}
		for _, re := range c.patterns.PromptRegexps {
			if re.MatchString(trimmed) {
				return true
			}
		}
	}
	return false
}

func (c *PatternClassifier) hasDoneMark(window string) bool {
	for _, s := range c.patterns.DoneStrings {
		if strings.Contains(window, s) {
			return true
		}
	}
	for _, re := range c.patterns.DoneRegexps {
		if re.MatchString(window) {
			return true
		}
	}
	return false
}
