package screen

import (
	"strings"
	"testing"
)

func mustClassifier(t *testing.T, profile string, extras *RawPatterns) *PatternClassifier {
	t.Helper()
	c, err := NewClassifier(profile, extras)
	if err != nil {
		t.Fatalf("NewClassifier(%q) error: %v", profile, err)
	}
	return c
}

func TestClassifySpinnerWinsOverDoneTokens(t *testing.T) {
	c := mustClassifier(t, "claude", nil)

	// "done" appears in the same trailing window as the spinner. Activity
	// still has to win.
	screen := strings.Join([]string{
		"● Task one is done",
		"",
		"⠙ Reticulating",
	}, "\n")

	a := c.Classify(screen)
	if !a.Thinking {
		t.Errorf("Thinking = false, want true")
	}
	if a.Ready {
		t.Errorf("Ready = true, want false")
	}
	if !a.Done {
		t.Errorf("Done = false, want true (token is in the window)")
	}
	if a.State != StateThinking {
		t.Errorf("State = %q, want %q", a.State, StateThinking)
	}
}

func TestClassifyBarePromptIsReady(t *testing.T) {
	c := mustClassifier(t, "claude", nil)

	screen := strings.Join([]string{
		"Here is the summary of the build.",
		"",
		">",
		"",
	}, "\n")

	a := c.Classify(screen)
	if a.Thinking {
		t.Errorf("Thinking = true, want false")
	}
	if !a.Ready {
		t.Errorf("Ready = false, want true")
	}
	if a.State != StateReady {
		t.Errorf("State = %q, want %q", a.State, StateReady)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	c := mustClassifier(t, "claude", nil)

	tests := []struct {
		name   string
		screen string
		want   State
	}{
		{
			name:   "spinner beats echoed prompt line",
			screen: "> build the project\n⠹ Musing",
			want:   StateThinking,
		},
		{
			name:   "interrupt hint beats prompt",
			screen: "> build the project\n(12s · esc to interrupt)",
			want:   StateThinking,
		},
		{
			name:   "prompt beats done mark",
			screen: "✓ Finished writing files\n>",
			want:   StateReady,
		},
		{
			name:   "done mark alone",
			screen: "✓ All tests passed",
			want:   StateDone,
		},
		{
			name:   "done word alone",
			screen: "Build done in 4.2s",
			want:   StateDone,
		},
		{
			name:   "nothing recognizable",
			screen: "compiling module alpha",
			want:   StateUnknown,
		},
		{
			name:   "empty capture",
			screen: "",
			want:   StateUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.screen).State; got != tt.want {
				t.Errorf("State = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyDoneWordBoundary(t *testing.T) {
	c := mustClassifier(t, "claude", nil)

	tests := []struct {
		screen string
		done   bool
	}{
		{"everything is done", true},
		{"Done!", true},
		{"task marked done.", true},
		{"the change was undone", false},
		{"undo is available", false},
		{"donename is a variable", false},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.screen).Done; got != tt.done {
			t.Errorf("Classify(%q).Done = %v, want %v", tt.screen, got, tt.done)
		}
	}
}

func TestClassifyThinkingWordAnyCase(t *testing.T) {
	c := mustClassifier(t, "claude", nil)

	for _, screen := range []string{"Thinking", "thinking hard", "THINKING..."} {
		a := c.Classify(screen)
		if !a.Thinking || a.State != StateThinking {
			t.Errorf("Classify(%q) = %+v, want thinking", screen, a)
		}
	}
}

func TestClassifyWindowIgnoresOldContent(t *testing.T) {
	c := mustClassifier(t, "claude", nil)

	// A busy hint 15 lines up is stale scrollback, not current activity.
	var b strings.Builder
	b.WriteString("(30s · esc to interrupt)\n")
	for i := 0; i < 14; i++ {
		b.WriteString("output line\n")
	}
	b.WriteString(">")

	a := c.Classify(b.String())
	if a.Thinking {
		t.Errorf("Thinking = true, want false (hint is outside the window)")
	}
	if !a.Ready {
		t.Errorf("Ready = false, want true")
	}
}

func TestClassifySkipsBoxDrawingLinesForSpinners(t *testing.T) {
	c := mustClassifier(t, "claude", nil)

	// Decorative glyphs inside a bordered panel are not a spinner.
	screen := strings.Join([]string{
		"╭──────────────╮",
		"│ ✶ welcome ✶  │",
		"╰──────────────╯",
		">",
	}, "\n")

	a := c.Classify(screen)
	if a.Thinking {
		t.Errorf("Thinking = true, want false for boxed glyphs")
	}
	if !a.Ready {
		t.Errorf("Ready = false, want true")
	}
}

func TestClassifyTrailingBlanksDoNotEatWindow(t *testing.T) {
	c := mustClassifier(t, "claude", nil)

	screen := "⠼ Brewing" + strings.Repeat("\n", 12)
	if a := c.Classify(screen); !a.Thinking {
		t.Errorf("Thinking = false, want true (blank tail should be trimmed)")
	}
}

func TestClassifyProfiles(t *testing.T) {
	codex := mustClassifier(t, "codex", nil)
	if a := codex.Classify("█ working"); !a.Thinking {
		t.Errorf("codex: block spinner not detected")
	}

	plain := mustClassifier(t, "plain", nil)
	if a := plain.Classify("$ "); !a.Ready {
		t.Errorf("plain: shell prompt not detected")
	}
	if a := plain.Classify("⠋ anything"); a.Thinking {
		t.Errorf("plain: no spinner set, Thinking should be false")
	}
}

func TestClassifyUnknownProfileFallsBack(t *testing.T) {
	c := mustClassifier(t, "no-such-profile", nil)
	if a := c.Classify("⠋ Pondering"); !a.Thinking {
		t.Errorf("fallback profile did not detect claude spinner")
	}
}

func TestClassifyExtraPatterns(t *testing.T) {
	extras := &RawPatterns{
		BusyPatterns: []string{"custom busy marker", "re:[invalid"},
	}
	c := mustClassifier(t, "claude", extras)

	if a := c.Classify("custom busy marker"); !a.Thinking {
		t.Errorf("extra busy pattern not applied")
	}
	// The invalid regex is dropped, never fatal.
	if a := c.Classify("[invalid"); a.Thinking {
		t.Errorf("invalid regex should have been skipped")
	}
}
