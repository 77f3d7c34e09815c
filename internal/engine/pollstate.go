package engine

import (
	"strings"
	"time"

	"github.com/chatmux/chatmux/internal/screen"
)

// Tunables are the knobs of one refresh run, captured when the run starts
// so a config reload never changes a run mid-flight.
type Tunables struct {
	PollInterval time.Duration
	EditInterval time.Duration
	MaxDuration  time.Duration
	StableDelta  int
	DonePolls    int
	ForcePolls   int
	CaptureLines int
	NotifyAfter  time.Duration
}

// Verdict is the outcome of one poll step.
type Verdict int

const (
	// VerdictContinue keeps polling.
	VerdictContinue Verdict = iota
	// VerdictComplete ends the run: the screen went stable while the
	// assistant no longer looks busy.
	VerdictComplete
	// VerdictForceComplete ends the run on prolonged stability alone,
	// covering activity detection false negatives.
	VerdictForceComplete
	// VerdictTimeout ends the run at the hard ceiling.
	VerdictTimeout
)

// PollState is the explicit state threaded through step. Keeping it a plain
// value makes the polling state machine testable without timers or tmux.
type PollState struct {
	LastScreen  string
	StableCount int
	Polls       int
}

// step advances the stability machine by one observation and says what to
// do next. It is pure: same state and inputs, same result.
func step(s PollState, capture string, act screen.Activity, elapsed time.Duration, tun Tunables) (PollState, Verdict) {
	s.Polls++

	norm := screen.Normalize(capture)
	// The first poll has no baseline, so it can never count as stable.
	if s.Polls > 1 && lineDelta(s.LastScreen, norm) < tun.StableDelta {
		s.StableCount++
	} else {
		s.StableCount = 0
	}
	s.LastScreen = norm

	switch {
	case elapsed >= tun.MaxDuration:
		return s, VerdictTimeout
	case !act.Thinking && s.StableCount >= tun.DonePolls:
		return s, VerdictComplete
	case s.StableCount >= tun.ForcePolls:
		return s, VerdictForceComplete
	default:
		return s, VerdictContinue
	}
}

// lineDelta counts positionally differing lines between two screens. Added
// or removed lines count as changes, so scrolling output reads as unstable
// while a lone animated status line stays under the stability threshold.
func lineDelta(prev, cur string) int {
	if prev == cur {
		return 0
	}
	a := strings.Split(prev, "\n")
	b := strings.Split(cur, "\n")
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	delta := len(a) + len(b) - 2*n
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			delta++
		}
	}
	return delta
}
