package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/chatmux/chatmux/internal/platform"
)

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.Notify("title", "body") // must not panic
}

func TestAllowGatesBursts(t *testing.T) {
	n := &Notifier{enabled: true}
	now := time.Now()

	if !n.allow(now) {
		t.Fatal("first call should pass")
	}
	if n.allow(now.Add(time.Second)) {
		t.Error("call inside the burst window should be dropped")
	}
	if !n.allow(now.Add(minGap + time.Second)) {
		t.Error("call after the burst window should pass")
	}
}

func TestAllowDisabled(t *testing.T) {
	n := &Notifier{enabled: false}
	if n.allow(time.Now()) {
		t.Error("disabled notifier should never allow")
	}

	n = &Notifier{enabled: true, disabled: true}
	if n.allow(time.Now()) {
		t.Error("broken notifier should never allow")
	}
}

func TestNotifierArgs(t *testing.T) {
	args := notifierArgs(platform.PlatformMacOS, "chatmux", "Reply ready")
	if len(args) == 0 || args[0] != "osascript" {
		t.Errorf("macOS args = %v", args)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "Reply ready") || !strings.Contains(joined, "chatmux") {
		t.Errorf("macOS args missing content: %v", args)
	}

	args = notifierArgs(platform.PlatformLinux, "chatmux", "Reply ready")
	want := []string{"notify-send", "--", "chatmux", "Reply ready"}
	if len(args) != len(want) {
		t.Fatalf("linux args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("linux args[%d] = %q, want %q", i, args[i], want[i])
		}
	}

	if args := notifierArgs(platform.PlatformWSL, "t", "b"); args != nil {
		t.Errorf("WSL should have no notifier, got %v", args)
	}
}
