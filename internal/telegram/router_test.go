package telegram

import (
	"strings"
	"testing"

	"github.com/chatmux/chatmux/internal/store"
	"github.com/chatmux/chatmux/internal/tmux"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		verb    string
		mention string
		args    string
	}{
		{"/help", "help", "", ""},
		{"/attach work", "attach", "", "work"},
		{"/ATTACH Work", "attach", "", "Work"},
		{"/run ls -la /tmp", "run", "", "ls -la /tmp"},
		{"/screen@chatmux_bot 80", "screen", "chatmux_bot", "80"},
		{"  /detach  ", "detach", "", ""},
		{"/run\nmake test", "run", "", "make test"},
		{"hello there", "", "", "hello there"},
		{"/usr/bin/env", "", "", "/usr/bin/env"},
		{"/", "", "", "/"},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		verb, mention, args := ParseCommand(tt.in)
		if verb != tt.verb || mention != tt.mention || args != tt.args {
			t.Errorf("ParseCommand(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tt.in, verb, mention, args, tt.verb, tt.mention, tt.args)
		}
	}
}

func TestFormatSessions(t *testing.T) {
	live := []tmux.SessionInfo{
		{Name: "claude-42", Windows: 1},
		{Name: "build", Windows: 3},
	}
	rows := []*store.SessionRow{
		{Name: "claude-42", WorkDir: "/home/u/proj"},
		{Name: "scratch", WorkDir: "/tmp/scratch"},
	}

	out := formatSessions(live, rows, "claude-42")
	want := "Sessions:\n" +
		"● claude-42 (attached, /home/u/proj)\n" +
		"● build (3 windows)\n" +
		"○ scratch (stopped, /tmp/scratch)"
	if out != want {
		t.Errorf("formatSessions =\n%s\nwant\n%s", out, want)
	}
}

func TestFormatSessionsEmpty(t *testing.T) {
	if out := formatSessions(nil, nil, ""); out != "" {
		t.Errorf("formatSessions(nil, nil) = %q, want empty", out)
	}
}

func TestFormatPins(t *testing.T) {
	rows := []*store.PinRow{
		{Seq: 1, Text: "remember the deploy key"},
		{Seq: 3, Text: "log output\nline two\nline three"},
	}

	out := formatPins(rows)
	if !strings.Contains(out, "#1 remember the deploy key") {
		t.Errorf("missing single-line pin in %q", out)
	}
	if !strings.Contains(out, "#3 log output …") {
		t.Errorf("multiline pin not clipped to first line in %q", out)
	}
	if strings.Contains(out, "line two") {
		t.Errorf("pin listing leaks body lines: %q", out)
	}
}

func TestFormatAliases(t *testing.T) {
	rows := []*store.AliasRow{
		{Name: "gs", Command: "git status"},
		{Name: "deploy", Command: "make deploy"},
	}
	want := "gs      git status\ndeploy  make deploy"
	if out := formatAliases(rows); out != want {
		t.Errorf("formatAliases = %q, want %q", out, want)
	}
}

func TestFormatUsage(t *testing.T) {
	rows := []*store.UsageRow{
		{Verb: "run", Count: 12},
		{Verb: "screen", Count: 5},
	}
	want := "  12  run\n   5  screen"
	if out := formatUsage(rows); out != want {
		t.Errorf("formatUsage = %q, want %q", out, want)
	}
}
