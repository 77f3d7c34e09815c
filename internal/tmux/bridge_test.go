package tmux

import (
	"errors"
	"strings"
	"testing"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple", "work", true},
		{"digits", "claude-123456789", true},
		{"underscore", "my_session", true},
		{"mixed", "A-b_C-9", true},
		{"single char", "x", true},
		{"max length", strings.Repeat("a", 50), true},
		{"too long", strings.Repeat("a", 51), false},
		{"empty", "", false},
		{"space", "my session", false},
		{"dot", "a.b", false},
		{"slash", "a/b", false},
		{"semicolon", "a;b", false},
		{"dollar", "a$b", false},
		{"backtick", "a`b`", false},
		{"quote", `a"b`, false},
		{"newline", "a\nb", false},
		{"shell injection", "x; kill-server", false},
		{"unicode", "séance", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidName(tt.input); got != tt.want {
				t.Errorf("ValidName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCheckNameError(t *testing.T) {
	err := checkName("bad name!")
	if err == nil {
		t.Fatal("expected error for invalid name")
	}
	if !errors.Is(err, ErrInvalidSessionName) {
		t.Errorf("expected ErrInvalidSessionName, got %v", err)
	}
}

func TestBridgeRejectsBadNamesBeforeTmux(t *testing.T) {
	b := NewBridge(0, 0)

	if b.HasSession("bad name") {
		t.Error("HasSession accepted an invalid name")
	}
	if b.CreateSession("bad;name", "") {
		t.Error("CreateSession accepted an invalid name")
	}
	if err := b.SendKeys("bad name", "hello"); !errors.Is(err, ErrInvalidSessionName) {
		t.Errorf("SendKeys: expected ErrInvalidSessionName, got %v", err)
	}
	if err := b.SendEnter("bad name"); !errors.Is(err, ErrInvalidSessionName) {
		t.Errorf("SendEnter: expected ErrInvalidSessionName, got %v", err)
	}
	if err := b.SendInterrupt("bad name"); !errors.Is(err, ErrInvalidSessionName) {
		t.Errorf("SendInterrupt: expected ErrInvalidSessionName, got %v", err)
	}
	if err := b.ClearScrollback("bad name"); !errors.Is(err, ErrInvalidSessionName) {
		t.Errorf("ClearScrollback: expected ErrInvalidSessionName, got %v", err)
	}
	if err := b.RenameSession("ok", "bad name"); !errors.Is(err, ErrInvalidSessionName) {
		t.Errorf("RenameSession: expected ErrInvalidSessionName, got %v", err)
	}
	if _, ok := b.WorkingDirectory("bad name"); ok {
		t.Error("WorkingDirectory accepted an invalid name")
	}
}

func TestCapturePaneInvalidNameIsEmpty(t *testing.T) {
	b := NewBridge(0, 0)
	if got := b.CapturePane("not a name", 0); got != "" {
		t.Errorf("CapturePane on invalid name = %q, want empty", got)
	}
}

func TestCapturePaneAbsentSessionIsEmpty(t *testing.T) {
	b := NewBridge(0, 0)
	// Valid name, but no such session (and possibly no tmux at all).
	// Either way the answer is empty, never an error.
	if got := b.CapturePane("chatmux-test-absent-0192837465", 0); got != "" {
		t.Errorf("CapturePane on absent session = %q, want empty", got)
	}
}

func TestKillAbsentSessionIsNoop(t *testing.T) {
	b := NewBridge(0, 0)
	if err := b.KillSession("chatmux-test-absent-0192837465"); err != nil {
		t.Errorf("KillSession on absent session = %v, want nil", err)
	}
}

func TestSplitIntoChunksEmpty(t *testing.T) {
	if got := splitIntoChunks("", 100); got != nil {
		t.Errorf("expected nil for empty content, got %v", got)
	}
}

func TestSplitIntoChunksSmall(t *testing.T) {
	chunks := splitIntoChunks("hello world", 100)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Errorf("expected single chunk, got %v", chunks)
	}
}

func TestSplitIntoChunksPrefersNewlines(t *testing.T) {
	content := "line one\nline two\nline three\n"
	chunks := splitIntoChunks(content, 12)

	for i, c := range chunks {
		if len(c) > 12 {
			t.Errorf("chunk %d exceeds max size: %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != content {
		t.Errorf("chunks do not reassemble: %q", strings.Join(chunks, ""))
	}
	// Every chunk except possibly the last should end at a line boundary.
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, "\n") {
			t.Errorf("chunk %d does not end on newline: %q", i, c)
		}
	}
}

func TestSplitIntoChunksLongLine(t *testing.T) {
	content := strings.Repeat("x", 9000)
	chunks := splitIntoChunks(content, 4096)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 4096 {
			t.Errorf("chunk %d exceeds max size: %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != content {
		t.Error("chunks do not reassemble to original content")
	}
}

func TestSplitIntoChunksReassembly(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
	}{
		{"mixed lines", "short\n" + strings.Repeat("y", 50) + "\nmore\n", 20},
		{"no trailing newline", "alpha\nbeta\ngamma", 8},
		{"exact fit", "12345678", 8},
		{"windows endings", "a\r\nb\r\nc\r\n", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := splitIntoChunks(tt.content, tt.max)
			if strings.Join(chunks, "") != tt.content {
				t.Errorf("reassembly mismatch for %q", tt.content)
			}
			for i, c := range chunks {
				if len(c) > tt.max {
					t.Errorf("chunk %d over budget: %d > %d", i, len(c), tt.max)
				}
			}
		})
	}
}
