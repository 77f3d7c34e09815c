package executor

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func shOpts() Options {
	return Options{Shell: "/bin/sh"}
}

func TestRunEcho(t *testing.T) {
	e := New()
	res := e.Run(context.Background(), 1, "main", "", "echo hello", shOpts())
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0 (output: %q)", res.ExitCode, res.Output)
	}
	if res.Output != "hello" {
		t.Errorf("output = %q, want %q", res.Output, "hello")
	}
	if res.Truncated {
		t.Error("short output marked truncated")
	}
	if res.Duration <= 0 {
		t.Error("duration not recorded")
	}
}

func TestRunExitCode(t *testing.T) {
	e := New()
	res := e.Run(context.Background(), 1, "main", "", "exit 3", shOpts())
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunCombinesStderr(t *testing.T) {
	e := New()
	res := e.Run(context.Background(), 1, "main", "", "echo out; echo err 1>&2", shOpts())
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	outIdx := strings.Index(res.Output, "out")
	errIdx := strings.Index(res.Output, "err")
	if outIdx < 0 || errIdx < 0 {
		t.Fatalf("output missing a stream: %q", res.Output)
	}
	if errIdx < outIdx {
		t.Errorf("stderr before stdout in %q", res.Output)
	}
}

func TestRunWorkingDir(t *testing.T) {
	dir := t.TempDir()
	e := New()
	res := e.Run(context.Background(), 1, "main", dir, "pwd", shOpts())
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Output != dir {
		t.Errorf("pwd = %q, want %q", res.Output, dir)
	}
}

func TestRunCdProbe(t *testing.T) {
	dir := t.TempDir()
	e := New()
	res := e.Run(context.Background(), 1, "main", "", "cd "+dir, shOpts())
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0 (output: %q)", res.ExitCode, res.Output)
	}
	if res.NewWorkingDir != dir {
		t.Errorf("new working dir = %q, want %q", res.NewWorkingDir, dir)
	}
	if res.Output != "" {
		t.Errorf("probe output not stripped: %q", res.Output)
	}
}

func TestRunCdProbeKeepsOtherOutput(t *testing.T) {
	dir := t.TempDir()
	e := New()
	res := e.Run(context.Background(), 1, "main", "", "cd "+dir+" && echo moved", shOpts())
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if res.NewWorkingDir != dir {
		t.Errorf("new working dir = %q, want %q", res.NewWorkingDir, dir)
	}
	if res.Output != "moved" {
		t.Errorf("output = %q, want %q", res.Output, "moved")
	}
}

func TestRunCdProbeFailure(t *testing.T) {
	e := New()
	res := e.Run(context.Background(), 1, "main", "", "cd /definitely-not-a-dir-12345", shOpts())
	if res.ExitCode == 0 {
		t.Fatal("cd into a missing directory reported success")
	}
	if res.NewWorkingDir != "" {
		t.Errorf("new working dir = %q, want empty on failure", res.NewWorkingDir)
	}
}

func TestRunTimeout(t *testing.T) {
	e := New()
	opts := shOpts()
	opts.Timeout = 100 * time.Millisecond
	start := time.Now()
	res := e.Run(context.Background(), 1, "main", "", "sleep 5", opts)
	if took := time.Since(start); took > 3*time.Second {
		t.Fatalf("timed-out command held Run for %s", took)
	}
	if res.ExitCode != 124 {
		t.Errorf("exit code = %d, want 124", res.ExitCode)
	}
	if !res.Truncated {
		t.Error("timeout result not marked truncated")
	}
	if !strings.Contains(res.Output, "timed out") {
		t.Errorf("output missing timeout trailer: %q", res.Output)
	}
}

func TestRunContextCancel(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	res := e.Run(ctx, 1, "main", "", "sleep 30", shOpts())
	if res.ExitCode != 143 {
		t.Errorf("exit code = %d, want 143 (SIGTERM)", res.ExitCode)
	}
	if !strings.Contains(res.Output, "canceled") {
		t.Errorf("output missing cancel trailer: %q", res.Output)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	e := New()
	res := e.Run(context.Background(), 1, "main", "", "echo hi", Options{Shell: "/definitely-not-a-shell-12345"})
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.ExitCode)
	}
	if res.Output == "" {
		t.Error("spawn failure produced no explanation")
	}
}

func TestRunOutputCapKeepsTail(t *testing.T) {
	e := New()
	opts := shOpts()
	opts.MaxOutputBytes = 200
	res := e.Run(context.Background(), 1, "main", "", "seq 1 500", opts)
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if !res.Truncated {
		t.Fatal("oversized output not marked truncated")
	}
	if !strings.HasPrefix(res.Output, truncatedMarker) {
		t.Errorf("output missing truncation marker: %.60q", res.Output)
	}
	if !strings.Contains(res.Output, "500") {
		t.Error("tail of output lost")
	}
	if strings.Contains(res.Output, "\n1\n") {
		t.Error("head of output kept past the cap")
	}
	if len(res.Output) > opts.MaxOutputBytes+len(truncatedMarker) {
		t.Errorf("output length %d over budget %d", len(res.Output), opts.MaxOutputBytes)
	}
}

func TestRunAbortsPrevious(t *testing.T) {
	e := New()
	firstDone := make(chan Result, 1)
	go func() {
		firstDone <- e.Run(context.Background(), 1, "main", "", "sleep 30", shOpts())
	}()
	time.Sleep(300 * time.Millisecond)

	res := e.Run(context.Background(), 1, "main", "", "echo second", shOpts())
	if res.ExitCode != 0 || res.Output != "second" {
		t.Fatalf("replacement command failed: exit %d, output %q", res.ExitCode, res.Output)
	}

	select {
	case first := <-firstDone:
		if first.ExitCode != 143 {
			t.Errorf("aborted command exit code = %d, want 143", first.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("aborted command never returned")
	}
}

func TestRunSessionsDoNotInterfere(t *testing.T) {
	e := New()
	otherDone := make(chan Result, 1)
	go func() {
		otherDone <- e.Run(context.Background(), 1, "other", "", "sleep 1 && echo survived", shOpts())
	}()
	time.Sleep(200 * time.Millisecond)

	if res := e.Run(context.Background(), 1, "main", "", "echo hi", shOpts()); res.ExitCode != 0 {
		t.Fatalf("unrelated command failed: %d", res.ExitCode)
	}

	select {
	case other := <-otherDone:
		if other.ExitCode != 0 || other.Output != "survived" {
			t.Errorf("sibling session was disturbed: exit %d, output %q", other.ExitCode, other.Output)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sibling command never returned")
	}
}

func TestExtractProbedDir(t *testing.T) {
	tmp := os.TempDir()
	tests := []struct {
		name    string
		in      string
		wantOut string
		wantDir string
	}{
		{"dir only", tmp + "\n", "", tmp},
		{"output then dir", "a\nb\n" + tmp + "\n", "a\nb", tmp},
		{"relative tail", "not-abs\n", "not-abs\n", ""},
		{"missing dir", "/definitely-not-a-dir-12345\n", "/definitely-not-a-dir-12345\n", ""},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		out, dir := extractProbedDir(tt.in)
		if out != tt.wantOut || dir != tt.wantDir {
			t.Errorf("%s: extractProbedDir(%q) = (%q, %q), want (%q, %q)",
				tt.name, tt.in, out, dir, tt.wantOut, tt.wantDir)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(10)
	b.Write([]byte("abcde"))
	if b.Truncated() {
		t.Error("under-cap buffer marked truncated")
	}
	b.Write([]byte("fghij"))
	if got := b.String(); got != "abcdefghij" {
		t.Errorf("at-cap content = %q", got)
	}
	b.Write([]byte("klmno"))
	if got := b.String(); got != "fghijklmno" {
		t.Errorf("tail after overflow = %q, want %q", got, "fghijklmno")
	}
	if !b.Truncated() {
		t.Error("overflowed buffer not marked truncated")
	}

	big := newTailBuffer(4)
	big.Write([]byte("0123456789"))
	if got := big.String(); got != "6789" {
		t.Errorf("oversized single write kept %q, want %q", got, "6789")
	}
}
