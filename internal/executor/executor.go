// Package executor runs one-off shell commands on behalf of chat users,
// outside any tmux session. Each user/session pair runs at most one command
// at a time; starting a new one aborts the previous one first.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chatmux/chatmux/internal/logging"
)

var execLog = logging.ForComponent(logging.CompExec)

const (
	defaultTimeout   = 2 * time.Minute
	defaultMaxOutput = 64 * 1024

	// Grace between SIGTERM and SIGKILL when tearing a command down.
	killGrace = 2 * time.Second

	truncatedMarker = "[earlier output truncated]\n"
)

// Options controls a single Run. Zero values pick the defaults.
type Options struct {
	Shell          string
	Timeout        time.Duration
	MaxOutputBytes int
}

func (o Options) withDefaults() Options {
	if o.Shell == "" {
		o.Shell = os.Getenv("SHELL")
	}
	if o.Shell == "" {
		o.Shell = "/bin/sh"
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = defaultMaxOutput
	}
	return o
}

// Result is what a command produced. Run never returns an error: spawn
// failures, timeouts, and signals all surface here so the caller can relay
// them to the chat verbatim.
type Result struct {
	Output        string
	ExitCode      int
	Duration      time.Duration
	Truncated     bool
	NewWorkingDir string
}

type runningCmd struct {
	pid  int
	done chan struct{}
}

// Executor tracks in-flight commands keyed by user and session so a new
// command can displace a stuck one.
type Executor struct {
	mu      sync.Mutex
	running map[string]*runningCmd
}

func New() *Executor {
	return &Executor{running: make(map[string]*runningCmd)}
}

// Run executes command through the shell with workDir as the working
// directory and returns once it exits, times out, or is killed. Commands
// that look like a cd are probed with a trailing pwd so the caller can
// track the user's working directory across messages.
func (e *Executor) Run(ctx context.Context, userID int64, session, workDir, command string, opts Options) Result {
	opts = opts.withDefaults()
	key := fmt.Sprintf("%d/%s", userID, session)
	e.abortPrevious(key)

	shellCmd := command
	trimmed := strings.TrimSpace(command)
	cdProbe := trimmed == "cd" || strings.HasPrefix(trimmed, "cd ")
	if cdProbe {
		shellCmd = command + " && pwd"
	}

	cmd := exec.Command(opts.Shell, "-c", shellCmd)
	cmd.Dir = workDir
	// Commands expect a sane terminal type even without a pty attached.
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	// New process group so we can kill the whole tree, including any
	// grandchildren the shell spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Capped at double the reply budget so a post-exit trim still has
	// slack to cut on a line boundary.
	stdout := newTailBuffer(2 * opts.MaxOutputBytes)
	stderr := newTailBuffer(2 * opts.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		execLog.Warn("command_spawn_failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return Result{Output: err.Error(), ExitCode: 1, Duration: time.Since(start)}
	}

	pid := cmd.Process.Pid
	done := make(chan struct{})
	rc := &runningCmd{pid: pid, done: done}
	e.mu.Lock()
	e.running[key] = rc
	e.mu.Unlock()

	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	timedOut := false
	canceled := false
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
		e.killAndDrain(pid, done)
	case <-ctx.Done():
		canceled = true
		e.killAndDrain(pid, done)
	}

	e.mu.Lock()
	if e.running[key] == rc {
		delete(e.running, key)
	}
	e.mu.Unlock()

	duration := time.Since(start)
	exitCode := exitCodeOf(waitErr)
	if timedOut {
		exitCode = 124
	}

	out := stdout.String()
	errOut := stderr.String()
	truncated := stdout.Truncated() || stderr.Truncated()

	var newWorkDir string
	if cdProbe && exitCode == 0 {
		out, newWorkDir = extractProbedDir(out)
	}

	combined := strings.TrimRight(out, "\n")
	if errPart := strings.TrimRight(errOut, "\n"); errPart != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += errPart
	}
	if len(combined) > opts.MaxOutputBytes {
		combined = truncatedMarker + combined[len(combined)-opts.MaxOutputBytes:]
		truncated = true
	}
	if timedOut {
		combined = appendTrailer(combined, fmt.Sprintf("[timed out after %s, killed]", opts.Timeout))
		truncated = true
	}
	if canceled {
		combined = appendTrailer(combined, "[canceled]")
	}

	execLog.Info("command_finished",
		slog.String("key", key),
		slog.Int("exit_code", exitCode),
		slog.Duration("took", duration),
		slog.Bool("timed_out", timedOut))

	return Result{
		Output:        combined,
		ExitCode:      exitCode,
		Duration:      duration,
		Truncated:     truncated,
		NewWorkingDir: newWorkDir,
	}
}

// Abort kills the command running for this user/session, if any, and waits
// for it to be reaped.
func (e *Executor) Abort(userID int64, session string) {
	e.abortPrevious(fmt.Sprintf("%d/%s", userID, session))
}

func (e *Executor) abortPrevious(key string) {
	e.mu.Lock()
	prev := e.running[key]
	e.mu.Unlock()
	if prev == nil {
		return
	}
	execLog.Warn("command_aborted", slog.String("key", key), slog.Int("pid", prev.pid))
	e.killAndDrain(prev.pid, prev.done)
}

// killAndDrain terminates the process group and blocks until Wait has
// returned, so the next command never races a dying predecessor.
func (e *Executor) killAndDrain(pid int, done <-chan struct{}) {
	signalGroup(pid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(killGrace):
	}
	signalGroup(pid, syscall.SIGKILL)
	<-done // Wait must return after SIGKILL
}

func signalGroup(pid int, sig syscall.Signal) {
	pgid, err := syscall.Getpgid(pid)
	if err == nil {
		syscall.Kill(-pgid, sig)
		return
	}
	// Group already gone, try the process directly.
	syscall.Kill(pid, sig)
}

// extractProbedDir peels the trailing pwd line off a cd-probe's stdout.
// Returns the remaining output and the directory, or "" when the tail
// line does not name an existing absolute directory.
func extractProbedDir(out string) (string, string) {
	trimmedOut := strings.TrimRight(out, "\n")
	if trimmedOut == "" {
		return out, ""
	}
	idx := strings.LastIndexByte(trimmedOut, '\n')
	last := strings.TrimSpace(trimmedOut[idx+1:])
	if !filepath.IsAbs(last) {
		return out, ""
	}
	if info, err := os.Stat(last); err != nil || !info.IsDir() {
		return out, ""
	}
	if idx < 0 {
		return "", last
	}
	return trimmedOut[:idx], last
}

func appendTrailer(out, trailer string) string {
	if out == "" {
		return trailer
	}
	return strings.TrimRight(out, "\n") + "\n" + trailer
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
