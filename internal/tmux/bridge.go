package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chatmux/chatmux/internal/logging"
)

var bridgeLog = logging.ForComponent(logging.CompBridge)

// ErrInvalidSessionName is returned when a session name fails validation.
// Nothing with a bad name ever reaches tmux.
var ErrInvalidSessionName = errors.New("invalid session name")

// validName is the only charset accepted for session names. It doubles as
// the injection defense at this layer: every metacharacter is excluded, and
// all tmux calls pass the name as its own argv element.
var validName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

const (
	// DefaultCaptureLines is the scrollback depth of a pane capture.
	DefaultCaptureLines = 500

	captureTimeout = 3 * time.Second
	captureTTL     = 500 * time.Millisecond

	pasteChunkSize  = 4096
	pasteChunkDelay = 50 * time.Millisecond

	// enterSettleDelay separates a literal send from the Enter press.
	// tmux 3.2+ wraps send-keys -l in bracketed paste sequences; without a
	// gap, Enter lands in the same PTY buffer as the paste-end marker and
	// gets swallowed by async TUI frameworks.
	enterSettleDelay = 100 * time.Millisecond
)

// SessionInfo describes one live tmux session.
type SessionInfo struct {
	Name      string
	Windows   int
	CreatedAt time.Time
	Attached  bool
}

// Bridge wraps the tmux CLI. Session names are validated before every call,
// captures are cached briefly and deduplicated, and external failures turn
// into safe defaults rather than propagating.
type Bridge struct {
	captureLines int
	chunkBytes   int

	cacheMu  sync.Mutex
	captures map[string]captureEntry
	sf       singleflight.Group
}

type captureEntry struct {
	content string
	at      time.Time
}

// NewBridge creates a bridge. Zero values select the defaults.
func NewBridge(captureLines, pasteChunkBytes int) *Bridge {
	if captureLines <= 0 {
		captureLines = DefaultCaptureLines
	}
	if pasteChunkBytes <= 0 {
		pasteChunkBytes = pasteChunkSize
	}
	return &Bridge{
		captureLines: captureLines,
		chunkBytes:   pasteChunkBytes,
		captures:     make(map[string]captureEntry),
	}
}

// ValidName reports whether a session name passes the charset check.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionName, name)
	}
	return nil
}

// Available checks that tmux is installed and answering.
func Available() error {
	out, err := exec.Command("tmux", "-V").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux not found or not working: %w (output: %s)", err, string(out))
	}
	return nil
}

// HasSession reports whether the named session exists. A bad name or any
// tmux failure reads as "no session".
func (b *Bridge) HasSession(name string) bool {
	if checkName(name) != nil {
		return false
	}
	// The = prefix forces exact matching; -t alone matches name prefixes.
	return exec.Command("tmux", "has-session", "-t", "="+name).Run() == nil
}

// CreateSession creates a detached session rooted at workDir and reports
// success. Creating a name that already exists counts as success.
func (b *Bridge) CreateSession(name, workDir string) bool {
	if err := checkName(name); err != nil {
		bridgeLog.Warn("create_session_rejected", slog.String("name", name))
		return false
	}
	if b.HasSession(name) {
		return true
	}

	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	out, err := exec.Command("tmux", args...).CombinedOutput()
	if err != nil {
		bridgeLog.Warn("create_session_failed",
			slog.String("session", name),
			slog.String("error", err.Error()),
			slog.String("output", strings.TrimSpace(string(out))))
		return false
	}

	// Batch session options into one subprocess call.
	// history-limit sized for long assistant transcripts.
	_ = exec.Command("tmux",
		"set-option", "-t", name, "history-limit", "10000", ";",
		"set-option", "-t", name, "escape-time", "10", ";",
		"set-option", "-t", name, "-q", "allow-passthrough", "on").Run()

	bridgeLog.Info("session_created", slog.String("session", name))
	return true
}

// SendKeys sends text as literal keystrokes. The -l flag makes tmux treat
// the string as text rather than key names, so backslashes, quotes, $,
// backticks, ! and % all arrive unmodified. Long text goes out in chunks
// at newline boundaries to stay under tmux buffer limits.
func (b *Bridge) SendKeys(name, text string) error {
	if err := checkName(name); err != nil {
		return err
	}
	b.invalidate(name)

	if len(text) <= b.chunkBytes {
		return b.sendLiteral(name, text)
	}
	chunks := splitIntoChunks(text, b.chunkBytes)
	for i, chunk := range chunks {
		if err := b.sendLiteral(name, chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if i < len(chunks)-1 {
			time.Sleep(pasteChunkDelay)
		}
	}
	return nil
}

func (b *Bridge) sendLiteral(name, text string) error {
	// -- stops argument parsing so text starting with "-" is not an option.
	return exec.Command("tmux", "send-keys", "-l", "-t", "="+name, "--", text).Run()
}

// SendEnter sends a bare Enter keypress.
func (b *Bridge) SendEnter(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	b.invalidate(name)
	return exec.Command("tmux", "send-keys", "-t", "="+name, "Enter").Run()
}

// SendKeysAndEnter sends literal text, waits for paste processing to settle,
// then sends Enter as a separate keypress.
func (b *Bridge) SendKeysAndEnter(name, text string) error {
	if err := b.SendKeys(name, text); err != nil {
		return err
	}
	time.Sleep(enterSettleDelay)
	return b.SendEnter(name)
}

// SendInterrupt sends Ctrl+C.
func (b *Bridge) SendInterrupt(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	b.invalidate(name)
	return exec.Command("tmux", "send-keys", "-t", "="+name, "C-c").Run()
}

// CapturePane returns the pane content including maxLines of scrollback
// (the bridge default when maxLines <= 0). A missing session, a bad name,
// a timeout, any failure at all returns "": callers treat the bridge as
// unavailable, never as broken.
func (b *Bridge) CapturePane(name string, maxLines int) string {
	if checkName(name) != nil {
		return ""
	}
	if maxLines <= 0 {
		maxLines = b.captureLines
	}

	b.cacheMu.Lock()
	if entry, ok := b.captures[name]; ok && time.Since(entry.at) < captureTTL {
		b.cacheMu.Unlock()
		logging.Aggregate(logging.CompBridge, "capture_cache_hit")
		return entry.content
	}
	b.cacheMu.Unlock()

	// Concurrent captures of the same session collapse into one subprocess.
	v, err, _ := b.sf.Do(name, func() (interface{}, error) {
		b.cacheMu.Lock()
		if entry, ok := b.captures[name]; ok && time.Since(entry.at) < captureTTL {
			b.cacheMu.Unlock()
			return entry.content, nil
		}
		b.cacheMu.Unlock()

		// -J joins wrapped lines, -S sets the scrollback start.
		ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
		defer cancel()
		out, err := exec.CommandContext(ctx, "tmux", "capture-pane",
			"-t", "="+name, "-p", "-J", "-S", "-"+strconv.Itoa(maxLines)).Output()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				bridgeLog.Debug("capture_timeout", slog.String("session", name))
			}
			return "", err
		}

		content := string(out)
		b.cacheMu.Lock()
		b.captures[name] = captureEntry{content: content, at: time.Now()}
		b.cacheMu.Unlock()
		return content, nil
	})
	if err != nil {
		return ""
	}
	return v.(string)
}

// ClearScrollback drops the session's history.
func (b *Bridge) ClearScrollback(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	b.invalidate(name)
	return exec.Command("tmux", "clear-history", "-t", "="+name).Run()
}

// WorkingDirectory returns the active pane's current path.
func (b *Bridge) WorkingDirectory(name string) (string, bool) {
	if checkName(name) != nil {
		return "", false
	}
	out, err := exec.Command("tmux", "display-message", "-p", "-t", "="+name,
		"#{pane_current_path}").Output()
	if err != nil {
		return "", false
	}
	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", false
	}
	return path, true
}

// ListSessions returns all live sessions. Any failure returns nil.
func (b *Bridge) ListSessions() []SessionInfo {
	out, err := exec.Command("tmux", "list-sessions", "-F",
		"#{session_name}\t#{session_windows}\t#{session_created}\t#{session_attached}").Output()
	if err != nil {
		return nil
	}

	var sessions []SessionInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 4 {
			continue
		}
		windows, _ := strconv.Atoi(parts[1])
		created, _ := strconv.ParseInt(parts[2], 10, 64)
		attached, _ := strconv.Atoi(parts[3])
		sessions = append(sessions, SessionInfo{
			Name:      parts[0],
			Windows:   windows,
			CreatedAt: time.Unix(created, 0),
			Attached:  attached > 0,
		})
	}
	return sessions
}

// KillSession destroys the session. Killing an absent session is a no-op.
func (b *Bridge) KillSession(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	b.invalidate(name)
	if !b.HasSession(name) {
		return nil
	}
	out, err := exec.Command("tmux", "kill-session", "-t", "="+name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to kill session: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	bridgeLog.Info("session_killed", slog.String("session", name))
	return nil
}

// RenameSession renames old to new. Both names are validated.
func (b *Bridge) RenameSession(oldName, newName string) error {
	if err := checkName(oldName); err != nil {
		return err
	}
	if err := checkName(newName); err != nil {
		return err
	}
	b.invalidate(oldName)
	out, err := exec.Command("tmux", "rename-session", "-t", "="+oldName, newName).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to rename session: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// invalidate drops the capture cache for one session. Called after every
// mutating operation so the next capture reflects it.
func (b *Bridge) invalidate(name string) {
	b.cacheMu.Lock()
	delete(b.captures, name)
	b.cacheMu.Unlock()
}

// splitIntoChunks splits content into chunks of at most maxSize bytes,
// preferring newline boundaries. A single line longer than maxSize is split
// at the byte boundary as a fallback.
func splitIntoChunks(content string, maxSize int) []string {
	if content == "" {
		return nil
	}
	if len(content) <= maxSize {
		return []string{content}
	}

	var chunks []string
	remaining := content
	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, remaining)
			break
		}
		cut := strings.LastIndex(remaining[:maxSize], "\n")
		if cut > 0 {
			chunks = append(chunks, remaining[:cut+1])
			remaining = remaining[cut+1:]
		} else {
			chunks = append(chunks, remaining[:maxSize])
			remaining = remaining[maxSize:]
		}
	}
	return chunks
}
