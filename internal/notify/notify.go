// Package notify delivers best-effort desktop notifications through the
// host notifier binary. Every failure is swallowed: a notification is a
// nicety, never part of the delivery contract.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/chatmux/chatmux/internal/logging"
	"github.com/chatmux/chatmux/internal/platform"
)

var notifyLog = logging.ForComponent(logging.CompNotify)

const (
	// runTimeout bounds the notifier subprocess.
	runTimeout = 5 * time.Second
	// minGap suppresses notification bursts when several runs finish
	// close together.
	minGap = 5 * time.Second
)

// Notifier rate-gates and dispatches desktop notifications. The zero
// value is not usable; construct with New. A nil *Notifier is safe to
// call.
type Notifier struct {
	enabled bool

	mu       sync.Mutex
	lastSent time.Time
	disabled bool // set once the host notifier proves unusable
}

func New(enabled bool) *Notifier {
	n := &Notifier{enabled: enabled}
	if enabled && !platform.CanNotify() {
		n.disabled = true
		notifyLog.Info("notifications_unsupported",
			slog.String("platform", platform.Detect().String()))
	}
	return n
}

// Notify shows a desktop notification. Calls inside the burst window or
// after the notifier proved unusable are dropped silently.
func (n *Notifier) Notify(title, body string) {
	if n == nil || !n.allow(time.Now()) {
		return
	}

	args := notifierArgs(platform.Detect(), title, body)
	if args == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	err := exec.CommandContext(ctx, args[0], args[1:]...).Run()
	if err == nil {
		logging.Aggregate(logging.CompNotify, "notification_sent")
		return
	}

	// A missing binary will stay missing; stop trying.
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		n.disable()
		notifyLog.Info("notifier_missing", slog.String("binary", args[0]))
		return
	}
	notifyLog.Debug("notify_failed", slog.String("error", err.Error()))
}

// allow applies the enabled flag and the burst window, claiming the send
// slot when it passes.
func (n *Notifier) allow(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.enabled || n.disabled {
		return false
	}
	if now.Sub(n.lastSent) < minGap {
		return false
	}
	n.lastSent = now
	return true
}

func (n *Notifier) disable() {
	n.mu.Lock()
	n.disabled = true
	n.mu.Unlock()
}

// notifierArgs builds the platform argv, or nil when the platform has no
// notifier.
func notifierArgs(p platform.Platform, title, body string) []string {
	switch p {
	case platform.PlatformMacOS:
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		return []string{"osascript", "-e", script}
	case platform.PlatformLinux:
		return []string{"notify-send", "--", title, body}
	default:
		return nil
	}
}
