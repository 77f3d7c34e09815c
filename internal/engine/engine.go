// Package engine runs the live update loop: one actor goroutine per user
// watching a tmux session for the assistant's reply, pacing progress edits,
// and delivering the final response when the screen settles.
package engine

import (
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/chatmux/chatmux/internal/logging"
	"github.com/chatmux/chatmux/internal/screen"
)

var engLog = logging.ForComponent(logging.CompEngine)

const (
	previewLines = 10
	previewWidth = 72
)

// Messenger is the outbound chat surface the engine needs. Implementations
// must never return transport errors from the Safe variants.
type Messenger interface {
	SendRich(chatID int64, htmlText, plain string) (int, error)
	EditSafe(chatID int64, messageID int, htmlText, plain string) int
	SendSafe(chatID int64, text string)
}

// Capturer produces pane snapshots. A missing session reads as "".
type Capturer interface {
	CapturePane(name string, maxLines int) string
}

// Notifier fires a local desktop notification, best effort.
type Notifier interface {
	Notify(title, body string)
}

// Engine owns all live refresh runs, at most one per user.
type Engine struct {
	capt     Capturer
	msgr     Messenger
	cls      screen.Classifier
	notif    Notifier
	tunables func() Tunables

	mu   sync.Mutex
	runs map[int64]*run
}

// run is one refresh instance. The id separates it from its successors in
// logs; liveness is carried by the cancel channel.
type run struct {
	id       string
	userID   int64
	chatID   int64
	session  string
	userText string

	cancel   chan struct{}
	stopOnce sync.Once
}

func (r *run) stop() {
	r.stopOnce.Do(func() { close(r.cancel) })
}

func (r *run) alive() bool {
	select {
	case <-r.cancel:
		return false
	default:
		return true
	}
}

// New assembles an engine. notif may be nil; tunables is called at the
// start of each run so config reloads apply to the next run.
func New(capt Capturer, msgr Messenger, cls screen.Classifier, notif Notifier, tunables func() Tunables) *Engine {
	return &Engine{
		capt:     capt,
		msgr:     msgr,
		cls:      cls,
		notif:    notif,
		tunables: tunables,
		runs:     make(map[int64]*run),
	}
}

func (t Tunables) withDefaults() Tunables {
	if t.PollInterval <= 0 {
		t.PollInterval = 3 * time.Second
	}
	if t.EditInterval <= 0 {
		t.EditInterval = 8 * time.Second
	}
	if t.MaxDuration <= 0 {
		t.MaxDuration = 10 * time.Minute
	}
	if t.StableDelta <= 0 {
		t.StableDelta = 2
	}
	if t.DonePolls <= 0 {
		t.DonePolls = 5
	}
	if t.ForcePolls <= 0 {
		t.ForcePolls = 8
	}
	if t.NotifyAfter <= 0 {
		t.NotifyAfter = 10 * time.Second
	}
	return t
}

// StartRefresh begins watching session for the reply to userText and keeps
// chatID updated. Any refresh already live for this user is cancelled
// first; there is never more than one per user.
func (e *Engine) StartRefresh(userID, chatID int64, session, userText string) {
	r := &run{
		id:       uuid.NewString(),
		userID:   userID,
		chatID:   chatID,
		session:  session,
		userText: userText,
		cancel:   make(chan struct{}),
	}

	e.mu.Lock()
	prev := e.runs[userID]
	e.runs[userID] = r
	e.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	engLog.Debug("refresh_started",
		slog.Int64("user_id", userID),
		slog.String("session", session),
		slog.String("run_id", r.id))
	go e.loop(r)
}

// Cancel stops the user's live refresh, if any. Idempotent: cancelling a
// user with no refresh, or one already finished, is a no-op.
func (e *Engine) Cancel(userID int64) {
	e.mu.Lock()
	r := e.runs[userID]
	delete(e.runs, userID)
	e.mu.Unlock()
	if r == nil {
		return
	}
	r.stop()
	engLog.Debug("refresh_cancelled",
		slog.Int64("user_id", userID),
		slog.String("run_id", r.id))
}

// CancelAll stops every live refresh. Used at shutdown.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	runs := e.runs
	e.runs = make(map[int64]*run)
	e.mu.Unlock()
	for _, r := range runs {
		r.stop()
	}
}

// IsLive reports whether the user currently has a refresh running.
func (e *Engine) IsLive(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[userID]
	return ok
}

// release detaches a finished run from the engine. A successor run may
// already occupy the slot, so only the exact instance is removed.
func (e *Engine) release(r *run) {
	e.mu.Lock()
	if e.runs[r.userID] == r {
		delete(e.runs, r.userID)
	}
	e.mu.Unlock()
	r.stop()
}

func (e *Engine) loop(r *run) {
	defer e.release(r)
	defer func() {
		if rec := recover(); rec != nil {
			engLog.Error("refresh_panic",
				slog.String("recover", fmt.Sprintf("%v", rec)),
				slog.Int64("user_id", r.userID),
				slog.String("run_id", r.id))
		}
	}()

	tun := e.tunables().withDefaults()
	start := time.Now()

	msgID, _ := e.msgr.SendRich(r.chatID, "⏳ <b>Working…</b>", "⏳ Working…")

	editPace := rate.NewLimiter(rate.Every(tun.EditInterval), 1)
	editPace.Allow() // the initial message counts as the first update

	var state PollState
	edits := 0
	ticker := time.NewTicker(tun.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.cancel:
			// Whoever cancelled has already talked to the user.
			return
		case <-ticker.C:
		}

		capture := e.capt.CapturePane(r.session, tun.CaptureLines)
		if !r.alive() {
			// The capture is a suspension point; a cancel or a
			// successor may have landed while it ran.
			return
		}

		act := e.cls.Classify(capture)
		var verdict Verdict
		state, verdict = step(state, capture, act, time.Since(start), tun)

		switch verdict {
		case VerdictContinue:
			if act.Thinking && editPace.Allow() {
				edits++
				htmlText, plain := progressText(r.userText, capture, time.Since(start), edits)
				if !r.alive() {
					return
				}
				msgID = e.msgr.EditSafe(r.chatID, msgID, htmlText, plain)
			}
		case VerdictComplete, VerdictForceComplete:
			e.finish(r, msgID, time.Since(start), verdict, state.Polls, tun)
			return
		case VerdictTimeout:
			e.timeout(r, msgID, tun)
			return
		}
	}
}

// progressText renders the in-progress message: elapsed time plus a cleaned
// preview of the reply so far when the user's text is visible on screen,
// or a rotating tip when it is not.
func progressText(userText, capture string, elapsed time.Duration, editCount int) (htmlText, plain string) {
	took := elapsed.Round(time.Second)
	lines := strings.Split(screen.StripANSI(capture), "\n")
	if screen.FindUserEcho(lines, userText) >= 0 {
		preview := screen.TailPreview(screen.ExtractAfterEcho(capture, userText), previewLines)
		preview = clipLines(preview, previewWidth)
		if preview != "" {
			plain = fmt.Sprintf("⏳ Working… %s\n%s", took, preview)
			htmlText = fmt.Sprintf("⏳ <b>Working…</b> %s\n<pre>%s</pre>", took, html.EscapeString(preview))
			return htmlText, plain
		}
	}
	tip := tipFor(editCount - 1)
	plain = fmt.Sprintf("⏳ Working… %s\n%s", took, tip)
	htmlText = fmt.Sprintf("⏳ <b>Working…</b> %s\n<i>%s</i>", took, html.EscapeString(tip))
	return htmlText, plain
}

func clipLines(text string, width int) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = screen.ClipWidth(l, width)
	}
	return strings.Join(lines, "\n")
}

// finish delivers the assistant's reply: final capture, everything after
// the user-input echo (the whole screen when the echo is not found),
// chrome stripped, chunked out through the messenger.
func (e *Engine) finish(r *run, msgID int, elapsed time.Duration, verdict Verdict, polls int, tun Tunables) {
	capture := e.capt.CapturePane(r.session, tun.CaptureLines)
	if !r.alive() {
		return
	}

	reply := screen.CleanChrome(screen.ExtractAfterEcho(capture, r.userText))
	pct, low := screen.ContextLowPercent(capture)

	took := elapsed.Round(time.Second)
	e.msgr.EditSafe(r.chatID, msgID,
		fmt.Sprintf("✅ <b>Done</b> in %s", took),
		fmt.Sprintf("✅ Done in %s", took))

	if reply == "" {
		reply = "(no output captured; the session may have gone quiet)"
	}
	e.msgr.SendSafe(r.chatID, reply)

	if low {
		e.msgr.SendSafe(r.chatID, fmt.Sprintf("⚠️ Context running low: %d%% left.", pct))
	}

	engLog.Info("refresh_completed",
		slog.Int64("user_id", r.userID),
		slog.String("session", r.session),
		slog.Duration("took", elapsed),
		slog.Int("polls", polls),
		slog.Bool("forced", verdict == VerdictForceComplete))

	if e.notif != nil && elapsed >= tun.NotifyAfter {
		go e.notif.Notify("chatmux", fmt.Sprintf("Reply ready in %s (%s)", took, r.session))
	}
}

func (e *Engine) timeout(r *run, msgID int, tun Tunables) {
	notice := fmt.Sprintf("⏱ Still running after %s. Live updates stopped; /screen to check on it.", tun.MaxDuration)
	e.msgr.EditSafe(r.chatID, msgID,
		fmt.Sprintf("⏱ <b>Still running</b> after %s. Live updates stopped; /screen to check on it.", tun.MaxDuration),
		notice)
	engLog.Info("refresh_timeout",
		slog.Int64("user_id", r.userID),
		slog.String("session", r.session))
}
