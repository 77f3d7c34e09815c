package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chatmux/chatmux/internal/config"
	"github.com/chatmux/chatmux/internal/engine"
	"github.com/chatmux/chatmux/internal/executor"
	"github.com/chatmux/chatmux/internal/registry"
	"github.com/chatmux/chatmux/internal/screen"
	"github.com/chatmux/chatmux/internal/store"
	"github.com/chatmux/chatmux/internal/tmux"
)

// Router receives updates and dispatches them to the session bridge,
// the executor and the live update engine. It only parses and routes;
// the behavior lives in the components it calls.
type Router struct {
	bot    *Bot
	cfg    *config.Config
	bridge *tmux.Bridge
	reg    *registry.Registry
	db     *store.Store
	exec   *executor.Executor
	eng    *engine.Engine
}

func NewRouter(bot *Bot, cfg *config.Config, bridge *tmux.Bridge, reg *registry.Registry, db *store.Store, exec *executor.Executor, eng *engine.Engine) *Router {
	return &Router{bot: bot, cfg: cfg, bridge: bridge, reg: reg, db: db, exec: exec, eng: eng}
}

// Run consumes the update stream until ctx is cancelled.
func (rt *Router) Run(ctx context.Context) {
	updates := rt.bot.Updates(rt.cfg.Telegram.PollTimeout())
	for {
		select {
		case <-ctx.Done():
			rt.bot.StopPolling()
			tgLog.Info("router_stopped")
			return
		case upd, ok := <-updates:
			if !ok {
				tgLog.Info("update_stream_closed")
				return
			}
			if upd.Message == nil {
				continue
			}
			rt.handleMessage(ctx, upd.Message)
		}
	}
}

func (rt *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := chatID
	if msg.From != nil {
		userID = msg.From.ID
	}

	if !rt.cfg.Telegram.Allowed(chatID) {
		tgLog.Debug("unauthorized_message", slog.Int64("chat_id", chatID))
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	rt.reg.Touch(userID)

	verb, mention, args := ParseCommand(text)
	if mention != "" && !strings.EqualFold(mention, rt.bot.Username()) {
		return
	}
	if verb == "" {
		rt.handlePlain(ctx, userID, chatID, text)
		return
	}

	tgLog.Debug("command",
		slog.Int64("user_id", userID),
		slog.String("verb", verb))
	rt.recordUsage(userID, verb)

	switch verb {
	case "start":
		rt.bot.SendSafe(chatID, "Hi! I bridge this chat to a CLI assistant running in tmux.\nSend /attach to get a session, then just type to it.\n\n/help lists everything.")
	case "help":
		rt.cmdHelp(chatID)
	case "attach":
		rt.cmdAttach(userID, chatID, args)
	case "new":
		rt.cmdNew(userID, chatID, args)
	case "detach":
		rt.cmdDetach(userID, chatID)
	case "sessions":
		rt.cmdSessions(userID, chatID)
	case "screen":
		rt.cmdScreen(userID, chatID, args)
	case "send":
		rt.cmdSend(userID, chatID, args)
	case "run":
		rt.cmdRun(ctx, userID, chatID, args)
	case "rerun":
		rt.cmdRerun(ctx, userID, chatID)
	case "cd":
		rt.cmdCd(ctx, userID, chatID, args)
	case "esc", "interrupt":
		rt.cmdInterrupt(userID, chatID)
	case "stop":
		rt.cmdStop(userID, chatID)
	case "clear":
		rt.cmdClear(userID, chatID)
	case "kill":
		rt.cmdKill(userID, chatID, args)
	case "confirm":
		rt.cmdConfirm(userID, chatID)
	case "rename":
		rt.cmdRename(userID, chatID, args)
	case "pin":
		rt.cmdPin(userID, chatID, args)
	case "pins":
		rt.cmdPins(userID, chatID, args)
	case "unpin":
		rt.cmdUnpin(userID, chatID, args)
	case "alias":
		rt.cmdAlias(userID, chatID, args)
	case "aliases":
		rt.cmdAliases(userID, chatID)
	case "unalias":
		rt.cmdUnalias(userID, chatID, args)
	case "stats":
		rt.cmdStats(userID, chatID)
	default:
		rt.bot.SendSafe(chatID, "Unknown command /"+verb+". Try /help.")
	}
}

// handlePlain routes bare text: to the assistant when attached, to the
// shell when not.
func (rt *Router) handlePlain(ctx context.Context, userID, chatID int64, text string) {
	if session, ok := rt.reg.CurrentSession(userID); ok {
		rt.recordUsage(userID, "chat")
		rt.forwardToAssistant(userID, chatID, session, text)
		return
	}
	rt.recordUsage(userID, "shell")
	rt.runShell(ctx, userID, chatID, text)
}

// forwardToAssistant types text into the session and hands the reply
// tracking to the engine.
func (rt *Router) forwardToAssistant(userID, chatID int64, session, text string) {
	if !rt.bridge.HasSession(session) {
		rt.dropDeadSession(userID, session)
		rt.bot.SendSafe(chatID, "Session "+session+" is gone. /attach to start a fresh one.")
		return
	}
	if err := rt.bridge.SendKeysAndEnter(session, text); err != nil {
		tgLog.Warn("send_keys_failed",
			slog.String("session", session),
			slog.String("error", err.Error()))
		rt.bot.SendSafe(chatID, "Could not reach session "+session+". /screen to check on it.")
		return
	}
	rt.bot.Typing(chatID)
	rt.touchSession(userID, session)
	rt.eng.StartRefresh(userID, chatID, session, text)
}

// runShell executes one shell command through the executor. The blocking
// part runs on its own goroutine so a long command does not stall the
// update loop; a newer command for the same user aborts the older one.
func (rt *Router) runShell(ctx context.Context, userID, chatID int64, command string) {
	command = rt.expandAlias(userID, command)
	rt.reg.SetLastCommand(userID, command)

	session, _ := rt.reg.CurrentSession(userID)
	workDir := rt.workDirFor(userID, session)
	opts := executor.Options{
		Shell:          rt.cfg.Exec.CommandShell(),
		Timeout:        rt.cfg.Exec.CommandTimeout(),
		MaxOutputBytes: rt.cfg.Exec.MaxOutputBytes(),
	}

	rt.bot.Typing(chatID)
	go func() {
		res := rt.exec.Run(ctx, userID, session, workDir, command, opts)
		if res.NewWorkingDir != "" && session != "" {
			if err := rt.db.SetSessionWorkDir(userID, session, res.NewWorkingDir); err != nil {
				tgLog.Warn("workdir_persist_failed", slog.String("error", err.Error()))
			}
		}
		rt.sendExecResult(chatID, session, res)
	}()
}

func (rt *Router) sendExecResult(chatID int64, session string, res executor.Result) {
	if res.NewWorkingDir != "" && res.Output == "" {
		note := "📂 " + res.NewWorkingDir
		if session == "" {
			note += "\n(not remembered while detached)"
		}
		rt.bot.SendSafe(chatID, note)
		return
	}

	out := res.Output
	if out == "" {
		out = "(no output)"
	}
	if res.ExitCode != 0 {
		out += fmt.Sprintf("\n[exit %d]", res.ExitCode)
	}
	rt.bot.SendMono(chatID, out)
}

func (rt *Router) cmdHelp(chatID int64) {
	help := `chatmux bridges this chat to a CLI assistant in tmux.

Sessions
/attach [name] - attach, creating when missing
/new <name> [dir] - create and attach
/detach - stop following, keep it running
/sessions - live and saved sessions
/rename <new> - rename the current session
/kill [name] - kill a session (asks to /confirm)

Talking
plain text - to the assistant when attached, else the shell
/send <text> - force text to the assistant
/screen [lines] - snapshot of the pane
/esc - interrupt the assistant
/stop - stop live updates only
/clear - clear session scrollback

Shell
/run <command> - one-shot shell command
/rerun - repeat the last command
/cd <dir> - change the working directory

Extras
/pin [text], /pins [n], /unpin <n|all>
/alias <name> <command>, /aliases, /unalias <name>
/stats - your most used commands`
	rt.bot.SendSafe(chatID, help)
}

func (rt *Router) cmdAttach(userID, chatID int64, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		name = rt.defaultSession(userID)
	}
	if !tmux.ValidName(name) {
		rt.bot.SendSafe(chatID, "Session names may use letters, digits, dashes and underscores.")
		return
	}

	if rt.bridge.HasSession(name) {
		rt.attach(userID, chatID, name, "📎 Attached to "+name+". Plain messages now go to the assistant.")
		return
	}

	// Known but not running: bring it back at its old working directory.
	if row, err := rt.db.GetSession(userID, name); err == nil && row != nil {
		if !rt.bridge.CreateSession(name, row.WorkDir) {
			rt.bot.SendSafe(chatID, "Could not recreate session "+name+". Is tmux healthy?")
			return
		}
		rt.attach(userID, chatID, name, "📎 Restarted "+name+" and attached.")
		return
	}

	// Unknown name: suggest close matches rather than guessing.
	if cands := registry.Resolve(name, rt.knownSessions(userID)); len(cands) > 0 {
		var b strings.Builder
		b.WriteString("No session named " + name + ". Close matches:\n")
		for _, c := range cands {
			b.WriteString("  /attach " + c + "\n")
		}
		rt.bot.SendSafe(chatID, b.String())
		return
	}

	if !rt.bridge.CreateSession(name, homeDir()) {
		rt.bot.SendSafe(chatID, "Could not create session "+name+". Is tmux installed?")
		return
	}
	rt.attach(userID, chatID, name, "✨ Created "+name+" and attached. Start your assistant inside it, or just type shell commands.")
}

func (rt *Router) cmdNew(userID, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		rt.bot.SendSafe(chatID, "Usage: /new <name> [dir]")
		return
	}
	name := fields[0]
	if !tmux.ValidName(name) {
		rt.bot.SendSafe(chatID, "Session names may use letters, digits, dashes and underscores.")
		return
	}

	workDir := homeDir()
	if len(fields) > 1 {
		dir := fields[1]
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			rt.bot.SendSafe(chatID, "Not a directory: "+dir)
			return
		}
		workDir = dir
	}

	if rt.bridge.HasSession(name) {
		rt.attach(userID, chatID, name, "Session "+name+" already exists; attached to it.")
		return
	}
	if !rt.bridge.CreateSession(name, workDir) {
		rt.bot.SendSafe(chatID, "Could not create session "+name+". Is tmux installed?")
		return
	}
	rt.attach(userID, chatID, name, "✨ Created "+name+" in "+workDir+" and attached.")
}

// attach points the user at a session and mirrors it into the store.
func (rt *Router) attach(userID, chatID int64, name, reply string) {
	rt.reg.Attach(userID, name)

	workDir, _ := rt.bridge.WorkingDirectory(name)
	now := time.Now()
	err := rt.db.UpsertSession(&store.SessionRow{
		OwnerID:    userID,
		Name:       name,
		WorkDir:    workDir,
		Running:    true,
		CreatedAt:  now,
		LastUsedAt: now,
	})
	if err != nil {
		tgLog.Warn("session_persist_failed",
			slog.String("session", name),
			slog.String("error", err.Error()))
	}

	tgLog.Info("attached",
		slog.Int64("user_id", userID),
		slog.String("session", name))
	rt.bot.SendSafe(chatID, reply)
}

func (rt *Router) cmdDetach(userID, chatID int64) {
	rt.eng.Cancel(userID)
	if session, ok := rt.reg.CurrentSession(userID); ok {
		rt.reg.Detach(userID)
		rt.bot.SendSafe(chatID, "Detached from "+session+". It keeps running; /attach "+session+" to return.")
		return
	}
	rt.bot.SendSafe(chatID, "Not attached to anything.")
}

func (rt *Router) cmdSessions(userID, chatID int64) {
	live := rt.bridge.ListSessions()
	rows, err := rt.db.ListSessions(userID)
	if err != nil {
		tgLog.Warn("session_list_failed", slog.String("error", err.Error()))
	}
	current, _ := rt.reg.CurrentSession(userID)

	listing := formatSessions(live, rows, current)
	if listing == "" {
		rt.bot.SendSafe(chatID, "No sessions yet. /attach creates one.")
		return
	}
	rt.bot.SendSafe(chatID, listing)
}

func (rt *Router) cmdScreen(userID, chatID int64, args string) {
	session, ok := rt.requireSession(userID, chatID)
	if !ok {
		return
	}
	lines := 0
	if args != "" {
		n, err := strconv.Atoi(strings.TrimSpace(args))
		if err != nil || n < 0 {
			rt.bot.SendSafe(chatID, "Usage: /screen [lines]")
			return
		}
		lines = n
	}

	raw := rt.bridge.CapturePane(session, lines)
	if raw == "" {
		rt.bot.SendSafe(chatID, "Nothing captured from "+session+". Is it still alive? /sessions to check.")
		return
	}
	norm := screen.Normalize(raw)
	rt.reg.SetLastScreen(userID, norm)
	rt.bot.SendMono(chatID, norm)
}

func (rt *Router) cmdSend(userID, chatID int64, args string) {
	session, ok := rt.requireSession(userID, chatID)
	if !ok {
		return
	}
	if args == "" {
		rt.bot.SendSafe(chatID, "Usage: /send <text>")
		return
	}
	rt.forwardToAssistant(userID, chatID, session, args)
}

func (rt *Router) cmdRun(ctx context.Context, userID, chatID int64, args string) {
	if args == "" {
		rt.bot.SendSafe(chatID, "Usage: /run <command>")
		return
	}
	rt.runShell(ctx, userID, chatID, args)
}

func (rt *Router) cmdRerun(ctx context.Context, userID, chatID int64) {
	last := rt.reg.LastCommand(userID)
	if last == "" {
		rt.bot.SendSafe(chatID, "Nothing to rerun yet.")
		return
	}
	rt.bot.SendSafe(chatID, "↻ "+last)
	rt.runShell(ctx, userID, chatID, last)
}

func (rt *Router) cmdCd(ctx context.Context, userID, chatID int64, args string) {
	if args == "" {
		session, _ := rt.reg.CurrentSession(userID)
		rt.bot.SendSafe(chatID, "📂 "+rt.workDirFor(userID, session))
		return
	}
	rt.runShell(ctx, userID, chatID, "cd "+args)
}

func (rt *Router) cmdInterrupt(userID, chatID int64) {
	session, ok := rt.requireSession(userID, chatID)
	if !ok {
		return
	}
	rt.eng.Cancel(userID)
	if err := rt.bridge.SendInterrupt(session); err != nil {
		rt.bot.SendSafe(chatID, "Could not interrupt "+session+".")
		return
	}
	rt.bot.SendSafe(chatID, "⎋ Interrupt sent to "+session+".")
}

func (rt *Router) cmdStop(userID, chatID int64) {
	rt.eng.Cancel(userID)
	rt.bot.SendSafe(chatID, "Live updates stopped. The session keeps working; /screen to peek.")
}

func (rt *Router) cmdClear(userID, chatID int64) {
	session, ok := rt.requireSession(userID, chatID)
	if !ok {
		return
	}
	if err := rt.bridge.ClearScrollback(session); err != nil {
		rt.bot.SendSafe(chatID, "Could not clear "+session+".")
		return
	}
	rt.bot.SendSafe(chatID, "🧹 Scrollback cleared.")
}

func (rt *Router) cmdKill(userID, chatID int64, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		name, _ = rt.reg.CurrentSession(userID)
	}
	if name == "" {
		rt.bot.SendSafe(chatID, "Usage: /kill <name> (or attach first)")
		return
	}
	if !tmux.ValidName(name) {
		rt.bot.SendSafe(chatID, "Session names may use letters, digits, dashes and underscores.")
		return
	}
	rt.reg.SetPendingConfirm(userID, &registry.Confirmation{
		Kind:      "kill",
		Target:    name,
		CreatedAt: time.Now(),
	})
	rt.bot.SendSafe(chatID, "This kills session "+name+" and everything in it. Send /confirm within 2 minutes.")
}

func (rt *Router) cmdConfirm(userID, chatID int64) {
	c, ok := rt.reg.TakePendingConfirm(userID)
	if !ok {
		rt.bot.SendSafe(chatID, "Nothing waiting for confirmation.")
		return
	}
	switch c.Kind {
	case "kill":
		rt.eng.Cancel(userID)
		if cur, ok := rt.reg.CurrentSession(userID); ok && cur == c.Target {
			rt.reg.Detach(userID)
		}
		if err := rt.bridge.KillSession(c.Target); err != nil {
			tgLog.Warn("kill_failed",
				slog.String("session", c.Target),
				slog.String("error", err.Error()))
		}
		if err := rt.db.DeleteSession(userID, c.Target); err != nil {
			tgLog.Warn("session_delete_failed", slog.String("error", err.Error()))
		}
		rt.bot.SendSafe(chatID, "💀 Session "+c.Target+" killed.")
	default:
		tgLog.Warn("unknown_confirm_kind", slog.String("kind", c.Kind))
		rt.bot.SendSafe(chatID, "Nothing waiting for confirmation.")
	}
}

func (rt *Router) cmdRename(userID, chatID int64, args string) {
	session, ok := rt.requireSession(userID, chatID)
	if !ok {
		return
	}
	newName := strings.TrimSpace(args)
	if newName == "" {
		rt.bot.SendSafe(chatID, "Usage: /rename <new-name>")
		return
	}
	if !tmux.ValidName(newName) {
		rt.bot.SendSafe(chatID, "Session names may use letters, digits, dashes and underscores.")
		return
	}
	if err := rt.bridge.RenameSession(session, newName); err != nil {
		rt.bot.SendSafe(chatID, "Could not rename "+session+".")
		return
	}
	if err := rt.db.RenameSession(userID, session, newName); err != nil {
		tgLog.Warn("rename_persist_failed", slog.String("error", err.Error()))
	}
	rt.reg.Attach(userID, newName)
	rt.bot.SendSafe(chatID, "Renamed "+session+" to "+newName+".")
}

func (rt *Router) cmdPin(userID, chatID int64, args string) {
	text := args
	if text == "" {
		text = rt.reg.LastScreen(userID)
	}
	if text == "" {
		rt.bot.SendSafe(chatID, "Nothing to pin. /pin <text>, or /screen first to pin the capture.")
		return
	}
	seq, err := rt.db.AddPin(userID, text)
	if err != nil {
		tgLog.Warn("pin_failed", slog.String("error", err.Error()))
		rt.bot.SendSafe(chatID, "Could not save the pin.")
		return
	}
	rt.bot.SendSafe(chatID, fmt.Sprintf("📌 Pinned #%d.", seq))
}

func (rt *Router) cmdPins(userID, chatID int64, args string) {
	rows, err := rt.db.ListPins(userID)
	if err != nil {
		tgLog.Warn("pins_list_failed", slog.String("error", err.Error()))
		rt.bot.SendSafe(chatID, "Could not read pins.")
		return
	}
	if len(rows) == 0 {
		rt.bot.SendSafe(chatID, "No pins yet. /pin <text> to add one.")
		return
	}

	// A numeric argument shows that one pin in full.
	if n, err := strconv.Atoi(strings.TrimSpace(args)); err == nil {
		for _, p := range rows {
			if p.Seq == n {
				rt.bot.SendMono(chatID, p.Text)
				return
			}
		}
		rt.bot.SendSafe(chatID, fmt.Sprintf("No pin #%d.", n))
		return
	}

	rt.bot.SendSafe(chatID, formatPins(rows))
}

func (rt *Router) cmdUnpin(userID, chatID int64, args string) {
	arg := strings.TrimSpace(args)
	if arg == "all" {
		if err := rt.db.ClearPins(userID); err != nil {
			rt.bot.SendSafe(chatID, "Could not clear pins.")
			return
		}
		rt.bot.SendSafe(chatID, "All pins removed.")
		return
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		rt.bot.SendSafe(chatID, "Usage: /unpin <number> or /unpin all")
		return
	}
	if err := rt.db.DeletePin(userID, n); err != nil {
		rt.bot.SendSafe(chatID, fmt.Sprintf("No pin #%d.", n))
		return
	}
	rt.bot.SendSafe(chatID, fmt.Sprintf("Pin #%d removed.", n))
}

func (rt *Router) cmdAlias(userID, chatID int64, args string) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if args == "" || len(parts) == 0 || parts[0] == "" {
		rt.bot.SendSafe(chatID, "Usage: /alias <name> <command>")
		return
	}
	name := parts[0]
	if len(parts) == 1 {
		command, err := rt.db.GetAlias(userID, name)
		if err != nil || command == "" {
			rt.bot.SendSafe(chatID, "No alias named "+name+".")
			return
		}
		rt.bot.SendMono(chatID, name+" = "+command)
		return
	}
	command := strings.TrimSpace(parts[1])
	if err := rt.db.SetAlias(userID, name, command); err != nil {
		tgLog.Warn("alias_save_failed", slog.String("error", err.Error()))
		rt.bot.SendSafe(chatID, "Could not save the alias.")
		return
	}
	rt.bot.SendSafe(chatID, "Saved alias "+name+". Use it as the first word of a command.")
}

func (rt *Router) cmdAliases(userID, chatID int64) {
	rows, err := rt.db.ListAliases(userID)
	if err != nil {
		tgLog.Warn("alias_list_failed", slog.String("error", err.Error()))
		rt.bot.SendSafe(chatID, "Could not read aliases.")
		return
	}
	if len(rows) == 0 {
		rt.bot.SendSafe(chatID, "No aliases yet. /alias <name> <command> to add one.")
		return
	}
	rt.bot.SendMono(chatID, formatAliases(rows))
}

func (rt *Router) cmdUnalias(userID, chatID int64, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		rt.bot.SendSafe(chatID, "Usage: /unalias <name>")
		return
	}
	if err := rt.db.DeleteAlias(userID, name); err != nil {
		rt.bot.SendSafe(chatID, "No alias named "+name+".")
		return
	}
	rt.bot.SendSafe(chatID, "Alias "+name+" removed.")
}

func (rt *Router) cmdStats(userID, chatID int64) {
	rows, err := rt.db.TopUsage(userID, 10)
	if err != nil {
		tgLog.Warn("usage_read_failed", slog.String("error", err.Error()))
		rt.bot.SendSafe(chatID, "Could not read usage stats.")
		return
	}
	if len(rows) == 0 {
		rt.bot.SendSafe(chatID, "No usage recorded yet.")
		return
	}
	rt.bot.SendMono(chatID, formatUsage(rows))
}

// requireSession returns the attached session or tells the user how to
// get one.
func (rt *Router) requireSession(userID, chatID int64) (string, bool) {
	session, ok := rt.reg.CurrentSession(userID)
	if !ok {
		rt.bot.SendSafe(chatID, "Not attached. /attach picks or creates a session.")
		return "", false
	}
	return session, true
}

func (rt *Router) defaultSession(userID int64) string {
	return rt.cfg.Tmux.Prefix() + "-" + strconv.FormatInt(userID, 10)
}

// knownSessions merges live tmux sessions with the user's stored ones
// for fuzzy suggestions.
func (rt *Router) knownSessions(userID int64) []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range rt.bridge.ListSessions() {
		if !seen[s.Name] {
			seen[s.Name] = true
			names = append(names, s.Name)
		}
	}
	rows, err := rt.db.ListSessions(userID)
	if err != nil {
		return names
	}
	for _, r := range rows {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	return names
}

// workDirFor picks the execution directory: the live pane's cwd, then
// the stored one, then home.
func (rt *Router) workDirFor(userID int64, session string) string {
	if session != "" {
		if wd, ok := rt.bridge.WorkingDirectory(session); ok && wd != "" {
			return wd
		}
		if row, err := rt.db.GetSession(userID, session); err == nil && row != nil && row.WorkDir != "" {
			return row.WorkDir
		}
	}
	return homeDir()
}

// expandAlias substitutes the first word when the user saved an alias
// for it. Expansion is single-level.
func (rt *Router) expandAlias(userID int64, command string) string {
	trimmed := strings.TrimSpace(command)
	head, rest, _ := strings.Cut(trimmed, " ")
	if head == "" {
		return command
	}
	expanded, err := rt.db.GetAlias(userID, head)
	if err != nil || expanded == "" {
		return command
	}
	if rest == "" {
		return expanded
	}
	return expanded + " " + rest
}

func (rt *Router) touchSession(userID int64, session string) {
	if err := rt.db.TouchSession(userID, session, time.Now()); err != nil {
		tgLog.Debug("session_touch_failed", slog.String("error", err.Error()))
	}
}

// dropDeadSession clears state for a session whose tmux side vanished.
func (rt *Router) dropDeadSession(userID int64, session string) {
	rt.eng.Cancel(userID)
	rt.reg.Detach(userID)
	if err := rt.db.SetSessionRunning(userID, session, false); err != nil {
		tgLog.Debug("session_mark_stopped_failed", slog.String("error", err.Error()))
	}
}

func (rt *Router) recordUsage(userID int64, verb string) {
	if err := rt.db.IncrementUsage(userID, verb, time.Now()); err != nil {
		tgLog.Debug("usage_record_failed", slog.String("error", err.Error()))
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/"
	}
	return home
}

var commandVerb = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ParseCommand splits an inbound message into a command verb, an
// optional @botname mention, and the argument remainder. Verbs are
// lowercased. Text that does not look like a command comes back with an
// empty verb and the original text as args.
func ParseCommand(text string) (verb, mention, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", text
	}

	head := text[1:]
	rest := ""
	if i := strings.IndexAny(head, " \t\n"); i >= 0 {
		rest = strings.TrimSpace(head[i+1:])
		head = head[:i]
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		mention = head[at+1:]
		head = head[:at]
	}
	if !commandVerb.MatchString(head) {
		return "", "", text
	}
	return strings.ToLower(head), mention, rest
}

// formatSessions renders live and stored sessions as one listing. Live
// ones come first; stored rows that are no longer running trail after.
func formatSessions(live []tmux.SessionInfo, rows []*store.SessionRow, current string) string {
	if len(live) == 0 && len(rows) == 0 {
		return ""
	}

	stored := make(map[string]*store.SessionRow, len(rows))
	for _, r := range rows {
		stored[r.Name] = r
	}

	var b strings.Builder
	b.WriteString("Sessions:\n")
	liveNames := make(map[string]bool, len(live))
	for _, s := range live {
		liveNames[s.Name] = true
		b.WriteString("● " + s.Name)
		var notes []string
		if s.Name == current {
			notes = append(notes, "attached")
		}
		if s.Windows > 1 {
			notes = append(notes, fmt.Sprintf("%d windows", s.Windows))
		}
		if row, ok := stored[s.Name]; ok && row.WorkDir != "" {
			notes = append(notes, row.WorkDir)
		}
		if len(notes) > 0 {
			b.WriteString(" (" + strings.Join(notes, ", ") + ")")
		}
		b.WriteString("\n")
	}
	for _, r := range rows {
		if liveNames[r.Name] {
			continue
		}
		b.WriteString("○ " + r.Name + " (stopped")
		if r.WorkDir != "" {
			b.WriteString(", " + r.WorkDir)
		}
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPins(rows []*store.PinRow) string {
	var b strings.Builder
	b.WriteString("Pins (/pins <n> shows one in full):\n")
	for _, p := range rows {
		first := p.Text
		if i := strings.IndexByte(first, '\n'); i >= 0 {
			first = first[:i] + " …"
		}
		fmt.Fprintf(&b, "#%d %s\n", p.Seq, screen.ClipWidth(first, 64))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAliases(rows []*store.AliasRow) string {
	width := 0
	for _, a := range rows {
		if len(a.Name) > width {
			width = len(a.Name)
		}
	}
	var b strings.Builder
	for _, a := range rows {
		fmt.Fprintf(&b, "%-*s  %s\n", width, a.Name, a.Command)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatUsage(rows []*store.UsageRow) string {
	var b strings.Builder
	for _, u := range rows {
		fmt.Fprintf(&b, "%4d  %s\n", u.Count, u.Verb)
	}
	return strings.TrimRight(b.String(), "\n")
}
