package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/chatmux/chatmux/internal/config"
	"github.com/chatmux/chatmux/internal/engine"
	"github.com/chatmux/chatmux/internal/executor"
	"github.com/chatmux/chatmux/internal/logging"
	"github.com/chatmux/chatmux/internal/notify"
	"github.com/chatmux/chatmux/internal/registry"
	"github.com/chatmux/chatmux/internal/screen"
	"github.com/chatmux/chatmux/internal/store"
	"github.com/chatmux/chatmux/internal/telegram"
	"github.com/chatmux/chatmux/internal/tmux"
)

const Version = "0.3.1"

var mainLog = logging.ForComponent(logging.CompMain)

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("chatmux v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "doctor":
			os.Exit(runDoctor())
		case "run":
			args = args[1:]
		default:
			fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
			printHelp()
			os.Exit(2)
		}
	}
	os.Exit(runBridge(args))
}

func printHelp() {
	fmt.Println(`chatmux bridges Telegram to a CLI assistant running in tmux.

Usage:
  chatmux [run] [flags]   start the bridge (default)
  chatmux doctor          check the environment
  chatmux version         print the version

Run flags:
  -no-watch    disable config hot reload

Configuration lives at ~/.chatmux/config.toml; the TELEGRAM_BOT_TOKEN
environment variable overrides the token in the file.`)
}

func runBridge(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	noWatch := fs.Bool("no-watch", false, "disable config hot reload")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v (continuing with defaults)\n", err)
	}
	dir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot resolve home directory: %v\n", err)
		return 1
	}

	logging.Init(logConfig(cfg, filepath.Join(dir, "logs")))
	defer logging.Shutdown()

	mainLog.Info("starting",
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()))

	// SIGUSR1 dumps the in-memory log ring for post-mortem debugging.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for range usr1 {
			dumpPath := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				mainLog.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				mainLog.Info("crash_dump_written", slog.String("path", dumpPath))
			}
		}
	}()

	if err := tmux.Available(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: tmux not found in PATH")
		fmt.Fprintln(os.Stderr, "\nchatmux drives tmux sessions. Install it first:")
		fmt.Fprintln(os.Stderr, "  brew install tmux    # macOS")
		fmt.Fprintln(os.Stderr, "  apt install tmux     # Debian/Ubuntu")
		return 1
	}

	token := cfg.Telegram.BotToken()
	if token == "" {
		fmt.Fprintln(os.Stderr, "Error: no bot token configured")
		fmt.Fprintln(os.Stderr, "\nSet TELEGRAM_BOT_TOKEN, or put the token in "+configHint())
		return 1
	}
	if len(cfg.Telegram.AllowedChatIDs) == 0 {
		mainLog.Warn("allow_list_empty")
		fmt.Fprintln(os.Stderr, "Warning: telegram.allowed_chat_ids is empty; every message will be ignored.")
	}

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(dir, "chatmux.db")
	}
	db, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		return 1
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "store migrate: %v\n", err)
		return 1
	}

	bot, err := telegram.NewBot(token, cfg.Telegram.MessageLimit(), cfg.Telegram.FileThreshold())
	if err != nil {
		fmt.Fprintf(os.Stderr, "telegram: %v\n", err)
		return 1
	}

	bridge := tmux.NewBridge(cfg.Tmux.CaptureLines, cfg.Tmux.PasteChunkBytes)
	reg := registry.New()
	exe := executor.New()
	notifier := notify.New(cfg.Notify.GetEnabled())

	cls := &hotClassifier{}
	if err := cls.rebuild(cfg); err != nil {
		mainLog.Warn("classifier_config_invalid", slog.String("error", err.Error()))
	}

	// The engine reads tunables through the config cache so a hot reload
	// changes poll pacing without restarting live runs.
	eng := engine.New(bridge, bot, cls, notifier, func() engine.Tunables {
		c, _ := config.Load()
		return tunablesFrom(c)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		mainLog.Info("shutting_down", slog.String("signal", sig.String()))
		cancel()
	}()

	if !*noWatch {
		watcher, err := config.NewWatcher(func(c *config.Config) {
			if err := cls.rebuild(c); err != nil {
				mainLog.Warn("classifier_config_invalid", slog.String("error", err.Error()))
			}
		})
		if err != nil {
			mainLog.Warn("config_watch_unavailable", slog.String("error", err.Error()))
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	reg.StartSweepWorker(ctx, func(res registry.SweepResult) {
		for _, id := range res.Evicted {
			eng.Cancel(id)
		}
	})

	rt := telegram.NewRouter(bot, cfg, bridge, reg, db, exe, eng)
	fmt.Printf("chatmux v%s connected as @%s\n", Version, bot.Username())
	mainLog.Info("bridge_ready", slog.String("bot", bot.Username()))

	rt.Run(ctx)

	eng.CancelAll()
	mainLog.Info("stopped")
	return 0
}

// hotClassifier swaps its inner classifier when the config reloads, so
// pattern changes reach live refresh loops without a restart.
type hotClassifier struct {
	mu    sync.RWMutex
	inner screen.Classifier
}

func (h *hotClassifier) Classify(capture string) screen.Activity {
	h.mu.RLock()
	cls := h.inner
	h.mu.RUnlock()
	if cls == nil {
		return screen.Activity{State: screen.StateUnknown}
	}
	return cls.Classify(capture)
}

// rebuild compiles a classifier from cfg, keeping the previous one on
// failure.
func (h *hotClassifier) rebuild(cfg *config.Config) error {
	cls, err := screen.NewClassifier(cfg.Screen.Profile, &screen.RawPatterns{
		BusyPatterns:   cfg.Screen.BusyPatterns,
		PromptPatterns: cfg.Screen.PromptPatterns,
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.inner = cls
	h.mu.Unlock()
	return nil
}

func tunablesFrom(c *config.Config) engine.Tunables {
	return engine.Tunables{
		PollInterval: c.Refresh.PollInterval(),
		EditInterval: c.Refresh.EditInterval(),
		MaxDuration:  c.Refresh.MaxDuration(),
		StableDelta:  c.Refresh.StableDelta(),
		DonePolls:    c.Refresh.DonePolls(),
		ForcePolls:   c.Refresh.ForcePolls(),
		CaptureLines: c.Tmux.CaptureLines,
		NotifyAfter:  notifyAfter(c),
	}
}

func notifyAfter(c *config.Config) time.Duration {
	if c.Notify.MinDurationSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Notify.MinDurationSecs) * time.Second
}

func logConfig(cfg *config.Config, logDir string) logging.Config {
	ls := cfg.Logs
	return logging.Config{
		LogDir:                logDir,
		Level:                 ls.Level,
		Format:                ls.Format,
		MaxSizeMB:             ls.MaxSizeMB,
		MaxBackups:            ls.Backups,
		MaxAgeDays:            ls.RetentionDays,
		Compress:              ls.GetCompress(),
		RingBufferSize:        ls.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: ls.AggregateIntervalSecs,
		PprofEnabled:          ls.PprofEnabled,
	}
}

func configHint() string {
	path, err := config.Path()
	if err != nil {
		return "~/.chatmux/config.toml"
	}
	return path
}
