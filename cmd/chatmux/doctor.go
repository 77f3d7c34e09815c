package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chatmux/chatmux/internal/config"
	"github.com/chatmux/chatmux/internal/platform"
	"github.com/chatmux/chatmux/internal/store"
	"github.com/chatmux/chatmux/internal/tmux"
)

// runDoctor checks the environment the bridge needs and reports each
// piece on stdout. Exit code 1 when something required is broken.
func runDoctor() int {
	fmt.Printf("chatmux v%s doctor\n\n", Version)
	healthy := true

	if err := tmux.Available(); err != nil {
		fail("tmux", "not found in PATH")
		healthy = false
	} else {
		pass("tmux", "installed and answering")
	}

	cfg, err := config.Load()
	path, pathErr := config.Path()
	switch {
	case err != nil:
		fail("config", err.Error())
		healthy = false
	case pathErr == nil && fileExists(path):
		pass("config", path)
	default:
		pass("config", "no file, using defaults ("+configHint()+")")
	}

	if cfg.Telegram.BotToken() == "" {
		fail("telegram", "no bot token (set TELEGRAM_BOT_TOKEN or telegram.token)")
		healthy = false
	} else {
		pass("telegram", "bot token present")
	}
	if len(cfg.Telegram.AllowedChatIDs) == 0 {
		warn("telegram", "allowed_chat_ids is empty; every message will be ignored")
	} else {
		pass("telegram", fmt.Sprintf("%d chat id(s) allowed", len(cfg.Telegram.AllowedChatIDs)))
	}

	if dir, err := config.Dir(); err != nil {
		fail("store", err.Error())
		healthy = false
	} else {
		dbPath := cfg.Store.Path
		if dbPath == "" {
			dbPath = filepath.Join(dir, "chatmux.db")
		}
		if db, err := store.Open(dbPath); err != nil {
			fail("store", err.Error())
			healthy = false
		} else {
			if err := db.Migrate(); err != nil {
				fail("store", "migrate: "+err.Error())
				healthy = false
			} else {
				pass("store", dbPath)
			}
			db.Close()
		}

		if w := platform.FsnotifyWarning(dir); w != "" {
			warn("watch", w)
		}
	}

	host := platform.Detect()
	if platform.CanNotify() {
		pass("notify", host.String()+" notifier available")
	} else {
		warn("notify", "no desktop notifier on "+host.String())
	}

	if !healthy {
		fmt.Println("\nProblems found; fix the ✗ lines above.")
		return 1
	}
	fmt.Println("\nEverything the bridge needs is in place.")
	return 0
}

func pass(area, msg string) { fmt.Printf("  ✓ %-9s %s\n", area, msg) }
func fail(area, msg string) { fmt.Printf("  ✗ %-9s %s\n", area, msg) }
func warn(area, msg string) { fmt.Printf("  ! %-9s %s\n", area, msg) }

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
