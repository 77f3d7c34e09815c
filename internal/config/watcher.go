package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chatmux/chatmux/internal/logging"
	"github.com/chatmux/chatmux/internal/platform"
)

var watchLog = logging.ForComponent(logging.CompConfig)

// Watcher reloads the config file when it changes on disk, so live update
// tunables and detection patterns apply without a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onReload receives the freshly loaded config after each change
	onReload func(*Config)
}

// NewWatcher creates a watcher for the config file. Call Start to begin.
func NewWatcher(onReload func(*Config)) (*Watcher, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     configPath,
		watcher:  fw,
		ctx:      ctx,
		cancel:   cancel,
		onReload: onReload,
	}, nil
}

// Start begins watching. Watches the parent directory because editors
// typically replace the file via rename, which drops a file-level watch.
func (w *Watcher) Start() {
	if warn := platform.FsnotifyWarning(w.path); warn != "" {
		watchLog.Warn("config_watch_degraded", slog.String("reason", warn))
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		watchLog.Warn("config_watch_add_failed",
			slog.String("dir", filepath.Dir(w.path)),
			slog.String("error", err.Error()))
		return
	}

	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	// Debounce timer: editors fire several events per save.
	var debounce *time.Timer
	var debounceMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			debounceMu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, w.reload)
			debounceMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			watchLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Reload()
	if err != nil {
		watchLog.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	watchLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
	w.wg.Wait()
}
