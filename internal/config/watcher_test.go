package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHATMUX_HOME", dir)
	ClearCache()

	configPath := filepath.Join(dir, FileName)
	if err := os.WriteFile(configPath, []byte("[refresh]\npoll_interval_secs = 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var reloads atomic.Int32
	var lastInterval atomic.Int32
	w, err := NewWatcher(func(cfg *Config) {
		reloads.Add(1)
		lastInterval.Store(int32(cfg.Refresh.PollIntervalSecs))
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(configPath, []byte("[refresh]\npoll_interval_secs = 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for reloads.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("watcher never reloaded after config write")
		case <-time.After(50 * time.Millisecond):
		}
	}

	if got := lastInterval.Load(); got != 7 {
		t.Errorf("reloaded poll_interval_secs = %d, want 7", got)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHATMUX_HOME", dir)
	ClearCache()

	var reloads atomic.Int32
	w, err := NewWatcher(func(*Config) { reloads.Add(1) })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	if reloads.Load() != 0 {
		t.Errorf("watcher reloaded on unrelated file, reloads=%d", reloads.Load())
	}
}

func TestWatcherStopIsClean(t *testing.T) {
	t.Setenv("CHATMUX_HOME", t.TempDir())
	ClearCache()

	w, err := NewWatcher(nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Start()
	w.Stop()
	// Second stop must not panic or hang.
	w.cancel()
}
