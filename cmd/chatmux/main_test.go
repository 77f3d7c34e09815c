package main

import (
	"testing"
	"time"

	"github.com/chatmux/chatmux/internal/config"
)

func TestTunablesFromDefaults(t *testing.T) {
	tun := tunablesFrom(&config.Config{})

	if tun.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", tun.PollInterval)
	}
	if tun.EditInterval != 8*time.Second {
		t.Errorf("EditInterval = %v, want 8s", tun.EditInterval)
	}
	if tun.MaxDuration != 10*time.Minute {
		t.Errorf("MaxDuration = %v, want 10m", tun.MaxDuration)
	}
	if tun.StableDelta != 2 || tun.DonePolls != 5 || tun.ForcePolls != 8 {
		t.Errorf("thresholds = %d/%d/%d, want 2/5/8", tun.StableDelta, tun.DonePolls, tun.ForcePolls)
	}
	if tun.NotifyAfter != 10*time.Second {
		t.Errorf("NotifyAfter = %v, want 10s", tun.NotifyAfter)
	}
}

func TestTunablesFromConfigured(t *testing.T) {
	cfg := &config.Config{}
	cfg.Refresh.PollIntervalSecs = 5
	cfg.Refresh.MaxMinutes = 30
	cfg.Refresh.ForceStablePolls = 12
	cfg.Notify.MinDurationSecs = 42
	cfg.Tmux.CaptureLines = 900

	tun := tunablesFrom(cfg)
	if tun.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", tun.PollInterval)
	}
	if tun.MaxDuration != 30*time.Minute {
		t.Errorf("MaxDuration = %v, want 30m", tun.MaxDuration)
	}
	if tun.ForcePolls != 12 {
		t.Errorf("ForcePolls = %d, want 12", tun.ForcePolls)
	}
	if tun.NotifyAfter != 42*time.Second {
		t.Errorf("NotifyAfter = %v, want 42s", tun.NotifyAfter)
	}
	if tun.CaptureLines != 900 {
		t.Errorf("CaptureLines = %d, want 900", tun.CaptureLines)
	}
}

func TestLogConfigMapsFields(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logs.Level = "debug"
	cfg.Logs.Format = "text"
	cfg.Logs.RingBufferMB = 2

	lc := logConfig(cfg, "/tmp/logs")
	if lc.LogDir != "/tmp/logs" {
		t.Errorf("LogDir = %q", lc.LogDir)
	}
	if lc.Level != "debug" || lc.Format != "text" {
		t.Errorf("level/format = %q/%q", lc.Level, lc.Format)
	}
	if lc.RingBufferSize != 2*1024*1024 {
		t.Errorf("RingBufferSize = %d, want 2MB", lc.RingBufferSize)
	}
	if !lc.Compress {
		t.Error("Compress should default to true")
	}
}
