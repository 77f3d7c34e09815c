package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestInitWritesRotatedFile(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	l := Logger()
	if l == nil {
		t.Fatal("expected non-nil logger after Init")
	}

	l.Info("test_message", "key", "value")

	data, err := os.ReadFile(filepath.Join(dir, "chatmux.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}

	record := firstRecord(t, data)
	if record["msg"] != "test_message" {
		t.Errorf("expected msg=test_message, got %v", record["msg"])
	}
	if record["key"] != "value" {
		t.Errorf("expected key=value, got %v", record["key"])
	}
}

func TestInitNoLogDirDiscards(t *testing.T) {
	Shutdown()

	Init(Config{})
	defer Shutdown()

	l := Logger()
	if l == nil {
		t.Fatal("expected non-nil logger with empty LogDir")
	}

	// Should not panic.
	l.Info("this goes nowhere")
}

func TestForComponent(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	cl := ForComponent(CompBridge)
	cl.Info("session_created", "session", "work-42")

	data, err := os.ReadFile(filepath.Join(dir, "chatmux.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	record := firstRecord(t, data)
	if record["component"] != CompBridge {
		t.Errorf("expected component=%s, got %v", CompBridge, record["component"])
	}
}

func TestForComponentBeforeInit(t *testing.T) {
	Shutdown()

	// Created before Init; must still bind to the real handler afterwards.
	cl := ForComponent(CompEngine)

	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	cl.Info("late_bound")

	data, err := os.ReadFile(filepath.Join(dir, "chatmux.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !containsMsg(data, "late_bound") {
		t.Error("component logger created before Init lost its message")
	}
}

func TestLevelFiltering(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	l := Logger()
	l.Info("should_be_filtered")
	l.Warn("should_appear")

	data, err := os.ReadFile(filepath.Join(dir, "chatmux.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	if containsMsg(data, "should_be_filtered") {
		t.Error("info message should have been filtered at warn level")
	}
	if !containsMsg(data, "should_appear") {
		t.Error("warn message should have appeared")
	}
}

func TestTextFormat(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{LogDir: dir, Format: "text"})
	defer Shutdown()

	Logger().Info("text_format_test")

	data, err := os.ReadFile(filepath.Join(dir, "chatmux.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(data, &record); err == nil {
		t.Error("expected text format, but got valid JSON")
	}
}

func TestDumpRingBuffer(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{LogDir: dir, RingBufferSize: 1024})
	defer Shutdown()

	Logger().Info("ring_test_message")

	dumpPath := filepath.Join(dir, "crash-dump.jsonl")
	if err := DumpRingBuffer(dumpPath); err != nil {
		t.Fatalf("DumpRingBuffer failed: %v", err)
	}

	data, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatalf("failed to read dump file: %v", err)
	}
	if len(data) == 0 {
		t.Error("crash dump file is empty")
	}
}

// firstRecord parses the first JSONL line of data.
func firstRecord(t *testing.T, data []byte) map[string]any {
	t.Helper()
	for i, b := range data {
		if b == '\n' {
			var record map[string]any
			if err := json.Unmarshal(data[:i], &record); err != nil {
				t.Fatalf("failed to parse JSONL: %v (data: %s)", err, string(data[:i]))
			}
			return record
		}
	}
	t.Fatal("no complete JSONL line found")
	return nil
}

// containsMsg checks if JSONL data contains a record with the given msg field.
func containsMsg(data []byte, msg string) bool {
	start := 0
	for i, b := range data {
		if b == '\n' {
			var record map[string]any
			if err := json.Unmarshal(data[start:i], &record); err == nil {
				if record["msg"] == msg {
					return true
				}
			}
			start = i + 1
		}
	}
	return false
}
