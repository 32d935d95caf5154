package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test", WARN, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Filtered levels leaked: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("Expected levels missing: %s", out)
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test", ERROR, &buf)

	logger.Info("before")
	logger.SetLevel(DEBUG)
	logger.Info("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Errorf("Message below level logged: %s", out)
	}
	if !strings.Contains(out, "after") {
		t.Errorf("Message after SetLevel missing: %s", out)
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("sync", DEBUG, &buf)

	derived := logger.WithContext("chat_id", "chat-1").WithFields(map[string]interface{}{
		"attempt": 2,
	})
	derived.Info("replaying op")

	out := buf.String()
	if !strings.Contains(out, "chat_id=chat-1") || !strings.Contains(out, "attempt=2") {
		t.Errorf("Context fields missing: %s", out)
	}
	if !strings.Contains(out, "[sync]") {
		t.Errorf("Component tag missing: %s", out)
	}

	// The parent logger is unaffected
	buf.Reset()
	logger.Info("plain")
	if strings.Contains(buf.String(), "chat_id") {
		t.Errorf("Parent logger picked up derived context: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"error", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatDeterministicContext(t *testing.T) {
	entry := Entry{
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Level:     INFO,
		Component: "api",
		Message:   "request complete",
		Context: map[string]interface{}{
			"b_second": 2,
			"a_first":  1,
		},
	}

	line := Format(entry)
	if !strings.HasPrefix(line, "[2026-03-14 09:30:00] INFO [api] request complete") {
		t.Errorf("Line = %q", line)
	}
	if !strings.HasSuffix(strings.TrimRight(line, "\n"), "a_first=1 b_second=2") {
		t.Errorf("Context not sorted: %q", line)
	}
}

func TestMultiWriterRouting(t *testing.T) {
	var console, file bytes.Buffer
	mw := NewMultiWriter(&console, &file, true)
	logger := NewLogger("test", DEBUG, mw)

	logger.Debug("debug only in file")
	logger.Error("error everywhere")

	if strings.Contains(console.String(), "debug only in file") {
		t.Errorf("Debug leaked to console: %s", console.String())
	}
	if !strings.Contains(file.String(), "debug only in file") {
		t.Errorf("Debug missing from file: %s", file.String())
	}
	if !strings.Contains(console.String(), "error everywhere") {
		t.Errorf("Error missing from console: %s", console.String())
	}
	if !strings.Contains(file.String(), "error everywhere") {
		t.Errorf("Error missing from file: %s", file.String())
	}
}

func TestMultiWriterFileDisabled(t *testing.T) {
	var console, file bytes.Buffer
	mw := NewMultiWriter(&console, &file, false)
	logger := NewLogger("test", DEBUG, mw)

	logger.Debug("everything to console")
	if !strings.Contains(console.String(), "everything to console") {
		t.Errorf("Console missing output: %s", console.String())
	}
	if file.Len() != 0 {
		t.Errorf("File written while disabled: %s", file.String())
	}
}

func TestFileWriterWritesAndCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	fw, err := NewFileWriter(path, 10, 2)
	if err != nil {
		t.Fatalf("Failed to create file writer: %v", err)
	}

	logger := NewLogger("test", INFO, fw)
	logger.Info("persisted line")

	if err := fw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted line") {
		t.Errorf("Log file contents: %s", data)
	}

	if _, err := fw.Write([]byte("late")); err == nil {
		t.Error("Write after Close succeeded")
	}
}

func TestFileWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotate.log")

	// A zero size threshold forces rotation on every flush.
	fw, err := NewFileWriter(path, 0, 2)
	if err != nil {
		t.Fatalf("Failed to create file writer: %v", err)
	}
	defer fw.Close()

	if _, err := fw.Write([]byte("first entry\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := fw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("Failed to read rotated file: %v", err)
	}
	if !strings.Contains(string(backup), "first entry") {
		t.Errorf("Rotated file contents: %s", backup)
	}

	if _, err := fw.Write([]byte("second entry\n")); err != nil {
		t.Fatalf("Write after rotation failed: %v", err)
	}
	if err := fw.Flush(); err != nil {
		t.Fatalf("Flush after rotation failed: %v", err)
	}

	backup, err = os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("Failed to read rotated file: %v", err)
	}
	if !strings.Contains(string(backup), "second entry") {
		t.Errorf("Rotated file after second flush: %s", backup)
	}
}
