package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quietLogger(t *testing.T, level LogLevel, size int) *Logger {
	t.Helper()
	l := New(level, t.TempDir(), size)
	l.SetConsoleOutput(false)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	logger := quietLogger(t, INFO, 100)

	logger.Error("error message")
	logger.Warn("warn message")
	logger.Info("info message")
	logger.Debug("debug message") // filtered
	logger.Trace("trace message") // filtered

	buffer := logger.GetBuffer()
	if len(buffer) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(buffer))
	}
	if buffer[0].Level != ERROR || buffer[1].Level != WARN || buffer[2].Level != INFO {
		t.Errorf("unexpected levels: %v %v %v", buffer[0].Level, buffer[1].Level, buffer[2].Level)
	}
}

func TestLoggerContext(t *testing.T) {
	t.Parallel()

	logger := quietLogger(t, INFO, 100)
	logger.Info("test message", "key1", "value1", "key2", 42, "dangling")

	buffer := logger.GetBuffer()
	if len(buffer) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(buffer))
	}
	entry := buffer[0]
	if entry.Context["key1"] != "value1" {
		t.Errorf("expected key1=value1, got %v", entry.Context["key1"])
	}
	if entry.Context["key2"] != 42 {
		t.Errorf("expected key2=42, got %v", entry.Context["key2"])
	}
	if _, ok := entry.Context["dangling"]; ok {
		t.Errorf("odd trailing key should be ignored")
	}
}

func TestLoggerSetLevel(t *testing.T) {
	t.Parallel()

	logger := quietLogger(t, INFO, 100)
	logger.Debug("debug1")
	logger.SetLevel(DEBUG)
	logger.Debug("debug2")

	buffer := logger.GetBuffer()
	if len(buffer) != 1 || buffer[0].Message != "debug2" {
		t.Fatalf("expected only debug2, got %+v", buffer)
	}
}

func TestLoggerCircularBuffer(t *testing.T) {
	t.Parallel()

	logger := quietLogger(t, INFO, 5)
	for i := 0; i < 10; i++ {
		logger.Info("message", "num", i)
	}

	buffer := logger.GetBuffer()
	if len(buffer) != 5 {
		t.Fatalf("expected buffer size 5, got %d", len(buffer))
	}
	if buffer[0].Context["num"] != 5 || buffer[4].Context["num"] != 9 {
		t.Errorf("expected entries 5..9, got %v..%v", buffer[0].Context["num"], buffer[4].Context["num"])
	}
}

func TestLoggerDatedFiles(t *testing.T) {
	t.Parallel()

	logger := quietLogger(t, INFO, 100)
	logger.SetBaseName("print-agent")

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local)
	logger.now = func() time.Time { return day }
	logger.Info("first day", "key", "value")

	day = day.Add(2 * time.Minute)
	logger.Info("second day")

	for _, name := range []string{"print-agent-2026-03-01.log", "print-agent-2026-03-02.log"} {
		if _, err := os.Stat(filepath.Join(logger.Dir(), name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	dates, err := logger.Dates()
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2026-03-02" || dates[1] != "2026-03-01" {
		t.Errorf("unexpected dates %v", dates)
	}

	lines, err := logger.Tail("2026-03-01", 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "first day key=value") {
		t.Errorf("unexpected tail %v", lines)
	}
}

func TestLoggerTailLimit(t *testing.T) {
	t.Parallel()

	logger := quietLogger(t, INFO, 100)
	for i := 0; i < 20; i++ {
		logger.Info("line", "n", i)
	}

	lines, err := logger.Tail("", 3)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[2], "n=19") {
		t.Errorf("expected last line n=19, got %q", lines[2])
	}

	if _, err := logger.Tail("../etc/passwd", 3); err == nil {
		t.Errorf("expected invalid date to be rejected")
	}
}

func TestLoggerMaintainRemovesOldFiles(t *testing.T) {
	t.Parallel()

	logger := quietLogger(t, INFO, 100)
	logger.SetRotationPolicy(RotationPolicy{Enabled: true, MaxAgeDays: 7})

	old := filepath.Join(logger.Dir(), "agent-2020-01-01.log")
	if err := os.WriteFile(old, []byte("old\n"), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	logger.Info("fresh")

	if removed := logger.Maintain(); removed != 1 {
		t.Errorf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old log should be gone")
	}
}

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want LogLevel
	}{
		{"ERROR", ERROR},
		{"warn", WARN},
		{"warning", WARN},
		{" debug ", DEBUG},
		{"TRACE", TRACE},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.in); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
