package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
	TRACE
)

var levelNames = map[LogLevel]string{
	ERROR: "ERROR",
	WARN:  "WARN",
	INFO:  "INFO",
	DEBUG: "DEBUG",
	TRACE: "TRACE",
}

const dateLayout = "2006-01-02"

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Context   map[string]interface{}
}

// RotationPolicy defines when log files are split and how long they are kept.
type RotationPolicy struct {
	Enabled    bool
	MaxSizeMB  int
	MaxAgeDays int
	MaxFiles   int
}

// Logger writes leveled key/value logs to the console, an in-memory ring
// buffer and one file per calendar day named <base>-YYYY-MM-DD.log.
type Logger struct {
	mu             sync.RWMutex
	level          LogLevel
	logDir         string
	baseName       string
	currentFile    *os.File
	currentDate    string
	buffer         []LogEntry
	maxBufferSize  int
	rotationPolicy RotationPolicy
	consoleOutput  bool
	console        io.Writer
	now            func() time.Time
}

// New creates a new Logger instance
func New(level LogLevel, logDir string, maxBufferSize int) *Logger {
	if maxBufferSize <= 0 {
		maxBufferSize = 1
	}
	return &Logger{
		level:         level,
		logDir:        logDir,
		baseName:      "agent",
		buffer:        make([]LogEntry, 0, maxBufferSize),
		maxBufferSize: maxBufferSize,
		consoleOutput: true,
		console:       os.Stdout,
		now:           time.Now,
		rotationPolicy: RotationPolicy{
			Enabled:    true,
			MaxSizeMB:  50,
			MaxAgeDays: 7,
			MaxFiles:   30,
		},
	}
}

// SetBaseName changes the file name prefix used for log files.
func (l *Logger) SetBaseName(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if name == "" || name == l.baseName {
		return
	}
	l.closeFileLocked()
	l.baseName = name
}

// SetConsoleOutput enables or disables console output
func (l *Logger) SetConsoleOutput(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consoleOutput = enabled
}

// SetLevel changes the current log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetRotationPolicy configures log rotation
func (l *Logger) SetRotationPolicy(policy RotationPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotationPolicy = policy
}

// Dir returns the directory log files are written to.
func (l *Logger) Dir() string {
	return l.logDir
}

// Error logs an error level message
func (l *Logger) Error(msg string, context ...interface{}) {
	l.log(ERROR, msg, context...)
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, context ...interface{}) {
	l.log(WARN, msg, context...)
}

// Info logs an info level message
func (l *Logger) Info(msg string, context ...interface{}) {
	l.log(INFO, msg, context...)
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, context ...interface{}) {
	l.log(DEBUG, msg, context...)
}

// Trace logs a trace level message
func (l *Logger) Trace(msg string, context ...interface{}) {
	l.log(TRACE, msg, context...)
}

func (l *Logger) log(level LogLevel, msg string, context ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	ctx := make(map[string]interface{})
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			ctx[key] = context[i+1]
		}
	}

	entry := LogEntry{
		Timestamp: l.now(),
		Level:     level,
		Message:   msg,
		Context:   ctx,
	}

	if len(l.buffer) >= l.maxBufferSize {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, entry)

	line := formatLogEntry(entry)
	if l.consoleOutput && l.console != nil {
		fmt.Fprintln(l.console, line)
	}
	l.writeToFile(entry.Timestamp, line)
}

func (l *Logger) fileFor(date string) string {
	return filepath.Join(l.logDir, fmt.Sprintf("%s-%s.log", l.baseName, date))
}

// writeToFile appends line to the file of the entry's day, switching files
// when the date changes.
func (l *Logger) writeToFile(ts time.Time, line string) {
	if l.logDir == "" {
		return
	}
	date := ts.Format(dateLayout)
	if l.currentFile != nil && l.currentDate != date {
		l.closeFileLocked()
		l.cleanOldFiles()
	}

	if l.currentFile == nil {
		if err := os.MkdirAll(l.logDir, 0755); err != nil {
			return
		}
		f, err := os.OpenFile(l.fileFor(date), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		l.currentFile = f
		l.currentDate = date
	}

	l.currentFile.WriteString(line + "\n")

	if l.shouldRotate() {
		l.rotate()
	}
}

func formatLogEntry(entry LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05-07:00"))
	b.WriteString(" [")
	b.WriteString(levelNames[entry.Level])
	b.WriteString("] ")
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Context))
	for k := range entry.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Context[k])
	}
	return b.String()
}

func (l *Logger) shouldRotate() bool {
	if !l.rotationPolicy.Enabled || l.currentFile == nil || l.rotationPolicy.MaxSizeMB <= 0 {
		return false
	}
	stat, err := l.currentFile.Stat()
	if err != nil {
		return false
	}
	return stat.Size() >= int64(l.rotationPolicy.MaxSizeMB)*1024*1024
}

// rotate moves an oversized day file aside as <base>-DATE.HHMMSS.log.
func (l *Logger) rotate() {
	if l.currentFile == nil {
		return
	}
	path := l.fileFor(l.currentDate)
	date := l.currentDate
	l.closeFileLocked()
	backup := filepath.Join(l.logDir, fmt.Sprintf("%s-%s.%s.log", l.baseName, date, l.now().Format("150405")))
	os.Rename(path, backup)
	l.cleanOldFiles()
}

func (l *Logger) closeFileLocked() {
	if l.currentFile != nil {
		l.currentFile.Close()
		l.currentFile = nil
	}
	l.currentDate = ""
}

// cleanOldFiles removes log files older than MaxAgeDays and keeps at most
// MaxFiles of them.
func (l *Logger) cleanOldFiles() int {
	files, err := filepath.Glob(filepath.Join(l.logDir, l.baseName+"-*.log"))
	if err != nil {
		return 0
	}
	sort.Strings(files)

	removed := 0
	kept := files[:0]
	if l.rotationPolicy.MaxAgeDays > 0 {
		cutoff := l.now().AddDate(0, 0, -l.rotationPolicy.MaxAgeDays)
		for _, file := range files {
			stat, err := os.Stat(file)
			if err == nil && stat.ModTime().Before(cutoff) && file != l.activePath() {
				if os.Remove(file) == nil {
					removed++
					continue
				}
			}
			kept = append(kept, file)
		}
	} else {
		kept = files
	}

	if l.rotationPolicy.MaxFiles > 0 && len(kept) > l.rotationPolicy.MaxFiles {
		for _, file := range kept[:len(kept)-l.rotationPolicy.MaxFiles] {
			if file == l.activePath() {
				continue
			}
			if os.Remove(file) == nil {
				removed++
			}
		}
	}
	return removed
}

func (l *Logger) activePath() string {
	if l.currentFile == nil {
		return ""
	}
	return l.fileFor(l.currentDate)
}

// Maintain rotates an oversized current file and prunes expired files. It
// returns the number of files removed.
func (l *Logger) Maintain() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shouldRotate() {
		l.rotate()
	}
	return l.cleanOldFiles()
}

// Dates lists the days that have a log file, newest first.
func (l *Logger) Dates() ([]string, error) {
	l.mu.RLock()
	base := l.baseName
	l.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(l.logDir, base+"-*.log"))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	dates := make([]string, 0, len(files))
	for _, file := range files {
		name := strings.TrimPrefix(filepath.Base(file), base+"-")
		if len(name) < len(dateLayout) {
			continue
		}
		date := name[:len(dateLayout)]
		if _, err := time.Parse(dateLayout, date); err != nil || seen[date] {
			continue
		}
		seen[date] = true
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Tail returns the last n lines logged on date (YYYY-MM-DD). An empty date
// means today.
func (l *Logger) Tail(date string, n int) ([]string, error) {
	if date == "" {
		date = l.now().Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid log date %q", date)
	}
	if n <= 0 {
		n = 100
	}

	l.mu.RLock()
	path := l.fileFor(date)
	l.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log for %s: %w", date, err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return ring, fmt.Errorf("read log for %s: %w", date, err)
	}
	return ring, nil
}

// GetBuffer returns a copy of the in-memory log buffer
func (l *Logger) GetBuffer() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	buffer := make([]LogEntry, len(l.buffer))
	copy(buffer, l.buffer)
	return buffer
}

// Close closes the current log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentFile != nil {
		err := l.currentFile.Close()
		l.currentFile = nil
		l.currentDate = ""
		return err
	}
	return nil
}

// LevelFromString converts a string to a LogLevel
func LevelFromString(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return ERROR
	case "WARN", "WARNING":
		return WARN
	case "INFO":
		return INFO
	case "DEBUG":
		return DEBUG
	case "TRACE":
		return TRACE
	default:
		return INFO
	}
}

// LevelToString converts a LogLevel to a string
func LevelToString(level LogLevel) string {
	return levelNames[level]
}
