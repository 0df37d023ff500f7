// Package housekeeping periodically prunes spool leftovers, rotates logs
// and trims the local history database.
package housekeeping

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// LogMaintainer rotates and prunes log files, returning how many were removed.
type LogMaintainer interface {
	Maintain() int
}

// HistoryPruner drops history rows older than maxAge.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, maxAge time.Duration) (int64, error)
}

// BackupCleaner removes old database backups, keeping the newest keep.
type BackupCleaner func(dbPath string, keep int) (int, error)

// Logger interface for housekeeping
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nullLogger struct{}

func (nullLogger) Error(msg string, context ...interface{}) {}
func (nullLogger) Warn(msg string, context ...interface{})  {}
func (nullLogger) Info(msg string, context ...interface{})  {}
func (nullLogger) Debug(msg string, context ...interface{}) {}

// Options configures a Housekeeper.
type Options struct {
	Interval time.Duration
	// TempDirs are directories owned by the agent; files older than
	// TempMaxAge are removed.
	TempDirs   []string
	TempMaxAge time.Duration

	Logs LogMaintainer

	History       HistoryPruner
	HistoryMaxAge time.Duration

	DBPath       string
	KeepBackups  int
	CleanBackups BackupCleaner
	Logger       Logger
}

// Report summarizes one housekeeping pass.
type Report struct {
	FilesRemoved   int   `json:"files_removed"`
	BytesFreed     int64 `json:"bytes_freed"`
	LogsRemoved    int   `json:"logs_removed"`
	HistoryPruned  int64 `json:"history_pruned"`
	BackupsRemoved int   `json:"backups_removed"`
}

// Housekeeper runs the periodic cleanup.
type Housekeeper struct {
	opts   Options
	logger Logger
	now    func() time.Time

	mu        sync.Mutex
	scheduler gocron.Scheduler
	last      Report
	lastRun   time.Time
}

// New creates a Housekeeper. Start schedules it.
func New(opts Options) *Housekeeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.TempMaxAge <= 0 {
		opts.TempMaxAge = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = nullLogger{}
	}
	return &Housekeeper{opts: opts, logger: logger, now: time.Now}
}

// Start schedules RunOnce every Interval, first run immediately.
func (h *Housekeeper) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create housekeeping scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(h.opts.Interval),
		gocron.NewTask(func() { h.RunOnce(ctx) }),
		gocron.WithName("housekeeping"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to schedule housekeeping: %w", err)
	}
	s.Start()
	h.scheduler = s
	h.logger.Info("Housekeeping scheduled", "interval", h.opts.Interval)
	return nil
}

// Stop shuts the scheduler down.
func (h *Housekeeper) Stop() error {
	h.mu.Lock()
	s := h.scheduler
	h.scheduler = nil
	h.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

// RunOnce performs one full pass.
func (h *Housekeeper) RunOnce(ctx context.Context) Report {
	rep := h.CleanTemp(h.opts.TempMaxAge)

	if h.opts.Logs != nil {
		rep.LogsRemoved = h.opts.Logs.Maintain()
	}
	if h.opts.History != nil && h.opts.HistoryMaxAge > 0 {
		n, err := h.opts.History.PruneHistory(ctx, h.opts.HistoryMaxAge)
		if err != nil {
			h.logger.Warn("History pruning failed", "error", err)
		}
		rep.HistoryPruned = n
	}
	if h.opts.CleanBackups != nil && h.opts.DBPath != "" && h.opts.KeepBackups > 0 {
		n, err := h.opts.CleanBackups(h.opts.DBPath, h.opts.KeepBackups)
		if err != nil {
			h.logger.Warn("Backup cleanup failed", "error", err)
		}
		rep.BackupsRemoved = n
	}

	h.mu.Lock()
	h.last, h.lastRun = rep, h.now()
	h.mu.Unlock()

	if rep != (Report{}) {
		h.logger.Info("Housekeeping finished", "files", rep.FilesRemoved, "bytes", rep.BytesFreed,
			"logs", rep.LogsRemoved, "history", rep.HistoryPruned, "backups", rep.BackupsRemoved)
	}
	return rep
}

// Last returns the most recent report and when it ran.
func (h *Housekeeper) Last() (Report, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.lastRun
}

// CleanTemp removes regular files in the temp dirs whose modification time
// is at least maxAge old. maxAge 0 removes every file.
func (h *Housekeeper) CleanTemp(maxAge time.Duration) Report {
	var rep Report
	cutoff := h.now().Add(-maxAge)
	for _, dir := range h.opts.TempDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				h.logger.Warn("Cannot read temp dir", "dir", dir, "error", err)
			}
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if maxAge > 0 && info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				h.logger.Debug("Failed to remove temp file", "path", path, "error", err)
				continue
			}
			rep.FilesRemoved++
			rep.BytesFreed += info.Size()
		}
	}
	return rep
}
