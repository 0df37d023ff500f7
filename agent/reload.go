package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tzi-shue/print-service-deploy/common/logger"
)

// watchConfig re-reads configPath whenever it changes and hands the result
// to apply. The parent directory is watched so that editors which replace
// the file are noticed too. It returns when ctx is done.
func watchConfig(ctx context.Context, configPath string, log *logger.Logger, apply func(*AgentConfig)) error {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	// Editors emit bursts of events for one save.
	const settle = 200 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Config watcher error", "error", err)
		case <-pending:
			pending = nil
			cfg, err := LoadAgentConfig(abs)
			if err != nil {
				log.Warn("Config changed but could not be loaded", "path", abs, "error", err)
				continue
			}
			log.Info("Configuration reloaded", "path", abs)
			apply(cfg)
		}
	}
}

// applyLogLevel is the live part of a reload: the log level. Everything
// else takes effect on the next restart.
func applyLogLevel(log *logger.Logger) func(*AgentConfig) {
	return func(cfg *AgentConfig) {
		level := logger.LevelFromString(cfg.Logging.Level)
		if level == log.GetLevel() {
			return
		}
		log.SetLevel(level)
		log.Info("Log level changed", "level", logger.LevelToString(level))
	}
}
