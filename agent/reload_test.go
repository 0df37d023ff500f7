package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tzi-shue/print-service-deploy/common/logger"
)

func TestWatchConfigAppliesChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := WriteDefaultAgentConfig(path); err != nil {
		t.Fatal(err)
	}

	log := logger.New(logger.INFO, dir, 10)
	log.SetConsoleOutput(false)
	defer log.Close()

	reloaded := make(chan *AgentConfig, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- watchConfig(ctx, path, log, func(cfg *AgentConfig) {
			applyLogLevel(log)(cfg)
			reloaded <- cfg
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level in reloaded config, got %s", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not picked up")
	}
	if log.GetLevel() != logger.DEBUG {
		t.Errorf("expected logger at DEBUG, got %s", logger.LevelToString(log.GetLevel()))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchConfig returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("watcher did not stop")
	}
}

func TestWatchConfigIgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := WriteDefaultAgentConfig(path); err != nil {
		t.Fatal(err)
	}
	log := logger.New(logger.INFO, t.TempDir(), 10)
	log.SetConsoleOutput(false)
	defer log.Close()

	reloaded := make(chan struct{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0644)
	}()

	if err := watchConfig(ctx, path, log, func(*AgentConfig) { reloaded <- struct{}{} }); err != nil {
		t.Fatalf("watchConfig: %v", err)
	}
	select {
	case <-reloaded:
		t.Fatal("unrelated file triggered a reload")
	default:
	}
}
