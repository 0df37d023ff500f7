package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sampleConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func TestWriteDefaultTOML(t *testing.T) {
	t.Parallel()

	t.Run("creates new config file", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "test.toml")
		if err := WriteDefaultTOML(configPath, sampleConfig{Name: "test", Value: 42}); err != nil {
			t.Fatalf("WriteDefaultTOML() failed: %v", err)
		}

		content, err := os.ReadFile(configPath)
		if err != nil {
			t.Fatalf("Failed to read config file: %v", err)
		}
		if !strings.Contains(string(content), `name = "test"`) || !strings.Contains(string(content), "value = 42") {
			t.Errorf("unexpected content:\n%s", content)
		}
	})

	t.Run("does not overwrite existing file", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "existing.toml")
		existing := "name = \"old\"\n"
		if err := os.WriteFile(configPath, []byte(existing), 0644); err != nil {
			t.Fatal(err)
		}

		err := WriteDefaultTOML(configPath, sampleConfig{Name: "new"})
		if err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Fatalf("expected 'already exists' error, got %v", err)
		}
		content, _ := os.ReadFile(configPath)
		if string(content) != existing {
			t.Error("Existing file was modified")
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "deep", "nested", "config.toml")
		if err := WriteDefaultTOML(configPath, sampleConfig{Name: "nested"}); err != nil {
			t.Fatalf("WriteDefaultTOML() failed: %v", err)
		}
		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config not created: %v", err)
		}
	})
}

func TestLoadTOML(t *testing.T) {
	t.Parallel()

	t.Run("loads valid config", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "valid.toml")
		if err := os.WriteFile(configPath, []byte("name = \"loaded\"\nvalue = 999\n"), 0644); err != nil {
			t.Fatal(err)
		}

		var cfg sampleConfig
		if err := LoadTOML(configPath, &cfg); err != nil {
			t.Fatalf("LoadTOML() failed: %v", err)
		}
		if cfg.Name != "loaded" || cfg.Value != 999 {
			t.Errorf("unexpected config %+v", cfg)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		t.Parallel()

		var cfg sampleConfig
		err := LoadTOML(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Fatalf("expected not found error, got %v", err)
		}
	})

	t.Run("returns error for invalid TOML", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "invalid.toml")
		if err := os.WriteFile(configPath, []byte("this is not valid TOML {{{}}}"), 0644); err != nil {
			t.Fatal(err)
		}
		var cfg sampleConfig
		if err := LoadTOML(configPath, &cfg); err == nil {
			t.Fatal("LoadTOML() should fail for invalid TOML")
		}
	})
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("AGENT_CONFIG", "/tmp/agent_config.toml")
	if got := ResolveConfigPath("AGENT", "flag.toml"); got != "/tmp/agent_config.toml" {
		t.Fatalf("expected AGENT_CONFIG, got %q", got)
	}

	t.Setenv("AGENT_CONFIG", "")
	t.Setenv("CONFIG", "")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("AGENT_CONFIG_PATH", "")
	if got := ResolveConfigPath("AGENT", "flag.toml"); got != "flag.toml" {
		t.Fatalf("expected flag fallback, got %q", got)
	}
}

func TestApplyDatabaseEnvOverrides(t *testing.T) {
	cfg := &DatabaseConfig{}

	t.Setenv("AGENT_DB_PATH", "/data/agent/agent.db")
	ApplyDatabaseEnvOverrides(cfg, "AGENT")
	if cfg.Path != "/data/agent/agent.db" {
		t.Fatalf("expected AGENT_DB_PATH, got %q", cfg.Path)
	}

	cfg.Path = ""
	t.Setenv("AGENT_DB_PATH", "")
	t.Setenv("DB_PATH", "/data/all/db.sqlite")
	ApplyDatabaseEnvOverrides(cfg, "AGENT")
	if cfg.Path != "/data/all/db.sqlite" {
		t.Fatalf("expected DB_PATH fallback, got %q", cfg.Path)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.env")
	if err := os.WriteFile(path, []byte("PRINT_AGENT_TEST_KEY=from-file\nPRINT_AGENT_PRESET=file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PRINT_AGENT_TEST_KEY", "")
	os.Unsetenv("PRINT_AGENT_TEST_KEY")
	t.Setenv("PRINT_AGENT_PRESET", "process")

	loaded, err := LoadEnvFile(path)
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if loaded != path {
		t.Errorf("loaded = %q, want %q", loaded, path)
	}
	if got := os.Getenv("PRINT_AGENT_TEST_KEY"); got != "from-file" {
		t.Errorf("expected value from file, got %q", got)
	}
	if got := os.Getenv("PRINT_AGENT_PRESET"); got != "process" {
		t.Errorf("existing env must win, got %q", got)
	}

	if loaded, err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil || loaded != "" {
		t.Errorf("missing file should be ignored, got %q %v", loaded, err)
	}
}
