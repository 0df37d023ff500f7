package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultAgentConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultAgentConfig()

	if cfg.Server.HeartbeatIntervalSeconds != 30 {
		t.Errorf("expected default heartbeat interval 30s, got %d", cfg.Server.HeartbeatIntervalSeconds)
	}
	if cfg.Server.ReconnectIntervalSeconds != 5 || cfg.Server.MaxReconnectIntervalSeconds != 60 {
		t.Errorf("unexpected reconnect defaults %d/%d", cfg.Server.ReconnectIntervalSeconds, cfg.Server.MaxReconnectIntervalSeconds)
	}
	if cfg.Server.MaxMessageMB != 64 {
		t.Errorf("expected 64 MiB message cap, got %d", cfg.Server.MaxMessageMB)
	}
	if cfg.Print.TempDir != "/tmp/print_jobs" {
		t.Errorf("unexpected temp dir %s", cfg.Print.TempDir)
	}
	if cfg.SNMP.Enabled {
		t.Error("expected SNMP probing to be disabled by default")
	}
	if cfg.Metrics.Listen != "" {
		t.Error("expected metrics listener to be disabled by default")
	}
	if cfg.Service.Name != "websocket-printer" {
		t.Errorf("unexpected service name %s", cfg.Service.Name)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info log level, got %s", cfg.Logging.Level)
	}
	if cfg.Identity.MachineIDPath != "" {
		t.Errorf("expected random device ids by default, got machine id source %s", cfg.Identity.MachineIDPath)
	}
}

func TestLoadAgentConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
[server]
url = "wss://dispatch.example.com/ws"
heartbeat_interval_seconds = 15

[print]
media = "Letter"

[snmp]
enabled = true
community = "private"

[logging]
level = "debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadAgentConfig(configPath)
	if err != nil {
		t.Fatalf("LoadAgentConfig failed: %v", err)
	}

	if cfg.Server.URL != "wss://dispatch.example.com/ws" {
		t.Errorf("unexpected server url %s", cfg.Server.URL)
	}
	if cfg.Server.HeartbeatIntervalSeconds != 15 {
		t.Errorf("expected heartbeat 15, got %d", cfg.Server.HeartbeatIntervalSeconds)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.ReconnectIntervalSeconds != 5 {
		t.Errorf("expected default reconnect interval, got %d", cfg.Server.ReconnectIntervalSeconds)
	}
	if cfg.Print.Media != "Letter" || cfg.Print.TempDir != "/tmp/print_jobs" {
		t.Errorf("unexpected print section %+v", cfg.Print)
	}
	if !cfg.SNMP.Enabled || cfg.SNMP.Community != "private" {
		t.Errorf("unexpected snmp section %+v", cfg.SNMP)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.Logging.Level)
	}
}

func TestLoadAgentConfigMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadAgentConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadAgentConfigInvalidTOML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\nurl = "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAgentConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_URL", "ws://10.1.1.1:9000/ws")
	t.Setenv("HEARTBEAT_INTERVAL", "45")
	t.Setenv("RECONNECT_INTERVAL", "2")
	t.Setenv("MAX_RECONNECT_INTERVAL", "120")
	t.Setenv("PRINT_TEMP_DIR", "/var/spool/agent")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("AGENT_DB_PATH", "/data/agent.db")
	t.Setenv("METRICS_LISTEN", "127.0.0.1:9464")
	t.Setenv("SNMP_ENABLED", "yes")
	t.Setenv("SNMP_COMMUNITY", "lab")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteDefaultAgentConfig(path); err != nil {
		t.Fatalf("WriteDefaultAgentConfig failed: %v", err)
	}
	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig failed: %v", err)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"url", cfg.Server.URL, "ws://10.1.1.1:9000/ws"},
		{"heartbeat", cfg.Server.HeartbeatIntervalSeconds, 45},
		{"reconnect", cfg.Server.ReconnectIntervalSeconds, 2},
		{"max reconnect", cfg.Server.MaxReconnectIntervalSeconds, 120},
		{"temp dir", cfg.Print.TempDir, "/var/spool/agent"},
		{"log level", cfg.Logging.Level, "warn"},
		{"db path", cfg.Database.Path, "/data/agent.db"},
		{"metrics", cfg.Metrics.Listen, "127.0.0.1:9464"},
		{"snmp enabled", cfg.SNMP.Enabled, true},
		{"snmp community", cfg.SNMP.Community, "lab"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestEnvironmentOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "soon")

	cfg := DefaultAgentConfig()
	ApplyEnvOverrides(cfg)
	if cfg.Server.HeartbeatIntervalSeconds != 30 {
		t.Errorf("expected default heartbeat to survive, got %d", cfg.Server.HeartbeatIntervalSeconds)
	}
}

func TestDBPathFallsBackToGenericEnv(t *testing.T) {
	t.Setenv("AGENT_DB_PATH", "")
	t.Setenv("DB_PATH", "/srv/print.db")

	cfg := DefaultAgentConfig()
	ApplyEnvOverrides(cfg)
	if cfg.Database.Path != "/srv/print.db" {
		t.Errorf("expected DB_PATH to apply, got %q", cfg.Database.Path)
	}
}

func TestWriteDefaultAgentConfigRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := WriteDefaultAgentConfig(path); err != nil {
		t.Fatalf("WriteDefaultAgentConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
}

func TestSeconds(t *testing.T) {
	t.Parallel()

	if got := seconds(0, 7*time.Second); got != 7*time.Second {
		t.Errorf("zero should use default, got %v", got)
	}
	if got := seconds(-3, time.Second); got != time.Second {
		t.Errorf("negative should use default, got %v", got)
	}
	if got := seconds(12, time.Second); got != 12*time.Second {
		t.Errorf("got %v", got)
	}
}
