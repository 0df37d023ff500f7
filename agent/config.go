package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tzi-shue/print-service-deploy/common/config"
)

// AgentConfig represents the agent configuration
type AgentConfig struct {
	Server       ServerConfig          `toml:"server"`
	Print        PrintConfig           `toml:"print"`
	CUPS         CUPSConfig            `toml:"cups"`
	Housekeeping HousekeepingConfig    `toml:"housekeeping"`
	Identity     IdentityConfig        `toml:"identity"`
	Database     config.DatabaseConfig `toml:"database"`
	Logging      config.LoggingConfig  `toml:"logging"`
	SNMP         SNMPConfig            `toml:"snmp"`
	Discovery    DiscoveryConfig       `toml:"discovery"`
	Metrics      MetricsConfig         `toml:"metrics"`
	Service      ServiceConfig         `toml:"service"`
}

// ServerConfig holds the dispatch server connection settings
type ServerConfig struct {
	URL                         string `toml:"url"`
	HeartbeatIntervalSeconds    int    `toml:"heartbeat_interval_seconds"`
	ReconnectIntervalSeconds    int    `toml:"reconnect_interval_seconds"`
	MaxReconnectIntervalSeconds int    `toml:"max_reconnect_interval_seconds"`
	DialTimeoutSeconds          int    `toml:"dial_timeout_seconds"`
	PollIntervalMs              int    `toml:"poll_interval_ms"`
	MaxMessageMB                int    `toml:"max_message_mb"`
}

// PrintConfig holds print pipeline settings
type PrintConfig struct {
	TempDir               string `toml:"temp_dir"`
	Media                 string `toml:"media"`
	ConvertTimeoutSeconds int    `toml:"convert_timeout_seconds"`
	FetchTimeoutSeconds   int    `toml:"fetch_timeout_seconds"`
}

// CUPSConfig holds CUPS command-line settings
type CUPSConfig struct {
	PPDDir                string `toml:"ppd_dir"`
	CommandTimeoutSeconds int    `toml:"command_timeout_seconds"`
	InstallTimeoutSeconds int    `toml:"install_timeout_seconds"`
}

// HousekeepingConfig controls periodic cleanup
type HousekeepingConfig struct {
	IntervalMinutes   int `toml:"interval_minutes"`
	TempMaxAgeMinutes int `toml:"temp_max_age_minutes"`
	HistoryDays       int `toml:"history_days"`
	KeepBackups       int `toml:"keep_backups"`
}

// IdentityConfig locates the persisted device id
type IdentityConfig struct {
	Path          string `toml:"path"`
	MachineIDPath string `toml:"machine_id_path"`
}

// SNMPConfig holds SNMP client settings
type SNMPConfig struct {
	Enabled   bool   `toml:"enabled"`
	Community string `toml:"community"`
	TimeoutMs int    `toml:"timeout_ms"`
}

// DiscoveryConfig controls DNS-SD browsing for network printers
type DiscoveryConfig struct {
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Services       []string `toml:"services"`
}

// MetricsConfig controls the optional Prometheus listener. Empty disables it.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// ServiceConfig names the system service the agent runs as
type ServiceConfig struct {
	Name string `toml:"name"`
}

// DefaultAgentConfig returns agent configuration with sensible defaults
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Server: ServerConfig{
			URL:                         "ws://127.0.0.1:8089/ws",
			HeartbeatIntervalSeconds:    30,
			ReconnectIntervalSeconds:    5,
			MaxReconnectIntervalSeconds: 60,
			DialTimeoutSeconds:          10,
			PollIntervalMs:              50,
			MaxMessageMB:                64,
		},
		Print: PrintConfig{
			TempDir:               "/tmp/print_jobs",
			Media:                 "A4",
			ConvertTimeoutSeconds: 60,
			FetchTimeoutSeconds:   60,
		},
		CUPS: CUPSConfig{
			PPDDir:                "/etc/cups/ppd",
			CommandTimeoutSeconds: 10,
			InstallTimeoutSeconds: 60,
		},
		Housekeeping: HousekeepingConfig{
			IntervalMinutes:   60,
			TempMaxAgeMinutes: 60,
			HistoryDays:       30,
			KeepBackups:       5,
		},
		Identity: IdentityConfig{
			Path:          "", // data directory
			MachineIDPath: "", // random id
		},
		Database: config.DatabaseConfig{
			Path: "", // data directory
		},
		Logging: config.LoggingConfig{
			Level:      "info",
			MaxAgeDays: 7,
			MaxSizeMB:  10,
		},
		SNMP: SNMPConfig{
			Enabled:   false,
			Community: "public",
			TimeoutMs: 1500,
		},
		Discovery: DiscoveryConfig{
			TimeoutSeconds: 5,
		},
		Service: ServiceConfig{
			Name: serviceName,
		},
	}
}

// LoadAgentConfig loads configuration from TOML file with environment variable overrides.
// Returns an error if the config file does not exist or cannot be parsed.
func LoadAgentConfig(configPath string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if _, err := os.Stat(configPath); err != nil {
		return nil, err
	}
	if err := config.LoadTOML(configPath, cfg); err != nil {
		return nil, err
	}

	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// ApplyEnvOverrides applies environment variables on top of cfg. It also
// runs when no config file exists.
func ApplyEnvOverrides(cfg *AgentConfig) {
	if val := os.Getenv("SERVER_URL"); val != "" {
		cfg.Server.URL = val
	}
	if val := os.Getenv("HEARTBEAT_INTERVAL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Server.HeartbeatIntervalSeconds = n
		}
	}
	if val := os.Getenv("RECONNECT_INTERVAL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Server.ReconnectIntervalSeconds = n
		}
	}
	if val := os.Getenv("MAX_RECONNECT_INTERVAL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Server.MaxReconnectIntervalSeconds = n
		}
	}
	if val := os.Getenv("PRINT_TEMP_DIR"); val != "" {
		cfg.Print.TempDir = val
	}
	if val := os.Getenv("METRICS_LISTEN"); val != "" {
		cfg.Metrics.Listen = val
	}
	if val := os.Getenv("SNMP_ENABLED"); val != "" {
		lower := strings.ToLower(val)
		cfg.SNMP.Enabled = lower == "1" || lower == "true" || lower == "yes"
	}
	if val := os.Getenv("SNMP_COMMUNITY"); val != "" {
		cfg.SNMP.Community = val
	}

	config.ApplyDatabaseEnvOverrides(&cfg.Database, "AGENT")
	config.ApplyLoggingEnvOverrides(&cfg.Logging)
}

// WriteDefaultAgentConfig writes a default agent configuration file
func WriteDefaultAgentConfig(configPath string) error {
	cfg := DefaultAgentConfig()
	return config.WriteDefaultTOML(configPath, cfg)
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
