// Package config provides shared configuration helpers for the print agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// AppName is the directory name used under system and user config roots.
const AppName = "print-agent"

// FindConfigFile returns the first readable file named filename from
// GetConfigSearchPaths.
func FindConfigFile(filename string) (string, []byte, error) {
	for _, path := range GetConfigSearchPaths(filename) {
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}
	return "", nil, fmt.Errorf("%s not found in any search path", filename)
}

// GetConfigSearchPaths returns an ordered list of paths to search for config files
func GetConfigSearchPaths(filename string) []string {
	var searchPaths []string

	switch runtime.GOOS {
	case "darwin":
		searchPaths = append(searchPaths, filepath.Join("/Library/Application Support", AppName, filename))
	default:
		searchPaths = append(searchPaths, filepath.Join("/etc", AppName, filename))
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", AppName, filename))
	}

	if exePath, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(exePath), filename))
	}

	searchPaths = append(searchPaths, filepath.Join(".", filename))
	return searchPaths
}

// GetDataDirectory returns (and creates) the directory for persistent state.
// Services use the system-wide location, interactive runs the user's.
func GetDataDirectory(isService bool) (string, error) {
	var dataDir string
	if isService {
		dataDir = filepath.Join("/var/lib", AppName)
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share", AppName)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}

// GetLogDirectory returns (and creates) the directory for log files.
func GetLogDirectory(isService bool) (string, error) {
	logDir := "logs"
	if isService {
		logDir = filepath.Join("/var/log", AppName)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return logDir, nil
}

// WriteDefaultTOML writes config as TOML to configPath, creating parent
// directories. An existing file is left untouched.
func WriteDefaultTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(configPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadTOML decodes the TOML file at configPath into config.
func LoadTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error; an empty path searches for "agent.env".
func LoadEnvFile(path string) (string, error) {
	if path == "" {
		for _, candidate := range GetConfigSearchPaths("agent.env") {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return "", nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("load env file %s: %w", path, err)
	}
	return path, nil
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `toml:"level"`
	Dir        string `toml:"dir"`
	MaxAgeDays int    `toml:"max_age_days"`
	MaxSizeMB  int    `toml:"max_size_mb"`
}

// GetEnvPrefixed returns PREFIX_KEY when set, otherwise KEY.
func GetEnvPrefixed(prefix, key string) string {
	if prefix != "" {
		if val := os.Getenv(prefix + "_" + key); val != "" {
			return val
		}
	}
	return os.Getenv(key)
}

// ResolveConfigPath picks the config file path from PREFIX_CONFIG,
// PREFIX_CONFIG_PATH, CONFIG, CONFIG_PATH and finally the flag value.
func ResolveConfigPath(prefix, flagVal string) string {
	for _, key := range []string{"CONFIG", "CONFIG_PATH"} {
		if val := GetEnvPrefixed(prefix, key); val != "" {
			return val
		}
	}
	return flagVal
}

// ApplyDatabaseEnvOverrides applies PREFIX_DB_PATH or DB_PATH.
func ApplyDatabaseEnvOverrides(cfg *DatabaseConfig, prefix string) {
	if val := GetEnvPrefixed(prefix, "DB_PATH"); val != "" {
		cfg.Path = val
	}
}

// ApplyLoggingEnvOverrides applies LOG_LEVEL and LOG_DIR.
func ApplyLoggingEnvOverrides(cfg *LoggingConfig) {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Level = val
	}
	if val := os.Getenv("LOG_DIR"); val != "" {
		cfg.Dir = val
	}
}
