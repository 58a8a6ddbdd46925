// Package config holds the on-disk configuration for the sync engine and
// its background loop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AppName is the fixed application name used in ledger tags and the
// identity-derivation salt string.
const AppName = "relaymem"

// Config holds all configuration for a sync engine instance.
type Config struct {
	// AppName is the literal app name embedded in every ledger tag.
	AppName string `yaml:"app_name"`

	// Storage holds local-store settings.
	Storage StorageConfig `yaml:"storage"`

	// Sync holds sync-engine and ledger-adapter tuning.
	Sync SyncConfig `yaml:"sync"`

	// Logging holds logger settings.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds local embedded-store settings.
type StorageConfig struct {
	// DataDir is the directory for all data files (db, salt, identity.enc).
	DataDir string `yaml:"data_dir"`
}

// SyncConfig holds sync-engine and ledger-adapter tuning knobs.
type SyncConfig struct {
	// FactSyncInterval is the period of the fact-push ticker.
	FactSyncInterval time.Duration `yaml:"fact_sync_interval"`

	// ConversationWatchInterval is the period of the conversation watcher.
	ConversationWatchInterval time.Duration `yaml:"conversation_watch_interval"`

	// UploadBudgetBytes bounds the serialized+encrypted size of a single
	// shard or conversation chunk. The free-upload budget is a property of
	// the ledger bundling service in use, not a language constant.
	UploadBudgetBytes int `yaml:"upload_budget_bytes"`

	// MaxShardFetchBytes bounds the size of a data-shard blob accepted on pull.
	MaxShardFetchBytes int `yaml:"max_shard_fetch_bytes"`

	// MaxIdentityFetchBytes bounds the size of an identity blob accepted on pull.
	MaxIdentityFetchBytes int `yaml:"max_identity_fetch_bytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AppName: AppName,
		Storage: StorageConfig{
			DataDir: "~/." + AppName,
		},
		Sync: SyncConfig{
			FactSyncInterval:          60 * time.Second,
			ConversationWatchInterval: 30 * time.Second,
			UploadBudgetBytes:         92160, // 90 KiB
			MaxShardFetchBytes:        102400, // 100 KiB
			MaxIdentityFetchBytes:     16384,  // 16 KiB
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file under dataDir.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# sync engine configuration\n# generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
