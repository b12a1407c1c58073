package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultReceiptsRoot = "Dropbox/bonuri"
	stateDir            = ".life-dashboard/receipts-desktop"
	stateFile           = "state.json"
)

// Store describes one configured retail store.
type Store struct {
	ID      string `json:"id" toml:"id" mapstructure:"id"`
	Name    string `json:"name" toml:"name" mapstructure:"name"`
	Enabled bool   `json:"enabled" toml:"enabled" mapstructure:"enabled"`
}

// ServerConfig holds the HTTP listener settings for the desktop shell API.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// LogConfig configures slog output and the rotating worker output logs.
// Rotation parameters follow lumberjack semantics.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Config is the resolved application configuration.
// Environment variables override file values:
// RECEIPTS_ROOT, WORKER_DIR, WORKER_RUN_CMD, RECEIPTS_STORES_PATH,
// RECEIPTS_STATE_PATH.
type Config struct {
	ReceiptsRoot string       `json:"receipts_root" toml:"receipts_root" mapstructure:"receipts_root"`
	WorkerDir    string       `json:"worker_dir" toml:"worker_dir" mapstructure:"worker_dir"`
	WorkerRunCmd string       `json:"worker_run_cmd" toml:"worker_run_cmd" mapstructure:"worker_run_cmd"`
	StoresPath   string       `json:"-" toml:"stores_path" mapstructure:"stores_path"`
	StatePath    string       `json:"-" toml:"state_path" mapstructure:"state_path"`
	HistoryDSN   string       `json:"-" toml:"history_dsn" mapstructure:"history_dsn"`
	Stores       []Store      `json:"stores" toml:"stores" mapstructure:"stores"`
	Server       ServerConfig `json:"-" toml:"server" mapstructure:"server"`
	Log          LogConfig    `json:"-" toml:"log" mapstructure:"log"`
}

// Load reads an optional TOML config file and applies environment overrides.
// path may be empty; all values then come from env vars and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Listen: "127.0.0.1:8390", BasePath: "/api"},
		Log:    LogConfig{Level: "info"},
	}
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if cfg.ReceiptsRoot == "" {
		cfg.ReceiptsRoot = defaultRoot()
	}
	if cfg.StatePath == "" {
		cfg.StatePath = defaultStatePath()
	}
	if len(cfg.Stores) == 0 {
		cfg.Stores = loadStores(cfg.StoresPath)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := envVar("RECEIPTS_ROOT"); v != "" {
		cfg.ReceiptsRoot = v
	}
	if v := envVar("WORKER_DIR"); v != "" {
		cfg.WorkerDir = v
	}
	if v := envVar("WORKER_RUN_CMD"); v != "" {
		cfg.WorkerRunCmd = v
	}
	if v := envVar("RECEIPTS_STORES_PATH"); v != "" {
		cfg.StoresPath = v
	}
	if v := envVar("RECEIPTS_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
}

// envVar treats blank or whitespace-only values as unset.
func envVar(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultReceiptsRoot
	}
	return filepath.Join(home, defaultReceiptsRoot)
}

// defaultStatePath returns "" when no home directory resolves; the seen-state
// store reports a configuration error in that case.
func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, stateDir, stateFile)
}

// loadStores resolves the store list from the first readable stores.json among
// the explicit path and the conventional locations, falling back to the
// built-in defaults.
func loadStores(explicit string) []Store {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(cwd, "config", "stores.json"),
			filepath.Join(cwd, "..", "config", "stores.json"),
		)
	}
	for _, p := range paths {
		raw, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			continue
		}
		var stores []Store
		if err := json.Unmarshal(raw, &stores); err != nil {
			continue
		}
		if len(stores) > 0 {
			return stores
		}
	}
	return DefaultStores()
}

// DefaultStores is the built-in store list used when no stores.json is found.
func DefaultStores() []Store {
	return []Store{
		{ID: "lidl", Name: "Lidl", Enabled: true},
		{ID: "kaufland", Name: "Kaufland", Enabled: false},
		{ID: "carrefour", Name: "Carrefour", Enabled: false},
	}
}

// EnabledStores filters the configured stores down to the enabled ones.
func (c *Config) EnabledStores() []Store {
	out := make([]Store, 0, len(c.Stores))
	for _, s := range c.Stores {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// RunsDir is the directory the worker writes run summary files into.
func (c *Config) RunsDir() string {
	return filepath.Join(c.ReceiptsRoot, "_logs", "runs")
}

// InboxDir is the per-store receipt inbox directory.
func (c *Config) InboxDir(storeID string) string {
	return filepath.Join(c.ReceiptsRoot, "inbox", storeID)
}
