// Package config loads library-cache settings from the environment with
// an optional YAML overlay file pointed at by LIBRARY_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RetentionConfig bounds each table's row count.
type RetentionConfig struct {
	MaxDownloads int `yaml:"max_downloads"`
	MaxHistory   int `yaml:"max_history"`
	MaxWatchlist int `yaml:"max_watchlist"`
}

// AppConfig carries everything the library cache needs at startup.
type AppConfig struct {
	DBPath    string          `yaml:"db_path"`
	LogLevel  string          `yaml:"log_level"`
	Retention RetentionConfig `yaml:"retention"`
}

// Load reads env vars, then overlays the YAML file named by
// LIBRARY_CONFIG if set. Unset retention values fall back to zero and
// are defaulted by the caller; a present but non-positive value is a
// configuration error surfaced before any storage access.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		DBPath:   strings.TrimSpace(os.Getenv("LIBRARY_DB_PATH")),
		LogLevel: strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}

	var err error
	if cfg.Retention.MaxDownloads, err = envInt("LIBRARY_MAX_DOWNLOADS"); err != nil {
		return AppConfig{}, err
	}
	if cfg.Retention.MaxHistory, err = envInt("LIBRARY_MAX_HISTORY"); err != nil {
		return AppConfig{}, err
	}
	if cfg.Retention.MaxWatchlist, err = envInt("LIBRARY_MAX_WATCHLIST"); err != nil {
		return AppConfig{}, err
	}

	if path := strings.TrimSpace(os.Getenv("LIBRARY_CONFIG")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return AppConfig{}, err
		}
	}

	if cfg.DBPath == "" {
		return AppConfig{}, errors.New("LIBRARY_DB_PATH is required")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func overlayFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var overlay AppConfig
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if overlay.DBPath != "" {
		cfg.DBPath = overlay.DBPath
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}
	if overlay.Retention.MaxDownloads != 0 {
		cfg.Retention.MaxDownloads = overlay.Retention.MaxDownloads
	}
	if overlay.Retention.MaxHistory != 0 {
		cfg.Retention.MaxHistory = overlay.Retention.MaxHistory
	}
	if overlay.Retention.MaxWatchlist != 0 {
		cfg.Retention.MaxWatchlist = overlay.Retention.MaxWatchlist
	}
	return nil
}

func envInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: %d, must be positive", key, n)
	}
	return n, nil
}
