package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	EpisodesDir  string `toml:"episodes_dir"`
	ConvertedDir string `toml:"converted_dir"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
}

// Device contains configuration for locating the watch.
type Device struct {
	MountPath       string `toml:"mount_path"`
	MediaFolderName string `toml:"media_folder_name"`
}

// Audio contains transcoding configuration.
type Audio struct {
	Format  string `toml:"format"`
	Bitrate string `toml:"bitrate"`
}

// Sync contains configuration for the device reconciler.
type Sync struct {
	AutoSyncEnabled     bool `toml:"auto_sync_enabled"`
	DefaultEpisodeLimit int  `toml:"default_episode_limit"`
}

// Cleanup contains configuration for local cache reclamation.
type Cleanup struct {
	AutoCleanupEnabled bool `toml:"auto_cleanup_enabled"`
	RetentionDays      int  `toml:"retention_days"`
	MaxStorageMB       int  `toml:"max_storage_mb"`
	KeepSynced         bool `toml:"keep_synced"`
}

// Workflow contains timing configuration for scheduled jobs and network calls.
type Workflow struct {
	CheckIntervalMinutes   int `toml:"check_interval_minutes"`
	CleanupIntervalHours   int `toml:"cleanup_interval_hours"`
	DownloadTimeoutMinutes int `toml:"download_timeout_minutes"`
	FeedTimeoutSeconds     int `toml:"feed_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for watchpod.
//
// Configuration sections by subsystem:
//   - Paths: cache directories and API bind address
//   - Device: watch mount override and media folder name
//   - Audio: conversion target format and bitrate
//   - Sync: auto-sync toggle and default per-podcast episode limit
//   - Cleanup: automatic cache reclamation policy
//   - Workflow: scheduler intervals and network timeouts
//   - Logging: log level and format
type Config struct {
	Paths    Paths    `toml:"paths"`
	Device   Device   `toml:"device"`
	Audio    Audio    `toml:"audio"`
	Sync     Sync     `toml:"sync"`
	Cleanup  Cleanup  `toml:"cleanup"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/watchpod/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("watchpod.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.EpisodesDir, c.Paths.ConvertedDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the entity store database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "watchpod.db")
}

// FFmpegBinary returns the converter executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the probe executable name.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// DownloadTimeout returns the bounded overall timeout for a single episode download.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Workflow.DownloadTimeoutMinutes) * time.Minute
}

// FeedTimeout returns the timeout for metadata-only network calls.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Workflow.FeedTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
