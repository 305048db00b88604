package config

import (
	"fmt"
	"regexp"
	"strings"
)

var bitratePattern = regexp.MustCompile(`^[0-9]+k$`)

// Validate checks configuration values for consistency before use.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.EpisodesDir) == "" {
		problems = append(problems, "paths.episodes_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.ConvertedDir) == "" {
		problems = append(problems, "paths.converted_dir must not be empty")
	}
	if c.Paths.EpisodesDir == c.Paths.ConvertedDir && c.Paths.EpisodesDir != "" {
		problems = append(problems, "paths.episodes_dir and paths.converted_dir must differ")
	}
	if c.Device.MediaFolderName == "" {
		problems = append(problems, "device.media_folder_name must not be empty")
	}
	if c.Audio.Format != "mp3" {
		problems = append(problems, fmt.Sprintf("audio.format: unsupported value %q (only mp3 is supported)", c.Audio.Format))
	}
	if !bitratePattern.MatchString(c.Audio.Bitrate) {
		problems = append(problems, fmt.Sprintf("audio.bitrate: %q is not of the form <number>k", c.Audio.Bitrate))
	}
	if c.Sync.DefaultEpisodeLimit < 1 || c.Sync.DefaultEpisodeLimit > 100 {
		problems = append(problems, "sync.default_episode_limit must be between 1 and 100")
	}
	if c.Cleanup.RetentionDays < 1 {
		problems = append(problems, "cleanup.retention_days must be positive")
	}
	if c.Cleanup.MaxStorageMB < 1 {
		problems = append(problems, "cleanup.max_storage_mb must be positive")
	}
	if c.Workflow.CheckIntervalMinutes < 1 {
		problems = append(problems, "workflow.check_interval_minutes must be positive")
	}
	if c.Workflow.CleanupIntervalHours < 1 {
		problems = append(problems, "workflow.cleanup_interval_hours must be positive")
	}
	if c.Workflow.DownloadTimeoutMinutes < 1 {
		problems = append(problems, "workflow.download_timeout_minutes must be positive")
	}
	if c.Workflow.FeedTimeoutSeconds < 1 {
		problems = append(problems, "workflow.feed_timeout_seconds must be positive")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unsupported value %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
