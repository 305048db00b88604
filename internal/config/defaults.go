package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Default returns the built-in configuration values.
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		Paths: Paths{
			DataDir:      dataDir,
			EpisodesDir:  filepath.Join(dataDir, "episodes"),
			ConvertedDir: filepath.Join(dataDir, "converted"),
			LogDir:       filepath.Join(dataDir, "logs"),
			APIBind:      "127.0.0.1:8765",
		},
		Device: Device{
			MountPath:       "",
			MediaFolderName: "Music",
		},
		Audio: Audio{
			Format:  "mp3",
			Bitrate: "128k",
		},
		Sync: Sync{
			AutoSyncEnabled:     true,
			DefaultEpisodeLimit: 5,
		},
		Cleanup: Cleanup{
			AutoCleanupEnabled: true,
			RetentionDays:      30,
			MaxStorageMB:       1000,
			KeepSynced:         true,
		},
		Workflow: Workflow{
			CheckIntervalMinutes:   60,
			CleanupIntervalHours:   24,
			DownloadTimeoutMinutes: 10,
			FeedTimeoutSeconds:     30,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultDataDir() string {
	if base, ok := os.LookupEnv("XDG_DATA_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "watchpod")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.local/share/watchpod"
	}
	return filepath.Join(home, ".local", "share", "watchpod")
}

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.DataDir,
		&c.Paths.EpisodesDir,
		&c.Paths.ConvertedDir,
		&c.Paths.LogDir,
	} {
		expanded, err := expandPath(strings.TrimSpace(*field))
		if err != nil {
			return err
		}
		*field = expanded
	}
	if trimmed := strings.TrimSpace(c.Device.MountPath); trimmed != "" {
		expanded, err := expandPath(trimmed)
		if err != nil {
			return err
		}
		c.Device.MountPath = expanded
	} else {
		c.Device.MountPath = ""
	}
	c.Device.MediaFolderName = strings.TrimSpace(c.Device.MediaFolderName)
	c.Audio.Format = strings.ToLower(strings.TrimSpace(c.Audio.Format))
	c.Audio.Bitrate = strings.ToLower(strings.TrimSpace(c.Audio.Bitrate))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}
