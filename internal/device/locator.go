// Package device locates the watch's removable storage and watches for it
// being plugged in or removed.
//
// The watch mounts as plain USB mass storage, so there is no stable device
// identity to hold on to. Every operation that touches the device re-probes
// the filesystem; a mount point found a minute ago may be gone now.
package device

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"watchpod/internal/config"
	"watchpod/internal/logging"
	"watchpod/internal/services"
)

var scanRoots = []string{"/Volumes", "/media", "/run/media", "/mnt"}

// Mount describes a located device filesystem.
type Mount struct {
	Path      string
	MediaPath string
}

// Locator finds the device mount point by probing candidate paths for a
// writable media folder.
type Locator struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewLocator constructs a locator for the configured device.
func NewLocator(cfg *config.Config, logger *slog.Logger) *Locator {
	return &Locator{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "device-locator"),
	}
}

// Locate probes for the device and returns its mount. Returns a
// device-unavailable error when no candidate passes validation.
func (l *Locator) Locate() (*Mount, error) {
	for _, candidate := range l.candidates() {
		mediaPath, ok := l.probe(candidate)
		if !ok {
			continue
		}
		l.logger.Debug("device located",
			logging.String("mount_point", candidate),
			logging.String("media_path", mediaPath),
		)
		return &Mount{Path: candidate, MediaPath: mediaPath}, nil
	}
	return nil, services.Wrap(services.ErrDeviceUnavailable, "device", "locate", "no writable device mount found", nil)
}

// IsConnected reports whether a writable device mount is currently present.
func (l *Locator) IsConnected() bool {
	_, err := l.Locate()
	return err == nil
}

// candidates returns mount points to probe, most specific first. The
// configured override always wins; otherwise the usual removable-media roots
// are scanned.
func (l *Locator) candidates() []string {
	var paths []string
	if configured := l.cfg.Device.MountPath; configured != "" {
		if expanded, err := config.ExpandPath(configured); err == nil {
			paths = append(paths, expanded)
		}
	}

	roots := make([]string, 0, len(scanRoots)+1)
	roots = append(roots, scanRoots[0])
	if user := os.Getenv("USER"); user != "" {
		roots = append(roots, filepath.Join("/media", user), filepath.Join("/run/media", user))
	}
	roots = append(roots, scanRoots[1:]...)

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			paths = append(paths, filepath.Join(root, entry.Name()))
		}
	}
	return paths
}

// probe validates a candidate mount. The media folder must already exist on
// it; its presence is what tells the watch apart from any other removable
// storage that happens to be mounted. The folder must also accept a zero-byte
// hidden file, created and removed again, so read-only mounts and stale mount
// table entries are rejected. Returns the media folder path.
func (l *Locator) probe(candidate string) (string, bool) {
	info, err := os.Stat(candidate)
	if err != nil || !info.IsDir() {
		return "", false
	}

	mediaPath := filepath.Join(candidate, l.cfg.Device.MediaFolderName)
	mediaInfo, err := os.Stat(mediaPath)
	if err != nil || !mediaInfo.IsDir() {
		return "", false
	}

	probePath := filepath.Join(mediaPath, ".watchpod-"+uuid.NewString())
	if err := os.WriteFile(probePath, nil, 0o644); err != nil {
		return "", false
	}
	_ = os.Remove(probePath)

	return mediaPath, true
}

// Require locates the device or returns an error suitable for surfacing to
// operations that cannot proceed without it.
func (l *Locator) Require() (*Mount, error) {
	mount, err := l.Locate()
	if err != nil {
		return nil, fmt.Errorf("device required: %w", err)
	}
	return mount, nil
}
