// Package storage reclaims local cache space: aged-out episodes, quota
// overruns, failed downloads, and orphaned files nothing references.
package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"watchpod/internal/config"
	"watchpod/internal/fileutil"
	"watchpod/internal/logging"
	"watchpod/internal/maintenance"
	"watchpod/internal/store"
)

// quotaTargetPercent is how far below the configured cap quota cleanup
// shrinks the cache, so it does not run again immediately.
const quotaTargetPercent = 90

// Reclaimer deletes cached episodes, files and rows both, according to the
// cleanup policy. All operations take the maintenance lock so they never
// race a sync run.
type Reclaimer struct {
	cfg    *config.Config
	store  *store.Store
	lock   *maintenance.Lock
	logger *slog.Logger
}

// NewReclaimer constructs a reclaimer.
func NewReclaimer(cfg *config.Config, st *store.Store, lock *maintenance.Lock, logger *slog.Logger) *Reclaimer {
	return &Reclaimer{
		cfg:    cfg,
		store:  st,
		lock:   lock,
		logger: logging.NewComponentLogger(logger, "storage"),
	}
}

// CleanupOld removes episodes created before the retention window, files and
// rows both. Episodes currently on the device are kept when the policy says
// so. Returns how many episodes were cleaned and the bytes freed.
func (r *Reclaimer) CleanupOld(ctx context.Context) (int, int64, error) {
	release, err := r.lock.Acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	if r.cfg.Cleanup.RetentionDays <= 0 {
		return 0, 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -r.cfg.Cleanup.RetentionDays)
	episodes, err := r.store.EpisodesCreatedBefore(ctx, cutoff, r.cfg.Cleanup.KeepSynced)
	if err != nil {
		return 0, 0, err
	}

	return r.reclaim(ctx, episodes, "retention")
}

// CleanupQuota shrinks the cache below the configured size cap, deleting the
// oldest episodes first (by creation time) until usage drops under the quota
// target.
func (r *Reclaimer) CleanupQuota(ctx context.Context) (int, int64, error) {
	release, err := r.lock.Acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	if r.cfg.Cleanup.MaxStorageMB <= 0 {
		return 0, 0, nil
	}
	limit := int64(r.cfg.Cleanup.MaxStorageMB) * 1024 * 1024
	usage := r.LocalUsage()
	if usage <= limit {
		return 0, 0, nil
	}
	target := limit * quotaTargetPercent / 100

	episodes, err := r.store.EpisodesWithLocalFiles(ctx)
	if err != nil {
		return 0, 0, err
	}

	cleaned := 0
	var freed int64
	for _, episode := range episodes {
		if usage-freed <= target {
			break
		}
		if r.cfg.Cleanup.KeepSynced && episode.SyncedToWatch {
			continue
		}
		n, bytes, err := r.reclaim(ctx, []*store.Episode{episode}, "quota")
		if err != nil {
			return cleaned, freed, err
		}
		cleaned += n
		freed += bytes
	}
	return cleaned, freed, nil
}

// CleanupFailed deletes every failed download, leftover files and episode
// rows both. The next feed refresh rediscovers the entries as fresh pending
// episodes.
func (r *Reclaimer) CleanupFailed(ctx context.Context) (int, int64, error) {
	release, err := r.lock.Acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	episodes, err := r.store.FailedEpisodes(ctx)
	if err != nil {
		return 0, 0, err
	}
	return r.reclaim(ctx, episodes, "failed")
}

// CleanupOrphans deletes files in the cache directories that no episode row
// references. In-flight partial files are left alone until they outlive the
// download timeout.
func (r *Reclaimer) CleanupOrphans(ctx context.Context) (int, int64, error) {
	release, err := r.lock.Acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	known, err := r.knownPaths(ctx)
	if err != nil {
		return 0, 0, err
	}

	removed := 0
	var freed int64
	staleCutoff := time.Now().Add(-r.cfg.DownloadTimeout())

	for _, dir := range []string{r.cfg.Paths.EpisodesDir, r.cfg.Paths.ConvertedDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if _, ok := known[fileutil.CanonicalPath(path)]; ok {
				continue
			}
			if strings.HasSuffix(entry.Name(), ".part") {
				info, err := entry.Info()
				if err == nil && info.ModTime().After(staleCutoff) {
					continue
				}
			}

			size, err := fileutil.RemoveIfExists(path)
			if err != nil {
				r.logger.Warn("failed to remove orphaned file",
					logging.Error(err),
					logging.String("path", path),
				)
				continue
			}
			removed++
			freed += size
			r.logger.Info("orphaned file removed",
				logging.String("path", path),
				logging.Int64("bytes", size),
			)
		}
	}
	return removed, freed, nil
}

// LocalUsage returns the bytes consumed by the episode cache directories.
func (r *Reclaimer) LocalUsage() int64 {
	return fileutil.DirSize(r.cfg.Paths.EpisodesDir) + fileutil.DirSize(r.cfg.Paths.ConvertedDir)
}

// PodcastUsage sums cached file sizes per podcast ID.
func (r *Reclaimer) PodcastUsage(ctx context.Context) (map[int64]int64, error) {
	episodes, err := r.store.EpisodesWithLocalFiles(ctx)
	if err != nil {
		return nil, err
	}
	usage := make(map[int64]int64)
	for _, episode := range episodes {
		usage[episode.PodcastID] += fileutil.FileSize(episode.LocalPath)
		if episode.ConvertedPath != "" && episode.ConvertedPath != episode.LocalPath {
			usage[episode.PodcastID] += fileutil.FileSize(episode.ConvertedPath)
		}
	}
	return usage, nil
}

// reclaim deletes each episode's files and then its row. A file already gone
// is not an error; the row still goes away. Rows are removed one at a time so
// a mid-run failure leaves prior deletions committed and the rest untouched.
func (r *Reclaimer) reclaim(ctx context.Context, episodes []*store.Episode, reason string) (int, int64, error) {
	cleaned := 0
	var freed int64
	for _, episode := range episodes {
		if err := ctx.Err(); err != nil {
			return cleaned, freed, err
		}

		var episodeBytes int64
		paths := []string{episode.LocalPath}
		if episode.ConvertedPath != "" && episode.ConvertedPath != episode.LocalPath {
			paths = append(paths, episode.ConvertedPath)
		}
		for _, path := range paths {
			if path == "" {
				continue
			}
			size, err := fileutil.RemoveIfExists(path)
			if err != nil {
				r.logger.Warn("failed to remove cached file",
					logging.Error(err),
					logging.Int64(logging.FieldEpisodeID, episode.ID),
					logging.String("path", path),
				)
				continue
			}
			episodeBytes += size
		}

		if err := r.store.DeleteEpisodes(ctx, []int64{episode.ID}); err != nil {
			return cleaned, freed, err
		}
		cleaned++
		freed += episodeBytes
		r.logger.Info("episode reclaimed",
			logging.Int64(logging.FieldEpisodeID, episode.ID),
			logging.String("reason", reason),
			logging.Int64("bytes", episodeBytes),
		)
	}
	return cleaned, freed, nil
}

func (r *Reclaimer) knownPaths(ctx context.Context) (map[string]struct{}, error) {
	episodes, err := r.store.EpisodesWithLocalFiles(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(episodes)*2)
	for _, episode := range episodes {
		if episode.LocalPath != "" {
			known[fileutil.CanonicalPath(episode.LocalPath)] = struct{}{}
		}
		if episode.ConvertedPath != "" {
			known[fileutil.CanonicalPath(episode.ConvertedPath)] = struct{}{}
		}
	}
	return known, nil
}
