// Package syncer reconciles the device's media folder with the locally
// cached episodes.
//
// The device is treated as disposable state: every run recomputes the
// desired set of files from the database and converges the media folder
// toward it, copying what is missing and evicting what no longer belongs.
// Running it twice in a row is a no-op.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"watchpod/internal/config"
	"watchpod/internal/device"
	"watchpod/internal/fileutil"
	"watchpod/internal/logging"
	"watchpod/internal/maintenance"
	"watchpod/internal/store"
)

// quotaBufferPercent is how full the device filesystem may get before the
// reconciler stops copying new files.
const quotaBufferPercent = 90

// audioExtensions are the file types the reconciler manages on the device.
// Anything else in the media folder (player databases, artwork, system
// files) is left alone by the evict pass.
var audioExtensions = map[string]struct{}{
	".mp3":  {},
	".m4a":  {},
	".aac":  {},
	".ogg":  {},
	".opus": {},
	".flac": {},
	".wav":  {},
	".wma":  {},
}

// ProgressFunc receives one call per desired episode during the converge
// pass, as (current, total, title). Invoked synchronously from the sync run.
type ProgressFunc func(current, total int, label string)

// Reconciler copies converged episodes onto the device and evicts stale ones.
type Reconciler struct {
	cfg     *config.Config
	store   *store.Store
	locator *device.Locator
	lock    *maintenance.Lock
	logger  *slog.Logger
}

// NewReconciler constructs a reconciler.
func NewReconciler(cfg *config.Config, st *store.Store, locator *device.Locator, lock *maintenance.Lock, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		store:   st,
		locator: locator,
		lock:    lock,
		logger:  logging.NewComponentLogger(logger, "syncer"),
	}
}

// SyncToDevice runs one full reconciliation, reporting per-episode progress
// through onProgress when it is non-nil. The device must be mounted; a
// missing device fails fast without opening a history record. Once a record
// is open it is always closed, successfully or not. Automatic runs take the
// maintenance lock non-blockingly and return maintenance.ErrBusy instead of
// queueing behind cleanup or another sync.
func (r *Reconciler) SyncToDevice(ctx context.Context, syncType store.SyncType, onProgress ProgressFunc) (*store.SyncRun, error) {
	var release func()
	var err error
	if syncType == store.SyncAuto {
		release, err = r.lock.TryAcquire()
	} else {
		release, err = r.lock.Acquire(ctx)
	}
	if err != nil {
		return nil, err
	}
	defer release()

	mount, err := r.locator.Require()
	if err != nil {
		return nil, err
	}

	run, err := r.store.StartSyncRun(ctx, syncType)
	if err != nil {
		return nil, err
	}

	syncErr := r.reconcile(ctx, mount, run, onProgress)

	if syncErr != nil {
		run.Status = store.SyncFailed
		run.ErrorMessage = syncErr.Error()
	} else if run.Status == "" || run.Status == store.SyncInProgress {
		run.Status = store.SyncSuccess
	}
	if completeErr := r.store.CompleteSyncRun(ctx, run); completeErr != nil {
		r.logger.Error("failed to close sync history record",
			logging.Error(completeErr),
			logging.Int64("sync_id", run.ID),
		)
	}

	r.logger.Info("sync finished",
		logging.String("status", string(run.Status)),
		logging.Int("added", run.EpisodesAdded),
		logging.Int("removed", run.EpisodesRemoved),
		logging.Int64("bytes", run.BytesTransferred),
	)
	return run, syncErr
}

func (r *Reconciler) reconcile(ctx context.Context, mount *device.Mount, run *store.SyncRun, onProgress ProgressFunc) error {
	desired, err := r.desiredSet(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]*store.Episode, len(desired))
	for _, episode := range desired {
		names[filepath.Base(episode.ConvertedPath)] = episode
	}

	skipped, failed, err := r.converge(ctx, mount, desired, run, onProgress)
	if err != nil {
		return err
	}
	if err := r.evict(ctx, mount, names, run); err != nil {
		return err
	}
	if skipped > 0 || failed > 0 {
		run.Status = store.SyncPartial
		var notes []string
		if failed > 0 {
			notes = append(notes, fmt.Sprintf("%d episode(s) failed to copy", failed))
		}
		if skipped > 0 {
			notes = append(notes, fmt.Sprintf("%d episode(s) skipped: device storage near capacity", skipped))
		}
		run.ErrorMessage = strings.Join(notes, "; ")
	}
	return nil
}

// desiredSet returns the episodes that belong on the device: the newest
// converted episodes of each podcast, capped per podcast. Ordering is kept,
// newest-first within a podcast, so callers can report progress over it.
func (r *Reconciler) desiredSet(ctx context.Context) ([]*store.Episode, error) {
	podcastList, err := r.store.ListPodcasts(ctx)
	if err != nil {
		return nil, err
	}

	var desired []*store.Episode
	seen := make(map[string]struct{})
	for _, podcast := range podcastList {
		candidates, err := r.store.DeviceCandidates(ctx, podcast.ID, podcast.EpisodeLimit)
		if err != nil {
			return nil, err
		}
		for _, episode := range candidates {
			if !fileutil.FileExists(episode.ConvertedPath) {
				r.logger.Warn("converted file missing, skipping episode",
					logging.Int64(logging.FieldEpisodeID, episode.ID),
					logging.String("path", episode.ConvertedPath),
				)
				continue
			}
			name := filepath.Base(episode.ConvertedPath)
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			desired = append(desired, episode)
		}
	}
	return desired, nil
}

// converge copies desired episodes that are missing or differ in size. A
// single episode failing to copy is logged and skipped, never fatal to the
// run. Returns how many were skipped for quota and how many failed.
func (r *Reconciler) converge(ctx context.Context, mount *device.Mount, desired []*store.Episode, run *store.SyncRun, onProgress ProgressFunc) (int, int, error) {
	skipped := 0
	failed := 0
	total := len(desired)
	for i, episode := range desired {
		if err := ctx.Err(); err != nil {
			return skipped, failed, err
		}
		if onProgress != nil {
			onProgress(i+1, total, episode.Title)
		}

		name := filepath.Base(episode.ConvertedPath)
		targetPath := filepath.Join(mount.MediaPath, name)
		sourceSize := fileutil.FileSize(episode.ConvertedPath)

		if info, err := os.Stat(targetPath); err == nil && info.Size() == sourceSize {
			// Already on device; repair a missed flag if necessary.
			if !episode.SyncedToWatch {
				if err := r.store.MarkSynced(ctx, episode.ID, time.Now().UTC()); err != nil {
					r.logger.Warn("failed to flag episode synced",
						logging.Error(err),
						logging.Int64(logging.FieldEpisodeID, episode.ID),
					)
				}
			}
			continue
		}

		if !r.fitsQuota(mount, sourceSize) {
			skipped++
			continue
		}

		if err := fileutil.CopyFile(episode.ConvertedPath, targetPath); err != nil {
			failed++
			r.logger.Warn("failed to copy episode to device",
				logging.Error(err),
				logging.Int64(logging.FieldEpisodeID, episode.ID),
				logging.String("file", name),
			)
			continue
		}
		if err := r.store.MarkSynced(ctx, episode.ID, time.Now().UTC()); err != nil {
			// The file is on the device; the next run repairs the flag.
			r.logger.Warn("failed to flag episode synced",
				logging.Error(err),
				logging.Int64(logging.FieldEpisodeID, episode.ID),
			)
		}

		run.EpisodesAdded++
		run.BytesTransferred += sourceSize
		r.logger.Info("episode copied to device",
			logging.Int64(logging.FieldEpisodeID, episode.ID),
			logging.String("file", name),
			logging.Int64("bytes", sourceSize),
		)
	}
	return skipped, failed, nil
}

// evict removes device audio files no longer in the desired set and clears
// the synced flag of the episodes they belonged to. Non-audio files in the
// media folder are never touched.
func (r *Reconciler) evict(ctx context.Context, mount *device.Mount, desired map[string]*store.Episode, run *store.SyncRun) error {
	entries, err := os.ReadDir(mount.MediaPath)
	if err != nil {
		return fmt.Errorf("read device media folder: %w", err)
	}

	byName, err := r.episodesByDeviceName(ctx)
	if err != nil {
		return err
	}

	var unsyncIDs []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isAudioFile(name) {
			continue
		}
		if _, wanted := desired[name]; wanted {
			continue
		}

		targetPath := filepath.Join(mount.MediaPath, name)
		size, err := fileutil.RemoveIfExists(targetPath)
		if err != nil {
			return fmt.Errorf("evict %s from device: %w", name, err)
		}
		run.EpisodesRemoved++
		run.BytesTransferred += size
		if episode, ok := byName[name]; ok && episode.SyncedToWatch {
			unsyncIDs = append(unsyncIDs, episode.ID)
		}
		r.logger.Info("episode evicted from device", logging.String("file", name))
	}

	// Episodes flagged synced whose file is gone or no longer desired also
	// lose the flag, keeping the database honest about device contents.
	for name, episode := range byName {
		if _, wanted := desired[name]; wanted {
			continue
		}
		if episode.SyncedToWatch && !containsID(unsyncIDs, episode.ID) {
			unsyncIDs = append(unsyncIDs, episode.ID)
		}
	}

	return r.store.ClearSynced(ctx, unsyncIDs)
}

func (r *Reconciler) episodesByDeviceName(ctx context.Context) (map[string]*store.Episode, error) {
	episodes, err := r.store.EpisodesWithLocalFiles(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*store.Episode, len(episodes))
	for _, episode := range episodes {
		if episode.ConvertedPath == "" {
			continue
		}
		byName[filepath.Base(episode.ConvertedPath)] = episode
	}
	return byName, nil
}

// fitsQuota reports whether copying size bytes keeps device usage under the
// quota buffer.
func (r *Reconciler) fitsQuota(mount *device.Mount, size int64) bool {
	info, err := device.Statfs(mount.Path)
	if err != nil || info.TotalBytes == 0 {
		// Cannot measure; let the copy attempt decide.
		return true
	}
	projected := info.UsedBytes + size
	return projected*100 <= info.TotalBytes*quotaBufferPercent
}

func isAudioFile(name string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
