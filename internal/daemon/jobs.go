package daemon

import (
	"context"
	"errors"
	"strconv"
	"time"

	"watchpod/internal/logging"
	"watchpod/internal/maintenance"
	"watchpod/internal/store"
)

// Settings keys that override config defaults at runtime.
const (
	settingAutoSync    = "auto_sync_enabled"
	settingAutoCleanup = "auto_cleanup_enabled"
)

func (d *Daemon) registerJobs() {
	checkInterval := time.Duration(d.cfg.Workflow.CheckIntervalMinutes) * time.Minute
	cleanupInterval := time.Duration(d.cfg.Workflow.CleanupIntervalHours) * time.Hour

	d.scheduler.AddIntervalJob("auto-download", checkInterval, d.autoDownloadJob)
	d.scheduler.AddIntervalJob("auto-cleanup", cleanupInterval, d.autoCleanupJob)
}

// autoDownloadJob refreshes every feed, queues pending downloads, and, when
// the device happens to be connected, reconciles it.
func (d *Daemon) autoDownloadJob(ctx context.Context) {
	added, err := d.podcastSvc.RefreshAll(ctx)
	if err != nil {
		d.logger.Warn("scheduled feed refresh had failures", logging.Error(err))
	}
	started, err := d.downloads.DownloadPending(ctx)
	if err != nil {
		d.logger.Warn("scheduled download queueing failed", logging.Error(err))
	}
	if added > 0 || started > 0 {
		d.logger.Info("scheduled check complete",
			logging.Int("episodes_discovered", added),
			logging.Int("downloads_started", started),
		)
	}

	if !d.syncEnabled(ctx) || !d.locator.IsConnected() {
		return
	}
	if _, err := d.reconciler.SyncToDevice(ctx, store.SyncAuto, nil); err != nil && !errors.Is(err, maintenance.ErrBusy) {
		d.logger.Warn("scheduled sync failed", logging.Error(err))
	}
}

// autoCleanupJob runs every reclamation pass in sequence. Lock contention
// with a concurrent sync just delays each pass, it never skips work.
func (d *Daemon) autoCleanupJob(ctx context.Context) {
	if !d.cleanupEnabled(ctx) {
		return
	}

	type pass struct {
		name string
		run  func(context.Context) (int, int64, error)
	}
	passes := []pass{
		{"age", d.reclaimer.CleanupOld},
		{"quota", d.reclaimer.CleanupQuota},
		{"failed", d.reclaimer.CleanupFailed},
		{"orphan", d.reclaimer.CleanupOrphans},
	}

	totalCleaned := 0
	var totalFreed int64
	for _, p := range passes {
		cleaned, freed, err := p.run(ctx)
		if err != nil {
			if errors.Is(err, maintenance.ErrBusy) {
				continue
			}
			d.logger.Warn("cleanup pass failed",
				logging.Error(err),
				logging.String("pass", p.name),
			)
			continue
		}
		totalCleaned += cleaned
		totalFreed += freed
	}
	if totalCleaned > 0 {
		d.logger.Info("cleanup complete",
			logging.Int("episodes", totalCleaned),
			logging.Int64("bytes_freed", totalFreed),
		)
	}
}

// syncEnabled resolves the auto-sync policy: a stored setting overrides the
// config default.
func (d *Daemon) syncEnabled(ctx context.Context) bool {
	return d.boolSetting(ctx, settingAutoSync, d.cfg.Sync.AutoSyncEnabled)
}

func (d *Daemon) cleanupEnabled(ctx context.Context) bool {
	return d.boolSetting(ctx, settingAutoCleanup, d.cfg.Cleanup.AutoCleanupEnabled)
}

func (d *Daemon) boolSetting(ctx context.Context, key string, fallback bool) bool {
	value, ok, err := d.store.Setting(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
