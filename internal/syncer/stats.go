package syncer

import (
	"context"
	"time"

	"watchpod/internal/device"
	"watchpod/internal/store"
)

// Stats summarizes sync state for the API and CLI. TotalEligible counts
// downloaded+converted episodes; PendingSync is the eligible ones not yet on
// the device.
type Stats struct {
	TotalEligible   int
	SyncedEpisodes  int
	PendingSync     int
	StatusCounts    map[store.DownloadStatus]int
	LastSuccess     *time.Time
	DeviceConnected bool
	DeviceStorage   *device.StorageInfo
}

// Stats gathers current sync statistics. Device storage fields are nil when
// the device is not connected.
func (r *Reconciler) Stats(ctx context.Context) (*Stats, error) {
	eligible, err := r.store.CountEligible(ctx)
	if err != nil {
		return nil, err
	}
	synced, err := r.store.CountSynced(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := r.store.CountsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	pending := eligible - synced
	if pending < 0 {
		pending = 0
	}
	stats := &Stats{
		TotalEligible:  eligible,
		SyncedEpisodes: synced,
		PendingSync:    pending,
		StatusCounts:   counts,
	}

	if last, err := r.store.LastSuccessfulSync(ctx); err == nil && last != nil && last.CompletedAt != nil {
		stats.LastSuccess = last.CompletedAt
	}

	if mount, err := r.locator.Locate(); err == nil {
		stats.DeviceConnected = true
		if info, err := device.Statfs(mount.Path); err == nil {
			stats.DeviceStorage = &info
		}
	}
	return stats, nil
}

// History returns recent sync runs, newest first.
func (r *Reconciler) History(ctx context.Context, limit int) ([]*store.SyncRun, error) {
	return r.store.ListSyncRuns(ctx, limit)
}
