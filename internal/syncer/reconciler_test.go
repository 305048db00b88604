package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"watchpod/internal/config"
	"watchpod/internal/device"
	"watchpod/internal/logging"
	"watchpod/internal/maintenance"
	"watchpod/internal/services"
	"watchpod/internal/store"
	"watchpod/internal/syncer"
	"watchpod/internal/testsupport"
)

func newReconciler(t *testing.T, cfg *config.Config, st *store.Store) *syncer.Reconciler {
	t.Helper()
	locator := device.NewLocator(cfg, logging.NewNop())
	lock := maintenance.NewLock(cfg.Paths.DataDir)
	return syncer.NewReconciler(cfg, st, locator, lock, logging.NewNop())
}

func mediaDir(cfg *config.Config) string {
	return filepath.Join(cfg.Device.MountPath, cfg.Device.MediaFolderName)
}

// seedConverted creates a converted episode whose file really exists.
func seedConverted(t *testing.T, cfg *config.Config, st *store.Store, podcastID int64, guid string, pub time.Time, size int64) *store.Episode {
	t.Helper()
	path := filepath.Join(cfg.Paths.ConvertedDir, guid+".mp3")
	testsupport.WriteFile(t, path, size)
	return testsupport.SeedEpisode(t, st, podcastID, guid, func(e *store.Episode) {
		e.DownloadStatus = store.StatusDownloaded
		e.DownloadProgress = 100
		e.LocalPath = path
		e.ConvertedPath = path
		e.FileSize = size
		e.PubDate = &pub
	})
}

func TestSyncCopiesTopEpisodesPerPodcast(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MountDevice(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	reconciler := newReconciler(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st, func(p *store.Podcast) {
		p.EpisodeLimit = 2
	})
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedConverted(t, cfg, st, podcast.ID, fmt.Sprintf("ep-%d", i), base.Add(time.Duration(i)*time.Hour), 100)
	}

	run, err := reconciler.SyncToDevice(context.Background(), store.SyncManual, nil)
	if err != nil {
		t.Fatalf("SyncToDevice: %v", err)
	}
	if run.Status != store.SyncSuccess {
		t.Fatalf("expected success, got %s (%s)", run.Status, run.ErrorMessage)
	}
	if run.EpisodesAdded != 2 {
		t.Fatalf("expected 2 episodes added, got %d", run.EpisodesAdded)
	}

	entries, err := os.ReadDir(mediaDir(cfg))
	if err != nil {
		t.Fatalf("read media dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 files on device, got %d", len(entries))
	}
	names := map[string]bool{}
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	// Newest two by pub date.
	if !names["ep-4.mp3"] || !names["ep-3.mp3"] {
		t.Fatalf("expected newest episodes on device, got %v", names)
	}

	synced, _ := st.CountSynced(context.Background())
	if synced != 2 {
		t.Fatalf("expected 2 synced flags, got %d", synced)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MountDevice(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	reconciler := newReconciler(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st)
	seedConverted(t, cfg, st, podcast.ID, "ep-a", time.Now().UTC(), 100)

	if _, err := reconciler.SyncToDevice(context.Background(), store.SyncManual, nil); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	second, err := reconciler.SyncToDevice(context.Background(), store.SyncManual, nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.EpisodesAdded != 0 || second.EpisodesRemoved != 0 || second.BytesTransferred != 0 {
		t.Fatalf("second run should be a no-op: %+v", second)
	}
}

func TestSyncEvictsStaleFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MountDevice(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	reconciler := newReconciler(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st, func(p *store.Podcast) {
		p.EpisodeLimit = 1
	})
	old := seedConverted(t, cfg, st, podcast.ID, "ep-old", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), 100)

	ctx := context.Background()
	if _, err := reconciler.SyncToDevice(ctx, store.SyncManual, nil); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// The player keeps its own metadata next to the audio files.
	metadata := filepath.Join(mediaDir(cfg), "player.db")
	testsupport.WriteFile(t, metadata, 40)

	// A newer episode displaces the old one within the limit of 1.
	seedConverted(t, cfg, st, podcast.ID, "ep-new", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), 100)
	run, err := reconciler.SyncToDevice(ctx, store.SyncManual, nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if run.EpisodesAdded != 1 || run.EpisodesRemoved != 1 {
		t.Fatalf("expected 1 added and 1 removed, got %+v", run)
	}

	if _, err := os.Stat(filepath.Join(mediaDir(cfg), "ep-old.mp3")); !os.IsNotExist(err) {
		t.Fatal("old episode should be evicted from device")
	}
	if _, err := os.Stat(filepath.Join(mediaDir(cfg), "ep-new.mp3")); err != nil {
		t.Fatalf("new episode should be on device: %v", err)
	}
	if _, err := os.Stat(metadata); err != nil {
		t.Fatalf("non-audio file should survive eviction: %v", err)
	}

	oldRow, _ := st.EpisodeByID(ctx, old.ID)
	if oldRow.SyncedToWatch {
		t.Fatal("evicted episode should lose its synced flag")
	}
}

func TestSyncSkipsEpisodeWhoseCopyFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MountDevice(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	reconciler := newReconciler(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	good := seedConverted(t, cfg, st, podcast.ID, "ep-good", base, 100)
	bad := seedConverted(t, cfg, st, podcast.ID, "ep-bad", base.Add(time.Hour), 100)

	// A directory squatting on the target path makes this one copy fail.
	if err := os.MkdirAll(filepath.Join(mediaDir(cfg), "ep-bad.mp3"), 0o755); err != nil {
		t.Fatalf("mkdir blocker: %v", err)
	}

	run, err := reconciler.SyncToDevice(context.Background(), store.SyncManual, nil)
	if err != nil {
		t.Fatalf("SyncToDevice: %v", err)
	}
	if run.Status != store.SyncPartial {
		t.Fatalf("expected partial run, got %s (%s)", run.Status, run.ErrorMessage)
	}
	if run.EpisodesAdded != 1 {
		t.Fatalf("the other episode should still sync, got %d added", run.EpisodesAdded)
	}

	if _, err := os.Stat(filepath.Join(mediaDir(cfg), "ep-good.mp3")); err != nil {
		t.Fatalf("good episode should be on device: %v", err)
	}
	goodRow, _ := st.EpisodeByID(context.Background(), good.ID)
	if !goodRow.SyncedToWatch {
		t.Fatal("good episode should be flagged synced")
	}
	badRow, _ := st.EpisodeByID(context.Background(), bad.ID)
	if badRow.SyncedToWatch {
		t.Fatal("failed copy must not be flagged synced")
	}
}

func TestSyncReportsProgressInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MountDevice(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	reconciler := newReconciler(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedConverted(t, cfg, st, podcast.ID, fmt.Sprintf("ep-p%d", i), base.Add(time.Duration(i)*time.Hour), 50)
	}

	var currents []int
	var labels []string
	onProgress := func(current, total int, label string) {
		if total != 3 {
			t.Fatalf("expected total 3, got %d", total)
		}
		currents = append(currents, current)
		labels = append(labels, label)
	}

	if _, err := reconciler.SyncToDevice(context.Background(), store.SyncManual, onProgress); err != nil {
		t.Fatalf("SyncToDevice: %v", err)
	}

	wantLabels := []string{"Episode ep-p2", "Episode ep-p1", "Episode ep-p0"}
	if len(labels) != len(wantLabels) {
		t.Fatalf("expected %d progress calls, got %d", len(wantLabels), len(labels))
	}
	for i := range wantLabels {
		if currents[i] != i+1 {
			t.Fatalf("expected call %d to report current %d, got %d", i, i+1, currents[i])
		}
		if labels[i] != wantLabels[i] {
			t.Fatalf("expected newest-first order %v, got %v", wantLabels, labels)
		}
	}
}

func TestSyncFailsFastWithoutDevice(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Device.MountPath = filepath.Join(t.TempDir(), "missing")
	st := testsupport.MustOpenStore(t, cfg)
	reconciler := newReconciler(t, cfg, st)

	_, err := reconciler.SyncToDevice(context.Background(), store.SyncManual, nil)
	if !services.IsDeviceUnavailable(err) {
		t.Fatalf("expected device-unavailable error, got %v", err)
	}

	// No history record should be opened for a precondition failure.
	runs, _ := st.ListSyncRuns(context.Background(), 10)
	if len(runs) != 0 {
		t.Fatalf("expected no history records, got %d", len(runs))
	}
}

func TestAutoSyncSkipsWhileMaintenanceBusy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MountDevice(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	reconciler := newReconciler(t, cfg, st)

	release, err := maintenance.NewLock(cfg.Paths.DataDir).TryAcquire()
	if err != nil {
		t.Fatalf("hold maintenance lock: %v", err)
	}
	defer release()

	if _, err := reconciler.SyncToDevice(context.Background(), store.SyncAuto, nil); !errors.Is(err, maintenance.ErrBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	runs, _ := st.ListSyncRuns(context.Background(), 10)
	if len(runs) != 0 {
		t.Fatalf("skipped run should leave no history, got %d records", len(runs))
	}
}

func TestStatsReflectSyncState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MountDevice(t, cfg)
	st := testsupport.MustOpenStore(t, cfg)
	reconciler := newReconciler(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st)
	seedConverted(t, cfg, st, podcast.ID, "ep-stats", time.Now().UTC(), 50)
	testsupport.SeedEpisode(t, st, podcast.ID, "ep-waiting")

	if _, err := reconciler.SyncToDevice(context.Background(), store.SyncManual, nil); err != nil {
		t.Fatalf("sync: %v", err)
	}

	stats, err := reconciler.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.SyncedEpisodes != 1 {
		t.Fatalf("expected 1 synced episode, got %d", stats.SyncedEpisodes)
	}
	if stats.TotalEligible != 1 || stats.PendingSync != 0 {
		t.Fatalf("expected 1 eligible and 0 awaiting, got %d/%d", stats.TotalEligible, stats.PendingSync)
	}
	if stats.LastSuccess == nil {
		t.Fatal("expected last success timestamp")
	}
	if !stats.DeviceConnected {
		t.Fatal("device should report connected")
	}
	if stats.StatusCounts[store.StatusPending] != 1 {
		t.Fatalf("expected 1 pending episode in counts, got %+v", stats.StatusCounts)
	}
}
