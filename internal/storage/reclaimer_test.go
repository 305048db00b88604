package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"watchpod/internal/config"
	"watchpod/internal/logging"
	"watchpod/internal/maintenance"
	"watchpod/internal/storage"
	"watchpod/internal/store"
	"watchpod/internal/testsupport"
)

func newReclaimer(t *testing.T, cfg *config.Config, st *store.Store) *storage.Reclaimer {
	t.Helper()
	lock := maintenance.NewLock(cfg.Paths.DataDir)
	return storage.NewReclaimer(cfg, st, lock, logging.NewNop())
}

func seedWithFiles(t *testing.T, cfg *config.Config, st *store.Store, podcastID int64, guid string, size int64, mutators ...func(*store.Episode)) *store.Episode {
	t.Helper()
	raw := filepath.Join(cfg.Paths.EpisodesDir, guid+".m4a")
	converted := filepath.Join(cfg.Paths.ConvertedDir, guid+".mp3")
	testsupport.WriteFile(t, raw, size)
	testsupport.WriteFile(t, converted, size)
	all := append([]func(*store.Episode){func(e *store.Episode) {
		e.DownloadStatus = store.StatusDownloaded
		e.DownloadProgress = 100
		e.LocalPath = raw
		e.ConvertedPath = converted
		e.FileSize = size
	}}, mutators...)
	return testsupport.SeedEpisode(t, st, podcastID, guid, all...)
}

func TestCleanupFailedDeletesEpisodes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	reclaimer := newReclaimer(t, cfg, st)
	podcast := testsupport.SeedPodcast(t, st)

	leftover := filepath.Join(cfg.Paths.EpisodesDir, "broken.mp3")
	testsupport.WriteFile(t, leftover, 100)
	episode := testsupport.SeedEpisode(t, st, podcast.ID, "ep-broken", func(e *store.Episode) {
		e.DownloadStatus = store.StatusFailed
		e.LocalPath = leftover
	})

	cleaned, freed, err := reclaimer.CleanupFailed(context.Background())
	if err != nil {
		t.Fatalf("CleanupFailed: %v", err)
	}
	if cleaned != 1 || freed != 100 {
		t.Fatalf("expected 1 episode and 100 bytes, got %d and %d", cleaned, freed)
	}

	row, _ := st.EpisodeByID(context.Background(), episode.ID)
	if row != nil {
		t.Fatalf("failed episode row should be deleted: %+v", row)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatal("leftover file should be removed")
	}
}

func TestCleanupQuotaRemovesOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cleanup.MaxStorageMB = 1 // 1 MiB cap
	cfg.Cleanup.KeepSynced = false
	st := testsupport.MustOpenStore(t, cfg)
	reclaimer := newReclaimer(t, cfg, st)
	podcast := testsupport.SeedPodcast(t, st)

	// Three episodes of 400 KiB raw + 400 KiB converted each: 2.4 MiB total.
	const size = 400 * 1024
	now := time.Now().UTC()
	first := seedWithFiles(t, cfg, st, podcast.ID, "ep-oldest", size, func(e *store.Episode) {
		e.CreatedAt = now.Add(-2 * time.Hour)
	})
	seedWithFiles(t, cfg, st, podcast.ID, "ep-middle", size, func(e *store.Episode) {
		e.CreatedAt = now.Add(-time.Hour)
	})
	newest := seedWithFiles(t, cfg, st, podcast.ID, "ep-newest", size)

	cleaned, freed, err := reclaimer.CleanupQuota(context.Background())
	if err != nil {
		t.Fatalf("CleanupQuota: %v", err)
	}
	if cleaned == 0 || freed == 0 {
		t.Fatal("quota cleanup should have reclaimed something")
	}

	limit := int64(cfg.Cleanup.MaxStorageMB) * 1024 * 1024
	if usage := reclaimer.LocalUsage(); usage > limit {
		t.Fatalf("usage %d still above limit %d", usage, limit)
	}

	// Oldest-created goes first; newest survives.
	oldRow, _ := st.EpisodeByID(context.Background(), first.ID)
	if oldRow != nil {
		t.Fatalf("oldest episode should be deleted: %+v", oldRow)
	}
	newRow, _ := st.EpisodeByID(context.Background(), newest.ID)
	if newRow == nil || newRow.DownloadStatus != store.StatusDownloaded {
		t.Fatalf("newest episode should survive: %+v", newRow)
	}
}

func TestCleanupQuotaNoopUnderLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cleanup.MaxStorageMB = 1000
	st := testsupport.MustOpenStore(t, cfg)
	reclaimer := newReclaimer(t, cfg, st)
	podcast := testsupport.SeedPodcast(t, st)
	seedWithFiles(t, cfg, st, podcast.ID, "ep-small", 1024)

	cleaned, freed, err := reclaimer.CleanupQuota(context.Background())
	if err != nil {
		t.Fatalf("CleanupQuota: %v", err)
	}
	if cleaned != 0 || freed != 0 {
		t.Fatalf("expected no-op under limit, got %d cleaned %d freed", cleaned, freed)
	}
}

func TestCleanupOrphans(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	reclaimer := newReclaimer(t, cfg, st)
	podcast := testsupport.SeedPodcast(t, st)

	tracked := seedWithFiles(t, cfg, st, podcast.ID, "ep-tracked", 100)

	orphan := filepath.Join(cfg.Paths.EpisodesDir, "orphan.mp3")
	testsupport.WriteFile(t, orphan, 200)

	// A fresh partial file belongs to an in-flight download and stays.
	freshPart := filepath.Join(cfg.Paths.EpisodesDir, "inflight.mp3.part")
	testsupport.WriteFile(t, freshPart, 50)

	removed, freed, err := reclaimer.CleanupOrphans(context.Background())
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if removed != 1 || freed != 200 {
		t.Fatalf("expected 1 orphan and 200 bytes, got %d and %d", removed, freed)
	}

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("orphan should be removed")
	}
	if _, err := os.Stat(freshPart); err != nil {
		t.Fatalf("fresh partial file should survive: %v", err)
	}
	row, _ := st.EpisodeByID(context.Background(), tracked.ID)
	if !row.IsConverted() {
		t.Fatalf("tracked episode should be untouched: %+v", row)
	}
	if _, err := os.Stat(row.LocalPath); err != nil {
		t.Fatalf("tracked file should survive: %v", err)
	}
}

func TestCleanupOldDeletesExpiredEpisodes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cleanup.RetentionDays = 7
	cfg.Cleanup.KeepSynced = false
	st := testsupport.MustOpenStore(t, cfg)
	reclaimer := newReclaimer(t, cfg, st)
	podcast := testsupport.SeedPodcast(t, st)

	expired := seedWithFiles(t, cfg, st, podcast.ID, "ep-expired", 100, func(e *store.Episode) {
		e.CreatedAt = time.Now().UTC().AddDate(0, 0, -30)
	})
	recent := seedWithFiles(t, cfg, st, podcast.ID, "ep-recent", 100)

	cleaned, freed, err := reclaimer.CleanupOld(context.Background())
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if cleaned != 1 || freed != 200 {
		t.Fatalf("expected 1 episode and 200 bytes, got %d and %d", cleaned, freed)
	}

	row, _ := st.EpisodeByID(context.Background(), expired.ID)
	if row != nil {
		t.Fatalf("expired episode row should be deleted: %+v", row)
	}
	if _, err := os.Stat(expired.LocalPath); !os.IsNotExist(err) {
		t.Fatal("expired raw file should be removed")
	}
	if _, err := os.Stat(expired.ConvertedPath); !os.IsNotExist(err) {
		t.Fatal("expired converted file should be removed")
	}

	recentRow, _ := st.EpisodeByID(context.Background(), recent.ID)
	if recentRow == nil || recentRow.DownloadStatus != store.StatusDownloaded {
		t.Fatalf("recent episode should survive: %+v", recentRow)
	}
}

func TestCleanupOldHonorsKeepSynced(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cleanup.RetentionDays = 7
	cfg.Cleanup.KeepSynced = true
	st := testsupport.MustOpenStore(t, cfg)
	reclaimer := newReclaimer(t, cfg, st)
	podcast := testsupport.SeedPodcast(t, st)

	old := time.Now().UTC().AddDate(0, 0, -30)
	onDevice := seedWithFiles(t, cfg, st, podcast.ID, "ep-on-device", 100, func(e *store.Episode) {
		e.CreatedAt = old
		e.SyncedToWatch = true
	})
	expired := seedWithFiles(t, cfg, st, podcast.ID, "ep-expired", 100, func(e *store.Episode) {
		e.CreatedAt = old
	})

	cleaned, _, err := reclaimer.CleanupOld(context.Background())
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("only the unsynced episode should be reclaimed, cleaned %d", cleaned)
	}

	if row, _ := st.EpisodeByID(context.Background(), onDevice.ID); row == nil {
		t.Fatal("synced episode must be protected by keep_synced")
	}
	if row, _ := st.EpisodeByID(context.Background(), expired.ID); row != nil {
		t.Fatalf("unsynced expired episode should be deleted: %+v", row)
	}
}

func TestPodcastUsage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	reclaimer := newReclaimer(t, cfg, st)
	podcast := testsupport.SeedPodcast(t, st)
	seedWithFiles(t, cfg, st, podcast.ID, "ep-u1", 100)
	seedWithFiles(t, cfg, st, podcast.ID, "ep-u2", 150)

	usage, err := reclaimer.PodcastUsage(context.Background())
	if err != nil {
		t.Fatalf("PodcastUsage: %v", err)
	}
	// Each episode holds a raw and a converted copy.
	if usage[podcast.ID] != 2*(100+150) {
		t.Fatalf("unexpected usage: %d", usage[podcast.ID])
	}
}
