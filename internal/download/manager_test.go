package download_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"watchpod/internal/config"
	"watchpod/internal/download"
	"watchpod/internal/logging"
	"watchpod/internal/store"
	"watchpod/internal/testsupport"
	"watchpod/internal/transcode"
)

func newManager(t *testing.T, cfg *config.Config, st *store.Store) *download.Manager {
	t.Helper()
	gateway := transcode.NewGateway(cfg, logging.NewNop())
	return download.NewManager(cfg, st, gateway, logging.NewNop())
}

func TestDownloadSuccess(t *testing.T) {
	payload := strings.Repeat("a", 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st)
	episode := testsupport.SeedEpisode(t, st, podcast.ID, "ep-ok", func(e *store.Episode) {
		e.AudioURL = server.URL + "/ep-ok.mp3"
	})

	result, err := manager.Start(context.Background(), episode.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result != download.ResultQueued {
		t.Fatalf("expected queued, got %s", result)
	}
	manager.Wait(episode.ID)

	final, _ := st.EpisodeByID(context.Background(), episode.ID)
	if final.DownloadStatus != store.StatusDownloaded {
		t.Fatalf("expected downloaded, got %s", final.DownloadStatus)
	}
	if final.DownloadProgress != 100 {
		t.Fatalf("expected 100%% progress, got %d", final.DownloadProgress)
	}
	if final.FileSize != int64(len(payload)) {
		t.Fatalf("expected %d bytes recorded, got %d", len(payload), final.FileSize)
	}
	data, err := os.ReadFile(final.LocalPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if len(data) != len(payload) {
		t.Fatalf("downloaded file truncated: %d bytes", len(data))
	}
	// mp3 needs no conversion, so the local file doubles as the device file.
	if final.ConvertedPath != final.LocalPath {
		t.Fatalf("expected passthrough conversion, got %q", final.ConvertedPath)
	}
	if strings.HasSuffix(final.LocalPath, ".part") {
		t.Fatalf("local path should not be a partial file: %s", final.LocalPath)
	}
}

func TestDownloadFailureMidStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write([]byte(strings.Repeat("b", 500)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Drop the connection mid-body.
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st)
	episode := testsupport.SeedEpisode(t, st, podcast.ID, "ep-fail", func(e *store.Episode) {
		e.AudioURL = server.URL + "/ep-fail.mp3"
	})

	if _, err := manager.Start(context.Background(), episode.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	manager.Wait(episode.ID)

	final, _ := st.EpisodeByID(context.Background(), episode.ID)
	if final.DownloadStatus != store.StatusFailed {
		t.Fatalf("expected failed, got %s", final.DownloadStatus)
	}
	if final.DownloadProgress != 0 {
		t.Fatalf("failed episode should have progress reset, got %d", final.DownloadProgress)
	}
	if final.LocalPath != "" {
		t.Fatalf("failed episode should have no local path, got %q", final.LocalPath)
	}

	entries, err := os.ReadDir(cfg.Paths.EpisodesDir)
	if err == nil && len(entries) != 0 {
		t.Fatalf("no partial files should remain, found %d entries", len(entries))
	}
}

func TestCancelReturnsEpisodeToPending(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write([]byte(strings.Repeat("c", 500)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st)
	episode := testsupport.SeedEpisode(t, st, podcast.ID, "ep-cancel", func(e *store.Episode) {
		e.AudioURL = server.URL + "/ep-cancel.mp3"
	})

	if _, err := manager.Start(context.Background(), episode.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the task a moment to get into the body copy.
	deadline := time.Now().Add(5 * time.Second)
	for manager.ActiveCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if result := manager.Cancel(episode.ID); result != download.ResultCancelled {
		t.Fatalf("expected cancelled, got %s", result)
	}

	final, _ := st.EpisodeByID(context.Background(), episode.ID)
	if final.DownloadStatus != store.StatusPending {
		t.Fatalf("cancelled episode should be pending, got %s", final.DownloadStatus)
	}
	if final.DownloadProgress != 0 || final.LocalPath != "" {
		t.Fatalf("cancelled episode should be reset: %+v", final)
	}

	if result := manager.Cancel(episode.ID); result != download.ResultNotActive {
		t.Fatalf("second cancel should be not_active, got %s", result)
	}
}

func TestDownloadFillsMissingDuration(t *testing.T) {
	payload := strings.Repeat("e", 256)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	testsupport.StubBinary(t, filepath.Join(testsupport.BaseDir(cfg), "bin"), "ffprobe",
		"#!/bin/sh\nprintf '{\"format\":{\"format_name\":\"mp3\",\"duration\":\"360.4\",\"bit_rate\":\"128000\"}}'\n")
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st)
	episode := testsupport.SeedEpisode(t, st, podcast.ID, "ep-nodur", func(e *store.Episode) {
		e.AudioURL = server.URL + "/ep-nodur.mp3"
	})

	if _, err := manager.Start(context.Background(), episode.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	manager.Wait(episode.ID)

	final, _ := st.EpisodeByID(context.Background(), episode.ID)
	if final.DownloadStatus != store.StatusDownloaded {
		t.Fatalf("expected downloaded, got %s", final.DownloadStatus)
	}
	// The feed declared no duration, so it comes from probing the file.
	if final.DurationSeconds != 360 {
		t.Fatalf("expected probed duration 360, got %d", final.DurationSeconds)
	}
}

func TestStartShortCircuitsCompletedDownload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st)

	existing := filepath.Join(t.TempDir(), "already.mp3")
	testsupport.WriteFile(t, existing, 10)

	podcast := testsupport.SeedPodcast(t, st)
	episode := testsupport.SeedEpisode(t, st, podcast.ID, "ep-done", func(e *store.Episode) {
		e.DownloadStatus = store.StatusDownloaded
		e.DownloadProgress = 100
		e.LocalPath = existing
	})

	result, err := manager.Start(context.Background(), episode.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result != download.ResultAlreadyDownloaded {
		t.Fatalf("expected already_downloaded, got %s", result)
	}
}

func TestDownloadPendingHonorsPerPodcastLimit(t *testing.T) {
	payload := strings.Repeat("d", 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st)

	podcast := testsupport.SeedPodcast(t, st, func(p *store.Podcast) {
		p.EpisodeLimit = 2
	})
	base := time.Now().UTC().Add(-24 * time.Hour)
	for i := 0; i < 4; i++ {
		pub := base.Add(time.Duration(i) * time.Hour)
		testsupport.SeedEpisode(t, st, podcast.ID, fmt.Sprintf("ep-%d", i), func(e *store.Episode) {
			e.AudioURL = server.URL + fmt.Sprintf("/ep-%d.mp3", i)
			e.PubDate = &pub
		})
	}

	started, err := manager.DownloadPending(context.Background())
	if err != nil {
		t.Fatalf("DownloadPending: %v", err)
	}
	if started != 2 {
		t.Fatalf("expected 2 downloads queued, got %d", started)
	}
	deadline := time.Now().Add(5 * time.Second)
	for manager.ActiveCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	counts, _ := st.CountsByStatus(context.Background())
	if counts[store.StatusPending] != 2 {
		t.Fatalf("expected 2 episodes left pending, got %d", counts[store.StatusPending])
	}
}
