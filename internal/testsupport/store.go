package testsupport

import (
	"context"
	"testing"
	"time"

	"watchpod/internal/config"
	"watchpod/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// SeedPodcast inserts a subscription with sensible defaults, applying any
// mutators before the insert.
func SeedPodcast(t testing.TB, st *store.Store, mutators ...func(*store.Podcast)) *store.Podcast {
	t.Helper()

	podcast := &store.Podcast{
		Title:        "Test Show",
		FeedURL:      "https://feeds.test/show.xml",
		EpisodeLimit: 5,
		AutoDownload: true,
	}
	for _, mutate := range mutators {
		mutate(podcast)
	}
	if err := st.CreatePodcast(context.Background(), podcast); err != nil {
		t.Fatalf("seed podcast: %v", err)
	}
	return podcast
}

// SeedEpisode inserts an episode for the given podcast with sensible
// defaults, applying any mutators before the insert.
func SeedEpisode(t testing.TB, st *store.Store, podcastID int64, guid string, mutators ...func(*store.Episode)) *store.Episode {
	t.Helper()

	pub := time.Now().UTC().Add(-time.Hour)
	episode := &store.Episode{
		PodcastID:      podcastID,
		GUID:           guid,
		Title:          "Episode " + guid,
		AudioURL:       "https://cdn.test/" + guid + ".mp3",
		PubDate:        &pub,
		DownloadStatus: store.StatusPending,
	}
	for _, mutate := range mutators {
		mutate(episode)
	}
	if err := st.CreateEpisode(context.Background(), episode); err != nil {
		t.Fatalf("seed episode %s: %v", guid, err)
	}
	return episode
}
