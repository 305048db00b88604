package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"watchpod/internal/feed"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Test Show</title>
    <description>A show for tests</description>
    <image><url>https://cdn.test/cover.jpg</url></image>
    <item>
      <title>Episode One</title>
      <guid>ep-1</guid>
      <description>first</description>
      <pubDate>Mon, 02 Jun 2025 10:00:00 +0000</pubDate>
      <itunes:duration>01:02:03</itunes:duration>
      <enclosure url="https://cdn.test/ep1.mp3" length="1048576" type="audio/mpeg"/>
    </item>
    <item>
      <title>Episode Two</title>
      <guid>ep-2</guid>
      <itunes:duration>45:30</itunes:duration>
      <enclosure url="https://cdn.test/ep2.m4a" length="0" type="audio/mp4"/>
    </item>
    <item>
      <title>No Audio Here</title>
      <guid>ep-3</guid>
    </item>
  </channel>
</rss>`

func TestFetchNormalizesFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	fetcher := feed.NewHTTPFetcher(5 * time.Second)
	parsed, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if parsed.Title != "Test Show" {
		t.Fatalf("unexpected title: %q", parsed.Title)
	}
	if parsed.ImageURL != "https://cdn.test/cover.jpg" {
		t.Fatalf("unexpected image: %q", parsed.ImageURL)
	}
	if len(parsed.Entries) != 2 {
		t.Fatalf("expected 2 entries with audio, got %d", len(parsed.Entries))
	}

	first := parsed.Entries[0]
	if first.GUID != "ep-1" || first.AudioURL != "https://cdn.test/ep1.mp3" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first.DurationSeconds != 3723 {
		t.Fatalf("expected duration 3723, got %d", first.DurationSeconds)
	}
	if first.FileSize != 1048576 {
		t.Fatalf("expected file size from enclosure, got %d", first.FileSize)
	}
	if first.PubDate == nil {
		t.Fatal("expected parsed pub date")
	}

	second := parsed.Entries[1]
	if second.DurationSeconds != 45*60+30 {
		t.Fatalf("expected MM:SS duration, got %d", second.DurationSeconds)
	}
}

func TestFetchReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := feed.NewHTTPFetcher(5 * time.Second)
	if _, err := fetcher.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for failing feed server")
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"01:02:03", 3723},
		{"45:30", 2730},
		{"90", 90},
		{"", 0},
		{"abc", 0},
		{"1:2:3:4", 0},
	}
	for _, tc := range cases {
		if got := feed.ParseDuration(tc.raw); got != tc.want {
			t.Fatalf("ParseDuration(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}
