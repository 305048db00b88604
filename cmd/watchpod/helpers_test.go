package main

import "testing"

func TestParsePositiveID(t *testing.T) {
	if id, err := parsePositiveID(" 42 "); err != nil || id != 42 {
		t.Errorf("parsePositiveID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "abc", "-1", "0"} {
		if _, err := parsePositiveID(bad); err == nil {
			t.Errorf("parsePositiveID(%q) should fail", bad)
		}
	}
}

func TestFormatStatusLabel(t *testing.T) {
	cases := map[string]string{
		"pending":     "Pending",
		"in_progress": "In Progress",
		"":            "",
	}
	for input, want := range cases {
		if got := formatStatusLabel(input); got != want {
			t.Errorf("formatStatusLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Errorf("short text changed: %q", got)
	}
	if got := truncateText("a long episode title", 10); got != "a long " + "..." {
		t.Errorf("truncated = %q", got)
	}
}

func TestEpisodeStateLabel(t *testing.T) {
	cases := []struct {
		episode episodeView
		want    string
	}{
		{episodeView{DownloadStatus: "pending"}, "Pending"},
		{episodeView{DownloadStatus: "downloading", DownloadProgress: 40}, "Downloading 40%"},
		{episodeView{DownloadStatus: "downloaded"}, "Downloaded"},
		{episodeView{DownloadStatus: "downloaded", SyncedToWatch: true}, "On Device"},
		{episodeView{DownloadStatus: "failed"}, "Failed"},
	}
	for _, tc := range cases {
		if got := episodeStateLabel(tc.episode); got != tc.want {
			t.Errorf("episodeStateLabel(%s) = %q, want %q", tc.episode.DownloadStatus, got, tc.want)
		}
	}
}
