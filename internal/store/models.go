package store

import (
	"strings"
	"time"
)

// DownloadStatus represents the download lifecycle of an episode.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusDownloaded  DownloadStatus = "downloaded"
	StatusFailed      DownloadStatus = "failed"
)

var allStatuses = []DownloadStatus{
	StatusPending,
	StatusDownloading,
	StatusDownloaded,
	StatusFailed,
}

var statusSet = func() map[DownloadStatus]struct{} {
	set := make(map[DownloadStatus]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus converts a string into a known DownloadStatus.
func ParseStatus(value string) (DownloadStatus, bool) {
	normalized := DownloadStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// SyncStatus represents the lifecycle of a sync history record.
type SyncStatus string

const (
	SyncInProgress SyncStatus = "in_progress"
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
	SyncPartial    SyncStatus = "partial"
)

// SyncType distinguishes user-triggered sync runs from scheduled ones.
type SyncType string

const (
	SyncManual SyncType = "manual"
	SyncAuto   SyncType = "auto"
)

// Podcast represents a feed subscription persisted in SQLite.
type Podcast struct {
	ID           int64
	Title        string
	FeedURL      string
	Description  string
	ImageURL     string
	EpisodeLimit int
	AutoDownload bool
	LastChecked  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Episode represents one feed entry tracked through download, conversion,
// and device sync. GUID is the dedup key and never changes.
type Episode struct {
	ID               int64
	PodcastID        int64
	GUID             string
	Title            string
	Description      string
	AudioURL         string
	PubDate          *time.Time
	DurationSeconds  int
	FileSize         int64
	DownloadStatus   DownloadStatus
	DownloadProgress int
	LocalPath        string
	ConvertedPath    string
	SyncedToWatch    bool
	SyncDate         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsDownloaded reports whether the episode has a completed download.
func (e *Episode) IsDownloaded() bool {
	return e.DownloadStatus == StatusDownloaded && e.LocalPath != ""
}

// IsConverted reports whether the episode has a device-ready audio file.
func (e *Episode) IsConverted() bool {
	return e.IsDownloaded() && e.ConvertedPath != ""
}

// ResetDownload clears all download and conversion state, returning the
// episode to a re-downloadable pending state. File deletion is the caller's
// responsibility.
func (e *Episode) ResetDownload() {
	e.DownloadStatus = StatusPending
	e.DownloadProgress = 0
	e.LocalPath = ""
	e.ConvertedPath = ""
	e.SyncedToWatch = false
	e.SyncDate = nil
}

// SyncRun is an append-only audit record for one reconciliation run.
type SyncRun struct {
	ID               int64
	SyncType         SyncType
	EpisodesAdded    int
	EpisodesRemoved  int
	BytesTransferred int64
	Status           SyncStatus
	ErrorMessage     string
	StartedAt        time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
}

// Setting is a key/value policy override.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
