package daemon

import (
	"time"

	"watchpod/internal/device"
	"watchpod/internal/podcasts"
	"watchpod/internal/store"
)

const bytesPerMB = 1024 * 1024

func toStoragePayload(info device.StorageInfo) *storagePayload {
	return &storagePayload{
		TotalMB:     info.TotalBytes / bytesPerMB,
		UsedMB:      info.UsedBytes / bytesPerMB,
		FreeMB:      info.FreeBytes / bytesPerMB,
		UsedPercent: info.UsedPercent(),
	}
}

type statusPayload struct {
	Running         bool                `json:"running"`
	PID             int                 `json:"pid"`
	DatabasePath    string              `json:"database_path"`
	LockFilePath    string              `json:"lock_file_path"`
	APIBind         string              `json:"api_bind"`
	ActiveDownloads int                 `json:"active_downloads"`
	DeviceConnected bool                `json:"device_connected"`
	Dependencies    []dependencyPayload `json:"dependencies"`
}

type dependencyPayload struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

type podcastPayload struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	FeedURL      string `json:"feed_url"`
	Description  string `json:"description,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	EpisodeLimit int    `json:"episode_limit"`
	AutoDownload bool   `json:"auto_download"`
	LastChecked  string `json:"last_checked,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type podcastListPayload struct {
	Podcasts []podcastPayload `json:"podcasts"`
}

type episodePayload struct {
	ID               int64  `json:"id"`
	PodcastID        int64  `json:"podcast_id"`
	GUID             string `json:"guid"`
	Title            string `json:"title"`
	PubDate          string `json:"pub_date,omitempty"`
	DurationSeconds  int    `json:"duration_seconds,omitempty"`
	FileSize         int64  `json:"file_size,omitempty"`
	DownloadStatus   string `json:"download_status"`
	DownloadProgress int    `json:"download_progress"`
	LocalPath        string `json:"local_path,omitempty"`
	ConvertedPath    string `json:"converted_path,omitempty"`
	SyncedToWatch    bool   `json:"synced_to_watch"`
	SyncDate         string `json:"sync_date,omitempty"`
}

type episodeListPayload struct {
	Episodes []episodePayload `json:"episodes"`
}

type downloadStatusPayload struct {
	EpisodeID     int64  `json:"episode_id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	IsDownloading bool   `json:"is_downloading"`
	LocalPath     string `json:"local_path,omitempty"`
	FileSize      int64  `json:"file_size,omitempty"`
}

type syncRunPayload struct {
	ID               int64  `json:"id"`
	SyncType         string `json:"sync_type"`
	Status           string `json:"status"`
	EpisodesAdded    int    `json:"episodes_added"`
	EpisodesRemoved  int    `json:"episodes_removed"`
	BytesTransferred int64  `json:"bytes_transferred"`
	ErrorMessage     string `json:"error_message,omitempty"`
	StartedAt        string `json:"started_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

type syncHistoryPayload struct {
	Runs []syncRunPayload `json:"runs"`
}

type syncStatusPayload struct {
	TotalEligible   int             `json:"total_eligible"`
	SyncedCount     int             `json:"synced_count"`
	PendingSync     int             `json:"pending_sync"`
	StatusCounts    map[string]int  `json:"status_counts"`
	LastSuccess     string          `json:"last_success,omitempty"`
	DeviceConnected bool            `json:"device_connected"`
	DeviceStorage   *storagePayload `json:"device_storage,omitempty"`
}

type storagePayload struct {
	TotalMB     int64   `json:"total_mb"`
	UsedMB      int64   `json:"used_mb"`
	FreeMB      int64   `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type localStoragePayload struct {
	UsedBytes    int64          `json:"used_bytes"`
	MaxStorageMB int            `json:"max_storage_mb"`
	StatusCounts map[string]int `json:"status_counts"`
}

type podcastUsagePayload struct {
	PodcastID int64  `json:"podcast_id"`
	Title     string `json:"title"`
	UsedBytes int64  `json:"used_bytes"`
}

type cleanupPayload struct {
	Type            string `json:"type"`
	EpisodesCleaned int    `json:"episodes_cleaned"`
	BytesFreed      int64  `json:"bytes_freed"`
}

type devicePayload struct {
	Connected  bool            `json:"connected"`
	MountPoint string          `json:"mount_point,omitempty"`
	MediaPath  string          `json:"media_path,omitempty"`
	Storage    *storagePayload `json:"storage,omitempty"`
}

func toPodcastPayload(podcast *store.Podcast) podcastPayload {
	payload := podcastPayload{
		ID:           podcast.ID,
		Title:        podcast.Title,
		FeedURL:      podcast.FeedURL,
		Description:  podcast.Description,
		ImageURL:     podcast.ImageURL,
		EpisodeLimit: podcast.EpisodeLimit,
		AutoDownload: podcast.AutoDownload,
		CreatedAt:    podcast.CreatedAt.UTC().Format(time.RFC3339),
	}
	if podcast.LastChecked != nil {
		payload.LastChecked = podcast.LastChecked.UTC().Format(time.RFC3339)
	}
	return payload
}

func toEpisodePayload(episode *store.Episode) episodePayload {
	payload := episodePayload{
		ID:               episode.ID,
		PodcastID:        episode.PodcastID,
		GUID:             episode.GUID,
		Title:            episode.Title,
		DurationSeconds:  episode.DurationSeconds,
		FileSize:         episode.FileSize,
		DownloadStatus:   string(episode.DownloadStatus),
		DownloadProgress: episode.DownloadProgress,
		LocalPath:        episode.LocalPath,
		ConvertedPath:    episode.ConvertedPath,
		SyncedToWatch:    episode.SyncedToWatch,
	}
	if episode.PubDate != nil {
		payload.PubDate = episode.PubDate.UTC().Format(time.RFC3339)
	}
	if episode.SyncDate != nil {
		payload.SyncDate = episode.SyncDate.UTC().Format(time.RFC3339)
	}
	return payload
}

func toSyncRunPayload(run *store.SyncRun) syncRunPayload {
	payload := syncRunPayload{
		ID:               run.ID,
		SyncType:         string(run.SyncType),
		Status:           string(run.Status),
		EpisodesAdded:    run.EpisodesAdded,
		EpisodesRemoved:  run.EpisodesRemoved,
		BytesTransferred: run.BytesTransferred,
		ErrorMessage:     run.ErrorMessage,
		StartedAt:        run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		payload.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func toUpdateParams(title *string, episodeLimit *int, autoDownload *bool) podcasts.UpdateParams {
	return podcasts.UpdateParams{
		Title:        title,
		EpisodeLimit: episodeLimit,
		AutoDownload: autoDownload,
	}
}
