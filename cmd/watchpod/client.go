package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// apiClient talks to the daemon's HTTP API. Sync can block for the duration
// of a full device reconciliation, so the client carries no overall timeout;
// per-call contexts bound everything else.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(address string) (*apiClient, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("daemon API address is not configured; set paths.api_bind or pass --api")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	parsed, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid API address %q: %w", address, err)
	}
	return &apiClient{
		base: strings.TrimSuffix(parsed.String(), "/"),
		http: &http.Client{},
	}, nil
}

type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.StatusCode)
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, body, out)
}

func (c *apiClient) delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		message := ""
		var errBody struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil {
			message = errBody.Error
		}
		return &apiError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start it with `watchpod daemon run`", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}

// commandTimeout bounds ordinary API calls. Blocking sync runs use their own
// generous limit.
const (
	commandTimeout = 30 * time.Second
	syncTimeout    = 15 * time.Minute
)

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

type statusView struct {
	Running         bool             `json:"running"`
	PID             int              `json:"pid"`
	DatabasePath    string           `json:"database_path"`
	LockFilePath    string           `json:"lock_file_path"`
	APIBind         string           `json:"api_bind"`
	ActiveDownloads int              `json:"active_downloads"`
	DeviceConnected bool             `json:"device_connected"`
	Dependencies    []dependencyView `json:"dependencies"`
}

type dependencyView struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail"`
}

type podcastView struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	FeedURL      string `json:"feed_url"`
	Description  string `json:"description"`
	ImageURL     string `json:"image_url"`
	EpisodeLimit int    `json:"episode_limit"`
	AutoDownload bool   `json:"auto_download"`
	LastChecked  string `json:"last_checked"`
	CreatedAt    string `json:"created_at"`
}

type podcastListView struct {
	Podcasts []podcastView `json:"podcasts"`
}

type episodeView struct {
	ID               int64  `json:"id"`
	PodcastID        int64  `json:"podcast_id"`
	GUID             string `json:"guid"`
	Title            string `json:"title"`
	PubDate          string `json:"pub_date"`
	DurationSeconds  int    `json:"duration_seconds"`
	FileSize         int64  `json:"file_size"`
	DownloadStatus   string `json:"download_status"`
	DownloadProgress int    `json:"download_progress"`
	LocalPath        string `json:"local_path"`
	ConvertedPath    string `json:"converted_path"`
	SyncedToWatch    bool   `json:"synced_to_watch"`
	SyncDate         string `json:"sync_date"`
}

type episodeListView struct {
	Episodes []episodeView `json:"episodes"`
}

type downloadStatusView struct {
	EpisodeID     int64  `json:"episode_id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	IsDownloading bool   `json:"is_downloading"`
	LocalPath     string `json:"local_path"`
	FileSize      int64  `json:"file_size"`
}

type syncRunView struct {
	ID               int64  `json:"id"`
	SyncType         string `json:"sync_type"`
	Status           string `json:"status"`
	EpisodesAdded    int    `json:"episodes_added"`
	EpisodesRemoved  int    `json:"episodes_removed"`
	BytesTransferred int64  `json:"bytes_transferred"`
	ErrorMessage     string `json:"error_message"`
	StartedAt        string `json:"started_at"`
	CompletedAt      string `json:"completed_at"`
}

type syncHistoryView struct {
	Runs []syncRunView `json:"runs"`
}

type syncStatusView struct {
	TotalEligible   int            `json:"total_eligible"`
	SyncedCount     int            `json:"synced_count"`
	PendingSync     int            `json:"pending_sync"`
	StatusCounts    map[string]int `json:"status_counts"`
	LastSuccess     string         `json:"last_success"`
	DeviceConnected bool           `json:"device_connected"`
	DeviceStorage   *storageView   `json:"device_storage"`
}

type storageView struct {
	TotalMB     int64   `json:"total_mb"`
	UsedMB      int64   `json:"used_mb"`
	FreeMB      int64   `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type localStorageView struct {
	UsedBytes    int64          `json:"used_bytes"`
	MaxStorageMB int            `json:"max_storage_mb"`
	StatusCounts map[string]int `json:"status_counts"`
}

type podcastUsageView struct {
	PodcastID int64  `json:"podcast_id"`
	Title     string `json:"title"`
	UsedBytes int64  `json:"used_bytes"`
}

type podcastUsageListView struct {
	Podcasts []podcastUsageView `json:"podcasts"`
}

type cleanupView struct {
	Type            string `json:"type"`
	EpisodesCleaned int    `json:"episodes_cleaned"`
	BytesFreed      int64  `json:"bytes_freed"`
}

type deviceView struct {
	Connected  bool         `json:"connected"`
	MountPoint string       `json:"mount_point"`
	MediaPath  string       `json:"media_path"`
	Storage    *storageView `json:"storage"`
}
