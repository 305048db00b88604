// Package download runs episode downloads as cancellable background tasks
// and drives the episode status machine through them.
//
// Status transitions are one-way except for cancellation: pending ->
// downloading -> downloaded on success, downloading -> failed on error, and
// downloading -> pending when the user cancels. A finished download is
// converted for the device immediately; a conversion failure never demotes a
// completed download.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"watchpod/internal/config"
	"watchpod/internal/fileutil"
	"watchpod/internal/logging"
	"watchpod/internal/services"
	"watchpod/internal/store"
	"watchpod/internal/textutil"
	"watchpod/internal/transcode"
)

const copyChunkSize = 8 * 1024

// Result describes the outcome of an enqueue request.
type Result string

const (
	ResultQueued            Result = "queued"
	ResultAlreadyActive     Result = "already_active"
	ResultAlreadyDownloaded Result = "already_downloaded"
	ResultNotActive         Result = "not_active"
	ResultCancelled         Result = "cancelled"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the set of in-flight downloads.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	gateway *transcode.Gateway
	logger  *slog.Logger
	client  *http.Client

	mu     sync.Mutex
	active map[int64]*task
}

// NewManager constructs a download manager.
func NewManager(cfg *config.Config, st *store.Store, gateway *transcode.Gateway, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		gateway: gateway,
		logger:  logging.NewComponentLogger(logger, "download"),
		client:  &http.Client{},
		active:  make(map[int64]*task),
	}
}

// Start launches a background download for the episode. Episodes that
// already hold a completed file are left alone.
func (m *Manager) Start(ctx context.Context, episodeID int64) (Result, error) {
	episode, err := m.store.EpisodeByID(ctx, episodeID)
	if err != nil {
		return "", err
	}
	if episode == nil {
		return "", services.Wrap(services.ErrNotFound, "download", "start", fmt.Sprintf("episode %d", episodeID), nil)
	}

	if episode.IsDownloaded() && fileutil.FileExists(episode.LocalPath) {
		return ResultAlreadyDownloaded, nil
	}

	m.mu.Lock()
	if _, running := m.active[episodeID]; running {
		m.mu.Unlock()
		return ResultAlreadyActive, nil
	}

	// The task outlives the caller's context; only its own timeout or an
	// explicit Cancel ends it.
	taskCtx, cancel := context.WithTimeout(context.Background(), m.cfg.DownloadTimeout())
	t := &task{cancel: cancel, done: make(chan struct{})}
	m.active[episodeID] = t
	m.mu.Unlock()

	episode.DownloadStatus = store.StatusDownloading
	episode.DownloadProgress = 0
	if err := m.store.UpdateEpisode(ctx, episode); err != nil {
		m.deregister(episodeID)
		cancel()
		close(t.done)
		return "", err
	}

	go m.run(taskCtx, t, episode)
	return ResultQueued, nil
}

// Cancel stops an in-flight download. The episode returns to pending and any
// partial file is removed. Cancelling an inactive episode is a no-op.
func (m *Manager) Cancel(episodeID int64) Result {
	m.mu.Lock()
	t, running := m.active[episodeID]
	m.mu.Unlock()
	if !running {
		return ResultNotActive
	}
	t.cancel()
	<-t.done
	return ResultCancelled
}

// Wait blocks until the episode's download task finishes. Returns
// immediately when no task is active.
func (m *Manager) Wait(episodeID int64) {
	m.mu.Lock()
	t, running := m.active[episodeID]
	m.mu.Unlock()
	if !running {
		return
	}
	<-t.done
}

// ActiveCount reports how many downloads are currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// DownloadPending queues the newest pending episodes of every auto-download
// subscription, capped per podcast at its episode limit. Returns how many
// downloads were started.
func (m *Manager) DownloadPending(ctx context.Context) (int, error) {
	podcastList, err := m.store.ListPodcasts(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, podcast := range podcastList {
		if !podcast.AutoDownload {
			continue
		}
		pending, err := m.store.PendingEpisodes(ctx, podcast.ID, podcast.EpisodeLimit)
		if err != nil {
			return started, err
		}
		for _, episode := range pending {
			if ctx.Err() != nil {
				return started, ctx.Err()
			}
			result, err := m.Start(ctx, episode.ID)
			if err != nil {
				m.logger.Warn("failed to queue download",
					logging.Error(err),
					logging.Int64(logging.FieldEpisodeID, episode.ID),
				)
				continue
			}
			if result == ResultQueued {
				started++
			}
		}
	}
	return started, nil
}

// Shutdown cancels every active download and waits for the tasks to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	tasks := make([]*task, 0, len(m.active))
	for _, t := range m.active {
		t.cancel()
		tasks = append(tasks, t)
	}
	m.mu.Unlock()
	for _, t := range tasks {
		<-t.done
	}
}

func (m *Manager) deregister(episodeID int64) {
	m.mu.Lock()
	delete(m.active, episodeID)
	m.mu.Unlock()
}

// run performs one download task end to end. It always deregisters the
// episode and closes the task's done channel.
func (m *Manager) run(ctx context.Context, t *task, episode *store.Episode) {
	defer close(t.done)
	defer m.deregister(episode.ID)
	defer t.cancel()

	logger := m.logger.With(logging.Int64(logging.FieldEpisodeID, episode.ID))

	destPath, err := m.destinationPath(ctx, episode)
	var localSize int64
	if err == nil {
		localSize, err = m.fetch(ctx, episode, destPath)
	}

	if err != nil {
		m.finishFailed(ctx, episode, destPath, err, logger)
		return
	}

	episode.DownloadStatus = store.StatusDownloaded
	episode.DownloadProgress = 100
	episode.LocalPath = destPath
	episode.FileSize = localSize
	if episode.DurationSeconds == 0 {
		// Feeds often omit the duration; read it off the file instead.
		if probed, probeErr := m.gateway.Probe(ctx, destPath); probeErr == nil {
			episode.DurationSeconds = probed.DurationSeconds
		} else {
			logger.Debug("could not probe audio duration", logging.Error(probeErr))
		}
	}
	if updateErr := m.store.UpdateEpisode(ctx, episode); updateErr != nil {
		logger.Error("failed to persist completed download", logging.Error(updateErr))
		return
	}
	logger.Info("episode downloaded",
		logging.String("path", destPath),
		logging.Int64("bytes", localSize),
	)

	m.convert(ctx, episode, logger)
}

// finishFailed records the terminal state for a failed or cancelled task and
// removes any partial file.
func (m *Manager) finishFailed(ctx context.Context, episode *store.Episode, destPath string, cause error, logger *slog.Logger) {
	if destPath != "" {
		if _, err := fileutil.RemoveIfExists(destPath + ".part"); err != nil {
			logger.Warn("failed to remove partial download", logging.Error(err))
		}
	}

	// Store writes below must survive the task context being cancelled.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if errors.Is(cause, context.Canceled) {
		episode.ResetDownload()
		if err := m.store.UpdateEpisode(persistCtx, episode); err != nil {
			logger.Error("failed to persist cancelled download", logging.Error(err))
		}
		logger.Info("download cancelled")
		return
	}

	episode.DownloadStatus = store.StatusFailed
	episode.DownloadProgress = 0
	episode.LocalPath = ""
	if err := m.store.UpdateEpisode(persistCtx, episode); err != nil {
		logger.Error("failed to persist failed download", logging.Error(err))
	}
	logger.Warn("download failed", logging.Error(cause))
}

func (m *Manager) destinationPath(ctx context.Context, episode *store.Episode) (string, error) {
	podcast, err := m.store.PodcastByID(ctx, episode.PodcastID)
	if err != nil {
		return "", err
	}
	if podcast == nil {
		return "", services.Wrap(services.ErrNotFound, "download", "resolve path", fmt.Sprintf("podcast %d", episode.PodcastID), nil)
	}
	fileName := textutil.EpisodeFileName(podcast.Title, episode.Title, episode.AudioURL)
	return filepath.Join(m.cfg.Paths.EpisodesDir, fileName), nil
}

// fetch streams the audio URL into destPath via a .part temp file, renaming
// only after the full body has arrived.
func (m *Manager) fetch(ctx context.Context, episode *store.Episode, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create episodes directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, episode.AudioURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "watchpod")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s fetching audio", resp.Status)
	}

	partPath := destPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create partial file: %w", err)
	}

	written, copyErr := m.copyWithProgress(ctx, out, resp.Body, episode, resp.ContentLength)
	closeErr := out.Close()
	if copyErr != nil {
		return 0, copyErr
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close partial file: %w", closeErr)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return 0, fmt.Errorf("finalize download: %w", err)
	}
	return written, nil
}

// copyWithProgress copies the body in small chunks, persisting progress at
// every 10% step so the API and CLI can show movement mid-download.
func (m *Manager) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, episode *store.Episode, totalBytes int64) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var written int64
	lastCommitted := 0

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("write audio chunk: %w", writeErr)
			}
			written += int64(n)

			if totalBytes > 0 {
				percent := int(written * 100 / totalBytes)
				if percent > 100 {
					percent = 100
				}
				if percent/10 > lastCommitted/10 {
					lastCommitted = percent
					if err := m.store.SetDownloadProgress(ctx, episode.ID, percent); err != nil {
						m.logger.Warn("failed to persist download progress",
							logging.Error(err),
							logging.Int64(logging.FieldEpisodeID, episode.ID),
						)
					}
				}
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			// A cancelled context surfaces through the body read.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return written, ctxErr
			}
			return written, fmt.Errorf("read audio stream: %w", readErr)
		}
	}
}

// convert produces the device-format file for a completed download. Failures
// are logged and leave the episode downloaded but not device-ready.
func (m *Manager) convert(ctx context.Context, episode *store.Episode, logger *slog.Logger) {
	if !m.gateway.NeedsConversion(episode.LocalPath) {
		episode.ConvertedPath = episode.LocalPath
		if err := m.store.UpdateEpisode(ctx, episode); err != nil {
			logger.Error("failed to persist passthrough conversion", logging.Error(err))
		}
		return
	}

	outputPath := filepath.Join(m.cfg.Paths.ConvertedDir, m.gateway.ConvertedName(filepath.Base(episode.LocalPath)))
	if err := m.gateway.Convert(ctx, episode.LocalPath, outputPath); err != nil {
		logger.Warn("conversion failed, episode remains downloaded",
			logging.Error(err),
			logging.String("input", episode.LocalPath),
		)
		return
	}

	episode.ConvertedPath = outputPath
	if err := m.store.UpdateEpisode(ctx, episode); err != nil {
		logger.Error("failed to persist conversion result", logging.Error(err))
		return
	}
	logger.Info("episode converted", logging.String("path", outputPath))
}
