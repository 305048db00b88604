package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"watchpod/internal/config"
	"watchpod/internal/device"
	"watchpod/internal/logging"
	"watchpod/internal/maintenance"
	"watchpod/internal/services"
	"watchpod/internal/storage"
	"watchpod/internal/store"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(srv.requestContext)

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", srv.handleStatus)

		r.Route("/podcasts", func(r chi.Router) {
			r.Get("/", srv.handleListPodcasts)
			r.Post("/", srv.handleSubscribe)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", srv.handleGetPodcast)
				r.Patch("/", srv.handleUpdatePodcast)
				r.Delete("/", srv.handleDeletePodcast)
				r.Post("/refresh", srv.handleRefreshPodcast)
				r.Get("/episodes", srv.handleListEpisodes)
			})
		})

		r.Post("/downloads/pending", srv.handleDownloadPending)

		r.Route("/episodes/{id}/download", func(r chi.Router) {
			r.Post("/", srv.handleStartDownload)
			r.Delete("/", srv.handleCancelDownload)
			r.Get("/", srv.handleDownloadStatus)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/", srv.handleSync)
			r.Get("/status", srv.handleSyncStatus)
			r.Get("/history", srv.handleSyncHistory)
		})

		r.Route("/storage", func(r chi.Router) {
			r.Get("/", srv.handleStorage)
			r.Get("/podcasts", srv.handleStoragePodcasts)
			r.Post("/cleanup", srv.handleCleanup)
		})

		r.Get("/device", srv.handleDevice)
	})

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Minute, // blocking sync can take a while
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address, empty before start.
func (s *apiServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requestContext threads the chi request ID into the service context so log
// lines can be correlated per request.
func (s *apiServer) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			ctx = services.WithRequestID(ctx, reqID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	depList := make([]dependencyPayload, 0, len(status.Dependencies))
	for _, dep := range status.Dependencies {
		depList = append(depList, dependencyPayload{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	s.writeJSON(w, http.StatusOK, statusPayload{
		Running:         status.Running,
		PID:             status.PID,
		DatabasePath:    status.DatabasePath,
		LockFilePath:    status.LockFilePath,
		APIBind:         status.APIBind,
		ActiveDownloads: status.ActiveDownloads,
		DeviceConnected: status.DeviceConnected,
		Dependencies:    depList,
	})
}

func (s *apiServer) handleListPodcasts(w http.ResponseWriter, r *http.Request) {
	podcastList, err := s.daemon.store.ListPodcasts(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]podcastPayload, 0, len(podcastList))
	for _, podcast := range podcastList {
		payload = append(payload, toPodcastPayload(podcast))
	}
	s.writeJSON(w, http.StatusOK, podcastListPayload{Podcasts: payload})
}

func (s *apiServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FeedURL      string `json:"feed_url"`
		EpisodeLimit int    `json:"episode_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	podcast, err := s.daemon.podcastSvc.Subscribe(r.Context(), body.FeedURL, body.EpisodeLimit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPodcastPayload(podcast))
}

func (s *apiServer) handleGetPodcast(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	podcast, err := s.daemon.store.PodcastByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if podcast == nil {
		s.writeError(w, http.StatusNotFound, "podcast not found")
		return
	}
	s.writeJSON(w, http.StatusOK, toPodcastPayload(podcast))
}

func (s *apiServer) handleUpdatePodcast(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Title        *string `json:"title"`
		EpisodeLimit *int    `json:"episode_limit"`
		AutoDownload *bool   `json:"auto_download"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	podcast, err := s.daemon.podcastSvc.Update(r.Context(), id, toUpdateParams(body.Title, body.EpisodeLimit, body.AutoDownload))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPodcastPayload(podcast))
}

func (s *apiServer) handleDeletePodcast(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.daemon.podcastSvc.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *apiServer) handleRefreshPodcast(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	added, err := s.daemon.podcastSvc.Refresh(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"episodes_added": added})
}

func (s *apiServer) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	filter := store.EpisodeFilter{PodcastID: id}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := store.ParseStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		filter.Status = status
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	episodes, err := s.daemon.store.ListEpisodes(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]episodePayload, 0, len(episodes))
	for _, episode := range episodes {
		payload = append(payload, toEpisodePayload(episode))
	}
	s.writeJSON(w, http.StatusOK, episodeListPayload{Episodes: payload})
}

func (s *apiServer) handleDownloadPending(w http.ResponseWriter, r *http.Request) {
	started, err := s.daemon.downloads.DownloadPending(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"started": started})
}

func (s *apiServer) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	result, err := s.daemon.downloads.Start(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"result": string(result)})
}

func (s *apiServer) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	result := s.daemon.downloads.Cancel(id)
	s.writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

func (s *apiServer) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	episode, err := s.daemon.store.EpisodeByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if episode == nil {
		s.writeError(w, http.StatusNotFound, "episode not found")
		return
	}
	s.writeJSON(w, http.StatusOK, downloadStatusPayload{
		EpisodeID:     episode.ID,
		Status:        string(episode.DownloadStatus),
		Progress:      episode.DownloadProgress,
		IsDownloading: episode.DownloadStatus == store.StatusDownloading,
		LocalPath:     episode.LocalPath,
		FileSize:      episode.FileSize,
	})
}

func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	run, err := s.daemon.reconciler.SyncToDevice(r.Context(), store.SyncManual, nil)
	if err != nil {
		if run != nil {
			s.writeJSON(w, http.StatusInternalServerError, toSyncRunPayload(run))
			return
		}
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSyncRunPayload(run))
}

func (s *apiServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.reconciler.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := syncStatusPayload{
		TotalEligible:   stats.TotalEligible,
		SyncedCount:     stats.SyncedEpisodes,
		PendingSync:     stats.PendingSync,
		DeviceConnected: stats.DeviceConnected,
		StatusCounts:    map[string]int{},
	}
	for status, count := range stats.StatusCounts {
		payload.StatusCounts[string(status)] = count
	}
	if stats.LastSuccess != nil {
		payload.LastSuccess = stats.LastSuccess.UTC().Format(time.RFC3339)
	}
	if stats.DeviceStorage != nil {
		payload.DeviceStorage = toStoragePayload(*stats.DeviceStorage)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.daemon.reconciler.History(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]syncRunPayload, 0, len(runs))
	for _, run := range runs {
		payload = append(payload, toSyncRunPayload(run))
	}
	s.writeJSON(w, http.StatusOK, syncHistoryPayload{Runs: payload})
}

func (s *apiServer) handleStorage(w http.ResponseWriter, r *http.Request) {
	usage := s.daemon.reclaimer.LocalUsage()
	counts, err := s.daemon.store.CountsByStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := localStoragePayload{
		UsedBytes:    usage,
		MaxStorageMB: s.daemon.cfg.Cleanup.MaxStorageMB,
		StatusCounts: map[string]int{},
	}
	for status, count := range counts {
		payload.StatusCounts[string(status)] = count
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleStoragePodcasts(w http.ResponseWriter, r *http.Request) {
	usage, err := s.daemon.reclaimer.PodcastUsage(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	podcastList, err := s.daemon.store.ListPodcasts(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]podcastUsagePayload, 0, len(podcastList))
	for _, podcast := range podcastList {
		payload = append(payload, podcastUsagePayload{
			PodcastID: podcast.ID,
			Title:     podcast.Title,
			UsedBytes: usage[podcast.ID],
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"podcasts": payload})
}

func (s *apiServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type         string `json:"type"`
		DaysOld      int    `json:"days_old"`
		MaxStorageMB int    `json:"max_storage_mb"`
		KeepSynced   *bool  `json:"keep_synced"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// One-off overrides run against a copied config, never mutating the
	// daemon's policy.
	cfg := *s.daemon.cfg
	if body.DaysOld > 0 {
		cfg.Cleanup.RetentionDays = body.DaysOld
	}
	if body.MaxStorageMB > 0 {
		cfg.Cleanup.MaxStorageMB = body.MaxStorageMB
	}
	if body.KeepSynced != nil {
		cfg.Cleanup.KeepSynced = *body.KeepSynced
	}
	reclaimer := storage.NewReclaimer(&cfg, s.daemon.store, maintenance.NewLock(cfg.Paths.DataDir), s.daemon.logger)

	var (
		cleaned int
		freed   int64
		err     error
	)
	switch body.Type {
	case "age":
		cleaned, freed, err = reclaimer.CleanupOld(r.Context())
	case "quota":
		cleaned, freed, err = reclaimer.CleanupQuota(r.Context())
	case "failed":
		cleaned, freed, err = reclaimer.CleanupFailed(r.Context())
	case "orphan":
		cleaned, freed, err = reclaimer.CleanupOrphans(r.Context())
	default:
		s.writeError(w, http.StatusBadRequest, "unknown cleanup type "+body.Type)
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cleanupPayload{Type: body.Type, EpisodesCleaned: cleaned, BytesFreed: freed})
}

func (s *apiServer) handleDevice(w http.ResponseWriter, r *http.Request) {
	mount, err := s.daemon.locator.Locate()
	if err != nil {
		s.writeJSON(w, http.StatusOK, devicePayload{Connected: false})
		return
	}
	payload := devicePayload{
		Connected:  true,
		MountPoint: mount.Path,
		MediaPath:  mount.MediaPath,
	}
	if info, err := device.Statfs(mount.Path); err == nil {
		payload.Storage = toStoragePayload(info)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id "+raw)
		return 0, false
	}
	return id, true
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case services.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case services.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case services.IsDeviceUnavailable(err):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
