// Package podcasts manages feed subscriptions and episode discovery.
package podcasts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"watchpod/internal/config"
	"watchpod/internal/feed"
	"watchpod/internal/fileutil"
	"watchpod/internal/logging"
	"watchpod/internal/services"
	"watchpod/internal/store"
)

const (
	minEpisodeLimit = 1
	maxEpisodeLimit = 100
)

// Service coordinates subscription management against the store and the
// feed fetcher.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	fetcher feed.Fetcher
	logger  *slog.Logger
}

// NewService constructs the podcast service.
func NewService(cfg *config.Config, st *store.Store, fetcher feed.Fetcher, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		fetcher: fetcher,
		logger:  logging.NewComponentLogger(logger, "podcasts"),
	}
}

// Subscribe adds a feed subscription, fetching the feed once to validate it
// and discover its current episodes. An episodeLimit of zero uses the
// configured default.
func (s *Service) Subscribe(ctx context.Context, feedURL string, episodeLimit int) (*store.Podcast, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, services.Wrap(services.ErrValidation, "podcasts", "subscribe", "feed url is required", nil)
	}
	if episodeLimit == 0 {
		episodeLimit = s.cfg.Sync.DefaultEpisodeLimit
	}
	if episodeLimit < minEpisodeLimit || episodeLimit > maxEpisodeLimit {
		return nil, services.Wrap(services.ErrValidation, "podcasts", "subscribe",
			fmt.Sprintf("episode limit must be between %d and %d", minEpisodeLimit, maxEpisodeLimit), nil)
	}

	existing, err := s.store.PodcastByFeedURL(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, services.Wrap(services.ErrValidation, "podcasts", "subscribe", "already subscribed to "+feedURL, nil)
	}

	parsed, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	title := parsed.Title
	if title == "" {
		title = feedURL
	}
	podcast := &store.Podcast{
		Title:        title,
		FeedURL:      feedURL,
		Description:  parsed.Description,
		ImageURL:     parsed.ImageURL,
		EpisodeLimit: episodeLimit,
		AutoDownload: true,
	}
	if err := s.store.CreatePodcast(ctx, podcast); err != nil {
		return nil, err
	}

	added, err := s.ingestEntries(ctx, podcast, parsed.Entries)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscribed to podcast",
		logging.Int64(logging.FieldPodcastID, podcast.ID),
		logging.String("title", podcast.Title),
		logging.Int("episodes_discovered", added),
	)
	return podcast, nil
}

// Refresh fetches a podcast's feed and records any new episodes as pending.
// Returns how many episodes were added.
func (s *Service) Refresh(ctx context.Context, podcastID int64) (int, error) {
	podcast, err := s.store.PodcastByID(ctx, podcastID)
	if err != nil {
		return 0, err
	}
	if podcast == nil {
		return 0, services.Wrap(services.ErrNotFound, "podcasts", "refresh", fmt.Sprintf("podcast %d", podcastID), nil)
	}

	parsed, err := s.fetcher.Fetch(ctx, podcast.FeedURL)
	if err != nil {
		return 0, err
	}

	// Feed metadata can change over time; keep ours in step.
	changed := false
	if parsed.Title != "" && parsed.Title != podcast.Title {
		podcast.Title = parsed.Title
		changed = true
	}
	if parsed.Description != "" && parsed.Description != podcast.Description {
		podcast.Description = parsed.Description
		changed = true
	}
	if parsed.ImageURL != "" && parsed.ImageURL != podcast.ImageURL {
		podcast.ImageURL = parsed.ImageURL
		changed = true
	}
	if changed {
		if err := s.store.UpdatePodcast(ctx, podcast); err != nil {
			return 0, err
		}
	}

	added, err := s.ingestEntries(ctx, podcast, parsed.Entries)
	if err != nil {
		return added, err
	}

	if err := s.store.TouchLastChecked(ctx, podcast.ID, time.Now().UTC()); err != nil {
		return added, err
	}

	if added > 0 {
		s.logger.Info("feed refresh found new episodes",
			logging.Int64(logging.FieldPodcastID, podcast.ID),
			logging.Int("added", added),
		)
	}
	return added, nil
}

// RefreshAll refreshes every subscription, continuing past individual feed
// failures. Returns the total number of new episodes.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	podcastList, err := s.store.ListPodcasts(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	var firstErr error
	for _, podcast := range podcastList {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		added, err := s.Refresh(ctx, podcast.ID)
		if err != nil {
			s.logger.Warn("feed refresh failed",
				logging.Error(err),
				logging.Int64(logging.FieldPodcastID, podcast.ID),
				logging.String("feed_url", podcast.FeedURL),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += added
	}
	return total, firstErr
}

// UpdateParams carries optional subscription changes. Nil fields are left as
// they are.
type UpdateParams struct {
	Title        *string
	EpisodeLimit *int
	AutoDownload *bool
}

// Update applies subscription changes.
func (s *Service) Update(ctx context.Context, podcastID int64, params UpdateParams) (*store.Podcast, error) {
	podcast, err := s.store.PodcastByID(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	if podcast == nil {
		return nil, services.Wrap(services.ErrNotFound, "podcasts", "update", fmt.Sprintf("podcast %d", podcastID), nil)
	}

	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return nil, services.Wrap(services.ErrValidation, "podcasts", "update", "title cannot be empty", nil)
		}
		podcast.Title = title
	}
	if params.EpisodeLimit != nil {
		limit := *params.EpisodeLimit
		if limit < minEpisodeLimit || limit > maxEpisodeLimit {
			return nil, services.Wrap(services.ErrValidation, "podcasts", "update",
				fmt.Sprintf("episode limit must be between %d and %d", minEpisodeLimit, maxEpisodeLimit), nil)
		}
		podcast.EpisodeLimit = limit
	}
	if params.AutoDownload != nil {
		podcast.AutoDownload = *params.AutoDownload
	}

	if err := s.store.UpdatePodcast(ctx, podcast); err != nil {
		return nil, err
	}
	return podcast, nil
}

// Delete removes a subscription. Local episode files are deleted before the
// rows cascade away so nothing is orphaned on disk.
func (s *Service) Delete(ctx context.Context, podcastID int64) error {
	podcast, err := s.store.PodcastByID(ctx, podcastID)
	if err != nil {
		return err
	}
	if podcast == nil {
		return services.Wrap(services.ErrNotFound, "podcasts", "delete", fmt.Sprintf("podcast %d", podcastID), nil)
	}

	episodes, err := s.store.ListEpisodes(ctx, store.EpisodeFilter{PodcastID: podcastID})
	if err != nil {
		return err
	}
	for _, episode := range episodes {
		for _, path := range []string{episode.LocalPath, episode.ConvertedPath} {
			if path == "" {
				continue
			}
			if _, err := fileutil.RemoveIfExists(path); err != nil {
				s.logger.Warn("failed to remove episode file during unsubscribe",
					logging.Error(err),
					logging.Int64(logging.FieldEpisodeID, episode.ID),
					logging.String("path", path),
				)
			}
		}
	}

	if err := s.store.DeletePodcast(ctx, podcastID); err != nil {
		return err
	}
	s.logger.Info("unsubscribed from podcast",
		logging.Int64(logging.FieldPodcastID, podcastID),
		logging.String("title", podcast.Title),
	)
	return nil
}

// ingestEntries creates episode rows for feed entries not seen before.
// Existing episodes are matched by GUID and never modified.
func (s *Service) ingestEntries(ctx context.Context, podcast *store.Podcast, entries []feed.Entry) (int, error) {
	added := 0
	for _, entry := range entries {
		existing, err := s.store.EpisodeByGUID(ctx, entry.GUID)
		if err != nil {
			return added, err
		}
		if existing != nil {
			continue
		}

		title := entry.Title
		if title == "" {
			title = "Untitled Episode"
		}
		episode := &store.Episode{
			PodcastID:       podcast.ID,
			GUID:            entry.GUID,
			Title:           title,
			Description:     entry.Description,
			AudioURL:        entry.AudioURL,
			PubDate:         entry.PubDate,
			DurationSeconds: entry.DurationSeconds,
			FileSize:        entry.FileSize,
			DownloadStatus:  store.StatusPending,
		}
		if err := s.store.CreateEpisode(ctx, episode); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
