package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const podcastColumns = "id, title, feed_url, description, image_url, episode_limit, auto_download, last_checked, created_at, updated_at"

func scanPodcast(scanner interface{ Scan(dest ...any) error }) (*Podcast, error) {
	var (
		id           int64
		title        string
		feedURL      string
		description  sql.NullString
		imageURL     sql.NullString
		episodeLimit int
		autoDownload sql.NullInt64
		lastChecked  sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&feedURL,
		&description,
		&imageURL,
		&episodeLimit,
		&autoDownload,
		&lastChecked,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	podcast := &Podcast{
		ID:           id,
		Title:        title,
		FeedURL:      feedURL,
		Description:  description.String,
		ImageURL:     imageURL.String,
		EpisodeLimit: episodeLimit,
		AutoDownload: autoDownload.Valid && autoDownload.Int64 != 0,
		LastChecked:  timePointer(lastChecked),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		podcast.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		podcast.UpdatedAt = updated
	}
	return podcast, nil
}

// CreatePodcast inserts a new subscription and populates its ID and timestamps.
func (s *Store) CreatePodcast(ctx context.Context, podcast *Podcast) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx, `
		INSERT INTO podcasts (title, feed_url, description, image_url, episode_limit, auto_download, last_checked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		podcast.Title,
		podcast.FeedURL,
		nullableString(podcast.Description),
		nullableString(podcast.ImageURL),
		podcast.EpisodeLimit,
		boolToInt(podcast.AutoDownload),
		nullableTime(podcast.LastChecked),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert podcast: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("podcast insert id: %w", err)
	}
	podcast.ID = id
	podcast.CreatedAt = now
	podcast.UpdatedAt = now
	return nil
}

// PodcastByID returns the podcast with the given ID, or nil when absent.
func (s *Store) PodcastByID(ctx context.Context, id int64) (*Podcast, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+podcastColumns+" FROM podcasts WHERE id = ?", id)
	podcast, err := scanPodcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query podcast %d: %w", id, err)
	}
	return podcast, nil
}

// PodcastByFeedURL returns the podcast subscribed at the given feed URL, or nil.
func (s *Store) PodcastByFeedURL(ctx context.Context, feedURL string) (*Podcast, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+podcastColumns+" FROM podcasts WHERE feed_url = ?", feedURL)
	podcast, err := scanPodcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query podcast by feed url: %w", err)
	}
	return podcast, nil
}

// ListPodcasts returns all subscriptions ordered by title.
func (s *Store) ListPodcasts(ctx context.Context) ([]*Podcast, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+podcastColumns+" FROM podcasts ORDER BY title COLLATE NOCASE")
	if err != nil {
		return nil, fmt.Errorf("list podcasts: %w", err)
	}
	defer rows.Close()

	var podcasts []*Podcast
	for rows.Next() {
		podcast, err := scanPodcast(rows)
		if err != nil {
			return nil, fmt.Errorf("scan podcast: %w", err)
		}
		podcasts = append(podcasts, podcast)
	}
	return podcasts, rows.Err()
}

// UpdatePodcast persists mutable subscription fields.
func (s *Store) UpdatePodcast(ctx context.Context, podcast *Podcast) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx, `
		UPDATE podcasts
		SET title = ?, description = ?, image_url = ?, episode_limit = ?, auto_download = ?, last_checked = ?, updated_at = ?
		WHERE id = ?`,
		podcast.Title,
		nullableString(podcast.Description),
		nullableString(podcast.ImageURL),
		podcast.EpisodeLimit,
		boolToInt(podcast.AutoDownload),
		nullableTime(podcast.LastChecked),
		now.Format(time.RFC3339Nano),
		podcast.ID,
	)
	if err != nil {
		return fmt.Errorf("update podcast %d: %w", podcast.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update podcast %d rows: %w", podcast.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("podcast %d not found", podcast.ID)
	}
	podcast.UpdatedAt = now
	return nil
}

// TouchLastChecked records a completed feed refresh.
func (s *Store) TouchLastChecked(ctx context.Context, podcastID int64, at time.Time) error {
	return s.execWithoutResultRetry(ensureContext(ctx),
		"UPDATE podcasts SET last_checked = ?, updated_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano), nowUTC(), podcastID)
}

// DeletePodcast removes a subscription. Episode rows cascade.
func (s *Store) DeletePodcast(ctx context.Context, id int64) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx, "DELETE FROM podcasts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete podcast %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete podcast %d rows: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("podcast %d not found", id)
	}
	return nil
}
