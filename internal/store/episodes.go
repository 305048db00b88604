package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const episodeColumns = "id, podcast_id, guid, title, description, audio_url, pub_date, duration_seconds, file_size, download_status, download_progress, local_path, converted_path, synced_to_watch, sync_date, created_at, updated_at"

func scanEpisode(scanner interface{ Scan(dest ...any) error }) (*Episode, error) {
	var (
		id            int64
		podcastID     int64
		guid          string
		title         string
		description   sql.NullString
		audioURL      string
		pubDate       sql.NullString
		duration      sql.NullInt64
		fileSize      sql.NullInt64
		statusStr     string
		progress      int
		localPath     sql.NullString
		convertedPath sql.NullString
		synced        sql.NullInt64
		syncDate      sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&podcastID,
		&guid,
		&title,
		&description,
		&audioURL,
		&pubDate,
		&duration,
		&fileSize,
		&statusStr,
		&progress,
		&localPath,
		&convertedPath,
		&synced,
		&syncDate,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	episode := &Episode{
		ID:               id,
		PodcastID:        podcastID,
		GUID:             guid,
		Title:            title,
		Description:      description.String,
		AudioURL:         audioURL,
		PubDate:          timePointer(pubDate),
		DurationSeconds:  int(duration.Int64),
		FileSize:         fileSize.Int64,
		DownloadStatus:   DownloadStatus(statusStr),
		DownloadProgress: progress,
		LocalPath:        localPath.String,
		ConvertedPath:    convertedPath.String,
		SyncedToWatch:    synced.Valid && synced.Int64 != 0,
		SyncDate:         timePointer(syncDate),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		episode.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		episode.UpdatedAt = updated
	}
	return episode, nil
}

// CreateEpisode inserts a new episode and populates its ID and timestamps.
// A caller-provided creation time is kept; otherwise now is recorded.
func (s *Store) CreateEpisode(ctx context.Context, episode *Episode) error {
	ctx = ensureContext(ctx)
	if episode.DownloadStatus == "" {
		episode.DownloadStatus = StatusPending
	}
	now := time.Now().UTC()
	created := now
	if !episode.CreatedAt.IsZero() {
		created = episode.CreatedAt.UTC()
	}
	res, err := s.execWithRetry(ctx, `
		INSERT INTO episodes (podcast_id, guid, title, description, audio_url, pub_date, duration_seconds, file_size, download_status, download_progress, local_path, converted_path, synced_to_watch, sync_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		episode.PodcastID,
		episode.GUID,
		episode.Title,
		nullableString(episode.Description),
		episode.AudioURL,
		nullableTime(episode.PubDate),
		episode.DurationSeconds,
		nullableInt64(episode.FileSize),
		string(episode.DownloadStatus),
		episode.DownloadProgress,
		nullableString(episode.LocalPath),
		nullableString(episode.ConvertedPath),
		boolToInt(episode.SyncedToWatch),
		nullableTime(episode.SyncDate),
		created.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("episode insert id: %w", err)
	}
	episode.ID = id
	episode.CreatedAt = created
	episode.UpdatedAt = now
	return nil
}

// EpisodeByID returns the episode with the given ID, or nil when absent.
func (s *Store) EpisodeByID(ctx context.Context, id int64) (*Episode, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+episodeColumns+" FROM episodes WHERE id = ?", id)
	episode, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query episode %d: %w", id, err)
	}
	return episode, nil
}

// EpisodeByGUID returns the episode with the given feed GUID, or nil.
func (s *Store) EpisodeByGUID(ctx context.Context, guid string) (*Episode, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+episodeColumns+" FROM episodes WHERE guid = ?", guid)
	episode, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query episode by guid: %w", err)
	}
	return episode, nil
}

// EpisodeFilter narrows ListEpisodes. Zero values match everything.
type EpisodeFilter struct {
	PodcastID int64
	Status    DownloadStatus
	Limit     int
	Offset    int
}

// ListEpisodes returns episodes newest-first, optionally filtered by podcast
// and download status.
func (s *Store) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]*Episode, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + episodeColumns + " FROM episodes WHERE 1=1"
	args := make([]any, 0, 4)
	if filter.PodcastID > 0 {
		query += " AND podcast_id = ?"
		args = append(args, filter.PodcastID)
	}
	if filter.Status != "" {
		query += " AND download_status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY pub_date DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()
	return collectEpisodes(rows)
}

// PendingEpisodes returns the newest pending episodes for a podcast, capped
// at limit. A limit of zero returns all of them.
func (s *Store) PendingEpisodes(ctx context.Context, podcastID int64, limit int) ([]*Episode, error) {
	return s.ListEpisodes(ctx, EpisodeFilter{PodcastID: podcastID, Status: StatusPending, Limit: limit})
}

// DeviceCandidates returns the newest converted episodes for a podcast, capped
// at limit. These are the episodes that belong on the device.
func (s *Store) DeviceCandidates(ctx context.Context, podcastID int64, limit int) ([]*Episode, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + episodeColumns + ` FROM episodes
		WHERE podcast_id = ? AND download_status = ? AND converted_path IS NOT NULL
		ORDER BY pub_date DESC, id DESC`
	args := []any{podcastID, string(StatusDownloaded)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query device candidates: %w", err)
	}
	defer rows.Close()
	return collectEpisodes(rows)
}

// EpisodesWithLocalFiles returns episodes that still hold a raw or converted
// file on local storage, oldest-created first.
func (s *Store) EpisodesWithLocalFiles(ctx context.Context) ([]*Episode, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+episodeColumns+` FROM episodes
		WHERE local_path IS NOT NULL OR converted_path IS NOT NULL
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query episodes with local files: %w", err)
	}
	defer rows.Close()
	return collectEpisodes(rows)
}

// EpisodesCreatedBefore returns episodes with local files created before the
// cutoff. When keepSynced is set, episodes currently on the device are
// excluded.
func (s *Store) EpisodesCreatedBefore(ctx context.Context, cutoff time.Time, keepSynced bool) ([]*Episode, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + episodeColumns + ` FROM episodes
		WHERE (local_path IS NOT NULL OR converted_path IS NOT NULL)
		AND created_at < ?`
	args := []any{cutoff.UTC().Format(time.RFC3339Nano)}
	if keepSynced {
		query += " AND synced_to_watch = 0"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes before cutoff: %w", err)
	}
	defer rows.Close()
	return collectEpisodes(rows)
}

// FailedEpisodes returns episodes whose last download attempt failed.
func (s *Store) FailedEpisodes(ctx context.Context) ([]*Episode, error) {
	return s.ListEpisodes(ctx, EpisodeFilter{Status: StatusFailed})
}

// UpdateEpisode persists all mutable episode fields.
func (s *Store) UpdateEpisode(ctx context.Context, episode *Episode) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx, `
		UPDATE episodes
		SET title = ?, description = ?, audio_url = ?, pub_date = ?, duration_seconds = ?, file_size = ?,
			download_status = ?, download_progress = ?, local_path = ?, converted_path = ?,
			synced_to_watch = ?, sync_date = ?, updated_at = ?
		WHERE id = ?`,
		episode.Title,
		nullableString(episode.Description),
		episode.AudioURL,
		nullableTime(episode.PubDate),
		episode.DurationSeconds,
		nullableInt64(episode.FileSize),
		string(episode.DownloadStatus),
		episode.DownloadProgress,
		nullableString(episode.LocalPath),
		nullableString(episode.ConvertedPath),
		boolToInt(episode.SyncedToWatch),
		nullableTime(episode.SyncDate),
		now.Format(time.RFC3339Nano),
		episode.ID,
	)
	if err != nil {
		return fmt.Errorf("update episode %d: %w", episode.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update episode %d rows: %w", episode.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("episode %d not found", episode.ID)
	}
	episode.UpdatedAt = now
	return nil
}

// SetDownloadProgress records download progress without touching other fields.
func (s *Store) SetDownloadProgress(ctx context.Context, id int64, progress int) error {
	return s.execWithoutResultRetry(ensureContext(ctx),
		"UPDATE episodes SET download_progress = ?, updated_at = ? WHERE id = ?",
		progress, nowUTC(), id)
}

// MarkSynced flags an episode as present on the device.
func (s *Store) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	return s.execWithoutResultRetry(ensureContext(ctx),
		"UPDATE episodes SET synced_to_watch = 1, sync_date = ?, updated_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano), nowUTC(), id)
}

// ClearSynced drops the device flag for the given episodes in one transaction.
func (s *Store) ClearSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	args := make([]any, 0, len(ids)+1)
	args = append(args, nowUTC())
	for _, id := range ids {
		args = append(args, id)
	}
	return s.execWithoutResultRetry(ctx,
		"UPDATE episodes SET synced_to_watch = 0, sync_date = NULL, updated_at = ? WHERE id IN ("+makePlaceholders(len(ids))+")",
		args...)
}

// DeleteEpisodes removes the given episode rows in one transaction.
func (s *Store) DeleteEpisodes(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return s.execWithoutResultRetry(ctx,
		"DELETE FROM episodes WHERE id IN ("+makePlaceholders(len(ids))+")", args...)
}

// CountsByStatus returns how many episodes sit in each download status.
func (s *Store) CountsByStatus(ctx context.Context) (map[DownloadStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT download_status, COUNT(1) FROM episodes GROUP BY download_status")
	if err != nil {
		return nil, fmt.Errorf("count episodes by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[DownloadStatus]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[DownloadStatus(status)] = count
	}
	return counts, rows.Err()
}

// CountEligible returns how many episodes are downloaded and converted,
// meaning they could appear on the device.
func (s *Store) CountEligible(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM episodes WHERE download_status = ? AND converted_path IS NOT NULL AND converted_path != ''",
		string(StatusDownloaded),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count eligible episodes: %w", err)
	}
	return count, nil
}

// CountSynced returns how many episodes are flagged as on the device.
func (s *Store) CountSynced(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM episodes WHERE synced_to_watch = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count synced episodes: %w", err)
	}
	return count, nil
}

func collectEpisodes(rows *sql.Rows) ([]*Episode, error) {
	var episodes []*Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, episode)
	}
	return episodes, rows.Err()
}
