package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const syncRunColumns = "id, sync_type, episodes_added, episodes_removed, bytes_transferred, status, error_message, started_at, completed_at, created_at"

func scanSyncRun(scanner interface{ Scan(dest ...any) error }) (*SyncRun, error) {
	var (
		id           int64
		syncType     string
		added        int
		removed      int
		bytes        int64
		status       string
		errorMessage sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		createdRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&syncType,
		&added,
		&removed,
		&bytes,
		&status,
		&errorMessage,
		&startedRaw,
		&completedRaw,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	run := &SyncRun{
		ID:               id,
		SyncType:         SyncType(syncType),
		EpisodesAdded:    added,
		EpisodesRemoved:  removed,
		BytesTransferred: bytes,
		Status:           SyncStatus(status),
		ErrorMessage:     errorMessage.String,
		CompletedAt:      timePointer(completedRaw),
	}
	if started, err := parseTimeString(startedRaw.String); err == nil {
		run.StartedAt = started
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		run.CreatedAt = created
	}
	return run, nil
}

// StartSyncRun opens a new in-progress history record and returns it.
func (s *Store) StartSyncRun(ctx context.Context, syncType SyncType) (*SyncRun, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx, `
		INSERT INTO sync_history (sync_type, status, started_at, created_at)
		VALUES (?, ?, ?, ?)`,
		string(syncType),
		string(SyncInProgress),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sync run insert id: %w", err)
	}
	return &SyncRun{
		ID:        id,
		SyncType:  syncType,
		Status:    SyncInProgress,
		StartedAt: now,
		CreatedAt: now,
	}, nil
}

// CompleteSyncRun closes a history record with its final counters and status.
func (s *Store) CompleteSyncRun(ctx context.Context, run *SyncRun) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	run.CompletedAt = &now
	err := s.execWithoutResultRetry(ctx, `
		UPDATE sync_history
		SET episodes_added = ?, episodes_removed = ?, bytes_transferred = ?, status = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		run.EpisodesAdded,
		run.EpisodesRemoved,
		run.BytesTransferred,
		string(run.Status),
		nullableString(run.ErrorMessage),
		now.Format(time.RFC3339Nano),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("complete sync run %d: %w", run.ID, err)
	}
	return nil
}

// ListSyncRuns returns history records newest-first, capped at limit.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + syncRunColumns + " FROM sync_history ORDER BY started_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastSuccessfulSync returns the most recent run that completed with success,
// or nil when none has.
func (s *Store) LastSuccessfulSync(ctx context.Context) (*SyncRun, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+syncRunColumns+" FROM sync_history WHERE status = ? ORDER BY started_at DESC, id DESC LIMIT 1",
		string(SyncSuccess))
	run, err := scanSyncRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last successful sync: %w", err)
	}
	return run, nil
}
