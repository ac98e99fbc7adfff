package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateSyncRun records the start of a sync attempt and returns the run.
func (db *DB) CreateSyncRun(ctx context.Context, sourceID int, trigger string) (*SyncRun, error) {
	run := &SyncRun{
		ID:       uuid.NewString(),
		SourceID: sourceID,
		Trigger:  trigger,
		Status:   SyncInProgress,
	}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO threat_feed_syncs (id, source_id, trigger, status)
		 VALUES ($1, $2, $3, $4) RETURNING started_at`,
		run.ID, run.SourceID, run.Trigger, run.Status).Scan(&run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// FinalizeSyncRun stores the outcome of a sync run.
func (db *DB) FinalizeSyncRun(ctx context.Context, run *SyncRun) error {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.DurationMS = now.Sub(run.StartedAt).Milliseconds()
	_, err := db.Pool.Exec(ctx,
		`UPDATE threat_feed_syncs
		 SET status = $1, indicators_added = $2, indicators_updated = $3,
		     indicators_removed = $4, error_message = $5, completed_at = $6, duration_ms = $7
		 WHERE id = $8`,
		run.Status, run.IndicatorsAdded, run.IndicatorsUpdated, run.IndicatorsRemoved,
		run.ErrorMessage, run.CompletedAt, run.DurationMS, run.ID)
	return err
}

// GetSyncRun retrieves a run by id.
func (db *DB) GetSyncRun(ctx context.Context, id string) (*SyncRun, error) {
	var r SyncRun
	err := db.Pool.QueryRow(ctx,
		`SELECT id, source_id, trigger, status, indicators_added, indicators_updated,
		        indicators_removed, error_message, started_at, completed_at, duration_ms
		 FROM threat_feed_syncs WHERE id = $1`, id,
	).Scan(&r.ID, &r.SourceID, &r.Trigger, &r.Status, &r.IndicatorsAdded, &r.IndicatorsUpdated,
		&r.IndicatorsRemoved, &r.ErrorMessage, &r.StartedAt, &r.CompletedAt, &r.DurationMS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// RecentSyncRuns returns the latest runs, optionally filtered by source.
func (db *DB) RecentSyncRuns(ctx context.Context, sourceID int, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if sourceID > 0 {
		rows, err = db.Pool.Query(ctx,
			`SELECT id, source_id, trigger, status, indicators_added, indicators_updated,
			        indicators_removed, error_message, started_at, completed_at, duration_ms
			 FROM threat_feed_syncs WHERE source_id = $1 ORDER BY started_at DESC LIMIT $2`,
			sourceID, limit)
	} else {
		rows, err = db.Pool.Query(ctx,
			`SELECT id, source_id, trigger, status, indicators_added, indicators_updated,
			        indicators_removed, error_message, started_at, completed_at, duration_ms
			 FROM threat_feed_syncs ORDER BY started_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(&r.ID, &r.SourceID, &r.Trigger, &r.Status, &r.IndicatorsAdded,
			&r.IndicatorsUpdated, &r.IndicatorsRemoved, &r.ErrorMessage, &r.StartedAt,
			&r.CompletedAt, &r.DurationMS); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SourceSyncStats aggregates run history and active indicator counts per
// source for the dashboard.
func (db *DB) SourceSyncStats(ctx context.Context) ([]SourceSyncStat, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT s.id, s.name,
		        COALESCE(r.runs, 0), COALESCE(r.failures, 0),
		        COALESCE(r.last_status, ''), r.last_completed_at,
		        COALESCE(i.active_count, 0)
		 FROM threat_intel_sources s
		 LEFT JOIN (
		     SELECT source_id,
		            COUNT(*) AS runs,
		            COUNT(*) FILTER (WHERE status = 'failed') AS failures,
		            (array_agg(status ORDER BY started_at DESC))[1] AS last_status,
		            MAX(completed_at) AS last_completed_at
		     FROM threat_feed_syncs GROUP BY source_id
		 ) r ON r.source_id = s.id
		 LEFT JOIN (
		     SELECT source_id, COUNT(*) AS active_count
		     FROM threat_indicators WHERE active GROUP BY source_id
		 ) i ON i.source_id = s.id
		 ORDER BY s.priority ASC, s.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []SourceSyncStat
	for rows.Next() {
		var s SourceSyncStat
		if err := rows.Scan(&s.SourceID, &s.SourceName, &s.Runs, &s.Failures,
			&s.LastStatus, &s.LastCompletedAt, &s.ActiveIndicators); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
