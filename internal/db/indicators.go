package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertIndicatorBatch writes one batch of parsed indicators for a source.
// Rows are keyed by (type, value_hash, source_id): new keys insert, existing
// keys refresh last_seen, severity, confidence, expiry and metadata and are
// reactivated. Returns the insert/update counts and the set of value hashes
// touched, which drives cache invalidation.
func (db *DB) UpsertIndicatorBatch(ctx context.Context, sourceID int, batch []ParsedIndicator) (added, updated int, changed []string, err error) {
	if len(batch) == 0 {
		return 0, 0, nil, nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	b := &pgx.Batch{}
	for _, ind := range batch {
		b.Queue(
			`INSERT INTO threat_indicators
			    (type, value, value_hash, threat_type, severity, confidence, source_id,
			     first_seen, last_seen, expires_at, metadata, active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7,
			     COALESCE($8, NOW()), COALESCE($9, NOW()), $10, COALESCE($11, '{}'::jsonb), TRUE)
			 ON CONFLICT (type, value_hash, source_id) DO UPDATE SET
			    last_seen  = COALESCE(EXCLUDED.last_seen, NOW()),
			    severity   = EXCLUDED.severity,
			    confidence = EXCLUDED.confidence,
			    threat_type = EXCLUDED.threat_type,
			    expires_at = EXCLUDED.expires_at,
			    metadata   = EXCLUDED.metadata,
			    active     = TRUE,
			    updated_at = NOW()
			 RETURNING (xmax = 0) AS inserted`,
			ind.Type, ind.Value, ind.ValueHash, ind.ThreatType, normalizeSeverity(ind.Severity),
			clampConfidence(ind.Confidence), sourceID, ind.FirstSeen, ind.LastSeen, ind.ExpiresAt, ind.Metadata,
		)
	}

	results := tx.SendBatch(ctx, b)
	changed = make([]string, 0, len(batch))
	for _, ind := range batch {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			results.Close()
			return 0, 0, nil, fmt.Errorf("upsert %s %s: %w", ind.Type, ind.ValueHash, err)
		}
		if inserted {
			added++
		} else {
			updated++
		}
		changed = append(changed, ind.ValueHash)
	}
	if err := results.Close(); err != nil {
		return 0, 0, nil, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, nil, fmt.Errorf("commit: %w", err)
	}
	return added, updated, changed, nil
}

// LookupIndicators returns active, unexpired indicators matching a value
// hash, joined with their enabled sources, best sources first.
func (db *DB) LookupIndicators(ctx context.Context, indicatorType, valueHash string) ([]IndicatorWithSource, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT i.id, i.type, i.value, i.value_hash, i.threat_type, i.severity, i.confidence,
		        i.source_id, i.first_seen, i.last_seen, i.expires_at, i.active, i.metadata,
		        s.name, s.default_weight, s.reliability, s.priority
		 FROM threat_indicators i
		 JOIN threat_intel_sources s ON s.id = i.source_id
		 WHERE i.active
		   AND i.type = $1
		   AND i.value_hash = $2
		   AND (i.expires_at IS NULL OR i.expires_at > NOW())
		   AND s.enabled
		 ORDER BY s.priority ASC, s.reliability DESC`,
		indicatorType, valueHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndicatorWithSource
	for rows.Next() {
		var m IndicatorWithSource
		if err := rows.Scan(&m.ID, &m.Type, &m.Value, &m.ValueHash, &m.ThreatType, &m.Severity,
			&m.Confidence, &m.SourceID, &m.FirstSeen, &m.LastSeen, &m.ExpiresAt, &m.Active,
			&m.Metadata, &m.SourceName, &m.SourceWeight, &m.SourceReliability, &m.SourcePriority); err != nil {
			return nil, err
		}
		m.ValueHash = strings.TrimSpace(m.ValueHash)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ExpireSourceIndicators deactivates indicators of a source whose expires_at
// has passed, returning their value hashes for cache invalidation.
func (db *DB) ExpireSourceIndicators(ctx context.Context, sourceID int, now time.Time) ([]string, error) {
	rows, err := db.Pool.Query(ctx,
		`UPDATE threat_indicators
		 SET active = FALSE, updated_at = NOW()
		 WHERE source_id = $1 AND active AND expires_at IS NOT NULL AND expires_at < $2
		 RETURNING value_hash`,
		sourceID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, strings.TrimSpace(h))
	}
	return hashes, rows.Err()
}

// EvictIndicator deactivates a single indicator by source and value hash.
func (db *DB) EvictIndicator(ctx context.Context, sourceID int, valueHash string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE threat_indicators SET active = FALSE, updated_at = NOW()
		 WHERE source_id = $1 AND value_hash = $2 AND active`,
		sourceID, valueHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveHashes streams the active value hashes of a source through fn.
// Used to rebuild invalidation indexes without holding 200k rows in memory.
func (db *DB) ListActiveHashes(ctx context.Context, sourceID int, fn func(valueHash string) error) error {
	rows, err := db.Pool.Query(ctx,
		`SELECT value_hash FROM threat_indicators WHERE source_id = $1 AND active`, sourceID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return err
		}
		if err := fn(strings.TrimSpace(h)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountIndicatorsByType returns active indicator counts grouped by type.
func (db *DB) CountIndicatorsByType(ctx context.Context) ([]TypeCount, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT type, COUNT(*) FROM threat_indicators
		 WHERE active AND (expires_at IS NULL OR expires_at > NOW())
		 GROUP BY type ORDER BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var c TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(s) {
	case "low", "medium", "high", "critical":
		return strings.ToLower(s)
	default:
		return "medium"
	}
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
