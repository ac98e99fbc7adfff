package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// UpsertVerdict stores the durable record of a completed scan.
func (db *DB) UpsertVerdict(ctx context.Context, v *VerdictRow) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO scan_verdicts
		    (fingerprint, url, registrable_domain, reachability, risk_level,
		     total_score, max_score, verdict, matches_hashes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		    reachability = EXCLUDED.reachability,
		    risk_level = EXCLUDED.risk_level,
		    total_score = EXCLUDED.total_score,
		    max_score = EXCLUDED.max_score,
		    verdict = EXCLUDED.verdict,
		    matches_hashes = EXCLUDED.matches_hashes,
		    updated_at = NOW()`,
		v.Fingerprint, v.URL, v.RegistrableDomain, v.Reachability, v.RiskLevel,
		v.TotalScore, v.MaxScore, v.Verdict, v.MatchesHashes)
	return err
}

// GetVerdict retrieves the stored verdict for a fingerprint.
func (db *DB) GetVerdict(ctx context.Context, fingerprint string) (*VerdictRow, error) {
	var v VerdictRow
	err := db.Pool.QueryRow(ctx,
		`SELECT fingerprint, url, registrable_domain, reachability, risk_level,
		        total_score, max_score, verdict, matches_hashes, created_at
		 FROM scan_verdicts WHERE fingerprint = $1`, fingerprint,
	).Scan(&v.Fingerprint, &v.URL, &v.RegistrableDomain, &v.Reachability, &v.RiskLevel,
		&v.TotalScore, &v.MaxScore, &v.Verdict, &v.MatchesHashes, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// RecentVerdicts returns the latest stored verdicts.
func (db *DB) RecentVerdicts(ctx context.Context, limit int) ([]VerdictRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT fingerprint, url, registrable_domain, reachability, risk_level,
		        total_score, max_score, verdict, matches_hashes, created_at
		 FROM scan_verdicts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VerdictRow
	for rows.Next() {
		var v VerdictRow
		if err := rows.Scan(&v.Fingerprint, &v.URL, &v.RegistrableDomain, &v.Reachability,
			&v.RiskLevel, &v.TotalScore, &v.MaxScore, &v.Verdict, &v.MatchesHashes, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountVerdictsByRisk returns scan counts grouped by risk level.
func (db *DB) CountVerdictsByRisk(ctx context.Context) ([]RiskCount, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT risk_level, COUNT(*) FROM scan_verdicts GROUP BY risk_level ORDER BY risk_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []RiskCount
	for rows.Next() {
		var c RiskCount
		if err := rows.Scan(&c.RiskLevel, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
