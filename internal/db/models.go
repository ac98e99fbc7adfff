package db

import "time"

// ThreatIntelSource is one row of threat_intel_sources. AuthEnv names the
// environment variable carrying the source's API key; the store never holds
// credentials.
type ThreatIntelSource struct {
	ID                   int        `json:"id"`
	Name                 string     `json:"name"`
	Type                 string     `json:"type"`
	URL                  string     `json:"url"`
	Enabled              bool       `json:"enabled"`
	DefaultWeight        int        `json:"default_weight"`
	Priority             int        `json:"priority"`
	Reliability          float64    `json:"reliability"`
	SyncFrequencySeconds int        `json:"sync_frequency_seconds"`
	RequiresAuth         bool       `json:"requires_auth"`
	AuthEnv              string     `json:"auth_env,omitempty"`
	RateLimitPerMinute   int        `json:"rate_limit_per_minute"`
	CacheTimeoutSeconds  int        `json:"cache_timeout_seconds"`
	ParserHint           string     `json:"parser_hint,omitempty"`
	IndicatorType        string     `json:"indicator_type,omitempty"`
	LastSyncedAt         *time.Time `json:"last_synced_at,omitempty"`
	LastError            string     `json:"last_error,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Source types.
const (
	SourceFeedCSV    = "feed_csv"
	SourceFeedJSON   = "feed_json"
	SourceFeedText   = "feed_text"
	SourceGitHubFile = "github_file"
	SourceQueryAPI   = "query_api"
)

// SyncFrequency returns the configured repeat interval.
func (s *ThreatIntelSource) SyncFrequency() time.Duration {
	if s.SyncFrequencySeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.SyncFrequencySeconds) * time.Second
}

// AutoSync reports whether the scheduler should enroll this source. Query
// APIs are consulted live at scan time instead of being bulk synced.
func (s *ThreatIntelSource) AutoSync() bool {
	return s.Enabled && s.Type != SourceQueryAPI
}

// ThreatIndicator is one row of threat_indicators. Uniqueness is
// (type, value_hash, source_id); value_hash is the hex SHA-256 of the
// canonicalized value.
type ThreatIndicator struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	Value      string         `json:"value"`
	ValueHash  string         `json:"value_hash"`
	ThreatType string         `json:"threat_type,omitempty"`
	Severity   string         `json:"severity"`
	Confidence int            `json:"confidence"`
	SourceID   int            `json:"source_id"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeen   time.Time      `json:"last_seen"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Active     bool           `json:"active"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IndicatorWithSource joins an indicator with the source columns the query
// engine needs for weighting.
type IndicatorWithSource struct {
	ThreatIndicator
	SourceName        string  `json:"source_name"`
	SourceWeight      int     `json:"source_weight"`
	SourceReliability float64 `json:"source_reliability"`
	SourcePriority    int     `json:"source_priority"`
}

// ParsedIndicator is what a feed parser emits for one entry, after
// canonicalization. Value and ValueHash are already canonical.
type ParsedIndicator struct {
	Type       string
	Value      string
	ValueHash  string
	ThreatType string
	Severity   string
	Confidence int
	FirstSeen  *time.Time
	LastSeen   *time.Time
	ExpiresAt  *time.Time
	Metadata   map[string]any
}

// SyncRun is one row of threat_feed_syncs.
type SyncRun struct {
	ID                string     `json:"id"`
	SourceID          int        `json:"source_id"`
	Trigger           string     `json:"trigger"`
	Status            string     `json:"status"`
	IndicatorsAdded   int        `json:"indicators_added"`
	IndicatorsUpdated int        `json:"indicators_updated"`
	IndicatorsRemoved int        `json:"indicators_removed"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	DurationMS        int64      `json:"duration_ms,omitempty"`
}

// Sync run statuses and triggers.
const (
	SyncInProgress = "in_progress"
	SyncSuccess    = "success"
	SyncFailed     = "failed"

	TriggerScheduled   = "scheduled"
	TriggerManual      = "manual"
	TriggerIncremental = "incremental"
)

// VerdictRow is the durable record of a completed scan, kept for the
// dashboard and cache warm-up. TTL semantics live in the cache tiers, not
// here.
type VerdictRow struct {
	Fingerprint       string    `json:"fingerprint"`
	URL               string    `json:"url"`
	RegistrableDomain string    `json:"registrable_domain,omitempty"`
	Reachability      string    `json:"reachability"`
	RiskLevel         string    `json:"risk_level"`
	TotalScore        int       `json:"total_score"`
	MaxScore          int       `json:"max_score"`
	Verdict           []byte    `json:"verdict"`
	MatchesHashes     []string  `json:"matches_hashes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// TypeCount is a (type, count) aggregation row.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// RiskCount is a (risk_level, count) aggregation row.
type RiskCount struct {
	RiskLevel string `json:"risk_level"`
	Count     int64  `json:"count"`
}

// SourceSyncStat summarizes sync history per source for the dashboard.
type SourceSyncStat struct {
	SourceID         int        `json:"source_id"`
	SourceName       string     `json:"source_name"`
	Runs             int64      `json:"runs"`
	Failures         int64      `json:"failures"`
	LastStatus       string     `json:"last_status,omitempty"`
	LastCompletedAt  *time.Time `json:"last_completed_at,omitempty"`
	ActiveIndicators int64      `json:"active_indicators"`
}
