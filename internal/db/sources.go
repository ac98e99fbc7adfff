package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const sourceColumns = `id, name, type, url, enabled, default_weight, priority, reliability,
	sync_frequency_seconds, requires_auth, auth_env, rate_limit_per_minute,
	cache_timeout_seconds, parser_hint, indicator_type, last_synced_at, last_error, created_at`

func scanSource(row pgx.Row) (*ThreatIntelSource, error) {
	var s ThreatIntelSource
	err := row.Scan(&s.ID, &s.Name, &s.Type, &s.URL, &s.Enabled, &s.DefaultWeight, &s.Priority,
		&s.Reliability, &s.SyncFrequencySeconds, &s.RequiresAuth, &s.AuthEnv,
		&s.RateLimitPerMinute, &s.CacheTimeoutSeconds, &s.ParserHint, &s.IndicatorType,
		&s.LastSyncedAt, &s.LastError, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetSource retrieves a source by its primary key.
func (db *DB) GetSource(ctx context.Context, id int) (*ThreatIntelSource, error) {
	return scanSource(db.Pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM threat_intel_sources WHERE id = $1`, id))
}

// GetSourceByName retrieves a source by its unique name.
func (db *DB) GetSourceByName(ctx context.Context, name string) (*ThreatIntelSource, error) {
	return scanSource(db.Pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM threat_intel_sources WHERE name = $1`, name))
}

// ListSources returns all sources ordered by priority.
func (db *DB) ListSources(ctx context.Context) ([]ThreatIntelSource, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM threat_intel_sources ORDER BY priority ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []ThreatIntelSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// ListAutoSyncSources returns enabled sources the scheduler should enroll.
func (db *DB) ListAutoSyncSources(ctx context.Context) ([]ThreatIntelSource, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM threat_intel_sources
		 WHERE enabled AND type != 'query_api'
		 ORDER BY priority ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []ThreatIntelSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// ListQuerySources returns enabled live query-API sources.
func (db *DB) ListQuerySources(ctx context.Context) ([]ThreatIntelSource, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM threat_intel_sources
		 WHERE enabled AND type = 'query_api'
		 ORDER BY priority ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []ThreatIntelSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// SetSourceEnabled toggles a source.
func (db *DB) SetSourceEnabled(ctx context.Context, id int, enabled bool) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE threat_intel_sources SET enabled = $1, updated_at = NOW() WHERE id = $2`,
		enabled, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSourceSync records the outcome of the latest sync attempt on the
// source row itself; full history lives in threat_feed_syncs.
func (db *DB) TouchSourceSync(ctx context.Context, id int, lastError string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE threat_intel_sources
		 SET last_synced_at = NOW(), last_error = $1, updated_at = NOW()
		 WHERE id = $2`,
		lastError, id)
	return err
}

// SeedThreatSources populates the source catalogue with the default feed
// set. Existing rows are left untouched so operator edits survive restarts.
func (db *DB) SeedThreatSources(ctx context.Context) error {
	seeds := []ThreatIntelSource{
		{Name: "URLhaus Recent", Type: SourceFeedCSV, URL: "https://urlhaus.abuse.ch/downloads/csv_recent/",
			DefaultWeight: 20, Priority: 10, Reliability: 0.92, SyncFrequencySeconds: 1800, RateLimitPerMinute: 10,
			IndicatorType: "url", ParserHint: `{"comment":"#","value_col":2,"threat_col":5,"tags_col":6}`},
		{Name: "ThreatFox Recent", Type: SourceFeedCSV, URL: "https://threatfox.abuse.ch/export/csv/recent/",
			DefaultWeight: 18, Priority: 15, Reliability: 0.9, SyncFrequencySeconds: 3600, RateLimitPerMinute: 10,
			ParserHint: `{"comment":"#","value_col":2,"type_col":3,"threat_col":4,"confidence_col":6}`},
		{Name: "Feodo Tracker Botnet C2", Type: SourceFeedJSON, URL: "https://feodotracker.abuse.ch/downloads/ipblocklist.json",
			DefaultWeight: 20, Priority: 15, Reliability: 0.93, SyncFrequencySeconds: 3600, RateLimitPerMinute: 10,
			IndicatorType: "ip", ParserHint: `{"items":"@this","value":"ip_address","threat":"malware"}`},
		{Name: "OpenPhish", Type: SourceFeedText, URL: "https://openphish.com/feed.txt",
			DefaultWeight: 18, Priority: 20, Reliability: 0.88, SyncFrequencySeconds: 3600, RateLimitPerMinute: 6,
			IndicatorType: "url", ParserHint: `{"threat":"phishing"}`},
		{Name: "PhishTank Verified", Type: SourceFeedJSON, URL: "http://data.phishtank.com/data/online-valid.json",
			DefaultWeight: 18, Priority: 20, Reliability: 0.85, SyncFrequencySeconds: 7200, RateLimitPerMinute: 4,
			IndicatorType: "url", ParserHint: `{"items":"@this","value":"url","threat_const":"phishing"}`},
		{Name: "PhishStats", Type: SourceFeedCSV, URL: "https://phishstats.info/phish_score.csv",
			DefaultWeight: 12, Priority: 40, Reliability: 0.7, SyncFrequencySeconds: 7200, RateLimitPerMinute: 4,
			IndicatorType: "url", ParserHint: `{"comment":"#","value_col":2,"score_col":1}`},
		{Name: "Spamhaus DROP", Type: SourceFeedText, URL: "https://www.spamhaus.org/drop/drop.txt",
			DefaultWeight: 16, Priority: 25, Reliability: 0.95, SyncFrequencySeconds: 43200, RateLimitPerMinute: 2,
			IndicatorType: "ip", ParserHint: `{"comment":";","field":0,"threat":"spam_infrastructure"}`},
		{Name: "Blocklist.de All", Type: SourceFeedText, URL: "https://lists.blocklist.de/lists/all.txt",
			DefaultWeight: 10, Priority: 50, Reliability: 0.75, SyncFrequencySeconds: 21600, RateLimitPerMinute: 4,
			IndicatorType: "ip", ParserHint: `{"threat":"bruteforce"}`},
		{Name: "CINS Army", Type: SourceFeedText, URL: "https://cinsscore.com/list/ci-badguys.txt",
			DefaultWeight: 10, Priority: 50, Reliability: 0.72, SyncFrequencySeconds: 21600, RateLimitPerMinute: 4,
			IndicatorType: "ip", ParserHint: `{"threat":"scanner"}`},
		{Name: "Emerging Threats Compromised", Type: SourceFeedText, URL: "https://rules.emergingthreats.net/blockrules/compromised-ips.txt",
			DefaultWeight: 14, Priority: 30, Reliability: 0.85, SyncFrequencySeconds: 21600, RateLimitPerMinute: 4,
			IndicatorType: "ip", ParserHint: `{"comment":"#","threat":"compromised_host"}`},
		{Name: "FireHOL Level 1", Type: SourceFeedText, URL: "https://raw.githubusercontent.com/firehol/blocklist-ipsets/master/firehol_level1.netset",
			DefaultWeight: 14, Priority: 30, Reliability: 0.85, SyncFrequencySeconds: 43200, RateLimitPerMinute: 2,
			IndicatorType: "ip", ParserHint: `{"comment":"#","threat":"attack_infrastructure"}`},
		{Name: "Tor Exit Nodes", Type: SourceFeedText, URL: "https://check.torproject.org/torbulkexitlist",
			DefaultWeight: 4, Priority: 80, Reliability: 0.99, SyncFrequencySeconds: 10800, RateLimitPerMinute: 4,
			IndicatorType: "ip", ParserHint: `{"threat":"tor_exit","severity":"low"}`},
		{Name: "DigitalSide OSINT URLs", Type: SourceFeedText, URL: "https://osint.digitalside.it/Threat-Intel/lists/latesturls.txt",
			DefaultWeight: 12, Priority: 40, Reliability: 0.75, SyncFrequencySeconds: 21600, RateLimitPerMinute: 4,
			IndicatorType: "url", ParserHint: `{"comment":"#","threat":"malware_distribution"}`},
		{Name: "URLhaus Filter Domains", Type: SourceFeedText, URL: "https://malware-filter.gitlab.io/malware-filter/urlhaus-filter-domains.txt",
			DefaultWeight: 14, Priority: 35, Reliability: 0.85, SyncFrequencySeconds: 43200, RateLimitPerMinute: 2,
			IndicatorType: "domain", ParserHint: `{"comment":"#","threat":"malware_distribution"}`},
		{Name: "IPsum Level 3", Type: SourceGitHubFile, URL: "https://github.com/stamparm/ipsum",
			DefaultWeight: 12, Priority: 45, Reliability: 0.8, SyncFrequencySeconds: 86400, RateLimitPerMinute: 2,
			IndicatorType: "ip", ParserHint: `{"owner":"stamparm","repo":"ipsum","path":"levels/3.txt","threat":"blacklisted"}`},
		{Name: "Phishing.Database Active", Type: SourceGitHubFile, URL: "https://github.com/mitchellkrogza/Phishing.Database",
			DefaultWeight: 12, Priority: 45, Reliability: 0.7, SyncFrequencySeconds: 86400, RateLimitPerMinute: 2,
			IndicatorType: "domain", ParserHint: `{"owner":"mitchellkrogza","repo":"Phishing.Database","path":"phishing-domains-ACTIVE.txt","threat":"phishing"}`},
		{Name: "AlienVault OTX", Type: SourceQueryAPI, URL: "https://otx.alienvault.com/api/v1/indicators",
			DefaultWeight: 16, Priority: 20, Reliability: 0.8, RequiresAuth: true, AuthEnv: "OTX_API_KEY",
			RateLimitPerMinute: 30, CacheTimeoutSeconds: 86400},
		{Name: "AbuseIPDB", Type: SourceQueryAPI, URL: "https://api.abuseipdb.com/api/v2/check",
			DefaultWeight: 16, Priority: 20, Reliability: 0.85, RequiresAuth: true, AuthEnv: "ABUSEIPDB_API_KEY",
			RateLimitPerMinute: 20, CacheTimeoutSeconds: 86400},
		{Name: "VirusTotal", Type: SourceQueryAPI, URL: "https://www.virustotal.com/api/v3/urls",
			DefaultWeight: 20, Priority: 10, Reliability: 0.95, RequiresAuth: true, AuthEnv: "VT_API_KEY",
			RateLimitPerMinute: 4, CacheTimeoutSeconds: 86400},
		{Name: "URLScan.io", Type: SourceQueryAPI, URL: "https://urlscan.io/api/v1/search/",
			DefaultWeight: 12, Priority: 30, Reliability: 0.8, RequiresAuth: true, AuthEnv: "URLSCAN_API_KEY",
			RateLimitPerMinute: 30, CacheTimeoutSeconds: 86400},
	}

	for _, s := range seeds {
		freq := s.SyncFrequencySeconds
		if freq == 0 {
			freq = 3600
		}
		cacheTimeout := s.CacheTimeoutSeconds
		if cacheTimeout == 0 {
			cacheTimeout = 86400
		}
		_, err := db.Pool.Exec(ctx,
			`INSERT INTO threat_intel_sources
			    (name, type, url, enabled, default_weight, priority, reliability,
			     sync_frequency_seconds, requires_auth, auth_env, rate_limit_per_minute,
			     cache_timeout_seconds, parser_hint, indicator_type)
			 VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (name) DO NOTHING`,
			s.Name, s.Type, s.URL, s.DefaultWeight, s.Priority, s.Reliability,
			freq, s.RequiresAuth, s.AuthEnv, s.RateLimitPerMinute,
			cacheTimeout, s.ParserHint, s.IndicatorType)
		if err != nil {
			return err
		}
	}
	return nil
}
