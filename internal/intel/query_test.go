package intel

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/db"
)

type fakeStore struct {
	rows  map[string][]db.IndicatorWithSource
	err   error
	calls atomic.Int64
}

func (f *fakeStore) LookupIndicators(ctx context.Context, indicatorType, valueHash string) ([]db.IndicatorWithSource, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[indicatorType+":"+valueHash], nil
}

func row(source string, weight int, reliability float64, confidence int, indType, hash string) db.IndicatorWithSource {
	return db.IndicatorWithSource{
		ThreatIndicator: db.ThreatIndicator{
			Type:       indType,
			ValueHash:  hash,
			ThreatType: "phishing",
			Severity:   "high",
			Confidence: confidence,
			LastSeen:   time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		SourceName:        source,
		SourceWeight:      weight,
		SourceReliability: reliability,
	}
}

func newEngine(store IndicatorStore) *Engine {
	cache := NewCache(slog.Default(), nil, time.Hour)
	return NewEngine(slog.Default(), store, cache, 100, 25, 50)
}

func parseURL(t *testing.T, raw string) *canonical.URL {
	t.Helper()
	u, err := canonical.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestQueryExactMatchScoring(t *testing.T) {
	target := parseURL(t, "http://example-malware.test/path")
	store := &fakeStore{rows: map[string][]db.IndicatorWithSource{
		"url:" + target.Fingerprint: {row("URLhaus Recent URLs", 20, 0.92, 90, "url", target.Fingerprint)},
	}}
	engine := newEngine(store)

	res := engine.Query(context.Background(), target, "", false)

	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	m := res.Matches[0]
	if m.Strategy != StrategyExact {
		t.Errorf("strategy = %s", m.Strategy)
	}
	// 20 × 1.0 × 0.92 × 0.90 = 16.56
	if m.Score != 16.56 {
		t.Errorf("match score = %v, want 16.56", m.Score)
	}
	if res.Score != 17 {
		t.Errorf("total score = %d, want 17", res.Score)
	}
	if res.Verdict != VerdictUnknown {
		t.Errorf("verdict = %s, want unknown (below suspicious threshold)", res.Verdict)
	}
	if res.CacheHit {
		t.Error("first query must not be a cache hit")
	}
}

func TestQueryStrategyMultipliers(t *testing.T) {
	target := parseURL(t, "https://bad.example/")
	domainHash := canonical.HashValue(target.RegistrableDomain)
	ipHash := canonical.HashValue("203.0.113.9")

	store := &fakeStore{rows: map[string][]db.IndicatorWithSource{
		"domain:" + domainHash: {row("FeedA", 20, 1.0, 100, "domain", domainHash)},
		"ip:" + ipHash:         {row("FeedB", 20, 1.0, 100, "ip", ipHash)},
	}}
	engine := newEngine(store)

	res := engine.Query(context.Background(), target, "203.0.113.9", false)
	if len(res.Matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(res.Matches))
	}
	// Sorted by score descending: domain 18, ip 14.
	if res.Matches[0].Strategy != StrategyDomain || res.Matches[0].Score != 18 {
		t.Errorf("first match = %+v, want domain@18", res.Matches[0])
	}
	if res.Matches[1].Strategy != StrategyIP || res.Matches[1].Score != 14 {
		t.Errorf("second match = %+v, want ip@14", res.Matches[1])
	}
	if res.Score != 32 {
		t.Errorf("total = %d, want 32", res.Score)
	}
	if res.Verdict != VerdictSuspicious {
		t.Errorf("verdict = %s, want suspicious", res.Verdict)
	}
}

func TestQueryScoreCappedAtMaxWeight(t *testing.T) {
	target := parseURL(t, "https://flood.example/")
	var rows []db.IndicatorWithSource
	for i := 0; i < 8; i++ {
		rows = append(rows, row("Feed", 30, 1.0, 100, "url", target.Fingerprint))
	}
	store := &fakeStore{rows: map[string][]db.IndicatorWithSource{
		"url:" + target.Fingerprint: rows,
	}}
	engine := newEngine(store)

	res := engine.Query(context.Background(), target, "", false)
	if res.Score != 100 {
		t.Errorf("score = %d, want capped 100", res.Score)
	}
	if res.Verdict != VerdictMalicious {
		t.Errorf("verdict = %s, want malicious", res.Verdict)
	}
}

func TestQueryVerdictThresholds(t *testing.T) {
	cases := []struct {
		name   string
		weight int
		want   Verdict
	}{
		{"malicious at threshold", 50, VerdictMalicious},
		{"suspicious band", 30, VerdictSuspicious},
		{"unknown when weak", 10, VerdictUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := parseURL(t, "https://banded.example/"+tc.name)
			store := &fakeStore{rows: map[string][]db.IndicatorWithSource{
				"url:" + target.Fingerprint: {row("Feed", tc.weight, 1.0, 100, "url", target.Fingerprint)},
			}}
			res := newEngine(store).Query(context.Background(), target, "", false)
			if res.Verdict != tc.want {
				t.Errorf("verdict = %s, want %s (score %d)", res.Verdict, tc.want, res.Score)
			}
		})
	}
}

func TestQueryCleanWhenNoMatches(t *testing.T) {
	target := parseURL(t, "https://pristine.example/")
	engine := newEngine(&fakeStore{})

	res := engine.Query(context.Background(), target, "", false)
	if res.Verdict != VerdictClean {
		t.Errorf("verdict = %s, want clean", res.Verdict)
	}
	if res.Score != 0 || res.Confidence != 0 || len(res.Matches) != 0 {
		t.Errorf("empty result expected, got %+v", res)
	}
}

func TestQueryConfidenceIsReliabilityWeightedMean(t *testing.T) {
	target := parseURL(t, "https://evil.example/")
	store := &fakeStore{rows: map[string][]db.IndicatorWithSource{
		"url:" + target.Fingerprint: {
			row("SourceA", 20, 0.9, 90, "url", target.Fingerprint),
			row("SourceB", 20, 0.45, 30, "url", target.Fingerprint),
		},
	}}
	res := newEngine(store).Query(context.Background(), target, "", false)

	// (90×0.9 + 30×0.45) / (0.9+0.45) = 70
	if res.Confidence != 70 {
		t.Errorf("confidence = %d, want 70", res.Confidence)
	}
	if len(res.Matches) != 2 {
		t.Errorf("both source rows should match, got %d", len(res.Matches))
	}
}

func TestQueryCacheHitAndBypass(t *testing.T) {
	target := parseURL(t, "https://cached.example/")
	store := &fakeStore{rows: map[string][]db.IndicatorWithSource{
		"url:" + target.Fingerprint: {row("Feed", 20, 1.0, 100, "url", target.Fingerprint)},
	}}
	engine := newEngine(store)

	first := engine.Query(context.Background(), target, "", false)
	if first.CacheHit {
		t.Error("first query should miss")
	}
	after := store.calls.Load()

	second := engine.Query(context.Background(), target, "", false)
	if !second.CacheHit {
		t.Error("second query should hit the cache")
	}
	if store.calls.Load() != after {
		t.Error("cache hit must not touch the store")
	}
	if second.Score != first.Score || second.Verdict != first.Verdict {
		t.Error("cached result should carry the same score and verdict")
	}

	third := engine.Query(context.Background(), target, "", true)
	if third.CacheHit {
		t.Error("bypass must requery")
	}
	if store.calls.Load() == after {
		t.Error("bypass must touch the store")
	}
}

func TestQueryOutageIsNotCached(t *testing.T) {
	target := parseURL(t, "https://outage.example/")
	store := &fakeStore{err: errors.New("connection refused")}
	engine := newEngine(store)

	first := engine.Query(context.Background(), target, "", false)
	if first.Verdict != VerdictClean || len(first.Matches) != 0 {
		t.Fatalf("degraded result = %+v, want empty clean", first)
	}
	calls := store.calls.Load()

	// With every lookup failing, the empty answer must not be cached: the
	// next query retries the store instead of serving clean for the TTL.
	second := engine.Query(context.Background(), target, "", false)
	if second.CacheHit {
		t.Error("failed lookups must not seed the cache")
	}
	if store.calls.Load() == calls {
		t.Error("second query should retry the store")
	}
}

func TestInvalidateEvictsByValueHash(t *testing.T) {
	target := parseURL(t, "https://mutating.example/")
	store := &fakeStore{rows: map[string][]db.IndicatorWithSource{
		"url:" + target.Fingerprint: {row("Feed", 20, 1.0, 100, "url", target.Fingerprint)},
	}}
	engine := newEngine(store)

	engine.Query(context.Background(), target, "", false)
	if dropped := engine.Invalidate(context.Background(), target.Fingerprint); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	calls := store.calls.Load()
	res := engine.Query(context.Background(), target, "", false)
	if res.CacheHit {
		t.Error("invalidated entry should not hit")
	}
	if store.calls.Load() == calls {
		t.Error("store should be requeried after invalidation")
	}
}

func TestQuerySkipsIPStrategyWithoutResolvedIP(t *testing.T) {
	target := parseURL(t, "https://noip.example/")
	store := &fakeStore{}
	newEngine(store).Query(context.Background(), target, "", false)

	// exact + domain only
	if got := store.calls.Load(); got != 2 {
		t.Errorf("store calls = %d, want 2", got)
	}
}
