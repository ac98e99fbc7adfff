package scan

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/intel"
)

func cachedVerdict(t *testing.T, raw string, hashes ...string) *Verdict {
	t.Helper()
	u, err := canonical.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	matches := make([]intel.Match, 0, len(hashes))
	for _, h := range hashes {
		matches = append(matches, intel.Match{ValueHash: h, SourceName: "test"})
	}
	return &Verdict{
		Canonical:   u,
		RiskLevel:   "C",
		ThreatIntel: &intel.Result{Matches: matches},
		GeneratedAt: time.Now().UTC(),
	}
}

func TestCacheSelectiveInvalidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewCache(logger, nil, time.Minute)
	ctx := context.Background()

	a := cachedVerdict(t, "https://a.example.com", "hash1", "hash2")
	b := cachedVerdict(t, "https://b.example.com", "hash3")
	c := cachedVerdict(t, "https://c.example.com")
	cache.Set(ctx, a.Canonical.Fingerprint, a)
	cache.Set(ctx, b.Canonical.Fingerprint, b)
	cache.Set(ctx, c.Canonical.Fingerprint, c)

	if dropped := cache.Invalidate(ctx, "hash2"); dropped != 1 {
		t.Fatalf("Invalidate dropped %d, want 1", dropped)
	}
	if _, ok := cache.Get(ctx, a.Canonical.Fingerprint); ok {
		t.Fatal("verdict matching hash2 should be gone")
	}
	if _, ok := cache.Get(ctx, b.Canonical.Fingerprint); !ok {
		t.Fatal("unrelated verdict was evicted")
	}
	if _, ok := cache.Get(ctx, c.Canonical.Fingerprint); !ok {
		t.Fatal("matchless verdict was evicted")
	}
}

func TestCacheExpiry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewCache(logger, nil, 10*time.Millisecond)
	ctx := context.Background()

	v := cachedVerdict(t, "https://a.example.com")
	cache.Set(ctx, v.Canonical.Fingerprint, v)
	if _, ok := cache.Get(ctx, v.Canonical.Fingerprint); !ok {
		t.Fatal("fresh entry should be served")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get(ctx, v.Canonical.Fingerprint); ok {
		t.Fatal("expired entry should not be served")
	}

	cache.Purge()
	if cache.Len() != 0 {
		t.Fatalf("Len = %d after purge, want 0", cache.Len())
	}
}

func TestCacheEvict(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewCache(logger, nil, time.Minute)
	ctx := context.Background()

	v := cachedVerdict(t, "https://a.example.com")
	cache.Set(ctx, v.Canonical.Fingerprint, v)
	cache.Evict(ctx, v.Canonical.Fingerprint)
	if _, ok := cache.Get(ctx, v.Canonical.Fingerprint); ok {
		t.Fatal("evicted entry should be gone")
	}
}

func TestCacheWarmFromRows(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewCache(logger, nil, time.Hour)
	ctx := context.Background()

	fresh := cachedVerdict(t, "https://a.example.com", "hash1")
	stale := cachedVerdict(t, "https://b.example.com")
	freshDoc, _ := json.Marshal(fresh)
	staleDoc, _ := json.Marshal(stale)

	rows := []db.VerdictRow{
		{
			Fingerprint:   fresh.Canonical.Fingerprint,
			Verdict:       freshDoc,
			MatchesHashes: []string{"hash1"},
			CreatedAt:     time.Now().Add(-time.Minute),
		},
		{
			Fingerprint: stale.Canonical.Fingerprint,
			Verdict:     staleDoc,
			CreatedAt:   time.Now().Add(-2 * time.Hour),
		},
		{Fingerprint: "broken", Verdict: []byte("{"), CreatedAt: time.Now()},
	}

	if n := cache.Warm(rows); n != 1 {
		t.Fatalf("Warm loaded %d, want 1", n)
	}
	got, ok := cache.Get(ctx, fresh.Canonical.Fingerprint)
	if !ok || got.RiskLevel != "C" {
		t.Fatalf("warmed verdict not served: %+v", got)
	}
	if _, ok := cache.Get(ctx, stale.Canonical.Fingerprint); ok {
		t.Fatal("stale row should not be loaded")
	}

	// Warmed entries keep their invalidation index.
	if dropped := cache.Invalidate(ctx, "hash1"); dropped != 1 {
		t.Fatalf("Invalidate dropped %d, want 1", dropped)
	}
}
