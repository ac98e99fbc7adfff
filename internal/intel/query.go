package intel

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/metrics"
)

// IndicatorStore is the slice of the datastore the engine needs.
type IndicatorStore interface {
	LookupIndicators(ctx context.Context, indicatorType, valueHash string) ([]db.IndicatorWithSource, error)
}

// Engine runs the three lookup strategies plus any live query APIs and
// folds the matches into one Result.
type Engine struct {
	logger     *slog.Logger
	store      IndicatorStore
	cache      *Cache
	remotes    []*RemoteSource
	maxWeight  uint
	suspicious float64
	malicious  float64
}

// NewEngine builds the query engine. maxWeight caps the aggregate score;
// suspicious/malicious are the verdict thresholds.
func NewEngine(logger *slog.Logger, store IndicatorStore, cache *Cache, maxWeight uint, suspicious, malicious float64) *Engine {
	return &Engine{
		logger:     logger,
		store:      store,
		cache:      cache,
		maxWeight:  maxWeight,
		suspicious: suspicious,
		malicious:  malicious,
	}
}

// AddRemote registers a live query API consulted alongside the store.
func (e *Engine) AddRemote(remote *RemoteSource) {
	if remote != nil {
		e.remotes = append(e.remotes, remote)
	}
}

// Query looks the target up across all strategies. resolvedIP may be empty
// when the probe could not resolve; bypassCache forces a fresh query.
func (e *Engine) Query(ctx context.Context, target *canonical.URL, resolvedIP string, bypassCache bool) *Result {
	if !bypassCache {
		if cached, ok := e.cache.Get(ctx, target.Fingerprint); ok {
			metrics.TICacheHits.Inc()
			hit := *cached
			hit.CacheHit = true
			return &hit
		}
	}
	metrics.TICacheMisses.Inc()

	type lookup struct {
		strategy Strategy
		indType  string
		hash     string
	}
	lookups := []lookup{
		{StrategyExact, "url", target.Fingerprint},
	}
	if target.RegistrableDomain != "" {
		lookups = append(lookups, lookup{StrategyDomain, "domain", canonical.HashValue(target.RegistrableDomain)})
	}
	if target.IsIPHost() {
		lookups = append(lookups, lookup{StrategyIP, "ip", canonical.HashValue(target.Host)})
	} else if resolvedIP != "" {
		lookups = append(lookups, lookup{StrategyIP, "ip", canonical.HashValue(resolvedIP)})
	}

	var (
		mu       sync.Mutex
		matches  []Match
		failures int
		wg       sync.WaitGroup
	)

	for _, l := range lookups {
		wg.Add(1)
		go func(l lookup) {
			defer wg.Done()
			rows, err := e.store.LookupIndicators(ctx, l.indType, l.hash)
			if err != nil {
				e.logger.Warn("ti query: store lookup failed", "strategy", l.strategy, "err", err)
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			mu.Lock()
			for _, row := range rows {
				matches = append(matches, scoreMatch(l.strategy, row))
			}
			mu.Unlock()
		}(l)
	}

	for _, remote := range e.remotes {
		wg.Add(1)
		go func(remote *RemoteSource) {
			defer wg.Done()
			hits, err := remote.Query(ctx, target, resolvedIP)
			if err != nil {
				e.logger.Warn("ti query: remote source failed", "source", remote.Name(), "err", err)
				return
			}
			mu.Lock()
			matches = append(matches, hits...)
			mu.Unlock()
		}(remote)
	}

	wg.Wait()

	result := e.aggregate(matches)
	if failures == len(lookups) {
		// Every corpus lookup failed, so an empty result says nothing about
		// the target. Caching it would pin a transient store outage for the
		// full TTL.
		e.logger.Warn("ti query: all store lookups failed, result not cached", "fingerprint", target.Fingerprint)
		return result
	}
	e.cache.Set(ctx, target.Fingerprint, result)
	return result
}

// Invalidate drops cached results matching valueHash; wired to the sync
// engine's change notifications.
func (e *Engine) Invalidate(ctx context.Context, valueHash string) int {
	return e.cache.Invalidate(ctx, valueHash)
}

func scoreMatch(strategy Strategy, row db.IndicatorWithSource) Match {
	score := float64(row.SourceWeight) *
		strategyMultiplier[strategy] *
		row.SourceReliability *
		(float64(row.Confidence) / 100)
	var lastSeen *time.Time
	if !row.LastSeen.IsZero() {
		ls := row.LastSeen
		lastSeen = &ls
	}
	return Match{
		Strategy:      strategy,
		IndicatorType: row.Type,
		ValueHash:     row.ValueHash,
		ThreatType:    row.ThreatType,
		Severity:      row.Severity,
		Confidence:    row.Confidence,
		SourceName:    row.SourceName,
		Reliability:   row.SourceReliability,
		Score:         math.Round(score*100) / 100,
		LastSeen:      lastSeen,
	}
}

func (e *Engine) aggregate(matches []Match) *Result {
	// Lookups finish in arbitrary order; sort so the verdict body is stable.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].SourceName != matches[j].SourceName {
			return matches[i].SourceName < matches[j].SourceName
		}
		if matches[i].Strategy != matches[j].Strategy {
			return matches[i].Strategy < matches[j].Strategy
		}
		return matches[i].ValueHash < matches[j].ValueHash
	})

	if len(matches) == 0 {
		return &Result{Verdict: VerdictClean}
	}

	var total, weightSum, confSum float64
	for _, m := range matches {
		total += m.Score
		weightSum += m.Reliability
		confSum += float64(m.Confidence) * m.Reliability
	}

	score := uint(math.Round(total))
	if score > e.maxWeight {
		score = e.maxWeight
	}

	verdict := VerdictUnknown
	switch {
	case float64(score) >= e.malicious:
		verdict = VerdictMalicious
	case float64(score) >= e.suspicious:
		verdict = VerdictSuspicious
	}

	confidence := 0
	if weightSum > 0 {
		confidence = int(math.Round(confSum / weightSum))
	}

	return &Result{
		Matches:    matches,
		Score:      score,
		Verdict:    verdict,
		Confidence: confidence,
	}
}
