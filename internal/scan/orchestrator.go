package scan

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/urlwarden/urlwarden-go/internal/analyzers"
	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/collect"
	"github.com/urlwarden/urlwarden-go/internal/config"
	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/intel"
	"github.com/urlwarden/urlwarden-go/internal/metrics"
	"github.com/urlwarden/urlwarden-go/internal/probe"
)

// ProbeRunner classifies reachability and seeds the evidence bundle.
type ProbeRunner interface {
	Probe(ctx context.Context, target *canonical.URL) *probe.Result
}

// EvidenceCollector fills the remaining evidence fields.
type EvidenceCollector interface {
	Collect(ctx context.Context, target *canonical.URL, seed *collect.Evidence) *collect.Evidence
}

// IntelQuerier answers the known-bad question for a target.
type IntelQuerier interface {
	Query(ctx context.Context, target *canonical.URL, resolvedIP string, bypassCache bool) *intel.Result
}

// VerdictStore persists completed verdicts for the dashboard.
type VerdictStore interface {
	UpsertVerdict(ctx context.Context, v *db.VerdictRow) error
}

// Broadcaster pushes completion events to live subscribers.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

// Enricher attaches a non-scoring analyst note to a finished verdict.
type Enricher interface {
	Note(ctx context.Context, v *Verdict) string
}

// Orchestrator is the scan pipeline. One instance serves all requests;
// per-fingerprint singleflight collapses concurrent duplicates.
type Orchestrator struct {
	logger    *slog.Logger
	cfg       *config.Scoring
	prober    ProbeRunner
	collector EvidenceCollector
	intel     IntelQuerier
	registry  []*analyzers.Analyzer
	cache     *Cache
	store     VerdictStore
	events    Broadcaster
	enricher  Enricher
	group     singleflight.Group
}

// NewOrchestrator wires the pipeline. store may be nil when verdict
// persistence is disabled.
func NewOrchestrator(logger *slog.Logger, cfg *config.Scoring, prober ProbeRunner, collector EvidenceCollector, querier IntelQuerier, cache *Cache, store VerdictStore) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		prober:    prober,
		collector: collector,
		intel:     querier,
		registry:  analyzers.Registry(),
		cache:     cache,
		store:     store,
	}
}

// SetBroadcaster attaches the live event hub.
func (o *Orchestrator) SetBroadcaster(b Broadcaster) { o.events = b }

// SetEnricher attaches the optional analyst-note generator.
func (o *Orchestrator) SetEnricher(e Enricher) { o.enricher = e }

// Cache exposes the verdict cache for invalidation wiring.
func (o *Orchestrator) Cache() *Cache { return o.cache }

// Scan produces a verdict for the request. Malformed input is the only
// error; every downstream failure degrades into diagnostics and skipped
// categories instead.
func (o *Orchestrator) Scan(ctx context.Context, req Request) (*Verdict, error) {
	target, err := canonical.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	if !req.Options.DeepScan {
		if cached, ok := o.cache.Get(ctx, target.Fingerprint); ok {
			metrics.VerdictCacheHits.Inc()
			hit := *cached
			hit.CacheHit = true
			return &hit, nil
		}
	}
	metrics.VerdictCacheMisses.Inc()

	// The winning caller's context drives the scan; waiters that give up
	// early still leave the scan running to completion for the others.
	v, err, _ := o.group.Do(target.Fingerprint, func() (any, error) {
		return o.runScan(ctx, req, target), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Verdict), nil
}

func (o *Orchestrator) runScan(ctx context.Context, req Request, target *canonical.URL) *Verdict {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Orchestrator.ScanDeadline())
	defer cancel()

	pr := o.prober.Probe(ctx, target)
	ev := pr.Evidence
	if ev == nil {
		ev = &collect.Evidence{}
	}

	cctx, ccancel := context.WithTimeout(ctx, o.cfg.Orchestrator.CollectorDeadline())
	ev = o.collector.Collect(cctx, target, ev)
	ccancel()

	actx := &analyzers.Context{
		Target:       target,
		Reachability: pr.State,
		Evidence:     ev,
		Now:          time.Now().UTC(),
	}

	var (
		wg sync.WaitGroup
		ti *intel.Result
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ti = o.intel.Query(ctx, target, ev.ResolvedIP, req.Options.DeepScan)
	}()

	results := make([]*analyzers.Result, len(o.registry))
	for i, a := range o.registry {
		wg.Add(1)
		go func(i int, a *analyzers.Analyzer) {
			defer wg.Done()
			results[i] = o.runAnalyzer(ctx, a, actx)
		}(i, a)
	}
	wg.Wait()

	total := int(ti.Score)
	maxScore := o.cfg.Orchestrator.TIMaxWeight
	for _, r := range results {
		total += r.Score
		maxScore += r.MaxWeight
	}
	fraction := 0.0
	if maxScore > 0 {
		fraction = float64(total) / float64(maxScore)
	}

	v := &Verdict{
		Request:      req,
		Canonical:    target,
		Reachability: pr.State,
		TotalScore:   total,
		MaxScore:     maxScore,
		RiskLevel:    o.cfg.Orchestrator.RiskBands.Level(fraction),
		Categories:   results,
		ThreatIntel:  ti,
		Diagnostics:  ev.Diagnostics,
		GeneratedAt:  time.Now().UTC(),
	}

	if o.enricher != nil && req.Options.Explain {
		v.AnalystNote = o.enricher.Note(ctx, v)
	}

	o.cache.Set(ctx, target.Fingerprint, v)
	o.persist(ctx, v)

	metrics.ScansTotal.WithLabelValues(v.RiskLevel).Inc()
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	o.logger.Info("scan complete",
		"fingerprint", target.Fingerprint,
		"host", target.Host,
		"state", pr.State,
		"risk", v.RiskLevel,
		"score", v.TotalScore,
		"duration_ms", time.Since(start).Milliseconds())

	if o.events != nil {
		o.events.Broadcast("scan.completed", v.Summarize())
	}
	return v
}

// runAnalyzer executes one category under its configured budget. Analyzer
// rule passes are CPU-bound and cannot be interrupted; an over-budget run
// is abandoned and its category finalized as deadline_exceeded.
func (o *Orchestrator) runAnalyzer(ctx context.Context, a *analyzers.Analyzer, actx *analyzers.Context) *analyzers.Result {
	cfg := o.cfg.Analyzers[a.ID]
	if !a.ShouldRun(actx.Reachability) {
		metrics.AnalyzerSkipped.WithLabelValues(a.ID, analyzers.SkipNotInPipeline).Inc()
		return a.Analyze(actx, cfg)
	}
	if ctx.Err() != nil {
		metrics.AnalyzerSkipped.WithLabelValues(a.ID, analyzers.SkipDeadlineExceeded).Inc()
		return a.Skipped(cfg, analyzers.SkipDeadlineExceeded)
	}
	start := time.Now()

	done := make(chan *analyzers.Result, 1)
	go func() { done <- a.Analyze(actx, cfg) }()

	timer := time.NewTimer(cfg.Budget())
	defer timer.Stop()

	select {
	case r := <-done:
		metrics.AnalyzerDuration.WithLabelValues(a.ID).Observe(time.Since(start).Seconds())
		if r.Meta.Skipped {
			metrics.AnalyzerSkipped.WithLabelValues(a.ID, r.Meta.SkippedReason).Inc()
		}
		return r
	case <-timer.C:
	case <-ctx.Done():
	}
	metrics.AnalyzerSkipped.WithLabelValues(a.ID, analyzers.SkipDeadlineExceeded).Inc()
	return a.Skipped(cfg, analyzers.SkipDeadlineExceeded)
}

func (o *Orchestrator) persist(ctx context.Context, v *Verdict) {
	if o.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("scan: marshal verdict", "err", err)
		return
	}
	row := &db.VerdictRow{
		Fingerprint:       v.Canonical.Fingerprint,
		URL:               v.Canonical.String(),
		RegistrableDomain: v.Canonical.RegistrableDomain,
		Reachability:      string(v.Reachability),
		RiskLevel:         v.RiskLevel,
		TotalScore:        v.TotalScore,
		MaxScore:          v.MaxScore,
		Verdict:           data,
		MatchesHashes:     v.MatchHashes(),
		CreatedAt:         v.GeneratedAt,
	}
	if err := o.store.UpsertVerdict(ctx, row); err != nil {
		o.logger.Error("scan: persist verdict", "fingerprint", row.Fingerprint, "err", err)
	}
}
