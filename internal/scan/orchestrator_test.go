package scan

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/analyzers"
	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/collect"
	"github.com/urlwarden/urlwarden-go/internal/config"
	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/intel"
	"github.com/urlwarden/urlwarden-go/internal/probe"
)

type fakeProber struct {
	calls int32
	block chan struct{}
	state probe.State
	ev    *collect.Evidence
}

func (f *fakeProber) Probe(ctx context.Context, target *canonical.URL) *probe.Result {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	ev := f.ev
	if ev == nil {
		ev = &collect.Evidence{}
	}
	return &probe.Result{State: f.state, Evidence: ev}
}

type fakeCollector struct{}

func (fakeCollector) Collect(ctx context.Context, target *canonical.URL, seed *collect.Evidence) *collect.Evidence {
	if seed == nil {
		seed = &collect.Evidence{}
	}
	return seed
}

type fakeIntel struct {
	calls  int32
	result *intel.Result
}

func (f *fakeIntel) Query(ctx context.Context, target *canonical.URL, resolvedIP string, bypassCache bool) *intel.Result {
	atomic.AddInt32(&f.calls, 1)
	if f.result != nil {
		return f.result
	}
	return &intel.Result{Verdict: intel.VerdictClean}
}

type fakeStore struct {
	mu   sync.Mutex
	rows []*db.VerdictRow
}

func (f *fakeStore) UpsertVerdict(ctx context.Context, v *db.VerdictRow) error {
	f.mu.Lock()
	f.rows = append(f.rows, v)
	f.mu.Unlock()
	return nil
}

func testOrchestrator(t *testing.T, prober ProbeRunner, querier IntelQuerier, store VerdictStore) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := config.LoadScoring("")
	if err != nil {
		t.Fatalf("LoadScoring: %v", err)
	}
	cache := NewCache(logger, nil, time.Minute)
	return NewOrchestrator(logger, cfg, prober, fakeCollector{}, querier, cache, store)
}

func TestScanRejectsMalformedURL(t *testing.T) {
	o := testOrchestrator(t, &fakeProber{state: probe.Offline}, &fakeIntel{}, nil)
	if _, err := o.Scan(context.Background(), Request{URL: "ftp://example.com"}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := o.Scan(context.Background(), Request{URL: "   "}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestScanAggregation(t *testing.T) {
	ti := &intel.Result{
		Matches: []intel.Match{{
			Strategy:   intel.StrategyDomain,
			ValueHash:  "abc123",
			SourceName: "urlhaus",
			Confidence: 90,
			Score:      30,
		}},
		Score:   30,
		Verdict: intel.VerdictSuspicious,
	}
	store := &fakeStore{}
	o := testOrchestrator(t, &fakeProber{state: probe.Offline}, &fakeIntel{result: ti}, store)

	v, err := o.Scan(context.Background(), Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(v.Categories) != len(analyzers.Registry()) {
		t.Fatalf("got %d categories, want %d", len(v.Categories), len(analyzers.Registry()))
	}

	sum := int(ti.Score)
	wantMax := o.cfg.Orchestrator.TIMaxWeight
	for _, c := range v.Categories {
		sum += c.Score
		wantMax += c.MaxWeight
		if c.Score > c.MaxWeight {
			t.Errorf("%s: score %d exceeds max %d", c.CategoryID, c.Score, c.MaxWeight)
		}
	}
	if v.TotalScore != sum {
		t.Errorf("TotalScore = %d, want category sum %d", v.TotalScore, sum)
	}
	if v.MaxScore != wantMax {
		t.Errorf("MaxScore = %d, want %d", v.MaxScore, wantMax)
	}
	if v.RiskLevel == "" {
		t.Error("RiskLevel empty")
	}

	if len(store.rows) != 1 {
		t.Fatalf("persisted %d rows, want 1", len(store.rows))
	}
	row := store.rows[0]
	if row.Fingerprint != v.Canonical.Fingerprint || row.RiskLevel != v.RiskLevel {
		t.Errorf("persisted row mismatch: %+v", row)
	}
	if len(row.MatchesHashes) != 1 || row.MatchesHashes[0] != "abc123" {
		t.Errorf("MatchesHashes = %v, want [abc123]", row.MatchesHashes)
	}
}

func TestScanOfflineDenominatorCountsPipelineOnly(t *testing.T) {
	ti := &intel.Result{Score: 30, Verdict: intel.VerdictSuspicious}
	o := testOrchestrator(t, &fakeProber{state: probe.Offline}, &fakeIntel{result: ti}, nil)

	v, err := o.Scan(context.Background(), Request{URL: "https://unreachable.example.net"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// An offline target is judged only against the categories that can run
	// without a live page, so the denominator shrinks with the pipeline.
	wantMax := o.cfg.Orchestrator.TIMaxWeight
	for _, a := range analyzers.Registry() {
		if a.ShouldRun(probe.Offline) {
			wantMax += o.cfg.Analyzers[a.ID].MaxWeight
		}
	}
	if v.MaxScore >= 485 {
		t.Fatalf("MaxScore = %d, offline scan must not use the full-pipeline denominator", v.MaxScore)
	}
	if v.MaxScore != wantMax {
		t.Fatalf("MaxScore = %d, want pipeline-only %d", v.MaxScore, wantMax)
	}
	for _, c := range v.Categories {
		if c.Meta.SkippedReason == analyzers.SkipNotInPipeline && c.MaxWeight != 0 {
			t.Errorf("%s: category outside the pipeline carries weight %d", c.CategoryID, c.MaxWeight)
		}
	}
}

func TestScanCacheHit(t *testing.T) {
	prober := &fakeProber{state: probe.Offline}
	querier := &fakeIntel{}
	o := testOrchestrator(t, prober, querier, nil)

	first, err := o.Scan(context.Background(), Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	if first.CacheHit {
		t.Fatal("first scan must not be a cache hit")
	}

	second, err := o.Scan(context.Background(), Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("second scan should hit the cache")
	}
	if got := atomic.LoadInt32(&prober.calls); got != 1 {
		t.Fatalf("prober ran %d times, want 1", got)
	}
}

func TestScanDeepScanBypassesCache(t *testing.T) {
	prober := &fakeProber{state: probe.Offline}
	o := testOrchestrator(t, prober, &fakeIntel{}, nil)

	if _, err := o.Scan(context.Background(), Request{URL: "https://example.com"}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	v, err := o.Scan(context.Background(), Request{URL: "https://example.com", Options: Options{DeepScan: true}})
	if err != nil {
		t.Fatalf("deep Scan: %v", err)
	}
	if v.CacheHit {
		t.Fatal("deep scan must bypass the cache")
	}
	if got := atomic.LoadInt32(&prober.calls); got != 2 {
		t.Fatalf("prober ran %d times, want 2", got)
	}
}

func TestScanSingleflight(t *testing.T) {
	prober := &fakeProber{state: probe.Offline, block: make(chan struct{})}
	o := testOrchestrator(t, prober, &fakeIntel{}, nil)

	const callers = 8
	var wg sync.WaitGroup
	verdicts := make([]*Verdict, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := o.Scan(context.Background(), Request{URL: "https://example.com/a"})
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			verdicts[i] = v
		}(i)
	}

	// Let every caller reach the singleflight barrier, then release.
	time.Sleep(50 * time.Millisecond)
	close(prober.block)
	wg.Wait()

	if got := atomic.LoadInt32(&prober.calls); got != 1 {
		t.Fatalf("prober ran %d times, want 1 shared run", got)
	}
	for i := 1; i < callers; i++ {
		if verdicts[i] == nil || verdicts[0] == nil {
			t.Fatal("missing verdict")
		}
		if verdicts[i].Canonical.Fingerprint != verdicts[0].Canonical.Fingerprint {
			t.Fatal("callers received different fingerprints")
		}
	}
}

func TestScanExpiredDeadlineSkipsCategories(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ti := &intel.Result{Score: 10, Verdict: intel.VerdictUnknown}
	o := testOrchestrator(t, &fakeProber{state: probe.Online}, &fakeIntel{result: ti}, nil)

	v, err := o.Scan(ctx, Request{URL: "https://example.com/x"})
	if err != nil {
		t.Fatalf("Scan must degrade, not fail: %v", err)
	}
	for _, c := range v.Categories {
		if !c.Meta.Skipped || c.Meta.SkippedReason != analyzers.SkipDeadlineExceeded {
			t.Fatalf("%s: meta = %+v, want deadline_exceeded skip", c.CategoryID, c.Meta)
		}
	}
	if v.TotalScore != int(ti.Score) {
		t.Fatalf("TotalScore = %d, want TI-only %d", v.TotalScore, ti.Score)
	}
}
