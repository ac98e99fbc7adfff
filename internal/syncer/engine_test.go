package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/urlwarden/urlwarden-go/internal/config"
	"github.com/urlwarden/urlwarden-go/internal/db"
)

type memStore struct {
	mu       sync.Mutex
	sources  map[int]*db.ThreatIntelSource
	existing map[string]bool
	runs     []*db.SyncRun
	batches  []int
	notified []string
	expired  []string
}

func newMemStore(sources ...*db.ThreatIntelSource) *memStore {
	m := &memStore{
		sources:  map[int]*db.ThreatIntelSource{},
		existing: map[string]bool{},
	}
	for _, s := range sources {
		m.sources[s.ID] = s
	}
	return m
}

func (m *memStore) GetSource(ctx context.Context, id int) (*db.ThreatIntelSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil, context.Canceled
	}
	cp := *src
	return &cp, nil
}

func (m *memStore) ListAutoSyncSources(ctx context.Context) ([]db.ThreatIntelSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.ThreatIntelSource
	for _, s := range m.sources {
		if s.AutoSync() {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) TouchSourceSync(ctx context.Context, id int, lastError string) error { return nil }

func (m *memStore) CreateSyncRun(ctx context.Context, sourceID int, trigger string) (*db.SyncRun, error) {
	run := &db.SyncRun{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Trigger:   trigger,
		Status:    db.SyncInProgress,
		StartedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.runs = append(m.runs, run)
	m.mu.Unlock()
	return run, nil
}

func (m *memStore) FinalizeSyncRun(ctx context.Context, run *db.SyncRun) error { return nil }

func (m *memStore) UpsertIndicatorBatch(ctx context.Context, sourceID int, batch []db.ParsedIndicator) (int, int, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, len(batch))
	added, updated := 0, 0
	var changed []string
	for _, ind := range batch {
		key := ind.Type + ":" + ind.ValueHash
		if m.existing[key] {
			updated++
		} else {
			m.existing[key] = true
			added++
			changed = append(changed, ind.ValueHash)
		}
	}
	return added, updated, changed, nil
}

func (m *memStore) ExpireSourceIndicators(ctx context.Context, sourceID int, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired, nil
}

func (m *memStore) NotifyIndicatorChanges(ctx context.Context, hashes []string) {
	m.mu.Lock()
	m.notified = append(m.notified, hashes...)
	m.mu.Unlock()
}

func (m *memStore) CountIndicatorsByType(ctx context.Context) ([]db.TypeCount, error) {
	return nil, nil
}

func testEngine(store Store, fetcher FeedFetcher) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Sync{MaxConcurrent: 5, RetryAttempts: 1, HTTPTimeoutMS: 2000, BatchSize: 2}
	return NewEngine(logger, cfg, store, fetcher, nil)
}

func TestRunSyncWritesAndNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "# comment\n198.51.100.1\n198.51.100.2\n198.51.100.3\n")
	}))
	defer srv.Close()

	src := &db.ThreatIntelSource{
		ID: 1, Name: "test-feed", Type: db.SourceFeedText, URL: srv.URL,
		Enabled: true, IndicatorType: "ip", RateLimitPerMinute: 600,
		ParserHint: `{"comment":"#","threat":"scanner"}`,
	}
	store := newMemStore(src)
	e := testEngine(store, testFetcher(config.Sync{RetryAttempts: 1, HTTPTimeoutMS: 2000}))

	run, err := e.RunSync(context.Background(), 1, db.TriggerManual)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if run.Status != db.SyncSuccess {
		t.Fatalf("status = %s (%s), want success", run.Status, run.ErrorMessage)
	}
	if run.IndicatorsAdded != 3 || run.IndicatorsUpdated != 0 {
		t.Fatalf("added/updated = %d/%d, want 3/0", run.IndicatorsAdded, run.IndicatorsUpdated)
	}
	if len(store.notified) != 3 {
		t.Fatalf("notified %d hashes, want 3", len(store.notified))
	}

	// Second run over the same feed updates instead of adding.
	run2, err := e.RunSync(context.Background(), 1, db.TriggerManual)
	if err != nil {
		t.Fatalf("second RunSync: %v", err)
	}
	if run2.IndicatorsAdded != 0 || run2.IndicatorsUpdated != 3 {
		t.Fatalf("second run added/updated = %d/%d, want 0/3", run2.IndicatorsAdded, run2.IndicatorsUpdated)
	}
}

func TestRunSyncRecordsFeedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	src := &db.ThreatIntelSource{
		ID: 1, Name: "denied", Type: db.SourceFeedText, URL: srv.URL,
		Enabled: true, IndicatorType: "ip", RateLimitPerMinute: 600,
	}
	store := newMemStore(src)
	e := testEngine(store, testFetcher(config.Sync{RetryAttempts: 1, HTTPTimeoutMS: 2000}))

	run, err := e.RunSync(context.Background(), 1, db.TriggerScheduled)
	if err != nil {
		t.Fatalf("RunSync should report the failure in the run, not the error: %v", err)
	}
	if run.Status != db.SyncFailed || run.ErrorMessage == "" {
		t.Fatalf("run = %+v, want failed with message", run)
	}
}

func TestRunSyncRejectsQueryAPISources(t *testing.T) {
	src := &db.ThreatIntelSource{ID: 1, Name: "vt", Type: db.SourceQueryAPI, Enabled: true}
	e := testEngine(newMemStore(src), nil)
	if _, err := e.RunSync(context.Background(), 1, db.TriggerManual); err != ErrNotSyncable {
		t.Fatalf("err = %v, want ErrNotSyncable", err)
	}
}

func TestRunSyncRejectsDisabledSources(t *testing.T) {
	src := &db.ThreatIntelSource{ID: 1, Name: "off", Type: db.SourceFeedText, Enabled: false}
	e := testEngine(newMemStore(src), nil)
	if _, err := e.RunSync(context.Background(), 1, db.TriggerManual); err != ErrSourceDisabled {
		t.Fatalf("err = %v, want ErrSourceDisabled", err)
	}
}

type feedFetcherFunc func(ctx context.Context, src *db.ThreatIntelSource) ([]byte, error)

func (f feedFetcherFunc) Fetch(ctx context.Context, src *db.ThreatIntelSource) ([]byte, error) {
	return f(ctx, src)
}

func TestRunSyncFlushesFullBatches(t *testing.T) {
	const total = 1001
	var feed strings.Builder
	for i := 0; i < total; i++ {
		fmt.Fprintf(&feed, "10.%d.%d.1\n", i/250, i%250)
	}

	src := &db.ThreatIntelSource{
		ID: 1, Name: "big-feed", Type: db.SourceFeedText, URL: "http://unused.example",
		Enabled: true, IndicatorType: "ip", RateLimitPerMinute: 600,
	}
	store := newMemStore(src)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// BatchSize left zero so the engine applies its default of 1000.
	cfg := config.Sync{MaxConcurrent: 5, RetryAttempts: 1, HTTPTimeoutMS: 2000}
	e := NewEngine(logger, cfg, store, feedFetcherFunc(func(ctx context.Context, s *db.ThreatIntelSource) ([]byte, error) {
		return []byte(feed.String()), nil
	}), nil)

	run, err := e.RunSync(context.Background(), 1, db.TriggerManual)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if run.Status != db.SyncSuccess {
		t.Fatalf("status = %s (%s), want success", run.Status, run.ErrorMessage)
	}
	if run.IndicatorsAdded != total || run.IndicatorsUpdated != 0 {
		t.Fatalf("added/updated = %d/%d, want %d/0", run.IndicatorsAdded, run.IndicatorsUpdated, total)
	}
	if len(store.batches) != 2 || store.batches[0] != 1000 || store.batches[1] != 1 {
		t.Fatalf("upsert batch sizes = %v, want [1000 1]", store.batches)
	}
	if len(store.notified) != total {
		t.Fatalf("notified %d hashes, want %d", len(store.notified), total)
	}
}

type blockingFetcher struct {
	release chan struct{}
}

func (b *blockingFetcher) Fetch(ctx context.Context, src *db.ThreatIntelSource) ([]byte, error) {
	<-b.release
	return []byte("198.51.100.1\n"), nil
}

func TestRunSyncSingleInFlightPerSource(t *testing.T) {
	src := &db.ThreatIntelSource{
		ID: 1, Name: "slow", Type: db.SourceFeedText, URL: "http://unused.example",
		Enabled: true, IndicatorType: "ip", RateLimitPerMinute: 600,
	}
	store := newMemStore(src)
	fetcher := &blockingFetcher{release: make(chan struct{})}
	e := testEngine(store, fetcher)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.RunSync(context.Background(), 1, db.TriggerManual)
		errCh <- err
	}()

	// Wait for the first run to claim the source.
	deadline := time.After(time.Second)
	for {
		e.mu.Lock()
		claimed := e.inflight[1]
		e.mu.Unlock()
		if claimed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first run never claimed the source")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := e.RunSync(context.Background(), 1, db.TriggerManual); err != ErrSyncInFlight {
		t.Fatalf("concurrent run err = %v, want ErrSyncInFlight", err)
	}

	close(fetcher.release)
	if err := <-errCh; err != nil {
		t.Fatalf("first run: %v", err)
	}
}
