package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/urlwarden/urlwarden-go/internal/config"
	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/metrics"
)

var (
	ErrSourceDisabled = errors.New("source disabled")
	ErrNotSyncable    = errors.New("query-api sources are consulted at scan time, not synced")
	ErrSyncInFlight   = errors.New("sync already in progress for source")
)

// Store is the slice of the datastore the sync engine writes through.
type Store interface {
	GetSource(ctx context.Context, id int) (*db.ThreatIntelSource, error)
	ListAutoSyncSources(ctx context.Context) ([]db.ThreatIntelSource, error)
	TouchSourceSync(ctx context.Context, id int, lastError string) error
	CreateSyncRun(ctx context.Context, sourceID int, trigger string) (*db.SyncRun, error)
	FinalizeSyncRun(ctx context.Context, run *db.SyncRun) error
	UpsertIndicatorBatch(ctx context.Context, sourceID int, batch []db.ParsedIndicator) (added, updated int, changed []string, err error)
	ExpireSourceIndicators(ctx context.Context, sourceID int, now time.Time) ([]string, error)
	NotifyIndicatorChanges(ctx context.Context, hashes []string)
}

// FeedFetcher downloads one source's feed body.
type FeedFetcher interface {
	Fetch(ctx context.Context, src *db.ThreatIntelSource) ([]byte, error)
}

// Broadcaster pushes sync lifecycle events to live subscribers.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

// Engine runs feed syncs: at most cfg.MaxConcurrent at a time, at most one
// in-flight run per source, each under the run deadline. Changed indicator
// hashes are fanned out through pg NOTIFY so every replica invalidates its
// TI and verdict caches.
type Engine struct {
	logger  *slog.Logger
	cfg     config.Sync
	store   Store
	fetcher FeedFetcher
	github  FeedFetcher
	events  Broadcaster

	sem chan struct{}

	mu       sync.Mutex
	inflight map[int]bool
	limiters map[int]*rate.Limiter
}

// NewEngine wires the sync engine. github may be nil when no github_file
// sources are configured.
func NewEngine(logger *slog.Logger, cfg config.Sync, store Store, fetcher, github FeedFetcher) *Engine {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		github:   github,
		sem:      make(chan struct{}, maxConcurrent),
		inflight: make(map[int]bool),
		limiters: make(map[int]*rate.Limiter),
	}
}

// SetBroadcaster attaches the live event hub.
func (e *Engine) SetBroadcaster(b Broadcaster) { e.events = b }

// RunSync executes one sync for a source. Feed-level failures finalize the
// run as failed and are reported in the returned SyncRun, not as an error;
// the error return covers runs that never started.
func (e *Engine) RunSync(ctx context.Context, sourceID int, trigger string) (*db.SyncRun, error) {
	src, err := e.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !src.Enabled {
		return nil, ErrSourceDisabled
	}
	if src.Type == db.SourceQueryAPI {
		return nil, ErrNotSyncable
	}

	if !e.claim(sourceID) {
		return nil, ErrSyncInFlight
	}
	defer e.release(sourceID)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	run, err := e.store.CreateSyncRun(ctx, sourceID, trigger)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunDeadline())
	defer cancel()

	syncErr := e.sync(runCtx, src, run)

	now := time.Now().UTC()
	run.CompletedAt = &now
	run.DurationMS = now.Sub(run.StartedAt).Milliseconds()
	switch {
	case syncErr == nil:
		run.Status = db.SyncSuccess
	case errors.Is(syncErr, context.DeadlineExceeded):
		run.Status = db.SyncFailed
		run.ErrorMessage = "timeout"
	default:
		run.Status = db.SyncFailed
		run.ErrorMessage = syncErr.Error()
	}
	metrics.SyncRunsTotal.WithLabelValues(src.Name, run.Status).Inc()

	// Finalization must not die with the run deadline.
	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer finCancel()
	if err := e.store.FinalizeSyncRun(finCtx, run); err != nil {
		e.logger.Error("sync: finalize run", "source", src.Name, "run", run.ID, "err", err)
	}
	if err := e.store.TouchSourceSync(finCtx, src.ID, run.ErrorMessage); err != nil {
		e.logger.Error("sync: touch source", "source", src.Name, "err", err)
	}

	e.logger.Info("sync finished",
		"source", src.Name,
		"trigger", trigger,
		"status", run.Status,
		"added", run.IndicatorsAdded,
		"updated", run.IndicatorsUpdated,
		"removed", run.IndicatorsRemoved,
		"duration_ms", run.DurationMS,
		"error", run.ErrorMessage)

	if e.events != nil {
		e.events.Broadcast("sync.completed", run)
	}
	return run, nil
}

func (e *Engine) sync(ctx context.Context, src *db.ThreatIntelSource, run *db.SyncRun) error {
	if err := e.limiter(src).Wait(ctx); err != nil {
		return err
	}

	fetcher := e.fetcher
	if src.Type == db.SourceGitHubFile {
		if e.github == nil {
			return fmt.Errorf("github fetcher not configured")
		}
		fetcher = e.github
	}

	data, err := fetcher.Fetch(ctx, src)
	if errors.Is(err, errUnchanged) {
		e.logger.Info("sync: feed unchanged, skipping", "source", src.Name)
		return nil
	}
	if err != nil {
		return err
	}

	batchSize := e.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	var (
		batch   = make([]db.ParsedIndicator, 0, batchSize)
		changed []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		added, updated, hashes, err := e.store.UpsertIndicatorBatch(ctx, src.ID, batch)
		if err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
		run.IndicatorsAdded += added
		run.IndicatorsUpdated += updated
		changed = append(changed, hashes...)
		metrics.SyncIndicatorsTotal.WithLabelValues(src.Name, "added").Add(float64(added))
		metrics.SyncIndicatorsTotal.WithLabelValues(src.Name, "updated").Add(float64(updated))
		batch = batch[:0]
		return nil
	}

	skipped, err := parseFeed(src, data, func(ind db.ParsedIndicator) error {
		batch = append(batch, ind)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	if skipped > 0 {
		e.logger.Warn("sync: entries skipped during parse", "source", src.Name, "skipped", skipped)
	}

	expired, err := e.store.ExpireSourceIndicators(ctx, src.ID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("expire indicators: %w", err)
	}
	run.IndicatorsRemoved = len(expired)
	changed = append(changed, expired...)

	if len(changed) > 0 {
		e.store.NotifyIndicatorChanges(ctx, changed)
	}
	return nil
}

func (e *Engine) claim(sourceID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[sourceID] {
		return false
	}
	e.inflight[sourceID] = true
	return true
}

func (e *Engine) release(sourceID int) {
	e.mu.Lock()
	delete(e.inflight, sourceID)
	e.mu.Unlock()
}

func (e *Engine) limiter(src *db.ThreatIntelSource) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.limiters[src.ID]; ok {
		return l
	}
	perMinute := src.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	l := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	e.limiters[src.ID] = l
	return l
}
