package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/metrics"
)

// MaintenanceStore adds the read side the janitor jobs need.
type MaintenanceStore interface {
	Store
	CountIndicatorsByType(ctx context.Context) ([]db.TypeCount, error)
}

// Maintenance owns the recurring housekeeping jobs: expiry sweeps, stale
// source kicks, gauge refreshes and cache purges.
type Maintenance struct {
	logger   *slog.Logger
	engine   *Engine
	store    MaintenanceStore
	janitors []func()
	cron     *cron.Cron
}

// NewMaintenance builds the maintenance schedule. engine may be nil when
// scheduled syncing is disabled; the stale-source kick is then skipped.
// janitors are cache purge hooks (evidence cache, TI cache, verdict cache)
// run every five minutes.
func NewMaintenance(logger *slog.Logger, engine *Engine, store MaintenanceStore, janitors ...func()) *Maintenance {
	return &Maintenance{
		logger:   logger,
		engine:   engine,
		store:    store,
		janitors: janitors,
		cron:     cron.New(),
	}
}

// Start registers the jobs and starts the scheduler.
func (m *Maintenance) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc("@every 1h", func() { m.sweepExpired(ctx) }); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("@every 24h", func() { m.kickStale(ctx) }); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("@every 5m", func() { m.refresh(ctx) }); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

// sweepExpired deactivates indicators whose expiry passed, independent of
// the sources' own sync cycles.
func (m *Maintenance) sweepExpired(ctx context.Context) {
	sources, err := m.store.ListAutoSyncSources(ctx)
	if err != nil {
		m.logger.Error("maintenance: list sources", "err", err)
		return
	}
	now := time.Now().UTC()
	total := 0
	for _, src := range sources {
		expired, err := m.store.ExpireSourceIndicators(ctx, src.ID, now)
		if err != nil {
			m.logger.Error("maintenance: expire indicators", "source", src.Name, "err", err)
			continue
		}
		if len(expired) > 0 {
			m.store.NotifyIndicatorChanges(ctx, expired)
			total += len(expired)
		}
	}
	if total > 0 {
		m.logger.Info("maintenance: expiry sweep", "deactivated", total)
	}
}

// kickStale re-syncs sources whose last successful sync is older than twice
// their frequency; their scheduled loop may have been wedged on a feed.
func (m *Maintenance) kickStale(ctx context.Context) {
	if m.engine == nil {
		return
	}
	sources, err := m.store.ListAutoSyncSources(ctx)
	if err != nil {
		m.logger.Error("maintenance: list sources", "err", err)
		return
	}
	now := time.Now().UTC()
	for _, src := range sources {
		if src.LastSyncedAt != nil && now.Sub(*src.LastSyncedAt) < 2*src.SyncFrequency() {
			continue
		}
		src := src
		go func() {
			if _, err := m.engine.RunSync(ctx, src.ID, db.TriggerScheduled); err != nil {
				m.logger.Warn("maintenance: stale source kick", "source", src.Name, "err", err)
			}
		}()
	}
}

// refresh updates the indicator gauges and runs the cache janitors.
func (m *Maintenance) refresh(ctx context.Context) {
	counts, err := m.store.CountIndicatorsByType(ctx)
	if err != nil {
		m.logger.Error("maintenance: count indicators", "err", err)
	} else {
		for _, c := range counts {
			metrics.IndicatorsActive.WithLabelValues(c.Type).Set(float64(c.Count))
		}
	}
	for _, fn := range m.janitors {
		fn()
	}
}
