package syncer

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/server"
)

// ScheduleAll enrolls every enabled auto-sync source in its own background
// loop running at the source's frequency with up to 10% jitter. Returns the
// number of sources enrolled.
func (e *Engine) ScheduleAll(ctx context.Context) (int, error) {
	sources, err := e.store.ListAutoSyncSources(ctx)
	if err != nil {
		return 0, err
	}
	for _, src := range sources {
		src := src
		go server.RunWithRecovery(ctx, e.logger, "sync:"+src.Name, func(ctx context.Context) {
			e.scheduleSource(ctx, src)
		})
	}
	e.logger.Info("sync scheduler started", "sources", len(sources))
	return len(sources), nil
}

// KickAll starts an immediate sync of every enabled auto-sync source,
// without waiting for their schedules. Sources already in flight are left
// alone. Returns the number of sources kicked.
func (e *Engine) KickAll(ctx context.Context) (int, error) {
	sources, err := e.store.ListAutoSyncSources(ctx)
	if err != nil {
		return 0, err
	}
	for _, src := range sources {
		src := src
		go func() {
			if _, err := e.RunSync(context.WithoutCancel(ctx), src.ID, db.TriggerManual); err != nil &&
				!errors.Is(err, ErrSyncInFlight) {
				e.logger.Warn("kicked sync failed to start", "source", src.Name, "err", err)
			}
		}()
	}
	return len(sources), nil
}

// scheduleSource loops one source forever. The first run is delayed by the
// jitter alone so a fleet restart does not stampede the feed hosts.
func (e *Engine) scheduleSource(ctx context.Context, src db.ThreatIntelSource) {
	interval := src.SyncFrequency()

	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter(interval)):
	}

	for {
		if _, err := e.RunSync(ctx, src.ID, db.TriggerScheduled); err != nil &&
			!errors.Is(err, ErrSyncInFlight) && !errors.Is(err, context.Canceled) {
			e.logger.Error("scheduled sync failed to start", "source", src.Name, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval + jitter(interval)):
		}
	}
}

// jitter returns a random duration in [0, 10%) of the interval.
func jitter(interval time.Duration) time.Duration {
	n := int64(interval) / 10
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(n))
}
