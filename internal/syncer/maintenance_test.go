package syncer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/urlwarden/urlwarden-go/internal/db"
)

func TestKickStaleSkipsWithoutEngine(t *testing.T) {
	src := &db.ThreatIntelSource{
		ID: 1, Name: "stale", Type: db.SourceFeedText, URL: "http://unused.example",
		Enabled: true, IndicatorType: "ip", RateLimitPerMinute: 600,
	}
	store := newMemStore(src)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := NewMaintenance(logger, nil, store)
	m.kickStale(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.runs) != 0 {
		t.Fatalf("stale kick started %d runs with syncing disabled, want 0", len(store.runs))
	}
}
