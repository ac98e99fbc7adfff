package handlers

import (
	"log/slog"
	"net/http"

	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/intel"
	"github.com/urlwarden/urlwarden-go/internal/scan"
)

// DashboardHandler serves aggregate operational stats.
type DashboardHandler struct {
	db         *db.DB
	intelCache *intel.Cache
	scanCache  *scan.Cache
	logger     *slog.Logger
}

func NewDashboardHandler(database *db.DB, intelCache *intel.Cache, scanCache *scan.Cache,
	logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{db: database, intelCache: intelCache, scanCache: scanCache, logger: logger}
}

// HandleStats handles GET /api/v1/stats: indicator corpus size by type,
// per-source sync health, scan volume by risk level, and cache occupancy.
func (dh *DashboardHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	indicators, err := dh.db.CountIndicatorsByType(ctx)
	if err != nil {
		dh.logger.Error("stats: indicator counts failed", "error", err)
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}
	sources, err := dh.db.SourceSyncStats(ctx)
	if err != nil {
		dh.logger.Error("stats: source stats failed", "error", err)
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}
	scans, err := dh.db.CountVerdictsByRisk(ctx)
	if err != nil {
		dh.logger.Error("stats: verdict counts failed", "error", err)
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"indicators_by_type": indicators,
		"sources":            sources,
		"scans_by_risk":      scans,
		"caches": map[string]int{
			"threat_intel": dh.intelCache.Len(),
			"verdicts":     dh.scanCache.Len(),
		},
	})
}
