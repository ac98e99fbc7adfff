package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/intel"
	"github.com/urlwarden/urlwarden-go/internal/scan"
	"github.com/urlwarden/urlwarden-go/internal/syncer"
)

// IntelHandler serves indicator lookups and the operator-only source and
// cache administration endpoints.
type IntelHandler struct {
	db         *db.DB
	syncer     *syncer.Engine
	intelCache *intel.Cache
	scanCache  *scan.Cache
	logger     *slog.Logger
}

func NewIntelHandler(database *db.DB, syncEngine *syncer.Engine,
	intelCache *intel.Cache, scanCache *scan.Cache, logger *slog.Logger) *IntelHandler {
	return &IntelHandler{
		db:         database,
		syncer:     syncEngine,
		intelCache: intelCache,
		scanCache:  scanCache,
		logger:     logger,
	}
}

// HandleLookup handles GET /api/v1/intel/lookup?type=X&value=Y: a raw
// indicator lookup against the active TI corpus, no scanning involved.
func (ih *IntelHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	indType := r.URL.Query().Get("type")
	value := r.URL.Query().Get("value")
	if indType == "" || value == "" {
		jsonError(w, "type and value are required", http.StatusBadRequest)
		return
	}

	cv, hash, err := canonical.Value(indType, value)
	if err != nil {
		jsonError(w, "invalid indicator value: "+err.Error(), http.StatusBadRequest)
		return
	}

	matches, err := ih.db.LookupIndicators(r.Context(), indType, hash)
	if err != nil {
		ih.logger.Error("indicator lookup failed", "type", indType, "error", err)
		jsonError(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"type":       indType,
		"value":      cv,
		"value_hash": hash,
		"matched":    len(matches) > 0,
		"matches":    matches,
	})
}

// HandleListSources handles GET /api/v1/intel/sources.
func (ih *IntelHandler) HandleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := ih.db.ListSources(r.Context())
	if err != nil {
		ih.logger.Error("source list failed", "error", err)
		jsonError(w, "failed to list sources", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// HandleSetSourceEnabled handles PATCH /api/v1/intel/sources/{id}.
func (ih *IntelHandler) HandleSetSourceEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := ih.sourceID(w, r)
	if !ok {
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		jsonError(w, "body must set enabled", http.StatusBadRequest)
		return
	}

	if err := ih.db.SetSourceEnabled(r.Context(), id, *body.Enabled); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			jsonError(w, "source not found", http.StatusNotFound)
			return
		}
		ih.logger.Error("source update failed", "source_id", id, "error", err)
		jsonError(w, "failed to update source", http.StatusInternalServerError)
		return
	}

	// Toggling a source changes the answer to every cached query, so both
	// cache populations are stale wholesale.
	ih.intelCache.Clear(r.Context())
	ih.scanCache.Clear(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *body.Enabled})
}

// HandleTriggerSync handles POST /api/v1/intel/sources/{id}/sync.
func (ih *IntelHandler) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	id, ok := ih.sourceID(w, r)
	if !ok {
		return
	}

	run, err := ih.syncer.RunSync(r.Context(), id, db.TriggerManual)
	switch {
	case errors.Is(err, db.ErrNotFound):
		jsonError(w, "source not found", http.StatusNotFound)
	case errors.Is(err, syncer.ErrSourceDisabled):
		jsonError(w, "source is disabled", http.StatusConflict)
	case errors.Is(err, syncer.ErrNotSyncable):
		jsonError(w, "query-api sources are not synced", http.StatusConflict)
	case errors.Is(err, syncer.ErrSyncInFlight):
		jsonError(w, "sync already in progress", http.StatusConflict)
	case err != nil:
		ih.logger.Error("manual sync failed to start", "source_id", id, "error", err)
		jsonError(w, "failed to start sync", http.StatusInternalServerError)
	default:
		respondJSON(w, http.StatusOK, run)
	}
}

// HandleSyncRuns handles GET /api/v1/intel/sources/{id}/runs?limit=N.
func (ih *IntelHandler) HandleSyncRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := ih.sourceID(w, r)
	if !ok {
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			jsonError(w, "limit must be 1-200", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := ih.db.RecentSyncRuns(r.Context(), id, limit)
	if err != nil {
		ih.logger.Error("sync run list failed", "source_id", id, "error", err)
		jsonError(w, "failed to list sync runs", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// HandleScheduleAll handles POST /api/v1/intel/schedule: kicks an immediate
// sync of every enabled auto-sync source.
func (ih *IntelHandler) HandleScheduleAll(w http.ResponseWriter, r *http.Request) {
	n, err := ih.syncer.KickAll(r.Context())
	if err != nil {
		ih.logger.Error("schedule all failed", "error", err)
		jsonError(w, "failed to schedule syncs", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"sources": n})
}

// HandleEvictIndicator handles
// DELETE /api/v1/intel/sources/{id}/indicators/{hash}. Eviction deactivates
// the indicator and invalidates every cached answer built on it, on every
// replica.
func (ih *IntelHandler) HandleEvictIndicator(w http.ResponseWriter, r *http.Request) {
	id, ok := ih.sourceID(w, r)
	if !ok {
		return
	}
	hash := chi.URLParam(r, "hash")
	if hash == "" {
		jsonError(w, "indicator hash required", http.StatusBadRequest)
		return
	}

	if err := ih.db.EvictIndicator(r.Context(), id, hash); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			jsonError(w, "indicator not found", http.StatusNotFound)
			return
		}
		ih.logger.Error("indicator evict failed", "source_id", id, "error", err)
		jsonError(w, "failed to evict indicator", http.StatusInternalServerError)
		return
	}

	ih.db.NotifyIndicatorChanges(r.Context(), []string{hash})
	respondJSON(w, http.StatusOK, map[string]any{"evicted": true, "value_hash": hash})
}

// HandleInvalidateVerdict handles DELETE /api/v1/scan/{fingerprint}/cache:
// drops the cached verdict so the next scan recomputes it.
func (ih *IntelHandler) HandleInvalidateVerdict(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		jsonError(w, "fingerprint required", http.StatusBadRequest)
		return
	}
	ih.scanCache.Evict(r.Context(), fingerprint)
	respondJSON(w, http.StatusOK, map[string]any{"evicted": true, "fingerprint": fingerprint})
}

func (ih *IntelHandler) sourceID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid source ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
