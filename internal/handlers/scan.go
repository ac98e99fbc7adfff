package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/scan"
)

// ScanHandler serves scan submission and verdict retrieval.
type ScanHandler struct {
	orch   *scan.Orchestrator
	db     *db.DB
	logger *slog.Logger
}

func NewScanHandler(orch *scan.Orchestrator, database *db.DB, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{orch: orch, db: database, logger: logger}
}

// HandleScan handles POST /api/v1/scan. The scan runs inline; the response
// is the full verdict.
func (sh *ScanHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req scan.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		jsonError(w, "url is required", http.StatusBadRequest)
		return
	}
	switch req.Options.Priority {
	case "", scan.PriorityLow, scan.PriorityNormal, scan.PriorityHigh:
	default:
		jsonError(w, "invalid priority", http.StatusBadRequest)
		return
	}

	verdict, err := sh.orch.Scan(r.Context(), req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	respondJSON(w, http.StatusOK, verdict)
}

// HandleGetVerdict handles GET /api/v1/scan/{fingerprint}, returning the
// stored verdict document.
func (sh *ScanHandler) HandleGetVerdict(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	row, err := sh.db.GetVerdict(r.Context(), fingerprint)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			jsonError(w, "verdict not found", http.StatusNotFound)
			return
		}
		sh.logger.Error("verdict fetch failed", "fingerprint", fingerprint, "error", err)
		jsonError(w, "failed to fetch verdict", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(row.Verdict)
}

// HandleRecentVerdicts handles GET /api/v1/scans/recent?limit=N.
func (sh *ScanHandler) HandleRecentVerdicts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			jsonError(w, "limit must be 1-200", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := sh.db.RecentVerdicts(r.Context(), limit)
	if err != nil {
		sh.logger.Error("recent verdicts fetch failed", "error", err)
		jsonError(w, "failed to fetch verdicts", http.StatusInternalServerError)
		return
	}
	// The stored documents are elided from the listing.
	for i := range rows {
		rows[i].Verdict = nil
	}
	respondJSON(w, http.StatusOK, map[string]any{"scans": rows})
}
