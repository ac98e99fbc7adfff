// Package scan runs the full pipeline for one URL: canonicalize, consult
// the verdict cache, probe reachability, collect evidence, fan out to the
// threat-intel engine and the category analyzers, and fold everything into
// one ScanVerdict. Concurrent requests for the same fingerprint share a
// single in-flight scan.
package scan

import (
	"time"

	"github.com/urlwarden/urlwarden-go/internal/analyzers"
	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/intel"
	"github.com/urlwarden/urlwarden-go/internal/probe"
)

// Request priorities. Priority is carried through to the verdict for
// callers that queue scans; the engine itself scans inline.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Options tune a single scan.
type Options struct {
	// DeepScan bypasses the verdict and TI caches.
	DeepScan bool `json:"deep_scan,omitempty"`
	// Explain requests a plain-language analyst note on the verdict. The
	// note never influences the score.
	Explain  bool   `json:"explain,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Request is the caller's scan input.
type Request struct {
	URL     string  `json:"url"`
	Options Options `json:"options"`
}

// Verdict is the complete outcome of one scan. With identical evidence and
// configuration the verdict is deterministic apart from GeneratedAt.
type Verdict struct {
	Request      Request             `json:"request"`
	Canonical    *canonical.URL      `json:"canonical"`
	Reachability probe.State         `json:"reachability"`
	TotalScore   int                 `json:"total_score"`
	MaxScore     int                 `json:"max_score"`
	RiskLevel    string              `json:"risk_level"`
	Categories   []*analyzers.Result `json:"categories"`
	ThreatIntel  *intel.Result       `json:"external_threat_intel"`
	AnalystNote  string              `json:"analyst_note,omitempty"`
	Diagnostics  []string            `json:"diagnostics,omitempty"`
	GeneratedAt  time.Time           `json:"generated_at"`
	CacheHit     bool                `json:"cache_hit"`
}

// MatchHashes returns the indicator hashes behind the verdict's TI matches;
// the cache indexes verdicts by them for selective invalidation.
func (v *Verdict) MatchHashes() []string {
	if v == nil {
		return nil
	}
	return v.ThreatIntel.MatchHashes()
}

// Summary is the compact event payload broadcast when a scan completes.
type Summary struct {
	Fingerprint  string      `json:"fingerprint"`
	URL          string      `json:"url"`
	Reachability probe.State `json:"reachability"`
	RiskLevel    string      `json:"risk_level"`
	TotalScore   int         `json:"total_score"`
	MaxScore     int         `json:"max_score"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

// Summarize builds the event payload for a verdict.
func (v *Verdict) Summarize() Summary {
	return Summary{
		Fingerprint:  v.Canonical.Fingerprint,
		URL:          v.Canonical.String(),
		Reachability: v.Reachability,
		RiskLevel:    v.RiskLevel,
		TotalScore:   v.TotalScore,
		MaxScore:     v.MaxScore,
		GeneratedAt:  v.GeneratedAt,
	}
}
