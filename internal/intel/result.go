// Package intel answers "is this URL already known bad": it hashes the
// canonical URL, its registrable domain and its resolved IP, looks each up
// in the indicator store, optionally asks live query APIs, and aggregates
// the matches into a weighted score and verdict.
package intel

import "time"

// Verdict is the aggregate judgement of the threat-intel layer.
type Verdict string

const (
	VerdictClean      Verdict = "clean"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
	VerdictUnknown    Verdict = "unknown"
)

// Strategy names how an indicator was matched to the scan target.
type Strategy string

const (
	StrategyExact  Strategy = "exact"
	StrategyDomain Strategy = "domain"
	StrategyIP     Strategy = "ip"
)

// Match strength decays from exact URL to shared infrastructure.
var strategyMultiplier = map[Strategy]float64{
	StrategyExact:  1.0,
	StrategyDomain: 0.9,
	StrategyIP:     0.7,
}

// Match is one indicator hit, weighted by source and strategy.
type Match struct {
	Strategy      Strategy   `json:"strategy"`
	IndicatorType string     `json:"indicator_type"`
	ValueHash     string     `json:"value_hash"`
	ThreatType    string     `json:"threat_type,omitempty"`
	Severity      string     `json:"severity,omitempty"`
	Confidence    int        `json:"confidence"`
	SourceName    string     `json:"source_name"`
	Reliability   float64    `json:"reliability"`
	Score         float64    `json:"score"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

// Result is the outcome of one TI query. Score is capped at the engine's
// max weight; Confidence is the reliability-weighted mean over matches.
type Result struct {
	Matches    []Match `json:"matches"`
	Score      uint    `json:"score"`
	Verdict    Verdict `json:"verdict"`
	Confidence int     `json:"confidence"`
	CacheHit   bool    `json:"cache_hit"`
}

// MatchHashes returns the distinct value hashes behind the matches; the
// scan cache stores them for selective invalidation.
func (r *Result) MatchHashes() []string {
	if r == nil || len(r.Matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(r.Matches))
	var hashes []string
	for _, m := range r.Matches {
		if m.ValueHash == "" {
			continue
		}
		if _, dup := seen[m.ValueHash]; dup {
			continue
		}
		seen[m.ValueHash] = struct{}{}
		hashes = append(hashes, m.ValueHash)
	}
	return hashes
}
