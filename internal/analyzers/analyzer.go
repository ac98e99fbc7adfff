// Package analyzers holds the category analyzers: deterministic rule sets
// that each examine the shared scan context and contribute a bounded number
// of points to the total risk score. Analyzers never perform network I/O;
// everything they need is in the evidence bundle collected beforehand.
package analyzers

import (
	"fmt"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/collect"
	"github.com/urlwarden/urlwarden-go/internal/config"
	"github.com/urlwarden/urlwarden-go/internal/probe"
)

// Finding severities. Severity is advisory; only points move the score.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Skip reasons recorded in result metadata.
const (
	SkipNotInPipeline    = "not_in_pipeline"
	SkipMissingEvidence  = "missing_evidence"
	SkipDeadlineExceeded = "deadline_exceeded"
	SkipAnalyzerPanic    = "analyzer_panic"
)

// Finding is one triggered check.
type Finding struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Severity    string         `json:"severity"`
	Points      int            `json:"points"`
	CategoryID  string         `json:"category_id"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ResultMeta describes how the category run went.
type ResultMeta struct {
	ChecksRun     int    `json:"checks_run"`
	ChecksSkipped int    `json:"checks_skipped"`
	DurationMS    int64  `json:"duration_ms"`
	Skipped       bool   `json:"skipped"`
	SkippedReason string `json:"skipped_reason,omitempty"`
}

// Result is one category's contribution to the verdict.
// Score is always min(MaxWeight, sum of finding points).
type Result struct {
	CategoryID   string     `json:"category_id"`
	CategoryName string     `json:"category_name"`
	Score        int        `json:"score"`
	MaxWeight    int        `json:"max_weight"`
	Findings     []Finding  `json:"findings"`
	Meta         ResultMeta `json:"metadata"`
}

// Context is the read-only input shared by every analyzer in a scan.
type Context struct {
	Target       *canonical.URL
	Reachability probe.State
	Evidence     *collect.Evidence
	Now          time.Time
}

// BodyText returns the decoded page body, or "" when unavailable.
func (c *Context) BodyText() string {
	if c.Evidence == nil || c.Evidence.HTTP == nil {
		return ""
	}
	return c.Evidence.HTTP.BodyText()
}

// checker accumulates findings for one category run. Each check records
// whether it ran so the result metadata reflects partial failures.
type checker struct {
	cat     *Analyzer
	cfg     config.AnalyzerConfig
	result  *Result
	run     int
	skipped int
}

// flag records a triggered finding with configured points.
func (c *checker) flag(id, severity, title, description string, fallbackPoints int, meta map[string]any) {
	c.result.Findings = append(c.result.Findings, Finding{
		ID:          id,
		Title:       title,
		Severity:    severity,
		Points:      c.cfg.Points(id, fallbackPoints),
		CategoryID:  c.cat.ID,
		Description: description,
		Metadata:    meta,
	})
}

// pass records a check that ran without triggering.
func (c *checker) pass() { c.run++ }

// ran records n checks executed (triggered or not).
func (c *checker) ran(n int) { c.run += n }

// skip records a check that could not execute for lack of evidence.
func (c *checker) skip() { c.skipped++ }

// Analyzer is one category descriptor: identity, the reachability states it
// participates in, and the rule function. Analyzers are plain values; the
// registry enumerates them and the orchestrator schedules them.
type Analyzer struct {
	ID     string
	Name   string
	States map[probe.State]bool

	// NeedsBody analyzers are skipped with missing_evidence when the
	// HTTP snapshot is absent or not textual.
	NeedsBody bool

	run func(c *checker, ctx *Context)
}

// ShouldRun reports whether the analyzer participates in the pipeline
// selected for a reachability state.
func (a *Analyzer) ShouldRun(state probe.State) bool {
	return a.States[state]
}

// Analyze executes the category's checks against the context. Panics are
// confined to the category: the result carries a zero-point diagnostic
// finding and is marked partially skipped.
func (a *Analyzer) Analyze(ctx *Context, cfg config.AnalyzerConfig) *Result {
	start := time.Now()
	result := &Result{
		CategoryID:   a.ID,
		CategoryName: a.Name,
		MaxWeight:    cfg.MaxWeight,
		Findings:     []Finding{},
	}

	if !a.ShouldRun(ctx.Reachability) {
		// Categories outside the selected pipeline carry no weight: the
		// verdict denominator covers only the categories that could run
		// for this reachability state.
		result.MaxWeight = 0
		return a.finish(result, start, SkipNotInPipeline)
	}
	if a.NeedsBody && ctx.BodyText() == "" {
		return a.finish(result, start, SkipMissingEvidence)
	}

	c := &checker{cat: a, cfg: cfg, result: result}
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Findings = append(result.Findings, Finding{
					ID:          a.ID + "_diagnostic",
					Title:       "Analyzer error",
					Severity:    SeverityLow,
					Points:      0,
					CategoryID:  a.ID,
					Description: fmt.Sprintf("analyzer aborted: %v", r),
				})
				c.skipped++
				result.Meta.SkippedReason = SkipAnalyzerPanic
			}
		}()
		a.run(c, ctx)
	}()

	result.Meta.ChecksRun = c.run + len(result.Findings)
	result.Meta.ChecksSkipped = c.skipped
	return a.finish(result, start, "")
}

// Skipped builds the result for an analyzer that could not run at all.
func (a *Analyzer) Skipped(cfg config.AnalyzerConfig, reason string) *Result {
	return &Result{
		CategoryID:   a.ID,
		CategoryName: a.Name,
		MaxWeight:    cfg.MaxWeight,
		Findings:     []Finding{},
		Meta:         ResultMeta{Skipped: true, SkippedReason: reason},
	}
}

func (a *Analyzer) finish(result *Result, start time.Time, skipReason string) *Result {
	if skipReason != "" {
		result.Meta.Skipped = true
		result.Meta.SkippedReason = skipReason
	}
	total := 0
	for _, f := range result.Findings {
		total += f.Points
	}
	if total > result.MaxWeight {
		total = result.MaxWeight
	}
	result.Score = total
	result.Meta.DurationMS = time.Since(start).Milliseconds()
	return result
}

var (
	allStates    = map[probe.State]bool{probe.Online: true, probe.Parked: true, probe.WAFChallenge: true, probe.Offline: true}
	onlineStates = map[probe.State]bool{probe.Online: true}
	pageStates   = map[probe.State]bool{probe.Online: true, probe.Parked: true, probe.WAFChallenge: true}
	landerStates = map[probe.State]bool{probe.Online: true, probe.Parked: true}
)

// Registry returns the category analyzers in verdict order.
func Registry() []*Analyzer {
	return []*Analyzer{
		Domain(),
		Content(),
		Phishing(),
		Behavior(),
		Social(),
		Financial(),
		Identity(),
		DataProtection(),
		Legal(),
		Email(),
		Redirect(),
		TrustGraph(),
	}
}
