// Package config loads the scoring model and deployment settings.
//
// Deployment settings (addresses, credentials, feature switches) come from
// the environment. The scoring model (analyzer weights, per-check points,
// risk bands, budgets) ships as embedded YAML defaults and may be overridden
// by a file named in SCORING_CONFIG.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

//go:embed scoring.yaml
var defaultScoring []byte

// Scoring is the settings bundle consulted by the orchestrator, the
// analyzers, the TI query engine, the sync engine and the caches.
type Scoring struct {
	Orchestrator Orchestrator              `mapstructure:"orchestrator"`
	Sync         Sync                      `mapstructure:"sync"`
	Cache        Cache                     `mapstructure:"cache"`
	Analyzers    map[string]AnalyzerConfig `mapstructure:"analyzers"`
}

// AnalyzerConfig holds one analyzer's weight cap, budget and per-check points.
type AnalyzerConfig struct {
	MaxWeight   int            `mapstructure:"max_weight"`
	BudgetMS    int            `mapstructure:"budget_ms"`
	CheckPoints map[string]int `mapstructure:"check_points"`
}

// Budget returns the analyzer deadline as a duration.
func (a AnalyzerConfig) Budget() time.Duration {
	if a.BudgetMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(a.BudgetMS) * time.Millisecond
}

// Points returns the configured points for a check, or fallback when the
// config does not list it.
func (a AnalyzerConfig) Points(checkID string, fallback int) int {
	if p, ok := a.CheckPoints[checkID]; ok {
		return p
	}
	return fallback
}

// Orchestrator carries scan-level deadlines, TI weighting and risk bands.
type Orchestrator struct {
	ScanDeadlineMS        int       `mapstructure:"scan_deadline_ms"`
	CollectorDeadlineMS   int       `mapstructure:"collector_deadline_ms"`
	TIMaxWeight           int       `mapstructure:"ti_max_weight"`
	TISuspiciousThreshold float64   `mapstructure:"ti_suspicious_threshold"`
	TIMaliciousThreshold  float64   `mapstructure:"ti_malicious_threshold"`
	RiskBands             RiskBands `mapstructure:"risk_bands"`
}

// RiskBands are upper bounds (fractions of max score) for levels A through D.
// Anything above D is E.
type RiskBands struct {
	A float64 `mapstructure:"a"`
	B float64 `mapstructure:"b"`
	C float64 `mapstructure:"c"`
	D float64 `mapstructure:"d"`
}

// Level maps a score fraction to a risk level letter.
func (rb RiskBands) Level(fraction float64) string {
	switch {
	case fraction <= rb.A:
		return "A"
	case fraction <= rb.B:
		return "B"
	case fraction <= rb.C:
		return "C"
	case fraction <= rb.D:
		return "D"
	default:
		return "E"
	}
}

func (o Orchestrator) ScanDeadline() time.Duration {
	if o.ScanDeadlineMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(o.ScanDeadlineMS) * time.Millisecond
}

func (o Orchestrator) CollectorDeadline() time.Duration {
	if o.CollectorDeadlineMS <= 0 {
		return 8 * time.Second
	}
	return time.Duration(o.CollectorDeadlineMS) * time.Millisecond
}

// Sync carries the ingestion engine settings.
type Sync struct {
	MaxConcurrent int   `mapstructure:"max_concurrent"`
	RetryAttempts int   `mapstructure:"retry_attempts"`
	HTTPTimeoutMS int   `mapstructure:"http_timeout_ms"`
	MaxBodyBytes  int64 `mapstructure:"max_body_bytes"`
	RunDeadlineMS int   `mapstructure:"run_deadline_ms"`
	BatchSize     int   `mapstructure:"batch_size"`
}

func (s Sync) HTTPTimeout() time.Duration {
	if s.HTTPTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.HTTPTimeoutMS) * time.Millisecond
}

func (s Sync) RunDeadline() time.Duration {
	if s.RunDeadlineMS <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.RunDeadlineMS) * time.Millisecond
}

// Cache carries TTLs for the verdict, TI query and evidence caches.
type Cache struct {
	VerdictTTLMinutes  int `mapstructure:"verdict_ttl_minutes"`
	TIQueryTTLMinutes  int `mapstructure:"ti_query_ttl_minutes"`
	EvidenceTTLMinutes int `mapstructure:"evidence_ttl_minutes"`
}

func (c Cache) VerdictTTL() time.Duration {
	if c.VerdictTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.VerdictTTLMinutes) * time.Minute
}

func (c Cache) TIQueryTTL() time.Duration {
	if c.TIQueryTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TIQueryTTLMinutes) * time.Minute
}

func (c Cache) EvidenceTTL() time.Duration {
	if c.EvidenceTTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.EvidenceTTLMinutes) * time.Minute
}

// LoadScoring reads the embedded defaults and merges the override file, if
// any. overridePath == "" loads pure defaults.
func LoadScoring(overridePath string) (*Scoring, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultScoring)); err != nil {
		return nil, fmt.Errorf("read embedded scoring defaults: %w", err)
	}
	if overridePath != "" {
		v.SetConfigFile(overridePath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge scoring override %s: %w", overridePath, err)
		}
	}

	var s Scoring
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal scoring config: %w", err)
	}
	return &s, nil
}

// Analyzer returns the config block for a category id, or an empty block
// (zero max weight) when the config does not know the category.
func (s *Scoring) Analyzer(categoryID string) AnalyzerConfig {
	if a, ok := s.Analyzers[categoryID]; ok {
		return a
	}
	return AnalyzerConfig{}
}

// EnvOr returns the value of the environment variable key, or fallback when
// unset or empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
