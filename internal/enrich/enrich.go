// Package enrich produces an optional analyst-style note for a finished
// verdict. The note is advisory prose and never feeds back into scoring.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/urlwarden/urlwarden-go/internal/scan"
)

const systemPrompt = `You are a security analyst reviewing an automated URL scan verdict.
Given the JSON verdict summary, write a 2-4 sentence plain-English assessment
for a non-technical reader: what the URL appears to be, the main signals that
drove the risk level, and what a cautious user should do. Do not invent
findings that are not in the verdict. Respond with prose only, no markup.`

// Analyst asks Claude for a short narrative on a verdict. Enabled only when
// ANTHROPIC_API_KEY is set; every failure degrades to an empty note.
type Analyst struct {
	logger  *slog.Logger
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// NewAnalyst returns nil when no API key is configured, which callers treat
// as "notes disabled".
func NewAnalyst(logger *slog.Logger) *Analyst {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return nil
	}
	model := os.Getenv("ANALYST_MODEL")
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &Analyst{
		logger:  logger,
		client:  anthropic.NewClient(),
		model:   model,
		timeout: 10 * time.Second,
	}
}

// Note implements scan.Enricher.
func (a *Analyst) Note(ctx context.Context, v *scan.Verdict) string {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 300,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(describe(v))),
		},
	})
	if err != nil {
		a.logger.Warn("analyst note failed", "url", v.Request.URL, "error", err)
		return ""
	}
	if len(message.Content) == 0 {
		return ""
	}
	return strings.TrimSpace(message.Content[0].Text)
}

// describe flattens the verdict into a compact prompt: risk line, top
// findings, and any threat-intel matches.
func describe(v *scan.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nReachability: %s\nRisk: %s (%d/%d)\n",
		v.Request.URL, v.Reachability, v.RiskLevel, v.TotalScore, v.MaxScore)
	for _, cat := range v.Categories {
		if cat.Score == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d/%d):", cat.CategoryName, cat.Score, cat.MaxWeight)
		for _, f := range cat.Findings {
			fmt.Fprintf(&b, " %s;", f.ID)
		}
		b.WriteString("\n")
	}
	if ti := v.ThreatIntel; ti != nil && len(ti.Matches) > 0 {
		fmt.Fprintf(&b, "Threat intel (%d/100):", ti.Score)
		for _, m := range ti.Matches {
			fmt.Fprintf(&b, " %s/%s via %s;", m.ThreatType, m.Severity, m.SourceName)
		}
		b.WriteString("\n")
	}
	return b.String()
}
