package analyzers

import (
	"fmt"
	"strings"
)

// Domain checks registration age, TLD risk, WHOIS hygiene and lexical
// impersonation. Runs in every pipeline; WHOIS-dependent checks are counted
// as skipped when the record is missing.
func Domain() *Analyzer {
	return &Analyzer{
		ID:     "domain",
		Name:   "Domain & WHOIS",
		States: allStates,
		run:    runDomain,
	}
}

func runDomain(c *checker, ctx *Context) {
	host := ctx.Target.Host
	whois := ctx.Evidence.Whois

	// Registration age bands.
	if whois != nil && whois.CreatedAt != nil {
		age := whois.AgeDays(ctx.Now)
		switch {
		case age >= 0 && age <= 7:
			c.flag("domain_age_0_7", SeverityHigh, "Domain registered within the last week",
				fmt.Sprintf("registered %d day(s) ago", age), 18, map[string]any{"age_days": age})
		case age <= 30:
			c.flag("domain_age_8_30", SeverityMedium, "Domain registered within the last month",
				fmt.Sprintf("registered %d days ago", age), 12, map[string]any{"age_days": age})
		case age <= 90:
			c.flag("domain_age_31_90", SeverityLow, "Domain registered within the last quarter",
				fmt.Sprintf("registered %d days ago", age), 6, map[string]any{"age_days": age})
		default:
			c.pass()
		}
	} else {
		c.skip()
	}

	// TLD risk sets.
	switch {
	case highRiskTLDs[ctx.Target.TLD]:
		c.flag("tld_high_risk", SeverityHigh, "High-risk top-level domain",
			fmt.Sprintf(".%s is heavily abused for phishing and malware distribution", ctx.Target.TLD),
			12, map[string]any{"tld": ctx.Target.TLD})
	case mediumRiskTLDs[ctx.Target.TLD]:
		c.flag("tld_medium_risk", SeverityMedium, "Elevated-risk top-level domain",
			fmt.Sprintf(".%s sees above-average abuse", ctx.Target.TLD),
			6, map[string]any{"tld": ctx.Target.TLD})
	default:
		c.pass()
	}

	// WHOIS hygiene.
	if whois != nil {
		if whois.Privacy {
			c.flag("whois_privacy", SeverityLow, "WHOIS privacy protection",
				"registrant identity is redacted", 5, nil)
		} else {
			c.pass()
		}
		if whois.Registrar == "" || whois.CreatedAt == nil {
			c.flag("whois_incomplete", SeverityLow, "Incomplete WHOIS record",
				"registrar or registration date missing from WHOIS", 5, nil)
		} else {
			c.pass()
		}
		registrar := strings.ToLower(whois.Registrar)
		flagged := false
		for _, bad := range suspiciousRegistrars {
			if registrar != "" && strings.Contains(registrar, bad) {
				c.flag("registrar_suspicious", SeverityMedium, "Registrar with abuse history",
					whois.Registrar, 6, map[string]any{"registrar": whois.Registrar})
				flagged = true
				break
			}
		}
		if !flagged {
			c.pass()
		}
	} else {
		c.skip()
		c.skip()
		c.skip()
	}

	// Structural checks need no external evidence.
	if depth := ctx.Target.SubdomainDepth(); depth >= 3 {
		c.flag("subdomain_depth", SeverityMedium, "Deeply nested subdomain",
			fmt.Sprintf("%d subdomain levels", depth), 6, map[string]any{"depth": depth})
	} else {
		c.pass()
	}

	if brand, ok := containsBrandToken(host, ctx.Target.RegistrableDomain); ok {
		c.flag("brand_impersonation", SeverityHigh, "Brand name in unrelated domain",
			fmt.Sprintf("%q appears in a domain the brand does not own", brand),
			15, map[string]any{"brand": brand})
	} else {
		c.pass()
	}

	label := firstLabel(host)
	if digits := countDigits(label); len(label) > 0 && digits*100/len(label) >= 40 && digits >= 4 {
		c.flag("excessive_digits", SeverityLow, "Excessive digits in domain label",
			fmt.Sprintf("%d of %d characters are digits", digits, len(label)), 4, nil)
	} else {
		c.pass()
	}

	if looksRandom(label) {
		c.flag("random_charseq", SeverityLow, "Random-looking domain label",
			"label has no recognizable vowel structure", 5, map[string]any{"label": label})
	} else {
		c.pass()
	}

	if m := detectDoppelganger(host, ctx.Target.RegistrableDomain); m != nil {
		c.flag("doppelganger", SeverityCritical, "Doppelganger of a known brand",
			fmt.Sprintf("%q imitates %q via %s", m.Label, m.Brand, m.Technique),
			18, map[string]any{"brand": m.Brand, "label": m.Label, "technique": m.Technique})
	} else {
		c.pass()
	}
}

func firstLabel(host string) string {
	label, _, _ := strings.Cut(host, ".")
	return label
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// looksRandom flags consonant runs of 5+ in labels of 8+ characters, a
// cheap proxy for DGA-style names.
func looksRandom(label string) bool {
	if len(label) < 8 {
		return false
	}
	run := 0
	for _, r := range label {
		if r >= 'a' && r <= 'z' && !strings.ContainsRune("aeiouy", r) {
			run++
			if run >= 5 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
