package analyzers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/urlwarden/urlwarden-go/internal/probe"
)

var (
	tosRE           = regexp.MustCompile(`(?i)(terms (of|and) (service|use|conditions)|terms\s*&\s*conditions|user agreement)`)
	adultRE         = regexp.MustCompile(`(?i)(casino|poker|betting|sportsbook|slots|roulette|adult content|xxx|18\+ content)`)
	ageGateRE       = regexp.MustCompile(`(?i)(age verification|verify your age|are you (over )?(18|21)|date of birth to continue|must be 18)`)
	childContentRE  = regexp.MustCompile(`(?i)(for kids|children'?s games|cartoon games|fun for kids|kid[\s\-]?friendly)`)
	parentConsentRE = regexp.MustCompile(`(?i)(parental consent|parent or guardian|coppa)`)
)

// Legal runs jurisdiction checks in every pipeline and content-compliance
// checks when a page body is available.
func Legal() *Analyzer {
	return &Analyzer{
		ID:     "legal",
		Name:   "Legal Compliance",
		States: allStates,
		run:    runLegal,
	}
}

func runLegal(c *checker, ctx *Context) {
	// Jurisdiction: ccTLD first, WHOIS country as fallback.
	jurisdiction := ctx.Target.TLD
	if len(jurisdiction) != 2 {
		jurisdiction = ""
	}
	if jurisdiction == "" && ctx.Evidence.Whois != nil {
		jurisdiction = strings.ToLower(ctx.Evidence.Whois.Country)
	}
	switch {
	case jurisdiction != "" && highRiskCountries[jurisdiction]:
		c.flag("high_risk_jurisdiction", SeverityHigh, "High-risk jurisdiction",
			fmt.Sprintf("domain operates under %q", jurisdiction), 12, map[string]any{"jurisdiction": jurisdiction})
	case jurisdiction != "" && mediumRiskCountries[jurisdiction]:
		c.flag("medium_risk_jurisdiction", SeverityMedium, "Elevated-risk jurisdiction",
			fmt.Sprintf("domain operates under %q", jurisdiction), 6, map[string]any{"jurisdiction": jurisdiction})
	default:
		c.pass()
	}

	body := ctx.BodyText()
	if ctx.Reachability != probe.Online || body == "" {
		// Content-compliance checks need a live page.
		for i := 0; i < 4; i++ {
			c.skip()
		}
		return
	}
	lower := strings.ToLower(body)

	if !tosRE.MatchString(lower) {
		c.flag("no_terms_of_service", SeverityLow, "No terms of service",
			"no terms-of-service link or text found", 6, nil)
	} else {
		c.pass()
	}

	if adultRE.MatchString(lower) && !ageGateRE.MatchString(lower) {
		c.flag("adult_gambling_no_age_gate", SeverityMedium, "Age-restricted content without verification",
			"gambling or adult content with no age gate", 10, nil)
	} else {
		c.pass()
	}

	collectsData := personalInputRE.MatchString(body) || piiFieldRE.MatchString(body)
	if childContentRE.MatchString(lower) && collectsData && !parentConsentRE.MatchString(lower) {
		c.flag("coppa_children_data", SeverityHigh, "Children-targeted data collection",
			"content targets children and collects data without parental consent language", 10, nil)
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, misleadingClaims); n >= 3 {
		c.flag("misleading_claims", SeverityMedium, "Misleading marketing claims",
			fmt.Sprintf("%d unverifiable claim(s)", n), 6, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}
}
