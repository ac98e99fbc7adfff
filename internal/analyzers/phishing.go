package analyzers

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	passwordFieldRE = regexp.MustCompile(`(?i)<input[^>]+type\s*=\s*["']?password`)
	inputNameRE     = regexp.MustCompile(`(?i)<input[^>]+name\s*=\s*["']?([a-z0-9_\-\[\]]+)`)
	formActionRE    = regexp.MustCompile(`(?i)<form[^>]+action\s*=\s*["']?(https?://[^"'\s>]+)`)
	hiddenIframeRE  = regexp.MustCompile(`(?is)<iframe[^>]*(display\s*:\s*none|visibility\s*:\s*hidden|width\s*=\s*["']?0|height\s*=\s*["']?0)[^>]*>`)
	securityBadgeRE = regexp.MustCompile(`(?i)(norton secured|mcafee secure|verisign trusted|100% (secure|safe)|ssl secured|trusted site|secured by)`)

	// Input names collected by credential-harvesting forms.
	sensitiveInputNames = []string{
		"password", "passwd", "pwd", "ssn", "social", "card", "cardnumber",
		"cc_number", "ccnum", "cvv", "cvc", "cvv2", "pin", "maiden",
		"mothersmaiden", "account_number", "routing",
	}
)

// Phishing looks for credential-harvesting structure: password forms,
// sensitive input clusters, cross-domain posts and concealment tricks.
func Phishing() *Analyzer {
	return &Analyzer{
		ID:        "phishing",
		Name:      "Phishing Patterns",
		States:    landerStates,
		NeedsBody: true,
		run:       runPhishing,
	}
}

func runPhishing(c *checker, ctx *Context) {
	body := ctx.BodyText()
	lower := strings.ToLower(body)

	if n := len(passwordFieldRE.FindAllString(body, -1)); n >= 2 {
		c.flag("multiple_password_fields", SeverityHigh, "Multiple password fields",
			fmt.Sprintf("%d password inputs on one page", n), 15, map[string]any{"count": n})
	} else {
		c.pass()
	}

	if names := sensitiveInputs(body); len(names) >= 3 {
		c.flag("sensitive_input_cluster", SeverityHigh, "Cluster of sensitive input fields",
			fmt.Sprintf("form collects %d sensitive fields", len(names)), 12, map[string]any{"fields": names})
	} else {
		c.pass()
	}

	brandInBody := bodyBrand(lower, ctx.Target.RegistrableDomain)
	if brandInBody != "" && passwordFieldRE.MatchString(body) {
		c.flag("brand_off_domain", SeverityCritical, "Login page impersonating a brand",
			fmt.Sprintf("page mentions %q with a login form on an unrelated domain", brandInBody),
			15, map[string]any{"brand": brandInBody})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, urgencyPhrases); n >= 2 {
		c.flag("urgency_language", SeverityMedium, "Urgency pressure language",
			fmt.Sprintf("%d urgency phrase(s)", n), 8, map[string]any{"phrases": hits, "count": n})
	} else {
		c.pass()
	}

	if foreign := crossDomainFormPost(body, ctx.Target.RegistrableDomain); foreign != "" {
		c.flag("cross_domain_form_post", SeverityHigh, "Form posts to a different domain",
			fmt.Sprintf("form action targets %s", foreign), 12, map[string]any{"action_domain": foreign})
	} else {
		c.pass()
	}

	if hiddenIframeRE.MatchString(body) {
		c.flag("hidden_iframe", SeverityMedium, "Hidden iframe",
			"page embeds an invisible or zero-sized iframe", 8, nil)
	} else {
		c.pass()
	}

	if securityBadgeRE.MatchString(lower) {
		c.flag("fake_security_badges", SeverityLow, "Self-asserted security badges",
			"page displays trust-seal language without a verifiable seal", 5, nil)
	} else {
		c.pass()
	}
}

func sensitiveInputs(body string) []string {
	var found []string
	seen := map[string]bool{}
	for _, m := range inputNameRE.FindAllStringSubmatch(body, -1) {
		name := strings.ToLower(m[1])
		for _, s := range sensitiveInputNames {
			if strings.Contains(name, s) && !seen[s] {
				seen[s] = true
				found = append(found, name)
				break
			}
		}
	}
	return found
}

func bodyBrand(lower, registrable string) string {
	ownBrand := ""
	if registrable != "" {
		ownBrand, _, _ = strings.Cut(registrable, ".")
	}
	for _, brand := range brandTokens {
		if brand == ownBrand {
			continue
		}
		if strings.Contains(lower, brand) {
			return brand
		}
	}
	return ""
}

// crossDomainFormPost returns the registrable domain a form posts to when
// it differs from the page's own.
func crossDomainFormPost(body, registrable string) string {
	for _, m := range formActionRE.FindAllStringSubmatch(body, -1) {
		hm := hostOfURLRE.FindStringSubmatch(strings.ToLower(m[1]))
		if hm == nil {
			continue
		}
		actionDomain, err := publicsuffix.EffectiveTLDPlusOne(hm[1])
		if err != nil {
			actionDomain = hm[1]
		}
		if registrable != "" && actionDomain != registrable {
			return actionDomain
		}
	}
	return ""
}
