package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	privacyPolicyRE = regexp.MustCompile(`(?i)(privacy[\s\-]?policy|privacy notice|datenschutz|politique de confidentialit)`)
	consentBannerRE = regexp.MustCompile(`(?i)(cookie (consent|banner|notice|settings)|accept (all )?cookies|we use cookies|gdpr|consent manager|cookiebot|onetrust|usercentrics)`)
	setCookieJSRE   = regexp.MustCompile(`(?i)document\.cookie\s*=`)
	gdprMentionRE   = regexp.MustCompile(`(?i)(gdpr|general data protection|data protection act|lawful basis|data controller)`)
	anyFormRE       = regexp.MustCompile(`(?i)<form\b`)
	personalInputRE = regexp.MustCompile(`(?i)<input[^>]+name\s*=\s*["']?[a-z_\-]*(email|phone|address|name|zip|postcode|city)`)
)

// DataProtection scores privacy-compliance failures around data collection.
func DataProtection() *Analyzer {
	return &Analyzer{
		ID:        "dataprotection",
		Name:      "Data Protection",
		States:    onlineStates,
		NeedsBody: true,
		run:       runDataProtection,
	}
}

func runDataProtection(c *checker, ctx *Context) {
	body := ctx.BodyText()
	lower := strings.ToLower(body)

	hasPolicy := privacyPolicyRE.MatchString(lower)
	sensitiveCount := len(piiFieldRE.FindAllString(body, -1)) + len(paymentFieldRE.FindAllString(body, -1))

	if !hasPolicy {
		c.flag("no_privacy_policy", SeverityMedium, "No privacy policy",
			"no privacy policy link or text found", 10, nil)
	} else {
		c.pass()
	}

	if !hasPolicy && sensitiveCount >= 3 {
		c.flag("sensitive_fields_no_policy", SeverityHigh, "Sensitive data collected without a policy",
			fmt.Sprintf("%d sensitive inputs and no privacy policy", sensitiveCount),
			12, map[string]any{"fields": sensitiveCount})
	} else {
		c.pass()
	}

	setsCookies := setCookieJSRE.MatchString(body) || responseSetsCookies(ctx)
	if setsCookies && !consentBannerRE.MatchString(lower) {
		c.flag("cookies_without_consent", SeverityMedium, "Cookies set without consent banner",
			"cookies are set but no consent mechanism is present", 8, nil)
	} else {
		c.pass()
	}

	if anyFormRE.MatchString(body) && personalInputRE.MatchString(body) && !gdprMentionRE.MatchString(lower) {
		c.flag("form_no_gdpr_mention", SeverityLow, "Personal-data form without GDPR language",
			"forms collect personal data with no data-protection reference", 6, nil)
	} else {
		c.pass()
	}

	if n, hits := trackersPresent(lower); n >= 3 {
		c.flag("known_trackers", SeverityLow, "Multiple third-party trackers",
			fmt.Sprintf("%d tracker host(s) referenced", n), 6, map[string]any{"trackers": hits})
	} else {
		c.pass()
	}

	if anyFormRE.MatchString(body) && ctx.Target.Scheme == "http" {
		c.flag("forms_over_http", SeverityHigh, "Forms served over HTTP",
			"data entry happens without transport encryption", 12, nil)
	} else {
		c.pass()
	}
}

func responseSetsCookies(ctx *Context) bool {
	if ctx.Evidence == nil || ctx.Evidence.HTTP == nil {
		return false
	}
	return len(ctx.Evidence.HTTP.Headers.Values("Set-Cookie")) > 0
}

func trackersPresent(lower string) (int, []string) {
	n := 0
	var hits []string
	for _, t := range trackerHosts {
		if strings.Contains(lower, t) {
			n++
			if len(hits) < 5 {
				hits = append(hits, t)
			}
		}
	}
	return n, hits
}
