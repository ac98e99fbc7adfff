package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	referralFieldRE = regexp.MustCompile(`(?i)<input[^>]+name\s*=\s*["']?(referral|invite|invitation|promo)[_\-]?(code)?`)
	fakeCaptchaRE   = regexp.MustCompile(`(?i)(i'?m not a robot|captcha verification|prove you are human|complete the captcha)`)
	captchaHostRE   = regexp.MustCompile(`(?i)(?:src|href)\s*=\s*["']?https?://([^/"'\s>]+)[^"'\s>]*(?:recaptcha|captcha|turnstile|challenge)`)
)

// Social detects manipulation language: manufactured urgency, fake
// authority, emotional pressure and counterfeit trust signals.
func Social() *Analyzer {
	return &Analyzer{
		ID:        "social",
		Name:      "Social Engineering",
		States:    landerStates,
		NeedsBody: true,
		run:       runSocial,
	}
}

func runSocial(c *checker, ctx *Context) {
	body := ctx.BodyText()
	lower := strings.ToLower(body)

	urgency, uh := containsAny(lower, urgencyPhrases)
	scarcity, sh := containsAny(lower, scarcityPhrases)
	if urgency+scarcity >= 3 {
		c.flag("urgency_scarcity", SeverityHigh, "Urgency and scarcity pressure",
			fmt.Sprintf("%d pressure phrase(s)", urgency+scarcity), 8,
			map[string]any{"phrases": append(uh, sh...)})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, authorityPhrases); n >= 2 {
		c.flag("fake_authority", SeverityMedium, "Fake authority claims",
			fmt.Sprintf("%d authority phrase(s)", n), 7, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, emotionalPhrases); n >= 3 {
		c.flag("emotional_manipulation", SeverityMedium, "Emotional manipulation",
			fmt.Sprintf("%d emotional phrase(s)", n), 6, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, tooGoodPhrases); n >= 2 {
		c.flag("too_good_to_be_true", SeverityMedium, "Too-good-to-be-true offers",
			fmt.Sprintf("%d implausible promise(s)", n), 6, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, socialProofPhrases); n >= 2 {
		c.flag("fake_social_proof", SeverityLow, "Fabricated social proof",
			fmt.Sprintf("%d social-proof phrase(s)", n), 5, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if referralFieldRE.MatchString(body) && passwordFieldRE.MatchString(body) {
		c.flag("referral_code_gate", SeverityLow, "Referral code on a login form",
			"invitation/referral field combined with credential inputs", 4, nil)
	} else {
		c.pass()
	}

	if fakeCaptchaRE.MatchString(lower) && !legitCaptchaPresent(body) {
		c.flag("fake_captcha", SeverityMedium, "CAPTCHA text without a CAPTCHA provider",
			"page claims human verification but loads no known CAPTCHA service", 6, nil)
	} else {
		c.pass()
	}
}

// legitCaptchaPresent reports whether the page references a whitelisted
// CAPTCHA provider host.
func legitCaptchaPresent(body string) bool {
	for _, m := range captchaHostRE.FindAllStringSubmatch(body, -1) {
		host := strings.ToLower(m[1])
		for d := range captchaDomains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
	}
	return false
}
