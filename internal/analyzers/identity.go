package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	piiFieldRE   = regexp.MustCompile(`(?i)<input[^>]+name\s*=\s*["']?[a-z_\-]*(ssn|social[_\-]?security|dob|date[_\-]?of[_\-]?birth|passport|tax[_\-]?id|national[_\-]?id|drivers?[_\-]?licen[cs]e)`)
	fileUploadRE = regexp.MustCompile(`(?i)<input[^>]+type\s*=\s*["']?file`)
	docPromptRE  = regexp.MustCompile(`(?i)(upload (a |your )?(document|photo|picture|scan|copy)|attach (a |your )?(document|id))`)
)

// Identity scores identity-theft collection: PII field clusters, document
// upload prompts and account-recovery pretexts.
func Identity() *Analyzer {
	return &Analyzer{
		ID:        "identity",
		Name:      "Identity Theft",
		States:    onlineStates,
		NeedsBody: true,
		run:       runIdentity,
	}
}

func runIdentity(c *checker, ctx *Context) {
	body := ctx.BodyText()
	lower := strings.ToLower(body)

	if n := len(piiFieldRE.FindAllString(body, -1)); n >= 2 {
		c.flag("pii_field_cluster", SeverityHigh, "Cluster of personal-identity fields",
			fmt.Sprintf("%d government-identity inputs", n), 7, map[string]any{"count": n})
	} else {
		c.pass()
	}

	if fileUploadRE.MatchString(body) && docPromptRE.MatchString(lower) {
		c.flag("document_upload", SeverityMedium, "Document upload prompt",
			"page requests uploads of identity documents", 6, nil)
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, verificationPhrases); n >= 1 {
		c.flag("verification_scam", SeverityMedium, "Verification pretext",
			fmt.Sprintf("%d identity-verification pressure phrase(s)", n), 5, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, takeoverPhrases); n >= 3 {
		c.flag("account_takeover_language", SeverityMedium, "Account takeover patterns",
			fmt.Sprintf("%d recovery/security-question phrase(s)", n), 5, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, governmentIDPhrases); n >= 1 {
		c.flag("government_id_prompt", SeverityHigh, "Government ID requested",
			fmt.Sprintf("%d government-ID upload phrase(s)", n), 6, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}
}
