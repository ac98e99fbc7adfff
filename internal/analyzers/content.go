package analyzers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
)

var (
	obfuscationRE = regexp.MustCompile(`(?i)(\beval\s*\(|document\.write\s*\(|fromCharCode|atob\s*\(|unescape\s*\(|(\\x[0-9a-f]{2}){4,}|(\\u[0-9a-f]{4}){4,})`)
	base64BlobRE  = regexp.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`)
	scriptTagRE   = regexp.MustCompile(`(?is)<script\b[^>]*>(.*?)</script>`)
	extResourceRE = regexp.MustCompile(`(?i)(?:src|href|action)\s*=\s*["']?(https?://[^"'\s>]+)`)
	titleRE       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaRefreshRE = regexp.MustCompile(`(?i)<meta[^>]+http-equiv\s*=\s*["']?refresh`)
	jsRedirectRE  = regexp.MustCompile(`(?i)(window\.location(\.href|\.replace)?\s*=|location\.assign\s*\(|location\.replace\s*\()`)
	ipInURLRE     = regexp.MustCompile(`^https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	hostOfURLRE   = regexp.MustCompile(`^https?://([^/:?#]+)`)
	foreignCharRE = regexp.MustCompile(`[\x{0400}-\x{04FF}\x{4E00}-\x{9FFF}\x{0600}-\x{06FF}]`)
)

// Content inspects the page body for lure language, obfuscated scripts and
// suspicious external references.
func Content() *Analyzer {
	return &Analyzer{
		ID:        "content",
		Name:      "Content",
		States:    pageStates,
		NeedsBody: true,
		run:       runContent,
	}
}

func runContent(c *checker, ctx *Context) {
	body := ctx.BodyText()
	lower := strings.ToLower(body)
	scripts := scriptBodies(body)

	if n, hits := containsAny(lower, suspiciousKeywords); n > 0 {
		c.flag("suspicious_keywords", SeverityMedium, "Suspicious lure keywords",
			fmt.Sprintf("%d lure phrase(s) in page text", n), 8, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if obfuscationRE.MatchString(scripts) {
		c.flag("obfuscated_js", SeverityHigh, "Obfuscated JavaScript",
			"script uses eval/document.write/charcode decoding or long escape runs", 10, nil)
	} else {
		c.pass()
	}

	if base64BlobRE.MatchString(scripts) {
		c.flag("large_base64_blob", SeverityMedium, "Large base64 blob in script",
			"inline script embeds a base64 payload over 200 characters", 6, nil)
	} else {
		c.pass()
	}

	if bad := suspiciousExternalResources(body, ctx.Target.RegistrableDomain); len(bad) > 0 {
		c.flag("suspicious_external_resource", SeverityMedium, "Suspicious external resources",
			fmt.Sprintf("%d resource(s) loaded from IP literals, abuse-prone TLDs or shorteners", len(bad)),
			8, map[string]any{"resources": bad})
	} else {
		c.pass()
	}

	if text := strings.TrimSpace(stripTags(body)); len(text) < 100 {
		c.flag("minimal_content", SeverityLow, "Minimal page content",
			fmt.Sprintf("only %d characters of visible text", len(text)), 5, nil)
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, parkingPhrases); n > 0 {
		c.flag("parking_page", SeverityMedium, "Parking page content",
			"page text matches domain-parking boilerplate", 10, map[string]any{"phrases": hits, "count": n})
	} else {
		c.pass()
	}

	if brand := titleBrandMismatch(body, ctx.Target); brand != "" {
		c.flag("brand_title_mismatch", SeverityHigh, "Page title names an unrelated brand",
			fmt.Sprintf("title mentions %q but the domain is not theirs", brand),
			8, map[string]any{"brand": brand})
	} else {
		c.pass()
	}

	if metaRefreshRE.MatchString(body) {
		c.flag("meta_refresh", SeverityLow, "Meta refresh redirect", "page redirects via meta http-equiv", 5, nil)
	} else {
		c.pass()
	}

	if n := len(jsRedirectRE.FindAllString(scripts, -1)); n >= 2 {
		c.flag("js_redirect_multiple", SeverityMedium, "Multiple JavaScript redirects",
			fmt.Sprintf("%d location assignments in scripts", n), 6, map[string]any{"count": n})
	} else {
		c.pass()
	}

	if n := len(foreignCharRE.FindAllString(scripts, 4)); n >= 3 {
		c.flag("foreign_unicode_scripts", SeverityLow, "Non-Latin characters inside scripts",
			"script bodies carry Cyrillic/CJK/Arabic ranges", 4, nil)
	} else {
		c.pass()
	}
}

func scriptBodies(body string) string {
	var b strings.Builder
	for _, m := range scriptTagRE.FindAllStringSubmatch(body, -1) {
		b.WriteString(m[1])
		b.WriteString("\n")
	}
	return b.String()
}

var tagRE = regexp.MustCompile(`(?s)<[^>]*>`)

func stripTags(body string) string {
	return tagRE.ReplaceAllString(scriptTagRE.ReplaceAllString(body, " "), " ")
}

func suspiciousExternalResources(body, registrable string) []string {
	var bad []string
	seen := map[string]bool{}
	for _, m := range extResourceRE.FindAllStringSubmatch(body, -1) {
		u := m[1]
		hm := hostOfURLRE.FindStringSubmatch(strings.ToLower(u))
		if hm == nil {
			continue
		}
		host := hm[1]
		if registrable != "" && (host == registrable || strings.HasSuffix(host, "."+registrable)) {
			continue
		}
		suspicious := ipInURLRE.MatchString(strings.ToLower(u)) || shortenerHosts[host]
		if !suspicious {
			if idx := strings.LastIndex(host, "."); idx >= 0 && highRiskTLDs[host[idx+1:]] {
				suspicious = true
			}
		}
		if suspicious && !seen[host] && len(bad) < 8 {
			seen[host] = true
			bad = append(bad, host)
		}
	}
	return bad
}

// titleBrandMismatch reports a brand named in the page title when the
// domain is not the brand's own.
func titleBrandMismatch(body string, target *canonical.URL) string {
	m := titleRE.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	title := strings.ToLower(m[1])
	ownBrand := ""
	if target.RegistrableDomain != "" {
		ownBrand, _, _ = strings.Cut(target.RegistrableDomain, ".")
	}
	for _, brand := range brandTokens {
		if brand == ownBrand {
			continue
		}
		if strings.Contains(title, brand) {
			return brand
		}
	}
	return ""
}
