package analyzers

import (
	"fmt"
	"net/netip"
	"strings"
)

var financialKeywords = []string{"bank", "payment", "invest", "loan", "credit", "wallet", "crypto"}

// TrustGraph scores infrastructure reputation: hosting provenance, mail
// setup and nameserver redundancy.
func TrustGraph() *Analyzer {
	return &Analyzer{
		ID:     "trustgraph",
		Name:   "Trust Graph",
		States: allStates,
		run:    runTrustGraph,
	}
}

func runTrustGraph(c *checker, ctx *Context) {
	ip := ctx.Evidence.ResolvedIP

	if ip != "" {
		if !inTrustedRange(ip) {
			c.flag("untrusted_ip_range", SeverityMedium, "Hosted outside major providers",
				fmt.Sprintf("%s is not in a recognized cloud/CDN range", ip), 8, map[string]any{"ip": ip})
		} else {
			c.pass()
		}
	} else {
		c.skip()
	}

	// Shared-hosting heuristic: financial language on generic shared infra.
	if ip != "" && !inTrustedRange(ip) && mentionsFinancial(ctx) {
		c.flag("shared_hosting_financial", SeverityMedium, "Financial service on shared hosting",
			"financial keywords served from unestablished infrastructure", 6, nil)
	} else {
		c.pass()
	}

	whois := ctx.Evidence.Whois
	if whois != nil {
		if age := whois.AgeDays(ctx.Now); age >= 0 && age < 30 {
			c.flag("no_reputation_young_domain", SeverityMedium, "No established reputation",
				fmt.Sprintf("domain is %d day(s) old with no history", age), 8, map[string]any{"age_days": age})
		} else {
			c.pass()
		}
	} else {
		c.skip()
	}

	dns := ctx.Evidence.DNS
	if dns != nil && !ctx.Target.IsIPHost() {
		if len(dns.MX) == 0 {
			c.flag("no_mx_records", SeverityLow, "No MX records",
				"domain cannot receive mail; common for throwaway domains", 4, nil)
		} else {
			c.pass()
		}
		if len(dns.NS) == 1 {
			c.flag("single_nameserver", SeverityLow, "Single nameserver",
				"no nameserver redundancy", 4, map[string]any{"ns": dns.NS})
		} else {
			c.pass()
		}
	} else {
		c.skip()
		c.skip()
	}

	if ctx.Target.IsIPHost() {
		c.flag("ip_literal_host", SeverityHigh, "Hostname is an IP literal",
			"legitimate services are not addressed by raw IP", 10, map[string]any{"host": ctx.Target.Host})
	} else {
		c.pass()
	}
}

func inTrustedRange(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, cidr := range trustedProviderCIDRs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func mentionsFinancial(ctx *Context) bool {
	haystack := strings.ToLower(ctx.Target.Host) + " " + strings.ToLower(ctx.BodyText())
	for _, kw := range financialKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
