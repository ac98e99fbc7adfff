package analyzers

import (
	"strings"
)

// Email checks the domain's published SPF and DMARC policies. DMARC records
// live under _dmarc.<domain>; the DNS collector resolves that alongside the
// host record set.
func Email() *Analyzer {
	return &Analyzer{
		ID:     "email",
		Name:   "Email Security",
		States: allStates,
		run:    runEmail,
	}
}

func runEmail(c *checker, ctx *Context) {
	dns := ctx.Evidence.DNS
	if dns == nil {
		for i := 0; i < 5; i++ {
			c.skip()
		}
		return
	}

	spf := strings.ToLower(dns.SPF())
	switch {
	case spf == "":
		c.flag("spf_missing", SeverityMedium, "No SPF record",
			"domain publishes no sender policy; anyone can spoof its mail", 8, nil)
	case strings.Contains(spf, "+all"):
		c.flag("spf_permissive", SeverityHigh, "Permissive SPF (+all)",
			"SPF authorizes every sender on the internet", 10, map[string]any{"spf": spf})
		c.pass()
	case strings.Contains(spf, "~all"):
		c.flag("spf_softfail", SeverityLow, "SPF soft-fail (~all)",
			"unauthorized senders are only soft-failed", 4, map[string]any{"spf": spf})
		c.pass()
	default:
		c.ran(3)
	}

	dmarc := strings.ToLower(dmarcRecord(dns.TXT))
	switch {
	case dmarc == "":
		c.flag("dmarc_missing", SeverityMedium, "No DMARC record",
			"domain publishes no DMARC policy", 8, nil)
	case strings.Contains(strings.ReplaceAll(dmarc, " ", ""), "p=none"):
		c.flag("dmarc_none", SeverityLow, "DMARC policy is none",
			"DMARC is published but enforces nothing", 5, map[string]any{"dmarc": dmarc})
		c.pass()
	default:
		c.ran(2)
	}
}

// dmarcRecord finds the DMARC policy among TXT records. The DNS collector
// merges _dmarc TXT answers into the record set.
func dmarcRecord(txt []string) string {
	for _, t := range txt {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "v=dmarc1") {
			return t
		}
	}
	return ""
}
