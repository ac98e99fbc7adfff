package analyzers

import (
	"fmt"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Redirect scores the redirect chain recorded by the HTTP collector.
func Redirect() *Analyzer {
	return &Analyzer{
		ID:     "redirect",
		Name:   "Redirect Chain",
		States: landerStates,
		run:    runRedirect,
	}
}

func runRedirect(c *checker, ctx *Context) {
	if ctx.Evidence.HTTP == nil {
		for i := 0; i < 4; i++ {
			c.skip()
		}
		return
	}
	hops := ctx.Evidence.HTTP.Redirects

	if len(hops) >= 3 {
		c.flag("long_chain", SeverityMedium, "Long redirect chain",
			fmt.Sprintf("%d redirect hops", len(hops)), 5, map[string]any{"hops": len(hops)})
	} else {
		c.pass()
	}

	domains := map[string]bool{}
	if ctx.Target.RegistrableDomain != "" {
		domains[ctx.Target.RegistrableDomain] = true
	}
	shortener := ""
	finalDomain := ctx.Target.RegistrableDomain
	for _, hop := range hops {
		host := hostOf(hop.URL)
		if host == "" {
			continue
		}
		if shortenerHosts[host] {
			shortener = host
		}
		if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			domains[d] = true
			finalDomain = d
		}
	}
	if ctx.Evidence.HTTP.FinalURL != "" {
		if host := hostOf(ctx.Evidence.HTTP.FinalURL); host != "" {
			if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
				domains[d] = true
				finalDomain = d
			}
		}
	}

	if len(domains) >= 3 {
		c.flag("cross_domain_hops", SeverityMedium, "Redirects cross multiple domains",
			fmt.Sprintf("chain touches %d registrable domains", len(domains)),
			5, map[string]any{"domains": len(domains)})
	} else {
		c.pass()
	}

	if shortener != "" {
		c.flag("shortener_hop", SeverityLow, "Redirect through a URL shortener",
			shortener, 4, map[string]any{"shortener": shortener})
	} else {
		c.pass()
	}

	if len(hops) > 0 && finalDomain != "" && ctx.Target.RegistrableDomain != "" &&
		finalDomain != ctx.Target.RegistrableDomain {
		c.flag("final_domain_mismatch", SeverityMedium, "Destination differs from requested domain",
			fmt.Sprintf("%s ultimately serves %s", ctx.Target.RegistrableDomain, finalDomain),
			6, map[string]any{"final_domain": finalDomain})
	} else {
		c.pass()
	}
}

func hostOf(rawURL string) string {
	m := hostOfURLRE.FindStringSubmatch(strings.ToLower(rawURL))
	if m == nil {
		return ""
	}
	return m[1]
}
