// Package probe determines whether a scan target is reachable and in what
// condition: serving real content, parked, hiding behind a WAF challenge,
// or down. The probe runs before the full evidence collection and seeds the
// evidence bundle with whatever it already learned.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/collect"
	"github.com/urlwarden/urlwarden-go/internal/netguard"
)

// State is the reachability classification of a target.
type State string

const (
	Online       State = "online"
	Parked       State = "parked"
	WAFChallenge State = "waf_challenge"
	Offline      State = "offline"
)

// Result pairs the state with the evidence gathered while probing.
type Result struct {
	State    State
	Evidence *collect.Evidence
}

// Resolver is the DNS lookup the prober needs.
type Resolver interface {
	Resolve(ctx context.Context, host string) (*collect.DNSRecords, error)
}

// TLSCollector captures certificate details for an open 443.
type TLSCollector interface {
	Collect(ctx context.Context, host, port string) (*collect.TLSInfo, error)
}

// Fetcher retrieves the capped HTTP snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*collect.HTTPSnapshot, error)
}

// Prober walks DNS, TCP, TLS and HTTP in order, stopping at the coarsest
// state the evidence supports.
type Prober struct {
	logger   *slog.Logger
	resolver Resolver
	tls      TLSCollector
	fetcher  Fetcher
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	budgets  collect.Budgets
}

// New builds a prober on top of the collector's clients.
func New(logger *slog.Logger, collector *collect.Collector) *Prober {
	budgets := collect.DefaultBudgets()
	return &Prober{
		logger:   logger,
		resolver: collector.DNSClient(),
		tls:      collector.TLSClient(),
		fetcher:  collector.HTTPClient(),
		dial:     collect.Dialer(budgets.TCP),
		budgets:  budgets,
	}
}

// Probe classifies target and returns the partial evidence bundle.
func (p *Prober) Probe(ctx context.Context, target *canonical.URL) *Result {
	ev := &collect.Evidence{}
	diag := func(format string, args ...any) {
		ev.Diagnostics = append(ev.Diagnostics, fmt.Sprintf(format, args...))
	}

	// Step 1: name resolution.
	if target.IsIPHost() {
		ip := net.ParseIP(strings.Trim(target.Host, "[]"))
		if ip == nil || netguard.IsBlocked(ip) {
			diag("probe: target address refused")
			return &Result{State: Offline, Evidence: ev}
		}
		ev.DNS = &collect.DNSRecords{Host: target.Host, A: []string{target.Host}, CollectedAt: time.Now().UTC()}
		ev.ResolvedIP = target.Host
	} else {
		rec, err := p.resolver.Resolve(ctx, target.Host)
		if err != nil {
			diag("probe: dns: %v", err)
			return &Result{State: Offline, Evidence: ev}
		}
		ev.DNS = rec
		ev.ResolvedIP = rec.FirstIP()
		if ev.ResolvedIP == "" {
			diag("probe: dns: no address records")
			return &Result{State: Offline, Evidence: ev}
		}
	}

	// Step 2: is anything listening. 443 first, then 80, one shared budget.
	tcpCtx, cancel := context.WithTimeout(ctx, p.budgets.TCP)
	open443 := p.tcpOpen(tcpCtx, ev.ResolvedIP, "443")
	open80 := false
	if !open443 {
		open80 = p.tcpOpen(tcpCtx, ev.ResolvedIP, "80")
	}
	cancel()
	if !open443 && !open80 {
		diag("probe: tcp: ports 443 and 80 closed")
		return &Result{State: Offline, Evidence: ev}
	}

	// Step 3: certificate capture when 443 answers.
	if open443 {
		info, err := p.tls.Collect(ctx, target.Host, "443")
		if err != nil {
			diag("probe: %v", err)
		} else {
			ev.TLS = info
		}
	}

	// Step 4: the page itself.
	snap, err := p.fetcher.Fetch(ctx, target.String())
	if err != nil {
		diag("probe: %v", err)
		return &Result{State: Offline, Evidence: ev}
	}
	ev.HTTP = snap

	return &Result{State: Classify(snap), Evidence: ev}
}

func (p *Prober) tcpOpen(ctx context.Context, host, port string) bool {
	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// wafHeaders identify responses served by a challenge layer rather than
// the site itself.
var wafHeaders = []string{
	"CF-Ray",
	"X-Sucuri-ID",
	"X-Sucuri-Cache",
	"X-Akamai-Transformed",
	"X-Distil-CS",
	"X-Iinfo",
}

var challengeMarkers = []string{
	"checking your browser",
	"just a moment...",
	"attention required! | cloudflare",
	"ddos protection by",
	"_incapsula_resource",
	"request unsuccessful. incapsula",
	"cf-challenge",
	"verify you are human",
}

// parkingPhrases is the prober's short list; the content analyzer holds the
// richer one. A tiny body plus any of these means a parking lander.
var parkingPhrases = []string{
	"domain for sale",
	"domain is for sale",
	"buy this domain",
	"this domain is parked",
	"parked domain",
	"domain parking",
	"purchase this domain",
	"may be for sale",
}

const parkedBodyMax = 256

// Classify maps an HTTP snapshot to a reachability state.
func Classify(snap *collect.HTTPSnapshot) State {
	if snap == nil {
		return Offline
	}

	if snap.StatusCode == 403 || snap.StatusCode == 503 {
		for _, h := range wafHeaders {
			if snap.Headers.Get(h) != "" {
				return WAFChallenge
			}
		}
		body := strings.ToLower(snap.BodyText())
		for _, marker := range challengeMarkers {
			if strings.Contains(body, marker) {
				return WAFChallenge
			}
		}
	}

	body := strings.ToLower(strings.TrimSpace(snap.BodyText()))
	if len(body) > 0 && len(body) < parkedBodyMax {
		for _, phrase := range parkingPhrases {
			if strings.Contains(body, phrase) {
				return Parked
			}
		}
	}

	return Online
}
