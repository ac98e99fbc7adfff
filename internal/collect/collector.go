package collect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/urlwarden/urlwarden-go/internal/canonical"
	"github.com/urlwarden/urlwarden-go/internal/metrics"
)

// Collector runs the four evidence collectors in parallel against one
// target, reusing cached results per host and tripping a breaker per
// external dependency.
type Collector struct {
	logger  *slog.Logger
	budgets Budgets

	whois *WhoisClient
	dns   *DNSClient
	tls   *TLSClient
	http  *HTTPClient

	breakers map[string]*CircuitBreaker
	cache    *ttlCache
}

// NewCollector wires the collectors. resolver is "host:port" of the
// recursive DNS server; evidenceTTL bounds per-host result reuse.
func NewCollector(logger *slog.Logger, resolver string, evidenceTTL time.Duration) *Collector {
	budgets := DefaultBudgets()
	return &Collector{
		logger:  logger,
		budgets: budgets,
		whois:   NewWhoisClient(logger, budgets.Whois),
		dns:     NewDNSClient(logger, resolver, budgets.DNS),
		tls:     NewTLSClient(logger, budgets.TLS),
		http:    NewHTTPClient(logger, budgets.HTTP),
		breakers: map[string]*CircuitBreaker{
			"whois": NewCircuitBreaker(2, 60*time.Second),
			"dns":   NewCircuitBreaker(3, 30*time.Second),
			"tls":   NewCircuitBreaker(3, 30*time.Second),
			"http":  NewCircuitBreaker(3, 30*time.Second),
		},
		cache: newTTLCache(evidenceTTL),
	}
}

// DNSClient exposes the resolver for the prober and the email analyzer.
func (c *Collector) DNSClient() *DNSClient { return c.dns }

// TLSClient exposes the handshake collector for the prober.
func (c *Collector) TLSClient() *TLSClient { return c.tls }

// HTTPClient exposes the snapshot fetcher for the prober.
func (c *Collector) HTTPClient() *HTTPClient { return c.http }

// Collect fills the missing fields of seed for target. Fields already
// present (from the reachability probe) are kept as-is. Failures become
// diagnostics; Collect never fails the scan.
func (c *Collector) Collect(ctx context.Context, target *canonical.URL, seed *Evidence) *Evidence {
	ev := seed
	if ev == nil {
		ev = &Evidence{}
	}

	var mu sync.Mutex
	diag := func(format string, args ...any) {
		mu.Lock()
		ev.Diagnostics = append(ev.Diagnostics, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	if ev.Whois == nil && target.RegistrableDomain != "" && !target.IsIPHost() {
		g.Go(func() error {
			c.runWhois(gctx, target.RegistrableDomain, ev, &mu, diag)
			return nil
		})
	}

	if ev.DNS == nil {
		if target.IsIPHost() {
			ev.DNS = &DNSRecords{Host: target.Host, A: []string{target.Host}, CollectedAt: time.Now().UTC()}
		} else {
			g.Go(func() error {
				c.runDNS(gctx, target.Host, target.RegistrableDomain, ev, &mu, diag)
				return nil
			})
		}
	}

	if ev.TLS == nil && target.Scheme == "https" {
		g.Go(func() error {
			c.runTLS(gctx, target.Host, target.PortOrDefault(), ev, &mu, diag)
			return nil
		})
	}

	if ev.HTTP == nil {
		g.Go(func() error {
			c.runHTTP(gctx, target.String(), ev, &mu, diag)
			return nil
		})
	}

	_ = g.Wait()

	if ev.ResolvedIP == "" {
		ev.ResolvedIP = ev.DNS.FirstIP()
	}
	sort.Strings(ev.Diagnostics)
	return ev
}

func (c *Collector) runWhois(ctx context.Context, domain string, ev *Evidence, mu *sync.Mutex, diag func(string, ...any)) {
	key := "whois:" + domain
	if cached, ok := c.cache.get(key); ok {
		mu.Lock()
		ev.Whois = cached.(*WhoisRecord)
		mu.Unlock()
		return
	}
	breaker := c.breakers["whois"]
	if !breaker.Allow() {
		diag("whois: circuit open")
		metrics.CollectorFailures.WithLabelValues("whois").Inc()
		return
	}
	rec, err := c.whois.Lookup(ctx, domain)
	if err != nil {
		breaker.RecordFailure()
		metrics.CollectorFailures.WithLabelValues("whois").Inc()
		diag("whois: %v", err)
		return
	}
	breaker.RecordSuccess()
	c.cache.set(key, rec)
	mu.Lock()
	ev.Whois = rec
	mu.Unlock()
}

func (c *Collector) runDNS(ctx context.Context, host, registrable string, ev *Evidence, mu *sync.Mutex, diag func(string, ...any)) {
	key := "dns:" + host
	if cached, ok := c.cache.get(key); ok {
		mu.Lock()
		ev.DNS = cached.(*DNSRecords)
		mu.Unlock()
		return
	}
	breaker := c.breakers["dns"]
	if !breaker.Allow() {
		diag("dns: circuit open")
		metrics.CollectorFailures.WithLabelValues("dns").Inc()
		return
	}
	rec, err := c.dns.Resolve(ctx, host)
	if err != nil {
		breaker.RecordFailure()
		metrics.CollectorFailures.WithLabelValues("dns").Inc()
		diag("dns: %v", err)
		return
	}
	// DMARC policy lives under _dmarc.<registrable domain>; merge it into
	// the TXT set so the email analyzer sees one record list.
	if registrable != "" {
		if dmarc, err := c.dns.LookupTXT(ctx, "_dmarc."+registrable); err == nil {
			rec.TXT = append(rec.TXT, dmarc...)
		}
	}
	breaker.RecordSuccess()
	c.cache.set(key, rec)
	mu.Lock()
	ev.DNS = rec
	mu.Unlock()
}

func (c *Collector) runTLS(ctx context.Context, host, port string, ev *Evidence, mu *sync.Mutex, diag func(string, ...any)) {
	key := "tls:" + host + ":" + port
	if cached, ok := c.cache.get(key); ok {
		mu.Lock()
		ev.TLS = cached.(*TLSInfo)
		mu.Unlock()
		return
	}
	breaker := c.breakers["tls"]
	if !breaker.Allow() {
		diag("tls: circuit open")
		metrics.CollectorFailures.WithLabelValues("tls").Inc()
		return
	}
	info, err := c.tls.Collect(ctx, host, port)
	if err != nil {
		breaker.RecordFailure()
		metrics.CollectorFailures.WithLabelValues("tls").Inc()
		diag("tls: %v", err)
		return
	}
	breaker.RecordSuccess()
	c.cache.set(key, info)
	mu.Lock()
	ev.TLS = info
	mu.Unlock()
}

func (c *Collector) runHTTP(ctx context.Context, url string, ev *Evidence, mu *sync.Mutex, diag func(string, ...any)) {
	key := "http:" + url
	if cached, ok := c.cache.get(key); ok {
		mu.Lock()
		ev.HTTP = cached.(*HTTPSnapshot)
		mu.Unlock()
		return
	}
	breaker := c.breakers["http"]
	if !breaker.Allow() {
		diag("http: circuit open")
		metrics.CollectorFailures.WithLabelValues("http").Inc()
		return
	}
	snap, err := c.http.Fetch(ctx, url)
	if err != nil {
		breaker.RecordFailure()
		metrics.CollectorFailures.WithLabelValues("http").Inc()
		diag("http: %v", err)
		return
	}
	breaker.RecordSuccess()
	c.cache.set(key, snap)
	mu.Lock()
	ev.HTTP = snap
	mu.Unlock()
}

// PurgeCache drops expired evidence entries; wired to the maintenance cron.
func (c *Collector) PurgeCache() {
	c.cache.purge()
}

// CacheSize reports live evidence entries for the stats endpoint.
func (c *Collector) CacheSize() int {
	return c.cache.len()
}
