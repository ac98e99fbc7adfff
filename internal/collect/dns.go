package collect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// DNSClient resolves the full record set for a host against a single
// recursive resolver. Queries for the six record types run concurrently
// under one budget.
type DNSClient struct {
	logger   *slog.Logger
	client   *dns.Client
	resolver string
	timeout  time.Duration
}

// NewDNSClient creates a client against resolver ("host:port").
func NewDNSClient(logger *slog.Logger, resolver string, timeout time.Duration) *DNSClient {
	return &DNSClient{
		logger:   logger,
		client:   &dns.Client{Timeout: timeout},
		resolver: resolver,
		timeout:  timeout,
	}
}

// Resolve queries A, AAAA, CNAME, MX, NS and TXT records for host. A host
// that does not resolve yields an empty record set, not an error; errors
// are reserved for resolver transport failures.
func (c *DNSClient) Resolve(ctx context.Context, host string) (*DNSRecords, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fqdn := dns.Fqdn(host)
	rec := &DNSRecords{Host: host}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var okCount int
	var firstErr error

	run := func(qtype uint16, apply func(*dns.Msg)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := new(dns.Msg)
			msg.SetQuestion(fqdn, qtype)
			msg.RecursionDesired = true
			resp, _, err := c.client.ExchangeContext(ctx, msg, c.resolver)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			okCount++
			apply(resp)
		}()
	}

	run(dns.TypeA, func(resp *dns.Msg) {
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				rec.A = append(rec.A, a.A.String())
			}
		}
	})
	run(dns.TypeAAAA, func(resp *dns.Msg) {
		for _, rr := range resp.Answer {
			if aaaa, ok := rr.(*dns.AAAA); ok {
				rec.AAAA = append(rec.AAAA, aaaa.AAAA.String())
			}
		}
	})
	run(dns.TypeCNAME, func(resp *dns.Msg) {
		for _, rr := range resp.Answer {
			if cname, ok := rr.(*dns.CNAME); ok {
				rec.CNAME = strings.TrimSuffix(cname.Target, ".")
				return
			}
		}
	})
	run(dns.TypeMX, func(resp *dns.Msg) {
		for _, rr := range resp.Answer {
			if mx, ok := rr.(*dns.MX); ok {
				rec.MX = append(rec.MX, strings.TrimSuffix(mx.Mx, "."))
			}
		}
	})
	run(dns.TypeNS, func(resp *dns.Msg) {
		for _, rr := range resp.Answer {
			if ns, ok := rr.(*dns.NS); ok {
				rec.NS = append(rec.NS, strings.TrimSuffix(ns.Ns, "."))
			}
		}
	})
	run(dns.TypeTXT, func(resp *dns.Msg) {
		for _, rr := range resp.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				rec.TXT = append(rec.TXT, strings.Join(txt.Txt, ""))
			}
		}
	})

	wg.Wait()

	if okCount == 0 && firstErr != nil {
		return nil, fmt.Errorf("dns: resolve %s via %s: %w", host, c.resolver, firstErr)
	}

	// Resolvers rotate answer order between queries; sort for stable
	// evidence.
	sort.Strings(rec.A)
	sort.Strings(rec.AAAA)
	sort.Strings(rec.MX)
	sort.Strings(rec.NS)
	sort.Strings(rec.TXT)
	rec.CollectedAt = time.Now().UTC()
	return rec, nil
}

// LookupTXT resolves TXT records for a name; used for DMARC policy checks
// on _dmarc subdomains.
func (c *DNSClient) LookupTXT(ctx context.Context, name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true
	resp, _, err := c.client.ExchangeContext(ctx, msg, c.resolver)
	if err != nil {
		return nil, fmt.Errorf("dns: txt %s: %w", name, err)
	}
	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	sort.Strings(out)
	return out, nil
}
