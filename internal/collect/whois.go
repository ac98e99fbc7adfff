package collect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// whoisServers maps common TLDs to their registry WHOIS host, skipping the
// IANA referral roundtrip. Everything else falls back to whois.iana.org.
var whoisServers = map[string]string{
	"com":    "whois.verisign-grs.com",
	"net":    "whois.verisign-grs.com",
	"org":    "whois.publicinterestregistry.org",
	"info":   "whois.nic.info",
	"biz":    "whois.nic.biz",
	"io":     "whois.nic.io",
	"co":     "whois.nic.co",
	"us":     "whois.nic.us",
	"uk":     "whois.nic.uk",
	"ru":     "whois.tcinet.ru",
	"de":     "whois.denic.de",
	"tk":     "whois.dot.tk",
	"ml":     "whois.dot.ml",
	"xyz":    "whois.nic.xyz",
	"top":    "whois.nic.top",
	"site":   "whois.nic.site",
	"online": "whois.nic.online",
	"app":    "whois.nic.google",
	"dev":    "whois.nic.google",
	"ai":     "whois.nic.ai",
}

const whoisMaxResponse = 64 << 10

// WhoisClient speaks the plain-text WHOIS protocol on port 43, following
// one registrar referral when the registry response names one.
type WhoisClient struct {
	logger  *slog.Logger
	timeout time.Duration

	// Server forces every query to one host ("host" or "host:port").
	// Used by tests; empty in production.
	Server string
}

func NewWhoisClient(logger *slog.Logger, timeout time.Duration) *WhoisClient {
	return &WhoisClient{logger: logger, timeout: timeout}
}

// Lookup fetches and parses the WHOIS record for a registrable domain.
func (w *WhoisClient) Lookup(ctx context.Context, domain string) (*WhoisRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	server := w.Server
	if server == "" {
		var err error
		if server, err = w.serverFor(ctx, domain); err != nil {
			return nil, err
		}
	}

	raw, err := w.query(ctx, server, domain)
	if err != nil {
		return nil, err
	}

	// Registries for com/net and a few others hold only thin records; the
	// registrar server named in the response has the registrant details.
	if w.Server == "" {
		if referral := referralServer(raw); referral != "" && !strings.EqualFold(referral, server) {
			if full, err := w.query(ctx, referral, domain); err == nil && len(full) > 0 {
				raw = full
			}
		}
	}

	rec := parseWhois(domain, raw)
	rec.CollectedAt = time.Now().UTC()
	return rec, nil
}

func (w *WhoisClient) serverFor(ctx context.Context, domain string) (string, error) {
	tld := domain
	if i := strings.LastIndex(domain, "."); i >= 0 {
		tld = domain[i+1:]
	}
	if server, ok := whoisServers[tld]; ok {
		return server, nil
	}
	raw, err := w.query(ctx, "whois.iana.org", tld)
	if err != nil {
		return "", fmt.Errorf("whois: iana lookup for %q: %w", tld, err)
	}
	if server := whoisField(raw, "whois"); server != "" {
		return server, nil
	}
	return "", fmt.Errorf("whois: no server known for tld %q", tld)
}

func (w *WhoisClient) query(ctx context.Context, server, domain string) (string, error) {
	addr := server
	if !strings.Contains(server, ":") {
		addr = net.JoinHostPort(server, "43")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("whois: dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := fmt.Fprintf(conn, "%s\r\n", domain); err != nil {
		return "", fmt.Errorf("whois: send query to %s: %w", server, err)
	}
	raw, err := io.ReadAll(io.LimitReader(conn, whoisMaxResponse))
	if err != nil && len(raw) == 0 {
		return "", fmt.Errorf("whois: read from %s: %w", server, err)
	}
	return string(raw), nil
}

func referralServer(raw string) string {
	server := whoisField(raw, "registrar whois server")
	server = strings.TrimPrefix(server, "http://")
	server = strings.TrimPrefix(server, "https://")
	if server == "" || strings.ContainsAny(server, " /") {
		return ""
	}
	return server
}

// whoisField returns the value of the first "key: value" line matching key,
// case-insensitively.
func whoisField(raw, key string) string {
	for _, line := range strings.Split(raw, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var (
	whoisCreatedKeys = []string{"creation date", "created", "created on", "registered on", "registration time", "registered", "domain record activated"}
	whoisUpdatedKeys = []string{"updated date", "last updated", "last-update", "changed", "modified"}
	whoisExpiryKeys  = []string{"registry expiry date", "expiry date", "expiration date", "expires", "expire", "paid-till", "renewal date"}

	whoisDateLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05.0Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02-Jan-2006",
		"2006.01.02",
		"02.01.2006",
		"2006/01/02",
		"January 2 2006",
	}

	privacyMarkers = []string{
		"redacted for privacy",
		"whoisguard",
		"privacy protect",
		"domains by proxy",
		"withheld for privacy",
		"contact privacy",
		"data protected",
		"privacy service",
	}
)

func parseWhois(domain, raw string) *WhoisRecord {
	rec := &WhoisRecord{Domain: domain, Raw: raw}
	lower := strings.ToLower(raw)

	rec.Registrar = whoisField(raw, "registrar")
	rec.Country = whoisField(raw, "registrant country")
	if rec.Country == "" {
		rec.Country = whoisField(raw, "country")
	}

	rec.CreatedAt = firstWhoisDate(raw, whoisCreatedKeys)
	rec.UpdatedAt = firstWhoisDate(raw, whoisUpdatedKeys)
	rec.ExpiresAt = firstWhoisDate(raw, whoisExpiryKeys)

	for _, line := range strings.Split(raw, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "name server" || key == "nserver" || key == "nameserver" {
			if fields := strings.Fields(v); len(fields) > 0 {
				ns := strings.ToLower(strings.TrimSuffix(fields[0], "."))
				rec.NameServers = append(rec.NameServers, ns)
			}
		}
	}

	for _, marker := range privacyMarkers {
		if strings.Contains(lower, marker) {
			rec.Privacy = true
			break
		}
	}
	return rec
}

func firstWhoisDate(raw string, keys []string) *time.Time {
	for _, key := range keys {
		value := whoisField(raw, key)
		if value == "" {
			continue
		}
		if t, ok := parseWhoisDate(value); ok {
			return &t
		}
	}
	return nil
}

func parseWhoisDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if i := strings.Index(value, " ("); i > 0 {
		value = value[:i]
	}
	for _, layout := range whoisDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	// Some registries append a zone name after the timestamp.
	if fields := strings.Fields(value); len(fields) > 1 {
		for _, layout := range whoisDateLayouts {
			if t, err := time.Parse(layout, fields[0]); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
