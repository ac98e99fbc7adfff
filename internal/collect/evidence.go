// Package collect gathers external evidence about a scan target: WHOIS
// registration data, DNS record sets, TLS certificate details and a size-
// capped HTTP snapshot. Every collector runs under its own budget and a
// per-dependency circuit breaker; failures degrade to missing fields with a
// diagnostic instead of failing the scan.
package collect

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Budgets holds the per-collector timeouts.
type Budgets struct {
	DNS   time.Duration
	TCP   time.Duration
	TLS   time.Duration
	HTTP  time.Duration
	Whois time.Duration
}

// DefaultBudgets returns the production timeouts.
func DefaultBudgets() Budgets {
	return Budgets{
		DNS:   1 * time.Second,
		TCP:   2 * time.Second,
		TLS:   2 * time.Second,
		HTTP:  6 * time.Second,
		Whois: 5 * time.Second,
	}
}

// WhoisRecord is the parsed WHOIS response for a registrable domain.
type WhoisRecord struct {
	Domain      string     `json:"domain"`
	Registrar   string     `json:"registrar,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	NameServers []string   `json:"name_servers,omitempty"`
	Country     string     `json:"country,omitempty"`
	Privacy     bool       `json:"privacy"`
	Raw         string     `json:"-"`
	CollectedAt time.Time  `json:"collected_at"`
}

// AgeDays returns whole days since registration, or -1 when unknown.
func (w *WhoisRecord) AgeDays(now time.Time) int {
	if w == nil || w.CreatedAt == nil {
		return -1
	}
	return int(now.Sub(*w.CreatedAt).Hours() / 24)
}

// DNSRecords is the resolved record set for a host.
type DNSRecords struct {
	Host        string    `json:"host"`
	A           []string  `json:"a,omitempty"`
	AAAA        []string  `json:"aaaa,omitempty"`
	CNAME       string    `json:"cname,omitempty"`
	MX          []string  `json:"mx,omitempty"`
	NS          []string  `json:"ns,omitempty"`
	TXT         []string  `json:"txt,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// FirstIP returns the first resolved address, preferring IPv4.
func (d *DNSRecords) FirstIP() string {
	if d == nil {
		return ""
	}
	if len(d.A) > 0 {
		return d.A[0]
	}
	if len(d.AAAA) > 0 {
		return d.AAAA[0]
	}
	return ""
}

// SPF returns the SPF policy TXT record, if published.
func (d *DNSRecords) SPF() string {
	if d == nil {
		return ""
	}
	for _, txt := range d.TXT {
		if strings.HasPrefix(strings.ToLower(txt), "v=spf1") {
			return txt
		}
	}
	return ""
}

// TLSInfo describes the certificate presented during the handshake.
type TLSInfo struct {
	Version       string    `json:"version"`
	CipherSuite   string    `json:"cipher_suite"`
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	DNSNames      []string  `json:"dns_names,omitempty"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	SelfSigned    bool      `json:"self_signed"`
	HostnameMatch bool      `json:"hostname_match"`
	ChainLength   int       `json:"chain_length"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Expired reports whether the certificate validity window excludes now.
func (t *TLSInfo) Expired(now time.Time) bool {
	return t != nil && (now.Before(t.NotBefore) || now.After(t.NotAfter))
}

// Hop is one step of a redirect chain.
type Hop struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// HTTPSnapshot is the capped response for the canonical URL.
type HTTPSnapshot struct {
	StatusCode    int         `json:"status_code"`
	FinalURL      string      `json:"final_url"`
	Redirects     []Hop       `json:"redirects,omitempty"`
	Headers       http.Header `json:"headers,omitempty"`
	ContentType   string      `json:"content_type,omitempty"`
	SniffedType   string      `json:"sniffed_type,omitempty"`
	Body          []byte      `json:"-"`
	BodyTruncated bool        `json:"body_truncated"`
	CollectedAt   time.Time   `json:"collected_at"`
}

// BodyText returns the body as text when the sniffed type is textual and
// the bytes are valid UTF-8; binary payloads are never interpreted.
func (h *HTTPSnapshot) BodyText() string {
	if h == nil || len(h.Body) == 0 {
		return ""
	}
	st := h.SniffedType
	if !strings.HasPrefix(st, "text/") &&
		!strings.Contains(st, "json") &&
		!strings.Contains(st, "xml") &&
		!strings.Contains(st, "javascript") {
		return ""
	}
	if !utf8.Valid(h.Body) {
		return ""
	}
	return string(h.Body)
}

// Evidence is everything learned about a target. Fields stay nil when their
// collector failed or was skipped; Diagnostics records why. The bundle is
// assembled once per scan and read-only afterwards.
type Evidence struct {
	Whois       *WhoisRecord  `json:"whois,omitempty"`
	DNS         *DNSRecords   `json:"dns,omitempty"`
	TLS         *TLSInfo      `json:"tls,omitempty"`
	HTTP        *HTTPSnapshot `json:"http,omitempty"`
	ResolvedIP  string        `json:"resolved_ip,omitempty"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
}
