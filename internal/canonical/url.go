// Package canonical normalizes URLs and indicator values into the byte
// forms used for hashing, caching and threat-intel matching.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

var (
	ErrMalformedURL      = errors.New("malformed url")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrURLTooLong        = errors.New("url exceeds 2048 bytes")
)

const maxURLLen = 2048

// URL is the canonical decomposition of an input URL. Fingerprint is the
// hex SHA-256 of the canonical byte string and keys every cache and the
// singleflight group.
type URL struct {
	Scheme            string `json:"scheme"`
	Host              string `json:"host"`
	Port              string `json:"port,omitempty"`
	RegistrableDomain string `json:"registrable_domain,omitempty"`
	TLD               string `json:"tld,omitempty"`
	Path              string `json:"path"`
	Query             string `json:"query,omitempty"`
	Fingerprint       string `json:"fingerprint"`
}

// Parse canonicalizes a raw URL. Inputs without a scheme are treated as
// https. Only http and https are accepted. The fragment is dropped.
func Parse(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedURL
	}
	if len(raw) > maxURLLen {
		return nil, ErrURLTooLong
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, parsed.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
	if host == "" {
		return nil, ErrMalformedURL
	}
	if !isIPLiteral(host) {
		host, err = idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: idn: %v", ErrMalformedURL, err)
		}
	}

	port := parsed.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	u := &URL{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Path:   normalizePath(parsed.EscapedPath()),
		Query:  sortQuery(parsed.RawQuery),
	}
	if !isIPLiteral(host) {
		u.RegistrableDomain, u.TLD = splitRegistrable(host)
	}
	u.Fingerprint = HashValue(u.String())
	return u, nil
}

// String renders the canonical byte form: scheme://host[:port]/path[?query].
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	if u.Port != "" {
		b.WriteString(":")
		b.WriteString(u.Port)
	}
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteString("?")
		b.WriteString(u.Query)
	}
	return b.String()
}

// PortOrDefault returns the explicit port or the scheme default.
func (u *URL) PortOrDefault() string {
	if u.Port != "" {
		return u.Port
	}
	if u.Scheme == "http" {
		return "80"
	}
	return "443"
}

// IsIPHost reports whether the host is an IP literal rather than a name.
func (u *URL) IsIPHost() bool {
	return isIPLiteral(u.Host)
}

// SubdomainDepth counts labels left of the registrable domain.
// "a.b.example.com" has depth 2; "example.com" has depth 0.
func (u *URL) SubdomainDepth() int {
	if u.RegistrableDomain == "" || u.Host == u.RegistrableDomain {
		return 0
	}
	prefix := strings.TrimSuffix(u.Host, "."+u.RegistrableDomain)
	if prefix == u.Host {
		return 0
	}
	return strings.Count(prefix, ".") + 1
}

func isIPLiteral(host string) bool {
	_, err := netip.ParseAddr(strings.Trim(host, "[]"))
	return err == nil
}

func splitRegistrable(host string) (registrable, tld string) {
	tld, _ = publicsuffix.PublicSuffix(host)
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		registrable = etld1
	}
	return registrable, tld
}

// normalizePath decodes unreserved percent-escapes and upper-hexes the rest,
// so equivalent encodings collapse to one byte string. An empty path becomes
// the root path.
func normalizePath(escaped string) string {
	if escaped == "" {
		return "/"
	}
	var b strings.Builder
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c == '%' && i+2 < len(escaped) && isHex(escaped[i+1]) && isHex(escaped[i+2]) {
			octet := unhex(escaped[i+1])<<4 | unhex(escaped[i+2])
			if isUnreserved(octet) {
				b.WriteByte(octet)
			} else {
				b.WriteByte('%')
				b.WriteByte(upperHexDigit(escaped[i+1]))
				b.WriteByte(upperHexDigit(escaped[i+2]))
			}
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// sortQuery re-encodes the query with pairs sorted by key, then value.
// Unparseable queries are kept verbatim so no information is invented.
func sortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	type pair struct{ k, v string }
	var pairs []pair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		ku, err1 := url.QueryUnescape(k)
		vu, err2 := url.QueryUnescape(v)
		if err1 != nil || err2 != nil {
			return rawQuery
		}
		pairs = append(pairs, pair{ku, vu})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteString("&")
		}
		b.WriteString(url.QueryEscape(p.k))
		if p.v != "" {
			b.WriteString("=")
			b.WriteString(url.QueryEscape(p.v))
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func upperHexDigit(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}

func isUnreserved(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// HashValue returns the hex SHA-256 of a canonical byte string.
func HashValue(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
