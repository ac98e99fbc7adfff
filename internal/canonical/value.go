package canonical

import (
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

// Indicator types understood by the store and the query engine.
const (
	TypeURL    = "url"
	TypeDomain = "domain"
	TypeIP     = "ip"
	TypeHash   = "hash"
	TypeEmail  = "email"
)

// Value canonicalizes an indicator value per its type and returns the
// canonical string together with its hex SHA-256. Sync writes and query
// lookups both go through here so hashes always agree.
func Value(indicatorType, raw string) (canonical, hash string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty %s value", indicatorType)
	}

	switch indicatorType {
	case TypeURL:
		u, err := Parse(raw)
		if err != nil {
			return "", "", err
		}
		return u.String(), u.Fingerprint, nil

	case TypeDomain:
		d := strings.ToLower(strings.TrimSuffix(raw, "."))
		d = strings.TrimPrefix(d, "*.")
		if a, err := idna.Lookup.ToASCII(d); err == nil {
			d = a
		}
		return d, HashValue(d), nil

	case TypeIP:
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			// CIDR feed lines carry the network address before the slash.
			if base, _, ok := strings.Cut(raw, "/"); ok {
				if a2, err2 := netip.ParseAddr(base); err2 == nil {
					addr = a2
				} else {
					return "", "", fmt.Errorf("parse ip %q: %w", raw, err)
				}
			} else {
				return "", "", fmt.Errorf("parse ip %q: %w", raw, err)
			}
		}
		c := addr.String()
		return c, HashValue(c), nil

	case TypeHash:
		h := strings.ToLower(raw)
		for _, r := range h {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				return "", "", fmt.Errorf("non-hex hash value %q", raw)
			}
		}
		return h, HashValue(h), nil

	case TypeEmail:
		e := strings.ToLower(raw)
		if !strings.Contains(e, "@") {
			return "", "", fmt.Errorf("invalid email %q", raw)
		}
		return e, HashValue(e), nil

	default:
		return "", "", fmt.Errorf("unknown indicator type %q", indicatorType)
	}
}
