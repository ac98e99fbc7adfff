package canonical

import (
	"errors"
	"strings"
	"testing"
)

func TestParseCanonicalForm(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare host", "Example.COM", "https://example.com/"},
		{"default https port", "https://example.com:443/a", "https://example.com/a"},
		{"default http port", "http://example.com:80/a", "http://example.com/a"},
		{"non-default port kept", "https://example.com:8443/", "https://example.com:8443/"},
		{"fragment dropped", "https://example.com/p#frag", "https://example.com/p"},
		{"query sorted by key", "https://example.com/?b=2&a=1", "https://example.com/?a=1&b=2"},
		{"query sorted by value", "https://example.com/?a=2&a=1", "https://example.com/?a=1&a=2"},
		{"idn to punycode", "https://bücher.example/", "https://xn--bcher-kva.example/"},
		{"unreserved escape decoded", "https://example.com/%7Euser", "https://example.com/~user"},
		{"reserved escape upper-hexed", "https://example.com/a%2fb", "https://example.com/a%2Fb"},
		{"trailing host dot", "https://example.com./x", "https://example.com/x"},
		{"empty path becomes root", "https://example.com", "https://example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got := u.String(); got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://WWW.Example.COM:80/Path/%7eX?z=1&a=2#f",
		"https://bücher.example/straße?ä=ö",
		"https://sub.deep.example.co.uk/a%2Fb?x&y=",
		"http://192.168.1.1:8080/x",
	}
	for _, raw := range inputs {
		first, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		second, err := Parse(first.String())
		if err != nil {
			t.Fatalf("Parse(Parse(%q).String()): %v", raw, err)
		}
		if first.String() != second.String() {
			t.Errorf("not idempotent: %q -> %q -> %q", raw, first.String(), second.String())
		}
		if first.Fingerprint != second.Fingerprint {
			t.Errorf("fingerprint drift for %q: %s vs %s", raw, first.Fingerprint, second.Fingerprint)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"empty", "", ErrMalformedURL},
		{"ftp scheme", "ftp://example.com/file", ErrUnsupportedScheme},
		{"javascript scheme", "javascript://alert(1)", ErrUnsupportedScheme},
		{"too long", "https://example.com/" + strings.Repeat("a", 2100), ErrURLTooLong},
		{"no host", "https:///path", ErrMalformedURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		raw             string
		wantRegistrable string
		wantTLD         string
		wantDepth       int
	}{
		{"https://example.com/", "example.com", "com", 0},
		{"https://login.secure.example.co.uk/", "example.co.uk", "co.uk", 2},
		{"https://a.b.c.example.tk/", "example.tk", "tk", 3},
		{"https://www.example.com/", "example.com", "com", 1},
	}
	for _, tt := range tests {
		u, err := Parse(tt.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.raw, err)
		}
		if u.RegistrableDomain != tt.wantRegistrable {
			t.Errorf("%q registrable = %q, want %q", tt.raw, u.RegistrableDomain, tt.wantRegistrable)
		}
		if u.TLD != tt.wantTLD {
			t.Errorf("%q tld = %q, want %q", tt.raw, u.TLD, tt.wantTLD)
		}
		if got := u.SubdomainDepth(); got != tt.wantDepth {
			t.Errorf("%q depth = %d, want %d", tt.raw, got, tt.wantDepth)
		}
	}
}

func TestParseIPHost(t *testing.T) {
	u, err := Parse("http://192.0.2.10/admin")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !u.IsIPHost() {
		t.Error("expected IP host")
	}
	if u.RegistrableDomain != "" || u.TLD != "" {
		t.Errorf("IP host should have no registrable domain, got %q/%q", u.RegistrableDomain, u.TLD)
	}
}

func TestFingerprintStability(t *testing.T) {
	// Equivalent spellings must share a fingerprint.
	a, err := Parse("HTTPS://Example.com:443/a b?x=1&a=2")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse("https://example.com/a%20b?a=2&x=1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("equivalent URLs hash differently: %s vs %s", a.Fingerprint, b.Fingerprint)
	}
	if len(a.Fingerprint) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a.Fingerprint))
	}
}

func TestValueCanonicalization(t *testing.T) {
	tests := []struct {
		typ     string
		raw     string
		want    string
		wantErr bool
	}{
		{TypeDomain, "EVIL.Example.COM.", "evil.example.com", false},
		{TypeDomain, "*.evil.example", "evil.example", false},
		{TypeIP, "192.0.2.1", "192.0.2.1", false},
		{TypeIP, "2001:DB8:0:0:0:0:0:1", "2001:db8::1", false},
		{TypeIP, "198.51.100.0/24", "198.51.100.0", false},
		{TypeIP, "not-an-ip", "", true},
		{TypeHash, "ABCDEF0123456789", "abcdef0123456789", false},
		{TypeHash, "xyz", "", true},
		{TypeEmail, "Phisher@EVIL.example", "phisher@evil.example", false},
		{TypeEmail, "no-at-sign", "", true},
		{TypeURL, "HTTP://Evil.example/Pay?b=1&a=2", "http://evil.example/Pay?a=2&b=1", false},
	}
	for _, tt := range tests {
		got, hash, err := Value(tt.typ, tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Value(%s, %q) expected error", tt.typ, tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("Value(%s, %q) error: %v", tt.typ, tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Value(%s, %q) = %q, want %q", tt.typ, tt.raw, got, tt.want)
		}
		if hash != HashValue(tt.want) {
			t.Errorf("Value(%s, %q) hash mismatch", tt.typ, tt.raw)
		}
	}
}
