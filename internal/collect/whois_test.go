package collect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

const sampleWhois = `Domain Name: EXAMPLE-SHOP.COM
Registry Domain ID: 2336799_DOMAIN_COM-VRSN
Registrar WHOIS Server: whois.registrar.example
Registrar: NameCheap, Inc.
Updated Date: 2025-07-14T09:21:03Z
Creation Date: 2025-08-20T16:00:21Z
Registry Expiry Date: 2026-08-20T16:00:21Z
Registrant Country: IS
Name Server: DNS1.REGISTRAR-SERVERS.COM
Name Server: DNS2.REGISTRAR-SERVERS.COM
Registrant Name: Redacted for Privacy
>>> Last update of whois database: 2025-08-23T11:00:00Z <<<
`

func TestParseWhois(t *testing.T) {
	rec := parseWhois("example-shop.com", sampleWhois)

	if rec.Registrar != "NameCheap, Inc." {
		t.Errorf("registrar = %q", rec.Registrar)
	}
	if rec.CreatedAt == nil || !rec.CreatedAt.Equal(time.Date(2025, 8, 20, 16, 0, 21, 0, time.UTC)) {
		t.Errorf("created = %v", rec.CreatedAt)
	}
	if rec.ExpiresAt == nil || rec.ExpiresAt.Year() != 2026 {
		t.Errorf("expires = %v", rec.ExpiresAt)
	}
	if rec.Country != "IS" {
		t.Errorf("country = %q", rec.Country)
	}
	want := []string{"dns1.registrar-servers.com", "dns2.registrar-servers.com"}
	if len(rec.NameServers) != 2 || rec.NameServers[0] != want[0] || rec.NameServers[1] != want[1] {
		t.Errorf("name servers = %v, want %v", rec.NameServers, want)
	}
	if !rec.Privacy {
		t.Error("privacy marker not detected")
	}
}

func TestWhoisAgeDays(t *testing.T) {
	created := time.Date(2025, 8, 20, 16, 0, 21, 0, time.UTC)
	rec := &WhoisRecord{CreatedAt: &created}
	now := time.Date(2025, 8, 23, 18, 0, 0, 0, time.UTC)

	if got := rec.AgeDays(now); got != 3 {
		t.Errorf("AgeDays = %d, want 3", got)
	}
	var missing *WhoisRecord
	if got := missing.AgeDays(now); got != -1 {
		t.Errorf("AgeDays with no record = %d, want -1", got)
	}
	if got := (&WhoisRecord{}).AgeDays(now); got != -1 {
		t.Errorf("AgeDays with no creation date = %d, want -1", got)
	}
}

func TestParseWhoisDateLayouts(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2025-08-20T16:00:21Z", "2025-08-20"},
		{"2025-08-20 16:00:21", "2025-08-20"},
		{"2025-08-20", "2025-08-20"},
		{"20-Aug-2025", "2025-08-20"},
		{"2025.08.20", "2025-08-20"},
		{"2025/08/20", "2025-08-20"},
		{"2025-08-20T16:00:21Z (UTC)", "2025-08-20"},
		{"2025-08-20 16:00:21 CLST", "2025-08-20"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := parseWhoisDate(tc.in)
			if !ok {
				t.Fatalf("parseWhoisDate(%q) failed", tc.in)
			}
			if got.Format("2006-01-02") != tc.want {
				t.Errorf("parseWhoisDate(%q) = %s, want %s", tc.in, got.Format("2006-01-02"), tc.want)
			}
		})
	}

	if _, ok := parseWhoisDate("before aug-1996"); ok {
		t.Error("garbage date should not parse")
	}
}

func TestReferralServer(t *testing.T) {
	raw := "Registrar WHOIS Server: whois.registrar.example\n"
	if got := referralServer(raw); got != "whois.registrar.example" {
		t.Errorf("referral = %q", got)
	}
	if got := referralServer("Registrar WHOIS Server: http://whois.registrar.example\n"); got != "whois.registrar.example" {
		t.Errorf("referral with scheme = %q", got)
	}
	if got := referralServer("Registrar WHOIS Server:\n"); got != "" {
		t.Errorf("empty referral = %q", got)
	}
}

// whoisTestServer answers every query on a loopback listener with response.
func whoisTestServer(t *testing.T, response string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 256)
				if _, err := c.Read(buf); err != nil && err != io.EOF {
					return
				}
				fmt.Fprint(c, response)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestWhoisLookupAgainstLocalServer(t *testing.T) {
	addr := whoisTestServer(t, sampleWhois)

	client := NewWhoisClient(slog.Default(), 2*time.Second)
	client.Server = addr

	rec, err := client.Lookup(context.Background(), "example-shop.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Registrar != "NameCheap, Inc." {
		t.Errorf("registrar = %q", rec.Registrar)
	}
	if rec.CollectedAt.IsZero() {
		t.Error("collected_at not set")
	}
	if !strings.Contains(rec.Raw, "Creation Date") {
		t.Error("raw response not retained")
	}
}
