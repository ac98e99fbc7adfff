// Package netguard blocks outbound connections to private/internal IP
// ranges. Scan targets are attacker-controlled URLs, so the prober and the
// evidence collectors must never be steered into loopback, RFC1918 or cloud
// metadata space, including via redirects or DNS rebinding.
package netguard

import (
	"fmt"
	"net"
	"os"
)

// AllowLoopback permits loopback targets. Off in production; enabled for
// local development and tests via SCAN_ALLOW_LOOPBACK=1.
var AllowLoopback = os.Getenv("SCAN_ALLOW_LOOPBACK") == "1"

// BlockedCIDRs are networks a scan target must never resolve to.
var BlockedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918 / Docker bridge networks
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // link-local / cloud metadata
		"0.0.0.0/8",      // unspecified
		"100.64.0.0/10",  // CGNAT
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, ipNet, _ := net.ParseCIDR(c)
		nets = append(nets, ipNet)
	}
	return nets
}()

// IsBlocked returns true if the IP falls within a private/internal range.
func IsBlocked(ip net.IP) bool {
	if AllowLoopback && ip.IsLoopback() {
		return false
	}
	for _, cidr := range BlockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckAddrs returns an error when any resolved address is in a blocked
// range. Callers resolve first, then dial only vetted addresses.
func CheckAddrs(host string, addrs []net.IP) error {
	for _, ip := range addrs {
		if IsBlocked(ip) {
			return fmt.Errorf("host %s resolves to blocked address %s", host, ip)
		}
	}
	return nil
}
