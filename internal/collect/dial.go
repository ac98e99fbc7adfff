package collect

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/urlwarden/urlwarden-go/internal/netguard"
)

// Dialer returns a dial function enforcing the blocked-range policy; the
// reachability prober uses it for its raw TCP checks.
func Dialer(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return guardedDial(ctx, d, network, addr)
	}
}

// guardedDial resolves addr, rejects any target in a blocked range, and
// dials the first allowed address. Resolution and the block check happen
// on every connection so redirects and DNS rebinding cannot reach
// internal networks.
func guardedDial(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if netguard.IsBlocked(ip) {
			return nil, fmt.Errorf("dial %s: address in blocked range", addr)
		}
		return dialer.DialContext(ctx, network, addr)
	}

	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: resolve: %w", addr, err)
	}
	if err := netguard.CheckAddrs(host, addrs); err != nil {
		return nil, err
	}

	var lastErr error
	for _, resolved := range addrs {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(resolved.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dial %s: %w", addr, lastErr)
}
