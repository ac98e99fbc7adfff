package collect

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// TLSClient performs a handshake to capture certificate details. The
// handshake skips chain verification on purpose: an invalid certificate is
// evidence, not an error.
type TLSClient struct {
	logger  *slog.Logger
	timeout time.Duration
}

func NewTLSClient(logger *slog.Logger, timeout time.Duration) *TLSClient {
	return &TLSClient{logger: logger, timeout: timeout}
}

func insecureTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec
		MinVersion:         tls.VersionTLS10,
	}
}

// Collect handshakes with host:port and describes the presented leaf.
func (t *TLSClient) Collect(ctx context.Context, host, port string) (*TLSInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: t.timeout}
	rawConn, err := guardedDial(ctx, dialer, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	defer rawConn.Close()

	cfg := insecureTLSConfig()
	cfg.ServerName = host
	conn := tls.Client(rawConn, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls: handshake %s: %w", host, err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("tls: %s presented no certificate", host)
	}
	leaf := state.PeerCertificates[0]

	return &TLSInfo{
		Version:       tls.VersionName(state.Version),
		CipherSuite:   tls.CipherSuiteName(state.CipherSuite),
		Subject:       leaf.Subject.CommonName,
		Issuer:        leaf.Issuer.CommonName,
		DNSNames:      leaf.DNSNames,
		NotBefore:     leaf.NotBefore.UTC(),
		NotAfter:      leaf.NotAfter.UTC(),
		SelfSigned:    bytes.Equal(leaf.RawIssuer, leaf.RawSubject),
		HostnameMatch: leaf.VerifyHostname(host) == nil,
		ChainLength:   len(state.PeerCertificates),
		CollectedAt:   time.Now().UTC(),
	}, nil
}
