// Package tls serves the API over HTTPS with certificates provisioned
// automatically through certmagic. Enabled only when AUTO_TLS_DOMAIN is set;
// plain HTTP remains the default for development and for deployments that
// terminate TLS upstream.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/caddyserver/certmagic"
)

// CertManager wraps a certmagic config scoped to the configured API domains.
type CertManager struct {
	logger  *slog.Logger
	cfg     *certmagic.Config
	domains []string
}

// NewCertManager returns nil when AUTO_TLS_DOMAIN is unset. The variable
// holds a comma-separated list of hostnames the server answers on.
func NewCertManager(logger *slog.Logger) *CertManager {
	raw := os.Getenv("AUTO_TLS_DOMAIN")
	if raw == "" {
		return nil
	}
	var domains []string
	for _, d := range strings.Split(raw, ",") {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		return nil
	}

	certmagic.DefaultACME.Email = os.Getenv("ACME_EMAIL")
	certmagic.DefaultACME.Agreed = true
	if os.Getenv("URLWARDEN_ENV") != "production" {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	cfg := certmagic.NewDefault()
	cm := &CertManager{logger: logger, cfg: cfg, domains: domains}
	cfg.OnDemand = &certmagic.OnDemandConfig{DecisionFunc: cm.allowCert}
	return cm
}

// allowCert admits only the configured hostnames; anything else is a
// probe hitting the listener by IP or a stray SNI.
func (cm *CertManager) allowCert(ctx context.Context, name string) error {
	for _, d := range cm.domains {
		if strings.EqualFold(d, name) {
			return nil
		}
	}
	return fmt.Errorf("unknown domain: %s", name)
}

// ListenAndServe pre-provisions certificates for the configured domains and
// serves the handler over TLS on the standard HTTPS port.
func (cm *CertManager) ListenAndServe(handler http.Handler) error {
	cm.logger.Info("starting TLS server", "domains", cm.domains)

	if err := cm.cfg.ManageSync(context.Background(), cm.domains); err != nil {
		return fmt.Errorf("manage domains: %w", err)
	}

	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", certmagic.HTTPSPort), cm.cfg.TLSConfig())
	if err != nil {
		return fmt.Errorf("tls listen: %w", err)
	}

	cm.logger.Info("serving HTTPS", "port", certmagic.HTTPSPort)
	return http.Serve(ln, handler)
}
