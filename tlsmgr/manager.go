// Package tlsmgr implements the TLS certificate manager (C10): for every
// configured hostname it serves a certificate at handshake time and answers
// HTTP-01 challenges, without the lifecycle controller ever knowing TLS
// exists. Certificate issuance is either delegated to Let's Encrypt via
// autocert, or produced locally from the self-signed CA in the security
// package — the ACME protocol itself is someone else's problem, per the
// manager's one job: hand back a *tls.Certificate for a name.
package tlsmgr

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/frectonz/penny/security"
	"github.com/frectonz/penny/xlog"
)

// Config mirrors the [tls] table in §6.
type Config struct {
	Enabled                   bool
	AcmeEmail                 string
	Staging                   bool
	CertsDir                  string
	RenewalDays               int
	RenewalCheckIntervalHours int
}

func (c Config) withDefaults() Config {
	if c.CertsDir == "" {
		c.CertsDir = "./certs"
	}
	if c.RenewalDays == 0 {
		c.RenewalDays = 30
	}
	if c.RenewalCheckIntervalHours == 0 {
		c.RenewalCheckIntervalHours = 12
	}
	return c
}

// Manager hands out certificates by hostname and answers ACME HTTP-01
// challenges. Hosts is the full set of hostnames it must be able to serve a
// certificate for; Prewarm requests a certificate for each of them in turn,
// logging and skipping any host whose ACME issuance fails, and stops early
// once its context is done.
type Manager struct {
	cfg      Config
	hosts    map[string]struct{}
	autocert *autocert.Manager
	secret   string
	log      *xlog.Logger
}

// New builds a manager for the given hostnames. secret seeds the self-signed
// CA used when ACME is disabled; it is ignored otherwise.
func New(cfg Config, hosts []string, secret string) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:    cfg,
		hosts:  make(map[string]struct{}, len(hosts)),
		secret: secret,
		log:    xlog.NewDomain("tlsmgr"),
	}
	for _, h := range hosts {
		m.hosts[h] = struct{}{}
	}

	if cfg.Enabled {
		security.CertDir = cfg.CertsDir
		dir := acme.LetsEncryptURL
		if cfg.Staging {
			dir = "https://acme-staging-v02.api.letsencrypt.org/directory"
		}
		m.autocert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(cfg.CertsDir),
			HostPolicy: m.hostPolicy,
			Email:      cfg.AcmeEmail,
			Client:     &acme.Client{DirectoryURL: dir},
		}
	} else {
		security.CertDir = cfg.CertsDir
	}

	return m
}

func (m *Manager) hostPolicy(_ context.Context, host string) error {
	if _, ok := m.hosts[host]; ok {
		return nil
	}
	return fmt.Errorf("tlsmgr: unconfigured host %q", host)
}

// HTTPHandler mounts the ACME HTTP-01 challenge responder under
// /.well-known/acme-challenge/*, falling back to fallback for every other
// path. When ACME is disabled it is a pass-through to fallback.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autocert == nil {
		return fallback
	}
	return m.autocert.HTTPHandler(fallback)
}

// GetCertificate resolves a certificate by SNI at TLS handshake time.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autocert != nil {
		return m.autocert.GetCertificate(hello)
	}

	host := hello.ServerName
	if _, ok := m.hosts[host]; !ok && host != "" {
		m.log.Warn().Str("host", host).Msg("TLS handshake for unconfigured host")
	}
	cert := security.ObtainCertificate(m.secret, host)
	return cert.TLS, nil
}

// TLSConfig returns a *tls.Config whose GetCertificate resolves per-host
// through this manager.
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{GetCertificate: m.GetCertificate}
}

// Prewarm obtains (or loads) a certificate for every configured host before
// returning, bounded by ctx. Self-signed certificates are synchronous and
// always succeed; ACME issuance can fail or time out, in which case the
// caller should still start the HTTP listener — per §5, TLS/ACME errors are
// non-fatal after startup.
func (m *Manager) Prewarm(ctx context.Context) error {
	for host := range m.hosts {
		if m.autocert == nil {
			security.ObtainCertificate(m.secret, host)
			continue
		}
		hello := &tls.ClientHelloInfo{ServerName: host}
		if _, err := m.autocert.GetCertificate(hello); err != nil {
			m.log.Warn().Err(err).Str("host", host).Msg("failed to obtain certificate at startup")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// RenewalInterval is the configured renewal_check_interval_hours as a
// duration. Nothing in this package schedules checks with it; renewal of
// ACME certificates is left to autocert.Manager.
func (m *Manager) RenewalInterval() time.Duration {
	return time.Duration(m.cfg.RenewalCheckIntervalHours) * time.Hour
}
