package transport

import (
	"crypto/tls"
	"fmt"

	"golang.org/x/crypto/acme/autocert"
)

// TLSOptions configures the *tls.Config used by both transports.
type TLSOptions struct {
	// ServerName overrides the SNI/verification name when dialing.
	ServerName string
	// InsecureSkipVerify disables certificate verification. Only meant for
	// local development against a self-signed test harness.
	InsecureSkipVerify bool
	// AutocertCacheDir, when set, builds a *tls.Config backed by an
	// autocert.Manager sharing the named cache directory with a co-located
	// test server — the same mechanism internal/server/acme.go uses
	// server-side, reused here only so a client and an in-process test
	// server can agree on a certificate without a manual CA step. Most
	// production deployments leave this unset and instead set ServerName
	// plus the system trust store.
	AutocertCacheDir string
}

// NewTLSConfig builds a *tls.Config for dialing the ingestion service.
func NewTLSConfig(opts TLSOptions) (*tls.Config, error) {
	if opts.AutocertCacheDir != "" {
		mgr := &autocert.Manager{
			Cache:  autocert.DirCache(opts.AutocertCacheDir),
			Prompt: autocert.AcceptTOS,
		}
		cfg := mgr.TLSConfig()
		cfg.ServerName = opts.ServerName
		return cfg, nil
	}

	if opts.ServerName == "" && !opts.InsecureSkipVerify {
		return nil, fmt.Errorf("transport: TLSOptions.ServerName is required unless InsecureSkipVerify is set")
	}

	return &tls.Config{
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}, nil
}
