package edge

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// sessionTimeout is the lifetime session tickets are valid for, per
// SPEC_FULL.md section 4.4.
const sessionTimeout = 7 * 24 * time.Hour

// handshakeTimeout returns max(ioTimeout/2, 3s), the bound the DoT
// listener applies before giving up on a stalled handshake. The DoH
// listener does not use it; its http.Server ReadTimeout bounds handshakes.
func handshakeTimeout(ioTimeout time.Duration) time.Duration {
	if h := ioTimeout / 2; h > 3*time.Second {
		return h
	}
	return 3 * time.Second
}

// TLSServerConfig builds a tls.Config for a listener that self-terminates
// TLS: ALPN as given (h2 for DoH, none for DoT), session tickets enabled.
// The config sets no session lifetime of its own; crypto/tls caps ticket
// lifetime at 7 days, the same value as sessionTimeout above. The
// certificate is loaded once;
// ticket keys are installed separately by the ticket rotator (ticketrotator.go).
func TLSServerConfig(crtFile, keyFile string, alpn []string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(crtFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse server certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		Certificates:   []tls.Certificate{cert},
		NextProtos:     alpn,
		SessionTicketsDisabled: false,
	}, nil
}
