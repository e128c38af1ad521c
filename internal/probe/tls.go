package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"golang.org/x/net/proxy"
)

var tlsPorts = []uint16{443, 465, 636, 993, 995, 8443}

// TLSProbe recognizes TLS servers by completing a handshake. The peer
// certificate is inspected but never verified.
type TLSProbe struct {
	dialer     proxy.ContextDialer
	serverName string
	now        func() time.Time
	logger     *slog.Logger
}

// TLSProbeOption configures a TLSProbe.
type TLSProbeOption func(*TLSProbe)

// WithTLSDialer sets the dialer used to reach the peer.
func WithTLSDialer(d proxy.ContextDialer) TLSProbeOption {
	return func(p *TLSProbe) {
		p.dialer = d
	}
}

// WithServerName sets the SNI value sent in the ClientHello.
func WithServerName(name string) TLSProbeOption {
	return func(p *TLSProbe) {
		p.serverName = name
	}
}

// WithClock sets the time source used to judge certificate validity.
func WithClock(now func() time.Time) TLSProbeOption {
	return func(p *TLSProbe) {
		p.now = now
	}
}

// WithTLSLogger sets the logger used for unreadable certificates.
func WithTLSLogger(logger *slog.Logger) TLSProbeOption {
	return func(p *TLSProbe) {
		p.logger = logger
	}
}

// NewTLSProbe creates a TLS probe.
func NewTLSProbe(opts ...TLSProbeOption) *TLSProbe {
	p := &TLSProbe{
		dialer:     proxy.Direct,
		serverName: "test-name.tld",
		now:        time.Now,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "tls".
func (p *TLSProbe) Name() string {
	return "tls"
}

// IsPreferredPort reports whether port is a common TLS port.
func (p *TLSProbe) IsPreferredPort(port uint16) bool {
	return slices.Contains(tlsPorts, port)
}

// Check performs a TLS handshake and reports the leaf certificate.
func (p *TLSProbe) Check(ctx context.Context, peer netip.AddrPort) (*Result, error) {
	conn, err := dial(ctx, p.dialer, peer)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var leaf *x509.Certificate
	cfg := &tls.Config{
		ServerName:         p.serverName,
		InsecureSkipVerify: true,             //nolint:gosec // any certificate is accepted, only its fields are reported
		MinVersion:         tls.VersionTLS10, //nolint:gosec // legacy servers must still be identified
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return nil
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				p.logger.Debug("unreadable peer certificate", "peer", peer.String(), "error", err)
				return nil
			}
			leaf = cert
			return nil
		},
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	defer tlsConn.Close()

	result := recognized("tls")
	result.AddDetail("version", tlsVersionName(tlsConn.ConnectionState().Version))
	if leaf != nil {
		addCertificateDetails(result, leaf, p.now())
	}
	return result, nil
}

func addCertificateDetails(result *Result, cert *x509.Certificate, now time.Time) {
	validity := "invalid"
	if !now.Before(cert.NotBefore) && !now.After(cert.NotAfter) {
		validity = "valid"
	}
	result.AddDetail("issuer", cert.Issuer.String())
	result.AddDetail("subject", cert.Subject.String())
	result.AddDetail("dates", fmt.Sprintf("between %s and %s (%s)",
		cert.NotBefore.UTC().Format(time.RFC3339),
		cert.NotAfter.UTC().Format(time.RFC3339),
		validity))
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}
