package probe

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/nao1215/tcprecon/internal/config"
	"github.com/nao1215/tcprecon/internal/deadline"
	"golang.org/x/net/proxy"
)

const (
	httpStatusPrefix  = "HTTP/1.1 "
	httpHeaderEnd     = "\r\n\r\n"
	httpResponseLimit = 8192
)

var (
	httpPorts = []uint16{80, 81, 3128, 8000, 8080}

	// httpInterestingHeaders are reported verbatim when present.
	httpInterestingHeaders = []string{"Server", "X-Powered-By"}
)

// HTTPProbe recognizes HTTP/1.1 servers by sending a minimal GET request.
type HTTPProbe struct {
	dialer    proxy.ContextDialer
	userAgent string
}

// HTTPProbeOption configures an HTTPProbe.
type HTTPProbeOption func(*HTTPProbe)

// WithUserAgent sets the User-Agent header of the probe request.
func WithUserAgent(ua string) HTTPProbeOption {
	return func(p *HTTPProbe) {
		p.userAgent = ua
	}
}

// WithHTTPDialer sets the dialer used to reach the peer.
func WithHTTPDialer(d proxy.ContextDialer) HTTPProbeOption {
	return func(p *HTTPProbe) {
		p.dialer = d
	}
}

// NewHTTPProbe creates an HTTP probe.
func NewHTTPProbe(opts ...HTTPProbeOption) *HTTPProbe {
	p := &HTTPProbe{
		dialer:    proxy.Direct,
		userAgent: config.DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "http".
func (p *HTTPProbe) Name() string {
	return "http"
}

// IsPreferredPort reports whether port is a common HTTP port.
func (p *HTTPProbe) IsPreferredPort(port uint16) bool {
	return slices.Contains(httpPorts, port)
}

// Check sends "GET /" and inspects the first chunk of the response.
func (p *HTTPProbe) Check(ctx context.Context, peer netip.AddrPort) (*Result, error) {
	conn, err := dial(ctx, p.dialer, peer)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := deadline.CloseOnDone(ctx, conn)
	defer stop()

	if _, err := conn.Write(p.request(peer)); err != nil {
		return nil, fmt.Errorf("write http request: %w", err)
	}

	buf := make([]byte, httpResponseLimit)
	n, err := conn.Read(buf)
	if n == 0 {
		return nil, fmt.Errorf("read http response: %w", err)
	}

	result, ok := parseHTTPResponse(buf[:n])
	if !ok {
		return Unknown(), nil
	}
	return result, nil
}

func (p *HTTPProbe) request(peer netip.AddrPort) []byte {
	var sb strings.Builder
	sb.WriteString("GET / HTTP/1.1\r\n")
	sb.WriteString("Host: " + peer.String() + "\r\n")
	sb.WriteString("User-Agent: " + p.userAgent + "\r\n")
	sb.WriteString("Connection: close\r\n\r\n")
	return []byte(sb.String())
}

// parseHTTPResponse accepts a response that starts with an HTTP/1.1 status
// line with a three digit code and carries a complete, valid UTF-8 header
// block.
func parseHTTPResponse(data []byte) (*Result, bool) {
	s := string(data)
	if !strings.HasPrefix(s, httpStatusPrefix) {
		return nil, false
	}
	code := s[len(httpStatusPrefix):]
	if len(code) < 3 || !isDigits(code[:3]) {
		return nil, false
	}

	end := strings.Index(s, httpHeaderEnd)
	if end < 0 {
		return nil, false
	}
	// Keep the terminating CRLF so every header line ends with one.
	headers := s[:end+2]
	if !utf8.ValidString(headers) {
		return nil, false
	}

	result := recognized("http")
	for _, name := range httpInterestingHeaders {
		if value, ok := headerValue(headers, name); ok {
			result.AddDetail(name, value)
		}
	}
	return result, true
}

// headerValue finds "name: value" at the start of a header line. The match
// on name is exact, including case.
func headerValue(headers, name string) (string, bool) {
	marker := "\r\n" + name + ": "
	i := strings.Index(headers, marker)
	if i < 0 {
		return "", false
	}
	rest := headers[i+len(marker):]
	value, _, _ := strings.Cut(rest, "\r\n")
	return value, true
}

func isDigits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
