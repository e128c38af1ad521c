package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/nao1215/tcprecon/internal/deadline"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/net/proxy"
)

var dnsPorts = []uint16{53, 5353}

// errNotDNSResponse is returned when the reply parses but is a query.
var errNotDNSResponse = errors.New("dns message is not a response")

// DNSProbe recognizes DNS servers by sending a PTR query over TCP.
type DNSProbe struct {
	dialer  proxy.ContextDialer
	queryID func() uint16
	logger  *slog.Logger
}

// DNSProbeOption configures a DNSProbe.
type DNSProbeOption func(*DNSProbe)

// WithDNSDialer sets the dialer used to reach the peer.
func WithDNSDialer(d proxy.ContextDialer) DNSProbeOption {
	return func(p *DNSProbe) {
		p.dialer = d
	}
}

// WithQueryID replaces the random query ID generator.
func WithQueryID(fn func() uint16) DNSProbeOption {
	return func(p *DNSProbe) {
		p.queryID = fn
	}
}

// WithDNSLogger sets the logger used for tolerated protocol oddities.
func WithDNSLogger(logger *slog.Logger) DNSProbeOption {
	return func(p *DNSProbe) {
		p.logger = logger
	}
}

// NewDNSProbe creates a DNS probe.
func NewDNSProbe(opts ...DNSProbeOption) *DNSProbe {
	p := &DNSProbe{
		dialer:  proxy.Direct,
		queryID: func() uint16 { return uint16(rand.Uint32()) }, //nolint:gosec // not a security boundary
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "dns".
func (p *DNSProbe) Name() string {
	return "dns"
}

// IsPreferredPort reports whether port is a DNS or mDNS port.
func (p *DNSProbe) IsPreferredPort(port uint16) bool {
	return slices.Contains(dnsPorts, port)
}

// Check asks the peer for the PTR record of its own address.
func (p *DNSProbe) Check(ctx context.Context, peer netip.AddrPort) (*Result, error) {
	id := p.queryID()
	query, err := buildPTRQuery(id, peer.Addr())
	if err != nil {
		return nil, err
	}

	conn, err := dial(ctx, p.dialer, peer)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := deadline.CloseOnDone(ctx, conn)
	defer stop()

	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("write dns query: %w", err)
	}

	msg, err := readDNSMessage(conn)
	if err != nil {
		return nil, err
	}
	return p.parseResponse(msg, id, peer.Addr())
}

func (p *DNSProbe) parseResponse(msg []byte, id uint16, addr netip.Addr) (*Result, error) {
	var parser dnsmessage.Parser
	header, err := parser.Start(msg)
	if err != nil {
		return nil, fmt.Errorf("parse dns header: %w", err)
	}
	if !header.Response {
		return nil, errNotDNSResponse
	}
	if header.ID != id {
		p.logger.Debug("dns response id mismatch", "want", id, "got", header.ID)
	}
	if header.Truncated {
		p.logger.Debug("dns response truncated", "id", header.ID)
	}

	result := recognized("dns")
	name, err := firstPTR(&parser)
	if err != nil {
		p.logger.Debug("dns answer unreadable", "error", err)
		return result, nil
	}
	if name != "" {
		result.AddDetail("PTR("+addr.Unmap().String()+")", name)
	}
	return result, nil
}

// firstPTR returns the target of the first answer if it is a PTR record.
func firstPTR(parser *dnsmessage.Parser) (string, error) {
	if err := parser.SkipAllQuestions(); err != nil {
		return "", err
	}
	h, err := parser.AnswerHeader()
	if errors.Is(err, dnsmessage.ErrSectionDone) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if h.Type != dnsmessage.TypePTR {
		return "", nil
	}
	ptr, err := parser.PTRResource()
	if err != nil {
		return "", err
	}
	return ptr.PTR.String(), nil
}

// buildPTRQuery encodes a recursive PTR query with a TCP length prefix.
func buildPTRQuery(id uint16, addr netip.Addr) ([]byte, error) {
	name, err := dnsmessage.NewName(reverseName(addr))
	if err != nil {
		return nil, fmt.Errorf("reverse name: %w", err)
	}

	builder := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: id, RecursionDesired: true})
	builder.EnableCompression()
	if err := builder.StartQuestions(); err != nil {
		return nil, fmt.Errorf("build dns query: %w", err)
	}
	if err := builder.Question(dnsmessage.Question{
		Name:  name,
		Type:  dnsmessage.TypePTR,
		Class: dnsmessage.ClassINET,
	}); err != nil {
		return nil, fmt.Errorf("build dns query: %w", err)
	}
	msg, err := builder.Finish()
	if err != nil {
		return nil, fmt.Errorf("build dns query: %w", err)
	}

	var framed cryptobyte.Builder
	framed.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(msg)
	})
	out, err := framed.Bytes()
	if err != nil {
		return nil, fmt.Errorf("frame dns query: %w", err)
	}
	return out, nil
}

// readDNSMessage reads one length-prefixed message. A stream that ends
// early yields the bytes that did arrive, so a truncated answer section
// can still be recognized from its header.
func readDNSMessage(r io.Reader) ([]byte, error) {
	prefix := make([]byte, 2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("read dns length: %w", err)
	}
	var size uint16
	s := cryptobyte.String(prefix)
	if !s.ReadUint16(&size) {
		return nil, errors.New("read dns length: short prefix")
	}

	msg := make([]byte, size)
	n, err := io.ReadFull(r, msg)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read dns message: %w", err)
	}
	return msg[:n], nil
}

// reverseName returns the in-addr.arpa or ip6.arpa name for addr.
func reverseName(addr netip.Addr) string {
	addr = addr.Unmap()
	var sb strings.Builder
	if addr.Is4() {
		b := addr.As4()
		for i := len(b) - 1; i >= 0; i-- {
			sb.WriteString(strconv.Itoa(int(b[i])))
			sb.WriteByte('.')
		}
		sb.WriteString("in-addr.arpa.")
		return sb.String()
	}

	const hexDigits = "0123456789abcdef"
	b := addr.As16()
	for i := len(b) - 1; i >= 0; i-- {
		sb.WriteByte(hexDigits[b[i]&0x0f])
		sb.WriteByte('.')
		sb.WriteByte(hexDigits[b[i]>>4])
		sb.WriteByte('.')
	}
	sb.WriteString("ip6.arpa.")
	return sb.String()
}
