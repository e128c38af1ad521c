package scanner

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"github.com/nao1215/tcprecon/internal/config"
	"github.com/nao1215/tcprecon/internal/deadline"
	"github.com/nao1215/tcprecon/internal/limiter"
	"github.com/nao1215/tcprecon/internal/metrics"
	"github.com/nao1215/tcprecon/internal/model"
	"github.com/nao1215/tcprecon/internal/portset"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BannerSize is the maximum number of bytes read from a freshly opened
// connection.
const BannerSize = 1024

// Scanner connects to ports and grabs banners. It is safe for concurrent
// use; all connections it opens go through one admission limiter.
type Scanner struct {
	limiter *limiter.Limiter
	dialer  proxy.ContextDialer
	rate    *rate.Limiter
	snap    config.Snapshot
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLimiter sets the admission limiter. Share it with the
// identification engine to bound all in-flight connections together.
func WithLimiter(l *limiter.Limiter) Option {
	return func(s *Scanner) {
		s.limiter = l
	}
}

// WithDialer sets the dialer used for connection attempts.
func WithDialer(d proxy.ContextDialer) Option {
	return func(s *Scanner) {
		s.dialer = d
	}
}

// WithSnapshot sets the timeouts.
func WithSnapshot(snap config.Snapshot) Option {
	return func(s *Scanner) {
		s.snap = snap
	}
}

// WithRateLimit caps new connection attempts per second. A value of zero
// or less disables the cap.
func WithRateLimit(perSecond float64) Option {
	return func(s *Scanner) {
		if perSecond <= 0 {
			s.rate = nil
			return
		}
		s.rate = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

// WithLogger sets the logger for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithMetrics counts scanned ports.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// New creates a Scanner with default settings: a limiter of
// limiter.DefaultCapacity slots, direct connections and the default
// timeouts.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		dialer: proxy.Direct,
		snap:   config.NewConfig().Snapshot(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = limiter.New(limiter.DefaultCapacity)
	}
	return s
}

// Limiter returns the admission limiter used by the scanner.
func (s *Scanner) Limiter() *limiter.Limiter {
	return s.limiter
}

// ScanPort connects to addr:port and classifies the outcome. An open port
// gets a banner when the peer sends anything within the read timeout.
// ScanPort never fails; a cancelled ctx yields a filtered port.
func (s *Scanner) ScanPort(ctx context.Context, addr netip.Addr, port uint16) model.Port {
	result := model.Port{Number: port, Status: s.scanPort(ctx, netip.AddrPortFrom(addr, port))}
	s.metrics.ObservePort(result.Status.State)
	return result
}

func (s *Scanner) scanPort(ctx context.Context, peer netip.AddrPort) model.PortStatus {
	// A caller waiting on the rate holds no slot.
	if s.rate != nil {
		if err := s.rate.Wait(ctx); err != nil {
			return model.Filtered()
		}
	}

	ticket, err := s.limiter.Acquire(ctx)
	if err != nil {
		return model.Filtered()
	}
	defer ticket.Release()

	conn, status := s.connect(ctx, peer, ticket.Slot())
	if conn == nil {
		return status
	}
	defer conn.Close()

	return model.Opened(s.readBanner(ctx, conn))
}

type dialOutcome struct {
	conn net.Conn
	err  error
}

// connect returns an open connection, or nil and the closed/filtered status.
func (s *Scanner) connect(ctx context.Context, peer netip.AddrPort, slot int) (net.Conn, model.PortStatus) {
	out, ok := deadline.AwaitOrRelease(ctx, s.snap.ConnectTimeout,
		func(ctx context.Context) dialOutcome {
			conn, err := s.dialer.DialContext(ctx, "tcp", peer.String())
			return dialOutcome{conn: conn, err: err}
		},
		func(late dialOutcome) {
			if late.conn != nil {
				_ = late.conn.Close() //nolint:errcheck // nobody reads a late connection
			}
		},
	)

	switch {
	case !ok:
		return nil, model.Filtered()
	case errors.Is(out.err, syscall.ECONNREFUSED):
		return nil, model.Closed()
	case out.err != nil:
		s.logger.Debug("connect failed", "peer", peer.String(), "slot", slot, "error", out.err)
		return nil, model.Filtered()
	default:
		return out.conn, model.Opened(nil)
	}
}

// readBanner performs a single read. It returns nil when nothing arrived
// within the read timeout, or the peer closed or failed without data.
func (s *Scanner) readBanner(ctx context.Context, conn net.Conn) []byte {
	banner, ok := deadline.Await(ctx, s.snap.ReadTimeout, func(ctx context.Context) []byte {
		stop := deadline.CloseOnDone(ctx, conn)
		defer stop()

		buf := make([]byte, BannerSize)
		n, _ := conn.Read(buf)
		if n == 0 {
			return nil
		}
		return buf[:n]
	})
	if !ok {
		return nil
	}
	return banner
}

// Scan scans every port of ports on addr concurrently and returns the
// results in completion order. fn, if not nil, is called once per result
// as it completes; calls are serialized. When ctx is cancelled the
// remaining ports come back filtered and ctx's error is returned along
// with the results.
func (s *Scanner) Scan(ctx context.Context, addr netip.Addr, ports *portset.Set, fn func(model.Port)) ([]model.Port, error) {
	var (
		mu      sync.Mutex
		results = make([]model.Port, 0, ports.Len())
		g       errgroup.Group
	)

	for port := range ports.All() {
		g.Go(func() error {
			p := s.ScanPort(ctx, addr, port)

			mu.Lock()
			defer mu.Unlock()
			results = append(results, p)
			if fn != nil {
				fn(p)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
