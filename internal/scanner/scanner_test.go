package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/tcprecon/internal/config"
	"github.com/nao1215/tcprecon/internal/limiter"
	"github.com/nao1215/tcprecon/internal/model"
	"github.com/nao1215/tcprecon/internal/portset"
)

// dialerFunc adapts a function to proxy.ContextDialer.
type dialerFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func (f dialerFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

var loopback = netip.MustParseAddr("127.0.0.1")

func fastSnapshot() config.Snapshot {
	return config.Snapshot{
		ConnectTimeout: time.Second,
		ReadTimeout:    100 * time.Millisecond,
	}
}

// listen starts a loopback listener whose connections are handed to handle.
func listen(t *testing.T, handle func(net.Conn)) uint16 {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return uint16(ln.Addr().(*net.TCPAddr).Port) //nolint:gosec // listener ports fit in uint16
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) uint16 {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port) //nolint:gosec // listener ports fit in uint16
	_ = ln.Close()
	return port
}

func TestScanPort(t *testing.T) {
	t.Parallel()

	t.Run("open port with banner", func(t *testing.T) {
		t.Parallel()

		port := listen(t, func(conn net.Conn) {
			_, _ = conn.Write([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
			_, _ = io.Copy(io.Discard, conn)
		})

		got := New(WithSnapshot(fastSnapshot())).ScanPort(context.Background(), loopback, port)
		if got.Number != port {
			t.Errorf("expected port %d, got %d", port, got.Number)
		}
		if !got.HasBanner() || string(got.Status.Banner) != "SSH-2.0-OpenSSH_9.6\r\n" {
			t.Errorf("unexpected status %v", got.Status)
		}
	})

	t.Run("silent open port has no banner", func(t *testing.T) {
		t.Parallel()

		port := listen(t, func(conn net.Conn) {
			_, _ = io.Copy(io.Discard, conn)
		})

		start := time.Now()
		got := New(WithSnapshot(fastSnapshot())).ScanPort(context.Background(), loopback, port)
		if !got.IsOpen() || got.HasBanner() {
			t.Errorf("expected open without banner, got %v", got.Status)
		}
		if !got.NeedsIdentification() {
			t.Error("expected port to need identification")
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("banner read was not bounded: %v", elapsed)
		}
	})

	t.Run("peer closing without data has no banner", func(t *testing.T) {
		t.Parallel()

		port := listen(t, func(net.Conn) {})

		got := New(WithSnapshot(fastSnapshot())).ScanPort(context.Background(), loopback, port)
		if !got.IsOpen() || got.HasBanner() {
			t.Errorf("expected open without banner, got %v", got.Status)
		}
	})

	t.Run("refused connection is closed", func(t *testing.T) {
		t.Parallel()

		port := closedPort(t)
		got := New(WithSnapshot(fastSnapshot())).ScanPort(context.Background(), loopback, port)
		if got.Status.State != model.StateClosed {
			t.Errorf("expected closed, got %v", got.Status)
		}
	})

	t.Run("unanswered connect is filtered", func(t *testing.T) {
		t.Parallel()

		blackhole := dialerFunc(func(ctx context.Context, _, _ string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		snap := config.Snapshot{ConnectTimeout: 30 * time.Millisecond, ReadTimeout: time.Second}

		start := time.Now()
		got := New(WithSnapshot(snap), WithDialer(blackhole)).ScanPort(context.Background(), loopback, 80)
		if got.Status.State != model.StateFiltered {
			t.Errorf("expected filtered, got %v", got.Status)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("connect was not bounded: %v", elapsed)
		}
	})

	t.Run("other dial errors are filtered", func(t *testing.T) {
		t.Parallel()

		failing := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("network is unreachable")
		})
		got := New(WithDialer(failing)).ScanPort(context.Background(), loopback, 80)
		if got.Status.State != model.StateFiltered {
			t.Errorf("expected filtered, got %v", got.Status)
		}
	})

	t.Run("cancelled context is filtered", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		got := New().ScanPort(ctx, loopback, 80)
		if got.Status.State != model.StateFiltered {
			t.Errorf("expected filtered, got %v", got.Status)
		}
	})

	t.Run("ticket is released on every path", func(t *testing.T) {
		t.Parallel()

		lim := limiter.New(1)
		s := New(WithLimiter(lim), WithSnapshot(fastSnapshot()))
		s.ScanPort(context.Background(), loopback, closedPort(t))
		s.ScanPort(context.Background(), loopback, listen(t, func(net.Conn) {}))
		if lim.InUse() != 0 {
			t.Errorf("expected no slots in use, got %d", lim.InUse())
		}
	})
}

func TestScan(t *testing.T) {
	t.Parallel()

	t.Run("every port is reported once", func(t *testing.T) {
		t.Parallel()

		open := listen(t, func(conn net.Conn) {
			_, _ = conn.Write([]byte("hello"))
		})
		closed := closedPort(t)
		ports := portset.Of(open, closed)

		var calls atomic.Int32
		results, err := New(WithSnapshot(fastSnapshot())).Scan(context.Background(), loopback, ports, func(model.Port) {
			calls.Add(1)
		})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if len(results) != 2 || calls.Load() != 2 {
			t.Fatalf("expected 2 results and callbacks, got %d and %d", len(results), calls.Load())
		}

		states := map[uint16]model.State{}
		for _, r := range results {
			states[r.Number] = r.Status.State
		}
		if states[open] != model.StateOpened {
			t.Errorf("expected %d opened, got %v", open, states[open])
		}
		if states[closed] != model.StateClosed {
			t.Errorf("expected %d closed, got %v", closed, states[closed])
		}
	})

	t.Run("in-flight connections never exceed capacity", func(t *testing.T) {
		t.Parallel()

		var (
			inFlight atomic.Int32
			peak     atomic.Int32
		)
		slow := dialerFunc(func(ctx context.Context, _, _ string) (net.Conn, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			select {
			case <-time.After(5 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil, errors.New("unreachable")
		})

		ports := portset.New()
		ports.AddRange(1000, 1199)

		s := New(WithLimiter(limiter.New(4)), WithDialer(slow))
		results, err := s.Scan(context.Background(), loopback, ports, nil)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if len(results) != 200 {
			t.Errorf("expected 200 results, got %d", len(results))
		}
		if p := peak.Load(); p > 4 {
			t.Errorf("peak in-flight %d exceeds capacity 4", p)
		}
	})

	t.Run("callbacks are serialized", func(t *testing.T) {
		t.Parallel()

		failing := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("unreachable")
		})
		ports := portset.New()
		ports.AddRange(1, 300)

		var (
			mu     sync.Mutex
			active int
			bad    bool
		)
		_, err := New(WithDialer(failing)).Scan(context.Background(), loopback, ports, func(model.Port) {
			mu.Lock()
			active++
			if active > 1 {
				bad = true
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if bad {
			t.Error("callbacks overlapped")
		}
	})

	t.Run("cancellation returns partial results and the error", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ports := portset.Of(1, 2, 3)
		results, err := New().Scan(ctx, loopback, ports, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		for _, r := range results {
			if r.Status.State != model.StateFiltered {
				t.Errorf("expected filtered after cancel, got %v", r)
			}
		}
	})

	t.Run("empty set", func(t *testing.T) {
		t.Parallel()

		results, err := New().Scan(context.Background(), loopback, portset.New(), nil)
		if err != nil || len(results) != 0 {
			t.Errorf("expected no results, got %v, %v", results, err)
		}
	})
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()

	if s := New(WithRateLimit(0)); s.rate != nil {
		t.Error("expected zero rate to disable limiting")
	}

	failing := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("unreachable")
	})
	s := New(WithRateLimit(20), WithDialer(failing))
	if s.rate == nil {
		t.Fatal("expected a rate limiter")
	}

	ports := portset.New()
	ports.AddRange(1, 30)

	start := time.Now()
	if _, err := s.Scan(context.Background(), loopback, ports, nil); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	// A burst of 20 then 10 more at 20/s takes roughly half a second.
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("rate limit not applied, scan took %v", elapsed)
	}
}

func TestRateWaitHoldsNoSlot(t *testing.T) {
	t.Parallel()

	failing := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("unreachable")
	})
	shared := limiter.New(1)
	paced := New(WithLimiter(shared), WithRateLimit(1), WithDialer(failing))
	unpaced := New(WithLimiter(shared), WithDialer(failing))

	// Spend the single token so the next paced call waits about a second.
	paced.ScanPort(context.Background(), loopback, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		paced.ScanPort(ctx, loopback, 2)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if got := unpaced.ScanPort(context.Background(), loopback, 3); got.Status.State != model.StateFiltered {
		t.Errorf("expected filtered, got %v", got.Status)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("paced caller held the only slot, unpaced scan took %v", elapsed)
	}
}

func TestConnectFailureLogsSlot(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	failing := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("unreachable")
	})

	s := New(WithLimiter(limiter.New(1)), WithDialer(failing), WithLogger(logger))
	s.ScanPort(context.Background(), loopback, 80)

	if out := buf.String(); !strings.Contains(out, "connect failed") || !strings.Contains(out, "slot=0") {
		t.Errorf("expected a connect failure with its slot, got %q", out)
	}
}
