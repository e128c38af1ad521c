package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/nao1215/tcprecon/internal/model"
	"github.com/nao1215/tcprecon/internal/portset"
	"github.com/nao1215/tcprecon/internal/probe"
	"github.com/nao1215/tcprecon/internal/scanner"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrResolve is returned when a target cannot be turned into an IP address.
	ErrResolve = errors.New("cannot resolve target")

	// ErrNoAddress is returned by steps that need a resolved address when
	// none has been recorded in the report.
	ErrNoAddress = errors.New("target address not resolved")
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ResolveStep turns the target into an IP address. IP literals are used
// as they are; host names use the first address the resolver returns.
type ResolveStep struct {
	resolver Resolver
}

// ResolveStepOption configures a ResolveStep.
type ResolveStepOption func(*ResolveStep)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) ResolveStepOption {
	return func(s *ResolveStep) {
		s.resolver = r
	}
}

// NewResolveStep creates a resolve step.
func NewResolveStep(opts ...ResolveStepOption) *ResolveStep {
	s := &ResolveStep{resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ResolveStep) Name() string {
	return "resolve"
}

// Do resolves report.Target and stores the result in report.Address.
func (s *ResolveStep) Do(ctx context.Context, report *model.ScanReport) error {
	if addr, err := netip.ParseAddr(report.Target); err == nil {
		report.Address = addr.Unmap().String()
		return nil
	}

	addrs, err := s.resolver.LookupNetIP(ctx, "ip", report.Target)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrResolve, report.Target, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w %q: no addresses", ErrResolve, report.Target)
	}
	report.Address = addrs[0].Unmap().String()
	return nil
}

func reportAddr(report *model.ScanReport) (netip.Addr, error) {
	if report.Address == "" {
		return netip.Addr{}, ErrNoAddress
	}
	addr, err := netip.ParseAddr(report.Address)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %w", ErrNoAddress, err)
	}
	return addr, nil
}

// ScanStep connects to every port of a port set and records the outcome.
type ScanStep struct {
	scanner  *scanner.Scanner
	ports    *portset.Set
	progress func(done, total int)
}

// ScanStepOption configures a ScanStep.
type ScanStepOption func(*ScanStep)

// WithProgress registers fn to be called after each scanned port.
// Calls are serialized.
func WithProgress(fn func(done, total int)) ScanStepOption {
	return func(s *ScanStep) {
		s.progress = fn
	}
}

// NewScanStep creates a TCP scan step over ports.
func NewScanStep(sc *scanner.Scanner, ports *portset.Set, opts ...ScanStepOption) *ScanStep {
	s := &ScanStep{
		scanner: sc,
		ports:   ports,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ScanStep) Name() string {
	return "tcp_scan"
}

// Do scans the ports. Results are added to the report in completion
// order. A cancelled scan keeps the partial results and returns ctx's error.
func (s *ScanStep) Do(ctx context.Context, report *model.ScanReport) error {
	addr, err := reportAddr(report)
	if err != nil {
		return err
	}

	total := s.ports.Len()
	report.PortCount = total

	done := 0
	results, err := s.scanner.Scan(ctx, addr, s.ports, func(model.Port) {
		done++
		if s.progress != nil {
			s.progress(done, total)
		}
	})
	for _, p := range results {
		report.AddPort(p)
	}
	return err
}

// IdentifyStep runs the protocol identification engine against every
// open port that sent no banner. Ports are identified concurrently; the
// engine's admission limiter bounds the connections.
type IdentifyStep struct {
	engine *probe.Engine
	logger *slog.Logger
}

// IdentifyStepOption configures an IdentifyStep.
type IdentifyStepOption func(*IdentifyStep)

// WithIdentifyLogger sets a custom logger for the identify step.
func WithIdentifyLogger(logger *slog.Logger) IdentifyStepOption {
	return func(s *IdentifyStep) {
		s.logger = logger
	}
}

// NewIdentifyStep creates an identify step.
func NewIdentifyStep(engine *probe.Engine, opts ...IdentifyStepOption) *IdentifyStep {
	s := &IdentifyStep{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *IdentifyStep) Name() string {
	return "identify"
}

// Do sets Service on every port the engine recognizes.
func (s *IdentifyStep) Do(ctx context.Context, report *model.ScanReport) error {
	addr, err := reportAddr(report)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for i := range report.Ports {
		if !report.Ports[i].NeedsIdentification() {
			continue
		}
		g.Go(func() error {
			port := report.Ports[i].Number
			result := s.engine.Identify(ctx, netip.AddrPortFrom(addr, port))
			if !result.Recognized() {
				return nil
			}
			s.logger.Debug("protocol identified",
				"target", report.Target,
				"port", port,
				"protocol", result.Probe,
			)
			// Each goroutine owns a distinct element.
			report.Ports[i].Service = result.Service()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// NewScanPipeline assembles the resolve, tcp_scan and identify steps.
func NewScanPipeline(sc *scanner.Scanner, engine *probe.Engine, ports *portset.Set, scanOpts []ScanStepOption, opts ...Option) *Pipeline {
	p := New(opts...)
	p.AddSteps(
		NewResolveStep(),
		NewScanStep(sc, ports, scanOpts...),
		NewIdentifyStep(engine, WithIdentifyLogger(p.logger)),
	)
	return p
}
