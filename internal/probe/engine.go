package probe

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/nao1215/tcprecon/internal/deadline"
	"github.com/nao1215/tcprecon/internal/limiter"
)

// DefaultReadTimeout bounds each probe check unless configured otherwise.
const DefaultReadTimeout = 2 * time.Second

// Engine runs an ordered list of probes against a peer.
// It is safe for concurrent use.
type Engine struct {
	probes  []Probe
	timeout time.Duration
	logger  *slog.Logger

	// limiter, when set, bounds concurrent identifications. One ticket is
	// held for the whole probe sequence of a peer.
	limiter *limiter.Limiter

	// observe, when set, is told the outcome of every individual check.
	observe func(probe string, status Status)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithReadTimeout sets the time each check may take.
func WithReadTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithLogger sets the logger for debug output.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLimiter shares an admission limiter with the engine.
func WithLimiter(l *limiter.Limiter) EngineOption {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithObserver registers fn to be called after every check.
func WithObserver(fn func(probe string, status Status)) EngineOption {
	return func(e *Engine) {
		e.observe = fn
	}
}

// NewEngine creates an engine over probes. The order of probes is the
// order in which they are tried within each pass.
func NewEngine(probes []Probe, opts ...EngineOption) *Engine {
	e := &Engine{
		probes:  probes,
		timeout: DefaultReadTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Order returns the probes in the order Identify tries them for port:
// preferred probes first, then the rest, each group in registration order.
// Every probe appears exactly once.
func (e *Engine) Order(port uint16) []Probe {
	ordered := make([]Probe, 0, len(e.probes))
	for _, p := range e.probes {
		if p.IsPreferredPort(port) {
			ordered = append(ordered, p)
		}
	}
	for _, p := range e.probes {
		if !p.IsPreferredPort(port) {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

// Identify tries every probe against peer and returns the first
// recognized result. It never returns nil; when no probe matches, or ctx
// is cancelled, the result has StatusUnknown.
func (e *Engine) Identify(ctx context.Context, peer netip.AddrPort) *Result {
	if e.limiter != nil {
		ticket, err := e.limiter.Acquire(ctx)
		if err != nil {
			return Unknown()
		}
		defer ticket.Release()
	}

	for _, p := range e.Order(peer.Port()) {
		if ctx.Err() != nil {
			break
		}
		if r := e.check(ctx, p, peer); r.Recognized() {
			return r
		}
	}
	return Unknown()
}

type checkOutcome struct {
	result *Result
	err    error
}

func (e *Engine) check(ctx context.Context, p Probe, peer netip.AddrPort) *Result {
	out, ok := deadline.Await(ctx, e.timeout, func(ctx context.Context) checkOutcome {
		r, err := p.Check(ctx, peer)
		return checkOutcome{result: r, err: err}
	})

	result := Unknown()
	switch {
	case !ok:
		e.logger.Debug("probe timed out", "probe", p.Name(), "peer", peer.String())
	case out.err != nil:
		e.logger.Debug("probe failed", "probe", p.Name(), "peer", peer.String(), "error", out.err)
	case out.result.Recognized():
		result = out.result
		result.Probe = p.Name()
	}

	if e.observe != nil {
		e.observe(p.Name(), result.Status)
	}
	return result
}
