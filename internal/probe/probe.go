package probe

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/nao1215/tcprecon/internal/model"
	"golang.org/x/net/proxy"
)

// Probe recognizes one application protocol.
type Probe interface {
	// Name returns the protocol name, e.g. "http".
	Name() string

	// IsPreferredPort reports whether port is a well-known port for the
	// protocol. Preferred probes are tried before the others.
	IsPreferredPort(port uint16) bool

	// Check opens a fresh connection to peer and tries to recognize the
	// protocol. Implementations must return promptly once ctx is done.
	// An error means the peer was not recognized.
	Check(ctx context.Context, peer netip.AddrPort) (*Result, error)
}

// Status is the outcome of an identification attempt.
type Status int

const (
	// StatusUnknown means no probe recognized the peer.
	StatusUnknown Status = iota

	// StatusRecognized means a probe matched.
	StatusRecognized
)

// String returns "unknown" or "recognized".
func (s Status) String() string {
	if s == StatusRecognized {
		return "recognized"
	}
	return "unknown"
}

// Result is what a probe learned about a peer.
type Result struct {
	// Probe is the name of the probe that produced the result.
	// Empty when no probe recognized the peer.
	Probe string

	// Status tells whether the protocol was recognized.
	Status Status

	// Details holds the extracted metadata in discovery order.
	Details []model.Detail
}

// Unknown returns a result for an unrecognized peer.
func Unknown() *Result {
	return &Result{Status: StatusUnknown}
}

// Recognized returns true if a probe matched.
func (r *Result) Recognized() bool {
	return r != nil && r.Status == StatusRecognized
}

// AddDetail appends a labeled value to the result.
func (r *Result) AddDetail(label, value string) {
	r.Details = append(r.Details, model.Detail{Label: label, Value: value})
}

// Service converts a recognized result into the report form.
// It returns nil for unrecognized results.
func (r *Result) Service() *model.Service {
	if !r.Recognized() {
		return nil
	}
	return &model.Service{Protocol: r.Probe, Details: r.Details}
}

func recognized(name string) *Result {
	return &Result{Probe: name, Status: StatusRecognized}
}

// dial opens a TCP connection to peer through d.
func dial(ctx context.Context, d proxy.ContextDialer, peer netip.AddrPort) (net.Conn, error) {
	conn, err := d.DialContext(ctx, "tcp", peer.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peer, err)
	}
	return conn, nil
}
