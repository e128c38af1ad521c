package probe

import (
	"log/slog"

	"github.com/nao1215/tcprecon/internal/config"
	"golang.org/x/net/proxy"
)

// DefaultProbes returns the built-in probes in identification order:
// HTTP, DNS, TLS. A nil dialer means direct connections and a nil logger
// discards output.
func DefaultProbes(snap config.Snapshot, dialer proxy.ContextDialer, logger *slog.Logger) []Probe {
	if dialer == nil {
		dialer = proxy.Direct
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	httpOpts := []HTTPProbeOption{WithHTTPDialer(dialer)}
	if snap.UserAgent != "" {
		httpOpts = append(httpOpts, WithUserAgent(snap.UserAgent))
	}

	return []Probe{
		NewHTTPProbe(httpOpts...),
		NewDNSProbe(WithDNSDialer(dialer), WithDNSLogger(logger)),
		NewTLSProbe(WithTLSDialer(dialer), WithTLSLogger(logger)),
	}
}
