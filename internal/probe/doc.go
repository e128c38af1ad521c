// Package probe identifies the application protocol spoken on an open TCP
// port that did not volunteer a banner.
//
// # Architecture
//
// Each supported protocol implements the Probe interface. An Engine holds
// an ordered list of probes and runs them against a peer in two passes:
// first the probes that consider the port one of their well-known ports,
// then the remaining ones. The first probe that recognizes the peer wins.
//
// Every check opens its own connection and is raced against the read
// timeout, so a silent peer can never stall identification.
//
// # Supported Protocols
//
//   - HTTP (80, 81, 3128, 8000, 8080): raw GET request, Server and
//     X-Powered-By headers
//   - DNS (53, 5353): PTR query over TCP for the peer's reverse name
//   - TLS (443, 465, 636, 993, 995, 8443): handshake with certificate
//     issuer, subject and validity
//
// # Usage
//
//	engine := probe.NewEngine(probe.DefaultProbes(snapshot))
//	result := engine.Identify(ctx, netip.MustParseAddrPort("10.0.0.1:8080"))
//	if result.Recognized() {
//		fmt.Println(result.Probe, result.Details)
//	}
package probe
