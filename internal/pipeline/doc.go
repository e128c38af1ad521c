// Package pipeline drives the scan of a target through a sequence of steps.
//
// A scan pipeline has three steps:
//
//   - resolve: turn the target into an IP address
//   - tcp_scan: connect to every port concurrently and grab banners
//   - identify: run the protocol probes against open ports that stayed silent
//
// Each step receives the report built by the previous ones. A
// BatchProcessor runs several targets concurrently, each through its own
// pipeline.
package pipeline
