// Package scanner performs TCP connect scans.
//
// For each port the scanner takes a ticket from the shared admission
// limiter, connects within the connect timeout and classifies the result:
//
//   - opened: the handshake completed; a single read of up to BannerSize
//     bytes within the read timeout becomes the banner
//   - closed: the connection was refused
//   - filtered: the attempt timed out or failed in any other way
//
// The ticket is released on every path, so the number of sockets in flight
// never exceeds the limiter's capacity no matter how many ports are
// scheduled.
package scanner
