// Package log provides slog loggers whose output is safe to print even when
// attribute values come from untrusted peers.
//
// Banners, HTTP headers and certificate names are chosen by the remote
// side. The SanitizingHandler escapes control characters and invalid UTF-8
// in every string attribute so a peer cannot inject fake log lines or
// terminal escape sequences, and masks values stored under sensitive keys
// such as "authorization" or "cookie".
//
// # Usage
//
//	logger := log.NewLogger(os.Stderr, verbose)
//	logger.Debug("banner received", "port", 22, "banner", banner)
package log
