// Package main provides the entry point for the tcprecon CLI.
//
// tcprecon is a concurrent TCP connect scanner. It classifies ports as
// opened, closed or filtered, grabs banners and identifies HTTP, DNS and
// TLS services on open ports that stay silent.
//
// Usage:
//
//	tcprecon scan <host>
//	tcprecon scan -p 1-1024 -e 25 <host> <host>
//
// See --help for all available options.
package main

func main() {
	Execute()
}
