// Package portset provides a compact set of TCP port numbers.
//
// A Set is a fixed 8 KiB bitmap covering the whole 16-bit port space, so
// membership tests, insertion and removal are constant time and iteration
// always yields ports in ascending order. A Set is built once before
// scanning begins and is only read afterwards, which makes it safe to share
// between the goroutines of a scan without locking.
//
// # Port specifications
//
// Parse accepts the comma-separated grammar used on the command line:
//
//	22            a single port
//	1000-2000     an inclusive range
//	5000-         5000 up to 65535
//	-100          1 up to 100
//	-             every port from 1 to 65535
//
// The smallest port a specification can produce is MinPort (1). Port 0 is
// accepted, so "0-1024" is the same as "1-1024", but it is never scanned.
package portset
