// Package model defines the data structures shared by the scanner, the
// probes and the report writers.
//
// Port and PortStatus describe the outcome of one connection attempt.
// ScanReport collects the ports and identified services of one target and
// is serializable to JSON for report output.
package model
