package model

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Detail is one piece of metadata extracted by a protocol probe,
// e.g. a response header or a certificate field.
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Service describes the protocol identified on an open port.
type Service struct {
	// Protocol is the probe name that recognized the service ("http", "dns", "tls").
	Protocol string `json:"protocol"`

	// Details holds the metadata the probe extracted, in discovery order.
	Details []Detail `json:"details,omitempty"`
}

// PortReport couples a scanned port with the service identified on it.
type PortReport struct {
	Port

	// Service is nil when the port was not probed or no probe recognized it.
	Service *Service `json:"service,omitempty"`
}

// ScanReport collects everything learned about one target during a run.
type ScanReport struct {
	// ID uniquely identifies the run; it is attached to log records.
	ID uuid.UUID `json:"id"`

	// Target is the host as given on the command line.
	Target string `json:"target"`

	// Address is the IP address the target resolved to.
	Address string `json:"address"`

	// StartedAt is when the scan of this target began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall time spent on this target.
	Duration time.Duration `json:"duration"`

	// PortCount is the number of ports that were scheduled.
	PortCount int `json:"port_count"`

	// Ports holds one entry per scanned port in scan-completion order.
	Ports []PortReport `json:"ports"`

	// PerformedSteps lists the pipeline steps that ran.
	PerformedSteps []string `json:"performed_steps"`

	// Error is set when the scan could not run at all.
	Error error `json:"-"`

	// ErrorMessage is the serializable form of Error.
	ErrorMessage string `json:"error,omitempty"`
}

// NewScanReport creates an empty report for target.
func NewScanReport(target string) *ScanReport {
	return &ScanReport{
		ID:             uuid.New(),
		Target:         target,
		StartedAt:      time.Now(),
		Ports:          make([]PortReport, 0),
		PerformedSteps: make([]string, 0),
	}
}

// AddPort appends a scan result to the report.
func (r *ScanReport) AddPort(p Port) {
	r.Ports = append(r.Ports, PortReport{Port: p})
}

// SortPorts orders the port entries by port number.
func (r *ScanReport) SortPorts() {
	slices.SortFunc(r.Ports, func(a, b PortReport) int {
		return cmp.Compare(a.Number, b.Number)
	})
}

// Count returns how many ports ended in the given state.
func (r *ScanReport) Count(state State) int {
	n := 0
	for _, p := range r.Ports {
		if p.Status.State == state {
			n++
		}
	}
	return n
}

// Identified returns the number of ports with a recognized service.
func (r *ScanReport) Identified() int {
	n := 0
	for _, p := range r.Ports {
		if p.Service != nil {
			n++
		}
	}
	return n
}

// SetError records a fatal error for the target.
func (r *ScanReport) SetError(err error) {
	r.Error = err
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}
