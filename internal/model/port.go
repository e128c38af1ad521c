package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// State is the TCP-level classification of a port.
type State int

const (
	// StateFiltered means no conclusive answer: the connect timed out or
	// failed with an error other than a refusal.
	StateFiltered State = iota

	// StateClosed means the connection was actively refused.
	StateClosed

	// StateOpened means the TCP handshake completed.
	StateOpened
)

// String returns the lower-case name used in scan output.
func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateClosed:
		return "closed"
	case StateFiltered:
		return "filtered"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PortStatus is the outcome of scanning one port.
// Banner is only meaningful for StateOpened; nil means no bytes were
// received within the read timeout.
type PortStatus struct {
	State  State
	Banner []byte
}

// Opened returns the status of an open port with an optional banner.
func Opened(banner []byte) PortStatus {
	return PortStatus{State: StateOpened, Banner: banner}
}

// Closed returns the status of a refused port.
func Closed() PortStatus {
	return PortStatus{State: StateClosed}
}

// Filtered returns the status of a port without a conclusive answer.
func Filtered() PortStatus {
	return PortStatus{State: StateFiltered}
}

// String renders the status as "opened", `opened (banner: "...")`,
// "closed" or "filtered".
func (s PortStatus) String() string {
	if s.State != StateOpened || s.Banner == nil {
		return s.State.String()
	}
	return `opened (banner: "` + FormatBanner(s.Banner) + `")`
}

// MarshalJSON encodes the state name and the rendered banner.
func (s PortStatus) MarshalJSON() ([]byte, error) {
	out := struct {
		State  State  `json:"state"`
		Banner string `json:"banner,omitempty"`
	}{State: s.State}
	if s.State == StateOpened && s.Banner != nil {
		out.Banner = FormatBanner(s.Banner)
	}
	return json.Marshal(out)
}

// FormatBanner renders banner bytes for display. Valid UTF-8 is shown with
// newlines, tabs and carriage returns escaped; anything else is shown as a
// "hex:" prefixed dump.
func FormatBanner(banner []byte) string {
	if !utf8.Valid(banner) {
		return "hex:" + hex.EncodeToString(banner)
	}
	var sb strings.Builder
	for _, r := range string(banner) {
		switch r {
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Port is the result for a single scanned port. It is created once by the
// scanner and not modified afterwards.
type Port struct {
	Number uint16     `json:"port"`
	Status PortStatus `json:"status"`
}

// IsOpen reports whether the TCP connection succeeded.
func (p Port) IsOpen() bool {
	return p.Status.State == StateOpened
}

// HasBanner reports whether an open port sent bytes before any request.
func (p Port) HasBanner() bool {
	return p.IsOpen() && p.Status.Banner != nil
}

// NeedsIdentification reports whether active probing should be attempted,
// i.e. the port is open but passive banner grabbing produced nothing.
func (p Port) NeedsIdentification() bool {
	return p.IsOpen() && !p.HasBanner()
}

// String renders the port as "<port>: <status>" with the port number
// right-aligned on five columns.
func (p Port) String() string {
	return fmt.Sprintf("%5d: %s", p.Number, p.Status)
}
