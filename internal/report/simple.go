package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/tcprecon/internal/model"
)

// detailIndent prefixes probe output under a port line.
const detailIndent = "      "

// SimpleWriter outputs the plain text format: one "<port>: <status>" line
// per port, followed by the identified protocol and its details.
// Closed ports are never shown.
type SimpleWriter struct {
	baseWriter

	// hideFiltered drops filtered ports from the output.
	hideFiltered bool

	// verbose adds a header and a summary line per target.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithHideFiltered drops filtered ports from the output.
func WithHideFiltered(hide bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.hideFiltered = hide
	}
}

// WithVerbose adds a header and a summary line per target.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report of one target.
func (w *SimpleWriter) Write(report *model.ScanReport) (int, error) {
	var sb strings.Builder

	if w.verbose || report.Error != nil {
		w.writeHeader(&sb, report)
	}
	for _, p := range report.Ports {
		w.writePort(&sb, p)
	}
	if w.verbose && report.Error == nil {
		w.writeSummary(&sb, report)
	}

	return io.WriteString(w.output, sb.String())
}

// WriteBatch outputs every report in order.
func (w *SimpleWriter) WriteBatch(reports []*model.ScanReport) (int, error) {
	return writeEach(reports, w.Write)
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.ScanReport) {
	switch {
	case report.Error != nil:
		fmt.Fprintf(sb, "Scan of %s failed: %s\n", report.Target, report.ErrorMessage)
	case report.Address != "" && report.Address != report.Target:
		fmt.Fprintf(sb, "Scan report for %s (%s)\n", report.Target, report.Address)
	default:
		fmt.Fprintf(sb, "Scan report for %s\n", report.Target)
	}
}

func (w *SimpleWriter) writePort(sb *strings.Builder, p model.PortReport) {
	switch p.Status.State {
	case model.StateClosed:
		return
	case model.StateFiltered:
		if w.hideFiltered {
			return
		}
	}

	sb.WriteString(p.Port.String())
	sb.WriteString("\n")

	if p.Service == nil {
		return
	}
	fmt.Fprintf(sb, "%sFound protocol %s\n", detailIndent, strings.ToUpper(p.Service.Protocol))
	for _, d := range p.Service.Details {
		fmt.Fprintf(sb, "%s- %s: %s\n", detailIndent, d.Label, d.Value)
	}
}

func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *model.ScanReport) {
	fmt.Fprintf(sb, "%d ports scanned in %s: %d opened, %d closed, %d filtered, %d identified\n",
		report.PortCount,
		report.Duration.Round(time.Millisecond),
		report.Count(model.StateOpened),
		report.Count(model.StateClosed),
		report.Count(model.StateFiltered),
		report.Identified(),
	)
}
