package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nao1215/tcprecon/internal/model"
)

// JSONWriter outputs reports in JSON format for tool integration.
// Closed ports are included, unlike in the text formats.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	indentPrefix string
	indentString string

	// version is recorded in batch output.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithVersion records the tcprecon version in batch output.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs one report as a JSON object.
func (w *JSONWriter) Write(report *model.ScanReport) (int, error) {
	return w.writeJSON(report)
}

// WriteBatch outputs all reports wrapped in a JSONReport.
func (w *JSONWriter) WriteBatch(reports []*model.ScanReport) (int, error) {
	return w.writeJSON(NewJSONReport(reports, w.version))
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var (
		data []byte
		err  error
	)

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}

// JSONReport wraps the reports of a run with metadata.
type JSONReport struct {
	// Version is the tcprecon version that generated this report.
	Version string `json:"version,omitempty"`

	// GeneratedAt is when the report was written.
	GeneratedAt time.Time `json:"generated_at"`

	// Targets holds one report per target in command-line order.
	Targets []*model.ScanReport `json:"targets"`
}

// NewJSONReport creates a JSONReport. Nil reports are dropped.
func NewJSONReport(reports []*model.ScanReport, version string) *JSONReport {
	targets := make([]*model.ScanReport, 0, len(reports))
	for _, r := range reports {
		if r != nil {
			targets = append(targets, r)
		}
	}
	return &JSONReport{
		Version:     version,
		GeneratedAt: time.Now(),
		Targets:     targets,
	}
}
