package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/tcprecon/internal/model"
)

// MarkdownWriter outputs reports in Markdown format for documentation and
// sharing.
type MarkdownWriter struct {
	baseWriter

	// hideFiltered drops filtered ports from the port table.
	hideFiltered bool
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithMarkdownHideFiltered drops filtered ports from the port table.
func WithMarkdownHideFiltered(hide bool) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		w.hideFiltered = hide
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report of one target as a complete document.
func (w *MarkdownWriter) Write(report *model.ScanReport) (int, error) {
	return w.WriteBatch([]*model.ScanReport{report})
}

// WriteBatch outputs one document with a section per target.
func (w *MarkdownWriter) WriteBatch(reports []*model.ScanReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("tcprecon Report")
	md.PlainText("")

	for _, r := range reports {
		if r == nil {
			continue
		}
		w.writeTarget(md, r)
	}

	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeTarget(md *markdown.Markdown, report *model.ScanReport) {
	md.H2("Target `" + report.Target + "`")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Address", orDash(report.Address)},
			{"Scan ID", "`" + report.ID.String() + "`"},
			{"Started", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", report.Duration.Round(time.Millisecond).String()},
			{"Ports Scanned", strconv.Itoa(report.PortCount)},
			{"Status", w.getStatusText(report)},
		},
	})
	md.PlainText("")

	if report.Error != nil {
		md.Cautionf("Scan failed: %s", report.ErrorMessage)
		md.PlainText("")
		return
	}

	if len(report.Ports) > 0 {
		w.writePieChart(md, report)
	}
	w.writeAlert(md, report)
	w.writePorts(md, report)
	w.writeServices(md, report)
}

func (w *MarkdownWriter) getStatusText(report *model.ScanReport) string {
	if report.Error != nil {
		return "❌ Error - " + report.ErrorMessage
	}
	return "✅ Complete"
}

// writePieChart writes a mermaid pie chart of port states.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *model.ScanReport) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Port States"),
		piechart.WithShowData(true),
	)

	for _, state := range []model.State{model.StateOpened, model.StateClosed, model.StateFiltered} {
		if n := report.Count(state); n > 0 {
			chart.LabelAndIntValue(state.String(), uint64(n)) //nolint:gosec // counts are non-negative
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.ScanReport) {
	opened := report.Count(model.StateOpened)
	switch {
	case opened == 0:
		md.Note("No open ports found.")
	case report.Identified() > 0:
		md.Importantf("%d open port(s), %d identified by active probing.", opened, report.Identified())
	default:
		md.Tip(fmt.Sprintf("%d open port(s) found.", opened))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writePorts(md *markdown.Markdown, report *model.ScanReport) {
	md.H2("Ports")
	md.PlainText("")

	rows := make([][]string, 0, len(report.Ports))
	for _, p := range report.Ports {
		if p.Status.State == model.StateClosed {
			continue
		}
		if w.hideFiltered && p.Status.State == model.StateFiltered {
			continue
		}

		banner := "-"
		if p.HasBanner() {
			banner = "`" + escapeCell(truncateString(model.FormatBanner(p.Status.Banner), 50)) + "`"
		}
		protocol := "-"
		if p.Service != nil {
			protocol = p.Service.Protocol
		}
		rows = append(rows, []string{strconv.Itoa(int(p.Number)), p.Status.State.String(), banner, protocol})
	}

	if len(rows) == 0 {
		md.PlainText("No ports to show.")
		md.PlainText("")
		return
	}

	md.Table(markdown.TableSet{
		Header: []string{"Port", "State", "Banner", "Protocol"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeServices writes the details collected by protocol probes.
func (w *MarkdownWriter) writeServices(md *markdown.Markdown, report *model.ScanReport) {
	if report.Identified() == 0 {
		return
	}

	md.H2("Identified Services")
	md.PlainText("")

	for _, p := range report.Ports {
		if p.Service == nil {
			continue
		}
		md.PlainText(fmt.Sprintf("### %d/%s", p.Number, p.Service.Protocol))
		md.PlainText("")

		if len(p.Service.Details) == 0 {
			md.PlainText("No details reported.")
			md.PlainText("")
			continue
		}
		items := make([]string, len(p.Service.Details))
		for i, d := range p.Service.Details {
			items[i] = "**" + d.Label + "**: " + d.Value
		}
		md.BulletList(items...)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [tcprecon](https://github.com/nao1215/tcprecon)*")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
