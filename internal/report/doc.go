// Package report renders scan reports.
//
// Writers for three formats are provided:
//   - SimpleWriter: the plain "<port>: <status>" lines for terminal display
//   - JSONWriter: structured output for tool integration
//   - MarkdownWriter: a document with tables and a port state chart
//
// Writers implement the Writer interface and can be combined with
// MultiWriter.
package report
