// Package report renders crawl results.
//
// Four formats are available: a plain text summary for terminals, JSON for
// tooling, Markdown for sharing and an XLSX workbook for spreadsheet work.
// Every writer consumes the same Report, built from a job summary and its
// merged results.
package report
