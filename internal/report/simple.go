package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/result"
)

const ruleWidth = 78

// SimpleWriter outputs human-readable text reports for terminals.
type SimpleWriter struct {
	baseWriter

	// maxRows caps the rows listed per section. 0 lists all of them.
	maxRows int
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithMaxRows limits the rows listed in each section.
func WithMaxRows(n int) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.maxRows = n
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report as text.
func (w *SimpleWriter) Write(report *Report) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	if len(report.Rows) > 0 {
		w.writeRows(&sb, report.Rows)
	}
	if len(report.Nodes) > 0 {
		w.writeNodes(&sb, report.Nodes)
	}
	w.writePending(&sb, report)

	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *Report) {
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("                              KEYHARVEST REPORT\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")

	if report.JobID != "" {
		fmt.Fprintf(sb, "Job:       %s\n", report.JobID)
	}
	if report.State != "" {
		fmt.Fprintf(sb, "State:     %s\n", report.State)
	}
	if report.Params.Mode != "" {
		fmt.Fprintf(sb, "Mode:      %s\n", report.Params.Mode)
	}
	if len(report.Regions) > 0 {
		fmt.Fprintf(sb, "Regions:   %s\n", joinInts(report.Regions))
	}
	if !report.CreatedAt.IsZero() {
		fmt.Fprintf(sb, "Started:   %s\n", report.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if !report.FinishedAt.IsZero() {
		fmt.Fprintf(sb, "Finished:  %s\n", report.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if report.Error != "" {
		fmt.Fprintf(sb, "Error:     %s\n", report.Error)
	}
	fmt.Fprintf(sb, "Rows:      %d\n", len(report.Rows))
	if len(report.Nodes) > 0 {
		fmt.Fprintf(sb, "Nodes:     %d\n", len(report.Nodes))
	}
	if report.FailedQueries > 0 {
		fmt.Fprintf(sb, "Failed:    %d quer(ies) timed out or failed\n", report.FailedQueries)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeRows(sb *strings.Builder, rows []model.ResultRow) {
	w.section(sb, "FREQUENCY")
	fmt.Fprintf(sb, "  %-40s %7s %11s %11s %11s  %s\n", "PHRASE", "REGION", "WS", "QWS", "BWS", "STATUS")
	for i, r := range rows {
		if w.maxRows > 0 && i == w.maxRows {
			fmt.Fprintf(sb, "  ... %d more\n", len(rows)-i)
			break
		}
		fmt.Fprintf(sb, "  %-40s %7d %11d %11d %11d  %s\n",
			truncateString(r.Phrase, 40), r.Region, r.WS, r.QWS, r.BWS, r.Status)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeNodes(sb *strings.Builder, nodes []model.FrontierNode) {
	w.section(sb, "SUGGESTIONS")
	for _, g := range result.GroupByParent(nodes) {
		fmt.Fprintf(sb, "[%d] %s  (seed %q, region %d)\n", g.Level, g.Parent, g.Seed, g.Region)
		for i, n := range g.Children {
			if w.maxRows > 0 && i == w.maxRows {
				fmt.Fprintf(sb, "  ... %d more\n", len(g.Children)-i)
				break
			}
			fmt.Fprintf(sb, "  %-50s %11d\n", truncateString(n.Phrase, 50), n.Shows)
		}
		sb.WriteString("\n")
	}
}

func (w *SimpleWriter) writePending(sb *strings.Builder, report *Report) {
	if report.PendingCount() == 0 {
		return
	}
	w.section(sb, "NOT CRAWLED")
	regions := make([]int, 0, len(report.Pending))
	for r := range report.Pending {
		regions = append(regions, r)
	}
	slices.Sort(regions)
	for _, r := range regions {
		fmt.Fprintf(sb, "  region %d: %s\n", r, strings.Join(report.Pending[r], ", "))
	}
	sb.WriteString("\n")
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
