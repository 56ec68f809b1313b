package report

import (
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/result"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs reports in GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	if len(report.Rows) > 0 {
		w.writeRows(md, report)
	}
	if len(report.Nodes) > 0 {
		w.writeNodes(md, report.Nodes)
	}
	w.writePending(md, report)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by keyharvest*")

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *Report) {
	md.H1("Keyharvest Report")
	md.PlainText("")

	rows := [][]string{}
	if report.JobID != "" {
		rows = append(rows, []string{"Job", "`" + report.JobID + "`"})
	}
	if report.State != "" {
		rows = append(rows, []string{"State", string(report.State)})
	}
	if report.Params.Mode != "" {
		rows = append(rows, []string{"Mode", string(report.Params.Mode)})
	}
	if len(report.Regions) > 0 {
		rows = append(rows, []string{"Regions", joinInts(report.Regions)})
	}
	if !report.CreatedAt.IsZero() {
		rows = append(rows, []string{"Started", report.CreatedAt.Format("2006-01-02 15:04:05 MST")})
	}
	rows = append(rows,
		[]string{"Rows", strconv.Itoa(len(report.Rows))},
		[]string{"Nodes", strconv.Itoa(len(report.Nodes))},
	)
	if report.FailedQueries > 0 {
		rows = append(rows, []string{"Failed queries", strconv.Itoa(report.FailedQueries)})
	}
	md.Table(markdown.TableSet{Header: []string{"Property", "Value"}, Rows: rows})
	md.PlainText("")

	switch {
	case report.Error != "":
		md.Warningf("The crawl ended with errors: %s", report.Error)
		md.PlainText("")
	case report.State == model.JobPartial:
		md.Importantf("Partial results: %d phrase(s) were not crawled.", report.PendingCount())
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeRows(md *markdown.Markdown, report *Report) {
	md.H2("Frequency")
	md.PlainText("")

	rows := make([][]string, len(report.Rows))
	for i, r := range report.Rows {
		rows[i] = []string{
			truncateString(r.Phrase, 60),
			strconv.Itoa(r.Region),
			strconv.FormatInt(r.WS, 10),
			strconv.FormatInt(r.QWS, 10),
			strconv.FormatInt(r.BWS, 10),
			string(r.Status),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Phrase", "Region", "WS", "QWS", "BWS", "Status"},
		Rows:   rows,
	})
	md.PlainText("")

	counts := report.StatusCounts()
	if len(counts) > 1 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Row status"),
			piechart.WithShowData(true),
		)
		for _, status := range []model.RowStatus{model.RowOK, model.RowNoData, model.RowTimeout, model.RowError} {
			if n := counts[status]; n > 0 {
				chart.LabelAndIntValue(string(status), uint64(n))
			}
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeNodes(md *markdown.Markdown, nodes []model.FrontierNode) {
	md.H2("Suggestions")
	md.PlainText("")

	for _, g := range result.GroupByParent(nodes) {
		md.H3(g.Parent)
		md.PlainTextf("Level %d, seed `%s`, region %d", g.Level, g.Seed, g.Region)
		md.PlainText("")
		rows := make([][]string, len(g.Children))
		for i, n := range g.Children {
			rows[i] = []string{truncateString(n.Phrase, 60), strconv.FormatInt(n.Shows, 10)}
		}
		md.Table(markdown.TableSet{Header: []string{"Phrase", "Shows"}, Rows: rows})
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writePending(md *markdown.Markdown, report *Report) {
	if report.PendingCount() == 0 {
		return
	}
	md.H2("Not crawled")
	md.PlainText("")
	regions := make([]int, 0, len(report.Pending))
	for r := range report.Pending {
		regions = append(regions, r)
	}
	slices.Sort(regions)
	items := make([]string, 0, len(regions))
	for _, r := range regions {
		items = append(items, "region "+strconv.Itoa(r)+": "+strings.Join(report.Pending[r], ", "))
	}
	md.BulletList(items...)
	md.PlainText("")
}
