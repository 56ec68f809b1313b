package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/result"
	"github.com/xuri/excelize/v2"
)

func createTestReport() *Report {
	job := model.Job{
		ID:        "job-42",
		State:     model.JobPartial,
		Regions:   []int{225, 213},
		Params:    model.CrawlParams{Mode: model.ModeDepth, Depth: 2},
		Pending:   map[int][]string{213: {"bike"}},
		CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),

		FailedQueries: 2,
	}
	set := result.Set{
		Rows: []model.ResultRow{
			{Phrase: "buy car", Region: 225, WS: 1200, QWS: 300, BWS: 80, Status: model.RowOK},
			{Phrase: "rare phrase", Region: 225, Status: model.RowNoData},
		},
		Nodes: []model.FrontierNode{
			{Seed: "car", Region: 225, Parent: "car", Level: 1, Phrase: "car price", Shows: 500},
			{Seed: "car", Region: 225, Parent: "car price", Level: 2, Phrase: "car price new", Shows: 120},
		},
	}
	return New(job, set)
}

func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := NewSimpleWriter(&buf).Write(createTestReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"KEYHARVEST REPORT", "job-42", "buy car", "1200", "car price new", "NOT CRAWLED", "region 213: bike", "Failed:    2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q", want)
		}
	}
}

func TestSimpleWriterMaxRows(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := NewSimpleWriter(&buf, WithMaxRows(1)).Write(createTestReport()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "... 1 more") || strings.Contains(buf.String(), "rare phrase") {
		t.Errorf("rows were not capped:\n%s", buf.String())
	}
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(createTestReport()); err != nil {
		t.Fatal(err)
	}
	var decoded Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.JobID != "job-42" || len(decoded.Rows) != 2 || len(decoded.Nodes) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("expected indented output")
	}
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := NewMarkdownWriter(&buf).Write(createTestReport()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"# Keyharvest Report", "## Frequency", "| buy car", "## Suggestions", "### car price", "mermaid", "## Not crawled"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown is missing %q", want)
		}
	}
}

func TestXLSXWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n, err := NewXLSXWriter(&buf).Write(createTestReport())
	if err != nil {
		t.Fatal(err)
	}
	if n != buf.Len() {
		t.Errorf("reported %d bytes, wrote %d", n, buf.Len())
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("workbook does not open: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 3 {
		t.Errorf("sheets = %v", sheets)
	}
	rows, err := f.GetRows(SheetFrequency)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][0] != "buy car" || rows[1][2] != "1200" {
		t.Errorf("frequency rows = %v", rows)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatText},
		{"JSON", FormatJSON},
		{"md", FormatMarkdown},
		{"excel", FormatXLSX},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v, want ErrUnknownFormat", err)
	}
}

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	n, err := NewMultiWriter(NewSimpleWriter(&a), NewJSONWriter(&b)).Write(createTestReport())
	if err != nil {
		t.Fatal(err)
	}
	if n != a.Len()+b.Len() || a.Len() == 0 || b.Len() == 0 {
		t.Errorf("n = %d, a = %d, b = %d", n, a.Len(), b.Len())
	}
}
