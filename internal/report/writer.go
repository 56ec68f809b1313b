package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/result"
)

// Report is what a writer renders.
type Report struct {
	JobID      string               `json:"job_id,omitempty"`
	State      model.JobState       `json:"state,omitempty"`
	Params     model.CrawlParams    `json:"params"`
	Regions    []int                `json:"regions,omitempty"`
	CreatedAt  time.Time            `json:"created_at,omitzero"`
	FinishedAt time.Time            `json:"finished_at,omitzero"`
	Rows       []model.ResultRow    `json:"rows"`
	Nodes      []model.FrontierNode `json:"nodes,omitempty"`
	Pending    map[int][]string     `json:"pending,omitempty"`
	Error      string               `json:"error,omitempty"`

	// FailedQueries counts depth queries that timed out or failed.
	FailedQueries int `json:"failed_queries,omitempty"`
}

// New builds a Report from a job summary and its results.
func New(job model.Job, set result.Set) *Report {
	return &Report{
		JobID:      job.ID,
		State:      job.State,
		Params:     job.Params,
		Regions:    job.Regions,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
		Rows:       set.Rows,
		Nodes:      set.Nodes,
		Pending:    job.Pending,
		Error:      job.Err,

		FailedQueries: job.FailedQueries,
	}
}

// StatusCounts returns how many rows have each status.
func (r *Report) StatusCounts() map[model.RowStatus]int {
	counts := make(map[model.RowStatus]int)
	for _, row := range r.Rows {
		counts[row.Status]++
	}
	return counts
}

// PendingCount returns the number of uncrawled phrases over all regions.
func (r *Report) PendingCount() int {
	n := 0
	for _, p := range r.Pending {
		n += len(p)
	}
	return n
}

// Writer renders a Report to its destination.
type Writer interface {
	// Write outputs the report and returns the number of bytes written.
	Write(report *Report) (int, error)
}

// MultiWriter writes to multiple Writers in order.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers, stopping on the
// first error.
func (m *MultiWriter) Write(report *Report) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// Format names an output format.
type Format string

// Output formats.
const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatXLSX     Format = "xlsx"
)

// ErrUnknownFormat is returned for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat converts a format name, accepting "md" and "excel" aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// NewWriter returns the writer for format.
func NewWriter(format Format, output io.Writer) (Writer, error) {
	switch format {
	case FormatText:
		return NewSimpleWriter(output), nil
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	case FormatXLSX:
		return NewXLSXWriter(output), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// truncateString truncates a string to maxLen runes with ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
