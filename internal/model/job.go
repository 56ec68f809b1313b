package model

import "time"

// JobState is the lifecycle state of a crawl job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
	// JobPartial marks a finished job that left phrases uncrawled.
	JobPartial JobState = "partial"
)

// Terminal reports whether the job will not change state again.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobPartial
}

// Job is the persisted summary of one crawl request.
type Job struct {
	ID      string      `json:"id"`
	State   JobState    `json:"state"`
	Phrases []string    `json:"phrases"`
	Regions []int       `json:"regions"`
	Params  CrawlParams `json:"params"`

	// Tasks counts submitted tasks over all regions and rounds. Rows and
	// Nodes count distinct aggregated results, and Rounds is the highest
	// requeue round reached in any region.
	Tasks  int `json:"tasks"`
	Rows   int `json:"rows"`
	Nodes  int `json:"nodes"`
	Rounds int `json:"rounds"`

	// Pending lists phrases still uncrawled when the job ended, per region.
	Pending map[int][]string `json:"pending,omitempty"`

	// FailedQueries counts depth-mode queries that produced no rows
	// because of a timeout or a page error. A job with failed queries is
	// never done.
	FailedQueries int `json:"failed_queries,omitempty"`

	Err string `json:"error,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}
