package model

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the crawl algorithm applied to each phrase.
type Mode string

const (
	// ModeFrequency issues one flat query per phrase and returns its counts.
	ModeFrequency Mode = "frequency"
	// ModeDepth expands each phrase into related suggestions level by level.
	ModeDepth Mode = "depth"
)

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFrequency:
		return ModeFrequency, nil
	case ModeDepth:
		return ModeDepth, nil
	default:
		return "", fmt.Errorf("unknown crawl mode %q", s)
	}
}

// TaskStatus is the lifecycle state of a CrawlTask.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Terminal reports whether the task will not change state again.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// FrequencyKinds toggles which counts a frequency crawl collects.
type FrequencyKinds struct {
	// Broad is the plain phrase count (ws).
	Broad bool `json:"broad" yaml:"broad"`
	// Quoted is the "phrase" count (qws).
	Quoted bool `json:"quoted" yaml:"quoted"`
	// Exact is the "!w1 !w2" count (bws).
	Exact bool `json:"exact" yaml:"exact"`
}

// Any reports whether at least one kind is enabled.
func (k FrequencyKinds) Any() bool {
	return k.Broad || k.Quoted || k.Exact
}

// AllFrequencyKinds enables ws, qws and bws.
var AllFrequencyKinds = FrequencyKinds{Broad: true, Quoted: true, Exact: true}

// CrawlParams are the tunables of one crawl.
type CrawlParams struct {
	Mode  Mode           `json:"mode"`
	// Kinds selects the frequency counts; it is ignored in depth mode.
	Kinds FrequencyKinds `json:"kinds"`

	// Depth, MinShows, ExpandMin and TopK shape the depth crawl: how many
	// levels to descend, the shows a node needs to be recorded, the shows
	// it needs to be expanded, and how many nodes per query are expanded
	// (0 means all).
	Depth     int   `json:"depth"`
	MinShows  int64 `json:"min_shows"`
	ExpandMin int64 `json:"expand_min"`
	TopK      int   `json:"topk"`
}

// CrawlTask is one batch of phrases assigned to one account for one region.
type CrawlTask struct {
	ID        string      `json:"id"`
	JobID     string      `json:"job_id,omitempty"`
	Phrases   []string    `json:"phrases"`
	Region    int         `json:"region"`
	Params    CrawlParams `json:"params"`
	AccountID string      `json:"account_id"`
	ProxyID   string      `json:"proxy_id,omitempty"`
	Status    TaskStatus  `json:"status"`

	// Err holds the failure that ended the task, if any.
	Err string `json:"error,omitempty"`

	// Pending lists phrases the task never processed, for requeueing.
	Pending []string `json:"pending,omitempty"`

	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}
