package model

import "time"

// RowStatus is the outcome recorded for one phrase.
type RowStatus string

const (
	// RowOK means at least one count was positive.
	RowOK RowStatus = "OK"
	// RowNoData means the service answered with zero for every count.
	RowNoData RowStatus = "no_data"
	// RowTimeout means the service did not answer in time.
	RowTimeout RowStatus = "timeout"
	// RowError means the query failed for a reason other than a timeout.
	RowError RowStatus = "error"
)

// DefaultRegion is the region id used when a crawl names none.
const DefaultRegion = 225

// ResultRow is the frequency result for one (phrase, region).
type ResultRow struct {
	Phrase string `json:"phrase"`
	Region int    `json:"region"`

	// WS, QWS and BWS are the broad, "quoted" and !exact counts. A kind
	// that was not requested stays zero.
	WS  int64 `json:"ws"`
	QWS int64 `json:"qws"`
	BWS int64 `json:"bws"`

	Status RowStatus `json:"status"`

	// AccountID is the account whose session produced the row.
	AccountID string    `json:"account_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the aggregate identity of the row.
func (r ResultRow) Key() RowKey {
	return RowKey{Phrase: r.Phrase, Region: r.Region}
}

// RowKey identifies a ResultRow in the aggregate store.
type RowKey struct {
	Phrase string
	Region int
}

// StatusFor derives the row status from collected counts.
func StatusFor(ws, qws, bws int64) RowStatus {
	if ws > 0 || qws > 0 || bws > 0 {
		return RowOK
	}
	return RowNoData
}

// FrontierNode is one suggestion collected during depth expansion.
//
// Level counts from 1 for direct suggestions of the seed and strictly
// increases along expansion edges.
type FrontierNode struct {
	// Seed is the input phrase whose expansion reached this node.
	Seed   string `json:"seed"`
	Region int    `json:"region"`
	Phrase string `json:"phrase"`
	Shows  int64  `json:"shows"`

	// Parent is the query that listed Phrase; for level 1 it is the seed.
	Parent string `json:"parent"`
	Level  int    `json:"level"`

	AccountID string    `json:"account_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Suggestion is a raw (phrase, shows) pair read from a results table.
type Suggestion struct {
	Phrase string `json:"phrase"`
	Shows  int64  `json:"shows"`
}
