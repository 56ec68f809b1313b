// Package scheduler fans phrase batches out to one crawl worker per
// account and collects what they produce.
//
// Plan turns the eligible accounts of a round into assignments: each
// account gets a proxy checkout and a resolved fingerprint, and the
// deduplicated phrases are split evenly over the accounts that got one.
// SubmitTasks starts a goroutine per assignment. Workers share only the
// proxy pool and the account directory; each owns its browser session.
//
// Failures stay scoped to their task. A panicking worker is recovered,
// its proxy released and its account marked as errored while the other
// workers continue. WaitForCompletion applies one timeout to the whole
// batch and never discards results that already arrived.
package scheduler
