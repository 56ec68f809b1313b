// Package harvest is the entry point of the crawl orchestrator.
//
// A Service is built once per process from the shared proxy pool, account
// directory and session opener, and accepts crawl requests as background
// jobs. Each job crawls its regions one after another. Within a region the
// phrases are partitioned over the eligible accounts; phrases orphaned by a
// lost session, a captcha, a rate limit or a crashed worker are handed to
// the accounts still healthy for a bounded number of requeue rounds.
//
// Results are best effort. A job whose batch timed out, or whose phrases
// could not all be placed, ends as partial with everything it collected.
package harvest
