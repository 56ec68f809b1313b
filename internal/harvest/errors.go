package harvest

import "errors"

// Service errors.
var (
	// ErrNoEligibleAccounts is returned when no account can take work.
	ErrNoEligibleAccounts = errors.New("no eligible accounts")

	// ErrNoPhrases is returned when a request has no phrase after normalization.
	ErrNoPhrases = errors.New("no phrases to crawl")

	// ErrInvalidRequest is returned for out-of-range crawl parameters.
	ErrInvalidRequest = errors.New("invalid crawl request")

	// ErrUnknownJob is returned when no job has the requested id.
	ErrUnknownJob = errors.New("unknown job")

	// ErrClosed is returned when submitting to a closed Service.
	ErrClosed = errors.New("harvest service is closed")

	// ErrBatchTimeout marks a region whose batch did not finish in time.
	ErrBatchTimeout = errors.New("crawl batch timed out")
)
