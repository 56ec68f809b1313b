package scheduler

import "errors"

// Scheduler errors.
var (
	// ErrProxyUnavailable is returned when no eligible account of a round
	// could get a proxy checkout.
	ErrProxyUnavailable = errors.New("no proxy available for any eligible account")

	// ErrNoAccounts is returned by Plan when it receives no accounts.
	ErrNoAccounts = errors.New("no eligible accounts")

	// ErrWorkerCrash marks a task whose worker panicked.
	ErrWorkerCrash = errors.New("crawl worker crashed")

	// ErrStopped marks a task ended by a stop request.
	ErrStopped = errors.New("crawl stopped")

	// ErrUnknownTask is returned when no task has the requested id.
	ErrUnknownTask = errors.New("unknown task")
)
