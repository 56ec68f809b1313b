package browser

import "errors"

// Session signals. They classify one query or one session, never a batch.
var (
	// ErrAuthRequired is returned when the site redirected to the login page.
	ErrAuthRequired = errors.New("session requires login")

	// ErrResponseTimeout is returned when no matching response arrived in time.
	ErrResponseTimeout = errors.New("timed out waiting for response")

	// ErrCaptchaDetected is returned when a challenge page is shown.
	ErrCaptchaDetected = errors.New("captcha challenge detected")

	// ErrRateLimited is returned when the site answered with HTTP 429.
	ErrRateLimited = errors.New("rate limited by site")

	// ErrNoSearchInput is returned when none of the search selectors matched.
	ErrNoSearchInput = errors.New("search input not found")

	// ErrSessionClosed is returned for calls on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrInvalidSlot is returned for slot names that are not a single path element.
	ErrInvalidSlot = errors.New("invalid profile slot name")
)
