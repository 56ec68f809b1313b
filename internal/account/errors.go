package account

import "errors"

var (
	// ErrUnknownAccount is returned when no account has the requested id.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrInvalidTransition is returned when the current status does not
	// allow the requested transition.
	ErrInvalidTransition = errors.New("invalid account status transition")

	// ErrInvalidAccount is returned by Upsert for records without id or login.
	ErrInvalidAccount = errors.New("invalid account: id and login are required")
)
