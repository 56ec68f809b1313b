package proxypool

import "errors"

// Proxy pool errors.
var (
	// ErrUnknownProxy is returned when no proxy has the requested id.
	ErrUnknownProxy = errors.New("unknown proxy")

	// ErrProxyDisabled is returned when acquiring a disabled proxy.
	ErrProxyDisabled = errors.New("proxy is disabled")

	// ErrProxyExpired is returned when acquiring a proxy past its vendor expiry.
	ErrProxyExpired = errors.New("proxy has expired")

	// ErrProxyExhausted is returned when all checkouts of a proxy are held.
	ErrProxyExhausted = errors.New("proxy has no free checkout")

	// ErrNoProxyAvailable is returned by AcquireAny when no proxy can serve.
	ErrNoProxyAvailable = errors.New("no proxy available")

	// ErrInvalidProxy is returned when a record lacks a host or a valid port.
	ErrInvalidProxy = errors.New("invalid proxy: host and port 1-65535 are required")

	// ErrInvalidProxyLine is returned when a proxy list line cannot be parsed.
	ErrInvalidProxyLine = errors.New("invalid proxy line")

	// ErrNoChecker is returned by Test and Sweep when the pool has no Checker.
	ErrNoChecker = errors.New("no health checker configured")
)
