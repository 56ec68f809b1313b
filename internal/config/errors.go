package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrInvalidMode is returned when the crawl mode is neither frequency nor depth.
	ErrInvalidMode = errors.New("invalid crawl mode: must be frequency or depth")

	// ErrInvalidDepth is returned when the crawl depth is below 1.
	ErrInvalidDepth = errors.New("invalid depth: must be at least 1")

	// ErrInvalidThreshold is returned when min_shows or expand_min is negative.
	ErrInvalidThreshold = errors.New("invalid show threshold: must be non-negative")

	// ErrInvalidTopK is returned when topk is negative. Zero keeps every child.
	ErrInvalidTopK = errors.New("invalid topk: must be non-negative")

	// ErrInvalidTimeout is returned when a navigation, response or wait timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidQueryInterval is returned when the query interval is negative.
	// Use 0 to disable pacing.
	ErrInvalidQueryInterval = errors.New("invalid query interval: must be non-negative")

	// ErrInvalidRegion is returned when the default region is negative.
	ErrInvalidRegion = errors.New("invalid region: must be non-negative")

	// ErrInvalidBackoff is returned for an unknown backoff kind or a non-positive base.
	ErrInvalidBackoff = errors.New("invalid cooldown backoff")

	// ErrInvalidConcurrency is returned when the health check concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid health check concurrency: must be positive")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)
