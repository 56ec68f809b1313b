package account

import (
	"fmt"
	"strings"
	"time"
)

// BackoffKind selects how cooldown durations grow.
type BackoffKind string

const (
	// BackoffFixed always waits Base.
	BackoffFixed BackoffKind = "fixed"
	// BackoffExponential doubles Base with every consecutive strike up to Max.
	BackoffExponential BackoffKind = "exponential"
)

// Default cooldown backoff.
const (
	DefaultBackoffBase = 15 * time.Minute
	DefaultBackoffMax  = 6 * time.Hour
)

// ParseBackoffKind converts a string into a BackoffKind.
func ParseBackoffKind(s string) (BackoffKind, error) {
	switch BackoffKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackoffFixed:
		return BackoffFixed, nil
	case BackoffExponential:
		return BackoffExponential, nil
	default:
		return "", fmt.Errorf("unknown backoff kind %q", s)
	}
}

// Backoff computes cooldown durations.
type Backoff struct {
	Kind BackoffKind
	// Base is the first cooldown, and every cooldown for BackoffFixed.
	Base time.Duration
	// Max caps exponential cooldowns.
	Max  time.Duration
}

// DefaultBackoff returns a fixed backoff of DefaultBackoffBase.
func DefaultBackoff() Backoff {
	return Backoff{Kind: BackoffFixed, Base: DefaultBackoffBase, Max: DefaultBackoffMax}
}

// Duration returns the cooldown for the given strike number, counting from 1.
func (b Backoff) Duration(strike int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if b.Kind != BackoffExponential || strike <= 1 {
		return base
	}
	limit := b.Max
	if limit <= 0 {
		limit = DefaultBackoffMax
	}
	d := base
	for i := 1; i < strike; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}
