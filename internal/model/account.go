package model

import (
	"fmt"
	"strings"
	"time"
)

// AccountStatus is the scheduling state of an account.
type AccountStatus string

const (
	// StatusOK accounts are ready for scheduling.
	StatusOK AccountStatus = "ok"
	// StatusCooldown accounts are suspended until CooldownUntil.
	StatusCooldown AccountStatus = "cooldown"
	// StatusCaptcha accounts hit a challenge page and wait for a solve.
	StatusCaptcha AccountStatus = "captcha"
	// StatusBanned accounts exceeded the captcha threshold. Terminal.
	StatusBanned AccountStatus = "banned"
	// StatusDisabled accounts were switched off by an operator. Terminal.
	StatusDisabled AccountStatus = "disabled"
	// StatusError accounts failed with an unclassified transient error.
	StatusError AccountStatus = "error"
)

// AllAccountStatuses lists every status in display order.
var AllAccountStatuses = []AccountStatus{
	StatusOK, StatusCooldown, StatusCaptcha, StatusBanned, StatusDisabled, StatusError,
}

// Terminal reports whether only an operator reset can leave the status.
func (s AccountStatus) Terminal() bool {
	return s == StatusBanned || s == StatusDisabled
}

// ParseAccountStatus converts a stored string into an AccountStatus.
func ParseAccountStatus(s string) (AccountStatus, error) {
	want := AccountStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range AllAccountStatuses {
		if st == want {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown account status %q", s)
}

// ProxyStrategy selects how an account obtains its proxy.
type ProxyStrategy string

const (
	// StrategyFixed binds the account to AccountRecord.ProxyID.
	StrategyFixed ProxyStrategy = "fixed"
	// StrategyRotate picks any acquirable proxy on each launch.
	StrategyRotate ProxyStrategy = "rotate"
)

// DefaultSlot is the profile slot used when an account has none selected.
const DefaultSlot = "default"

// AccountRecord is one account profile able to run a browser session.
type AccountRecord struct {
	ID    string `json:"id" yaml:"id"`
	Login string `json:"login" yaml:"login"`

	// ProfileDir holds the browser user data and the cookie slots.
	ProfileDir string `json:"profile_dir" yaml:"profile_dir"`

	ProxyID       string        `json:"proxy_id,omitempty" yaml:"proxy_id,omitempty"`
	ProxyStrategy ProxyStrategy `json:"proxy_strategy" yaml:"proxy_strategy"`

	Status AccountStatus `json:"status" yaml:"status"`

	// CaptchaTries counts captchas since the last reset. It survives a
	// return to StatusOK, so an account that keeps hitting captchas ends
	// up banned. CaptchaAt is the time of the latest one.
	CaptchaTries  int       `json:"captcha_tries" yaml:"-"`
	CaptchaAt     time.Time `json:"captcha_at,omitzero" yaml:"-"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero" yaml:"-"`

	// Strikes counts consecutive rate-limit signals and drives
	// exponential cooldown backoff. A successful run resets it.
	Strikes int `json:"strikes" yaml:"-"`

	// LastError is the message of the failure that moved the account to
	// StatusError.
	LastError string    `json:"last_error,omitempty" yaml:"-"`
	ErrorAt   time.Time `json:"error_at,omitzero" yaml:"-"`

	Fingerprint FingerprintConfig `json:"fingerprint" yaml:"fingerprint"`

	// ActiveSlot names the cookie snapshot loaded on open.
	ActiveSlot string `json:"active_slot,omitempty" yaml:"active_slot,omitempty"`

	Notes     string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero" yaml:"-"`
}

// Slot returns the active slot name, falling back to DefaultSlot.
func (a AccountRecord) Slot() string {
	if a.ActiveSlot == "" {
		return DefaultSlot
	}
	return a.ActiveSlot
}

// Strategy returns the proxy strategy, falling back to StrategyFixed
// when a proxy id is set and StrategyRotate otherwise.
func (a AccountRecord) Strategy() ProxyStrategy {
	switch a.ProxyStrategy {
	case StrategyFixed, StrategyRotate:
		return a.ProxyStrategy
	}
	if a.ProxyID != "" {
		return StrategyFixed
	}
	return StrategyRotate
}
