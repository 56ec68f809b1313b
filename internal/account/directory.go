package account

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
)

// DefaultCaptchaThreshold is the number of captcha challenges an account
// may accumulate before the next one bans it.
const DefaultCaptchaThreshold = 3

// ProxyResolver reports whether an account's proxy can be acquired.
type ProxyResolver interface {
	CanResolve(acc model.AccountRecord) bool
}

// ChangeFunc observes every status change. It is called without the
// directory lock held.
type ChangeFunc func(prev, next model.AccountRecord)

// Directory is the thread-safe account registry.
type Directory struct {
	mu       sync.Mutex
	accounts map[string]*model.AccountRecord
	order    []string // insertion order, used by List and Candidates

	now              func() time.Time
	backoff          Backoff
	captchaThreshold int
	onChange         ChangeFunc
	logger           *slog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// WithBackoff sets the cooldown backoff policy.
func WithBackoff(b Backoff) Option {
	return func(d *Directory) {
		d.backoff = b
	}
}

// WithCaptchaThreshold sets the captcha ban threshold.
func WithCaptchaThreshold(n int) Option {
	return func(d *Directory) {
		if n > 0 {
			d.captchaThreshold = n
		}
	}
}

// WithChangeHook registers fn to observe status changes.
func WithChangeHook(fn ChangeFunc) Option {
	return func(d *Directory) {
		d.onChange = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirectory creates an empty Directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{
		accounts:         make(map[string]*model.AccountRecord),
		now:              time.Now,
		backoff:          DefaultBackoff(),
		captchaThreshold: DefaultCaptchaThreshold,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Upsert inserts or replaces an account. An empty status becomes ok and an
// unset fingerprint version is stamped with the current version.
func (d *Directory) Upsert(acc model.AccountRecord) (model.AccountRecord, error) {
	if acc.ID == "" || acc.Login == "" {
		return model.AccountRecord{}, ErrInvalidAccount
	}
	if acc.Status == "" {
		acc.Status = model.StatusOK
	}
	if acc.Fingerprint.Version == 0 {
		acc.Fingerprint.Version = model.FingerprintConfigVersion
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	acc.UpdatedAt = d.now()
	if _, ok := d.accounts[acc.ID]; !ok {
		d.order = append(d.order, acc.ID)
	}
	stored := acc
	d.accounts[acc.ID] = &stored
	return acc, nil
}

// Remove deletes an account and reports whether it existed.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[id]; !ok {
		return false
	}
	delete(d.accounts, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the account.
func (d *Directory) Get(id string) (model.AccountRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	if !ok {
		return model.AccountRecord{}, false
	}
	return *a, true
}

// List returns copies of all accounts in insertion order.
func (d *Directory) List() []model.AccountRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.AccountRecord, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.accounts[id])
	}
	return out
}

// IsEligible applies the status part of the eligibility predicate.
func IsEligible(acc model.AccountRecord, now time.Time) bool {
	switch acc.Status {
	case model.StatusOK:
		return true
	case model.StatusCooldown:
		return !now.Before(acc.CooldownUntil)
	default:
		return false
	}
}

// CandidateOptions widen the candidate set beyond strictly eligible accounts.
type CandidateOptions struct {
	// RetryErrored admits error accounts whose last failure is at least
	// ErrorRetryAfter old. A successful run moves them back to ok.
	RetryErrored    bool
	ErrorRetryAfter time.Duration

	// RetryCaptcha admits captcha accounts whose latest challenge is at
	// least CaptchaRetryAfter old. A successful run moves them back to ok
	// with their captcha count kept; another challenge counts towards the
	// ban threshold.
	RetryCaptcha      bool
	CaptchaRetryAfter time.Duration
}

func (o CandidateOptions) retry(acc model.AccountRecord, now time.Time) bool {
	switch acc.Status {
	case model.StatusError:
		return o.RetryErrored && !now.Before(acc.ErrorAt.Add(o.ErrorRetryAfter))
	case model.StatusCaptcha:
		return o.RetryCaptcha && !now.Before(acc.CaptchaAt.Add(o.CaptchaRetryAfter))
	default:
		return false
	}
}

// Eligible returns the accounts satisfying the eligibility predicate in
// insertion order. A nil resolver skips the proxy check.
func (d *Directory) Eligible(resolver ProxyResolver) []model.AccountRecord {
	return d.Candidates(resolver, CandidateOptions{})
}

// Candidates returns eligible accounts plus, when opts allow it, error and
// captcha accounts due for a retry attempt.
func (d *Directory) Candidates(resolver ProxyResolver, opts CandidateOptions) []model.AccountRecord {
	d.mu.Lock()
	now := d.now()
	var picked []model.AccountRecord
	for _, id := range d.order {
		acc := *d.accounts[id]
		if IsEligible(acc, now) || opts.retry(acc, now) {
			picked = append(picked, acc)
		}
	}
	d.mu.Unlock()

	if resolver == nil {
		return picked
	}
	out := picked[:0]
	for _, acc := range picked {
		if resolver.CanResolve(acc) {
			out = append(out, acc)
		}
	}
	return out
}

// Refresh moves cooldown accounts whose cooldown elapsed back to ok and
// returns how many were moved.
func (d *Directory) Refresh() int {
	n := 0
	for _, acc := range d.List() {
		if acc.Status != model.StatusCooldown {
			continue
		}
		_, changed, _ := d.transition(acc.ID, func(a *model.AccountRecord, now time.Time) error {
			if a.Status != model.StatusCooldown || now.Before(a.CooldownUntil) {
				return errNoChange
			}
			a.Status = model.StatusOK
			a.CooldownUntil = time.Time{}
			return nil
		})
		if changed {
			n++
		}
	}
	return n
}

// MarkRateLimited puts the account into cooldown for the next backoff step.
func (d *Directory) MarkRateLimited(id string) (model.AccountRecord, error) {
	acc, _, err := d.transition(id, func(a *model.AccountRecord, now time.Time) error {
		switch a.Status {
		case model.StatusOK, model.StatusCooldown, model.StatusError:
		default:
			return invalid(a.Status, model.StatusCooldown)
		}
		a.Strikes++
		a.Status = model.StatusCooldown
		a.CooldownUntil = now.Add(d.backoff.Duration(a.Strikes))
		return nil
	})
	return acc, err
}

// MarkCaptcha records a challenge page. The account moves to captcha, or
// to banned once captcha_tries exceeds the threshold.
func (d *Directory) MarkCaptcha(id string) (model.AccountRecord, error) {
	acc, _, err := d.transition(id, func(a *model.AccountRecord, now time.Time) error {
		if a.Status.Terminal() {
			return invalid(a.Status, model.StatusCaptcha)
		}
		a.CaptchaTries++
		a.CaptchaAt = now
		if a.CaptchaTries > d.captchaThreshold {
			a.Status = model.StatusBanned
			return nil
		}
		a.Status = model.StatusCaptcha
		return nil
	})
	return acc, err
}

// MarkCaptchaSolved returns a captcha account to ok after an operator
// solved the challenge in the profile. The captcha count is kept.
func (d *Directory) MarkCaptchaSolved(id string) (model.AccountRecord, error) {
	acc, _, err := d.transition(id, func(a *model.AccountRecord, _ time.Time) error {
		if a.Status != model.StatusCaptcha {
			return invalid(a.Status, model.StatusOK)
		}
		a.Status = model.StatusOK
		return nil
	})
	return acc, err
}

// MarkError moves a non-terminal account to error and records cause.
func (d *Directory) MarkError(id string, cause error) (model.AccountRecord, error) {
	acc, _, err := d.transition(id, func(a *model.AccountRecord, now time.Time) error {
		if a.Status.Terminal() {
			return invalid(a.Status, model.StatusError)
		}
		a.Status = model.StatusError
		a.ErrorAt = now
		a.LastError = ""
		if cause != nil {
			a.LastError = cause.Error()
		}
		return nil
	})
	return acc, err
}

// MarkSuccess records a run that finished without account-level failure.
// error, captcha and elapsed cooldown accounts return to ok; the strike
// counter is reset. The captcha count is not.
func (d *Directory) MarkSuccess(id string) (model.AccountRecord, error) {
	acc, _, err := d.transition(id, func(a *model.AccountRecord, now time.Time) error {
		switch a.Status {
		case model.StatusOK:
		case model.StatusError:
			a.Status = model.StatusOK
			a.LastError = ""
			a.ErrorAt = time.Time{}
		case model.StatusCaptcha:
			a.Status = model.StatusOK
		case model.StatusCooldown:
			if now.Before(a.CooldownUntil) {
				return invalid(a.Status, model.StatusOK)
			}
			a.Status = model.StatusOK
			a.CooldownUntil = time.Time{}
		default:
			return invalid(a.Status, model.StatusOK)
		}
		a.Strikes = 0
		return nil
	})
	return acc, err
}

// Reset is the operator action returning any account to a clean ok state.
func (d *Directory) Reset(id string) (model.AccountRecord, error) {
	acc, _, err := d.transition(id, func(a *model.AccountRecord, _ time.Time) error {
		a.Status = model.StatusOK
		a.CaptchaTries = 0
		a.CaptchaAt = time.Time{}
		a.Strikes = 0
		a.CooldownUntil = time.Time{}
		a.LastError = ""
		a.ErrorAt = time.Time{}
		return nil
	})
	return acc, err
}

// Disable is the operator action switching an account off.
func (d *Directory) Disable(id string) (model.AccountRecord, error) {
	acc, _, err := d.transition(id, func(a *model.AccountRecord, _ time.Time) error {
		a.Status = model.StatusDisabled
		return nil
	})
	return acc, err
}

// SetSlot changes the active profile slot.
func (d *Directory) SetSlot(id, slot string) (model.AccountRecord, error) {
	acc, _, err := d.transition(id, func(a *model.AccountRecord, _ time.Time) error {
		a.ActiveSlot = slot
		return nil
	})
	return acc, err
}

// transition applies fn to the account under the lock and fires the change
// hook after unlocking. fn returning errNoChange leaves the record untouched
// without reporting an error.
func (d *Directory) transition(id string, fn func(*model.AccountRecord, time.Time) error) (model.AccountRecord, bool, error) {
	d.mu.Lock()
	a, ok := d.accounts[id]
	if !ok {
		d.mu.Unlock()
		return model.AccountRecord{}, false, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	prev := *a
	next := prev
	now := d.now()
	if err := fn(&next, now); err != nil {
		d.mu.Unlock()
		if errors.Is(err, errNoChange) {
			return prev, false, nil
		}
		return prev, false, fmt.Errorf("account %s: %w", id, err)
	}
	next.UpdatedAt = now
	*a = next
	hook := d.onChange
	d.mu.Unlock()

	if prev.Status != next.Status {
		d.logger.Info("account status changed", "account", id, "from", string(prev.Status), "to", string(next.Status))
	}
	if hook != nil {
		hook(prev, next)
	}
	return next, true, nil
}

var errNoChange = errors.New("no change")

func invalid(from, to model.AccountStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
