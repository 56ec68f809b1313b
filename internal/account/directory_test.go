package account

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type resolverFunc func(model.AccountRecord) bool

func (f resolverFunc) CanResolve(acc model.AccountRecord) bool { return f(acc) }

func newTestDirectory(t *testing.T, opts ...Option) (*Directory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	d := NewDirectory(append([]Option{WithClock(clock.Now)}, opts...)...)
	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := d.Upsert(model.AccountRecord{ID: id, Login: id + "@example.com", ProxyID: "p-" + id}); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	return d, clock
}

func TestIsEligible(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		acc  model.AccountRecord
		want bool
	}{
		{name: "ok is eligible", acc: model.AccountRecord{Status: model.StatusOK}, want: true},
		{name: "cooldown in the past is eligible", acc: model.AccountRecord{Status: model.StatusCooldown, CooldownUntil: now.Add(-time.Second)}, want: true},
		{name: "cooldown ending now is eligible", acc: model.AccountRecord{Status: model.StatusCooldown, CooldownUntil: now}, want: true},
		{name: "cooldown in the future is ineligible", acc: model.AccountRecord{Status: model.StatusCooldown, CooldownUntil: now.Add(time.Second)}, want: false},
		{name: "captcha is ineligible", acc: model.AccountRecord{Status: model.StatusCaptcha}, want: false},
		{name: "banned is ineligible", acc: model.AccountRecord{Status: model.StatusBanned}, want: false},
		{name: "disabled is ineligible", acc: model.AccountRecord{Status: model.StatusDisabled}, want: false},
		{name: "error is ineligible", acc: model.AccountRecord{Status: model.StatusError}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsEligible(tt.acc, now); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDirectory_Eligible(t *testing.T) {
	t.Parallel()

	t.Run("honors proxy resolvability and insertion order", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDirectory(t)
		got := d.Eligible(resolverFunc(func(a model.AccountRecord) bool { return a.ID != "a2" }))
		if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a3" {
			t.Errorf("unexpected eligible set %v", ids(got))
		}
	})

	t.Run("cooldown becomes eligible once elapsed", func(t *testing.T) {
		t.Parallel()
		d, clock := newTestDirectory(t, WithBackoff(Backoff{Kind: BackoffFixed, Base: 10 * time.Minute}))
		acc, err := d.MarkRateLimited("a1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if acc.Status != model.StatusCooldown {
			t.Fatalf("expected cooldown, got %s", acc.Status)
		}
		if contains(d.Eligible(nil), "a1") {
			t.Error("account in cooldown must not be eligible")
		}
		clock.Advance(10 * time.Minute)
		if !contains(d.Eligible(nil), "a1") {
			t.Error("account with elapsed cooldown must be eligible")
		}
		if n := d.Refresh(); n != 1 {
			t.Errorf("expected one refreshed account, got %d", n)
		}
		if got, _ := d.Get("a1"); got.Status != model.StatusOK {
			t.Errorf("expected ok after refresh, got %s", got.Status)
		}
	})

	t.Run("errored accounts are retry candidates after delay", func(t *testing.T) {
		t.Parallel()
		d, clock := newTestDirectory(t)
		_, _ = d.MarkError("a2", errors.New("session lost"))
		opts := CandidateOptions{RetryErrored: true, ErrorRetryAfter: time.Hour}
		if contains(d.Candidates(nil, opts), "a2") {
			t.Error("errored account must wait for retry delay")
		}
		clock.Advance(time.Hour)
		if !contains(d.Candidates(nil, opts), "a2") {
			t.Error("errored account must be a candidate after retry delay")
		}
		if contains(d.Eligible(nil), "a2") {
			t.Error("errored account must never be strictly eligible")
		}
	})

	t.Run("captcha accounts are retry candidates after delay", func(t *testing.T) {
		t.Parallel()
		d, clock := newTestDirectory(t)
		acc, _ := d.MarkCaptcha("a3")
		if acc.CaptchaAt.IsZero() {
			t.Fatal("expected captcha time to be recorded")
		}
		opts := CandidateOptions{RetryCaptcha: true, CaptchaRetryAfter: 30 * time.Minute}
		if contains(d.Candidates(nil, opts), "a3") {
			t.Error("captcha account must wait for retry delay")
		}
		clock.Advance(30 * time.Minute)
		if !contains(d.Candidates(nil, opts), "a3") {
			t.Error("captcha account must be a candidate after retry delay")
		}
		if contains(d.Candidates(nil, CandidateOptions{RetryErrored: true}), "a3") {
			t.Error("captcha account must not be retried without RetryCaptcha")
		}
	})
}

func TestDirectory_Transitions(t *testing.T) {
	t.Parallel()

	t.Run("captcha increments tries and bans past threshold", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDirectory(t, WithCaptchaThreshold(2))
		for i := 1; i <= 2; i++ {
			acc, err := d.MarkCaptcha("a1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if acc.Status != model.StatusCaptcha || acc.CaptchaTries != i {
				t.Fatalf("round %d: unexpected state %s/%d", i, acc.Status, acc.CaptchaTries)
			}
			if _, err := d.MarkCaptchaSolved("a1"); err != nil {
				t.Fatalf("solve failed: %v", err)
			}
		}
		acc, _ := d.MarkCaptcha("a1")
		if acc.Status != model.StatusBanned {
			t.Errorf("expected banned after exceeding threshold, got %s", acc.Status)
		}
	})

	t.Run("terminal states only leave through reset", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDirectory(t)
		_, _ = d.Disable("a1")
		if _, err := d.MarkError("a1", nil); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if _, err := d.MarkSuccess("a1"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		acc, err := d.Reset("a1")
		if err != nil || acc.Status != model.StatusOK {
			t.Errorf("expected reset to ok, got %s %v", acc.Status, err)
		}
	})

	t.Run("error returns to ok on success", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDirectory(t)
		acc, _ := d.MarkError("a1", errors.New("boom"))
		if acc.Status != model.StatusError || acc.LastError != "boom" {
			t.Fatalf("unexpected state %+v", acc)
		}
		acc, err := d.MarkSuccess("a1")
		if err != nil || acc.Status != model.StatusOK || acc.LastError != "" {
			t.Errorf("unexpected state %+v %v", acc, err)
		}
	})

	t.Run("captcha returns to ok on success and keeps its count", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDirectory(t, WithCaptchaThreshold(1))
		_, _ = d.MarkCaptcha("a1")
		acc, err := d.MarkSuccess("a1")
		if err != nil || acc.Status != model.StatusOK || acc.CaptchaTries != 1 {
			t.Fatalf("unexpected state %+v %v", acc, err)
		}
		acc, _ = d.MarkCaptcha("a1")
		if acc.Status != model.StatusBanned {
			t.Errorf("expected second captcha past threshold to ban, got %s", acc.Status)
		}
		acc, _ = d.Reset("a1")
		if acc.CaptchaTries != 0 || !acc.CaptchaAt.IsZero() {
			t.Errorf("reset kept captcha state %+v", acc)
		}
	})

	t.Run("captcha account cannot be rate limited", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDirectory(t)
		_, _ = d.MarkCaptcha("a1")
		if _, err := d.MarkRateLimited("a1"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDirectory(t)
		if _, err := d.MarkError("nobody", nil); !errors.Is(err, ErrUnknownAccount) {
			t.Errorf("expected ErrUnknownAccount, got %v", err)
		}
	})

	t.Run("change hook sees every transition", func(t *testing.T) {
		t.Parallel()
		var mu sync.Mutex
		var seen []model.AccountStatus
		d, _ := newTestDirectory(t, WithChangeHook(func(_, next model.AccountRecord) {
			mu.Lock()
			seen = append(seen, next.Status)
			mu.Unlock()
		}))
		_, _ = d.MarkRateLimited("a1")
		_, _ = d.MarkError("a1", nil)
		_, _ = d.MarkSuccess("a1")
		want := []model.AccountStatus{model.StatusCooldown, model.StatusError, model.StatusOK}
		if len(seen) != len(want) {
			t.Fatalf("expected %v, got %v", want, seen)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("transition %d: expected %s, got %s", i, want[i], seen[i])
			}
		}
	})
}

func TestBackoff_Duration(t *testing.T) {
	t.Parallel()

	fixed := Backoff{Kind: BackoffFixed, Base: time.Minute}
	if got := fixed.Duration(5); got != time.Minute {
		t.Errorf("fixed backoff must not grow, got %v", got)
	}

	exp := Backoff{Kind: BackoffExponential, Base: time.Minute, Max: 5 * time.Minute}
	want := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute, 5 * time.Minute}
	for i, w := range want {
		if got := exp.Duration(i + 1); got != w {
			t.Errorf("strike %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestDirectory_ExponentialCooldown(t *testing.T) {
	t.Parallel()

	d, clock := newTestDirectory(t, WithBackoff(Backoff{Kind: BackoffExponential, Base: time.Minute, Max: time.Hour}))
	first, _ := d.MarkRateLimited("a1")
	second, _ := d.MarkRateLimited("a1")
	if first.CooldownUntil.Sub(clock.Now()) != time.Minute {
		t.Errorf("first strike: unexpected cooldown %v", first.CooldownUntil)
	}
	if second.CooldownUntil.Sub(clock.Now()) != 2*time.Minute {
		t.Errorf("second strike: unexpected cooldown %v", second.CooldownUntil)
	}
}

func ids(accs []model.AccountRecord) []string {
	out := make([]string, len(accs))
	for i, a := range accs {
		out[i] = a.ID
	}
	return out
}

func contains(accs []model.AccountRecord, id string) bool {
	for _, a := range accs {
		if a.ID == id {
			return true
		}
	}
	return false
}
