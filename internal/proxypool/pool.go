package proxypool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/keyharvest/internal/model"
)

// DefaultFailureThreshold is the number of consecutive failed health checks
// after which a proxy is blacklisted.
const DefaultFailureThreshold = 3

// entry is the pool-internal state of one proxy. The failure streak lives
// in rec.Failures so that it is persisted together with the record.
type entry struct {
	rec   model.ProxyRecord
	inUse int
}

// EvictFunc is called after a proxy has been blacklisted and removed.
type EvictFunc func(rec model.ProxyRecord, reason string)

// Pool is a thread-safe proxy registry.
type Pool struct {
	mu        sync.Mutex
	proxies   map[string]*entry
	// order keeps insertion order for List and tie breaks in AcquireAny.
	order     []string
	// blacklist holds BlacklistKey values that Import refuses.
	blacklist map[string]struct{}

	now              func() time.Time
	logger           *slog.Logger
	checker          Checker
	failureThreshold int
	onEvict          EvictFunc
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithChecker sets the health checker used by Test and Sweep.
func WithChecker(c Checker) Option {
	return func(p *Pool) {
		p.checker = c
	}
}

// WithFailureThreshold sets how many consecutive failures blacklist a proxy.
func WithFailureThreshold(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.failureThreshold = n
		}
	}
}

// WithEvictHook registers fn to observe blacklist evictions.
func WithEvictHook(fn EvictFunc) Option {
	return func(p *Pool) {
		p.onEvict = fn
	}
}

// New creates an empty Pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		proxies:          make(map[string]*entry),
		blacklist:        make(map[string]struct{}),
		now:              time.Now,
		logger:           slog.Default(),
		failureThreshold: DefaultFailureThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upsert inserts rec or updates the record with the same id. The in-use
// count and failure streak of an existing record are preserved. A new record
// starts with the streak it carries in rec.Failures, which lets a restored
// proxy resume counting where the previous run stopped. An empty id is
// filled with a new UUID. The stored record is returned.
func (p *Pool) Upsert(rec model.ProxyRecord) (model.ProxyRecord, error) {
	if rec.Host == "" || rec.Port < 1 || rec.Port > 65535 {
		return model.ProxyRecord{}, ErrInvalidProxy
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Protocol == "" {
		rec.Protocol = model.ProtocolHTTP
	}
	if rec.MaxConcurrent <= 0 {
		rec.MaxConcurrent = model.DefaultProxyMaxConcurrent
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if rec.Failures < 0 {
		rec.Failures = 0
	}
	if e, ok := p.proxies[rec.ID]; ok {
		rec.Failures = e.rec.Failures
		e.rec = rec
		return rec, nil
	}
	p.proxies[rec.ID] = &entry{rec: rec}
	p.order = append(p.order, rec.ID)
	return rec, nil
}

// Delete removes the proxy. Checkouts already held stay valid for their
// holders; the proxy simply cannot be acquired again. It reports whether a
// proxy was removed.
func (p *Pool) Delete(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleteLocked(id)
}

func (p *Pool) deleteLocked(id string) bool {
	if _, ok := p.proxies[id]; !ok {
		return false
	}
	delete(p.proxies, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the proxy record.
func (p *Pool) Get(id string) (model.ProxyRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.proxies[id]
	if !ok {
		return model.ProxyRecord{}, false
	}
	return e.rec, true
}

// List returns copies of all records in insertion order.
func (p *Pool) List() []model.ProxyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ProxyRecord, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.proxies[id].rec)
	}
	return out
}

// Len returns the number of registered proxies.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// InUse returns the number of checkouts currently held against id.
func (p *Pool) InUse(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.proxies[id]; ok {
		return e.inUse
	}
	return 0
}

// Acquire checks out the proxy with the given id. geo is advisory: a
// mismatch is logged but does not prevent the checkout.
func (p *Pool) Acquire(id, geo string) (*model.ProxyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.proxies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProxy, id)
	}
	if err := p.availableLocked(e); err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	if geo != "" && e.rec.Geo != "" && e.rec.Geo != geo {
		p.logger.Debug("proxy geo differs from requested geo", "proxy", id, "proxy_geo", e.rec.Geo, "geo", geo)
	}
	e.inUse++
	rec := e.rec
	return &rec, nil
}

// AcquireAny checks out the least loaded available proxy, preferring
// proxies whose geo tag equals geo. Ties keep insertion order.
func (p *Pool) AcquireAny(geo string) (*model.ProxyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *entry
	bestMatch := false
	for _, id := range p.order {
		e := p.proxies[id]
		if p.availableLocked(e) != nil {
			continue
		}
		match := geo != "" && e.rec.Geo == geo
		switch {
		case best == nil:
		case match && !bestMatch:
		case match == bestMatch && e.inUse < best.inUse:
		default:
			continue
		}
		best, bestMatch = e, match
	}
	if best == nil {
		return nil, ErrNoProxyAvailable
	}
	best.inUse++
	rec := best.rec
	return &rec, nil
}

// Release returns a checkout. It is safe on nil and on proxies that were
// deleted meanwhile. The in-use count never drops below zero.
func (p *Pool) Release(rec *model.ProxyRecord) {
	if rec == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.proxies[rec.ID]
	if !ok {
		return
	}
	if e.inUse == 0 {
		p.logger.Debug("ignoring release of proxy without checkouts", "proxy", rec.ID)
		return
	}
	e.inUse--
}

// CanResolve reports whether a proxy could be acquired for the account
// right now under its proxy strategy.
func (p *Pool) CanResolve(acc model.AccountRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if acc.Strategy() == model.StrategyFixed {
		e, ok := p.proxies[acc.ProxyID]
		return ok && p.availableLocked(e) == nil
	}
	for _, id := range p.order {
		if p.availableLocked(p.proxies[id]) == nil {
			return true
		}
	}
	return false
}

func (p *Pool) availableLocked(e *entry) error {
	switch {
	case !e.rec.Enabled:
		return ErrProxyDisabled
	case e.rec.Expired(p.now()):
		return ErrProxyExpired
	case e.inUse >= e.rec.MaxConcurrent:
		return ErrProxyExhausted
	}
	return nil
}

// IsBlacklisted reports whether key is blacklisted.
func (p *Pool) IsBlacklisted(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.blacklist[key]
	return ok
}

// AddBlacklist adds keys to the blacklist without touching registered proxies.
// It is used to restore a persisted blacklist.
func (p *Pool) AddBlacklist(keys ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		p.blacklist[k] = struct{}{}
	}
}

// Blacklisted returns the blacklist keys in unspecified order.
func (p *Pool) Blacklisted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.blacklist))
	for k := range p.blacklist {
		keys = append(keys, k)
	}
	return keys
}

// RecordHealth applies a health check outcome to the proxy. A success
// resets the failure streak. When the streak reaches the failure threshold
// the proxy is blacklisted and deleted, and RecordHealth returns true.
func (p *Pool) RecordHealth(res HealthResult) bool {
	p.mu.Lock()
	e, ok := p.proxies[res.ProxyID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	e.rec.LastCheck = res.CheckedAt
	if res.Err == nil {
		e.rec.Failures = 0
		e.rec.LastIP = res.ExitIP
		p.mu.Unlock()
		return false
	}
	e.rec.Failures++
	if e.rec.Failures < p.failureThreshold {
		p.mu.Unlock()
		return false
	}
	rec := e.rec
	p.blacklist[rec.BlacklistKey()] = struct{}{}
	p.deleteLocked(rec.ID)
	hook := p.onEvict
	p.mu.Unlock()

	reason := fmt.Sprintf("%d consecutive health check failures: %v", p.failureThreshold, res.Err)
	p.logger.Warn("proxy blacklisted", "proxy", rec.ID, "server", rec.Address(), "reason", reason)
	if hook != nil {
		hook(rec, reason)
	}
	return true
}

// Failures returns the current consecutive failure count of id.
func (p *Pool) Failures(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.proxies[id]; ok {
		return e.rec.Failures
	}
	return 0
}
