package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/keyharvest/internal/account"
	"github.com/nao1215/keyharvest/internal/browser"
	"github.com/nao1215/keyharvest/internal/crawler"
	"github.com/nao1215/keyharvest/internal/fingerprint"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/proxypool"
	"github.com/nao1215/keyharvest/internal/result"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Assignment is one precomputed unit of work.
type Assignment struct {
	JobID   string
	Account model.AccountRecord

	// Proxy is the checkout taken by Plan. It is released when the task
	// ends, or by Release when the assignment is never submitted.
	Proxy *model.ProxyRecord

	// Identity is the resolved fingerprint the browser is launched with.
	Identity model.Identity

	// Phrases is this account's share of the batch, in input order.
	Phrases []string
	Region  int
}

// Callback observes each task when it reaches a terminal state. err is the
// failure that ended the task, nil on success.
type Callback func(task model.CrawlTask, out crawler.Outcome, err error)

// Config holds the crawl settings shared by every worker.
type Config struct {
	Params model.CrawlParams

	// MaxShowMore caps "show more" clicks per query in depth mode.
	MaxShowMore int

	// QueryInterval is the minimum gap between two queries of one
	// account. Zero disables per-account pacing.
	QueryInterval time.Duration
}

type task struct {
	mu      sync.Mutex
	info    model.CrawlTask
	outcome crawler.Outcome
	cancel  context.CancelFunc
	done    chan struct{} // closed once info reaches a terminal status
}

func (t *task) snapshot() model.CrawlTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.info
	info.Phrases = append([]string(nil), t.info.Phrases...)
	info.Pending = append([]string(nil), t.info.Pending...)
	return info
}

// Scheduler runs crawl tasks. It is safe for concurrent use.
type Scheduler struct {
	pool     *proxypool.Pool
	dir      *account.Directory
	opener   Opener
	resolver *fingerprint.Resolver
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task

	// stopped rejects new submissions after Stop.
	stopped bool
	// group tracks worker goroutines so Close can wait for them.
	group   errgroup.Group
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithResolver sets the fingerprint resolver used by Plan.
func WithResolver(r *fingerprint.Resolver) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler over the shared pool and directory.
func New(pool *proxypool.Pool, dir *account.Directory, opener Opener, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		pool:     pool,
		dir:      dir,
		opener:   opener,
		resolver: fingerprint.NewResolver(),
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
		tasks:    make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan checks out a proxy and resolves a fingerprint for each account, then
// splits phrases evenly over the accounts that got a proxy. Accounts left
// without a proxy are skipped for this round. Accounts left without phrases
// give their proxy back.
func (s *Scheduler) Plan(jobID string, phrases []string, region int, accounts []model.AccountRecord) ([]Assignment, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	ready := make([]Assignment, 0, len(accounts))
	for _, acc := range accounts {
		identity := s.resolver.Resolve(acc.Fingerprint)
		proxy, err := s.acquire(acc, geoOf(identity))
		if err != nil {
			s.logger.Warn("skipping account without proxy", "account", acc.ID, "error", fmt.Errorf("%w: %w", ErrProxyUnavailable, err))
			continue
		}
		ready = append(ready, Assignment{
			JobID:    jobID,
			Account:  acc,
			Proxy:    proxy,
			Identity: identity,
			Region:   region,
		})
	}
	if len(ready) == 0 {
		return nil, ErrProxyUnavailable
	}

	batches := Partition(phrases, len(ready))
	out := ready[:0]
	for i, a := range ready {
		if len(batches[i]) == 0 {
			s.pool.Release(a.Proxy)
			continue
		}
		a.Phrases = batches[i]
		out = append(out, a)
	}
	return out, nil
}

func (s *Scheduler) acquire(acc model.AccountRecord, geo string) (*model.ProxyRecord, error) {
	if acc.Strategy() == model.StrategyFixed {
		return s.pool.Acquire(acc.ProxyID, geo)
	}
	return s.pool.AcquireAny(geo)
}

// geoOf returns the country part of the identity locale, "KZ" for "ru-KZ".
func geoOf(id model.Identity) string {
	if _, country, ok := strings.Cut(id.Locale, "-"); ok {
		return strings.ToUpper(country)
	}
	return ""
}

// Release gives back the proxies of assignments that will not be submitted.
func (s *Scheduler) Release(assignments []Assignment) {
	for _, a := range assignments {
		s.pool.Release(a.Proxy)
	}
}

// SubmitTasks starts one worker per assignment and returns the task ids in
// assignment order. Cancelling ctx or calling Stop asks the workers to stop
// after their current phrase. The scheduler owns the proxy checkouts of the
// assignments from here on.
func (s *Scheduler) SubmitTasks(ctx context.Context, assignments []Assignment, cb Callback) []string {
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		t := &task{
			info: model.CrawlTask{
				ID:        uuid.NewString(),
				JobID:     a.JobID,
				Phrases:   append([]string(nil), a.Phrases...),
				Region:    a.Region,
				Params:    s.cfg.Params,
				AccountID: a.Account.ID,
				Status:    model.TaskQueued,
			},
			done: make(chan struct{}),
		}
		if a.Proxy != nil {
			t.info.ProxyID = a.Proxy.ID
		}
		runCtx, cancel := context.WithCancel(ctx)
		t.cancel = cancel

		s.mu.Lock()
		s.tasks[t.info.ID] = t
		if s.stopped {
			cancel()
		}
		s.mu.Unlock()
		ids = append(ids, t.info.ID)

		s.logger.Debug("task queued", "task", t.info.ID, "account", a.Account.ID, "phrases", len(a.Phrases), "region", a.Region)
		s.group.Go(func() error {
			s.run(runCtx, t, a, cb)
			return nil
		})
	}
	return ids
}

func (s *Scheduler) run(ctx context.Context, t *task, a Assignment, cb Callback) {
	var (
		out crawler.Outcome
		err error
	)
	defer func() {
		t.cancel()
		s.pool.Release(a.Proxy)
		info := s.finish(t, out, err)
		if cb != nil {
			cb(info, out, err)
		}
		close(t.done)
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerCrash, r)
			out = crawler.Outcome{Pending: append([]string(nil), a.Phrases...)}
			s.logger.Error("crawl worker panicked", "task", t.info.ID, "account", a.Account.ID, "panic", r, "stack", string(debug.Stack()))
			s.markAccount(a.Account.ID, out, err)
		}
	}()

	t.mu.Lock()
	t.info.Status = model.TaskRunning
	t.info.StartedAt = s.now()
	t.mu.Unlock()

	out, err = s.execute(ctx, a)
	s.markAccount(a.Account.ID, out, err)
}

// execute opens the session, runs the worker and closes the session.
func (s *Scheduler) execute(ctx context.Context, a Assignment) (crawler.Outcome, error) {
	if ctx.Err() != nil {
		return crawler.Outcome{Stopped: true, Pending: append([]string(nil), a.Phrases...)}, ErrStopped
	}

	callCtx := context.WithoutCancel(ctx)
	sess, err := s.opener.Open(callCtx, a)
	if err != nil {
		return crawler.Outcome{Pending: append([]string(nil), a.Phrases...)}, fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		if err := sess.Close(callCtx); err != nil {
			s.logger.Warn("failed to close session", "account", a.Account.ID, "error", err)
		}
	}()

	w := crawler.NewWorker(sess, a.Account.ID, crawler.Config{
		Params:      s.cfg.Params,
		Region:      a.Region,
		MaxShowMore: s.cfg.MaxShowMore,
	},
		crawler.WithLimiter(limiterFor(s.cfg.QueryInterval)),
		crawler.WithClock(s.now),
		crawler.WithLogger(s.logger),
	)
	out := w.Run(ctx, a.Phrases)
	switch {
	case out.Signal != nil:
		return out, out.Signal
	case out.Stopped:
		return out, ErrStopped
	default:
		return out, nil
	}
}

func limiterFor(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// markAccount applies the account transition for a task result. A task
// stopped before its first phrase leaves the account untouched.
func (s *Scheduler) markAccount(id string, out crawler.Outcome, err error) {
	if errors.Is(err, ErrStopped) && len(out.Processed) == 0 {
		return
	}
	var aerr error
	switch {
	case err == nil, errors.Is(err, ErrStopped):
		_, aerr = s.dir.MarkSuccess(id)
	case errors.Is(err, browser.ErrCaptchaDetected):
		_, aerr = s.dir.MarkCaptcha(id)
	case errors.Is(err, browser.ErrRateLimited):
		_, aerr = s.dir.MarkRateLimited(id)
	default:
		_, aerr = s.dir.MarkError(id, err)
	}
	if aerr != nil {
		s.logger.Debug("account transition skipped", "account", id, "error", aerr)
	}
}

func (s *Scheduler) finish(t *task, out crawler.Outcome, err error) model.CrawlTask {
	t.mu.Lock()
	t.outcome = out
	t.info.Pending = append([]string(nil), out.Pending...)
	t.info.FinishedAt = s.now()
	t.info.Status = model.TaskDone
	if err != nil {
		t.info.Status = model.TaskFailed
		t.info.Err = err.Error()
	}
	t.mu.Unlock()

	info := t.snapshot()
	s.logger.Info("task finished",
		"task", info.ID,
		"account", info.AccountID,
		"status", info.Status,
		"rows", len(out.Rows),
		"nodes", len(out.Nodes),
		"pending", len(info.Pending),
		"error", info.Err,
	)
	return info
}

func (s *Scheduler) lookup(id string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// WaitForCompletion blocks until every task in ids is terminal, ctx ends or
// timeout elapses, whichever comes first. The timeout covers the whole set.
// It reports whether all tasks finished. timeout <= 0 waits without limit.
func (s *Scheduler) WaitForCompletion(ctx context.Context, ids []string, timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for _, id := range ids {
		t := s.lookup(id)
		if t == nil {
			continue
		}
		select {
		case <-t.done:
		case <-expired:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// MergeResults merges the outcomes of the finished tasks among ids. Tasks
// still running contribute nothing yet.
func (s *Scheduler) MergeResults(ids []string) result.Set {
	agg := result.NewAggregator()
	for _, id := range ids {
		t := s.lookup(id)
		if t == nil {
			continue
		}
		select {
		case <-t.done:
		default:
			continue
		}
		t.mu.Lock()
		out := t.outcome
		t.mu.Unlock()
		agg.AddRows(out.Rows...)
		agg.AddNodes(out.Nodes...)
	}
	if n := agg.Conflicts(); n > 0 {
		s.logger.Warn("rows with the same phrase and region came from several tasks", "conflicts", n)
	}
	return agg.Set()
}

// Status returns a snapshot of the task.
func (s *Scheduler) Status(id string) (model.CrawlTask, error) {
	t := s.lookup(id)
	if t == nil {
		return model.CrawlTask{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return t.snapshot(), nil
}

// Tasks returns snapshots of the known tasks among ids, in order.
func (s *Scheduler) Tasks(ids []string) []model.CrawlTask {
	out := make([]model.CrawlTask, 0, len(ids))
	for _, id := range ids {
		if t := s.lookup(id); t != nil {
			out = append(out, t.snapshot())
		}
	}
	return out
}

// Stop asks every running worker to stop after its current phrase. Tasks
// submitted afterwards stop before opening a session.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, t := range s.tasks {
		t.cancel()
	}
}

// Close stops all workers and waits for them to release their sessions
// and proxies.
func (s *Scheduler) Close() {
	s.Stop()
	_ = s.group.Wait()
}
