package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
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
	"github.com/nao1215/keyharvest/internal/scheduler"
)

// JobID identifies a crawl job.
type JobID string

// Service defaults.
const (
	DefaultWaitTimeout       = time.Hour
	DefaultRequeueRounds     = 1
	DefaultErrorRetryAfter   = 10 * time.Minute
	DefaultCaptchaRetryAfter = 30 * time.Minute
)

// Config holds the service settings.
type Config struct {
	// Defaults fill the zero fields of each request's parameters.
	Defaults      model.CrawlParams
	// DefaultRegion is used when a request names no region.
	DefaultRegion int

	// MaxShowMore and QueryInterval are passed to every scheduler.
	MaxShowMore   int
	QueryInterval time.Duration

	// WaitTimeout bounds each region batch as a whole. When it expires the
	// workers are asked to stop, and the batch ends once each of them has
	// returned from the browser call it is in, which can take up to that
	// call's own timeout.
	WaitTimeout time.Duration

	// RequeueRounds is how many times orphaned phrases are redistributed.
	RequeueRounds int

	// RetryErrored lets errored accounts take work again once
	// ErrorRetryAfter has passed since their failure.
	RetryErrored    bool
	ErrorRetryAfter time.Duration

	// RetryCaptcha lets captcha accounts take work again once
	// CaptchaRetryAfter has passed since their latest challenge. Each
	// further challenge counts towards the account's ban threshold.
	RetryCaptcha      bool
	CaptchaRetryAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultRegion == 0 {
		c.DefaultRegion = model.DefaultRegion
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.RequeueRounds < 0 {
		c.RequeueRounds = 0
	}
	if c.ErrorRetryAfter <= 0 {
		c.ErrorRetryAfter = DefaultErrorRetryAfter
	}
	if c.CaptchaRetryAfter <= 0 {
		c.CaptchaRetryAfter = DefaultCaptchaRetryAfter
	}
	return c
}

// Store persists results and job summaries.
type Store interface {
	UpsertResults(ctx context.Context, rows []model.ResultRow) error
	AddNodes(ctx context.Context, jobID string, nodes []model.FrontierNode) error
	SaveJob(ctx context.Context, job model.Job) error
}

// JobStatus is a snapshot of a job and its tasks.
type JobStatus struct {
	model.Job
	TaskList []model.CrawlTask `json:"task_list"`
}

// JobResults is what a job collected so far.
type JobResults struct {
	ID    JobID          `json:"id"`
	State model.JobState `json:"state"`
	result.Set
}

type job struct {
	mu   sync.Mutex
	info model.Job
	agg  *result.Aggregator

	// scheds holds one scheduler per region crawled so far; Cancel stops
	// them all.
	scheds []*scheduler.Scheduler
	// tasks lists the ids of every task submitted, across regions and
	// requeue rounds.
	tasks  []string
	cancel context.CancelFunc
	done   chan struct{} // closed after the final job state is saved
}

func (j *job) snapshot() model.Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := j.info
	info.Phrases = slices.Clone(j.info.Phrases)
	info.Regions = slices.Clone(j.info.Regions)
	if j.info.Pending != nil {
		info.Pending = make(map[int][]string, len(j.info.Pending))
		for r, p := range j.info.Pending {
			info.Pending[r] = slices.Clone(p)
		}
	}
	return info
}

// Service runs crawl jobs.
type Service struct {
	cfg      Config
	pool     *proxypool.Pool
	dir      *account.Directory
	opener   scheduler.Opener
	resolver *fingerprint.Resolver
	store    Store
	now      func() time.Time
	logger   *slog.Logger

	// ctx is the parent of every job context; Close cancels it and waits
	// on wg for the job goroutines.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[JobID]*job
	closed bool // set by Close; SubmitCrawl fails afterwards
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists results and jobs to store.
func WithStore(store Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithResolver sets the fingerprint resolver.
func WithResolver(r *fingerprint.Resolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service. pool, dir and opener are shared by all jobs.
func New(cfg Config, pool *proxypool.Pool, dir *account.Directory, opener scheduler.Opener, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg.withDefaults(),
		pool:     pool,
		dir:      dir,
		opener:   opener,
		resolver: fingerprint.NewResolver(),
		now:      time.Now,
		logger:   slog.Default(),
		jobs:     make(map[JobID]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Service) candidates(exclude map[string]bool) []model.AccountRecord {
	s.dir.Refresh()
	all := s.dir.Candidates(s.pool, account.CandidateOptions{
		RetryErrored:      s.cfg.RetryErrored,
		ErrorRetryAfter:   s.cfg.ErrorRetryAfter,
		RetryCaptcha:      s.cfg.RetryCaptcha,
		CaptchaRetryAfter: s.cfg.CaptchaRetryAfter,
	})
	out := all[:0]
	for _, acc := range all {
		if !exclude[acc.ID] {
			out = append(out, acc)
		}
	}
	return out
}

// SubmitCrawl validates req and starts it as a background job. It fails
// at once when no account is eligible. Cancelling ctx after SubmitCrawl
// returns does not affect the job; use Cancel.
func (s *Service) SubmitCrawl(ctx context.Context, req Request) (JobID, error) {
	norm, err := req.normalize(s.cfg.Defaults, s.cfg.DefaultRegion)
	if err != nil {
		return "", err
	}
	if len(s.candidates(nil)) == 0 {
		return "", ErrNoEligibleAccounts
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	id := JobID(uuid.NewString())
	jobCtx, cancel := context.WithCancel(s.ctx)
	j := &job{
		info: model.Job{
			ID:        string(id),
			State:     model.JobQueued,
			Phrases:   norm.Phrases,
			Regions:   norm.Regions,
			Params:    norm.Params,
			CreatedAt: s.now(),
		},
		agg:    result.NewAggregator(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[id] = j
	s.wg.Add(1)
	s.mu.Unlock()

	s.saveJob(ctx, j)
	s.logger.Info("crawl job submitted", "job", id, "phrases", len(norm.Phrases), "regions", norm.Regions, "mode", norm.Params.Mode)

	go func() {
		defer s.wg.Done()
		s.run(jobCtx, j)
	}()
	return id, nil
}

// newScheduler returns a fresh scheduler for one region of j.
func (s *Service) newScheduler(j *job) *scheduler.Scheduler {
	j.mu.Lock()
	defer j.mu.Unlock()
	sched := scheduler.New(s.pool, s.dir, s.opener, scheduler.Config{
		Params:        j.info.Params,
		MaxShowMore:   s.cfg.MaxShowMore,
		QueryInterval: s.cfg.QueryInterval,
	},
		scheduler.WithResolver(s.resolver),
		scheduler.WithClock(s.now),
		scheduler.WithLogger(s.logger.With("job", j.info.ID)),
	)
	j.scheds = append(j.scheds, sched)
	return sched
}

func (s *Service) run(ctx context.Context, j *job) {
	defer close(j.done)
	defer func() {
		j.mu.Lock()
		scheds := slices.Clone(j.scheds)
		j.mu.Unlock()
		for _, sched := range scheds {
			sched.Close()
		}
	}()
	defer j.cancel()

	j.mu.Lock()
	j.info.State = model.JobRunning
	j.info.StartedAt = s.now()
	regions := slices.Clone(j.info.Regions)
	phrases := slices.Clone(j.info.Phrases)
	j.mu.Unlock()
	s.saveJob(ctx, j)

	var errs []error
	for _, region := range regions {
		if ctx.Err() != nil {
			s.addPending(j, region, phrases)
			errs = append(errs, ctx.Err())
			continue
		}
		if err := s.runRegion(ctx, j, region, phrases); err != nil {
			errs = append(errs, fmt.Errorf("region %d: %w", region, err))
		}
	}

	j.mu.Lock()
	j.info.FinishedAt = s.now()
	j.info.State = finalState(j.info, len(errs) > 0)
	if err := errors.Join(errs...); err != nil {
		j.info.Err = err.Error()
	}
	j.mu.Unlock()

	// The job context is done by now; persist on a fresh one.
	s.saveJob(context.WithoutCancel(ctx), j)
	info := j.snapshot()
	s.logger.Info("crawl job finished", "job", info.ID, "state", info.State, "rows", info.Rows, "nodes", info.Nodes, "error", info.Err)
}

func finalState(info model.Job, failed bool) model.JobState {
	collected := info.Rows+info.Nodes > 0
	switch {
	case len(info.Pending) == 0 && info.FailedQueries == 0 && !failed:
		return model.JobDone
	case collected:
		return model.JobPartial
	default:
		return model.JobFailed
	}
}

// runRegion crawls phrases in one region, requeueing orphaned phrases to
// accounts that have not failed in this region yet.
func (s *Service) runRegion(ctx context.Context, j *job, region int, phrases []string) error {
	sched := s.newScheduler(j)
	failed := make(map[string]bool)
	remaining := phrases

	for round := 0; ; round++ {
		accounts := s.candidates(failed)
		if len(accounts) == 0 {
			s.addPending(j, region, remaining)
			return ErrNoEligibleAccounts
		}
		plan, err := sched.Plan(j.info.ID, remaining, region, accounts)
		if err != nil {
			s.addPending(j, region, remaining)
			return err
		}

		var (
			mu       sync.Mutex
			orphaned []string
			stranded []string
		)
		ids := sched.SubmitTasks(ctx, plan, func(task model.CrawlTask, out crawler.Outcome, err error) {
			s.collect(ctx, j, out)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case len(task.Pending) == 0:
			case requeueable(err):
				failed[task.AccountID] = true
				orphaned = append(orphaned, task.Pending...)
			default:
				stranded = append(stranded, task.Pending...)
			}
		})

		j.mu.Lock()
		j.tasks = append(j.tasks, ids...)
		j.info.Tasks += len(ids)
		j.info.Rounds = max(j.info.Rounds, round+1)
		j.mu.Unlock()

		if !sched.WaitForCompletion(ctx, ids, s.cfg.WaitTimeout) {
			// Stragglers stop after their current phrase; their results and
			// pending phrases still arrive through the callback. The drain has
			// no deadline: a browser call in flight runs to its own timeout.
			sched.Stop()
			sched.WaitForCompletion(context.WithoutCancel(ctx), ids, 0)
			mu.Lock()
			s.addPending(j, region, append(orphaned, stranded...))
			mu.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrBatchTimeout
		}

		mu.Lock()
		next, left := orphaned, stranded
		mu.Unlock()
		s.addPending(j, region, left)
		if len(next) == 0 {
			return nil
		}
		if round >= s.cfg.RequeueRounds || ctx.Err() != nil {
			s.addPending(j, region, next)
			return nil
		}
		s.logger.Info("requeueing orphaned phrases", "job", j.info.ID, "region", region, "phrases", len(next), "round", round+1)
		remaining = next
	}
}

// requeueable reports whether the phrases of a task failing with err
// should move to another account.
func requeueable(err error) bool {
	return errors.Is(err, browser.ErrAuthRequired) ||
		errors.Is(err, browser.ErrCaptchaDetected) ||
		errors.Is(err, browser.ErrRateLimited) ||
		errors.Is(err, scheduler.ErrWorkerCrash)
}

func (s *Service) collect(ctx context.Context, j *job, out crawler.Outcome) {
	j.agg.AddRows(out.Rows...)
	j.agg.AddNodes(out.Nodes...)
	set := j.agg.Set()

	j.mu.Lock()
	j.info.Rows, j.info.Nodes = len(set.Rows), len(set.Nodes)
	j.info.FailedQueries += len(out.Failed)
	j.mu.Unlock()
	for _, f := range out.Failed {
		s.logger.Warn("depth query failed", "job", j.info.ID, "seed", f.Seed, "query", f.Query, "level", f.Level, "error", f.Err)
	}

	if s.store == nil {
		return
	}
	pctx := context.WithoutCancel(ctx)
	if len(out.Rows) > 0 {
		if err := s.store.UpsertResults(pctx, out.Rows); err != nil {
			s.logger.Error("failed to store results", "job", j.info.ID, "error", err)
		}
	}
	if len(out.Nodes) > 0 {
		if err := s.store.AddNodes(pctx, j.info.ID, out.Nodes); err != nil {
			s.logger.Error("failed to store depth nodes", "job", j.info.ID, "error", err)
		}
	}
}

func (s *Service) addPending(j *job, region int, phrases []string) {
	if len(phrases) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.info.Pending == nil {
		j.info.Pending = make(map[int][]string)
	}
	j.info.Pending[region] = append(j.info.Pending[region], phrases...)
}

func (s *Service) saveJob(ctx context.Context, j *job) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveJob(ctx, j.snapshot()); err != nil {
		s.logger.Error("failed to store job", "job", j.info.ID, "error", err)
	}
}

func (s *Service) lookup(id JobID) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return j, nil
}

// JobStatus returns a snapshot of the job.
func (s *Service) JobStatus(id JobID) (JobStatus, error) {
	j, err := s.lookup(id)
	if err != nil {
		return JobStatus{}, err
	}
	j.mu.Lock()
	ids := slices.Clone(j.tasks)
	scheds := slices.Clone(j.scheds)
	j.mu.Unlock()
	st := JobStatus{Job: j.snapshot()}
	for _, sched := range scheds {
		st.TaskList = append(st.TaskList, sched.Tasks(ids)...)
	}
	return st, nil
}

// JobResults returns what the job collected so far. It may be called
// while the job is still running.
func (s *Service) JobResults(id JobID) (JobResults, error) {
	j, err := s.lookup(id)
	if err != nil {
		return JobResults{}, err
	}
	return JobResults{ID: id, State: j.snapshot().State, Set: j.agg.Set()}, nil
}

// Wait blocks until the job ends or ctx is done. Stopping is cooperative:
// after a batch timeout or Cancel, a job ends only when every worker has
// returned from its current browser call, so Wait can outlast
// Config.WaitTimeout by up to one call's own timeout.
func (s *Service) Wait(ctx context.Context, id JobID) error {
	j, err := s.lookup(id)
	if err != nil {
		return err
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel asks the job's workers to stop after their current phrase.
func (s *Service) Cancel(id JobID) error {
	j, err := s.lookup(id)
	if err != nil {
		return err
	}
	j.cancel()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, sched := range j.scheds {
		sched.Stop()
	}
	return nil
}

// Close cancels every job and waits for their workers to exit.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
