package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/keyharvest/internal/browser"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/phrase"
	"golang.org/x/time/rate"
)

// Worker defaults.
const (
	DefaultMaxShowMore   = 50
	DefaultQueryInterval = time.Second
)

// Session is the browser session surface the worker drives.
type Session interface {
	SubmitQuery(ctx context.Context, text string) error
	ReadRows(ctx context.Context) ([]model.Suggestion, error)
	ClickShowMore(ctx context.Context) (bool, error)
	Total(ctx context.Context) (int64, error)
}

// Config holds the crawl parameters of one worker run.
type Config struct {
	Params model.CrawlParams
	Region int

	// MaxShowMore caps "show more" clicks per depth query. Zero selects
	// DefaultMaxShowMore.
	MaxShowMore int
}

// Outcome is what a worker run produced.
type Outcome struct {
	Rows  []model.ResultRow
	Nodes []model.FrontierNode

	// Processed lists phrases whose crawl finished. In frequency mode this
	// includes phrases whose queries timed out, since the row records it.
	Processed []string

	// Pending lists phrases never finished: the run stopped early, or in
	// depth mode the seed query itself failed.
	Pending []string

	// Failed lists depth-mode queries that failed without a session
	// signal, such as response timeouts. The subtree below a failed query
	// is missing from Nodes.
	Failed []QueryFailure

	// Signal is the session-level condition that ended the run early:
	// browser.ErrAuthRequired, browser.ErrCaptchaDetected or
	// browser.ErrRateLimited. It is nil otherwise.
	Signal error

	// Stopped is set when the stop signal ended the run.
	Stopped bool
}

// QueryFailure is one depth-mode query that produced no rows.
type QueryFailure struct {
	Seed  string `json:"seed"`
	Query string `json:"query"`
	Level int    `json:"level"`
	Err   string `json:"error"`
}

// SessionLost reports whether the session needs a new login.
func (o Outcome) SessionLost() bool {
	return errors.Is(o.Signal, browser.ErrAuthRequired)
}

// Worker runs one phrase batch on one session.
type Worker struct {
	session   Session
	accountID string
	cfg       Config
	limiter   *rate.Limiter
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLimiter paces queries. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(w *Worker) {
		w.limiter = l
	}
}

// WithClock overrides the time source for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a Worker for accountID driving session.
func NewWorker(session Session, accountID string, cfg Config, opts ...Option) *Worker {
	if cfg.MaxShowMore <= 0 {
		cfg.MaxShowMore = DefaultMaxShowMore
	}
	if cfg.Params.Depth <= 0 {
		cfg.Params.Depth = 1
	}
	if cfg.Params.Mode == "" {
		cfg.Params.Mode = model.ModeFrequency
	}
	if cfg.Params.Mode == model.ModeFrequency && !cfg.Params.Kinds.Any() {
		cfg.Params.Kinds = model.AllFrequencyKinds
	}
	w := &Worker{
		session:   session,
		accountID: accountID,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(DefaultQueryInterval), 1),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("account", accountID, "region", cfg.Region)
	return w
}

// Run crawls phrases in order. ctx is the stop signal and is checked only
// between phrases; browser calls run on a context that ignores it.
func (w *Worker) Run(ctx context.Context, phrases []string) Outcome {
	var out Outcome
	callCtx := context.WithoutCancel(ctx)

	for i, p := range phrases {
		if ctx.Err() != nil {
			out.Stopped = true
			out.Pending = append(out.Pending, phrases[i:]...)
			w.logger.Info("worker stopped", "remaining", len(phrases)-i)
			return out
		}

		var err error
		var recorded bool
		switch w.cfg.Params.Mode {
		case model.ModeDepth:
			var nodes []model.FrontierNode
			var failed []QueryFailure
			nodes, failed, err = w.expand(callCtx, p)
			out.Nodes = append(out.Nodes, nodes...)
			out.Failed = append(out.Failed, failed...)
			recorded = len(nodes) > 0
			if err == nil && len(failed) > 0 && failed[0].Level == 1 {
				out.Pending = append(out.Pending, p)
				continue
			}
		default:
			var row model.ResultRow
			row, err = w.frequency(callCtx, p)
			if err == nil {
				out.Rows = append(out.Rows, row)
				recorded = true
			}
		}

		if isSignal(err) {
			out.Signal = err
			if recorded {
				out.Processed = append(out.Processed, p)
				out.Pending = append(out.Pending, phrases[i+1:]...)
			} else {
				out.Pending = append(out.Pending, phrases[i:]...)
			}
			w.logger.Warn("session signal ended worker run", "phrase", p, "signal", err, "remaining", len(out.Pending))
			return out
		}
		out.Processed = append(out.Processed, p)
	}
	return out
}

// isSignal reports whether err ends the whole worker run.
func isSignal(err error) bool {
	return errors.Is(err, browser.ErrAuthRequired) ||
		errors.Is(err, browser.ErrCaptchaDetected) ||
		errors.Is(err, browser.ErrRateLimited)
}

// frequency collects the enabled counts for one phrase. Only session
// signals are returned as errors; other failures are recorded in the row.
func (w *Worker) frequency(ctx context.Context, p string) (model.ResultRow, error) {
	row := model.ResultRow{Phrase: p, Region: w.cfg.Region, AccountID: w.accountID}
	kinds := w.cfg.Params.Kinds

	variants := []struct {
		on    bool
		query string
		dst   *int64
	}{
		{kinds.Broad, p, &row.WS},
		{kinds.Quoted, phrase.Quoted(p), &row.QWS},
		{kinds.Exact, phrase.Exact(p), &row.BWS},
	}

	var failure model.RowStatus
	for _, v := range variants {
		if !v.on {
			continue
		}
		n, err := w.count(ctx, v.query)
		switch {
		case err == nil:
			*v.dst = n
		case isSignal(err):
			return row, err
		case errors.Is(err, browser.ErrResponseTimeout):
			w.logger.Warn("query timed out", "phrase", p, "query", v.query)
			failure = model.RowTimeout
		default:
			w.logger.Warn("query failed", "phrase", p, "query", v.query, "error", err)
			if failure == "" {
				failure = model.RowError
			}
		}
	}

	row.Status = model.StatusFor(row.WS, row.QWS, row.BWS)
	if failure != "" && row.Status != model.RowOK {
		row.Status = failure
	}
	row.UpdatedAt = w.now()
	return row, nil
}

func (w *Worker) count(ctx context.Context, query string) (int64, error) {
	if err := w.wait(ctx); err != nil {
		return 0, err
	}
	if err := w.session.SubmitQuery(ctx, query); err != nil {
		return 0, err
	}
	return w.session.Total(ctx)
}

// expand runs the frontier crawl for one seed. Nodes collected before a
// session signal are returned together with the signal. Other query
// failures are returned in order and do not stop the crawl; a failure of
// the seed query itself is always first.
func (w *Worker) expand(ctx context.Context, seed string) ([]model.FrontierNode, []QueryFailure, error) {
	params := w.cfg.Params
	var nodes []model.FrontierNode
	var failed []QueryFailure
	frontier := []string{seed}

	for level := 1; level <= params.Depth && len(frontier) > 0; level++ {
		var next []string
		for _, q := range frontier {
			rows, err := w.collect(ctx, q)
			if err != nil {
				if isSignal(err) {
					return nodes, failed, err
				}
				w.logger.Warn("expansion query failed", "seed", seed, "query", q, "level", level, "error", err)
				failed = append(failed, QueryFailure{Seed: seed, Query: q, Level: level, Err: err.Error()})
				continue
			}

			kept := FilterRows(rows, q, seed, params.MinShows)
			created := w.now()
			for _, r := range kept {
				nodes = append(nodes, model.FrontierNode{
					Seed:      seed,
					Region:    w.cfg.Region,
					Phrase:    r.Phrase,
					Shows:     r.Shows,
					Parent:    q,
					Level:     level,
					AccountID: w.accountID,
					CreatedAt: created,
				})
			}
			if level < params.Depth {
				for _, r := range SelectFrontier(kept, params.ExpandMin, params.TopK) {
					next = append(next, r.Phrase)
				}
			}
		}
		w.logger.Debug("frontier level finished", "seed", seed, "level", level, "nodes", len(nodes), "next", len(next))
		frontier = next
	}
	return nodes, failed, nil
}

// collect issues q and pages through the results.
func (w *Worker) collect(ctx context.Context, q string) ([]model.Suggestion, error) {
	if err := w.wait(ctx); err != nil {
		return nil, err
	}
	if err := w.session.SubmitQuery(ctx, q); err != nil {
		return nil, err
	}
	for clicks := 0; clicks < w.cfg.MaxShowMore; clicks++ {
		more, err := w.session.ClickShowMore(ctx)
		if err != nil {
			if isSignal(err) {
				return nil, err
			}
			w.logger.Debug("show-more failed", "query", q, "error", err)
			break
		}
		if !more {
			break
		}
	}
	return w.session.ReadRows(ctx)
}

func (w *Worker) wait(ctx context.Context) error {
	if w.limiter == nil {
		return nil
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("query pacing: %w", err)
	}
	return nil
}
