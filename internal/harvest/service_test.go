package harvest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/keyharvest/internal/account"
	"github.com/nao1215/keyharvest/internal/browser"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/proxypool"
	"github.com/nao1215/keyharvest/internal/scheduler"
)

type fakeSession struct {
	mu      sync.Mutex
	failOn  map[string]error
	rows    map[string][]model.Suggestion
	delay   map[string]time.Duration
	current string
}

func (s *fakeSession) SubmitQuery(_ context.Context, q string) error {
	s.mu.Lock()
	d := s.delay[q]
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = q
	return s.failOn[q]
}

func (s *fakeSession) ReadRows(context.Context) ([]model.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[s.current], nil
}

func (s *fakeSession) ClickShowMore(context.Context) (bool, error) { return false, nil }

func (s *fakeSession) Total(context.Context) (int64, error) { return 42, nil }

func (s *fakeSession) Close(context.Context) error { return nil }

type memoryStore struct {
	mu    sync.Mutex
	rows  map[model.RowKey]model.ResultRow
	nodes []model.FrontierNode
	jobs  map[string]model.Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[model.RowKey]model.ResultRow), jobs: make(map[string]model.Job)}
}

func (m *memoryStore) UpsertResults(_ context.Context, rows []model.ResultRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[r.Key()] = r
	}
	return nil
}

func (m *memoryStore) AddNodes(_ context.Context, _ string, nodes []model.FrontierNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append(m.nodes, nodes...)
	return nil
}

func (m *memoryStore) SaveJob(_ context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

type env struct {
	svc      *Service
	dir      *account.Directory
	pool     *proxypool.Pool
	store    *memoryStore
	sessions map[string]*fakeSession
}

func newEnv(t *testing.T, accounts int, cfg Config) *env {
	t.Helper()

	e := &env{
		dir:      account.NewDirectory(),
		pool:     proxypool.New(),
		store:    newMemoryStore(),
		sessions: make(map[string]*fakeSession),
	}
	if _, err := e.pool.Upsert(model.ProxyRecord{Host: "10.0.0.1", Port: 3128, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	for i := range accounts {
		id := fmt.Sprintf("acc-%d", i+1)
		if _, err := e.dir.Upsert(model.AccountRecord{ID: id, Login: id}); err != nil {
			t.Fatal(err)
		}
		e.sessions[id] = &fakeSession{}
	}
	opener := scheduler.OpenerFunc(func(_ context.Context, a scheduler.Assignment) (scheduler.WorkerSession, error) {
		return e.sessions[a.Account.ID], nil
	})
	e.svc = New(cfg, e.pool, e.dir, opener, WithStore(e.store))
	t.Cleanup(e.svc.Close)
	return e
}

func (e *env) wait(t *testing.T, id JobID) JobStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.svc.Wait(ctx, id); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
	st, err := e.svc.JobStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSubmitCrawlValidation(t *testing.T) {
	t.Parallel()

	t.Run("no eligible account fails the submission", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 0, Config{})
		if _, err := e.svc.SubmitCrawl(context.Background(), Request{Phrases: []string{"a"}}); !errors.Is(err, ErrNoEligibleAccounts) {
			t.Errorf("err = %v, want ErrNoEligibleAccounts", err)
		}
	})

	t.Run("blank phrases are rejected", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 1, Config{})
		if _, err := e.svc.SubmitCrawl(context.Background(), Request{Phrases: []string{" ", ""}}); !errors.Is(err, ErrNoPhrases) {
			t.Errorf("err = %v, want ErrNoPhrases", err)
		}
	})

	t.Run("negative depth is rejected", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 1, Config{})
		req := Request{Phrases: []string{"a"}, Params: model.CrawlParams{Mode: model.ModeDepth, Depth: -1}}
		if _, err := e.svc.SubmitCrawl(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("err = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("unknown jobs are reported", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 1, Config{})
		if _, err := e.svc.JobStatus("nope"); !errors.Is(err, ErrUnknownJob) {
			t.Errorf("err = %v, want ErrUnknownJob", err)
		}
		if _, err := e.svc.JobResults("nope"); !errors.Is(err, ErrUnknownJob) {
			t.Errorf("err = %v, want ErrUnknownJob", err)
		}
	})
}

func TestFrequencyJob(t *testing.T) {
	t.Parallel()

	t.Run("every phrase is crawled once per region", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 3, Config{})
		phrases := []string{"a", "b", "c", "d", "e", "a"}
		id, err := e.svc.SubmitCrawl(context.Background(), Request{Phrases: phrases, Regions: []int{225, 213, 225}})
		if err != nil {
			t.Fatal(err)
		}
		st := e.wait(t, id)
		if st.State != model.JobDone {
			t.Fatalf("state = %q err = %q", st.State, st.Err)
		}
		if !slices.Equal(st.Regions, []int{225, 213}) {
			t.Errorf("regions = %v", st.Regions)
		}

		res, err := e.svc.JobResults(id)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Rows) != 10 {
			t.Errorf("rows = %d, want 5 phrases in 2 regions", len(res.Rows))
		}
		for _, r := range res.Rows {
			if r.WS != 42 || r.QWS != 42 || r.BWS != 42 || r.Status != model.RowOK {
				t.Errorf("unexpected row %+v", r)
			}
		}
		if len(e.store.rows) != 10 {
			t.Errorf("stored rows = %d, want 10", len(e.store.rows))
		}
		if stored := e.store.jobs[string(id)]; stored.State != model.JobDone || stored.Rows != 10 {
			t.Errorf("stored job = %+v", stored)
		}
		if e.pool.InUse(e.pool.List()[0].ID) != 0 {
			t.Error("proxy checkouts leaked")
		}
	})

	t.Run("phrases of a lost session move to a healthy account", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 2, Config{RequeueRounds: 1})
		e.sessions["acc-1"].failOn = map[string]error{"a": browser.ErrAuthRequired}

		id, err := e.svc.SubmitCrawl(context.Background(), Request{Phrases: []string{"a", "b", "c", "d"}})
		if err != nil {
			t.Fatal(err)
		}
		st := e.wait(t, id)
		if st.State != model.JobDone || st.Rounds != 2 {
			t.Fatalf("state = %q rounds = %d err = %q", st.State, st.Rounds, st.Err)
		}
		res, _ := e.svc.JobResults(id)
		if len(res.Rows) != 4 {
			t.Fatalf("rows = %d, want 4", len(res.Rows))
		}
		for _, r := range res.Rows {
			if r.AccountID != "acc-2" {
				t.Errorf("row served by %s: %+v", r.AccountID, r)
			}
		}
		if acc, _ := e.dir.Get("acc-1"); acc.Status != model.StatusError {
			t.Errorf("status = %q, want error", acc.Status)
		}
		if len(st.TaskList) != 3 {
			t.Errorf("tasks = %d, want 3", len(st.TaskList))
		}
	})

	t.Run("without requeue rounds orphaned phrases leave the job partial", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 2, Config{})
		e.sessions["acc-1"].failOn = map[string]error{"a": browser.ErrAuthRequired}

		id, err := e.svc.SubmitCrawl(context.Background(), Request{Phrases: []string{"a", "b", "c", "d"}})
		if err != nil {
			t.Fatal(err)
		}
		st := e.wait(t, id)
		if st.State != model.JobPartial {
			t.Fatalf("state = %q, want partial", st.State)
		}
		if !slices.Equal(st.Pending[model.DefaultRegion], []string{"a", "b"}) {
			t.Errorf("pending = %v", st.Pending)
		}
	})
}

func TestDepthJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 1, Config{Defaults: model.CrawlParams{MinShows: 10, ExpandMin: 100, TopK: 5}})
	e.sessions["acc-1"].rows = map[string][]model.Suggestion{
		"car":       {{Phrase: "car price", Shows: 500}, {Phrase: "car", Shows: 900}, {Phrase: "car toy", Shows: 5}},
		"car price": {{Phrase: "car price new", Shows: 50}},
	}

	id, err := e.svc.SubmitCrawl(context.Background(), Request{
		Phrases: []string{"car"},
		Params:  model.CrawlParams{Mode: model.ModeDepth, Depth: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	st := e.wait(t, id)
	if st.State != model.JobDone || st.Nodes != 2 {
		t.Fatalf("state = %q nodes = %d", st.State, st.Nodes)
	}
	res, _ := e.svc.JobResults(id)
	if res.Nodes[0].Phrase != "car price" || res.Nodes[1].Level != 2 {
		t.Errorf("nodes = %+v", res.Nodes)
	}
	if len(e.store.nodes) != 2 {
		t.Errorf("stored nodes = %d", len(e.store.nodes))
	}
}

func TestDepthJobQueryFailures(t *testing.T) {
	t.Parallel()

	timeout := fmt.Errorf("wait: %w", browser.ErrResponseTimeout)

	t.Run("a timed out seed leaves the job partial with the seed pending", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 1, Config{Defaults: model.CrawlParams{MinShows: 10, ExpandMin: 100, TopK: 5}})
		e.sessions["acc-1"].failOn = map[string]error{"car": timeout}
		e.sessions["acc-1"].rows = map[string][]model.Suggestion{
			"bike": {{Phrase: "bike shop", Shows: 50}},
		}

		id, err := e.svc.SubmitCrawl(context.Background(), Request{
			Phrases: []string{"car", "bike"},
			Params:  model.CrawlParams{Mode: model.ModeDepth, Depth: 2},
		})
		if err != nil {
			t.Fatal(err)
		}
		st := e.wait(t, id)
		if st.State != model.JobPartial {
			t.Fatalf("state = %q, want partial", st.State)
		}
		if !slices.Equal(st.Pending[model.DefaultRegion], []string{"car"}) {
			t.Errorf("pending = %v", st.Pending)
		}
		if st.FailedQueries != 1 || st.Nodes != 1 {
			t.Errorf("failed queries = %d nodes = %d", st.FailedQueries, st.Nodes)
		}
		if acc, _ := e.dir.Get("acc-1"); acc.Status != model.StatusOK {
			t.Errorf("a timeout must not change the account, status = %q", acc.Status)
		}
	})

	t.Run("a timed out seed alone fails the job", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 1, Config{})
		e.sessions["acc-1"].failOn = map[string]error{"car": timeout}

		id, err := e.svc.SubmitCrawl(context.Background(), Request{
			Phrases: []string{"car"},
			Params:  model.CrawlParams{Mode: model.ModeDepth, Depth: 2},
		})
		if err != nil {
			t.Fatal(err)
		}
		if st := e.wait(t, id); st.State != model.JobFailed {
			t.Errorf("state = %q, want failed", st.State)
		}
	})

	t.Run("a timed out child query keeps the job from being done", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, 1, Config{Defaults: model.CrawlParams{MinShows: 10, ExpandMin: 100, TopK: 5}})
		e.sessions["acc-1"].failOn = map[string]error{"car price": timeout}
		e.sessions["acc-1"].rows = map[string][]model.Suggestion{
			"car": {{Phrase: "car price", Shows: 500}},
		}

		id, err := e.svc.SubmitCrawl(context.Background(), Request{
			Phrases: []string{"car"},
			Params:  model.CrawlParams{Mode: model.ModeDepth, Depth: 2},
		})
		if err != nil {
			t.Fatal(err)
		}
		st := e.wait(t, id)
		if st.State != model.JobPartial || len(st.Pending) != 0 || st.FailedQueries != 1 {
			t.Errorf("state = %q pending = %v failed queries = %d", st.State, st.Pending, st.FailedQueries)
		}
	})
}

func TestBatchTimeoutWaitsForInFlightCalls(t *testing.T) {
	t.Parallel()

	const stall = 200 * time.Millisecond
	e := newEnv(t, 1, Config{WaitTimeout: 20 * time.Millisecond})
	e.sessions["acc-1"].delay = map[string]time.Duration{"slow": stall}

	start := time.Now()
	id, err := e.svc.SubmitCrawl(context.Background(), Request{
		Phrases: []string{"slow", "next"},
		Params:  model.CrawlParams{Kinds: model.FrequencyKinds{Broad: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	st := e.wait(t, id)
	if elapsed := time.Since(start); elapsed < stall {
		t.Errorf("job ended after %v, before the in-flight call returned", elapsed)
	}
	if st.State != model.JobPartial {
		t.Fatalf("state = %q err = %q, want partial", st.State, st.Err)
	}
	if !strings.Contains(st.Err, ErrBatchTimeout.Error()) {
		t.Errorf("err = %q, want batch timeout", st.Err)
	}
	if !slices.Equal(st.Pending[model.DefaultRegion], []string{"next"}) {
		t.Errorf("pending = %v", st.Pending)
	}
	res, _ := e.svc.JobResults(id)
	if len(res.Rows) != 1 || res.Rows[0].Phrase != "slow" {
		t.Errorf("rows = %+v, want the straggler's row", res.Rows)
	}
}
