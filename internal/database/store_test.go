package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()

	db, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		db, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dbDir, FileName)); err != nil {
			t.Errorf("database file was not created: %v", err)
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		if _, err := Open(t.TempDir(), Options{}); err == nil {
			t.Error("expected an error for a missing database")
		}
	})
}

func TestOpenAddsMissingColumns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	legacy, err := sql.Open("sqlite", filepath.Join(dir, FileName)+"?mode=rwc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := legacy.ExecContext(context.Background(), `
	CREATE TABLE accounts (
		id TEXT PRIMARY KEY,
		login TEXT NOT NULL,
		profile_dir TEXT NOT NULL DEFAULT '',
		proxy_id TEXT NOT NULL DEFAULT '',
		proxy_strategy TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ok',
		captcha_tries INTEGER NOT NULL DEFAULT 0,
		strikes INTEGER NOT NULL DEFAULT 0,
		cooldown_until TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		error_at TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '{}',
		active_slot TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE proxies (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		protocol TEXT NOT NULL DEFAULT 'http',
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		geo TEXT NOT NULL DEFAULT '',
		sticky INTEGER NOT NULL DEFAULT 0,
		max_concurrent INTEGER NOT NULL DEFAULT 10,
		enabled INTEGER NOT NULL DEFAULT 1,
		notes TEXT NOT NULL DEFAULT '',
		last_check TEXT NOT NULL DEFAULT '',
		last_ip TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		expires_at TEXT NOT NULL DEFAULT ''
	);
	INSERT INTO accounts (id, login, status, captcha_tries) VALUES ('old', 'legacy', 'captcha', 1);
	INSERT INTO proxies (id, host, port) VALUES ('old', '10.0.0.9', 3128);
	`); err != nil {
		t.Fatal(err)
	}
	_ = legacy.Close()

	db, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open legacy database: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	acc, err := db.Account(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if acc.Status != model.StatusCaptcha || acc.CaptchaTries != 1 || !acc.CaptchaAt.IsZero() {
		t.Errorf("legacy account = %+v", acc)
	}
	rec, err := db.Proxy(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Failures != 0 {
		t.Errorf("legacy proxy failures = %d", rec.Failures)
	}

	rec.Failures = 2
	if err := db.SaveProxy(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.Proxy(ctx, "old"); got.Failures != 2 {
		t.Errorf("failures after save = %d, want 2", got.Failures)
	}

	// A second open finds the columns in place.
	_ = db.Close()
	again, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	_ = again.Close()
}

func TestResults(t *testing.T) {
	t.Parallel()

	t.Run("upserting the same phrase and region keeps one row with the latest counts", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		ctx := context.Background()

		first := model.ResultRow{Phrase: "buy car", Region: 225, WS: 10, Status: model.RowOK}
		second := model.ResultRow{Phrase: "buy car", Region: 225, WS: 99, QWS: 5, Status: model.RowOK, AccountID: "acc-2"}
		if err := db.UpsertResult(ctx, first); err != nil {
			t.Fatal(err)
		}
		if err := db.UpsertResult(ctx, second); err != nil {
			t.Fatal(err)
		}

		rows, err := db.Results(ctx, ResultFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 {
			t.Fatalf("rows = %d, want 1", len(rows))
		}
		if rows[0].WS != 99 || rows[0].QWS != 5 || rows[0].AccountID != "acc-2" {
			t.Errorf("row = %+v", rows[0])
		}
	})

	t.Run("regions are kept apart and filters apply", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		ctx := context.Background()

		err := db.UpsertResults(ctx, []model.ResultRow{
			{Phrase: "a", Region: 225, Status: model.RowNoData},
			{Phrase: "a", Region: 213, Status: model.RowOK, WS: 3},
			{Phrase: "b", Region: 213, Status: model.RowTimeout},
		})
		if err != nil {
			t.Fatal(err)
		}

		rows, err := db.Results(ctx, ResultFilter{Region: 213})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 {
			t.Fatalf("rows = %d, want 2", len(rows))
		}
		if rows[1].Status != model.RowTimeout {
			t.Errorf("status = %q", rows[1].Status)
		}

		rows, err = db.Results(ctx, ResultFilter{Phrases: []string{"a"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 {
			t.Errorf("rows = %d, want 2", len(rows))
		}
	})
}

func TestNodesAndJobs(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()

	nodes := []model.FrontierNode{
		{Seed: "car", Region: 225, Phrase: "car price", Shows: 500, Parent: "car", Level: 1},
		{Seed: "car", Region: 225, Phrase: "car cheap", Shows: 90, Parent: "car price", Level: 2},
		{Seed: "car", Region: 225, Phrase: "car cheap", Shows: 90, Parent: "car rent", Level: 2},
	}
	if err := db.AddNodes(ctx, "job-1", nodes); err != nil {
		t.Fatal(err)
	}
	got, err := db.Nodes(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2].Parent != "car rent" {
		t.Errorf("nodes = %+v", got)
	}

	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	job := model.Job{ID: "job-1", State: model.JobRunning, Phrases: []string{"car"}, Regions: []int{225}, CreatedAt: created}
	if err := db.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	job.State = model.JobPartial
	job.Pending = map[int][]string{225: {"car"}}
	if err := db.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	stored, err := db.Job(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != model.JobPartial || len(stored.Pending[225]) != 1 {
		t.Errorf("job = %+v", stored)
	}
	if _, err := db.Job(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	jobs, err := db.Jobs(ctx, 10)
	if err != nil || len(jobs) != 1 {
		t.Errorf("jobs = %v err = %v", jobs, err)
	}
}

func TestAccounts(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return now }

	lat := 43.2
	accounts := []model.AccountRecord{
		{
			ID: "a1", Login: "one", Status: model.StatusOK,
			Fingerprint: model.FingerprintConfig{Preset: "kazakhstan_standard", Overrides: model.FingerprintOverrides{Latitude: &lat}},
		},
		{ID: "a2", Login: "two", Status: model.StatusCooldown, CooldownUntil: now.Add(-time.Minute)},
		{ID: "a3", Login: "three", Status: model.StatusCooldown, CooldownUntil: now.Add(time.Hour)},
		{ID: "a4", Login: "four", Status: model.StatusBanned},
		{ID: "a5", Login: "five", Status: model.StatusCaptcha, CaptchaTries: 2, CaptchaAt: now.Add(-time.Hour)},
	}
	for _, acc := range accounts {
		if err := db.SaveAccount(ctx, acc); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("the fingerprint config survives a round trip", func(t *testing.T) {
		acc, err := db.Account(ctx, "a1")
		if err != nil {
			t.Fatal(err)
		}
		fp := acc.Fingerprint
		if fp.Version != model.FingerprintConfigVersion || fp.Preset != "kazakhstan_standard" {
			t.Errorf("fingerprint = %+v", fp)
		}
		if fp.Overrides.Latitude == nil || *fp.Overrides.Latitude != lat {
			t.Errorf("latitude override lost: %+v", fp.Overrides)
		}
	})

	t.Run("the captcha streak survives a round trip", func(t *testing.T) {
		acc, err := db.Account(ctx, "a5")
		if err != nil {
			t.Fatal(err)
		}
		if acc.CaptchaTries != 2 || !acc.CaptchaAt.Equal(now.Add(-time.Hour)) {
			t.Errorf("captcha fields = %d %v", acc.CaptchaTries, acc.CaptchaAt)
		}
	})

	t.Run("eligible accounts are ok or past their cooldown", func(t *testing.T) {
		got, err := db.EligibleAccounts(ctx, now)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
			t.Errorf("eligible = %+v", got)
		}
	})

	t.Run("status updates apply to known accounts only", func(t *testing.T) {
		if err := db.MarkAccountStatus(ctx, "a1", model.StatusError); err != nil {
			t.Fatal(err)
		}
		acc, _ := db.Account(ctx, "a1")
		if acc.Status != model.StatusError {
			t.Errorf("status = %q", acc.Status)
		}
		if err := db.MarkAccountStatus(ctx, "ghost", model.StatusOK); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestProxies(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()

	rec := model.ProxyRecord{
		ID: "p1", Label: "10.0.0.1:8080", Protocol: model.ProtocolSOCKS5, Host: "10.0.0.1", Port: 8080,
		Username: "u", Password: "p", Sticky: true, MaxConcurrent: 4, Enabled: true, Failures: 2,
		ExpiresAt: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.SaveProxy(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := db.Proxy(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Protocol != model.ProtocolSOCKS5 || !got.Sticky || !got.Enabled || got.MaxConcurrent != 4 || !got.ExpiresAt.Equal(rec.ExpiresAt) || got.Failures != 2 {
		t.Errorf("proxy = %+v", got)
	}

	if err := db.AddBlacklist(ctx, rec.BlacklistKey(), rec.BlacklistKey(), "10.0.0.2:80"); err != nil {
		t.Fatal(err)
	}
	keys, err := db.Blacklist(ctx)
	if err != nil || len(keys) != 2 {
		t.Errorf("blacklist = %v err = %v", keys, err)
	}

	if err := db.DeleteProxy(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Proxy(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
