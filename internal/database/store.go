package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/keyharvest/internal/model"
)

// FileName is the database file name inside the data directory.
const FileName = "keyharvest.db"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the SQLite persistence layer.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the Store in dbDir.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath, now: time.Now}
	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
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
		captcha_at TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '{}',
		active_slot TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);

	CREATE TABLE IF NOT EXISTS proxies (
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
		failures INTEGER NOT NULL DEFAULT 0,
		provider TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		expires_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS proxy_blacklist (
		server TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS freq_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phrase TEXT NOT NULL,
		region INTEGER NOT NULL,
		ws INTEGER NOT NULL DEFAULT 0,
		qws INTEGER NOT NULL DEFAULT 0,
		bws INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		UNIQUE(phrase, region)
	);

	CREATE INDEX IF NOT EXISTS idx_results_region ON freq_results(region);

	CREATE TABLE IF NOT EXISTS depth_nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		seed TEXT NOT NULL,
		region INTEGER NOT NULL,
		phrase TEXT NOT NULL,
		shows INTEGER NOT NULL,
		parent TEXT NOT NULL,
		level INTEGER NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_job ON depth_nodes(job_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		summary TEXT NOT NULL,
		created_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	`
	if _, err := s.db.ExecContext(context.Background(), schema); err != nil {
		return err
	}
	return s.addMissingColumns()
}

// addedColumns lists columns introduced after the first schema version.
// Databases created earlier get them through ALTER TABLE on open.
var addedColumns = []struct {
	table, name, decl string
}{
	{"accounts", "captcha_at", "TEXT NOT NULL DEFAULT ''"},
	{"proxies", "failures", "INTEGER NOT NULL DEFAULT 0"},
}

func (s *Store) addMissingColumns() error {
	ctx := context.Background()
	for _, c := range addedColumns {
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", c.table, c.name,
		).Scan(&n); err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			"ALTER TABLE "+c.table+" ADD COLUMN "+c.name+" "+c.decl,
		); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", c.table, c.name, err)
		}
	}
	return nil
}

// UpsertResult stores row, replacing any earlier row for the same phrase
// and region.
func (s *Store) UpsertResult(ctx context.Context, row model.ResultRow) error {
	return s.UpsertResults(ctx, []model.ResultRow{row})
}

// UpsertResults stores rows in one transaction.
func (s *Store) UpsertResults(ctx context.Context, rows []model.ResultRow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		const query = `
		INSERT INTO freq_results (phrase, region, ws, qws, bws, status, account_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phrase, region) DO UPDATE SET
			ws = excluded.ws,
			qws = excluded.qws,
			bws = excluded.bws,
			status = excluded.status,
			account_id = excluded.account_id,
			updated_at = excluded.updated_at
		`
		for _, r := range rows {
			updated := r.UpdatedAt
			if updated.IsZero() {
				updated = s.now()
			}
			if _, err := tx.ExecContext(ctx, query,
				r.Phrase, r.Region, r.WS, r.QWS, r.BWS, string(r.Status), r.AccountID, formatTime(updated),
			); err != nil {
				return fmt.Errorf("failed to upsert result %q: %w", r.Phrase, err)
			}
		}
		return nil
	})
}

// ResultFilter narrows Results. Zero values match everything.
type ResultFilter struct {
	Region  int
	Phrases []string
}

// Results returns stored frequency rows ordered by region and phrase.
func (s *Store) Results(ctx context.Context, f ResultFilter) ([]model.ResultRow, error) {
	query := `
	SELECT phrase, region, ws, qws, bws, status, account_id, updated_at
	FROM freq_results
	WHERE 1=1
	`
	args := make([]any, 0, len(f.Phrases)+1)
	if f.Region != 0 {
		query += " AND region = ?"
		args = append(args, f.Region)
	}
	if len(f.Phrases) > 0 {
		query += " AND phrase IN (?" + strings.Repeat(",?", len(f.Phrases)-1) + ")"
		for _, p := range f.Phrases {
			args = append(args, p)
		}
	}
	query += " ORDER BY region, phrase"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []model.ResultRow
	for rows.Next() {
		var r model.ResultRow
		var status, updated string
		if err := rows.Scan(&r.Phrase, &r.Region, &r.WS, &r.QWS, &r.BWS, &status, &r.AccountID, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Status = model.RowStatus(status)
		r.UpdatedAt = parseTimestamp(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddNodes appends depth nodes recorded by jobID.
func (s *Store) AddNodes(ctx context.Context, jobID string, nodes []model.FrontierNode) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		const query = `
		INSERT INTO depth_nodes (job_id, seed, region, phrase, shows, parent, level, account_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		for _, n := range nodes {
			created := n.CreatedAt
			if created.IsZero() {
				created = s.now()
			}
			if _, err := tx.ExecContext(ctx, query,
				jobID, n.Seed, n.Region, n.Phrase, n.Shows, n.Parent, n.Level, n.AccountID, formatTime(created),
			); err != nil {
				return fmt.Errorf("failed to insert depth node %q: %w", n.Phrase, err)
			}
		}
		return nil
	})
}

// Nodes returns the depth nodes of jobID in insertion order.
func (s *Store) Nodes(ctx context.Context, jobID string) ([]model.FrontierNode, error) {
	const query = `
	SELECT seed, region, phrase, shows, parent, level, account_id, created_at
	FROM depth_nodes
	WHERE job_id = ?
	ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query depth nodes: %w", err)
	}
	defer rows.Close()

	var out []model.FrontierNode
	for rows.Next() {
		var n model.FrontierNode
		var created string
		if err := rows.Scan(&n.Seed, &n.Region, &n.Phrase, &n.Shows, &n.Parent, &n.Level, &n.AccountID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan depth node: %w", err)
		}
		n.CreatedAt = parseTimestamp(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

// SaveJob inserts or updates a job summary.
func (s *Store) SaveJob(ctx context.Context, job model.Job) error {
	summary, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	const query = `
	INSERT INTO jobs (id, state, summary, created_at, finished_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		summary = excluded.summary,
		finished_at = excluded.finished_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		job.ID, string(job.State), string(summary), formatTime(job.CreatedAt), formatTime(job.FinishedAt),
	); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Job returns the job with the given id.
func (s *Store) Job(ctx context.Context, id string) (model.Job, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, "SELECT summary FROM jobs WHERE id = ?", id).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal([]byte(summary), &job); err != nil {
		return model.Job{}, fmt.Errorf("failed to parse job: %w", err)
	}
	return job, nil
}

// Jobs returns the most recent jobs, newest first. limit <= 0 returns all.
func (s *Store) Jobs(ctx context.Context, limit int) ([]model.Job, error) {
	query := "SELECT summary FROM jobs ORDER BY created_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		var job model.Job
		if err := json.Unmarshal([]byte(summary), &job); err != nil {
			continue // Skip malformed summaries
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timeLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp tries each known format and returns the zero time when
// none matches.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
