package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/keyharvest/internal/model"
)

const accountColumns = `id, login, profile_dir, proxy_id, proxy_strategy, status, captcha_tries, strikes,
	cooldown_until, last_error, error_at, captcha_at, fingerprint, active_slot, notes, updated_at`

// SaveAccount inserts or replaces an account. The fingerprint configuration
// is stored as a versioned JSON document.
func (s *Store) SaveAccount(ctx context.Context, acc model.AccountRecord) error {
	if acc.Fingerprint.Version == 0 {
		acc.Fingerprint.Version = model.FingerprintConfigVersion
	}
	fp, err := json.Marshal(acc.Fingerprint)
	if err != nil {
		return fmt.Errorf("failed to serialize fingerprint: %w", err)
	}
	updated := acc.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	query := `
	INSERT INTO accounts (` + accountColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		login = excluded.login,
		profile_dir = excluded.profile_dir,
		proxy_id = excluded.proxy_id,
		proxy_strategy = excluded.proxy_strategy,
		status = excluded.status,
		captcha_tries = excluded.captcha_tries,
		strikes = excluded.strikes,
		cooldown_until = excluded.cooldown_until,
		last_error = excluded.last_error,
		error_at = excluded.error_at,
		captcha_at = excluded.captcha_at,
		fingerprint = excluded.fingerprint,
		active_slot = excluded.active_slot,
		notes = excluded.notes,
		updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		acc.ID, acc.Login, acc.ProfileDir, acc.ProxyID, string(acc.ProxyStrategy), string(acc.Status),
		acc.CaptchaTries, acc.Strikes, formatTime(acc.CooldownUntil), acc.LastError, formatTime(acc.ErrorAt),
		formatTime(acc.CaptchaAt), string(fp), acc.ActiveSlot, acc.Notes, formatTime(updated),
	); err != nil {
		return fmt.Errorf("failed to save account %s: %w", acc.ID, err)
	}
	return nil
}

// Account returns the account with the given id.
func (s *Store) Account(ctx context.Context, id string) (model.AccountRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccountRecord{}, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	return acc, err
}

// Accounts returns all accounts ordered by id.
func (s *Store) Accounts(ctx context.Context) ([]model.AccountRecord, error) {
	return s.queryAccounts(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id")
}

// EligibleAccounts returns accounts that are ok or whose cooldown ended by
// now. The proxy part of eligibility is checked by the proxy pool.
func (s *Store) EligibleAccounts(ctx context.Context, now time.Time) ([]model.AccountRecord, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
	WHERE status = ? OR (status = ? AND cooldown_until <= ?)
	ORDER BY id`, string(model.StatusOK), string(model.StatusCooldown), formatTime(now))
}

// MarkAccountStatus sets the status of an account.
func (s *Store) MarkAccountStatus(ctx context.Context, id string, status model.AccountStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	return nil
}

// DeleteAccount removes an account.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]model.AccountRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []model.AccountRecord
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (model.AccountRecord, error) {
	var (
		acc                                   model.AccountRecord
		strategy, status                      string
		cooldown, errorAt, captchaAt, updated string
		fp                                    string
	)
	if err := sc.Scan(
		&acc.ID, &acc.Login, &acc.ProfileDir, &acc.ProxyID, &strategy, &status,
		&acc.CaptchaTries, &acc.Strikes, &cooldown, &acc.LastError, &errorAt,
		&captchaAt, &fp, &acc.ActiveSlot, &acc.Notes, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acc, err
		}
		return acc, fmt.Errorf("failed to scan account: %w", err)
	}
	acc.ProxyStrategy = model.ProxyStrategy(strategy)
	acc.Status = model.AccountStatus(status)
	acc.CooldownUntil = parseTimestamp(cooldown)
	acc.ErrorAt = parseTimestamp(errorAt)
	acc.CaptchaAt = parseTimestamp(captchaAt)
	acc.UpdatedAt = parseTimestamp(updated)
	if fp != "" {
		if err := json.Unmarshal([]byte(fp), &acc.Fingerprint); err != nil {
			return acc, fmt.Errorf("failed to parse fingerprint of account %s: %w", acc.ID, err)
		}
	}
	return acc, nil
}
