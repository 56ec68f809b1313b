package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nao1215/keyharvest/internal/model"
)

const proxyColumns = `id, label, protocol, host, port, username, password, geo, sticky, max_concurrent,
	enabled, notes, last_check, last_ip, failures, provider, external_id, expires_at`

// SaveProxy inserts or replaces a proxy.
func (s *Store) SaveProxy(ctx context.Context, rec model.ProxyRecord) error {
	query := `
	INSERT INTO proxies (` + proxyColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		label = excluded.label,
		protocol = excluded.protocol,
		host = excluded.host,
		port = excluded.port,
		username = excluded.username,
		password = excluded.password,
		geo = excluded.geo,
		sticky = excluded.sticky,
		max_concurrent = excluded.max_concurrent,
		enabled = excluded.enabled,
		notes = excluded.notes,
		last_check = excluded.last_check,
		last_ip = excluded.last_ip,
		failures = excluded.failures,
		provider = excluded.provider,
		external_id = excluded.external_id,
		expires_at = excluded.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Label, string(rec.Protocol), rec.Host, rec.Port, rec.Username, rec.Password, rec.Geo,
		rec.Sticky, rec.MaxConcurrent, rec.Enabled, rec.Notes, formatTime(rec.LastCheck), rec.LastIP,
		rec.Failures, rec.Provider, rec.ExternalID, formatTime(rec.ExpiresAt),
	); err != nil {
		return fmt.Errorf("failed to save proxy %s: %w", rec.ID, err)
	}
	return nil
}

// Proxy returns the proxy with the given id.
func (s *Store) Proxy(ctx context.Context, id string) (model.ProxyRecord, error) {
	rec, err := scanProxy(s.db.QueryRowContext(ctx, "SELECT "+proxyColumns+" FROM proxies WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProxyRecord{}, fmt.Errorf("%w: proxy %s", ErrNotFound, id)
	}
	return rec, err
}

// Proxies returns all proxies ordered by label.
func (s *Store) Proxies(ctx context.Context) ([]model.ProxyRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+proxyColumns+" FROM proxies ORDER BY label, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	defer rows.Close()

	var out []model.ProxyRecord
	for rows.Next() {
		rec, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteProxy removes a proxy.
func (s *Store) DeleteProxy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM proxies WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete proxy: %w", err)
	}
	return nil
}

// AddBlacklist records blacklisted proxy servers. Known entries are kept.
func (s *Store) AddBlacklist(ctx context.Context, servers ...string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(s.now())
		for _, server := range servers {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO proxy_blacklist (server, created_at) VALUES (?, ?) ON CONFLICT(server) DO NOTHING",
				server, now,
			); err != nil {
				return fmt.Errorf("failed to blacklist %s: %w", server, err)
			}
		}
		return nil
	})
}

// Blacklist returns the blacklisted proxy servers.
func (s *Store) Blacklist(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT server FROM proxy_blacklist ORDER BY server")
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var server string
		if err := rows.Scan(&server); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		out = append(out, server)
	}
	return out, rows.Err()
}

func scanProxy(sc scanner) (model.ProxyRecord, error) {
	var (
		rec                model.ProxyRecord
		protocol           string
		lastCheck, expires string
	)
	if err := sc.Scan(
		&rec.ID, &rec.Label, &protocol, &rec.Host, &rec.Port, &rec.Username, &rec.Password, &rec.Geo,
		&rec.Sticky, &rec.MaxConcurrent, &rec.Enabled, &rec.Notes, &lastCheck, &rec.LastIP,
		&rec.Failures, &rec.Provider, &rec.ExternalID, &expires,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan proxy: %w", err)
	}
	rec.Protocol = model.ProxyProtocol(protocol)
	rec.LastCheck = parseTimestamp(lastCheck)
	rec.ExpiresAt = parseTimestamp(expires)
	return rec, nil
}
