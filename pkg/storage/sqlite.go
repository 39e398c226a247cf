// Package storage keeps the local history database: raw fetch results,
// daily token-usage series, and notification dedup anchors.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/notify"

	_ "modernc.org/sqlite"
)

// SQLite implements the History interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ History = (*SQLite)(nil)

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// RecordUsage appends a snapshot's raw window values to the history log.
func (s *SQLite) RecordUsage(ctx context.Context, snap *model.UsageSnapshot) error {
	primaryUsed, primaryReset := windowColumns(snap.Primary)
	secondaryUsed, secondaryReset := windowColumns(snap.Secondary)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_history (id, provider, primary_used, primary_reset_at, secondary_used, secondary_reset_at, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), snap.Provider,
		primaryUsed, primaryReset, secondaryUsed, secondaryReset,
		snap.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert usage history: %w", err)
	}
	return nil
}

func windowColumns(w *model.UsageWindow) (used *float64, resetAt *time.Time) {
	if w == nil {
		return nil, nil
	}
	u := w.UsedPercent
	used = &u
	if w.ResetAt != nil {
		t := w.ResetAt.UTC()
		resetAt = &t
	}
	return used, resetAt
}

// UsageHistory returns entries for a provider since the given instant,
// newest first.
func (s *SQLite) UsageHistory(ctx context.Context, p model.UsageProvider, since time.Time, limit int) ([]UsageHistoryEntry, error) {
	query := `SELECT id, provider, primary_used, primary_reset_at, secondary_used, secondary_reset_at, fetched_at
		 FROM usage_history WHERE provider = ? AND fetched_at >= ?
		 ORDER BY fetched_at DESC`
	args := []any{p, since.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage history: %w", err)
	}
	defer rows.Close()

	var entries []UsageHistoryEntry
	for rows.Next() {
		var e UsageHistoryEntry
		if err := rows.Scan(&e.ID, &e.Provider, &e.PrimaryUsed, &e.PrimaryResetAt,
			&e.SecondaryUsed, &e.SecondaryResetAt, &e.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordTokenDaily upserts the daily token series. The accounting CLI
// re-reports the whole month on every run, so upsert-by-date keeps the
// table convergent.
func (s *SQLite) RecordTokenDaily(ctx context.Context, p model.UsageProvider, daily []model.DailyTokenUsage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin token upsert: %w", err)
	}
	for _, day := range daily {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO token_daily (provider, date, total_tokens, cost_usd)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(provider, date) DO UPDATE SET
			   total_tokens = excluded.total_tokens,
			   cost_usd = excluded.cost_usd`,
			p, day.Date, day.TotalTokens, day.CostUSD,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert token day %s: %w", day.Date, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit token upsert: %w", err)
	}
	return nil
}

// TokenDailySeries returns the daily series on or after sinceDate
// (YYYY-MM-DD), oldest first. Date strings compare lexicographically.
func (s *SQLite) TokenDailySeries(ctx context.Context, p model.UsageProvider, sinceDate string) ([]model.DailyTokenUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, total_tokens, cost_usd FROM token_daily
		 WHERE provider = ? AND date >= ? ORDER BY date`,
		p, sinceDate)
	if err != nil {
		return nil, fmt.Errorf("query token series: %w", err)
	}
	defer rows.Close()

	var series []model.DailyTokenUsage
	for rows.Next() {
		var day model.DailyTokenUsage
		if err := rows.Scan(&day.Date, &day.TotalTokens, &day.CostUSD); err != nil {
			return nil, fmt.Errorf("scan token day: %w", err)
		}
		series = append(series, day)
	}
	return series, rows.Err()
}

// Anchor returns the stored notification anchor, or nil when none exists.
func (s *SQLite) Anchor(ctx context.Context, p model.UsageProvider, window model.WindowKind, level model.ThresholdLevel) (*notify.Anchor, error) {
	var a notify.Anchor
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, window, level, percent, reset_at
		 FROM notification_anchors WHERE provider = ? AND window = ? AND level = ?`,
		p, window, level,
	).Scan(&a.Provider, &a.Window, &a.Level, &a.Percent, &a.ResetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification anchor: %w", err)
	}
	return &a, nil
}

// SaveAnchor upserts a notification anchor.
func (s *SQLite) SaveAnchor(ctx context.Context, a notify.Anchor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_anchors (provider, window, level, percent, reset_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(provider, window, level) DO UPDATE SET
		   percent = excluded.percent,
		   reset_at = excluded.reset_at`,
		a.Provider, a.Window, a.Level, a.Percent, a.ResetAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save notification anchor: %w", err)
	}
	return nil
}

// DeleteAnchor removes an anchor. Deleting a missing anchor is a no-op;
// the caller's intent (allow re-notification) already holds.
func (s *SQLite) DeleteAnchor(ctx context.Context, p model.UsageProvider, window model.WindowKind, level model.ThresholdLevel) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_anchors WHERE provider = ? AND window = ? AND level = ?`,
		p, window, level,
	)
	if err != nil {
		return fmt.Errorf("delete notification anchor: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
