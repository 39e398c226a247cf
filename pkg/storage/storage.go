package storage

import (
	"context"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/notify"
)

// UsageHistoryEntry is one recorded fetch. Window columns are nullable
// because the backend may omit either window; NULL and zero are distinct.
type UsageHistoryEntry struct {
	ID               string              `json:"id"`
	Provider         model.UsageProvider `json:"provider"`
	FetchedAt        time.Time           `json:"fetched_at"`
	PrimaryUsed      *float64            `json:"primary_used,omitempty"`
	PrimaryResetAt   *time.Time          `json:"primary_reset_at,omitempty"`
	SecondaryUsed    *float64            `json:"secondary_used,omitempty"`
	SecondaryResetAt *time.Time          `json:"secondary_reset_at,omitempty"`
}

// History defines the persistence layer for fetch history, token-usage
// series, and notification anchors.
type History interface {
	// RecordUsage appends a fetched snapshot to the history log. The
	// snapshot must carry used semantics.
	RecordUsage(ctx context.Context, snap *model.UsageSnapshot) error

	// UsageHistory returns entries for a provider since the given instant,
	// newest first, capped at limit when positive.
	UsageHistory(ctx context.Context, p model.UsageProvider, since time.Time, limit int) ([]UsageHistoryEntry, error)

	// RecordTokenDaily upserts a provider's daily token-usage series.
	RecordTokenDaily(ctx context.Context, p model.UsageProvider, daily []model.DailyTokenUsage) error

	// TokenDailySeries returns the daily series for a provider on or after
	// the given date (YYYY-MM-DD), oldest first.
	TokenDailySeries(ctx context.Context, p model.UsageProvider, sinceDate string) ([]model.DailyTokenUsage, error)

	notify.AnchorStore

	// Close releases resources.
	Close() error
}
