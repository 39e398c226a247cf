package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/notify"
	"github.com/quotabar/quotabar/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *storage.SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func snapshotWithWindows(p model.UsageProvider, fetchedAt time.Time) *model.UsageSnapshot {
	reset := model.NewTimestamp(fetchedAt.Add(2 * time.Hour))
	return &model.UsageSnapshot{
		Provider:    p,
		FetchedAt:   model.NewTimestamp(fetchedAt),
		DisplayMode: model.ModeUsed,
		Primary: &model.UsageWindow{
			Kind:        model.WindowPrimary,
			UsedPercent: 42.5,
			ResetAt:     &reset,
		},
	}
}

func TestSQLite_RecordAndQueryUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.RecordUsage(ctx, snapshotWithWindows(model.ProviderClaude, base)))
	require.NoError(t, db.RecordUsage(ctx, snapshotWithWindows(model.ProviderClaude, base.Add(time.Hour))))
	require.NoError(t, db.RecordUsage(ctx, snapshotWithWindows(model.ProviderCodex, base)))

	entries, err := db.UsageHistory(ctx, model.ProviderClaude, base.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.True(t, entries[0].FetchedAt.After(entries[1].FetchedAt))
	assert.Equal(t, model.ProviderClaude, entries[0].Provider)
	require.NotNil(t, entries[0].PrimaryUsed)
	assert.Equal(t, 42.5, *entries[0].PrimaryUsed)
	assert.Nil(t, entries[0].SecondaryUsed)

	// Since-filter excludes older rows.
	entries, err = db.UsageHistory(ctx, model.ProviderClaude, base.Add(30*time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Limit caps the result.
	entries, err = db.UsageHistory(ctx, model.ProviderClaude, base.Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLite_RecordUsage_NilWindowsStayNull(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	snap := &model.UsageSnapshot{
		Provider:    model.ProviderCodex,
		FetchedAt:   model.NewTimestamp(time.Now()),
		DisplayMode: model.ModeUsed,
	}
	require.NoError(t, db.RecordUsage(ctx, snap))

	entries, err := db.UsageHistory(ctx, model.ProviderCodex, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].PrimaryUsed)
	assert.Nil(t, entries[0].PrimaryResetAt)
	assert.Nil(t, entries[0].SecondaryUsed)
}

func TestSQLite_TokenDailyUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := []model.DailyTokenUsage{
		{Date: "2026-08-29", TotalTokens: 1000, CostUSD: 0.10},
		{Date: "2026-08-30", TotalTokens: 2000, CostUSD: 0.20},
	}
	require.NoError(t, db.RecordTokenDaily(ctx, model.ProviderClaude, first))

	// Re-reporting the month updates in place instead of duplicating.
	second := []model.DailyTokenUsage{
		{Date: "2026-08-30", TotalTokens: 2500, CostUSD: 0.25},
		{Date: "2026-08-31", TotalTokens: 500, CostUSD: 0.05},
	}
	require.NoError(t, db.RecordTokenDaily(ctx, model.ProviderClaude, second))

	series, err := db.TokenDailySeries(ctx, model.ProviderClaude, "2026-08-01")
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, "2026-08-29", series[0].Date)
	assert.Equal(t, int64(2500), series[1].TotalTokens)
	assert.InDelta(t, 0.25, series[1].CostUSD, 1e-9)

	// Date filter.
	series, err = db.TokenDailySeries(ctx, model.ProviderClaude, "2026-08-30")
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestSQLite_AnchorLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Absent anchor reads back as nil, not an error.
	got, err := db.Anchor(ctx, model.ProviderCodex, model.WindowPrimary, model.LevelWarning)
	require.NoError(t, err)
	assert.Nil(t, got)

	reset := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	anchor := notify.Anchor{
		Provider: model.ProviderCodex,
		Window:   model.WindowPrimary,
		Level:    model.LevelWarning,
		Percent:  70,
		ResetAt:  reset,
	}
	require.NoError(t, db.SaveAnchor(ctx, anchor))

	got, err = db.Anchor(ctx, model.ProviderCodex, model.WindowPrimary, model.LevelWarning)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 70.0, got.Percent)
	assert.True(t, got.ResetAt.Equal(reset))

	// Upsert replaces.
	anchor.Percent = 60
	require.NoError(t, db.SaveAnchor(ctx, anchor))
	got, err = db.Anchor(ctx, model.ProviderCodex, model.WindowPrimary, model.LevelWarning)
	require.NoError(t, err)
	assert.Equal(t, 60.0, got.Percent)

	// Delete clears; deleting again is a no-op.
	require.NoError(t, db.DeleteAnchor(ctx, model.ProviderCodex, model.WindowPrimary, model.LevelWarning))
	got, err = db.Anchor(ctx, model.ProviderCodex, model.WindowPrimary, model.LevelWarning)
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, db.DeleteAnchor(ctx, model.ProviderCodex, model.WindowPrimary, model.LevelWarning))
}

func TestSQLite_MigrationIdempotency(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	// Open and close twice to verify migration idempotency
	db1, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	db1.Close()

	db2, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	db2.Close()
}
