package model_test

import (
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(primaryUsed, secondaryUsed float64) *model.UsageSnapshot {
	reset := model.NewTimestamp(time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC))
	return &model.UsageSnapshot{
		Provider:  model.ProviderCodex,
		FetchedAt: model.NewTimestamp(time.Date(2026, 8, 30, 17, 0, 0, 0, time.UTC)),
		Primary: &model.UsageWindow{
			Kind:               model.WindowPrimary,
			UsedPercent:        primaryUsed,
			ResetAt:            &reset,
			LimitWindowSeconds: 5 * 3600,
		},
		Secondary: &model.UsageWindow{
			Kind:        model.WindowSecondary,
			UsedPercent: secondaryUsed,
		},
		DisplayMode: model.ModeUsed,
	}
}

func TestConvertTo_UsedToRemaining(t *testing.T) {
	snap := testSnapshot(30, 12.5)

	remaining := snap.ConvertTo(model.ModeRemaining)
	assert.Equal(t, model.ModeRemaining, remaining.DisplayMode)
	assert.InDelta(t, 70, remaining.Primary.UsedPercent, 1e-9)
	assert.InDelta(t, 87.5, remaining.Secondary.UsedPercent, 1e-9)

	// Original is untouched.
	assert.InDelta(t, 30, snap.Primary.UsedPercent, 1e-9)

	back := remaining.ConvertTo(model.ModeUsed)
	assert.InDelta(t, 30, back.Primary.UsedPercent, 1e-9)
	assert.InDelta(t, 12.5, back.Secondary.UsedPercent, 1e-9)
}

func TestConvertTo_RoundTripIsLossless(t *testing.T) {
	// Any toggle sequence ending on the starting mode must restore the
	// starting values bit-for-bit.
	sequences := [][]model.DisplayMode{
		{model.ModeRemaining, model.ModeUsed},
		{model.ModeUsedPacing, model.ModeUsed},
		{model.ModeRemaining, model.ModeUsedPacing, model.ModeRemaining, model.ModeUsed},
		{model.ModeUsed, model.ModeUsed},
	}

	for _, seq := range sequences {
		snap := testSnapshot(33.333333333333336, 7.000000000000001)
		converted := snap
		for _, mode := range seq {
			converted = converted.ConvertTo(mode)
		}
		assert.Equal(t, snap.Primary.UsedPercent, converted.Primary.UsedPercent, "sequence %v", seq)
		assert.Equal(t, snap.Secondary.UsedPercent, converted.Secondary.UsedPercent, "sequence %v", seq)
	}
}

func TestConvertTo_SameModeIsNoOp(t *testing.T) {
	snap := testSnapshot(85, 40)
	same := snap.ConvertTo(model.ModeUsed)
	assert.Equal(t, snap.Primary.UsedPercent, same.Primary.UsedPercent)
	assert.Equal(t, model.ModeUsed, same.DisplayMode)
}

func TestConvertTo_NilWindows(t *testing.T) {
	snap := &model.UsageSnapshot{
		Provider:    model.ProviderClaude,
		DisplayMode: model.ModeUsed,
	}
	converted := snap.ConvertTo(model.ModeRemaining)
	assert.Nil(t, converted.Primary)
	assert.Nil(t, converted.Secondary)
	assert.Equal(t, model.ModeRemaining, converted.DisplayMode)
}

func TestExpectedUsedPercent(t *testing.T) {
	reset := model.NewTimestamp(time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC))
	w := &model.UsageWindow{
		Kind:               model.WindowPrimary,
		ResetAt:            &reset,
		LimitWindowSeconds: 5 * 3600,
	}

	// Halfway through the 5h window.
	now := time.Date(2026, 8, 30, 17, 30, 0, 0, time.UTC)
	assert.InDelta(t, 50, w.ExpectedUsedPercent(now), 1e-9)

	// Before the window started.
	assert.InDelta(t, 0, w.ExpectedUsedPercent(time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)), 1e-9)

	// Past the reset: capped at 100.
	assert.InDelta(t, 100, w.ExpectedUsedPercent(time.Date(2026, 8, 30, 21, 0, 0, 0, time.UTC)), 1e-9)
}

func TestExpectedUsedPercent_UnknownWindow(t *testing.T) {
	var w *model.UsageWindow
	assert.Zero(t, w.ExpectedUsedPercent(time.Now()))

	noReset := &model.UsageWindow{LimitWindowSeconds: 3600}
	assert.Zero(t, noReset.ExpectedUsedPercent(time.Now()))
}

func TestWindow_Accessor(t *testing.T) {
	snap := testSnapshot(10, 20)
	require.NotNil(t, snap.Window(model.WindowPrimary))
	assert.InDelta(t, 10, snap.Window(model.WindowPrimary).UsedPercent, 1e-9)
	assert.InDelta(t, 20, snap.Window(model.WindowSecondary).UsedPercent, 1e-9)
	assert.Nil(t, snap.Window(model.WindowKind("other")))
}
