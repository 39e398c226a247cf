package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAnchorStore struct {
	anchors map[string]notify.Anchor
	readErr error
}

func newMemAnchorStore() *memAnchorStore {
	return &memAnchorStore{anchors: make(map[string]notify.Anchor)}
}

func anchorKey(p model.UsageProvider, w model.WindowKind, l model.ThresholdLevel) string {
	return string(p) + "/" + string(w) + "/" + string(l)
}

func (m *memAnchorStore) Anchor(_ context.Context, p model.UsageProvider, w model.WindowKind, l model.ThresholdLevel) (*notify.Anchor, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	a, ok := m.anchors[anchorKey(p, w, l)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memAnchorStore) SaveAnchor(_ context.Context, a notify.Anchor) error {
	m.anchors[anchorKey(a.Provider, a.Window, a.Level)] = a
	return nil
}

func (m *memAnchorStore) DeleteAnchor(_ context.Context, p model.UsageProvider, w model.WindowKind, l model.ThresholdLevel) error {
	delete(m.anchors, anchorKey(p, w, l))
	return nil
}

type recordingNotifier struct {
	sent []notify.Notification
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(_ context.Context, n notify.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func thresholds(warningEnabled, dangerEnabled bool) notify.ThresholdSource {
	return func(model.UsageProvider) model.ProviderThresholds {
		window := model.WindowThresholds{
			Warning: model.ThresholdSetting{Enabled: warningEnabled, Percent: 70},
			Danger:  model.ThresholdSetting{Enabled: dangerEnabled, Percent: 90},
		}
		return model.ProviderThresholds{Primary: window, Secondary: window}
	}
}

func snapshotAt(used float64, resetAt time.Time) *model.UsageSnapshot {
	ts := model.NewTimestamp(resetAt)
	return &model.UsageSnapshot{
		Provider:    model.ProviderClaude,
		FetchedAt:   model.NewTimestamp(resetAt.Add(-time.Hour)),
		DisplayMode: model.ModeUsed,
		Primary: &model.UsageWindow{
			Kind:        model.WindowPrimary,
			UsedPercent: used,
			ResetAt:     &ts,
		},
	}
}

func TestEvaluate_WarningOnlyBetweenThresholds(t *testing.T) {
	store := newMemAnchorStore()
	sink := &recordingNotifier{}
	engine := notify.NewEngine(thresholds(true, true), store, []notify.Notifier{sink}, nil, testLogger())

	reset := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	engine.Evaluate(context.Background(), snapshotAt(85, reset))

	require.Len(t, sink.sent, 1)
	assert.Equal(t, model.LevelWarning, sink.sent[0].Level)
	assert.Equal(t, 85.0, sink.sent[0].UsedPercent)
	assert.Equal(t, 70.0, sink.sent[0].ThresholdPercent)
}

func TestEvaluate_BothLevelsAboveDanger(t *testing.T) {
	store := newMemAnchorStore()
	sink := &recordingNotifier{}
	engine := notify.NewEngine(thresholds(true, true), store, []notify.Notifier{sink}, nil, testLogger())

	reset := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	engine.Evaluate(context.Background(), snapshotAt(95, reset))

	require.Len(t, sink.sent, 2)
	assert.Equal(t, model.LevelWarning, sink.sent[0].Level)
	assert.Equal(t, model.LevelDanger, sink.sent[1].Level)
}

func TestEvaluate_DeduplicatesWithinResetTolerance(t *testing.T) {
	store := newMemAnchorStore()
	sink := &recordingNotifier{}
	engine := notify.NewEngine(thresholds(true, false), store, []notify.Notifier{sink}, nil, testLogger())

	reset := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	engine.Evaluate(context.Background(), snapshotAt(85, reset))
	require.Len(t, sink.sent, 1)

	// Same window, jittered reset timestamp: suppressed.
	engine.Evaluate(context.Background(), snapshotAt(87, reset.Add(5*time.Second)))
	assert.Len(t, sink.sent, 1)

	// Reset drifted past tolerance: a new window, notify again.
	engine.Evaluate(context.Background(), snapshotAt(87, reset.Add(15*time.Second)))
	assert.Len(t, sink.sent, 2)
}

func TestEvaluate_ThresholdEditResetsDedup(t *testing.T) {
	store := newMemAnchorStore()
	sink := &recordingNotifier{}
	percent := 70.0
	source := func(model.UsageProvider) model.ProviderThresholds {
		window := model.WindowThresholds{Warning: model.ThresholdSetting{Enabled: true, Percent: percent}}
		return model.ProviderThresholds{Primary: window}
	}
	engine := notify.NewEngine(source, store, []notify.Notifier{sink}, nil, testLogger())

	reset := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	engine.Evaluate(context.Background(), snapshotAt(85, reset))
	require.Len(t, sink.sent, 1)

	// Lowering the warning percent re-arms the same window.
	percent = 60
	engine.Evaluate(context.Background(), snapshotAt(85, reset))
	require.Len(t, sink.sent, 2)
	assert.Equal(t, 60.0, sink.sent[1].ThresholdPercent)
}

func TestEvaluate_UnauthorizedSkipsEverything(t *testing.T) {
	store := newMemAnchorStore()
	sink := &recordingNotifier{}
	engine := notify.NewEngine(thresholds(true, true), store, []notify.Notifier{sink},
		func() bool { return false }, testLogger())

	reset := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	engine.Evaluate(context.Background(), snapshotAt(99, reset))

	assert.Empty(t, sink.sent)
	assert.Empty(t, store.anchors)
}

func TestEvaluate_DisabledThresholdNeverFires(t *testing.T) {
	store := newMemAnchorStore()
	sink := &recordingNotifier{}
	engine := notify.NewEngine(thresholds(false, false), store, []notify.Notifier{sink}, nil, testLogger())

	engine.Evaluate(context.Background(), snapshotAt(99, time.Now()))
	assert.Empty(t, sink.sent)
}

func TestEvaluate_MissingResetSkipsWindow(t *testing.T) {
	store := newMemAnchorStore()
	sink := &recordingNotifier{}
	engine := notify.NewEngine(thresholds(true, true), store, []notify.Notifier{sink}, nil, testLogger())

	snap := snapshotAt(99, time.Now())
	snap.Primary.ResetAt = nil
	engine.Evaluate(context.Background(), snap)

	assert.Empty(t, sink.sent)
}

func TestEvaluate_AnchorReadFailureStillNotifies(t *testing.T) {
	store := newMemAnchorStore()
	store.readErr = errors.New("database locked")
	sink := &recordingNotifier{}
	engine := notify.NewEngine(thresholds(true, false), store, []notify.Notifier{sink}, nil, testLogger())

	engine.Evaluate(context.Background(), snapshotAt(85, time.Now()))
	assert.Len(t, sink.sent, 1)
}
