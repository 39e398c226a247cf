// Package notify evaluates usage snapshots against configured thresholds
// and delivers at-most-once notifications per limit window.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
)

// resetMatchTolerance bounds the reset-timestamp drift under which two
// observations are considered the same limit window. Providers report the
// reset instant with second-level jitter between fetches.
const resetMatchTolerance = 10 * time.Second

// Anchor records one delivered notification, keyed by provider, window
// and level. A matching anchor suppresses re-delivery until the window
// rolls over or the configured percentage changes.
type Anchor struct {
	Provider model.UsageProvider  `json:"provider"`
	Window   model.WindowKind     `json:"window"`
	Level    model.ThresholdLevel `json:"level"`
	Percent  float64              `json:"percent"`
	ResetAt  time.Time            `json:"reset_at"`
}

// AnchorStore persists delivery anchors across process restarts.
type AnchorStore interface {
	// Anchor returns the stored anchor for the key, or nil when none exists.
	Anchor(ctx context.Context, provider model.UsageProvider, window model.WindowKind, level model.ThresholdLevel) (*Anchor, error)

	// SaveAnchor upserts an anchor.
	SaveAnchor(ctx context.Context, anchor Anchor) error

	// DeleteAnchor clears an anchor. Called when a threshold's percent
	// changes or a disabled level is re-enabled: a settings change is an
	// explicit request to allow re-notification.
	DeleteAnchor(ctx context.Context, provider model.UsageProvider, window model.WindowKind, level model.ThresholdLevel) error
}

// ThresholdSource resolves the current threshold settings for a provider.
// Consulted on every evaluation so settings edits apply immediately.
type ThresholdSource func(provider model.UsageProvider) model.ProviderThresholds

// Engine turns raw usage snapshots into delivered notifications.
type Engine struct {
	thresholds ThresholdSource
	anchors    AnchorStore
	notifiers  []Notifier
	authorized func() bool
	logger     *slog.Logger
}

// NewEngine creates an engine. authorized gates all evaluation: when it
// returns false nothing is delivered and no anchors are written, so the
// first evaluation after authorization sees pristine dedup state.
func NewEngine(thresholds ThresholdSource, anchors AnchorStore, notifiers []Notifier, authorized func() bool, logger *slog.Logger) *Engine {
	if authorized == nil {
		authorized = func() bool { return true }
	}
	return &Engine{
		thresholds: thresholds,
		anchors:    anchors,
		notifiers:  notifiers,
		authorized: authorized,
		logger:     logger,
	}
}

// Evaluate inspects a snapshot and delivers a notification for every
// enabled threshold the usage has reached that was not already announced
// for the same limit window. The snapshot must carry used semantics;
// callers evaluate the raw fetch result, never a display-converted copy.
func (e *Engine) Evaluate(ctx context.Context, snap *model.UsageSnapshot) {
	if snap == nil || !e.authorized() {
		return
	}

	settings := e.thresholds(snap.Provider)
	for _, kind := range []model.WindowKind{model.WindowPrimary, model.WindowSecondary} {
		window := snap.Window(kind)
		if window == nil || window.ResetAt == nil {
			// Without a reset instant there is no dedup identity for the
			// window, so no notification can be safely keyed.
			continue
		}
		for _, level := range model.ThresholdLevels() {
			e.evaluateLevel(ctx, snap.Provider, kind, level, window, settings.Window(kind).Level(level))
		}
	}
}

func (e *Engine) evaluateLevel(ctx context.Context, provider model.UsageProvider, kind model.WindowKind, level model.ThresholdLevel, window *model.UsageWindow, setting model.ThresholdSetting) {
	if !setting.Enabled || window.UsedPercent < setting.Percent {
		return
	}

	resetAt := window.ResetAt.Time
	anchor, err := e.anchors.Anchor(ctx, provider, kind, level)
	if err != nil {
		// Err toward notifying: a missed suppression is a duplicate
		// notification, a missed delivery is a silent overage.
		e.logger.Warn("reading notification anchor failed", "provider", provider, "window", kind, "level", level, "error", err)
		anchor = nil
	}
	if anchor != nil && anchor.Percent == setting.Percent && withinTolerance(anchor.ResetAt, resetAt) {
		return
	}

	n := Notification{
		Provider:         provider,
		Window:           kind,
		Level:            level,
		UsedPercent:      window.UsedPercent,
		ThresholdPercent: setting.Percent,
		ResetAt:          resetAt,
		Message: fmt.Sprintf("%s usage is at %.0f%% (threshold %.0f%%), resets %s",
			provider.DisplayName(), window.UsedPercent, setting.Percent, resetAt.Local().Format("Mon 15:04")),
	}

	for _, notifier := range e.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			e.logger.Warn("notification delivery failed", "notifier", notifier.Name(), "provider", provider, "level", level, "error", err)
		}
	}

	if err := e.anchors.SaveAnchor(ctx, Anchor{
		Provider: provider,
		Window:   kind,
		Level:    level,
		Percent:  setting.Percent,
		ResetAt:  resetAt,
	}); err != nil {
		e.logger.Warn("saving notification anchor failed", "provider", provider, "window", kind, "level", level, "error", err)
	}
}

func withinTolerance(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= resetMatchTolerance
}
