package model

import "time"

// WindowKind identifies one of the two fixed rate-limit tiers.
type WindowKind string

const (
	WindowPrimary   WindowKind = "primary"   // short window (5h)
	WindowSecondary WindowKind = "secondary" // long window (7d)
)

// DisplayMode selects how persisted percentages are to be interpreted.
// The mode recorded on a snapshot is the contract by which cross-process
// readers (widgets, shell scripts) decode the stored value without
// recomputing it.
type DisplayMode string

const (
	ModeUsed       DisplayMode = "used"
	ModeRemaining  DisplayMode = "remaining"
	ModeUsedPacing DisplayMode = "used_with_pacing"
)

// ParseDisplayMode resolves a display mode string.
func ParseDisplayMode(s string) (DisplayMode, bool) {
	switch DisplayMode(s) {
	case ModeUsed, ModeRemaining, ModeUsedPacing:
		return DisplayMode(s), true
	}
	return "", false
}

// storesUsed reports whether the mode persists used semantics (as opposed
// to remaining). Pacing is a presentation overlay on used values.
func (m DisplayMode) storesUsed() bool {
	return m != ModeRemaining
}

// UsageWindow is one rate-limit window of a provider.
type UsageWindow struct {
	Kind               WindowKind `json:"kind"`
	UsedPercent        float64    `json:"used_percent"`
	ResetAt            *Timestamp `json:"reset_at,omitempty"`
	LimitWindowSeconds int64      `json:"limit_window_seconds,omitempty"`
}

// ExpectedUsedPercent projects the ideal linear consumption at now: the
// fraction of the window already elapsed, as a percentage. Returns 0 when
// the window duration or reset instant is unknown.
func (w *UsageWindow) ExpectedUsedPercent(now time.Time) float64 {
	if w == nil || w.ResetAt == nil || w.LimitWindowSeconds <= 0 {
		return 0
	}
	windowStart := w.ResetAt.Add(-time.Duration(w.LimitWindowSeconds) * time.Second)
	elapsed := now.Sub(windowStart)
	if elapsed <= 0 {
		return 0
	}
	pct := float64(elapsed) / float64(time.Duration(w.LimitWindowSeconds)*time.Second) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// UsageSnapshot is a provider's usage at a fetch instant. Windows the
// backend did not report are nil, never zero-filled: downstream color and
// threshold logic relies on the unknown-vs-zero distinction.
type UsageSnapshot struct {
	Provider    UsageProvider `json:"provider"`
	FetchedAt   Timestamp     `json:"fetched_at"`
	Primary     *UsageWindow  `json:"primary,omitempty"`
	Secondary   *UsageWindow  `json:"secondary,omitempty"`
	DisplayMode DisplayMode   `json:"display_mode"`
}

// ConvertTo returns a copy of the snapshot with percentages rewritten for
// the target display mode. Conversion is lossless and self-inverse: any
// toggle sequence ending on the original mode restores the original values.
// Converting to the current mode is a no-op copy.
func (s *UsageSnapshot) ConvertTo(mode DisplayMode) *UsageSnapshot {
	out := s.clone()
	if s.DisplayMode.storesUsed() != mode.storesUsed() {
		flipWindow(out.Primary)
		flipWindow(out.Secondary)
	}
	out.DisplayMode = mode
	return out
}

func flipWindow(w *UsageWindow) {
	if w == nil {
		return
	}
	w.UsedPercent = 100 - w.UsedPercent
}

func (s *UsageSnapshot) clone() *UsageSnapshot {
	out := *s
	if s.Primary != nil {
		p := *s.Primary
		out.Primary = &p
	}
	if s.Secondary != nil {
		w := *s.Secondary
		out.Secondary = &w
	}
	return &out
}

// Window returns the window of the given kind, or nil.
func (s *UsageSnapshot) Window(kind WindowKind) *UsageWindow {
	switch kind {
	case WindowPrimary:
		return s.Primary
	case WindowSecondary:
		return s.Secondary
	}
	return nil
}
