package model

// ThresholdLevel is a notification severity tier.
type ThresholdLevel string

const (
	LevelWarning ThresholdLevel = "warning"
	LevelDanger  ThresholdLevel = "danger"
)

// ThresholdLevels returns the severity tiers in ascending order.
func ThresholdLevels() []ThresholdLevel {
	return []ThresholdLevel{LevelWarning, LevelDanger}
}

// ThresholdSetting configures one (window, level) notification trigger.
type ThresholdSetting struct {
	Enabled bool    `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Percent float64 `json:"percent" mapstructure:"percent" yaml:"percent"`
}

// WindowThresholds holds the warning and danger settings for one window.
type WindowThresholds struct {
	Warning ThresholdSetting `json:"warning" mapstructure:"warning" yaml:"warning"`
	Danger  ThresholdSetting `json:"danger" mapstructure:"danger" yaml:"danger"`
}

// Level returns the setting for the given severity.
func (w WindowThresholds) Level(level ThresholdLevel) ThresholdSetting {
	if level == LevelDanger {
		return w.Danger
	}
	return w.Warning
}

// Normalize clamps percentages into [1, 100] and enforces the invariant
// warning <= danger. Violating input is corrected, not rejected: a warning
// above the danger value drags the danger value up to match.
func (w *WindowThresholds) Normalize() {
	w.Warning.Percent = clampPercent(w.Warning.Percent)
	w.Danger.Percent = clampPercent(w.Danger.Percent)
	if w.Warning.Percent > w.Danger.Percent {
		w.Danger.Percent = w.Warning.Percent
	}
}

func clampPercent(p float64) float64 {
	if p < 1 {
		return 1
	}
	if p > 100 {
		return 100
	}
	return p
}

// ProviderThresholds holds threshold settings for both windows of a provider.
type ProviderThresholds struct {
	Primary   WindowThresholds `json:"primary" mapstructure:"primary" yaml:"primary"`
	Secondary WindowThresholds `json:"secondary" mapstructure:"secondary" yaml:"secondary"`
}

// Window returns the settings for the given window kind.
func (p ProviderThresholds) Window(kind WindowKind) WindowThresholds {
	if kind == WindowSecondary {
		return p.Secondary
	}
	return p.Primary
}

// Normalize normalizes both windows.
func (p *ProviderThresholds) Normalize() {
	p.Primary.Normalize()
	p.Secondary.Normalize()
}

// DefaultThresholds returns the out-of-the-box threshold configuration:
// both levels disabled, at conventional 70/90 percentages.
func DefaultThresholds() ProviderThresholds {
	window := WindowThresholds{
		Warning: ThresholdSetting{Percent: 70},
		Danger:  ThresholdSetting{Percent: 90},
	}
	return ProviderThresholds{Primary: window, Secondary: window}
}
