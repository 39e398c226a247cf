package model

import "sort"

// WakeUpSchedule describes the fixed hours at which an external wake-up
// call should be fired for a provider. Hours are whole hours 0-23; there
// is no minute granularity.
type WakeUpSchedule struct {
	Provider  UsageProvider `json:"provider" yaml:"provider"`
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Hours     []int         `json:"hours" yaml:"hours"`
	ExtraArgs string        `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
}

// Normalize sorts hours, removes duplicates, and drops out-of-range values.
func (s *WakeUpSchedule) Normalize() {
	seen := make(map[int]bool, len(s.Hours))
	hours := s.Hours[:0]
	for _, h := range s.Hours {
		if h < 0 || h > 23 || seen[h] {
			continue
		}
		seen[h] = true
		hours = append(hours, h)
	}
	sort.Ints(hours)
	s.Hours = hours
}

// ShouldRegister reports whether the schedule warrants a registered job.
// A disabled schedule or one with no hours must never be registered;
// registering an always-idle job serves nothing.
func (s *WakeUpSchedule) ShouldRegister() bool {
	return s.Enabled && len(s.Hours) > 0
}

// Label returns the stable job identity the reconciler looks jobs up by.
func (s *WakeUpSchedule) Label() string {
	return s.Provider.AgentLabel()
}
