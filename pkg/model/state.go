package model

// AutoRefreshState is the tri-state auto-refresh eligibility flag.
//
// Undetermined means "not yet established this session" and is distinct
// from Disabled: an undetermined provider that is currently visible is
// still eligible for a bootstrap fetch, while a disabled one is not. The
// only transition to Enabled is a successful fetch; the only transition
// to Disabled is an auth-class failure.
type AutoRefreshState int

const (
	AutoRefreshUndetermined AutoRefreshState = iota
	AutoRefreshEnabled
	AutoRefreshDisabled
)

func (s AutoRefreshState) String() string {
	switch s {
	case AutoRefreshEnabled:
		return "enabled"
	case AutoRefreshDisabled:
		return "disabled"
	default:
		return "undetermined"
	}
}
