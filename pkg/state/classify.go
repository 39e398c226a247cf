package state

import (
	"errors"
	"strings"

	"github.com/quotabar/quotabar/pkg/bridge"
	"github.com/quotabar/quotabar/pkg/fetcher"
)

// authMessageMarkers are the message fragments that classify a script
// failure as an authentication problem. Matched case-insensitively.
var authMessageMarkers = []string{
	"missing access token",
	"unauthorized",
	"401",
	"403",
}

// isAuthClassError reports whether a fetch failure indicates the session
// lacks valid credentials or organization membership. Only these errors
// may disable auto-refresh; parse failures and generic HTTP errors are
// transient and must leave the tri-state untouched.
func isAuthClassError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fetcher.ErrMissingAccessToken) || errors.Is(err, fetcher.ErrMissingOrganization) {
		return true
	}
	// Shape failures are never auth-class, even when the message happens
	// to mention a status code.
	if errors.Is(err, bridge.ErrInvalidResponse) {
		return false
	}
	var scriptErr *bridge.ScriptError
	if errors.As(err, &scriptErr) {
		msg := strings.ToLower(scriptErr.Message)
		for _, marker := range authMessageMarkers {
			if strings.Contains(msg, marker) {
				return true
			}
		}
	}
	return false
}
