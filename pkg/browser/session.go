// Package browser owns one persistent authenticated web session per
// provider and exposes readiness, cookie-change, and popup signals to the
// orchestrator. Sessions are driven over the DevTools protocol of an
// embedded browser running with a remote debugging endpoint.
package browser

import (
	"context"

	"github.com/quotabar/quotabar/pkg/model"
)

// Cookie is a single cookie visible to a session.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// EventType classifies pool events.
type EventType int

const (
	// EventReadyChanged fires when a session's readiness flips.
	EventReadyChanged EventType = iota
	// EventCookiesChanged fires when the session's cookie jar mutates.
	// It is edge-triggered; the epoch value is opaque.
	EventCookiesChanged
	// EventPopupFinished fires when a tracked authentication popup closes
	// or completes its login navigation.
	EventPopupFinished
)

// Event is a session lifecycle signal delivered to the orchestrator.
type Event struct {
	Provider model.UsageProvider
	Type     EventType
	Ready    bool
}

// Session is a live per-provider web session.
//
// Navigation failures clear readiness but are not raised as errors from
// the lifecycle layer; a dead session surfaces to callers as a session
// that never becomes ready.
type Session interface {
	Provider() model.UsageProvider

	// Navigate loads a URL. Readiness drops immediately and returns only
	// once the load completes on the provider's expected host.
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the last main-frame URL observed.
	CurrentURL() string

	// IsReady reports load-complete on the provider's usage-page host.
	// Every fetch must be guarded by this to avoid racing a half-loaded
	// or wrong-origin page.
	IsReady() bool

	// CookieEpoch returns a token that changes on every observed cookie
	// mutation. Opaque: compare for change, not for meaning.
	CookieEpoch() uint64

	// Evaluate runs a script in the page and returns its JSON-serialized
	// result.
	Evaluate(ctx context.Context, script string) (string, error)

	// Cookies returns the session's current cookie jar.
	Cookies(ctx context.Context) ([]Cookie, error)

	// ResourceURLs returns recently loaded network resource URLs, newest
	// last.
	ResourceURLs() []string

	// PageHTML returns the current page's serialized HTML.
	PageHTML(ctx context.Context) (string, error)

	// HasPopup reports whether an authentication popup is being tracked.
	HasPopup() bool

	// ClosePopup dismisses a tracked popup, if any.
	ClosePopup(ctx context.Context) error

	// Close tears the session down.
	Close(ctx context.Context) error
}
