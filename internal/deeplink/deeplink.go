// Package deeplink parses and routes quotabar:// URLs arriving from
// widgets and external scripts.
package deeplink

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/quotabar/quotabar/pkg/model"
)

// Scheme is the URL scheme the application claims.
const Scheme = "quotabar"

// Route identifies a deep-link destination.
type Route string

const (
	RouteOpenUsage      Route = "open-usage"
	RouteOpenTokenUsage Route = "open-token-usage"
)

// Link is a parsed deep link.
type Link struct {
	Route    Route
	Provider model.UsageProvider
}

// Parse resolves a raw URL into a link. Unknown schemes, routes, and
// provider ids all yield nil: deep links are fired by external surfaces
// the app cannot correct, so bad input is silently ignored rather than
// surfaced as an error.
func Parse(raw string) *Link {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != Scheme {
		return nil
	}

	route := Route(u.Host)
	if route != RouteOpenUsage && route != RouteOpenTokenUsage {
		return nil
	}

	provider, ok := model.ParseProvider(u.Query().Get("provider"))
	if !ok {
		return nil
	}
	return &Link{Route: route, Provider: provider}
}

// TapAction selects how a usage link resolves.
type TapAction string

const (
	TapOpenPage TapAction = "open_page"
	TapRefresh  TapAction = "refresh"
)

// Router dispatches parsed links according to the stored tap preference.
type Router struct {
	// Action resolves the current tap preference.
	Action func() TapAction
	// OpenPage opens a provider web page in the default browser.
	OpenPage func(ctx context.Context, url string) error
	// RefreshUsage triggers an immediate usage fetch.
	RefreshUsage func(ctx context.Context, p model.UsageProvider)
	// RefreshTokens triggers an immediate token-usage fetch.
	RefreshTokens func(ctx context.Context, p model.UsageProvider)

	Logger *slog.Logger
}

// Handle parses and dispatches one raw URL. Unroutable input is dropped.
func (r *Router) Handle(ctx context.Context, raw string) {
	link := Parse(raw)
	if link == nil {
		r.Logger.Debug("ignoring unroutable deep link", "url", raw)
		return
	}

	switch link.Route {
	case RouteOpenUsage:
		if r.Action() == TapRefresh {
			r.RefreshUsage(ctx, link.Provider)
			return
		}
		if err := r.OpenPage(ctx, link.Provider.UsagePageURL()); err != nil {
			r.Logger.Warn("opening usage page failed", "provider", link.Provider, "error", err)
		}
	case RouteOpenTokenUsage:
		if r.Action() == TapRefresh {
			r.RefreshTokens(ctx, link.Provider)
			return
		}
		if err := r.OpenPage(ctx, link.Provider.UsagePageURL()); err != nil {
			r.Logger.Warn("opening usage page failed", "provider", link.Provider, "error", err)
		}
	}
}
