// Package fetcher turns a live, authenticated web session into a
// normalized usage snapshot, encapsulating each provider's credential
// discovery and API shape.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/quotabar/quotabar/pkg/browser"
	"github.com/quotabar/quotabar/pkg/model"
)

// ErrMissingAccessToken indicates the Codex session endpoint returned no
// bearer token. Raised before the usage endpoint is ever called.
var ErrMissingAccessToken = errors.New("fetcher: missing access token")

// ErrMissingOrganization indicates no Claude organization ID could be
// discovered by any strategy. Structurally different from an HTTP error:
// it generally means the user has no organization membership yet, so
// retrying is pointless and auto-refresh should stop.
var ErrMissingOrganization = errors.New("fetcher: missing organization")

// Fetcher is a provider-specific usage source.
type Fetcher interface {
	Provider() model.UsageProvider

	// HasValidSession probes whether the session is logged in. Must fail
	// closed: if the state cannot be determined, report false.
	HasValidSession(ctx context.Context, session browser.Session) bool

	// FetchUsage performs the authenticated usage-API call and returns a
	// normalized snapshot in used semantics. Windows the backend does not
	// report stay nil.
	FetchUsage(ctx context.Context, session browser.Session) (*model.UsageSnapshot, error)
}

// Registry holds the fetcher for each provider.
type Registry struct {
	fetchers map[model.UsageProvider]Fetcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[model.UsageProvider]Fetcher)}
}

// DefaultRegistry returns a registry with the built-in fetchers.
func DefaultRegistry(clock func() model.Timestamp) *Registry {
	r := NewRegistry()
	_ = r.Register(NewCodex(clock))
	_ = r.Register(NewClaude(clock))
	return r
}

// Register adds a fetcher. Duplicate registrations are an error.
func (r *Registry) Register(f Fetcher) error {
	if _, exists := r.fetchers[f.Provider()]; exists {
		return fmt.Errorf("fetcher for %s already registered", f.Provider())
	}
	r.fetchers[f.Provider()] = f
	return nil
}

// Get returns the fetcher for a provider.
func (r *Registry) Get(p model.UsageProvider) (Fetcher, error) {
	f, ok := r.fetchers[p]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for %s", p)
	}
	return f, nil
}
