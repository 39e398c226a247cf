// Package state is the per-provider orchestrator: it reacts to session
// lifecycle signals, drives fetchers, classifies failures, and owns the
// auto-refresh tri-state and display-mode conversion.
package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quotabar/quotabar/pkg/browser"
	"github.com/quotabar/quotabar/pkg/fetcher"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/snapshot"
)

// redirectCooldown throttles login-redirect navigations triggered by
// cookie-change events, which fire in rapid bursts during login.
const redirectCooldown = 5 * time.Second

// FetchOutcome is the result class of the last fetch attempt.
type FetchOutcome int

const (
	FetchNotAttempted FetchOutcome = iota
	FetchSucceeded
	FetchFailed
)

// FetchStatus describes a provider's last fetch.
type FetchStatus struct {
	Outcome FetchOutcome
	At      time.Time // success instant
	Message string    // failure message
}

// ProviderState is a read-only view of one provider's orchestration state.
type ProviderState struct {
	Provider      model.UsageProvider
	Snapshot      *model.UsageSnapshot
	StatusMessage string
	IsFetching    bool
	AutoRefresh   model.AutoRefreshState
	LastFetch     FetchStatus
}

type providerState struct {
	snapshot      *model.UsageSnapshot
	statusMessage string
	fetching      bool
	autoRefresh   model.AutoRefreshState
	pendingManual bool
	lastRedirect  time.Time
	lastFetch     FetchStatus
}

// SessionSource hands out live sessions; satisfied by browser.Pool.
type SessionSource interface {
	GetSession(ctx context.Context, provider model.UsageProvider) (browser.Session, error)
}

// SnapshotStore is the persistence surface the manager needs.
type SnapshotStore interface {
	SaveUsage(snap *model.UsageSnapshot) error
	LoadUsage(p model.UsageProvider) (*model.UsageSnapshot, error)
}

// ThresholdEvaluator inspects freshly fetched snapshots; satisfied by
// notify.Engine.
type ThresholdEvaluator interface {
	Evaluate(ctx context.Context, snap *model.UsageSnapshot)
}

// HistoryRecorder appends successful fetches to a history log. Optional.
type HistoryRecorder interface {
	RecordUsage(ctx context.Context, snap *model.UsageSnapshot) error
}

// Options carries the manager's collaborators.
type Options struct {
	Sessions   SessionSource
	Fetchers   *fetcher.Registry
	Store      SnapshotStore
	Refresh    snapshot.RefreshTarget
	Thresholds ThresholdEvaluator
	History    HistoryRecorder
	Logger     *slog.Logger

	// DisplayMode is the initial persisted display mode.
	DisplayMode model.DisplayMode
	// PersistMode records a display-mode change; may be nil.
	PersistMode func(model.DisplayMode)
	// Visible resolves the currently-selected provider; may be nil.
	Visible func() model.UsageProvider

	Clock func() time.Time
}

// Manager orchestrates fetch state for all providers. All state mutation
// happens under one lock; fetches for different providers run in their
// callers' goroutines and only take the lock at their edges.
type Manager struct {
	sessions   SessionSource
	fetchers   *fetcher.Registry
	store      SnapshotStore
	refresh    snapshot.RefreshTarget
	thresholds ThresholdEvaluator
	history    HistoryRecorder
	logger     *slog.Logger

	persistMode func(model.DisplayMode)
	visible     func() model.UsageProvider
	now         func() time.Time

	mu     sync.Mutex
	mode   model.DisplayMode
	states map[model.UsageProvider]*providerState
}

// NewManager creates a manager and primes each provider's state from the
// cached snapshot, when one exists.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.DisplayMode == "" {
		opts.DisplayMode = model.ModeUsed
	}
	m := &Manager{
		sessions:    opts.Sessions,
		fetchers:    opts.Fetchers,
		store:       opts.Store,
		refresh:     opts.Refresh,
		thresholds:  opts.Thresholds,
		history:     opts.History,
		logger:      opts.Logger,
		persistMode: opts.PersistMode,
		visible:     opts.Visible,
		now:         opts.Clock,
		mode:        opts.DisplayMode,
		states:      make(map[model.UsageProvider]*providerState),
	}
	for _, p := range model.AllProviders() {
		st := &providerState{autoRefresh: model.AutoRefreshUndetermined}
		if cached, err := m.store.LoadUsage(p); err == nil {
			st.snapshot = cached
		} else if !errors.Is(err, snapshot.ErrNotFound) {
			m.logger.Warn("loading cached snapshot failed", "provider", p, "error", err)
		}
		m.states[p] = st
	}
	return m
}

// State returns a copy of the provider's current state.
func (m *Manager) State(p model.UsageProvider) ProviderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[p]
	return ProviderState{
		Provider:      p,
		Snapshot:      st.snapshot,
		StatusMessage: st.statusMessage,
		IsFetching:    st.fetching,
		AutoRefresh:   st.autoRefresh,
		LastFetch:     st.lastFetch,
	}
}

// States returns the state of every provider.
func (m *Manager) States() []ProviderState {
	out := make([]ProviderState, 0, len(model.AllProviders()))
	for _, p := range model.AllProviders() {
		out = append(out, m.State(p))
	}
	return out
}

// DisplayMode returns the current display mode.
func (m *Manager) DisplayMode() model.DisplayMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// HandleReadiness reacts to a session readiness change. A pending manual
// refresh is consumed regardless of the auto-refresh tri-state; otherwise
// a fetch proceeds only when auto-refresh is enabled, or still
// undetermined while this provider is the visible one (the bootstrap case
// before the first fetch settles the tri-state).
func (m *Manager) HandleReadiness(ctx context.Context, p model.UsageProvider, ready bool) {
	if !ready {
		return
	}

	m.mu.Lock()
	st := m.states[p]
	eligible := st.pendingManual || m.autoRefreshEligibleLocked(p, st)
	st.pendingManual = false
	m.mu.Unlock()

	if eligible {
		m.fetch(ctx, p)
	}
}

func (m *Manager) autoRefreshEligibleLocked(p model.UsageProvider, st *providerState) bool {
	switch st.autoRefresh {
	case model.AutoRefreshEnabled:
		return true
	case model.AutoRefreshUndetermined:
		return m.visible != nil && m.visible() == p
	}
	return false
}

// HandleCookiesChanged reacts to a cookie mutation. For Claude a cookie
// change during login is the only signal that credentials just became
// valid; when they did and the session is parked off the usage page, the
// session is redirected there, at most once per cooldown interval.
// Tracked authentication popups are dismissed once login is detected.
func (m *Manager) HandleCookiesChanged(ctx context.Context, p model.UsageProvider) {
	session, err := m.sessions.GetSession(ctx, p)
	if err != nil {
		m.logger.Warn("session lookup failed", "provider", p, "error", err)
		return
	}
	f, err := m.fetchers.Get(p)
	if err != nil {
		return
	}
	if !f.HasValidSession(ctx, session) {
		return
	}

	if session.HasPopup() {
		if err := session.ClosePopup(ctx); err != nil {
			m.logger.Debug("closing login popup failed", "provider", p, "error", err)
		}
	}

	if p != model.ProviderClaude {
		return
	}
	if session.CurrentURL() == p.UsagePageURL() {
		return
	}

	m.mu.Lock()
	st := m.states[p]
	if m.now().Sub(st.lastRedirect) < redirectCooldown {
		m.mu.Unlock()
		return
	}
	st.lastRedirect = m.now()
	m.mu.Unlock()

	m.logger.Info("redirecting to usage page after login", "provider", p)
	if err := session.Navigate(ctx, p.UsagePageURL()); err != nil {
		m.logger.Warn("post-login navigation failed", "provider", p, "error", err)
	}
}

// FetchNow requests a manual refresh. If the session is already ready the
// fetch starts immediately; otherwise the request is recorded and
// consumed by the next readiness signal, bypassing the auto-refresh
// eligibility check for exactly one cycle.
func (m *Manager) FetchNow(ctx context.Context, p model.UsageProvider) {
	session, err := m.sessions.GetSession(ctx, p)
	if err == nil && session.IsReady() {
		m.fetch(ctx, p)
		return
	}

	m.mu.Lock()
	m.states[p].pendingManual = true
	m.mu.Unlock()
}

// RefreshEligible runs a fetch for every provider whose session is ready
// and whose tri-state permits it. Called by the periodic refresh loop.
func (m *Manager) RefreshEligible(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range model.AllProviders() {
		m.mu.Lock()
		eligible := m.autoRefreshEligibleLocked(p, m.states[p])
		m.mu.Unlock()
		if !eligible {
			continue
		}
		wg.Add(1)
		go func(p model.UsageProvider) {
			defer wg.Done()
			m.fetch(ctx, p)
		}(p)
	}
	wg.Wait()
}

// fetch runs one complete fetch cycle for a provider. A provider already
// mid-fetch ignores the second request; different providers fetch in
// parallel.
func (m *Manager) fetch(ctx context.Context, p model.UsageProvider) {
	m.mu.Lock()
	st := m.states[p]
	if st.fetching {
		m.mu.Unlock()
		m.logger.Debug("fetch already in flight", "provider", p)
		return
	}
	st.fetching = true
	st.statusMessage = "fetching"
	mode := m.mode
	m.mu.Unlock()

	snap, err := m.doFetch(ctx, p)

	m.mu.Lock()
	st.fetching = false

	if err != nil {
		st.lastFetch = FetchStatus{Outcome: FetchFailed, Message: err.Error()}
		st.statusMessage = err.Error()
		auth := isAuthClassError(err)
		if auth {
			st.autoRefresh = model.AutoRefreshDisabled
		}
		m.mu.Unlock()
		if auth {
			m.logger.Warn("auth failure, auto-refresh disabled", "provider", p, "error", err)
		} else {
			m.logger.Warn("fetch failed", "provider", p, "error", err)
		}
		return
	}
	if snap == nil {
		// Session not ready or not logged in; status already set.
		m.mu.Unlock()
		return
	}

	// A successful fetch is the only transition into the enabled state.
	st.autoRefresh = model.AutoRefreshEnabled
	st.lastFetch = FetchStatus{Outcome: FetchSucceeded, At: m.now()}
	st.statusMessage = ""

	converted := snap.ConvertTo(mode)
	st.snapshot = converted
	m.mu.Unlock()

	// Persist, history, and threshold evaluation run outside the lock:
	// notifier sends can take seconds, and holding the lock through them
	// would stall State() and the other provider's fetch completion. The
	// fetching flag above still serializes cycles per provider.

	// Persist failure must not suppress the in-memory update: the UI
	// already reflects the fetch outcome.
	if err := m.store.SaveUsage(converted); err != nil {
		m.logger.Warn("persisting snapshot failed", "provider", p, "error", err)
	}
	if m.history != nil {
		if err := m.history.RecordUsage(ctx, snap); err != nil {
			m.logger.Warn("recording fetch history failed", "provider", p, "error", err)
		}
	}
	if m.refresh != nil {
		m.refresh.NotifyUpdated(p)
	}
	// Thresholds compare against raw used semantics, never against the
	// display-converted copy.
	if m.thresholds != nil {
		m.thresholds.Evaluate(ctx, snap)
	}
}

// doFetch performs the session and fetcher interaction without holding
// the manager lock. A nil snapshot with nil error means the cycle was
// skipped (session not ready or not logged in).
func (m *Manager) doFetch(ctx context.Context, p model.UsageProvider) (*model.UsageSnapshot, error) {
	session, err := m.sessions.GetSession(ctx, p)
	if err != nil {
		return nil, err
	}
	if !session.IsReady() {
		m.setStatus(p, "waiting for session")
		return nil, nil
	}

	f, err := m.fetchers.Get(p)
	if err != nil {
		return nil, err
	}
	if !f.HasValidSession(ctx, session) {
		m.setStatus(p, "please log in")
		return nil, nil
	}

	return f.FetchUsage(ctx, session)
}

func (m *Manager) setStatus(p model.UsageProvider, msg string) {
	m.mu.Lock()
	m.states[p].statusMessage = msg
	m.mu.Unlock()
}

// SetDisplayMode converts every cached snapshot to the new mode, persists
// the converted copies, and records the mode. Providers without a cached
// snapshot are skipped. Setting the current mode is a no-op.
func (m *Manager) SetDisplayMode(mode model.DisplayMode) {
	m.mu.Lock()
	if mode == m.mode {
		m.mu.Unlock()
		return
	}
	m.mode = mode

	type pending struct {
		p    model.UsageProvider
		snap *model.UsageSnapshot
	}
	var toPersist []pending
	for p, st := range m.states {
		if st.snapshot == nil {
			continue
		}
		converted := st.snapshot.ConvertTo(mode)
		st.snapshot = converted
		toPersist = append(toPersist, pending{p: p, snap: converted})
	}
	m.mu.Unlock()

	for _, item := range toPersist {
		if err := m.store.SaveUsage(item.snap); err != nil {
			m.logger.Warn("persisting converted snapshot failed", "provider", item.p, "error", err)
		}
		if m.refresh != nil {
			m.refresh.NotifyUpdated(item.p)
		}
	}
	if m.persistMode != nil {
		m.persistMode(mode)
	}
}

// Run consumes pool events until the context is cancelled. Intended to be
// launched as the daemon's event loop goroutine.
func (m *Manager) Run(ctx context.Context, events <-chan browser.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case browser.EventReadyChanged:
				m.HandleReadiness(ctx, ev.Provider, ev.Ready)
			case browser.EventCookiesChanged:
				m.HandleCookiesChanged(ctx, ev.Provider)
			case browser.EventPopupFinished:
				m.logger.Debug("login popup finished", "provider", ev.Provider)
			}
		}
	}
}
