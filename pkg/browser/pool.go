package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quotabar/quotabar/pkg/model"
)

// SessionFactory creates a session for a provider. The factory receives
// the pool's event sink so the session can emit lifecycle signals.
type SessionFactory func(ctx context.Context, p model.UsageProvider, events chan<- Event) (Session, error)

// Pool owns exactly one session per provider for the process lifetime.
type Pool struct {
	mu       sync.Mutex
	factory  SessionFactory
	sessions map[model.UsageProvider]Session
	events   chan Event
	logger   *slog.Logger
}

// NewPool returns a pool creating sessions through the given factory.
func NewPool(factory SessionFactory, logger *slog.Logger) *Pool {
	return &Pool{
		factory:  factory,
		sessions: make(map[model.UsageProvider]Session),
		events:   make(chan Event, 64),
		logger:   logger,
	}
}

// NewCDPPool returns a pool backed by a DevTools endpoint such as
// "http://127.0.0.1:9222".
func NewCDPPool(endpoint string, logger *slog.Logger) *Pool {
	var (
		mu     sync.Mutex
		client *cdpClient
	)
	factory := func(ctx context.Context, p model.UsageProvider, events chan<- Event) (Session, error) {
		mu.Lock()
		defer mu.Unlock()
		if client == nil {
			c, err := connectBrowser(ctx, endpoint)
			if err != nil {
				return nil, err
			}
			client = c
		}
		return newCDPSession(ctx, client, p, events)
	}
	return NewPool(factory, logger)
}

// GetSession returns the provider's session, creating it on first access.
// Idempotent thereafter: one session per provider until Close.
func (p *Pool) GetSession(ctx context.Context, provider model.UsageProvider) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[provider]; ok {
		return s, nil
	}
	s, err := p.factory(ctx, provider, p.events)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", provider, err)
	}
	p.sessions[provider] = s
	p.logger.Info("session created", "provider", provider)
	return s, nil
}

// Events returns the stream of session lifecycle signals.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Close tears down all sessions. Errors are logged, not returned; a
// session that fails to close cleanly dies with the process anyway.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for provider, s := range p.sessions {
		if err := s.Close(ctx); err != nil {
			p.logger.Warn("session close failed", "provider", provider, "error", err)
		}
		delete(p.sessions, provider)
	}
}
