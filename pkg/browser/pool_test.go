package browser_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/quotabar/quotabar/pkg/browser"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	provider model.UsageProvider
	closed   bool
}

func (s *stubSession) Provider() model.UsageProvider              { return s.provider }
func (s *stubSession) Navigate(context.Context, string) error     { return nil }
func (s *stubSession) CurrentURL() string                         { return "" }
func (s *stubSession) IsReady() bool                              { return false }
func (s *stubSession) CookieEpoch() uint64                        { return 0 }
func (s *stubSession) Evaluate(context.Context, string) (string, error) {
	return "", io.EOF
}
func (s *stubSession) Cookies(context.Context) ([]browser.Cookie, error) { return nil, nil }
func (s *stubSession) ResourceURLs() []string                            { return nil }
func (s *stubSession) PageHTML(context.Context) (string, error)          { return "", nil }
func (s *stubSession) HasPopup() bool                                    { return false }
func (s *stubSession) ClosePopup(context.Context) error                  { return nil }
func (s *stubSession) Close(context.Context) error {
	s.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_GetSessionIsIdempotent(t *testing.T) {
	created := 0
	factory := func(_ context.Context, p model.UsageProvider, _ chan<- browser.Event) (browser.Session, error) {
		created++
		return &stubSession{provider: p}, nil
	}
	pool := browser.NewPool(factory, testLogger())
	ctx := context.Background()

	first, err := pool.GetSession(ctx, model.ProviderCodex)
	require.NoError(t, err)
	second, err := pool.GetSession(ctx, model.ProviderCodex)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, created)

	_, err = pool.GetSession(ctx, model.ProviderClaude)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

func TestPool_CloseTearsDownSessions(t *testing.T) {
	var sessions []*stubSession
	factory := func(_ context.Context, p model.UsageProvider, _ chan<- browser.Event) (browser.Session, error) {
		s := &stubSession{provider: p}
		sessions = append(sessions, s)
		return s, nil
	}
	pool := browser.NewPool(factory, testLogger())
	ctx := context.Background()

	_, err := pool.GetSession(ctx, model.ProviderCodex)
	require.NoError(t, err)
	_, err = pool.GetSession(ctx, model.ProviderClaude)
	require.NoError(t, err)

	pool.Close(ctx)
	for _, s := range sessions {
		assert.True(t, s.closed, "session %s not closed", s.provider)
	}

	// A session requested after Close is created fresh.
	_, err = pool.GetSession(ctx, model.ProviderCodex)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
}
