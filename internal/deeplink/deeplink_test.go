package deeplink_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/quotabar/quotabar/internal/deeplink"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want *deeplink.Link
	}{
		{
			name: "open usage codex",
			raw:  "quotabar://open-usage?provider=codex",
			want: &deeplink.Link{Route: deeplink.RouteOpenUsage, Provider: model.ProviderCodex},
		},
		{
			name: "token usage with alias",
			raw:  "quotabar://open-token-usage?provider=claude-code",
			want: &deeplink.Link{Route: deeplink.RouteOpenTokenUsage, Provider: model.ProviderClaude},
		},
		{name: "unknown route", raw: "quotabar://do-something?provider=codex"},
		{name: "unknown provider", raw: "quotabar://open-usage?provider=gemini"},
		{name: "missing provider", raw: "quotabar://open-usage"},
		{name: "wrong scheme", raw: "https://open-usage?provider=codex"},
		{name: "garbage", raw: "::::"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, deeplink.Parse(tc.raw))
		})
	}
}

type routerRecorder struct {
	opened    []string
	refreshed []model.UsageProvider
	tokens    []model.UsageProvider
}

func newRouter(rec *routerRecorder, action deeplink.TapAction) *deeplink.Router {
	return &deeplink.Router{
		Action: func() deeplink.TapAction { return action },
		OpenPage: func(_ context.Context, url string) error {
			rec.opened = append(rec.opened, url)
			return nil
		},
		RefreshUsage: func(_ context.Context, p model.UsageProvider) {
			rec.refreshed = append(rec.refreshed, p)
		},
		RefreshTokens: func(_ context.Context, p model.UsageProvider) {
			rec.tokens = append(rec.tokens, p)
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRouter_OpenPagePreference(t *testing.T) {
	rec := &routerRecorder{}
	r := newRouter(rec, deeplink.TapOpenPage)

	r.Handle(context.Background(), "quotabar://open-usage?provider=claude")

	require.Len(t, rec.opened, 1)
	assert.Equal(t, model.ProviderClaude.UsagePageURL(), rec.opened[0])
	assert.Empty(t, rec.refreshed)
}

func TestRouter_RefreshPreference(t *testing.T) {
	rec := &routerRecorder{}
	r := newRouter(rec, deeplink.TapRefresh)

	r.Handle(context.Background(), "quotabar://open-usage?provider=codex")
	r.Handle(context.Background(), "quotabar://open-token-usage?provider=codex")

	assert.Empty(t, rec.opened)
	assert.Equal(t, []model.UsageProvider{model.ProviderCodex}, rec.refreshed)
	assert.Equal(t, []model.UsageProvider{model.ProviderCodex}, rec.tokens)
}

func TestRouter_IgnoresUnroutable(t *testing.T) {
	rec := &routerRecorder{}
	r := newRouter(rec, deeplink.TapOpenPage)

	r.Handle(context.Background(), "quotabar://open-usage?provider=unknown")
	r.Handle(context.Background(), "not a url")

	assert.Empty(t, rec.opened)
	assert.Empty(t, rec.refreshed)
}
