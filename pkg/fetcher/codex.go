package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/quotabar/quotabar/pkg/bridge"
	"github.com/quotabar/quotabar/pkg/browser"
	"github.com/quotabar/quotabar/pkg/model"
)

// The session-token endpoint has moved between these two paths over time;
// the script tries both before giving up.
const codexSessionScript = `(async () => {
  try {
    for (const path of ['/api/auth/session', '/backend-api/auth/session']) {
      const resp = await fetch(path, { credentials: 'include' });
      if (!resp.ok) continue;
      const body = await resp.json();
      if (body && body.accessToken) return { accessToken: body.accessToken };
    }
    return { accessToken: '' };
  } catch (e) {
    return { __error: 'session request failed: ' + String(e) };
  }
})()`

const codexUsageScriptTemplate = `(async () => {
  try {
    const resp = await fetch('/backend-api/wham/usage', {
      credentials: 'include',
      headers: { 'Authorization': 'Bearer %s' },
    });
    if (!resp.ok) return { __error: 'usage request failed: ' + resp.status };
    return await resp.json();
  } catch (e) {
    return { __error: 'usage request failed: ' + String(e) };
  }
})()`

const codexLoginProbeScript = `(async () => {
  try {
    const resp = await fetch('/api/auth/session', { credentials: 'include' });
    if (!resp.ok) return false;
    const body = await resp.json();
    return Boolean(body && body.accessToken);
  } catch (e) {
    return false;
  }
})()`

type codexSessionResponse struct {
	AccessToken string `json:"accessToken"`
}

type codexUsageResponse struct {
	RateLimits struct {
		Primary   *codexRateLimitWindow `json:"primary"`
		Secondary *codexRateLimitWindow `json:"secondary"`
	} `json:"rate_limits"`
}

type codexRateLimitWindow struct {
	UsedPercent   float64 `json:"used_percent"`
	WindowMinutes int64   `json:"window_minutes"`
	ResetsAt      *int64  `json:"resets_at"` // unix seconds
}

// Codex fetches ChatGPT Codex usage limits through a chatgpt.com session.
type Codex struct {
	now func() model.Timestamp
}

// NewCodex returns the Codex fetcher. clock may be nil for wall time.
func NewCodex(clock func() model.Timestamp) *Codex {
	if clock == nil {
		clock = func() model.Timestamp { return model.NewTimestamp(time.Now()) }
	}
	return &Codex{now: clock}
}

func (c *Codex) Provider() model.UsageProvider { return model.ProviderCodex }

func (c *Codex) HasValidSession(ctx context.Context, session browser.Session) bool {
	return bridge.New(session).RunBooleanScript(ctx, codexLoginProbeScript)
}

func (c *Codex) FetchUsage(ctx context.Context, session browser.Session) (*model.UsageSnapshot, error) {
	b := bridge.New(session)

	auth, err := bridge.DecodeJSONScript[codexSessionResponse](ctx, b, codexSessionScript)
	if err != nil {
		return nil, err
	}
	if auth.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	script := fmt.Sprintf(codexUsageScriptTemplate, auth.AccessToken)
	usage, err := bridge.DecodeJSONScript[codexUsageResponse](ctx, b, script)
	if err != nil {
		return nil, err
	}

	return &model.UsageSnapshot{
		Provider:    model.ProviderCodex,
		FetchedAt:   c.now(),
		Primary:     codexWindow(model.WindowPrimary, usage.RateLimits.Primary),
		Secondary:   codexWindow(model.WindowSecondary, usage.RateLimits.Secondary),
		DisplayMode: model.ModeUsed,
	}, nil
}

// codexWindow normalizes one rate-limit bucket; an unreported bucket
// stays nil.
func codexWindow(kind model.WindowKind, w *codexRateLimitWindow) *model.UsageWindow {
	if w == nil {
		return nil
	}
	out := &model.UsageWindow{
		Kind:               kind,
		UsedPercent:        w.UsedPercent,
		LimitWindowSeconds: w.WindowMinutes * 60,
	}
	if w.ResetsAt != nil {
		reset := model.NewTimestamp(time.Unix(*w.ResetsAt, 0).UTC())
		out.ResetAt = &reset
	}
	return out
}
