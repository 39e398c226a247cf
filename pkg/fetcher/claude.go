package fetcher

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/quotabar/quotabar/pkg/bridge"
	"github.com/quotabar/quotabar/pkg/browser"
	"github.com/quotabar/quotabar/pkg/model"
)

const claudeOrgCookieName = "lastActiveOrg"

// claudeOrgPattern matches an org-scoped API path wherever it appears
// (resource URLs, inline page state).
var claudeOrgPattern = regexp.MustCompile(`/api/organizations/([0-9a-fA-F-]{36})`)

const claudeUsageScriptTemplate = `(async () => {
  try {
    const resp = await fetch('/api/organizations/%s/usage', { credentials: 'include' });
    if (!resp.ok) return { __error: 'usage request failed: ' + resp.status };
    return await resp.json();
  } catch (e) {
    return { __error: 'usage request failed: ' + String(e) };
  }
})()`

const claudeLoginProbeScript = `(async () => {
  try {
    const resp = await fetch('/api/auth/current_account', { credentials: 'include' });
    return resp.ok;
  } catch (e) {
    return false;
  }
})()`

type claudeUsageResponse struct {
	FiveHour *claudeUsageWindow `json:"five_hour"`
	SevenDay *claudeUsageWindow `json:"seven_day"`
}

type claudeUsageWindow struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at"`
}

const (
	claudePrimaryWindowSeconds   = 5 * 3600
	claudeSecondaryWindowSeconds = 7 * 24 * 3600
)

// orgStrategy is one way of discovering the organization ID. Strategies
// are tried in order; first success wins. Kept as an explicit list so a
// fourth strategy slots in without restructuring.
type orgStrategy func(ctx context.Context, session browser.Session) (string, error)

// Claude fetches Claude Code usage limits through a claude.ai session.
//
// The organization ID is not consistently exposed in any single location
// across navigation states, so discovery escalates: a named cookie, then
// a scan of already-loaded resource URLs, then a scan of the raw page
// HTML.
type Claude struct {
	now        func() model.Timestamp
	strategies []orgStrategy
}

// NewClaude returns the Claude fetcher. clock may be nil for wall time.
func NewClaude(clock func() model.Timestamp) *Claude {
	if clock == nil {
		clock = func() model.Timestamp { return model.NewTimestamp(time.Now()) }
	}
	c := &Claude{now: clock}
	c.strategies = []orgStrategy{
		c.orgFromCookie,
		c.orgFromResources,
		c.orgFromHTML,
	}
	return c
}

func (c *Claude) Provider() model.UsageProvider { return model.ProviderClaude }

func (c *Claude) HasValidSession(ctx context.Context, session browser.Session) bool {
	return bridge.New(session).RunBooleanScript(ctx, claudeLoginProbeScript)
}

func (c *Claude) FetchUsage(ctx context.Context, session browser.Session) (*model.UsageSnapshot, error) {
	orgID, err := c.discoverOrganization(ctx, session)
	if err != nil {
		return nil, err
	}

	script := fmt.Sprintf(claudeUsageScriptTemplate, orgID)
	usage, err := bridge.DecodeJSONScript[claudeUsageResponse](ctx, bridge.New(session), script)
	if err != nil {
		return nil, err
	}

	primary, err := claudeWindow(model.WindowPrimary, usage.FiveHour, claudePrimaryWindowSeconds)
	if err != nil {
		return nil, err
	}
	secondary, err := claudeWindow(model.WindowSecondary, usage.SevenDay, claudeSecondaryWindowSeconds)
	if err != nil {
		return nil, err
	}

	return &model.UsageSnapshot{
		Provider:    model.ProviderClaude,
		FetchedAt:   c.now(),
		Primary:     primary,
		Secondary:   secondary,
		DisplayMode: model.ModeUsed,
	}, nil
}

func (c *Claude) discoverOrganization(ctx context.Context, session browser.Session) (string, error) {
	for _, strategy := range c.strategies {
		orgID, err := strategy(ctx, session)
		if err != nil {
			continue
		}
		if orgID != "" {
			return orgID, nil
		}
	}
	return "", ErrMissingOrganization
}

func (c *Claude) orgFromCookie(ctx context.Context, session browser.Session) (string, error) {
	cookies, err := session.Cookies(ctx)
	if err != nil {
		return "", err
	}
	for _, cookie := range cookies {
		if cookie.Name == claudeOrgCookieName && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", nil
}

func (c *Claude) orgFromResources(_ context.Context, session browser.Session) (string, error) {
	for _, resource := range session.ResourceURLs() {
		if m := claudeOrgPattern.FindStringSubmatch(resource); m != nil {
			return m[1], nil
		}
	}
	return "", nil
}

func (c *Claude) orgFromHTML(ctx context.Context, session browser.Session) (string, error) {
	html, err := session.PageHTML(ctx)
	if err != nil {
		return "", err
	}
	if m := claudeOrgPattern.FindStringSubmatch(html); m != nil {
		return m[1], nil
	}
	return "", nil
}

// claudeWindow normalizes one usage window. Reset timestamps arrive with
// inconsistent fractional-second precision; the tolerant codec handles
// that.
func claudeWindow(kind model.WindowKind, w *claudeUsageWindow, windowSeconds int64) (*model.UsageWindow, error) {
	if w == nil {
		return nil, nil
	}
	out := &model.UsageWindow{
		Kind:               kind,
		UsedPercent:        w.Utilization,
		LimitWindowSeconds: windowSeconds,
	}
	if w.ResetsAt != "" {
		parsed, err := model.ParseISO8601(w.ResetsAt)
		if err != nil {
			return nil, fmt.Errorf("%w: reset timestamp: %v", bridge.ErrInvalidResponse, err)
		}
		reset := model.NewTimestamp(parsed)
		out.ResetAt = &reset
	}
	return out, nil
}
