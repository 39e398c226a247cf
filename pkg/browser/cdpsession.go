package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
)

const resourceRingSize = 200

// cookieSampleInterval throttles cookie-jar hashing driven by network
// events; login bursts fire dozens of responses per second.
const cookieSampleInterval = time.Second

// cdpSession implements Session over one DevTools target.
type cdpSession struct {
	client   *cdpClient
	provider model.UsageProvider

	targetID  string
	sessionID string
	events    chan<- Event

	mu            sync.Mutex
	currentURL    string
	loaded        bool
	lastReady     bool
	resources     []string
	popupTargetID string
	popupDone     bool
	cookieHash    uint64
	lastSample    time.Time
	sampling      bool
	epoch         uint64
}

func newCDPSession(ctx context.Context, client *cdpClient, provider model.UsageProvider, events chan<- Event) (*cdpSession, error) {
	var created struct {
		TargetID string `json:"targetId"`
	}
	err := client.call(ctx, "", "Target.createTarget",
		map[string]any{"url": "about:blank"}, &created)
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	var attached struct {
		SessionID string `json:"sessionId"`
	}
	err = client.call(ctx, "", "Target.attachToTarget",
		map[string]any{"targetId": created.TargetID, "flatten": true}, &attached)
	if err != nil {
		return nil, fmt.Errorf("attach to target: %w", err)
	}

	s := &cdpSession{
		client:    client,
		provider:  provider,
		targetID:  created.TargetID,
		sessionID: attached.SessionID,
		events:    events,
	}
	client.onSession(attached.SessionID, s.handleEvent)
	client.onBrowser(s.handleBrowserEvent)

	for _, domain := range []string{"Page.enable", "Network.enable", "Runtime.enable"} {
		if err := client.call(ctx, attached.SessionID, domain, nil, nil); err != nil {
			return nil, fmt.Errorf("%s: %w", domain, err)
		}
	}
	// Popup targets announce themselves through browser-level discovery.
	err = client.call(ctx, "", "Target.setDiscoverTargets", map[string]any{"discover": true}, nil)
	if err != nil {
		return nil, fmt.Errorf("enable target discovery: %w", err)
	}

	// Initial navigation to the usage page. Failure is not fatal here:
	// the session just stays non-ready until a later navigation works.
	_ = s.Navigate(ctx, provider.UsagePageURL())
	return s, nil
}

func (s *cdpSession) Provider() model.UsageProvider { return s.provider }

func (s *cdpSession) Navigate(ctx context.Context, pageURL string) error {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	s.emitReady()

	err := s.client.call(ctx, s.sessionID, "Page.navigate", map[string]any{"url": pageURL}, nil)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

func (s *cdpSession) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}

func (s *cdpSession) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

// readyLocked: load completed and the page host matches the provider's
// usage-page host. Navigating away flips this false immediately.
func (s *cdpSession) readyLocked() bool {
	if !s.loaded {
		return false
	}
	u, err := url.Parse(s.currentURL)
	if err != nil {
		return false
	}
	return u.Hostname() == s.provider.UsageHost()
}

func (s *cdpSession) CookieEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *cdpSession) Evaluate(ctx context.Context, script string) (string, error) {
	// Wrap so promise-returning payloads resolve and every result crosses
	// the boundary as one JSON string.
	expression := "(async () => JSON.stringify(await (" + script + ")))()"

	var result struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	err := s.client.call(ctx, s.sessionID, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"awaitPromise":  true,
		"returnByValue": true,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.ExceptionDetails != nil {
		return "", fmt.Errorf("script threw: %s", result.ExceptionDetails.Text)
	}
	var value string
	if err := json.Unmarshal(result.Result.Value, &value); err != nil {
		return "", fmt.Errorf("decode evaluate result: %w", err)
	}
	return value, nil
}

func (s *cdpSession) Cookies(ctx context.Context) ([]Cookie, error) {
	var result struct {
		Cookies []struct {
			Name   string `json:"name"`
			Value  string `json:"value"`
			Domain string `json:"domain"`
		} `json:"cookies"`
	}
	if err := s.client.call(ctx, s.sessionID, "Network.getCookies", nil, &result); err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	cookies := make([]Cookie, len(result.Cookies))
	for i, c := range result.Cookies {
		cookies[i] = Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain}
	}
	return cookies, nil
}

func (s *cdpSession) ResourceURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.resources))
	copy(out, s.resources)
	return out
}

func (s *cdpSession) PageHTML(ctx context.Context) (string, error) {
	return s.Evaluate(ctx, "document.documentElement.outerHTML")
}

func (s *cdpSession) HasPopup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popupTargetID != ""
}

func (s *cdpSession) ClosePopup(ctx context.Context) error {
	s.mu.Lock()
	target := s.popupTargetID
	s.popupTargetID = ""
	s.mu.Unlock()
	if target == "" {
		return nil
	}
	return s.client.call(ctx, "", "Target.closeTarget", map[string]any{"targetId": target}, nil)
}

func (s *cdpSession) Close(ctx context.Context) error {
	s.client.dropSession(s.sessionID)
	return s.client.call(ctx, "", "Target.closeTarget", map[string]any{"targetId": s.targetID}, nil)
}

func (s *cdpSession) handleEvent(msg *cdpMessage) {
	switch msg.Method {
	case "Page.frameNavigated":
		var params struct {
			Frame struct {
				ParentID string `json:"parentId"`
				URL      string `json:"url"`
			} `json:"frame"`
		}
		if json.Unmarshal(msg.Params, &params) != nil || params.Frame.ParentID != "" {
			return
		}
		s.mu.Lock()
		s.currentURL = params.Frame.URL
		s.loaded = false
		s.mu.Unlock()
		s.emitReady()

	case "Page.loadEventFired":
		s.mu.Lock()
		s.loaded = true
		s.mu.Unlock()
		s.emitReady()
		s.scheduleCookieSample(false)

	case "Network.responseReceived":
		var params struct {
			Response struct {
				URL string `json:"url"`
			} `json:"response"`
		}
		if json.Unmarshal(msg.Params, &params) != nil || params.Response.URL == "" {
			return
		}
		s.mu.Lock()
		s.resources = append(s.resources, params.Response.URL)
		if len(s.resources) > resourceRingSize {
			s.resources = s.resources[len(s.resources)-resourceRingSize:]
		}
		s.mu.Unlock()
		s.scheduleCookieSample(true)
	}
}

func (s *cdpSession) handleBrowserEvent(msg *cdpMessage) {
	switch msg.Method {
	case "Target.targetCreated":
		var params struct {
			TargetInfo struct {
				TargetID string `json:"targetId"`
				OpenerID string `json:"openerId"`
				Type     string `json:"type"`
			} `json:"targetInfo"`
		}
		if json.Unmarshal(msg.Params, &params) != nil {
			return
		}
		if params.TargetInfo.Type != "page" || params.TargetInfo.OpenerID != s.targetID {
			return
		}
		s.mu.Lock()
		s.popupTargetID = params.TargetInfo.TargetID
		s.popupDone = false
		s.mu.Unlock()

	case "Target.targetInfoChanged":
		var params struct {
			TargetInfo struct {
				TargetID string `json:"targetId"`
				URL      string `json:"url"`
			} `json:"targetInfo"`
		}
		if json.Unmarshal(msg.Params, &params) != nil {
			return
		}
		// A popup that navigates back onto the provider's host has
		// completed its login flow; the popup stays tracked so it can
		// still be dismissed.
		s.mu.Lock()
		finished := params.TargetInfo.TargetID == s.popupTargetID && s.popupTargetID != "" &&
			!s.popupDone && onProviderHost(params.TargetInfo.URL, s.provider)
		if finished {
			s.popupDone = true
		}
		s.mu.Unlock()
		if finished {
			s.emit(Event{Provider: s.provider, Type: EventPopupFinished})
		}

	case "Target.targetDestroyed":
		var params struct {
			TargetID string `json:"targetId"`
		}
		if json.Unmarshal(msg.Params, &params) != nil {
			return
		}
		s.mu.Lock()
		isPopup := params.TargetID == s.popupTargetID && s.popupTargetID != ""
		if isPopup {
			s.popupTargetID = ""
		}
		s.mu.Unlock()
		if isPopup {
			s.emit(Event{Provider: s.provider, Type: EventPopupFinished})
		}
	}
}

// scheduleCookieSample starts a cookie sample on its own goroutine. The
// jar fetch is a protocol call whose response arrives on the read loop,
// so sampling synchronously from an event handler would deadlock the
// connection until the call's timeout. At most one sample is in flight.
func (s *cdpSession) scheduleCookieSample(throttled bool) {
	s.mu.Lock()
	if s.sampling || (throttled && time.Since(s.lastSample) < cookieSampleInterval) {
		s.mu.Unlock()
		return
	}
	s.sampling = true
	s.lastSample = time.Now()
	s.mu.Unlock()
	go s.sampleCookies()
}

// sampleCookies hashes the cookie jar and bumps the epoch on change.
// There is no portable cookie-mutation event in the protocol, so the jar
// is sampled after page and (throttled) network activity.
func (s *cdpSession) sampleCookies() {
	defer func() {
		s.mu.Lock()
		s.sampling = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return
	}
	hash := hashCookies(cookies)

	s.mu.Lock()
	changed := hash != s.cookieHash
	s.cookieHash = hash
	if changed {
		s.epoch++
	}
	s.mu.Unlock()

	if changed {
		s.emit(Event{Provider: s.provider, Type: EventCookiesChanged})
	}
}

func (s *cdpSession) emitReady() {
	s.mu.Lock()
	ready := s.readyLocked()
	changed := ready != s.lastReady
	s.lastReady = ready
	s.mu.Unlock()
	if changed {
		s.emit(Event{Provider: s.provider, Type: EventReadyChanged, Ready: ready})
	}
}

// emit delivers an event without ever blocking the protocol read loop.
func (s *cdpSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func onProviderHost(rawURL string, p model.UsageProvider) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Hostname() == p.UsageHost()
}

func hashCookies(cookies []Cookie) uint64 {
	lines := make([]string, len(cookies))
	for i, c := range cookies {
		lines[i] = c.Domain + "\x00" + c.Name + "\x00" + c.Value
	}
	sort.Strings(lines)
	h := fnv.New64a()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return h.Sum64()
}
