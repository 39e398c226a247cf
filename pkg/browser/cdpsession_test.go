package browser_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/quotabar/quotabar/pkg/browser"
	"github.com/quotabar/quotabar/pkg/model"
)

// fakeDevTools is a minimal DevTools endpoint: it answers every command
// immediately and lets tests push protocol events onto the wire.
type fakeDevTools struct {
	srv   *httptest.Server
	ready chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeDevTools(t *testing.T) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{ready: make(chan struct{})}

	var upgrader websocket.Upgrader
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/devtools"
		json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/devtools", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.ready)
		f.serve(conn)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// serve replies to commands on the caller's goroutine. Page.navigate
// additionally emits the frame-navigated and load events a real browser
// would produce.
func (f *fakeDevTools) serve(conn *websocket.Conn) {
	for {
		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		result := map[string]any{}
		switch msg.Method {
		case "Target.createTarget":
			result["targetId"] = "target-1"
		case "Target.attachToTarget":
			result["sessionId"] = "session-1"
		case "Network.getCookies":
			result["cookies"] = []map[string]string{
				{"name": "sessionKey", "value": "tok", "domain": "claude.ai"},
			}
		}
		f.push(map[string]any{"id": msg.ID, "sessionId": msg.SessionID, "result": result})

		if msg.Method == "Page.navigate" {
			var nav struct {
				URL string `json:"url"`
			}
			_ = json.Unmarshal(msg.Params, &nav)
			f.push(map[string]any{
				"method":    "Page.frameNavigated",
				"sessionId": "session-1",
				"params":    map[string]any{"frame": map[string]any{"url": nav.URL}},
			})
			f.push(map[string]any{
				"method":    "Page.loadEventFired",
				"sessionId": "session-1",
				"params":    map[string]any{},
			})
		}
	}
}

func (f *fakeDevTools) push(frame map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.WriteJSON(frame)
}

// pushEvent blocks until the socket is up, then emits a browser-level
// protocol event.
func (f *fakeDevTools) pushEvent(t *testing.T, method string, params map[string]any) {
	t.Helper()
	select {
	case <-f.ready:
	case <-time.After(time.Second):
		t.Fatal("devtools socket never connected")
	}
	f.push(map[string]any{"method": method, "params": params})
}

func waitForEvent(t *testing.T, events <-chan browser.Event, want browser.EventType) browser.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %v never arrived", want)
		}
	}
}

func TestCDPSession_CookieChangeSignalSurvivesReadLoop(t *testing.T) {
	f := newFakeDevTools(t)
	pool := browser.NewCDPPool(f.srv.URL, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.GetSession(ctx, model.ProviderClaude)
	require.NoError(t, err)

	// The load event triggers a cookie sample, whose Network.getCookies
	// response travels over the same connection; the non-empty jar must
	// surface as a cookie-change event well inside the sample timeout.
	waitForEvent(t, pool.Events(), browser.EventCookiesChanged)
}

func TestCDPSession_PopupLoginNavigationFinishes(t *testing.T) {
	f := newFakeDevTools(t)
	pool := browser.NewCDPPool(f.srv.URL, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.GetSession(ctx, model.ProviderClaude)
	require.NoError(t, err)

	f.pushEvent(t, "Target.targetCreated", map[string]any{
		"targetInfo": map[string]any{
			"targetId": "popup-1",
			"openerId": "target-1",
			"type":     "page",
			"url":      "about:blank",
		},
	})
	// Off-host OAuth hop: not finished yet.
	f.pushEvent(t, "Target.targetInfoChanged", map[string]any{
		"targetInfo": map[string]any{
			"targetId": "popup-1",
			"url":      "https://accounts.example.com/authorize",
		},
	})
	// Back on the provider host: login flow complete.
	f.pushEvent(t, "Target.targetInfoChanged", map[string]any{
		"targetInfo": map[string]any{
			"targetId": "popup-1",
			"url":      model.ProviderClaude.UsagePageURL(),
		},
	})

	waitForEvent(t, pool.Events(), browser.EventPopupFinished)
}
