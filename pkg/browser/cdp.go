package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// cdpMessage is a DevTools protocol frame: command, response, or event.
type cdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// cdpClient multiplexes commands and events over one browser-level
// DevTools websocket connection.
type cdpClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID  atomic.Int64
	pending sync.Map // id -> chan *cdpMessage

	handlerMu sync.RWMutex
	handlers  map[string]func(*cdpMessage) // keyed by protocol sessionID
	browser   []func(*cdpMessage)          // browser-level (target lifecycle) listeners

	closed chan struct{}
}

// connectBrowser resolves the browser-level websocket URL from the
// debugging endpoint's /json/version document and dials it.
func connectBrowser(ctx context.Context, endpoint string) (*cdpClient, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/version", nil)
	if err != nil {
		return nil, fmt.Errorf("build version request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query debugging endpoint: %w", err)
	}
	defer resp.Body.Close()

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return nil, fmt.Errorf("decode version document: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("debugging endpoint %s exposes no websocket URL", endpoint)
	}
	return dialCDP(ctx, version.WebSocketDebuggerURL)
}

func dialCDP(ctx context.Context, wsURL string) (*cdpClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools socket: %w", err)
	}
	c := &cdpClient{
		conn:     conn,
		handlers: make(map[string]func(*cdpMessage)),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// call sends a command and waits for its response. sessionID "" targets
// the browser itself.
func (c *cdpClient) call(ctx context.Context, sessionID, method string, params, result any) error {
	id := c.nextID.Add(1)

	msg := cdpMessage{ID: id, Method: method, SessionID: sessionID}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		msg.Params = raw
	}

	ch := make(chan *cdpMessage, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("devtools connection closed during %s", method)
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// onSession registers an event handler for a protocol session.
func (c *cdpClient) onSession(sessionID string, handler func(*cdpMessage)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[sessionID] = handler
}

// onBrowser registers a listener for browser-level events such as target
// creation and destruction. Every listener sees every event.
func (c *cdpClient) onBrowser(listener func(*cdpMessage)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.browser = append(c.browser, listener)
}

func (c *cdpClient) dropSession(sessionID string) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.handlers, sessionID)
}

func (c *cdpClient) readLoop() {
	defer close(c.closed)
	for {
		var msg cdpMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.ID != 0 {
			if ch, ok := c.pending.Load(msg.ID); ok {
				m := msg
				ch.(chan *cdpMessage) <- &m
			}
			continue
		}
		m := msg
		c.handlerMu.RLock()
		handler := c.handlers[msg.SessionID]
		listeners := c.browser
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(&m)
		}
		if msg.SessionID == "" {
			for _, l := range listeners {
				l(&m)
			}
		}
	}
}

func (c *cdpClient) close() error {
	return c.conn.Close()
}
