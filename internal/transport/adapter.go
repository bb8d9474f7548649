package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the server
	maxMessageSize = 64 * 1024

	// Bounded inbound queue drained by the single dispatch goroutine.
	// Handlers run to completion in arrival order; a full queue drops
	// the event (the REST backstop covers gaps).
	inboundQueueSize = 256

	// Reconnection is bounded with a fixed backoff; after the attempts
	// are exhausted the connection closes for good.
	maxReconnectAttempts = 5
	reconnectBackoff     = 2 * time.Second
)

// ErrAuthRequired is returned by Connect when the server rejects the
// credential during the websocket handshake.
var ErrAuthRequired = errors.New("transport: authentication required")

// ErrOffline is returned by Emit when no live connection exists. Callers
// are expected to treat this as "offline", not as a failure to surface.
var ErrOffline = errors.New("transport: no active connection")

// Credential authenticates the push connection at connect time.
type Credential struct {
	Token    string
	UserID   string
	UserName string
}

// Adapter owns the single shared push connection for the process.
// Connecting again tears down any prior connection first, so no orphaned
// sockets can accumulate. Consumers never hold a bare connection handle
// of their own; they go through Connect/Connection/Disconnect.
type Adapter struct {
	mu     sync.Mutex
	conn   *Conn
	dialer *websocket.Dialer
}

// NewAdapter creates an Adapter with the default dialer.
func NewAdapter() *Adapter {
	return &Adapter{dialer: websocket.DefaultDialer}
}

// Connect dials the push endpoint and returns the live connection.
// Any existing connection is closed first. A handshake rejected with
// 401/403 returns ErrAuthRequired.
func (a *Adapter) Connect(serverURL string, cred Credential) (*Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}

	wsURL, err := pushEndpoint(serverURL, cred)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	ws, resp, err := a.dialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthRequired
		}
		return nil, fmt.Errorf("dial push endpoint: %w", err)
	}

	conn := newConn(ws, wsURL, a.dialer)
	conn.start()
	a.conn = conn

	logger.Log.Info("push_connected", zap.String("user", cred.UserID))
	return conn, nil
}

// Connection returns the live connection, or nil when none exists.
// It never connects implicitly.
func (a *Adapter) Connection() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil && a.conn.Closed() {
		a.conn = nil
	}
	return a.conn
}

// Disconnect closes the current connection if any.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// pushEndpoint converts the http(s) base URL into the ws(s) push URL
// with the credential carried as query parameters.
func pushEndpoint(serverURL string, cred Credential) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", cred.Token)
	q.Set("user_id", cred.UserID)
	q.Set("username", cred.UserName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Conn is one live push connection: emit, subscribe, and a single
// dispatch goroutine draining the bounded inbound queue so handlers run
// to completion in arrival order.
type Conn struct {
	url    string
	dialer *websocket.Dialer

	// writeMu serializes writes to the websocket
	writeMu sync.Mutex
	ws      *websocket.Conn

	// mu guards handlers and closed
	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
	closed   bool

	inbound chan Envelope
	done    chan struct{}
}

func newConn(ws *websocket.Conn, wsURL string, dialer *websocket.Dialer) *Conn {
	return &Conn{
		url:      wsURL,
		dialer:   dialer,
		ws:       ws,
		handlers: make(map[string]map[int]Handler),
		inbound:  make(chan Envelope, inboundQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *Conn) start() {
	go c.readPump()
	go c.dispatchLoop()
	go c.pingLoop()
}

// Emit sends a command to the server. Returns ErrOffline when the
// connection is closed, so callers degrade to a no-op while offline.
func (c *Conn) Emit(event string, payload any) error {
	if c.Closed() {
		return ErrOffline
	}

	env := Envelope{Type: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return ErrOffline
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Subscribe registers a handler for one event name and returns an
// unsubscribe function. Unsubscribe removes exactly this registration
// and is safe to call more than once.
func (c *Conn) Subscribe(event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[event][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if set, ok := c.handlers[event]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.handlers, event)
			}
		}
	}
}

// Close tears the connection down and stops all goroutines. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.writeMu.Lock()
	if c.ws != nil {
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.ws.Close()
		c.ws = nil
	}
	c.writeMu.Unlock()
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readPump reads frames, parses envelopes and feeds the inbound queue.
// On read failure it attempts a bounded reconnect with fixed backoff;
// success synthesizes EventReconnected so consumers can re-fetch.
func (c *Conn) readPump() {
	for {
		ws := c.currentWS()
		if ws == nil {
			return
		}

		ws.SetReadLimit(maxMessageSize)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			ws.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if c.Closed() {
					return
				}
				logger.Log.Warn("push_read_failed", zap.Error(err))
				break
			}

			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				logger.Log.Warn("push_bad_envelope", zap.Error(err))
				continue
			}

			select {
			case c.inbound <- env:
			default:
				// Queue full: drop. The REST backstop covers gaps.
				logger.Log.Warn("push_queue_full", zap.String("event", env.Type))
			}
		}

		if !c.reconnect() {
			c.Close()
			return
		}
	}
}

// reconnect re-dials the push endpoint. Returns false once the bounded
// attempts are exhausted or the connection was closed deliberately.
func (c *Conn) reconnect() bool {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if c.Closed() {
			return false
		}
		time.Sleep(reconnectBackoff)

		ws, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			logger.Log.Warn("push_reconnect_failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		c.writeMu.Lock()
		c.ws = ws
		c.writeMu.Unlock()

		logger.Log.Info("push_reconnected", zap.Int("attempt", attempt))

		// Missed events are not replayed; tell consumers history may
		// have gaps.
		select {
		case c.inbound <- Envelope{Type: EventReconnected}:
		default:
		}
		return true
	}
	logger.Log.Error("push_reconnect_exhausted",
		zap.Int("attempts", maxReconnectAttempts))
	return false
}

func (c *Conn) currentWS() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws
}

// dispatchLoop is the single consumer of the inbound queue. Every
// handler runs to completion before the next event is processed.
func (c *Conn) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.inbound:
			for _, h := range c.handlersFor(env.Type) {
				h(env.Payload)
			}
		}
	}
}

// handlersFor snapshots the handler set so handlers may subscribe or
// unsubscribe from within a callback without deadlocking.
func (c *Conn) handlersFor(event string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.handlers[event]
	if len(set) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

// pingLoop keeps the connection alive, mirroring the server's pong
// deadline expectations.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if c.ws != nil {
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				c.ws.WriteMessage(websocket.PingMessage, nil)
			}
			c.writeMu.Unlock()
		}
	}
}
