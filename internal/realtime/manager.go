// Package realtime implements the client side of the realtime protocol: one
// duplex connection per authenticated session multiplexing chat messages,
// typing indicators, presence and notifications, plus the state machines
// (conversation list, message thread, typing tracker, badge counter) that
// consume it.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/ws"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
// Retries are unbounded with no backoff; the delay is a field on Manager so
// probes and tests can shorten it.
const DefaultReconnectDelay = 5 * time.Second

// Conn is the minimal surface of a live duplex connection. Satisfied by
// gorilla's *websocket.Conn via wsConn; faked in tests.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a connection to the realtime endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the server's /ws endpoint with the session cookie.
type WebsocketDialer struct {
	URL    string
	Header http.Header
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return wsConn{conn}, nil
}

// wsConn adapts gorilla's ReadMessage signature to Conn.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) ReadMessage() ([]byte, error) {
	_, raw, err := c.Conn.ReadMessage()
	return raw, err
}

// Manager owns the single duplex connection for an authenticated session.
// It delivers every inbound frame to the handler exactly once, in arrival
// order, reconnects after a fixed delay on unexpected close, and tears down
// for good only on Close (logout). Exactly one Manager exists per session.
type Manager struct {
	dialer Dialer

	// ReconnectDelay may be set before Connect. Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration

	mu      sync.Mutex
	conn    Conn
	handler func(ws.Envelope)
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewManager(dialer Dialer) *Manager {
	return &Manager{
		dialer: dialer,
		done:   make(chan struct{}),
	}
}

var errAlreadyConnected = errors.New("realtime: manager already connected")

// Connect starts the connection loop. onEvent is invoked synchronously from
// the read goroutine for every decoded envelope, so downstream reducers see
// frames in arrival order with no interleaving. Dial failures and unexpected
// closes both go through the fixed-delay retry path; Connect itself never
// fails on an unreachable server.
func (m *Manager) Connect(onEvent func(ws.Envelope)) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errAlreadyConnected
	}
	m.started = true
	m.handler = onEvent
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
	return nil
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		if m.isClosed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := m.dialer.Dial(ctx)
		cancel()
		if err != nil {
			logger.Errorf("realtime dial: %v", err)
			if !m.sleepBeforeRetry() {
				return
			}
			continue
		}

		m.setConn(conn)
		m.readLoop(conn)
		m.setConn(nil)
		conn.Close()

		if m.isClosed() {
			return
		}
		logger.Info("realtime connection lost, reconnecting")
		if !m.sleepBeforeRetry() {
			return
		}
	}
}

// readLoop pumps frames until the connection errors out. Malformed frames are
// logged and dropped; unknown envelope types are dropped silently.
func (m *Manager) readLoop(conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := ws.Decode(raw)
		if err != nil {
			if !errors.Is(err, ws.ErrUnknownType) {
				logger.Errorf("realtime drop frame: %v", err)
			}
			continue
		}
		m.handler(env)
	}
}

func (m *Manager) sleepBeforeRetry() bool {
	delay := m.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	select {
	case <-time.After(delay):
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) setConn(c Conn) {
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
}

var errNotConnected = errors.New("realtime: not connected")

// SendTyping writes a typing indicator on the live connection. This is the
// only client-initiated envelope; message sends go through the HTTP API.
// Returns errNotConnected during a reconnect gap (typing signals are
// ephemeral, callers drop the error).
func (m *Manager) SendTyping(userID, recipientID int64, typing bool) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.WriteJSON(ws.Typing(userID, recipientID, typing))
}

// Connected reports whether a live connection currently exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Close tears the connection down deliberately (logout). No reconnect is
// scheduled; the manager cannot be restarted.
func (m *Manager) Close() {
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		return
	default:
	}
	close(m.done)
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.wg.Wait()
}
