// Package realtime maintains the persistent event channel to the analysis
// backend. It owns a single logical WebSocket connection and exposes a
// transport-agnostic named-event interface: subscribers register handlers per
// event name and the Manager delivers inbound events, in arrival order, from
// one read loop.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ErrNotConnected is returned by Send when the channel is down. Nothing is
// buffered: callers are expected to check IsConnected first and surface the
// condition to the user.
var ErrNotConnected = errors.New("realtime: not connected")

// handshakeTimeout bounds how long Connect waits for the server's
// connection_response frame.
const handshakeTimeout = 10 * time.Second

// redialInterval paces automatic reconnection attempts.
const redialInterval = 2 * time.Second

// Handler receives the payload of a named inbound event.
type Handler func(data json.RawMessage)

// Manager owns one logical realtime connection: it connects, re-connects
// with pacing after a drop, and dispatches inbound events to subscribers.
//
// Events for a given connection are delivered in the order the transport
// received them, from a single goroutine; handlers are never invoked
// concurrently. A synthetic "disconnect" event is delivered synchronously
// when connectivity drops, before any later frames from a new connection.
type Manager struct {
	wsURL   string
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	sid       string
	handlers  map[string]Handler
	lastErr   error
	redialing bool
	closed    bool

	// writeMu serializes writes to the current connection.
	writeMu sync.Mutex

	done chan struct{}
}

// New creates a Manager for the backend at baseURL (http or https). The
// WebSocket endpoint is derived by swapping the scheme and appending /ws.
func New(baseURL string, logger *slog.Logger) (*Manager, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a WebSocket URL
	default:
		return nil, fmt.Errorf("unsupported scheme %q in base URL", u.Scheme)
	}
	u.Path = "/ws"

	return &Manager{
		wsURL:    u.String(),
		dialer:   websocket.DefaultDialer,
		limiter:  rate.NewLimiter(rate.Every(redialInterval), 1),
		logger:   logger,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}, nil
}

// Connect establishes the channel. It is idempotent: if the channel is
// already up (or a background reconnect is in progress) it returns nil
// immediately. On failure connectivity stays false, the error is recorded,
// and background redialing takes over; the error is still returned so the
// caller can tell the user.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("realtime: manager closed")
	}
	if m.connected || m.redialing {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		m.dispatch(EventConnectError, mustJSON(ErrorData{Message: err.Error()}))
		m.startRedial()
		return err
	}
	return nil
}

// IsConnected reports current connectivity. It flips synchronously as
// connect and disconnect are observed.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// ConnectionID returns the identifier assigned on the current connection,
// or "" when disconnected. A fresh identifier is assigned on every
// reconnect; stale identifiers are never reused.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sid
}

// LastError returns the most recent connection error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Send emits a named event over the channel. It is fire-and-forget: there is
// no buffering, and ErrNotConnected is returned when the channel is down.
func (m *Manager) Send(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	if !m.connected || conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.mu.Unlock()

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = b
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// On registers the handler for a named event. One handler per event name is
// active at a time: re-subscribing replaces the previous handler.
// Subscriptions survive reconnects.
func (m *Manager) On(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = h
}

// Off removes the handler for a named event.
func (m *Manager) Off(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, event)
}

// Close tears the channel down and stops background reconnection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.connected = false
	m.sid = ""
	m.mu.Unlock()

	close(m.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// dial performs one connection attempt: WebSocket dial plus the
// connection_response handshake that assigns the connection identifier.
func (m *Manager) dial(ctx context.Context) error {
	conn, _, err := m.dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		m.recordError(err)
		return fmt.Errorf("websocket connect: %w", err)
	}

	// The first frame must be the handshake carrying the connection
	// identifier; without it uploads cannot be correlated.
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		err = fmt.Errorf("handshake read: %w", err)
		m.recordError(err)
		return err
	}
	conn.SetReadDeadline(time.Time{})

	frame, err := ParseFrame(raw)
	if err != nil || frame.Event != EventConnectionResponse {
		conn.Close()
		err = fmt.Errorf("handshake: expected %s frame: %w", EventConnectionResponse, err)
		m.recordError(err)
		return err
	}

	var resp ConnectionResponseData
	if frame.Data != nil {
		if err := json.Unmarshal(frame.Data, &resp); err != nil {
			conn.Close()
			err = fmt.Errorf("handshake payload: %w", err)
			m.recordError(err)
			return err
		}
	}
	if resp.SID == "" {
		// Server did not assign one; generate locally so uploads can
		// still be correlated.
		resp.SID = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return errors.New("realtime: manager closed")
	}
	m.conn = conn
	m.connected = true
	m.sid = resp.SID
	m.lastErr = nil
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("channel connected", "sid", resp.SID)
	}

	go m.readLoop(conn)
	m.dispatch(EventConnect, mustJSON(resp))
	return nil
}

// readLoop reads frames from one connection until it fails, then reports the
// drop and hands off to the redial loop.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, err)
			return
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("dropping malformed frame", "error", err)
			}
			continue
		}
		m.dispatch(frame.Event, frame.Data)
	}
}

// handleDrop flips connectivity off and delivers the disconnect pseudo-event
// before any frames from a later connection can be observed.
func (m *Manager) handleDrop(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// A newer connection already replaced this one.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connected = false
	m.sid = ""
	m.lastErr = err
	closed := m.closed
	m.mu.Unlock()

	conn.Close()

	if m.logger != nil && !closed {
		m.logger.Warn("channel disconnected", "error", err)
	}

	m.dispatch(EventDisconnect, nil)

	if !closed {
		m.startRedial()
	}
}

// startRedial launches the background reconnect loop if one isn't running.
func (m *Manager) startRedial() {
	m.mu.Lock()
	if m.closed || m.redialing || m.connected {
		m.mu.Unlock()
		return
	}
	m.redialing = true
	m.mu.Unlock()

	go m.redialLoop()
}

// redialLoop retries the connection, paced by the rate limiter, until it
// succeeds or the manager is closed.
func (m *Manager) redialLoop() {
	defer func() {
		m.mu.Lock()
		m.redialing = false
		m.mu.Unlock()
	}()

	for {
		select {
		case <-m.done:
			return
		default:
		}

		r := m.limiter.Reserve()
		select {
		case <-time.After(r.Delay()):
		case <-m.done:
			r.Cancel()
			return
		}

		if err := m.dial(context.Background()); err != nil {
			if m.logger != nil {
				m.logger.Debug("reconnect attempt failed", "error", err)
			}
			m.dispatch(EventConnectError, mustJSON(ErrorData{Message: err.Error()}))
			continue
		}
		return
	}
}

// dispatch delivers an event to its subscriber, if any. Called from at most
// one goroutine at a time for a given connection, preserving arrival order.
func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	h := m.handlers[event]
	m.mu.Unlock()

	if h != nil {
		h(data)
	}
}

// recordError stores the most recent connection error.
func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// mustJSON marshals a payload that cannot fail.
func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
