package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer is a minimal in-process backend for the channel protocol: it
// upgrades /ws, sends the connection_response handshake, and hands the
// server side of each connection to the test.
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	dials    int
	sendSID  bool
	sidBase  string
	connCh   chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		sendSID: true,
		sidBase: "test-sid",
		connCh:  make(chan *websocket.Conn, 4),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string { return s.srv.URL }

func (s *wsServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.dials++
	n := s.dials
	sendSID := s.sendSID
	s.mu.Unlock()

	payload := map[string]any{"status": "connected"}
	if sendSID {
		payload["sid"] = fmt.Sprintf("%s-%d", s.sidBase, n)
	}
	conn.WriteJSON(map[string]any{"event": EventConnectionResponse, "data": payload})

	s.connCh <- conn
}

func (s *wsServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// accept returns the server side of the next accepted connection.
func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.connCh:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for a connection")
		return nil
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("server write %s: %v", event, err)
	}
}

func newTestManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	m, err := New(baseURL, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool, description string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", description)
}

func TestConnectHandshake(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv.url())

	var connectData ConnectionResponseData
	var mu sync.Mutex
	m.On(EventConnect, func(data json.RawMessage) {
		mu.Lock()
		json.Unmarshal(data, &connectData)
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer srv.accept(t).Close()

	if !m.IsConnected() {
		t.Error("expected connected state after Connect")
	}
	if got := m.ConnectionID(); got != "test-sid-1" {
		t.Errorf("ConnectionID = %q, want test-sid-1", got)
	}
	mu.Lock()
	if connectData.SID != "test-sid-1" {
		t.Errorf("connect event SID = %q, want test-sid-1", connectData.SID)
	}
	mu.Unlock()
}

func TestConnectIdempotent(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv.url())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer srv.accept(t).Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if got := srv.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
}

func TestConnectGeneratesIDWhenServerOmitsIt(t *testing.T) {
	srv := newWSServer(t)
	srv.mu.Lock()
	srv.sendSID = false
	srv.mu.Unlock()
	m := newTestManager(t, srv.url())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer srv.accept(t).Close()

	if m.ConnectionID() == "" {
		t.Error("expected a locally generated connection ID")
	}
}

func TestConnectFailure(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1")

	var gotErr bool
	var mu sync.Mutex
	m.On(EventConnectError, func(data json.RawMessage) {
		mu.Lock()
		gotErr = true
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if m.IsConnected() {
		t.Error("expected disconnected state after failure")
	}
	if m.LastError() == nil {
		t.Error("expected LastError to be recorded")
	}
	mu.Lock()
	if !gotErr {
		t.Error("expected connect_error event")
	}
	mu.Unlock()
}

func TestSendWhenDisconnected(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv.url())

	if err := m.Send(EventMessage, OutboundMessage{Content: "hi"}); err != ErrNotConnected {
		t.Errorf("Send while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestSendAndReceive(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv.url())

	var received []string
	var mu sync.Mutex
	m.On(EventMessage, func(data json.RawMessage) {
		var d MessageData
		json.Unmarshal(data, &d)
		mu.Lock()
		received = append(received, d.Content)
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := srv.accept(t)
	defer conn.Close()

	if err := m.Send(EventMessage, OutboundMessage{Content: "question", ImagePath: "/srv/p.jpg"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if frame.Event != EventMessage {
		t.Errorf("server saw event %q, want message", frame.Event)
	}
	var out OutboundMessage
	if err := json.Unmarshal(frame.Data, &out); err != nil || out.Content != "question" || out.ImagePath != "/srv/p.jpg" {
		t.Errorf("server saw payload %s", frame.Data)
	}

	// Inbound frames are dispatched in arrival order.
	sendFrame(t, conn, EventMessage, MessageData{Content: "first"})
	sendFrame(t, conn, EventMessage, MessageData{Content: "second"})

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, "both inbound messages")

	mu.Lock()
	defer mu.Unlock()
	if received[0] != "first" || received[1] != "second" {
		t.Errorf("received order = %v", received)
	}
}

func TestDisconnectEventAndReconnect(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv.url())

	var disconnects int
	var mu sync.Mutex
	m.On(EventDisconnect, func(json.RawMessage) {
		mu.Lock()
		disconnects++
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	firstSID := m.ConnectionID()

	// Kill the connection server-side; the client must observe the drop
	// and redial on its own.
	srv.accept(t).Close()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnects == 1
	}, "disconnect event")

	waitFor(t, 10*time.Second, m.IsConnected, "automatic reconnect")
	defer srv.accept(t).Close()

	if got := m.ConnectionID(); got == firstSID || got == "" {
		t.Errorf("ConnectionID after reconnect = %q, want a fresh ID (old was %q)", got, firstSID)
	}
	if srv.dialCount() != 2 {
		t.Errorf("dial count = %d, want 2", srv.dialCount())
	}
}

func TestConnectionIDClearedWhileDown(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv.url())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := srv.accept(t)

	conn.Close()

	waitFor(t, 2*time.Second, func() bool { return !m.IsConnected() }, "drop observed")
	if got := m.ConnectionID(); got != "" {
		t.Errorf("ConnectionID while down = %q, want empty", got)
	}
}

func TestOffRemovesHandler(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv.url())

	var calls int
	var mu sync.Mutex
	m.On(EventTyping, func(json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	m.Off(EventTyping)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := srv.accept(t)
	defer conn.Close()

	sendFrame(t, conn, EventTyping, TypingData{Status: true})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("removed handler called %d times", calls)
	}
}

func TestNewRejectsBadScheme(t *testing.T) {
	if _, err := New("ftp://example.com", nil); err == nil {
		t.Error("expected an error for an unsupported scheme")
	}
	m, err := New("https://example.com", nil)
	if err != nil {
		t.Fatalf("New failed for https: %v", err)
	}
	m.Close()
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv.url())

	var received []string
	var mu sync.Mutex
	m.On(EventMessage, func(data json.RawMessage) {
		var d MessageData
		json.Unmarshal(data, &d)
		mu.Lock()
		received = append(received, d.Content)
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := srv.accept(t)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	sendFrame(t, conn, EventMessage, MessageData{Content: "after garbage"})

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == "after garbage"
	}, "frame after malformed input")
}
