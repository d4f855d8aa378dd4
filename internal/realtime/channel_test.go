package realtime

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
	"github.com/jonboulle/clockwork"
)

// pushServer is a minimal websocket endpoint that hands each accepted
// connection to the test.
type pushServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted chan *websocket.Conn
}

func newPushServer(t *testing.T) *pushServer {
	ps := &pushServer{t: t, accepted: make(chan *websocket.Conn, 8)}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ps.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.mu.Unlock()
		ps.accepted <- conn
		// Keep the read side alive so control frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(ps.close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ps.accepted:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (ps *pushServer) send(t *testing.T, conn *websocket.Conn, name string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	ev := Event{Name: name, Data: data, Timestamp: time.Now()}
	msg, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func (ps *pushServer) close() {
	ps.mu.Lock()
	for _, c := range ps.conns {
		c.Close()
	}
	ps.mu.Unlock()
	ps.srv.Close()
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.ReconnectInitialDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	cfg.PingInterval = 0 // tests drive traffic explicitly
	return cfg
}

func newTestChannel(t *testing.T, url string) *Channel {
	ch := New(testConfig(url), clockwork.NewRealClock())
	t.Cleanup(ch.Close)
	return ch
}

func waitTrue(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDispatchToRegisteredHandler(t *testing.T) {
	ps := newPushServer(t)
	ch := newTestChannel(t, ps.url())

	got := make(chan StockUpdatePayload, 1)
	ch.On(EventStockUpdate, func(ev Event) {
		var p StockUpdatePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			t.Errorf("decode payload: %v", err)
			return
		}
		got <- p
	})

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := ps.waitConn(t)

	ps.send(t, conn, EventStockUpdate, StockUpdatePayload{DropID: "d1", NewStock: 3, Reason: ReasonPurchase})

	select {
	case p := <-got:
		if p.DropID != "d1" || p.NewStock != 3 {
			t.Errorf("unexpected payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	ps := newPushServer(t)
	ch := newTestChannel(t, ps.url())

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ps.waitConn(t)
	waitTrue(t, ch.IsConnected, "channel never reported connected")

	// A second Connect while connected is a no-op, not a reconnect.
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	select {
	case <-ps.accepted:
		t.Fatal("second Connect opened a new connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnReplacesHandler(t *testing.T) {
	ps := newPushServer(t)
	ch := newTestChannel(t, ps.url())

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	ch.On(EventNewDrop, func(Event) { first <- struct{}{} })
	// Registration is a set, not an add: this replaces the handler above.
	ch.On(EventNewDrop, func(Event) { second <- struct{}{} })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := ps.waitConn(t)
	ps.send(t, conn, EventNewDrop, map[string]string{"id": "d9"})

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement handler never invoked")
	}
	select {
	case <-first:
		t.Fatal("replaced handler still invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoveAllHandlersKeepsConnection(t *testing.T) {
	ps := newPushServer(t)
	ch := newTestChannel(t, ps.url())

	got := make(chan struct{}, 1)
	ch.On(EventStockUpdate, func(Event) { got <- struct{}{} })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := ps.waitConn(t)
	waitTrue(t, ch.IsConnected, "channel never reported connected")

	ch.RemoveAllHandlers()
	ps.send(t, conn, EventStockUpdate, StockUpdatePayload{DropID: "d1", NewStock: 1})

	select {
	case <-got:
		t.Fatal("detached handler still invoked")
	case <-time.After(100 * time.Millisecond):
	}
	if !ch.IsConnected() {
		t.Error("RemoveAllHandlers closed the connection")
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	ps := newPushServer(t)
	ch := newTestChannel(t, ps.url())

	connected := make(chan struct{}, 4)
	ch.OnConnect(func() { connected <- struct{}{} })
	got := make(chan struct{}, 1)
	ch.On(EventStockUpdate, func(Event) { got <- struct{}{} })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := ps.waitConn(t)
	<-connected

	// Server drops the connection; the channel must reconnect on its own
	// and fire OnConnect again.
	conn.Close()
	conn2 := ps.waitConn(t)
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect not invoked on reconnect")
	}

	ps.send(t, conn2, EventStockUpdate, StockUpdatePayload{DropID: "d1", NewStock: 2})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("events not flowing after reconnect")
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	// Point at a closed server so every dial fails.
	ps := newPushServer(t)
	url := ps.url()
	ps.srv.Close()

	cfg := testConfig(url)
	cfg.ReconnectMaxAttempts = 3
	ch := New(cfg, clockwork.NewRealClock())
	t.Cleanup(ch.Close)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitTrue(t, func() bool { return !ch.isRunning() }, "connect loop never gave up")
	if ch.IsConnected() {
		t.Error("channel claims connected after giving up")
	}
}

func TestCloseStopsChannel(t *testing.T) {
	ps := newPushServer(t)
	ch := newTestChannel(t, ps.url())

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ps.waitConn(t)
	waitTrue(t, ch.IsConnected, "channel never reported connected")

	ch.Close()
	if ch.IsConnected() {
		t.Error("channel still connected after Close")
	}
}

func TestBackoffIsBoundedExponential(t *testing.T) {
	cfg := DefaultConfig("ws://unused")
	cfg.ReconnectInitialDelay = time.Second
	cfg.ReconnectMaxDelay = 5 * time.Second
	ch := New(cfg, clockwork.NewRealClock())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := ch.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
