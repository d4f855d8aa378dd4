// Package realtime maintains the persistent push subscription to the
// server. The channel guarantees delivery only for events received while
// connected; it does not replay gaps. Healing after a disconnect is the
// coordinator's job, triggered through OnConnect.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Handler consumes one push event.
type Handler func(ev Event)

// Config holds the channel's connection and reconnect parameters. These
// are configuration, not protocol.
type Config struct {
	URL                   string
	HandshakeTimeout      time.Duration
	PingInterval          time.Duration
	WriteTimeout          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int
}

// DefaultConfig mirrors the server's documented client settings.
func DefaultConfig(url string) Config {
	return Config{
		URL:                   url,
		HandshakeTimeout:      20 * time.Second,
		PingInterval:          30 * time.Second,
		WriteTimeout:          10 * time.Second,
		ReconnectInitialDelay: 1 * time.Second,
		ReconnectMaxDelay:     5 * time.Second,
		ReconnectMaxAttempts:  10,
	}
}

// Channel is one logical push subscription per client session. Construct
// an isolated instance per process (or per test); there is no package
// singleton.
type Channel struct {
	cfg   Config
	clock clockwork.Clock

	handlerMu sync.RWMutex
	handlers  map[string]Handler
	onConnect func()

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a disconnected channel.
func New(cfg Config, clock clockwork.Clock) *Channel {
	if cfg.ReconnectInitialDelay <= 0 {
		cfg.ReconnectInitialDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectInitialDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectInitialDelay
	}
	return &Channel{
		cfg:      cfg,
		clock:    clock,
		handlers: make(map[string]Handler),
	}
}

// On sets the handler for an event name. This is a set, not an add:
// registering a handler for a name that already has one replaces it, so
// there is exactly one handler per event name.
func (c *Channel) On(name string, h Handler) {
	c.handlerMu.Lock()
	c.handlers[name] = h
	c.handlerMu.Unlock()
}

// Off removes the handler for an event name.
func (c *Channel) Off(name string) {
	c.handlerMu.Lock()
	delete(c.handlers, name)
	c.handlerMu.Unlock()
}

// RemoveAllHandlers detaches every handler without closing the underlying
// connection, which persists for the session.
func (c *Channel) RemoveAllHandlers() {
	c.handlerMu.Lock()
	c.handlers = make(map[string]Handler)
	c.handlerMu.Unlock()
}

// OnConnect sets the callback invoked after every successful connect and
// reconnect. Set semantics, like On. The coordinator registers its full
// reconciliation here because events missed while disconnected are gone.
func (c *Channel) OnConnect(fn func()) {
	c.handlerMu.Lock()
	c.onConnect = fn
	c.handlerMu.Unlock()
}

// IsConnected reports the instantaneous connection status without
// blocking.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// isRunning reports whether the connection loop is alive.
func (c *Channel) isRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

// Connect starts the connection loop. Calling it while the loop is
// already running is a no-op, not a reconnect. The loop owns dialing,
// reading and backoff until ctx is cancelled or Close is called.
func (c *Channel) Connect(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		log.Debug().Msg("push channel already connected")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx)
	return nil
}

// Close tears the channel down: stops the loop, closes the socket and
// waits for the reader to exit.
func (c *Channel) Close() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.runMu.Unlock()

	cancel()
	c.closeConn()
	<-done
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer func() {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("url", c.cfg.URL).
				Msg("push channel connect failed")
			if c.cfg.ReconnectMaxAttempts > 0 && attempt >= c.cfg.ReconnectMaxAttempts {
				log.Error().Int("attempts", attempt).Msg("push channel gave up reconnecting")
				return
			}
			if !c.sleep(ctx, c.backoff(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		log.Info().Str("url", c.cfg.URL).Msg("push channel connected")

		c.handlerMu.RLock()
		onConnect := c.onConnect
		c.handlerMu.RUnlock()
		if onConnect != nil {
			onConnect()
		}

		c.readLoop(ctx, conn)
		conn.Close()
		c.setConn(nil)

		if ctx.Err() != nil {
			return
		}
		log.Warn().Msg("push channel disconnected, reconnecting")
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// readLoop reads frames until the connection fails. A ping goroutine
// keeps the connection alive; the server's pings are answered by the
// default pong handler during reads.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	pingDone := make(chan struct{})
	defer close(pingDone)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn, pingDone)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("push channel read error")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Channel) dispatch(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("push channel dropped malformed event")
		return
	}

	c.handlerMu.RLock()
	h, ok := c.handlers[ev.Name]
	c.handlerMu.RUnlock()
	if !ok {
		log.Debug().Str("event", ev.Name).Msg("no handler for push event")
		return
	}
	h(ev)
}

// backoff returns the bounded exponential delay before reconnect attempt
// n (1-based).
func (c *Channel) backoff(attempt int) time.Duration {
	d := c.cfg.ReconnectInitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.ReconnectMaxDelay {
			return c.cfg.ReconnectMaxDelay
		}
	}
	if d > c.cfg.ReconnectMaxDelay {
		d = c.cfg.ReconnectMaxDelay
	}
	return d
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	timer := c.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(conn != nil)
}

func (c *Channel) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
