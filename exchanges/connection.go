package exchanges

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"spread-arbitrage-scanner/market"
)

const (
	DefaultRetryDelay        = 5 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
	DefaultKeepAliveInterval = 20 * time.Second

	writeWait = 10 * time.Second
)

// State is a connection manager lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Subscribed
	Receiving
	Closing
	Stopped
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Subscribed:   "subscribed",
	Receiving:    "receiving",
	Closing:      "closing",
	Stopped:      "stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ManagerOptions tunes a Manager. Zero values select the defaults.
type ManagerOptions struct {
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration
	// StaleAfter bounds how long a silent socket is trusted. Defaults to
	// three keepalive intervals.
	StaleAfter time.Duration
	// OnState, when set, is called on every state transition.
	OnState func(market.Exchange, State)
}

// Manager owns one venue WebSocket session: it dials, subscribes, keeps the
// session alive and forwards every data frame to its Sink. On any failure it
// waits RetryDelay and starts over; only cancelling the context stops it.
type Manager struct {
	adapter Adapter
	sink    Sink
	log     *logrus.Entry
	opts    ManagerOptions
	dialer  *websocket.Dialer

	state    atomic.Int32
	attempts atomic.Int64
	connects atomic.Int64
}

func NewManager(adapter Adapter, sink Sink, log *logrus.Entry, opts ManagerOptions) *Manager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Manager{
		adapter: adapter,
		sink:    sink,
		log:     log.WithField("exchange", adapter.Exchange()),
		opts:    opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

func (m *Manager) Exchange() market.Exchange { return m.adapter.Exchange() }

func (m *Manager) State() State { return State(m.state.Load()) }

// Attempts counts dials, successful or not.
func (m *Manager) Attempts() int64 { return m.attempts.Load() }

// Connects counts completed handshakes.
func (m *Manager) Connects() int64 { return m.connects.Load() }

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	if m.opts.OnState != nil {
		m.opts.OnState(m.adapter.Exchange(), s)
	}
}

// Run drives sessions until ctx is cancelled. It always returns nil once
// ctx is done; session errors are logged and retried.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Stopped)
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := m.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		m.setState(Disconnected)
		m.log.WithError(err).WithField("retry_in", m.opts.RetryDelay).Warn("connection lost")

		timer := time.NewTimer(m.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

type frame struct {
	kind int
	data []byte
	at   time.Time
	err  error
}

func (m *Manager) session(ctx context.Context) error {
	m.setState(Connecting)
	m.attempts.Add(1)
	url := m.adapter.Endpoint()
	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	m.connects.Add(1)
	m.setState(Connected)
	m.log.WithField("url", url).Info("connected")

	done := make(chan struct{})
	defer func() {
		m.setState(Closing)
		close(done)
		conn.Close()
	}()

	sub, err := json.Marshal(m.adapter.Subscription())
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	m.setState(Subscribed)

	ka := m.adapter.KeepAlive()
	if ka.Interval <= 0 {
		ka.Interval = DefaultKeepAliveInterval
	}
	stale := m.opts.StaleAfter
	if stale <= 0 {
		stale = 3 * ka.Interval
	}
	frames := make(chan frame)
	go m.read(conn, stale, frames, done)

	keepalive := time.NewTimer(ka.Interval)
	defer keepalive.Stop()
	m.setState(Receiving)

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()

		case <-keepalive.C:
			if err := m.ping(conn, ka); err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}
			keepalive.Reset(ka.Interval)

		case f := <-frames:
			if f.err != nil {
				return fmt.Errorf("read: %w", f.err)
			}
			if err := m.handle(ctx, conn, ka, f); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, conn *websocket.Conn, ka KeepAlive, f frame) error {
	if f.kind == websocket.TextMessage {
		text := bytes.TrimSpace(f.data)
		if ka.ServerPing != nil && bytes.Equal(text, ka.ServerPing) {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, ka.Reply); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
			return nil
		}
		if ka.Pong != nil && bytes.Equal(text, ka.Pong) {
			return nil
		}
	}
	err := m.sink.Publish(ctx, RawMessage{
		Exchange: m.adapter.Exchange(),
		Payload:  f.data,
		Received: f.at,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("publish: %w", err)
	}
	return err
}

func (m *Manager) ping(conn *websocket.Conn, ka KeepAlive) error {
	deadline := time.Now().Add(writeWait)
	if ka.Kind == PingFrame {
		return conn.WriteControl(websocket.PingMessage, ka.Message, deadline)
	}
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, ka.Message)
}

// read is the only reader of conn. Protocol pongs extend the read deadline.
func (m *Manager) read(conn *websocket.Conn, stale time.Duration, frames chan<- frame, done <-chan struct{}) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(stale))
	})
	for {
		conn.SetReadDeadline(time.Now().Add(stale))
		kind, data, err := conn.ReadMessage()
		select {
		case frames <- frame{kind: kind, data: data, at: time.Now(), err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}
