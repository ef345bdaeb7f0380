// Package stream maintains a single persistent websocket connection to the
// combined ticker stream, with a dynamic subscription set that survives
// reconnects.
package stream

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/types"
)

// State is the connection lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	methodSubscribe   = "SUBSCRIBE"
	methodUnsubscribe = "UNSUBSCRIBE"
	eventTicker24hr   = "24hrTicker"

	// tickBuffer absorbs short bursts while the consumer catches up.
	tickBuffer = 64
)

// controlMessage is the outbound subscribe/unsubscribe frame.
type controlMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// tickerEvent is the inbound 24hr ticker frame. Other event shapes fail to
// match the Event field and are ignored.
type tickerEvent struct {
	Event         string `json:"e"`
	Symbol        string `json:"s"`
	LastPrice     string `json:"c"`
	ChangePercent string `json:"P"`
}

// Conn is the subset of a websocket connection the manager uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a websocket connection to the given URL.
type Dialer interface {
	Dial(url string) (Conn, error)
}

// gorillaDialer dials with the default gorilla websocket dialer.
type gorillaDialer struct{}

func (gorillaDialer) Dial(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Manager owns the process-wide streaming connection. It tracks the set of
// subscribed symbols, re-issues subscriptions after every (re)connect, and
// converts inbound 24hr ticker events into normalized PriceTicks.
//
// Open is reentrant-safe: calling it while a connection is live or being
// established is a no-op. After a transport close or error the manager
// schedules exactly one reconnect attempt after a fixed delay, forever.
type Manager struct {
	mu sync.Mutex

	state  State
	conn   Conn
	gen    int // connection generation; stale readers are ignored
	dialer Dialer
	url    string
	quote  string

	subs   map[string]bool
	nextID int

	delay     *backoff.Backoff
	reconnect *time.Timer

	ticks chan types.PriceTick
	done  chan struct{}
	log   *logger.Logger
}

// NewManager creates a Manager for the given websocket URL and quote suffix.
// The reconnect delay is flat: every retry waits the same reconnectDelay.
func NewManager(url, quoteAsset string, reconnectDelay time.Duration, log *logger.Logger) *Manager {
	return NewManagerWithDialer(url, quoteAsset, reconnectDelay, gorillaDialer{}, log)
}

// NewManagerWithDialer creates a Manager with a custom dialer. Used in tests.
func NewManagerWithDialer(url, quoteAsset string, reconnectDelay time.Duration, dialer Dialer, log *logger.Logger) *Manager {
	return &Manager{
		state:  StateClosed,
		conn:   nil,
		gen:    0,
		dialer: dialer,
		url:    url,
		quote:  quoteAsset,
		subs:   make(map[string]bool),
		nextID: 0,
		delay: &backoff.Backoff{
			Min:    reconnectDelay,
			Max:    reconnectDelay,
			Factor: 1,
			Jitter: false,
		},
		reconnect: nil,
		ticks:     make(chan types.PriceTick, tickBuffer),
		done:      make(chan struct{}),
		log:       log,
	}
}

// Ticks returns the channel of normalized price updates.
func (m *Manager) Ticks() <-chan types.PriceTick {
	return m.ticks
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Subscriptions returns the sorted subscription set.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.subs))
	for name := range m.subs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Open establishes the connection if none is live or being established.
// A stale connection handle left by a previous session is closed first.
func (m *Manager) Open() {
	m.mu.Lock()

	if m.isShutDown() || m.state != StateClosed {
		m.mu.Unlock()

		return
	}

	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	m.state = StateConnecting
	m.gen++
	gen := m.gen

	m.mu.Unlock()

	go m.dial(gen)
}

// dial connects and, on success, replays the subscription set and starts the
// read loop. On failure it schedules a reconnect.
func (m *Manager) dial(gen int) {
	conn, err := m.dialer.Dial(m.url)

	m.mu.Lock()

	if m.isShutDown() || gen != m.gen {
		m.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}

		return
	}

	if err != nil {
		m.log.Warn("Stream dial failed",
			zap.String("url", m.url),
			zap.Error(err),
		)
		m.closeAndScheduleLocked()
		m.mu.Unlock()

		return
	}

	m.conn = conn
	m.state = StateOpen

	// Replay the full subscription surface; the set is never cleared on
	// close, so this covers both first connect and reconnect.
	for name := range m.subs {
		m.sendControlLocked(methodSubscribe, name)
	}

	m.log.Info("Stream connected",
		zap.String("url", m.url),
		zap.Int("subscriptions", len(m.subs)),
	)

	m.mu.Unlock()

	go m.readLoop(gen, conn)
}

// readLoop consumes inbound frames until the connection drops.
func (m *Manager) readLoop(gen int, conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(gen, err)

			return
		}

		m.handleMessage(payload)
	}
}

// handleMessage parses an inbound frame and emits a PriceTick for 24hr
// ticker events. Malformed frames are logged and dropped; they never affect
// connection state.
func (m *Manager) handleMessage(payload []byte) {
	var event tickerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		m.log.Warn("Dropping malformed stream message", zap.Error(err))

		return
	}

	if event.Event != eventTicker24hr {
		return
	}

	price, priceErr := strconv.ParseFloat(event.LastPrice, 64)
	change, changeErr := strconv.ParseFloat(event.ChangePercent, 64)

	if priceErr != nil || changeErr != nil {
		m.log.Warn("Dropping ticker event with unparseable numbers",
			zap.String("symbol", event.Symbol),
			zap.String("last_price", event.LastPrice),
			zap.String("change_percent", event.ChangePercent),
		)

		return
	}

	tick := types.PriceTick{
		Name:   strings.TrimSuffix(event.Symbol, m.quote),
		Price:  price,
		Change: change,
	}

	select {
	case m.ticks <- tick:
	case <-m.done:
	}
}

// handleDisconnect transitions to Closed and schedules a reconnect. A stale
// generation means a newer connection already took over.
func (m *Manager) handleDisconnect(gen int, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isShutDown() || gen != m.gen {
		return
	}

	m.log.Warn("Stream disconnected",
		zap.Error(cause),
	)

	m.closeAndScheduleLocked()
}

// closeAndScheduleLocked closes the current connection and arms the single
// reconnect timer. Overlapping closes cannot create duplicate timers because
// the pending timer is checked under the lock.
func (m *Manager) closeAndScheduleLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	m.state = StateClosed

	if m.reconnect != nil {
		return
	}

	delay := m.delay.Duration()

	m.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnect = nil
		m.mu.Unlock()

		m.Open()
	})

	m.log.Info("Stream reconnect scheduled",
		zap.Duration("delay", delay),
	)
}

// Subscribe adds the symbol to the subscription set and, if the connection
// is open, sends a subscribe frame. Duplicate calls are no-ops.
func (m *Manager) Subscribe(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs[name] {
		return
	}

	m.subs[name] = true

	if m.state == StateOpen {
		m.sendControlLocked(methodSubscribe, name)
	}
}

// Unsubscribe removes the symbol from the subscription set regardless of
// connection state. The unsubscribe frame is silently dropped when the
// connection is not open.
func (m *Manager) Unsubscribe(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subs, name)

	if m.state == StateOpen {
		m.sendControlLocked(methodUnsubscribe, name)
	}
}

// sendControlLocked writes a subscribe/unsubscribe frame. Write failures are
// logged only; the read loop notices the broken connection and reconnects.
func (m *Manager) sendControlLocked(method, name string) {
	if m.conn == nil {
		return
	}

	m.nextID++

	msg := controlMessage{
		Method: method,
		Params: []string{strings.ToLower(name+m.quote) + "@ticker"},
		ID:     m.nextID,
	}

	if err := m.conn.WriteJSON(msg); err != nil {
		m.log.Warn("Failed to send stream control message",
			zap.String("method", method),
			zap.String("symbol", name),
			zap.Error(err),
		)
	}
}

// Shutdown permanently closes the connection and stops reconnecting.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isShutDown() {
		return
	}

	close(m.done)

	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}

	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	m.state = StateClosed
	m.gen++
}

// isShutDown reports whether Shutdown has been called. Callers must hold mu.
func (m *Manager) isShutDown() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
