package wsclient

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/secaudit/findings-relay/src/types"
)

// Reconnect backoff defaults: delay = min(base * 2^attempts, max).
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Engine maintains one logical connection to the relay across many
// physical socket lifetimes. It authenticates on every (re)connect,
// retries transport failures with exponential backoff, and dispatches
// every forwarded finding.* event to every registered subscriber in
// arrival order - including events authored by the connected user.
// Filtering out own events is a policy for the notification layer above
// (see Event.AuthoredBy); the engine never suppresses.
type Engine struct {
	url    string
	logger zerolog.Logger
	dialer *websocket.Dialer

	baseDelay    time.Duration
	maxDelay     time.Duration
	pingInterval time.Duration

	mu          sync.Mutex
	wmu         sync.Mutex // serializes writes to the live socket
	status      Status
	attempts    int
	token       string
	userID      any
	conn        *websocket.Conn
	retryTimer  *time.Timer
	gen         int // socket generation; callbacks from stale sockets are ignored
	handlers    map[int]func(Event)
	nextHandler int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBackoff overrides the reconnect delay bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(e *Engine) {
		e.baseDelay = base
		e.maxDelay = max
	}
}

// WithPingInterval enables a periodic keep-alive ping. A missing pong is
// not treated as a failure signal; only transport close or error drives
// reconnection.
func WithPingInterval(d time.Duration) Option {
	return func(e *Engine) { e.pingInterval = d }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// New creates an engine for the given ws:// URL. Nothing happens until
// Connect is called.
func New(url string, opts ...Option) *Engine {
	e := &Engine{
		url:       url,
		logger:    zerolog.Nop(),
		dialer:    websocket.DefaultDialer,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		handlers:  make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect opens the logical connection with the given bearer token. A
// call while a connect is already in flight or a socket is open is a
// no-op. Any pending retry timer is cancelled; the new attempt proceeds
// immediately.
func (e *Engine) Connect(token string) {
	e.mu.Lock()
	if e.status == StatusConnecting || e.conn != nil {
		e.logger.Debug().Msg("connect suppressed, already connected or connecting")
		e.mu.Unlock()
		return
	}
	e.stopRetryTimerLocked()
	e.token = token
	e.status = StatusConnecting
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	go e.runSocket(gen, token)
}

// Disconnect tears the logical connection down: pending retries are
// cancelled, the socket is closed, and the identity and attempt counter
// are cleared. This is the only way to definitively stop the engine.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
	e.status = StatusDisconnected
	e.token = ""
}

// Status returns the current connection status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// UserID returns the authenticated user id as sent in auth_success, or
// nil when not authenticated.
func (e *Engine) UserID() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

// Attempts returns the current reconnect attempt counter. It resets to
// zero on successful authentication and on Disconnect.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// OnEvent registers a subscriber for forwarded finding events and
// returns a handle for OffEvent.
func (e *Engine) OnEvent(fn func(Event)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextHandler
	e.nextHandler++
	e.handlers[id] = fn
	return id
}

// OffEvent removes a subscriber.
func (e *Engine) OffEvent(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, id)
}

// runSocket owns one physical socket lifetime: dial, authenticate, read
// until the transport fails.
func (e *Engine) runSocket(gen int, token string) {
	conn, resp, err := e.dialer.Dial(e.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		e.mu.Lock()
		if gen != e.gen {
			e.mu.Unlock()
			return
		}
		e.logger.Error().Err(err).Str("url", e.url).Msg("connect failed")
		e.status = StatusError
		e.scheduleReconnectLocked()
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.conn = conn
	e.mu.Unlock()

	// Authenticate immediately on open.
	if err := e.writeJSON(conn, types.ClientMessage{Type: types.TypeAuth, Token: token}); err != nil {
		conn.Close()
		e.socketClosed(gen)
		return
	}

	if e.pingInterval > 0 {
		go e.pingLoop(gen, conn)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			e.socketClosed(gen)
			return
		}
		e.handleFrame(gen, data)
	}
}

// serverFrame is the superset of every frame the relay sends.
type serverFrame struct {
	Type      string          `json:"type"`
	UserID    any             `json:"userId"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func (e *Engine) handleFrame(gen int, data []byte) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f serverFrame
	if err := dec.Decode(&f); err != nil {
		e.logger.Error().Err(err).Msg("unparseable frame from relay")
		return
	}

	switch f.Type {
	case types.TypeAuthSuccess:
		e.mu.Lock()
		if gen != e.gen {
			e.mu.Unlock()
			return
		}
		e.status = StatusAuthenticated
		e.userID = f.UserID
		e.attempts = 0
		e.mu.Unlock()
		e.logger.Info().Interface("user_id", f.UserID).Msg("authenticated")

	case types.TypeAuthError:
		// A rejected token is not retried blindly.
		e.logger.Error().Str("reason", f.Message).Msg("authentication rejected")
		e.mu.Lock()
		if gen != e.gen {
			e.mu.Unlock()
			return
		}
		e.status = StatusError
		e.teardownLocked()
		e.status = StatusDisconnected
		e.mu.Unlock()

	case types.TypeError:
		e.logger.Warn().Str("reason", f.Message).Msg("relay reported protocol error")

	case types.TypePong:
		// Heartbeat reply. Absence is deliberately not a failure signal.

	default:
		if strings.HasPrefix(f.Type, types.EventPrefix) {
			e.dispatch(Event{Type: f.Type, Data: f.Data, UserID: f.UserID, Timestamp: f.Timestamp})
		}
	}
}

// dispatch delivers an event to every registered subscriber.
func (e *Engine) dispatch(ev Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.handlers[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// socketClosed handles a transport close or error for the given socket
// generation. A close while authenticated or still connecting schedules
// a reconnect; a close initiated through Disconnect or auth rejection
// arrives with a stale generation and is ignored.
func (e *Engine) socketClosed(gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.conn = nil

	switch e.status {
	case StatusAuthenticated:
		e.logger.Warn().Msg("connection lost")
		e.status = StatusDisconnected
		e.scheduleReconnectLocked()
	case StatusConnecting:
		e.logger.Warn().Msg("connection failed before authentication")
		e.status = StatusError
		e.scheduleReconnectLocked()
	default:
		e.status = StatusDisconnected
	}
}

func (e *Engine) scheduleReconnectLocked() {
	e.stopRetryTimerLocked()
	delay := backoffDelay(e.attempts, e.baseDelay, e.maxDelay)
	e.logger.Info().
		Dur("delay", delay).
		Int("attempt", e.attempts+1).
		Msg("reconnect scheduled")
	// The timer carries the generation it was scheduled under so a
	// retry that fires during Disconnect or Connect is ignored even
	// when Stop loses the race.
	gen := e.gen
	e.retryTimer = time.AfterFunc(delay, func() { e.retry(gen) })
}

func (e *Engine) retry(gen int) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.retryTimer = nil
	e.attempts++
	if e.status == StatusConnecting || e.conn != nil {
		e.mu.Unlock()
		return
	}
	token := e.token
	e.status = StatusConnecting
	e.gen++
	next := e.gen
	e.mu.Unlock()

	go e.runSocket(next, token)
}

// teardownLocked invalidates the current socket generation, cancels any
// pending retry, closes the socket, and clears identity state.
func (e *Engine) teardownLocked() {
	e.gen++
	e.stopRetryTimerLocked()
	e.attempts = 0
	e.userID = nil
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

func (e *Engine) stopRetryTimerLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

func (e *Engine) pingLoop(gen int, conn *websocket.Conn) {
	ticker := time.NewTicker(e.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		e.mu.Lock()
		stale := gen != e.gen
		e.mu.Unlock()
		if stale {
			return
		}
		if err := e.writeJSON(conn, types.ClientMessage{Type: types.TypePing}); err != nil {
			return
		}
	}
}

func (e *Engine) writeJSON(conn *websocket.Conn, v any) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	return conn.WriteJSON(v)
}

// backoffDelay computes min(base * 2^attempt, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	d := base << uint(attempt)
	if d > max {
		return max
	}
	return d
}
