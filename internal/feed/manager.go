package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nolanmak/ThesisApp-sub002/internal/registry"
)

// ErrNotConnected is returned by Send when the channel is not open. Transport
// failures are never raised to callers any other way.
var ErrNotConnected = errors.New("feed: channel not open")

// State is the lifecycle phase of the push channel.
type State int

const (
	StateDisabled State = iota
	StateIdle
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Status is delivered to status subscribers on every transition. Terminal
// marks the one-shot "reconnect attempts exhausted" event; the caller must
// Enable() again to resume.
type Status struct {
	Connected bool
	Terminal  bool
}

// Options tune one push channel. Zero fields take the defaults below so
// tests can shrink the timers.
type Options struct {
	URL                   string
	MaxReconnectAttempts  int
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	MinConnectionInterval time.Duration
	HandshakeTimeout      time.Duration
	PingInterval          time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MinConnectionInterval <= 0 {
		o.MinConnectionInterval = 5 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// Manager owns one push channel's lifecycle: dialing, backoff reconnection,
// enable/disable gating, and fan-out of raw frames and status transitions.
//
// The socket handle is exclusively owned here; consumers only ever see
// frames and Status values. All state mutations are serialized behind mu,
// and callbacks from superseded sockets are discarded by generation check.
type Manager struct {
	opts   Options
	dialer Dialer
	clock  Clock
	logger zerolog.Logger

	frames *registry.Registry[[]byte]
	status *registry.Registry[Status]

	mu            sync.Mutex
	state         State
	attempt       int
	lastAttemptAt time.Time
	manualClose   bool
	conn          Conn
	gen           uint64
	retryTimer    Timer
	lastStatus    Status

	// writeMu serializes frame writes; gorilla allows one writer at a time.
	writeMu sync.Mutex
}

// NewManager constructs a disabled Manager. Call Enable to start connecting.
func NewManager(opts Options, dialer Dialer, clock Clock, logger zerolog.Logger) *Manager {
	opts.applyDefaults()
	if clock == nil {
		clock = SystemClock()
	}
	log := logger.With().Str("component", "feed").Str("url", opts.URL).Logger()
	return &Manager{
		opts:   opts,
		dialer: dialer,
		clock:  clock,
		logger: log,
		frames: registry.New[[]byte](log),
		status: registry.New[Status](log),
		state:  StateDisabled,
	}
}

// NewWebSocketManager wires the gorilla dialer and real clock.
func NewWebSocketManager(opts Options, logger zerolog.Logger) *Manager {
	opts.applyDefaults()
	return NewManager(opts, NewWebSocketDialer(opts.HandshakeTimeout), SystemClock(), logger)
}

// State reports the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Enable transitions out of Disabled and starts connecting. Idempotent.
func (m *Manager) Enable() {
	m.mu.Lock()
	if m.state != StateDisabled {
		m.mu.Unlock()
		return
	}
	m.state = StateIdle
	m.manualClose = false
	m.attempt = 0
	m.lastAttemptAt = time.Time{}
	m.mu.Unlock()

	m.logger.Info().Msg("channel enabled")
	m.Connect()
}

// Disable forces the socket closed, cancels any pending reconnect, and moves
// to Disabled. Idempotent.
func (m *Manager) Disable() {
	m.mu.Lock()
	if m.state == StateDisabled {
		m.mu.Unlock()
		return
	}
	m.manualClose = true
	m.cancelRetryLocked()
	conn := m.conn
	m.conn = nil
	m.state = StateDisabled
	m.gen++ // invalidate callbacks from the superseded socket
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.logger.Info().Msg("channel disabled")
	m.notifyStatus(Status{})
}

// Connect dials unless Disabled, already Connecting/Open, or called within
// MinConnectionInterval of the previous attempt.
func (m *Manager) Connect() {
	m.connect(false)
}

// Disconnect closes the socket deliberately; no reconnect is scheduled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisabled {
		m.mu.Unlock()
		return
	}
	m.manualClose = true
	m.cancelRetryLocked()
	conn := m.conn
	m.conn = nil
	m.state = StateClosing
	m.gen++
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	m.mu.Lock()
	if m.state == StateClosing {
		m.state = StateIdle
	}
	m.mu.Unlock()

	m.logger.Info().Msg("channel disconnected")
	m.notifyStatus(Status{})
}

// Send writes one frame, best effort. Returns ErrNotConnected when the
// channel is not open.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(payload); err != nil {
		return errors.Join(ErrNotConnected, err)
	}
	return nil
}

// SubscribeFrames registers a raw-frame handler. Frames from a single
// connection arrive in order; no ordering holds across a reconnect.
func (m *Manager) SubscribeFrames(handler func([]byte)) func() {
	return m.frames.Subscribe(handler)
}

// SubscribeStatus registers a status handler. The handler is invoked
// synchronously once with the current status, then on every transition.
func (m *Manager) SubscribeStatus(handler func(Status)) func() {
	m.mu.Lock()
	current := m.lastStatus
	m.mu.Unlock()
	handler(current)
	return m.status.Subscribe(handler)
}

// connect performs the dial gating. scheduled marks timer-driven retries,
// which bypass the min-connection-interval guard (that guard exists to stop
// caller thrash, not the backoff schedule).
func (m *Manager) connect(scheduled bool) {
	m.mu.Lock()
	if m.state == StateDisabled || m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	if !scheduled && !m.lastAttemptAt.IsZero() && now.Sub(m.lastAttemptAt) < m.opts.MinConnectionInterval {
		m.mu.Unlock()
		m.logger.Debug().Msg("connect suppressed by min connection interval")
		return
	}
	m.cancelRetryLocked()
	if old := m.conn; old != nil {
		// At most one live socket per manager.
		m.conn = nil
		go func() { _ = old.Close() }()
	}
	m.lastAttemptAt = now
	m.state = StateConnecting
	// A new session supersedes any earlier deliberate close: unexpected
	// closes of the connection being established must reconnect again.
	m.manualClose = false
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen)
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(ctx, m.opts.URL)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		m.state = StateIdle
		terminal := m.scheduleRetryLocked()
		if terminal {
			// Exhausted budgets park the channel in Disabled so a manual
			// Enable() resets the attempt counter and resumes.
			m.state = StateDisabled
		}
		m.mu.Unlock()
		m.logger.Warn().Err(err).Msg("connect failed")
		if terminal {
			m.notifyStatus(Status{Terminal: true})
		} else {
			m.notifyStatus(Status{})
		}
		return
	}

	m.conn = conn
	m.state = StateOpen
	m.attempt = 0
	m.mu.Unlock()

	m.logger.Info().Msg("channel open")
	m.notifyStatus(Status{Connected: true})

	go m.readLoop(conn, gen)
	if m.opts.PingInterval > 0 {
		m.schedulePing(conn, gen)
	}
}

// readLoop pumps inbound frames until the transport errors out. It runs on
// its own goroutine per connection; frame order within one connection is
// preserved because this is the only reader.
func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		if !m.isCurrent(gen) {
			return
		}
		m.frames.Notify(data)
	}
}

// schedulePing arms the next keepalive via the injected clock. The chain
// stops when the connection's generation is superseded or a ping fails (the
// read loop surfaces the close).
func (m *Manager) schedulePing(conn Conn, gen uint64) {
	m.clock.AfterFunc(m.opts.PingInterval, func() {
		if !m.isCurrent(gen) {
			return
		}
		if err := conn.Ping(m.clock.Now().Add(5 * time.Second)); err != nil {
			return
		}
		m.schedulePing(conn, gen)
	})
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// handleClose reacts to a transport-level close. A close following
// Disconnect/Disable carries a stale generation and is ignored; an
// unexpected close schedules a reconnect.
func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.state == StateDisabled {
		m.mu.Unlock()
		return
	}
	m.state = StateIdle
	terminal := false
	if !m.manualClose {
		terminal = m.scheduleRetryLocked()
	}
	if terminal {
		m.state = StateDisabled
	}
	m.mu.Unlock()

	m.logger.Warn().Err(err).Msg("channel closed")
	if terminal {
		m.notifyStatus(Status{Terminal: true})
	} else {
		m.notifyStatus(Status{})
	}
}

// scheduleRetryLocked arms the backoff timer for the next attempt. Returns
// true when the attempt budget is exhausted; the caller surfaces the
// terminal event. mu must be held.
func (m *Manager) scheduleRetryLocked() bool {
	if m.manualClose || m.state == StateDisabled {
		return false
	}
	m.attempt++
	if m.attempt > m.opts.MaxReconnectAttempts {
		m.logger.Error().Int("attempts", m.attempt-1).Msg("reconnect attempts exhausted; waiting for manual enable")
		return true
	}
	delay := NextDelay(m.attempt, m.opts.BaseDelay, m.opts.MaxDelay)
	m.cancelRetryLocked()
	m.retryTimer = m.clock.AfterFunc(delay, m.retry)
	m.logger.Info().Int("attempt", m.attempt).Dur("delay", delay).Msg("reconnect scheduled")
	return false
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.state == StateDisabled || m.manualClose {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.connect(true)
}

func (m *Manager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) notifyStatus(st Status) {
	m.mu.Lock()
	if st == m.lastStatus && !st.Terminal {
		m.mu.Unlock()
		return
	}
	m.lastStatus = st
	m.mu.Unlock()
	m.status.Notify(st)
}
