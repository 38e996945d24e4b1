package lazycord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the broker connection.
type RealtimeConfig struct {
	// URL is the broker endpoint, e.g. ws://localhost:8080/ws/chat.
	URL               string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	Topics            Topics
	// SendRate caps outgoing chat messages per second; 0 disables the limit.
	SendRate  float64
	SendBurst int
}

const (
	DefaultRealtimeURL       = "ws://localhost:8080/ws/chat"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 4 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
)

func (c *RealtimeConfig) defaults() {
	if c.URL == "" {
		c.URL = DefaultRealtimeURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	c.Topics.defaults()
	if c.SendRate > 0 && c.SendBurst <= 0 {
		c.SendBurst = 1
	}
}

// WebSocketURL derives the broker endpoint from a REST base URL.
func WebSocketURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws/chat"
}

// ============================================================================
// Connection State
// ============================================================================

// ConnectionState is the connection manager's lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateDisconnected},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnecting, StateDisconnected},
}

func canTransition(from, to ConnectionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ============================================================================
// Connection Manager
// ============================================================================

// ConnectionManager owns the single broker connection. A credential snapshot
// is taken on every attempt; when the session changes the connection is
// rebuilt, and when it is cleared the connection is closed.
//
// Drops and handshake failures are retried forever after a fixed delay. The
// only escalation is the offline status. A rejected credential is not retried.
type ConnectionManager struct {
	transport Transport
	session   SessionProvider
	registry  *SubscriptionRegistry
	loop      *EventLoop
	config    RealtimeConfig
	log       *slog.Logger
	metrics   *Metrics

	mu        sync.Mutex
	state     ConnectionState
	gen       uint64
	token     string
	conn      BrokerConn
	stopWatch chan struct{}
	retry     *time.Timer

	// outbox holds transitions not yet posted to the loop. flushMu keeps
	// them in order and is never taken while mu is held.
	outbox  []ConnectionState
	flushMu sync.Mutex

	stateObs      observers[ConnectionState]
	cancelSession func()
}

// NewConnectionManager creates a manager in the DISCONNECTED state and starts
// following session changes.
func NewConnectionManager(transport Transport, session SessionProvider, registry *SubscriptionRegistry, loop *EventLoop, config RealtimeConfig, log *slog.Logger, metrics *Metrics) *ConnectionManager {
	config.defaults()
	if log == nil {
		log = slog.Default()
	}
	m := &ConnectionManager{
		transport: transport,
		session:   session,
		registry:  registry,
		loop:      loop,
		config:    config,
		log:       log.With("component", "connection"),
		metrics:   metrics,
		state:     StateDisconnected,
	}
	m.cancelSession = session.OnChange(m.sessionChanged)
	return m
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the state is CONNECTED.
func (m *ConnectionManager) Connected() bool {
	return m.State() == StateConnected
}

// OnStateChange registers fn for every state transition. fn runs on the event loop.
func (m *ConnectionManager) OnStateChange(fn func(ConnectionState)) (cancel func()) {
	return m.stateObs.add(fn)
}

// OnStatusChange registers fn with the online/offline view of the state.
func (m *ConnectionManager) OnStatusChange(fn func(connected bool)) (cancel func()) {
	return m.stateObs.add(func(s ConnectionState) { fn(s == StateConnected) })
}

// setStateLocked applies a transition from the table and queues it for the
// observers. Callers hold m.mu and release it with unlock.
func (m *ConnectionManager) setStateLocked(to ConnectionState) bool {
	from := m.state
	if from == to {
		return false
	}
	if !canTransition(from, to) {
		m.log.Error("refused invalid connection transition", "from", from, "to", to)
		return false
	}
	m.state = to
	m.metrics.setConnected(to == StateConnected)
	m.log.Debug("connection state", "from", from, "to", to)
	m.outbox = append(m.outbox, to)
	return true
}

// unlock releases mu and then posts queued transitions to the loop.
func (m *ConnectionManager) unlock() {
	m.mu.Unlock()
	m.flushStates()
}

func (m *ConnectionManager) flushStates() {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	for {
		m.mu.Lock()
		batch := m.outbox
		m.outbox = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, to := range batch {
			to := to
			if err := m.loop.Post(func() { m.stateObs.emit(m.log, to) }); err != nil {
				m.log.Debug("state change not delivered", "state", to, "error", err)
			}
		}
	}
}

// Connect starts a connection attempt and waits for the handshake. It is a
// no-op while CONNECTED or CONNECTING, and when the session has no
// credential. A failed attempt leaves the manager RECONNECTING with a retry
// scheduled; the error is still returned.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	token := m.session.Token()
	if token == "" {
		m.mu.Unlock()
		m.log.Debug("connect skipped, no credential")
		return nil
	}
	m.stopRetryLocked()
	gen := m.beginAttemptLocked(token)
	m.unlock()

	return m.attempt(ctx, gen, token)
}

func (m *ConnectionManager) beginAttemptLocked(token string) uint64 {
	m.gen++
	m.token = token
	m.setStateLocked(StateConnecting)
	return m.gen
}

func (m *ConnectionManager) attempt(ctx context.Context, gen uint64, token string) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.config.HandshakeTimeout)
	conn, err := m.transport.Dial(dialCtx, token)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		// Superseded by Disconnect or a newer attempt.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}

	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			m.setStateLocked(StateDisconnected)
			m.unlock()
			m.log.Warn("broker rejected credential", "error", err)
			if h, ok := m.session.(AuthFailureHandler); ok {
				h.AuthFailed(err)
			}
			return err
		}
		m.setStateLocked(StateReconnecting)
		m.scheduleRetryLocked(gen)
		m.unlock()
		m.log.Warn("broker connect failed", "error", err, "retry_in", m.config.ReconnectDelay)
		return fmt.Errorf("connect: %w", err)
	}

	m.conn = conn
	m.stopWatch = make(chan struct{})
	m.setStateLocked(StateConnected)
	m.registry.Attach(conn)
	if err := m.registry.SubscribeNotifications(m.session.UserID()); err != nil {
		m.log.Warn("notification subscription failed", "error", err)
	}
	go m.watch(gen, conn, m.stopWatch)
	m.unlock()

	m.log.Info("connected to broker", "url", m.config.URL)
	return nil
}

// watch waits for the connection to end abruptly and moves to RECONNECTING.
func (m *ConnectionManager) watch(gen uint64, conn BrokerConn, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-conn.Done():
	}

	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.stopWatch = nil
	m.registry.Detach()
	m.setStateLocked(StateReconnecting)
	m.scheduleRetryLocked(gen)
	m.unlock()

	m.log.Warn("broker connection lost", "error", conn.Err(), "retry_in", m.config.ReconnectDelay)
	conn.Close()
}

func (m *ConnectionManager) scheduleRetryLocked(gen uint64) {
	m.stopRetryLocked()
	m.retry = time.AfterFunc(m.config.ReconnectDelay, func() { m.retryAttempt(gen) })
}

func (m *ConnectionManager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *ConnectionManager) retryAttempt(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	token := m.session.Token()
	if token == "" {
		m.setStateLocked(StateDisconnected)
		m.unlock()
		return
	}
	next := m.beginAttemptLocked(token)
	m.unlock()

	m.metrics.reconnect()
	m.log.Info("reconnecting to broker")
	m.attempt(context.Background(), next, token)
}

// Disconnect cancels any pending retry, closes the live connection and moves
// to DISCONNECTED. Cached store state is left alone.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	if m.state == StateDisconnected && m.conn == nil && m.retry == nil {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	m.gen++
	conn := m.conn
	m.conn = nil
	if m.stopWatch != nil {
		close(m.stopWatch)
		m.stopWatch = nil
	}
	m.registry.Detach()
	m.setStateLocked(StateDisconnected)
	m.unlock()

	if conn == nil {
		return nil
	}
	m.log.Info("disconnected from broker")
	return conn.Close()
}

// Publish hands a command to the broker without waiting for any
// acknowledgement. While not CONNECTED the command is dropped and
// ErrNotConnected returned.
func (m *ConnectionManager) Publish(destination string, body []byte, header map[string]string) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.metrics.publishDropped("disconnected")
		m.log.Debug("publish dropped while offline", "destination", destination)
		return ErrNotConnected
	}
	if err := conn.Publish(destination, body, header); err != nil {
		m.metrics.publishDropped("transport")
		return err
	}
	return nil
}

func (m *ConnectionManager) sessionChanged() {
	token := m.session.Token()
	if token == "" {
		m.Disconnect()
		return
	}

	m.mu.Lock()
	active := m.state != StateDisconnected
	current := m.token == token
	m.mu.Unlock()
	if !active || current {
		return
	}

	m.log.Info("credential changed, rebuilding connection")
	go func() {
		m.Disconnect()
		m.Connect(context.Background())
	}()
}

// Close stops following the session and disconnects.
func (m *ConnectionManager) Close() error {
	if m.cancelSession != nil {
		m.cancelSession()
	}
	return m.Disconnect()
}
