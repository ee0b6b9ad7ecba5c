package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// connectTimeout bounds a single reconnection attempt.
const connectTimeout = 30 * time.Second

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection and no retry in
	// progress.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active, healthy connection.
	StateConnected

	// StateDegraded indicates an active connection with missed
	// heartbeats. Still usable, flagged to the health monitor.
	StateDegraded

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the connection manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDegraded:
		return "DEGRADED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// FatalError marks a connection failure that must not be retried,
// such as an authorization rejection.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal connection error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps an error so the manager stops retrying on it.
func Fatal(err error) error {
	return &FatalError{Err: err}
}

// IsFatal returns true if err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ConnectFunc is called to establish a connection.
// Return a Fatal-wrapped error to stop the retry loop.
type ConnectFunc func(ctx context.Context) error

// Manager manages the lifecycle of the single logical stream connection:
// state transitions, reconnection with backoff, connection epochs, and
// the resubscribe signal.
type Manager struct {
	mu sync.RWMutex

	// Current state
	state State

	// Epoch of the current (or most recent) connection
	epoch string

	// Backoff calculator
	backoff *Backoff

	// Connection function
	connectFn ConnectFunc

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for the reconnection goroutine
	wg sync.WaitGroup

	// Channel to signal reconnection should start
	reconnectCh chan struct{}

	// Generation counter; bumped by Disconnect to abandon an in-flight
	// reconnect attempt.
	generation uint64

	// Callbacks
	onStateChange  func(oldState, newState State)
	onConnected    func(epoch string)
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
	onResubscribe  func(epoch string)
	onFatal        func(err error)
}

// NewManager creates a new connection manager.
func NewManager(connectFn ConnectFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		state:       StateDisconnected,
		backoff:     NewBackoff(),
		connectFn:   connectFn,
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
	}
}

// SetBackoff replaces the backoff calculator. Must be called before
// Connect.
func (m *Manager) SetBackoff(b *Backoff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoff = b
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true while a connection is usable
// (connected or degraded).
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected || m.state == StateDegraded
}

// Epoch returns the id of the current connection epoch. Empty before the
// first successful connection.
func (m *Manager) Epoch() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Connect initiates a connection.
// Emits the resubscribe signal on success.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected, StateDegraded:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	}

	oldState := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateConnecting)

	// Attempt connection
	err := m.connectFn(ctx)

	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		onFatal := m.onFatal
		m.mu.Unlock()

		m.notifyStateChange(StateConnecting, StateDisconnected)
		if IsFatal(err) && onFatal != nil {
			onFatal(err)
		}
		return err
	}

	m.becomeConnected(StateConnecting)
	return nil
}

// becomeConnected transitions into the connected state: mints a new
// epoch, resets backoff, and emits connected + resubscribe signals.
func (m *Manager) becomeConnected(oldState State) {
	m.mu.Lock()
	m.state = StateConnected
	m.epoch = uuid.NewString()
	epoch := m.epoch
	m.backoff.Reset()
	onConnected := m.onConnected
	onResubscribe := m.onResubscribe
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateConnected)
	if onConnected != nil {
		onConnected(epoch)
	}
	if onResubscribe != nil {
		onResubscribe(epoch)
	}
}

// Disconnect stops the connection and any pending reconnection attempts.
// No further retries happen until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	m.state = StateDisconnected
	m.generation++
	onDisconnected := m.onDisconnected
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateDisconnected)
	if onDisconnected != nil {
		onDisconnected()
	}
}

// MarkDegraded flags the active connection as degraded (missed
// heartbeats). No-op unless currently connected.
func (m *Manager) MarkDegraded() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDegraded
	m.mu.Unlock()

	m.notifyStateChange(StateConnected, StateDegraded)
}

// MarkRecovered clears the degraded flag after heartbeats resume.
func (m *Manager) MarkRecovered() {
	m.mu.Lock()
	if m.state != StateDegraded {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.mu.Unlock()

	m.notifyStateChange(StateDegraded, StateConnected)
}

// NotifyConnectionLost should be called when a connection loss is
// detected (transport error or heartbeat failure). Triggers automatic
// reconnection.
func (m *Manager) NotifyConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected && m.state != StateDegraded {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	m.state = StateReconnecting
	onDisconnected := m.onDisconnected
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateReconnecting)
	if onDisconnected != nil {
		onDisconnected()
	}

	m.triggerReconnect()
}

// StartReconnectLoop starts the background reconnection loop.
// Must be called once before reconnection will work.
func (m *Manager) StartReconnectLoop() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close shuts down the connection manager. Terminal.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateClosed)

	m.cancel()
	m.wg.Wait()
}

// triggerReconnect signals that reconnection should be attempted.
func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

// reconnectLoop runs in a goroutine and handles reconnection attempts.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect performs reconnection with backoff until it succeeds,
// hits a fatal error, or is abandoned (Disconnect/Close).
func (m *Manager) attemptReconnect() {
	m.mu.RLock()
	generation := m.generation
	m.mu.RUnlock()

	for {
		m.mu.RLock()
		state := m.state
		abandoned := m.generation != generation
		m.mu.RUnlock()

		if state != StateReconnecting || abandoned {
			return
		}

		// Get next backoff delay
		delay := m.backoff.Next()
		attempts := m.backoff.Attempts()

		m.mu.RLock()
		onReconnecting := m.onReconnecting
		m.mu.RUnlock()
		if onReconnecting != nil {
			onReconnecting(attempts, delay)
		}

		// Wait for backoff delay
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		state = m.state
		abandoned = m.generation != generation
		m.mu.RUnlock()
		if state != StateReconnecting || abandoned {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, connectTimeout)
		err := m.connectFn(ctx)
		cancel()

		if err == nil {
			m.mu.RLock()
			abandoned = m.generation != generation || m.state != StateReconnecting
			m.mu.RUnlock()
			if abandoned {
				return
			}
			m.becomeConnected(StateReconnecting)
			return
		}

		if IsFatal(err) {
			m.mu.Lock()
			oldState := m.state
			m.state = StateDisconnected
			onFatal := m.onFatal
			m.mu.Unlock()

			m.notifyStateChange(oldState, StateDisconnected)
			if onFatal != nil {
				onFatal(err)
			}
			return
		}

		// Transient failure - continue looping with next backoff
	}
}

func (m *Manager) notifyStateChange(oldState, newState State) {
	m.mu.RLock()
	onStateChange := m.onStateChange
	m.mu.RUnlock()
	if onStateChange != nil {
		onStateChange(oldState, newState)
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connection. The callback
// receives the new connection epoch.
func (m *Manager) OnConnected(fn func(epoch string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for disconnection.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for reconnection attempts.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnResubscribe sets the callback emitted on every transition into
// connected, after OnConnected. The subscription registry uses it to
// re-arm registrations against the new epoch.
func (m *Manager) OnResubscribe(fn func(epoch string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResubscribe = fn
}

// OnFatal sets a callback for fatal connection errors (retry stopped).
func (m *Manager) OnFatal(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFatal = fn
}

// BackoffAttempts returns the current number of reconnection attempts.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}
