package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cachewire/cachewire-go/pkg/connection"
)

// Snapshot is a point-in-time view of engine health.
type Snapshot struct {
	State connection.State
	Epoch string

	// ConnectedAt is when the current epoch began; zero while down.
	ConnectedAt time.Time
	Uptime      time.Duration

	// Reconnects counts transitions into connected after the first.
	Reconnects int

	HeartbeatLatency time.Duration
	MissedHeartbeats int

	Subscriptions       int
	ActiveSubscriptions int

	QueuedMutations  int
	PendingMutations int

	CachedResults int

	LastError   string
	LastErrorAt time.Time
}

// Healthy reports whether the connection is up with no missed
// heartbeats.
func (s Snapshot) Healthy() bool {
	return s.State == connection.StateConnected && s.MissedHeartbeats == 0
}

// Monitor collects health signals from the engine's components.
type Monitor struct {
	mu sync.Mutex

	state       connection.State
	epoch       string
	connectedAt time.Time
	connects    int

	latency time.Duration
	missed  int

	lastError   string
	lastErrorAt time.Time

	// Count providers, wired by the client.
	subscriptionCounts func() (total, active int)
	mutationCounts     func() (queued, pending int)
	cachedResults      func() int

	metrics *healthMetrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics registers health metrics with the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Monitor) {
		m.metrics = newHealthMetrics(reg)
	}
}

// NewMonitor creates a monitor in the disconnected state.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{state: connection.StateDisconnected}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSubscriptionSource wires the registry's counts.
func (m *Monitor) SetSubscriptionSource(fn func() (total, active int)) {
	m.mu.Lock()
	m.subscriptionCounts = fn
	m.mu.Unlock()
}

// SetMutationSource wires the engine's queue and pending counts.
func (m *Monitor) SetMutationSource(fn func() (queued, pending int)) {
	m.mu.Lock()
	m.mutationCounts = fn
	m.mu.Unlock()
}

// SetCacheSource wires the store's entry count.
func (m *Monitor) SetCacheSource(fn func() int) {
	m.mu.Lock()
	m.cachedResults = fn
	m.mu.Unlock()
}

// SetState records a connection state transition.
func (m *Monitor) SetState(state connection.State, epoch string) {
	reconnected := false

	m.mu.Lock()
	wasUp := m.state == connection.StateConnected || m.state == connection.StateDegraded
	m.state = state
	switch state {
	case connection.StateConnected:
		if !wasUp {
			m.connects++
			reconnected = m.connects > 1
			m.connectedAt = time.Now()
			m.epoch = epoch
			m.missed = 0
		}
	case connection.StateDegraded:
		// Connection still up; keep epoch and uptime.
	default:
		m.connectedAt = time.Time{}
	}
	m.mu.Unlock()

	m.metrics.setState(state)
	if reconnected {
		m.metrics.incReconnects()
	}
}

// RecordLatency records a heartbeat round trip.
func (m *Monitor) RecordLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.missed = 0
	m.mu.Unlock()

	m.metrics.setLatency(d)
}

// RecordMissed records the consecutive missed-heartbeat count.
func (m *Monitor) RecordMissed(n int) {
	m.mu.Lock()
	m.missed = n
	m.mu.Unlock()
}

// RecordError records the most recent error.
func (m *Monitor) RecordError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastError = err.Error()
	m.lastErrorAt = time.Now()
	m.mu.Unlock()

	m.metrics.incErrors()
}

// Snapshot assembles the current health picture.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		State:            m.state,
		Epoch:            m.epoch,
		ConnectedAt:      m.connectedAt,
		HeartbeatLatency: m.latency,
		MissedHeartbeats: m.missed,
		LastError:        m.lastError,
		LastErrorAt:      m.lastErrorAt,
	}
	if m.connects > 0 {
		s.Reconnects = m.connects - 1
	}
	if !m.connectedAt.IsZero() {
		s.Uptime = time.Since(m.connectedAt)
	}
	subsFn, mutFn, cacheFn := m.subscriptionCounts, m.mutationCounts, m.cachedResults
	m.mu.Unlock()

	if subsFn != nil {
		s.Subscriptions, s.ActiveSubscriptions = subsFn()
	}
	if mutFn != nil {
		s.QueuedMutations, s.PendingMutations = mutFn()
	}
	if cacheFn != nil {
		s.CachedResults = cacheFn()
	}
	return s
}

type healthMetrics struct {
	connectionState prometheus.Gauge
	connectionUp    prometheus.Gauge
	latencySeconds  prometheus.Gauge
	reconnects      prometheus.Counter
	errors          prometheus.Counter
}

func newHealthMetrics(reg prometheus.Registerer) *healthMetrics {
	m := &healthMetrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cachewire_connection_state",
			Help: "Connection state as an enum value (0 disconnected through 5 closed).",
		}),
		connectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cachewire_connection_up",
			Help: "1 while the connection is usable (connected or degraded).",
		}),
		latencySeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cachewire_heartbeat_latency_seconds",
			Help: "Most recent heartbeat round trip.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachewire_reconnects_total",
			Help: "Total number of successful reconnections.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachewire_errors_total",
			Help: "Total number of errors recorded by the health monitor.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionState, m.connectionUp, m.latencySeconds, m.reconnects, m.errors)
	}
	return m
}

func (m *healthMetrics) setState(state connection.State) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
	if state == connection.StateConnected || state == connection.StateDegraded {
		m.connectionUp.Set(1)
	} else {
		m.connectionUp.Set(0)
	}
}

func (m *healthMetrics) incReconnects() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *healthMetrics) setLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.latencySeconds.Set(d.Seconds())
}

func (m *healthMetrics) incErrors() {
	if m == nil {
		return
	}
	m.errors.Inc()
}
