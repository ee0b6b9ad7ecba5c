package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Heartbeat constants.
const (
	// DefaultHeartbeatInterval is the default interval between pings.
	DefaultHeartbeatInterval = 15 * time.Second

	// DefaultDegradedAfter is the number of consecutive missed heartbeats
	// before the connection is flagged degraded.
	DefaultDegradedAfter = 2

	// DefaultFailAfter is the number of consecutive missed heartbeats
	// before the connection is considered lost.
	DefaultFailAfter = 3
)

// HeartbeatConfig configures heartbeat behavior.
type HeartbeatConfig struct {
	// Interval is the interval between pings.
	Interval time.Duration

	// DegradedAfter is the missed-heartbeat count that flags degradation.
	DegradedAfter int

	// FailAfter is the missed-heartbeat count that signals connection loss.
	FailAfter int
}

// DefaultHeartbeatConfig returns the default heartbeat configuration.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:      DefaultHeartbeatInterval,
		DegradedAfter: DefaultDegradedAfter,
		FailAfter:     DefaultFailAfter,
	}
}

// Heartbeat monitors connection liveness by sending periodic pings and
// counting consecutive intervals without a matching pong.
type Heartbeat struct {
	config HeartbeatConfig

	// Callbacks
	sendPing    func(seq uint32) error
	onDegraded  func(missed int)
	onRecovered func()
	onFailed    func()
	onLatency   func(latency time.Duration)

	// State
	sequence atomic.Uint32

	mu          sync.Mutex
	missed      int
	degraded    bool
	pendingSeq  uint32
	pendingAt   time.Time
	hasPending  bool
	lastLatency time.Duration
	running     bool
	stopCh      chan struct{}
}

// NewHeartbeat creates a heartbeat tracker. sendPing is invoked from the
// monitoring goroutine; onFailed is invoked once when FailAfter
// consecutive heartbeats are missed.
func NewHeartbeat(config HeartbeatConfig, sendPing func(seq uint32) error, onFailed func()) *Heartbeat {
	if config.Interval == 0 {
		config.Interval = DefaultHeartbeatInterval
	}
	if config.DegradedAfter == 0 {
		config.DegradedAfter = DefaultDegradedAfter
	}
	if config.FailAfter == 0 {
		config.FailAfter = DefaultFailAfter
	}

	return &Heartbeat{
		config:   config,
		sendPing: sendPing,
		onFailed: onFailed,
	}
}

// SetDegradedCallback sets callbacks for entering and leaving the
// degraded state.
func (h *Heartbeat) SetDegradedCallback(onDegraded func(missed int), onRecovered func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDegraded = onDegraded
	h.onRecovered = onRecovered
}

// SetLatencyCallback sets a callback for measured pong round trips.
func (h *Heartbeat) SetLatencyCallback(cb func(latency time.Duration)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLatency = cb
}

// Start begins the heartbeat loop. An initial ping is sent immediately.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.missed = 0
	h.degraded = false
	h.hasPending = false
	h.stopCh = make(chan struct{})
	stopCh := h.stopCh
	h.mu.Unlock()

	go h.loop(ctx, stopCh)
}

// Stop stops the heartbeat loop. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

// Pong records a pong for the given sequence number. Out-of-order pongs
// (not matching the pending ping) are ignored.
func (h *Heartbeat) Pong(seq uint32) {
	h.mu.Lock()

	if !h.hasPending || seq != h.pendingSeq {
		h.mu.Unlock()
		return
	}

	latency := time.Since(h.pendingAt)
	h.hasPending = false
	h.missed = 0
	h.lastLatency = latency
	wasDegraded := h.degraded
	h.degraded = false

	onLatency := h.onLatency
	onRecovered := h.onRecovered
	h.mu.Unlock()

	if onLatency != nil {
		onLatency(latency)
	}
	if wasDegraded && onRecovered != nil {
		onRecovered()
	}
}

// Missed returns the current consecutive missed-heartbeat count.
func (h *Heartbeat) Missed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.missed
}

// LastLatency returns the most recent measured round trip.
func (h *Heartbeat) LastLatency() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastLatency
}

func (h *Heartbeat) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.ping()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if h.tick() {
				return
			}
		}
	}
}

// tick accounts for the previous interval and sends the next ping.
// Returns true when the connection is considered lost.
func (h *Heartbeat) tick() bool {
	h.mu.Lock()

	if h.hasPending {
		h.missed++
	}
	missed := h.missed
	notifyDegraded := false
	if missed >= h.config.DegradedAfter && !h.degraded {
		h.degraded = true
		notifyDegraded = true
	}
	failed := missed >= h.config.FailAfter

	onDegraded := h.onDegraded
	onFailed := h.onFailed
	h.mu.Unlock()

	if failed {
		if onFailed != nil {
			onFailed()
		}
		return true
	}
	if notifyDegraded && onDegraded != nil {
		onDegraded(missed)
	}

	h.ping()
	return false
}

func (h *Heartbeat) ping() {
	seq := h.sequence.Add(1)

	h.mu.Lock()
	h.pendingSeq = seq
	h.pendingAt = time.Now()
	h.hasPending = true
	sendPing := h.sendPing
	h.mu.Unlock()

	if sendPing != nil {
		// Send errors are left to the read loop to detect; the missed
		// counter covers a silently failed send.
		_ = sendPing(seq)
	}
}
