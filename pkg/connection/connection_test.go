package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoffAdvances(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        800 * time.Millisecond,
		Multiplier: 2,
	})

	if b.Current() != 100*time.Millisecond {
		t.Errorf("Current() = %v, want 100ms", b.Current())
	}

	b.Next()
	if b.Current() != 200*time.Millisecond {
		t.Errorf("Current() after one attempt = %v, want 200ms", b.Current())
	}

	for i := 0; i < 10; i++ {
		b.Next()
	}
	if b.Current() != 800*time.Millisecond {
		t.Errorf("Current() should cap at 800ms, got %v", b.Current())
	}
	if b.Attempts() != 11 {
		t.Errorf("Attempts() = %d, want 11", b.Attempts())
	}

	b.Reset()
	if b.Current() != 100*time.Millisecond || b.Attempts() != 0 {
		t.Error("Reset() should restore initial state")
	}
}

func TestBackoffFullJitter(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
	})

	// Full jitter draws from [0, base): every sample must be below the
	// base delay in effect when it was drawn.
	for i := 0; i < 50; i++ {
		base := b.Current()
		d := b.Next()
		if d < 0 || d >= base {
			t.Fatalf("jittered delay %v outside [0, %v)", d, base)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff()
	if b.Current() != InitialBackoff {
		t.Errorf("default initial = %v, want %v", b.Current(), InitialBackoff)
	}
}

func TestManagerConnectLifecycle(t *testing.T) {
	var transitions []string
	var mu sync.Mutex

	m := NewManager(func(ctx context.Context) error { return nil })
	m.OnStateChange(func(old, new State) {
		mu.Lock()
		transitions = append(transitions, old.String()+"->"+new.String())
		mu.Unlock()
	})

	resubscribed := make(chan string, 1)
	m.OnResubscribe(func(epoch string) { resubscribed <- epoch })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if m.State() != StateConnected {
		t.Errorf("State() = %v, want CONNECTED", m.State())
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false")
	}
	if m.Epoch() == "" {
		t.Error("Epoch() should be set after connect")
	}

	select {
	case epoch := <-resubscribed:
		if epoch != m.Epoch() {
			t.Errorf("resubscribe epoch = %q, want %q", epoch, m.Epoch())
		}
	case <-time.After(time.Second):
		t.Fatal("resubscribe signal never fired")
	}

	mu.Lock()
	want := []string{"DISCONNECTED->CONNECTING", "CONNECTING->CONNECTED"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
	mu.Unlock()

	if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}

	m.Close()
	if err := m.Connect(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Connect after Close = %v, want ErrManagerClosed", err)
	}
}

func TestManagerConnectFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	m := NewManager(func(ctx context.Context) error { return dialErr })

	if err := m.Connect(context.Background()); !errors.Is(err, dialErr) {
		t.Errorf("Connect = %v, want dial error", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", m.State())
	}
}

func TestManagerDegradedTransitions(t *testing.T) {
	m := NewManager(func(ctx context.Context) error { return nil })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	m.MarkDegraded()
	if m.State() != StateDegraded {
		t.Errorf("State() = %v, want DEGRADED", m.State())
	}
	if !m.IsConnected() {
		t.Error("degraded connection should still count as connected")
	}

	m.MarkRecovered()
	if m.State() != StateConnected {
		t.Errorf("State() = %v, want CONNECTED", m.State())
	}

	// MarkDegraded is a no-op when not connected.
	m.NotifyConnectionLost()
	m.MarkDegraded()
	if m.State() != StateReconnecting {
		t.Errorf("State() = %v, want RECONNECTING", m.State())
	}

	m.Close()
}

func TestManagerReconnects(t *testing.T) {
	var attempts atomic.Int32
	m := NewManager(func(ctx context.Context) error {
		// Initial connect succeeds, first reconnect attempt fails,
		// second succeeds.
		switch attempts.Add(1) {
		case 1:
			return nil
		case 2:
			return errors.New("transient")
		default:
			return nil
		}
	})
	m.SetBackoff(NewBackoffWithConfig(BackoffConfig{
		Initial: 5 * time.Millisecond,
		Max:     10 * time.Millisecond,
	}))
	m.StartReconnectLoop()
	defer m.Close()

	reconnected := make(chan string, 1)
	var firstEpoch string

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	firstEpoch = m.Epoch()

	m.OnConnected(func(epoch string) {
		select {
		case reconnected <- epoch:
		default:
		}
	})

	m.NotifyConnectionLost()
	if m.State() != StateReconnecting {
		t.Fatalf("State() = %v, want RECONNECTING", m.State())
	}

	select {
	case epoch := <-reconnected:
		if epoch == firstEpoch {
			t.Error("reconnect should mint a new epoch")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("never reconnected")
	}
}

func TestManagerFatalStopsRetry(t *testing.T) {
	authErr := errors.New("invalid token")
	var attempts atomic.Int32

	m := NewManager(func(ctx context.Context) error {
		if attempts.Add(1) == 1 {
			return nil
		}
		return Fatal(authErr)
	})
	m.SetBackoff(NewBackoffWithConfig(BackoffConfig{
		Initial: time.Millisecond,
		Max:     2 * time.Millisecond,
	}))
	m.StartReconnectLoop()
	defer m.Close()

	fatal := make(chan error, 1)
	m.OnFatal(func(err error) { fatal <- err })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.NotifyConnectionLost()

	select {
	case err := <-fatal:
		if !errors.Is(err, authErr) {
			t.Errorf("fatal error = %v, want wrapped auth error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fatal callback never fired")
	}

	// Give the loop a moment; it must not keep retrying.
	time.Sleep(20 * time.Millisecond)
	if got := attempts.Load(); got != 2 {
		t.Errorf("connect attempts = %d, want 2 (no retry after fatal)", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", m.State())
	}
}

func TestManagerDisconnectCancelsReconnect(t *testing.T) {
	var attempts atomic.Int32
	m := NewManager(func(ctx context.Context) error {
		attempts.Add(1)
		if attempts.Load() == 1 {
			return nil
		}
		return errors.New("still down")
	})
	m.SetBackoff(NewBackoffWithConfig(BackoffConfig{
		Initial: 50 * time.Millisecond,
		Max:     100 * time.Millisecond,
	}))
	m.StartReconnectLoop()
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.NotifyConnectionLost()
	m.Disconnect()

	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", m.State())
	}

	// The abandoned reconnect attempt must not flip the state back.
	time.Sleep(200 * time.Millisecond)
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v after disconnect, want DISCONNECTED", m.State())
	}
}

func TestFatalErrorUnwrap(t *testing.T) {
	base := errors.New("forbidden")
	err := Fatal(base)

	if !IsFatal(err) {
		t.Error("IsFatal(Fatal(err)) = false")
	}
	if !errors.Is(err, base) {
		t.Error("Fatal should wrap the base error")
	}
	if IsFatal(base) {
		t.Error("IsFatal(plain error) = true")
	}
}
