package subscription

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cachewire/cachewire-go/pkg/model"
)

// Sender sends listen/unlisten requests over the active connection.
// Implemented by the client's wire layer.
type Sender interface {
	// SendListen requests change events for an entity type.
	SendListen(subscriptionID string, entityType model.EntityType, filter string) error

	// SendUnlisten cancels a listen registration.
	SendUnlisten(subscriptionID string) error
}

// Registry tracks logical subscriptions and keeps the backend's listen
// set accurate across reconnects.
type Registry struct {
	mu sync.Mutex

	// Registered subscriptions by id
	subs map[string]*Subscription

	// Registration order, preserved for dispatch and resubscription
	order []*Subscription

	// Active connection sender, nil while disconnected
	sender Sender

	maxSubscriptions int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:             make(map[string]*Subscription),
		maxSubscriptions: DefaultMaxSubscriptions,
	}
}

// SetMaxSubscriptions overrides the registration limit.
func (r *Registry) SetMaxSubscriptions(max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if max > 0 {
		r.maxSubscriptions = max
	}
}

// Register adds a subscription and returns its owning handle.
// If the connection is up, the remote listen request is sent
// immediately; otherwise the subscription stays pending until the next
// resubscribe signal.
func (r *Registry) Register(config Config) (*Handle, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		config: config,
		status: StatusPending,
	}

	r.mu.Lock()
	if len(r.subs) >= r.maxSubscriptions {
		r.mu.Unlock()
		return nil, ErrResourceExhausted
	}
	r.subs[sub.id] = sub
	r.order = append(r.order, sub)
	sender := r.sender
	r.mu.Unlock()

	if sender != nil {
		// Send errors leave the subscription pending; the reconnect
		// path re-sends listens for everything still registered.
		_ = sender.SendListen(sub.id, config.EntityType, config.ServerFilter)
	}

	return &Handle{registry: r, sub: sub}, nil
}

// Ack records the backend's response to a listen request. A nil reason
// marks the subscription active; otherwise the subscription enters the
// error state and the rejection is delivered to its owner as a
// distinguished error event.
func (r *Registry) Ack(subscriptionID string, reason error) {
	r.mu.Lock()
	sub, ok := r.subs[subscriptionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	if reason == nil {
		sub.setStatus(StatusActive)
		return
	}

	sub.setStatus(StatusError)
	sub.deliver(Delivery{Err: reason})
}

// Dispatch delivers a change event to every matching subscription,
// synchronously and in registration order. Returns the number of
// subscriptions the event was delivered to.
//
// Dispatch must be called from a single goroutine (the dispatch loop);
// the one-at-a-time discipline is what keeps event side effects ordered.
func (r *Registry) Dispatch(ev *model.ChangeEvent) int {
	r.mu.Lock()
	matched := make([]*Subscription, 0, 4)
	for _, sub := range r.order {
		if sub.Status() != StatusError && sub.matches(ev) {
			matched = append(matched, sub)
		}
	}
	r.mu.Unlock()

	// Callbacks run outside the lock so they may call back into the
	// registry (e.g. release themselves).
	for _, sub := range matched {
		sub.deliver(Delivery{Event: ev})
	}
	return len(matched)
}

// Resubscribe re-sends listen requests for every registered
// subscription, in registration order. Called on every transition into
// connected.
func (r *Registry) Resubscribe(sender Sender) {
	r.mu.Lock()
	r.sender = sender
	subs := make([]*Subscription, len(r.order))
	copy(subs, r.order)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.setStatus(StatusPending)
		if sender != nil {
			_ = sender.SendListen(sub.id, sub.config.EntityType, sub.config.ServerFilter)
		}
	}
}

// Disconnected clears the sender and moves all registrations back to
// pending. Registrations themselves survive; the wire state does not.
func (r *Registry) Disconnected() {
	r.mu.Lock()
	r.sender = nil
	subs := make([]*Subscription, len(r.order))
	copy(subs, r.order)
	r.mu.Unlock()

	for _, sub := range subs {
		if sub.Status() != StatusError {
			sub.setStatus(StatusPending)
		}
	}
}

// Count returns the number of registered subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// ActiveCount returns the number of acknowledged subscriptions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	subs := make([]*Subscription, len(r.order))
	copy(subs, r.order)
	r.mu.Unlock()

	n := 0
	for _, sub := range subs {
		if sub.Status() == StatusActive {
			n++
		}
	}
	return n
}

// EntityTypes returns the distinct entity types currently registered,
// in first-registration order.
func (r *Registry) EntityTypes() []model.EntityType {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[model.EntityType]struct{}, len(r.order))
	types := make([]model.EntityType, 0, len(r.order))
	for _, sub := range r.order {
		if _, ok := seen[sub.config.EntityType]; ok {
			continue
		}
		seen[sub.config.EntityType] = struct{}{}
		types = append(types, sub.config.EntityType)
	}
	return types
}

// release removes a subscription. Called by Handle.Release.
func (r *Registry) release(sub *Subscription) {
	r.mu.Lock()
	if _, ok := r.subs[sub.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, sub.id)
	for i, s := range r.order {
		if s.id == sub.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	sender := r.sender
	r.mu.Unlock()

	if sender != nil {
		_ = sender.SendUnlisten(sub.id)
	}
}

// Handle is the owner's reference to a registration. The owner must
// call Release on all exit paths.
type Handle struct {
	registry *Registry
	sub      *Subscription
	released atomic.Bool
}

// ID returns the subscription id.
func (h *Handle) ID() string {
	return h.sub.id
}

// Status returns the subscription's registration status.
func (h *Handle) Status() Status {
	return h.sub.Status()
}

// Release removes the registration and, if connected, sends the remote
// unlisten request. Idempotent: double release is a no-op. Effective
// immediately for future dispatch; already-applied side effects are not
// undone.
func (h *Handle) Release() {
	if h.released.Swap(true) {
		return
	}
	h.registry.release(h.sub)
}
