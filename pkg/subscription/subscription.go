package subscription

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cachewire/cachewire-go/pkg/model"
)

// Subscription errors.
var (
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidEventMask  = errors.New("invalid event mask")
	ErrNilCallback       = errors.New("subscription callback is nil")
	ErrResourceExhausted = errors.New("maximum subscriptions reached")
)

// DefaultMaxSubscriptions is the default registration limit.
const DefaultMaxSubscriptions = 256

// Status represents a subscription's registration state.
type Status uint8

const (
	// StatusPending indicates the listen request has not been
	// acknowledged (or the connection is down).
	StatusPending Status = iota

	// StatusActive indicates the backend acknowledged the listen request.
	StatusActive

	// StatusError indicates the backend rejected the listen request.
	StatusError
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// RejectedError reports a listen request rejected by the backend.
// Fatal for the subscription it names; other subscriptions keep working.
type RejectedError struct {
	SubscriptionID string
	Reason         string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("subscription %s rejected: %s", e.SubscriptionID, e.Reason)
}

// Delivery is what a subscription callback receives: either a change
// event or a distinguished error (listen rejection). Exactly one of the
// fields is set.
type Delivery struct {
	Event *model.ChangeEvent
	Err   error
}

// Callback receives deliveries for one subscription. Invoked
// synchronously from the dispatch loop; it must not block.
type Callback func(Delivery)

// FilterFunc is a pure predicate over an entity record. A nil filter
// matches everything.
type FilterFunc func(*model.EntityRecord) bool

// Config describes a subscription to register.
type Config struct {
	// EntityType selects the backend table or collection. Required.
	EntityType model.EntityType

	// Mask selects the event types to deliver. Required.
	Mask model.EventMask

	// Filter is evaluated against the event's record (after, or before
	// for deletes). Nil matches all records.
	Filter FilterFunc

	// ServerFilter is an opaque filter expression forwarded with the
	// listen request for server-side narrowing. Optional.
	ServerFilter string

	// OnEvent receives matching events and rejection errors. Required.
	OnEvent Callback
}

// validate checks the config for registration.
func (c *Config) validate() error {
	if c.EntityType == "" {
		return ErrInvalidEntityType
	}
	if !c.Mask.IsValid() {
		return ErrInvalidEventMask
	}
	if c.OnEvent == nil {
		return ErrNilCallback
	}
	return nil
}

// Subscription is a registered change-event subscription.
type Subscription struct {
	mu sync.RWMutex

	id     string
	config Config
	status Status
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// EntityType returns the subscribed entity type.
func (s *Subscription) EntityType() model.EntityType {
	return s.config.EntityType
}

// Status returns the current registration status.
func (s *Subscription) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Subscription) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// matches returns true if the event passes the subscription's entity
// type, mask, and filter predicate.
func (s *Subscription) matches(ev *model.ChangeEvent) bool {
	if s.config.EntityType != ev.EntityType {
		return false
	}
	if !s.config.Mask.Has(ev.Type) {
		return false
	}
	if s.config.Filter != nil {
		rec := ev.Record()
		if rec == nil || !s.config.Filter(rec) {
			return false
		}
	}
	return true
}

// deliver invokes the callback with a delivery.
func (s *Subscription) deliver(d Delivery) {
	s.config.OnEvent(d)
}
