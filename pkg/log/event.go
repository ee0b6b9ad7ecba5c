package log

import (
	"time"
)

// Event represents an engine log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Epoch identifies the connection instance the event belongs to.
	Epoch string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"6,keyasint,omitempty"` // Transport layer
	Dispatch    *DispatchEvent    `cbor:"7,keyasint,omitempty"` // Decoded change events
	StateChange *StateChangeEvent `cbor:"8,keyasint,omitempty"` // Connection state
	Error       *ErrorEventData   `cbor:"9,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionLocal indicates a locally generated event (no wire traffic).
	DirectionLocal Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the stream framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerDispatch is the event dispatch layer (decoded events).
	LayerDispatch Layer = 1
	// LayerCache is the cache mutation layer.
	LayerCache Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerDispatch:
		return "DISPATCH"
	case LayerCache:
		return "CACHE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates stream traffic (frames, change events).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame traffic at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// MsgType is the frame's wire message type name.
	MsgType string `cbor:"2,keyasint,omitempty"`
}

// DispatchEvent captures a decoded change event at the dispatch layer.
type DispatchEvent struct {
	// EntityType of the affected entity.
	EntityType string `cbor:"1,keyasint"`

	// EntityID of the affected entity.
	EntityID string `cbor:"2,keyasint,omitempty"`

	// EventType name (INSERT/UPDATE/DELETE).
	EventType string `cbor:"3,keyasint"`

	// Sequence is the stream position.
	Sequence uint64 `cbor:"4,keyasint"`

	// Version carried by the event's record.
	Version int64 `cbor:"5,keyasint,omitempty"`

	// Dropped is set when the event was discarded as stale.
	Dropped bool `cbor:"6,keyasint,omitempty"`

	// Matched is the number of subscriptions the event was delivered to.
	Matched int `cbor:"7,keyasint,omitempty"`
}

// StateChangeEvent captures connection lifecycle transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context describes what was being attempted.
	Context string `cbor:"3,keyasint,omitempty"`
}

// NewStateChange builds a state-change event.
func NewStateChange(epoch, oldState, newState, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		Epoch:     epoch,
		Direction: DirectionLocal,
		Layer:     LayerDispatch,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	}
}

// NewError builds an error event.
func NewError(epoch string, layer Layer, err error, context string) Event {
	return Event{
		Timestamp: time.Now(),
		Epoch:     epoch,
		Direction: DirectionLocal,
		Layer:     layer,
		Category:  CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	}
}
