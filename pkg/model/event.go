package model

import (
	"fmt"
	"time"
)

// EventType classifies a change event.
type EventType uint8

const (
	// EventInsert indicates a newly created entity.
	EventInsert EventType = 1

	// EventUpdate indicates a modified entity.
	EventUpdate EventType = 2

	// EventDelete indicates a removed entity.
	EventDelete EventType = 3
)

// String returns a human-readable event type name.
func (t EventType) String() string {
	switch t {
	case EventInsert:
		return "INSERT"
	case EventUpdate:
		return "UPDATE"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true for a known event type.
func (t EventType) IsValid() bool {
	return t >= EventInsert && t <= EventDelete
}

// EventMask selects a subset of event types for a subscription.
type EventMask uint8

const (
	// MaskInsert selects insert events.
	MaskInsert EventMask = 1 << iota

	// MaskUpdate selects update events.
	MaskUpdate

	// MaskDelete selects delete events.
	MaskDelete

	// MaskAll selects all event types.
	MaskAll = MaskInsert | MaskUpdate | MaskDelete
)

// Has returns true if the mask selects the given event type.
func (m EventMask) Has(t EventType) bool {
	switch t {
	case EventInsert:
		return m&MaskInsert != 0
	case EventUpdate:
		return m&MaskUpdate != 0
	case EventDelete:
		return m&MaskDelete != 0
	default:
		return false
	}
}

// IsValid returns true if the mask selects at least one known event type.
func (m EventMask) IsValid() bool {
	return m != 0 && m&^MaskAll == 0
}

// ChangeEvent is a notification of an insert, update, or delete on a
// backend entity, delivered over the live stream.
type ChangeEvent struct {
	// EntityType identifies the affected table or collection.
	EntityType EntityType

	// Type is the kind of change.
	Type EventType

	// Before is the prior record state. Nil for inserts.
	Before *EntityRecord

	// After is the new record state. Nil for deletes.
	After *EntityRecord

	// Sequence is the backend-assigned position in the event stream.
	Sequence uint64

	// MutationID echoes the client-assigned mutation id when this event
	// confirms a mutation issued by this client. Empty otherwise.
	MutationID string

	// ReceivedAt is when the event was read off the stream.
	ReceivedAt time.Time
}

// Record returns the record a filter predicate should be evaluated
// against: After when present, otherwise Before.
func (e *ChangeEvent) Record() *EntityRecord {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// Validate checks the before/after shape against the event type.
func (e *ChangeEvent) Validate() error {
	if e.EntityType == "" {
		return fmt.Errorf("change event missing entity type")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type: %d", e.Type)
	}
	switch e.Type {
	case EventInsert:
		if e.Before != nil {
			return fmt.Errorf("insert event must not carry a before record")
		}
		if e.After == nil {
			return fmt.Errorf("insert event missing after record")
		}
	case EventUpdate:
		if e.After == nil {
			return fmt.Errorf("update event missing after record")
		}
	case EventDelete:
		if e.After != nil {
			return fmt.Errorf("delete event must not carry an after record")
		}
		if e.Before == nil {
			return fmt.Errorf("delete event missing before record")
		}
	}
	if rec := e.Record(); rec != nil {
		if err := rec.Validate(); err != nil {
			return err
		}
		if rec.EntityType != e.EntityType {
			return fmt.Errorf("record entity type %q does not match event entity type %q",
				rec.EntityType, e.EntityType)
		}
	}
	return nil
}
