package wire

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cachewire/cachewire-go/pkg/model"
)

// MsgType identifies a frame's message type.
type MsgType uint8

const (
	// MsgListen requests change events for an entity type (client → server).
	MsgListen MsgType = 1

	// MsgListenAck acknowledges or rejects a listen request (server → client).
	MsgListenAck MsgType = 2

	// MsgUnlisten cancels a listen registration (client → server).
	MsgUnlisten MsgType = 3

	// MsgPing is a heartbeat probe (client → server).
	MsgPing MsgType = 4

	// MsgPong is a heartbeat reply (server → client).
	MsgPong MsgType = 5

	// MsgEvent carries a change event (server → client).
	MsgEvent MsgType = 6

	// MsgMutate submits a mutation for replay (client → server).
	MsgMutate MsgType = 7

	// MsgMutateAck acknowledges a mutation submission (server → client).
	MsgMutateAck MsgType = 8
)

// String returns a human-readable message type name.
func (t MsgType) String() string {
	switch t {
	case MsgListen:
		return "LISTEN"
	case MsgListenAck:
		return "LISTEN_ACK"
	case MsgUnlisten:
		return "UNLISTEN"
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	case MsgEvent:
		return "EVENT"
	case MsgMutate:
		return "MUTATE"
	case MsgMutateAck:
		return "MUTATE_ACK"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true for a known message type.
func (t MsgType) IsValid() bool {
	return t >= MsgListen && t <= MsgMutateAck
}

// Frame is the envelope wrapping every message on the stream.
//
// CBOR encoding:
//
//	{
//	  1: type,    // uint8
//	  2: body     // type-specific map
//	}
type Frame struct {
	Type MsgType         `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Listen requests change events for an entity type.
//
// CBOR encoding:
//
//	{
//	  1: subscriptionId,  // string (client-assigned UUID)
//	  2: entityType,      // string
//	  3: filter           // string, optional opaque server-side filter
//	}
type Listen struct {
	SubscriptionID string `cbor:"1,keyasint"`
	EntityType     string `cbor:"2,keyasint"`
	Filter         string `cbor:"3,keyasint,omitempty"`
}

// Validate checks if the listen request is valid.
func (l *Listen) Validate() error {
	if l.SubscriptionID == "" {
		return fmt.Errorf("listen missing subscription id")
	}
	if l.EntityType == "" {
		return fmt.Errorf("listen missing entity type")
	}
	return nil
}

// ListenAck acknowledges or rejects a listen request.
//
// CBOR encoding:
//
//	{
//	  1: subscriptionId,  // string
//	  2: status,          // uint8: 0=success, or error code
//	  3: detail           // string, optional rejection detail
//	}
type ListenAck struct {
	SubscriptionID string `cbor:"1,keyasint"`
	Status         Status `cbor:"2,keyasint"`
	Detail         string `cbor:"3,keyasint,omitempty"`
}

// IsSuccess returns true if the ack indicates success.
func (a *ListenAck) IsSuccess() bool {
	return a.Status.IsSuccess()
}

// Unlisten cancels a listen registration.
type Unlisten struct {
	SubscriptionID string `cbor:"1,keyasint"`
}

// Ping is a heartbeat probe carrying a sequence number.
type Ping struct {
	Seq uint32 `cbor:"1,keyasint"`
}

// Pong is a heartbeat reply echoing the ping sequence number.
type Pong struct {
	Seq uint32 `cbor:"1,keyasint"`
}

// Record is the wire form of a model.EntityRecord.
//
// CBOR encoding:
//
//	{
//	  1: entityType,  // string
//	  2: id,          // string
//	  3: version,     // int64
//	  4: payload,     // map, absent for tombstones
//	  5: deleted      // bool, only set on tombstones
//	}
type Record struct {
	EntityType string         `cbor:"1,keyasint"`
	ID         string         `cbor:"2,keyasint"`
	Version    int64          `cbor:"3,keyasint"`
	Payload    map[string]any `cbor:"4,keyasint,omitempty"`
	Deleted    bool           `cbor:"5,keyasint,omitempty"`
}

// Event carries a change event from the server.
//
// CBOR encoding:
//
//	{
//	  1: sequence,    // uint64 stream position
//	  2: entityType,  // string
//	  3: eventType,   // uint8: 1=insert, 2=update, 3=delete
//	  4: before,      // Record, null for inserts
//	  5: after,       // Record, null for deletes
//	  6: mutationId   // string, set when confirming a client mutation
//	}
type Event struct {
	Sequence   uint64          `cbor:"1,keyasint"`
	EntityType string          `cbor:"2,keyasint"`
	EventType  model.EventType `cbor:"3,keyasint"`
	Before     *Record         `cbor:"4,keyasint,omitempty"`
	After      *Record         `cbor:"5,keyasint,omitempty"`
	MutationID string          `cbor:"6,keyasint,omitempty"`
}

// Mutate submits a client mutation for server application.
//
// CBOR encoding:
//
//	{
//	  1: mutationId,  // string (client-assigned ULID)
//	  2: entityType,  // string
//	  3: id,          // string
//	  4: delta,       // map of changed fields
//	  5: issuedAt     // unix timestamp
//	}
type Mutate struct {
	MutationID string         `cbor:"1,keyasint"`
	EntityType string         `cbor:"2,keyasint"`
	ID         string         `cbor:"3,keyasint"`
	Delta      map[string]any `cbor:"4,keyasint"`
	IssuedAt   time.Time      `cbor:"5,keyasint,omitempty"`
}

// MutateAck acknowledges a mutation submission.
type MutateAck struct {
	MutationID string `cbor:"1,keyasint"`
	Status     Status `cbor:"2,keyasint"`
	Detail     string `cbor:"3,keyasint,omitempty"`
}

// ToModel converts a wire record to a model record.
func (r *Record) ToModel() *model.EntityRecord {
	if r == nil {
		return nil
	}
	return &model.EntityRecord{
		EntityType: model.EntityType(r.EntityType),
		ID:         r.ID,
		Version:    r.Version,
		Payload:    r.Payload,
		Deleted:    r.Deleted,
	}
}

// RecordFromModel converts a model record to its wire form.
func RecordFromModel(r *model.EntityRecord) *Record {
	if r == nil {
		return nil
	}
	return &Record{
		EntityType: string(r.EntityType),
		ID:         r.ID,
		Version:    r.Version,
		Payload:    r.Payload,
		Deleted:    r.Deleted,
	}
}

// ToModel converts a wire event to a model change event. ReceivedAt is
// stamped with the current time.
func (e *Event) ToModel() (*model.ChangeEvent, error) {
	ev := &model.ChangeEvent{
		EntityType: model.EntityType(e.EntityType),
		Type:       e.EventType,
		Before:     e.Before.ToModel(),
		After:      e.After.ToModel(),
		Sequence:   e.Sequence,
		MutationID: e.MutationID,
		ReceivedAt: time.Now(),
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return ev, nil
}

// DecodeListen decodes the frame body as a Listen message.
func (f *Frame) DecodeListen() (*Listen, error) {
	var m Listen
	if err := Unmarshal(f.Body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode listen: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeListenAck decodes the frame body as a ListenAck message.
func (f *Frame) DecodeListenAck() (*ListenAck, error) {
	var m ListenAck
	if err := Unmarshal(f.Body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode listen ack: %w", err)
	}
	return &m, nil
}

// DecodeUnlisten decodes the frame body as an Unlisten message.
func (f *Frame) DecodeUnlisten() (*Unlisten, error) {
	var m Unlisten
	if err := Unmarshal(f.Body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode unlisten: %w", err)
	}
	return &m, nil
}

// DecodePing decodes the frame body as a Ping message.
func (f *Frame) DecodePing() (*Ping, error) {
	var m Ping
	if err := Unmarshal(f.Body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode ping: %w", err)
	}
	return &m, nil
}

// DecodePong decodes the frame body as a Pong message.
func (f *Frame) DecodePong() (*Pong, error) {
	var m Pong
	if err := Unmarshal(f.Body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode pong: %w", err)
	}
	return &m, nil
}

// DecodeEvent decodes the frame body as an Event message.
func (f *Frame) DecodeEvent() (*Event, error) {
	var m Event
	if err := Unmarshal(f.Body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &m, nil
}

// DecodeMutate decodes the frame body as a Mutate message.
func (f *Frame) DecodeMutate() (*Mutate, error) {
	var m Mutate
	if err := Unmarshal(f.Body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode mutate: %w", err)
	}
	return &m, nil
}

// DecodeMutateAck decodes the frame body as a MutateAck message.
func (f *Frame) DecodeMutateAck() (*MutateAck, error) {
	var m MutateAck
	if err := Unmarshal(f.Body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode mutate ack: %w", err)
	}
	return &m, nil
}
