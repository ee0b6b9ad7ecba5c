package log

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for log events.
var encMode cbor.EncMode

func init() {
	opts := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeUnixDynamic, // Preserve sub-second precision
	}
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
}

// EncodeEvent serializes an event to CBOR bytes for persistent sinks.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent deserializes CBOR bytes produced by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := cbor.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return event, nil
}
