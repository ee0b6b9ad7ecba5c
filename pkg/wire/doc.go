// Package wire implements the CBOR message encoding for the change-event
// stream protocol.
//
// All messages are CBOR maps with integer keys for compactness. Every
// frame on the stream is a two-field envelope:
//
//	{
//	  1: type,    // uint8 message type
//	  2: body     // type-specific CBOR map
//	}
//
// The client sends Listen, Unlisten, Ping, and Mutate; the server sends
// ListenAck, MutateAck, Pong, and Event. Events carry the before/after
// record states, a stream sequence number, and (when the change confirms
// a mutation issued by this client) the echoed mutation id.
//
// Encoding is deterministic (canonical key order, fixed-length items) so
// identical messages always produce identical bytes. Decoding is lenient:
// unknown keys are ignored for forward compatibility.
package wire
