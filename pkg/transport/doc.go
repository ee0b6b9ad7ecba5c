// Package transport provides the duplex message stream the engine
// synchronizes over.
//
// The engine is transport-agnostic: it consumes the Stream interface,
// which delivers whole messages in order. Two implementations are
// provided:
//
//   - WSConn: a WebSocket client connection (binary messages, one wire
//     frame per message), the production transport.
//   - Pipe: an in-memory duplex pair for tests and embedded backends.
//
// # Heartbeats
//
// The Heartbeat tracker sends a ping every interval and counts
// consecutive intervals without a matching pong. Two misses signal a
// degraded connection (still usable, flagged to the health monitor);
// three signal connection loss and hand control to the reconnection
// logic. Pong round-trip time is reported as the connection latency.
package transport
