// Package connection provides connection lifecycle management for the
// change-event stream.
//
// This package handles:
//   - Exponential backoff for reconnection attempts
//   - Full jitter to prevent thundering herd
//   - Connection state tracking, including the degraded state
//   - Connection epochs for discarding superseded work
//   - Automatic reconnection on connection loss
//
// # Reconnection Strategy
//
// When the connection is lost, the manager retries with exponential
// backoff:
//
//  1. Base delay: 500 milliseconds
//  2. Exponential increase: 1s, 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Continue at 30s until successful
//  5. Reset to 500ms on successful reconnection
//
// # Jitter
//
// Full jitter: the actual delay is drawn uniformly from [0, base), so
// simultaneous clients do not reconnect in lockstep.
//
// # Epochs
//
// Every transition into the connected state mints a new epoch id.
// Background work started under one epoch (refetches, in-flight
// requests) checks the epoch on completion and discards its result if
// the connection has since been replaced, so stale work can never
// overwrite newer data.
//
// # Resubscription
//
// Events missed while disconnected are not replayed. Instead, every
// transition into connected emits a resubscribe signal: the subscription
// registry re-arms its registrations against the new epoch and affected
// cache entries are forced to refetch.
//
// A connection attempt that fails with a fatal error (for example an
// authorization rejection) stops the retry loop and is surfaced to the
// fatal-error callback; transient transport errors keep retrying.
package connection
