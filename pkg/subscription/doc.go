// Package subscription implements the client-side subscription registry.
//
// A Subscription names an entity type, an optional filter predicate, an
// event mask, and a callback. The registry matches inbound change events
// against all registrations and invokes callbacks synchronously, in
// registration order, one event at a time - the ordering guarantee the
// cache's monotonic-apply invariant relies on.
//
// # Ownership
//
// Register returns a Handle owned by the caller. The caller must call
// Release on every exit path, including its own teardown; a registration
// that is never released keeps its callback alive on a long-lived
// connection. Release is idempotent.
//
// # Reconnection
//
// Registrations do not survive connection loss on the wire. When the
// connection manager emits its resubscribe signal, the registry re-sends
// a listen request for every registration, in registration order, and
// marks each active on acknowledgment. A rejected listen is reported to
// that subscription's owner through its callback as a distinguished
// error delivery - other subscriptions are unaffected.
package subscription
