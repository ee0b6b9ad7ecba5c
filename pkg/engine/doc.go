// Package engine implements the invalidation and patch engine: the
// component that turns inbound change events and local mutations into
// cache updates.
//
// # Event pipeline
//
// Every decoded change event runs through HandleEvent on the dispatch
// loop, one at a time:
//
//  1. The event's canonical record (the after image, or a tombstone
//     derived from the before image for deletes) is offered to the
//     store. Records not strictly newer than the stored version are
//     dropped here and produce no further effect.
//  2. If the event carries a mutation id matching a pending optimistic
//     mutation, that mutation is confirmed.
//  3. Each query result depending on the entity is patched in place
//     when its data shape allows it (single records, and slices of
//     records for updates and deletes). Anything else is downgraded to
//     invalidation: the entry is marked stale and a refetch scheduled.
//
// Patching never edits shared data; a patched copy is built and swapped
// in (copy-then-swap), so concurrent readers hold consistent snapshots.
//
// # Optimistic mutations
//
// Mutate applies the delta to every patchable dependent entry
// immediately and records the patch under a fresh mutation id. The
// mutation is confirmed by the change event echoing its id, rolled back
// on a rejection ack, or rolled back when no confirmation arrives
// within the rollback timeout. Rollback restores the pre-patch snapshot
// where possible and always marks the affected entries stale and
// refetches them, so the cache converges on server state either way.
//
// Mutations issued while disconnected are queued and replayed in issue
// order after resubscription.
//
// # Refetches
//
// Refetches are tagged with the connection epoch observed when they
// were scheduled; a response that lands after a reconnect is discarded
// rather than written over post-reconnect state. Failed refetches retry
// with jittered backoff and eventually give up, leaving the entry
// stale.
package engine
