// Package client provides the top-level cachewire client: a query
// cache kept consistent with the backend through a live change-event
// stream.
//
// The client wires the layers together and owns the dispatch loop. One
// goroutine per connection reads frames from the stream; each decoded
// change event first runs through the invalidation engine (canonical
// apply, patching, refetch scheduling) and only then reaches
// subscription callbacks, so a callback always observes a cache at
// least as new as the event it is told about. Events dropped as stale
// by the engine are not delivered to subscribers.
//
// Reads go through Query: a fresh cached result is returned as is, a
// stale one is returned immediately while a background refetch runs,
// and a miss fetches synchronously through the application-provided
// Fetcher. Writes go through Mutate and are applied optimistically;
// outcomes arrive via OnMutationResult.
//
// Connection lifecycle, heartbeats, resubscription, and the offline
// mutation queue are handled internally. Connect starts the machinery;
// Close persists the offline queue (when a state path is configured)
// and tears everything down.
package client
