// Package model defines the shared vocabulary for cache synchronization:
// versioned entity records, change events, and the tags that link cached
// query results to the entities they depend on.
//
// # Versioning
//
// Every EntityRecord carries a monotonically increasing Version assigned by
// the backend. The cache only ever moves forward: a record is applied if
// and only if its version is strictly newer than the version already
// stored for the same (entityType, id). Deletes are represented as
// versioned tombstones so a late-arriving stale update cannot resurrect a
// deleted entity.
//
// # Tags
//
// A Tag is an (entityType, id) pair. Cached query results declare the set
// of tags they depend on; change events are routed to cache entries
// through this index. A tag with an empty ID is a collection tag: it marks
// a result that depends on the membership of an entire entity type (list
// queries), which is how inserts of previously unknown ids reach the
// entries that must include them.
//
// Types in this package carry no behavior beyond validation, formatting,
// and copying. All mutation happens in pkg/cache and pkg/engine.
package model
