// Package cache implements the query-result cache and the canonical
// per-entity record store.
//
// The store holds two kinds of state:
//
//   - Canonical entity records, one per (entityType, id), including
//     versioned tombstones for deleted entities. All entity mutations
//     funnel through ApplyEntityVersion, which enforces the
//     monotonic-apply invariant: a record is only accepted if its
//     version is strictly newer than the stored one.
//
//   - Query results keyed by query key, each carrying the set of tags
//     (entities) it depends on, a freshness window, and the ordered list
//     of optimistic patches currently applied to it.
//
// Because every entity write goes through the canonical record first and
// entry-level patches are derived from canonical records, no cache entry
// can reflect an entity version older than the newest version applied
// anywhere else in the cache.
//
// # Staleness
//
// Entries past their freshness window are returned to readers rather
// than deleted (stale-while-revalidate); the Result carries a Stale flag
// so the caller can refresh in the background. InvalidateByTag forces
// the flag immediately without touching the data.
//
// # Concurrency
//
// Reads never block on in-flight fetches. Writes funnel through the
// store's methods and use copy-then-swap: returned data values are
// shared snapshots and must be treated as immutable by callers. The
// dispatch loop is the single writer for event-driven mutations.
//
// # Eviction
//
// Entries are evicted explicitly via Evict or by the capacity-bounded
// LRU policy: when the store exceeds its configured entry count, the
// least recently read entry is dropped.
package cache
