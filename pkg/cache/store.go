package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cachewire/cachewire-go/pkg/model"
)

// DefaultCapacity is the default maximum number of cached query results.
const DefaultCapacity = 1024

// Result is a read snapshot of a cached query result. Data is shared
// with the store and must be treated as immutable.
type Result struct {
	QueryKey  string
	Data      any
	Tags      []model.Tag
	FetchedAt time.Time
	StaleAt   time.Time

	// Stale is true when the entry is past its freshness window or was
	// invalidated by tag. Stale data is still served; the caller is
	// expected to refresh in the background.
	Stale bool

	// PendingPatches lists the mutation ids of optimistic patches
	// currently applied to this entry, oldest first.
	PendingPatches []string
}

// entry is a cached query result. Entries form a doubly linked list in
// recency order; head is most recently used.
type entry struct {
	key       string
	data      any
	tags      map[model.Tag]struct{}
	fetchedAt time.Time
	staleAt   time.Time

	// invalidated forces staleness regardless of the freshness window.
	invalidated bool

	// patches are the optimistic patches applied on top of data, oldest
	// first. Each carries the data snapshot taken before it was applied.
	patches []patchRecord

	prev, next *entry
}

type patchRecord struct {
	mutationID string
	base       any
	appliedAt  time.Time
}

// Store holds canonical entity records and tagged query results.
type Store struct {
	mu sync.Mutex

	// Canonical entity records by tag, including versioned tombstones.
	entities map[model.Tag]*model.EntityRecord

	// Query results by query key.
	entries map[string]*entry

	// Inverted index: tag to the query keys that depend on it.
	tagIndex map[model.Tag]map[string]struct{}

	// LRU list sentinels. head.next is most recently used.
	head, tail *entry

	capacity int
	metrics  *cacheMetrics
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the number of cached query results. Entity
// records are not counted; tombstones are cheap and version checks need
// them.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithMetrics registers cache metrics with the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Store) {
		s.metrics = newCacheMetrics(reg)
	}
}

// withClock overrides the time source, for tests.
func withClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entities: make(map[model.Tag]*model.EntityRecord),
		entries:  make(map[string]*entry),
		tagIndex: make(map[model.Tag]map[string]struct{}),
		head:     &entry{},
		tail:     &entry{},
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	s.head.next = s.tail
	s.tail.prev = s.head
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Entity returns the canonical record for an entity, including
// tombstones (check Deleted). The record is shared and must be treated
// as immutable.
func (s *Store) Entity(entityType model.EntityType, id string) (*model.EntityRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entities[model.NewTag(entityType, id)]
	return rec, ok
}

// EntityCount returns the number of canonical records, tombstones
// included.
func (s *Store) EntityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// ApplyEntityVersion installs a canonical record if its version is
// strictly newer than the stored one. Returns the query keys that
// depend on the entity (directly or through its collection tag) and
// whether the record was applied. A rejected record leaves the store
// untouched and returns no keys.
//
// Deletes are applied the same way: a record with Deleted set becomes a
// versioned tombstone, so a late update with a lower version is
// rejected against it.
func (s *Store) ApplyEntityVersion(rec *model.EntityRecord) ([]string, bool) {
	if rec == nil || rec.EntityType == "" || rec.ID == "" {
		return nil, false
	}
	tag := rec.Tag()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entities[tag]; ok && rec.Version <= cur.Version {
		return nil, false
	}
	s.entities[tag] = rec.Clone()

	touched := s.keysForLocked(tag, model.CollectionTag(rec.EntityType))
	return touched, true
}

// ApplyTombstone records a versioned tombstone for a deleted entity.
func (s *Store) ApplyTombstone(entityType model.EntityType, id string, version int64) ([]string, bool) {
	return s.ApplyEntityVersion(&model.EntityRecord{
		EntityType: entityType,
		ID:         id,
		Version:    version,
		Deleted:    true,
	})
}

// UpsertQueryResult stores fresh data for a query key, replacing any
// existing entry and its tag links. Pending optimistic patches are
// discarded: the fetched data is authoritative for the entry as of now.
func (s *Store) UpsertQueryResult(queryKey string, data any, tags []model.Tag, ttl time.Duration) {
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[queryKey]
	if !ok {
		e = &entry{key: queryKey}
		s.entries[queryKey] = e
	} else {
		s.unlink(e)
		s.untagLocked(e)
	}

	e.data = data
	e.fetchedAt = now
	e.staleAt = now.Add(ttl)
	e.invalidated = false
	e.patches = nil
	e.tags = make(map[model.Tag]struct{}, len(tags))
	for _, t := range tags {
		e.tags[t] = struct{}{}
		idx, ok := s.tagIndex[t]
		if !ok {
			idx = make(map[string]struct{})
			s.tagIndex[t] = idx
		}
		idx[queryKey] = struct{}{}
	}

	s.pushFront(e)
	evicted := s.evictOverCapacityLocked()
	n := len(s.entries)
	s.mu.Unlock()

	for range evicted {
		s.metrics.incCacheEvictions()
	}
	s.metrics.setCachedItems(n)
}

// ReadQueryResult returns a snapshot of a cached query result and marks
// the entry recently used. The boolean reports presence; a stale entry
// is still returned, flagged Stale.
func (s *Store) ReadQueryResult(queryKey string) (Result, bool) {
	s.mu.Lock()
	e, ok := s.entries[queryKey]
	if !ok {
		s.mu.Unlock()
		s.metrics.incCacheEvents(CacheEventTypeMiss)
		return Result{}, false
	}
	s.unlink(e)
	s.pushFront(e)
	res := s.snapshotLocked(e)
	s.mu.Unlock()

	if res.Stale {
		s.metrics.incCacheEvents(CacheEventTypeStale)
	} else {
		s.metrics.incCacheEvents(CacheEventTypeHit)
	}
	return res, true
}

// PeekQueryResult returns a snapshot without touching recency or hit
// metrics. Used by the patch engine, which inspects entries as a side
// effect of event handling rather than on behalf of a reader.
func (s *Store) PeekQueryResult(queryKey string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[queryKey]
	if !ok {
		return Result{}, false
	}
	return s.snapshotLocked(e), true
}

// MarkStale forces a single entry stale. Returns false if the key is
// not cached.
func (s *Store) MarkStale(queryKey string) bool {
	s.mu.Lock()
	e, ok := s.entries[queryKey]
	if ok {
		e.invalidated = true
	}
	s.mu.Unlock()

	if ok {
		s.metrics.addCacheInvalidations(1)
	}
	return ok
}

// ReplaceQueryData swaps an entry's data in place, leaving tags,
// freshness, and pending patches untouched. Used by the patch engine
// after deriving new data from a canonical record (copy-then-swap).
// Returns false if the key is not cached.
func (s *Store) ReplaceQueryData(queryKey string, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[queryKey]
	if !ok {
		return false
	}
	e.data = data
	return true
}

// RemoveTag drops a tag from an entry and the inverted index. Used by
// the patch engine after a delete patch removes an entity from an
// entry's data: the entry no longer depends on the removed entity, so
// later version bumps for it must not touch the entry. Returns false
// if the key is not cached or does not carry the tag.
func (s *Store) RemoveTag(queryKey string, tag model.Tag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[queryKey]
	if !ok {
		return false
	}
	if _, ok := e.tags[tag]; !ok {
		return false
	}
	delete(e.tags, tag)
	idx := s.tagIndex[tag]
	delete(idx, queryKey)
	if len(idx) == 0 {
		delete(s.tagIndex, tag)
	}
	return true
}

// ApplyPatch applies an optimistic patch: the entry's current data is
// snapshotted as the patch's rollback base, then replaced with the
// patched data. Returns false if the key is not cached.
func (s *Store) ApplyPatch(queryKey, mutationID string, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[queryKey]
	if !ok {
		return false
	}
	e.patches = append(e.patches, patchRecord{
		mutationID: mutationID,
		base:       e.data,
		appliedAt:  s.now(),
	})
	e.data = data
	return true
}

// ConfirmPatch drops a mutation's patch record from every entry that
// carries it, keeping the patched data in place. Returns the affected
// query keys.
func (s *Store) ConfirmPatch(mutationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key, e := range s.entries {
		if removePatchLocked(e, mutationID, false) {
			keys = append(keys, key)
		}
	}
	return keys
}

// RollbackPatch unwinds a mutation's optimistic patch from every entry
// that carries it. If the patch is the most recent one on an entry the
// snapshot taken at apply time is restored; otherwise the data cannot
// be cleanly unwound and the entry is marked stale instead. Returns the
// affected query keys; the caller is expected to invalidate and refetch
// them regardless.
func (s *Store) RollbackPatch(mutationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key, e := range s.entries {
		if removePatchLocked(e, mutationID, true) {
			e.invalidated = true
			keys = append(keys, key)
		}
	}
	return keys
}

// removePatchLocked removes mutationID's patch from e. When restore is
// set and the patch is the newest one, the pre-patch snapshot is put
// back. Reports whether the entry carried the patch.
func removePatchLocked(e *entry, mutationID string, restore bool) bool {
	for i, p := range e.patches {
		if p.mutationID != mutationID {
			continue
		}
		if restore && i == len(e.patches)-1 {
			e.data = p.base
		}
		e.patches = append(e.patches[:i], e.patches[i+1:]...)
		return true
	}
	return false
}

// KeysWithPatch returns the query keys carrying an optimistic patch for
// the given mutation.
func (s *Store) KeysWithPatch(mutationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key, e := range s.entries {
		for _, p := range e.patches {
			if p.mutationID == mutationID {
				keys = append(keys, key)
				break
			}
		}
	}
	return keys
}

// InvalidateByTag marks every entry depending on the tag as stale and
// returns their query keys. Data is untouched; stale reads keep
// serving it until a refetch replaces the entry. Entries not carrying
// the tag are never affected.
func (s *Store) InvalidateByTag(tag model.Tag) []string {
	s.mu.Lock()
	var keys []string
	for key := range s.tagIndex[tag] {
		if e, ok := s.entries[key]; ok && !e.invalidated {
			e.invalidated = true
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	s.metrics.addCacheInvalidations(len(keys))
	return keys
}

// InvalidateEntityTypes marks every entry depending on any tag of the
// given entity types as stale and returns their query keys, including
// entries that were already stale. Used after a reconnect, when change
// events for listened types may have been missed during the gap and
// every dependent entry needs a forced refresh.
func (s *Store) InvalidateEntityTypes(types ...model.EntityType) []string {
	if len(types) == 0 {
		return nil
	}
	want := make(map[model.EntityType]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}

	s.mu.Lock()
	seen := make(map[string]struct{})
	var keys []string
	fresh := 0
	for tag, idx := range s.tagIndex {
		if _, ok := want[tag.EntityType]; !ok {
			continue
		}
		for key := range idx {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			e, ok := s.entries[key]
			if !ok {
				continue
			}
			if !e.invalidated {
				e.invalidated = true
				fresh++
			}
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	s.metrics.addCacheInvalidations(fresh)
	return keys
}

// KeysForTags returns the union of query keys depending on any of the
// given tags.
func (s *Store) KeysForTags(tags ...model.Tag) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keysForLocked(tags...)
}

// Evict removes a query result and its tag links. Canonical entity
// records are unaffected. Returns false if the key is not cached.
func (s *Store) Evict(queryKey string) bool {
	s.mu.Lock()
	e, ok := s.entries[queryKey]
	if ok {
		s.removeLocked(e)
	}
	n := len(s.entries)
	s.mu.Unlock()

	if ok {
		s.metrics.setCachedItems(n)
	}
	return ok
}

// Len returns the number of cached query results.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns all cached query keys, most recently used first.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for e := s.head.next; e != s.tail; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

func (s *Store) snapshotLocked(e *entry) Result {
	res := Result{
		QueryKey:  e.key,
		Data:      e.data,
		FetchedAt: e.fetchedAt,
		StaleAt:   e.staleAt,
		Stale:     e.invalidated || !s.now().Before(e.staleAt),
	}
	res.Tags = make([]model.Tag, 0, len(e.tags))
	for t := range e.tags {
		res.Tags = append(res.Tags, t)
	}
	for _, p := range e.patches {
		res.PendingPatches = append(res.PendingPatches, p.mutationID)
	}
	return res
}

func (s *Store) keysForLocked(tags ...model.Tag) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, t := range tags {
		for key := range s.tagIndex[t] {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *Store) untagLocked(e *entry) {
	for t := range e.tags {
		idx := s.tagIndex[t]
		delete(idx, e.key)
		if len(idx) == 0 {
			delete(s.tagIndex, t)
		}
	}
}

func (s *Store) removeLocked(e *entry) {
	s.unlink(e)
	s.untagLocked(e)
	delete(s.entries, e.key)
}

// evictOverCapacityLocked drops least recently used entries until the
// store fits its capacity. Returns the evicted keys.
func (s *Store) evictOverCapacityLocked() []string {
	var evicted []string
	for len(s.entries) > s.capacity {
		lru := s.tail.prev
		if lru == s.head {
			break
		}
		s.removeLocked(lru)
		evicted = append(evicted, lru.key)
	}
	return evicted
}

func (s *Store) pushFront(e *entry) {
	e.prev = s.head
	e.next = s.head.next
	s.head.next.prev = e
	s.head.next = e
}

func (s *Store) unlink(e *entry) {
	if e.prev == nil || e.next == nil {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
}
