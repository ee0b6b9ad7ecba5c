package cache

import (
	"testing"
	"time"

	"github.com/cachewire/cachewire-go/pkg/model"
)

func record(entityType model.EntityType, id string, version int64) *model.EntityRecord {
	return &model.EntityRecord{
		EntityType: entityType,
		ID:         id,
		Version:    version,
		Payload:    map[string]any{"id": id, "v": version},
	}
}

func TestApplyEntityVersionMonotonic(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("lead/42", "v3-data", []model.Tag{model.NewTag("lead", "42")}, time.Minute)

	// v3 arrives first.
	if _, applied := s.ApplyEntityVersion(record("lead", "42", 3)); !applied {
		t.Fatal("v3 should apply")
	}
	// The late v2 must be rejected without touching anything.
	touched, applied := s.ApplyEntityVersion(record("lead", "42", 2))
	if applied {
		t.Error("v2 must be rejected after v3")
	}
	if len(touched) != 0 {
		t.Errorf("rejected apply touched %v, want none", touched)
	}
	// v4 applies on top.
	if _, applied := s.ApplyEntityVersion(record("lead", "42", 4)); !applied {
		t.Fatal("v4 should apply")
	}

	rec, ok := s.Entity("lead", "42")
	if !ok || rec.Version != 4 {
		t.Errorf("canonical version = %v, want 4", rec)
	}
}

func TestApplyEntityVersionAnyOrderConverges(t *testing.T) {
	versions := []int64{1, 2, 3, 4}
	perms := permute(versions)

	for _, perm := range perms {
		s := NewStore()
		for _, v := range perm {
			s.ApplyEntityVersion(record("lead", "1", v))
		}
		rec, ok := s.Entity("lead", "1")
		if !ok || rec.Version != 4 {
			t.Fatalf("order %v: final version = %v, want 4", perm, rec)
		}
	}
}

func permute(vs []int64) [][]int64 {
	if len(vs) <= 1 {
		return [][]int64{append([]int64(nil), vs...)}
	}
	var out [][]int64
	for i := range vs {
		rest := make([]int64, 0, len(vs)-1)
		rest = append(rest, vs[:i]...)
		rest = append(rest, vs[i+1:]...)
		for _, p := range permute(rest) {
			out = append(out, append([]int64{vs[i]}, p...))
		}
	}
	return out
}

func TestTombstoneRejectsLateUpdate(t *testing.T) {
	s := NewStore()

	if _, applied := s.ApplyTombstone("lead", "9", 7); !applied {
		t.Fatal("tombstone should apply")
	}
	if _, applied := s.ApplyEntityVersion(record("lead", "9", 6)); applied {
		t.Error("update older than the tombstone must be rejected")
	}
	if _, applied := s.ApplyEntityVersion(record("lead", "9", 8)); !applied {
		t.Error("newer version must apply over a tombstone")
	}

	rec, _ := s.Entity("lead", "9")
	if rec.Deleted {
		t.Error("v8 should replace the tombstone")
	}
}

func TestApplyEntityVersionTouchesDependents(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("lead/42", "detail", []model.Tag{model.NewTag("lead", "42")}, time.Minute)
	s.UpsertQueryResult("leads/open", "list", []model.Tag{
		model.CollectionTag("lead"),
		model.NewTag("lead", "42"),
		model.NewTag("lead", "7"),
	}, time.Minute)
	s.UpsertQueryResult("deals/all", "other", []model.Tag{model.CollectionTag("deal")}, time.Minute)

	touched, applied := s.ApplyEntityVersion(record("lead", "42", 1))
	if !applied {
		t.Fatal("apply failed")
	}
	want := map[string]bool{"lead/42": true, "leads/open": true}
	if len(touched) != len(want) {
		t.Fatalf("touched = %v, want keys of %v", touched, want)
	}
	for _, key := range touched {
		if !want[key] {
			t.Errorf("unexpected touched key %q", key)
		}
	}

	// A brand-new entity reaches list entries through the collection tag.
	touched, _ = s.ApplyEntityVersion(record("lead", "999", 1))
	if len(touched) != 1 || touched[0] != "leads/open" {
		t.Errorf("insert touched = %v, want [leads/open]", touched)
	}
}

func TestInvalidateByTagExactSet(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("a", 1, []model.Tag{model.NewTag("lead", "1")}, time.Minute)
	s.UpsertQueryResult("b", 2, []model.Tag{model.NewTag("lead", "1"), model.NewTag("lead", "2")}, time.Minute)
	s.UpsertQueryResult("c", 3, []model.Tag{model.NewTag("lead", "2")}, time.Minute)

	keys := s.InvalidateByTag(model.NewTag("lead", "1"))
	if len(keys) != 2 {
		t.Fatalf("invalidated %v, want exactly a and b", keys)
	}

	for key, wantStale := range map[string]bool{"a": true, "b": true, "c": false} {
		res, ok := s.ReadQueryResult(key)
		if !ok {
			t.Fatalf("%s missing", key)
		}
		if res.Stale != wantStale {
			t.Errorf("%s stale = %v, want %v", key, res.Stale, wantStale)
		}
	}

	// Repeated invalidation reports nothing new.
	if keys := s.InvalidateByTag(model.NewTag("lead", "1")); len(keys) != 0 {
		t.Errorf("second invalidation = %v, want none", keys)
	}
}

func TestInvalidateEntityTypesForcesDependents(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("lead/1", 1, []model.Tag{model.NewTag("lead", "1")}, time.Minute)
	s.UpsertQueryResult("leads/open", 2,
		[]model.Tag{model.CollectionTag("lead"), model.NewTag("lead", "1")}, time.Minute)
	s.UpsertQueryResult("account/9", 3, []model.Tag{model.NewTag("account", "9")}, time.Minute)

	// An already-stale entry is still reported: it needs the refresh too.
	s.MarkStale("lead/1")

	keys := s.InvalidateEntityTypes("lead")
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want lead/1 and leads/open", keys)
	}

	for key, wantStale := range map[string]bool{"lead/1": true, "leads/open": true, "account/9": false} {
		res, ok := s.ReadQueryResult(key)
		if !ok {
			t.Fatalf("%s missing", key)
		}
		if res.Stale != wantStale {
			t.Errorf("%s stale = %v, want %v", key, res.Stale, wantStale)
		}
	}

	if keys := s.InvalidateEntityTypes(); keys != nil {
		t.Errorf("no types = %v, want none", keys)
	}
}

func TestRemoveTagDropsIndexLink(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("leads/open", "list",
		[]model.Tag{model.CollectionTag("lead"), model.NewTag("lead", "2")}, time.Minute)

	if !s.RemoveTag("leads/open", model.NewTag("lead", "2")) {
		t.Fatal("tag not removed")
	}
	if keys := s.KeysForTags(model.NewTag("lead", "2")); len(keys) != 0 {
		t.Errorf("index still maps the removed tag: %v", keys)
	}
	if keys := s.InvalidateByTag(model.NewTag("lead", "2")); len(keys) != 0 {
		t.Errorf("invalidation touched the entry: %v", keys)
	}

	res, _ := s.ReadQueryResult("leads/open")
	if res.Stale {
		t.Error("entry went stale")
	}
	if len(res.Tags) != 1 {
		t.Errorf("tags = %v, want only the collection tag", res.Tags)
	}

	if s.RemoveTag("leads/open", model.NewTag("lead", "2")) || s.RemoveTag("missing", model.CollectionTag("lead")) {
		t.Error("remove reported success for an absent tag")
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewStore(withClock(func() time.Time { return now }))

	s.UpsertQueryResult("q", "data", nil, 30*time.Second)

	res, ok := s.ReadQueryResult("q")
	if !ok || res.Stale {
		t.Fatalf("fresh read: ok=%v stale=%v", ok, res.Stale)
	}

	now = now.Add(31 * time.Second)
	res, ok = s.ReadQueryResult("q")
	if !ok {
		t.Fatal("stale entry must still be served")
	}
	if !res.Stale || res.Data != "data" {
		t.Errorf("stale read: stale=%v data=%v", res.Stale, res.Data)
	}

	// Refetch resets the window and clears the stale flag.
	s.UpsertQueryResult("q", "data2", nil, 30*time.Second)
	res, _ = s.ReadQueryResult("q")
	if res.Stale || res.Data != "data2" {
		t.Errorf("after refetch: stale=%v data=%v", res.Stale, res.Data)
	}
}

func TestLRUEviction(t *testing.T) {
	s := NewStore(WithCapacity(2))
	s.UpsertQueryResult("a", 1, nil, time.Minute)
	s.UpsertQueryResult("b", 2, nil, time.Minute)

	// Touch a so b becomes least recently used.
	s.ReadQueryResult("a")
	s.UpsertQueryResult("c", 3, []model.Tag{model.NewTag("lead", "1")}, time.Minute)

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if _, ok := s.ReadQueryResult("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := s.ReadQueryResult("a"); !ok {
		t.Error("a should survive")
	}

	// The evicted entry's tag links must not resurrect it.
	s.Evict("c")
	if keys := s.KeysForTags(model.NewTag("lead", "1")); len(keys) != 0 {
		t.Errorf("tag index still holds %v after evict", keys)
	}
}

func TestOptimisticPatchLifecycle(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("q", "base", nil, time.Minute)

	if !s.ApplyPatch("q", "m1", "patched") {
		t.Fatal("ApplyPatch failed")
	}
	res, _ := s.ReadQueryResult("q")
	if res.Data != "patched" || len(res.PendingPatches) != 1 || res.PendingPatches[0] != "m1" {
		t.Fatalf("after patch: %+v", res)
	}

	// Confirmation keeps the patched data and drops the record.
	keys := s.ConfirmPatch("m1")
	if len(keys) != 1 || keys[0] != "q" {
		t.Errorf("ConfirmPatch = %v, want [q]", keys)
	}
	res, _ = s.ReadQueryResult("q")
	if res.Data != "patched" || len(res.PendingPatches) != 0 {
		t.Errorf("after confirm: %+v", res)
	}
}

func TestRollbackRestoresLatestPatchBase(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("q", "base", nil, time.Minute)
	s.ApplyPatch("q", "m1", "patched")

	keys := s.RollbackPatch("m1")
	if len(keys) != 1 || keys[0] != "q" {
		t.Fatalf("RollbackPatch = %v, want [q]", keys)
	}

	res, _ := s.ReadQueryResult("q")
	if res.Data != "base" {
		t.Errorf("data = %v, want rollback to base", res.Data)
	}
	if !res.Stale {
		t.Error("rolled-back entry must be marked stale for refetch")
	}
}

func TestRollbackInterleavedPatchMarksStale(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("q", "base", nil, time.Minute)
	s.ApplyPatch("q", "m1", "p1")
	s.ApplyPatch("q", "m2", "p2")

	// m1 is not the newest patch; data cannot be cleanly unwound.
	s.RollbackPatch("m1")

	res, _ := s.ReadQueryResult("q")
	if res.Data != "p2" {
		t.Errorf("data = %v, want p2 left in place", res.Data)
	}
	if !res.Stale {
		t.Error("entry must be stale after interleaved rollback")
	}
	if len(res.PendingPatches) != 1 || res.PendingPatches[0] != "m2" {
		t.Errorf("pending = %v, want [m2]", res.PendingPatches)
	}
}

func TestUpsertDiscardsPatchesAndStaleness(t *testing.T) {
	s := NewStore()
	s.UpsertQueryResult("q", "base", []model.Tag{model.NewTag("lead", "1")}, time.Minute)
	s.ApplyPatch("q", "m1", "patched")
	s.InvalidateByTag(model.NewTag("lead", "1"))

	s.UpsertQueryResult("q", "fresh", []model.Tag{model.NewTag("lead", "2")}, time.Minute)

	res, _ := s.ReadQueryResult("q")
	if res.Stale || res.Data != "fresh" || len(res.PendingPatches) != 0 {
		t.Errorf("after refetch: %+v", res)
	}
	if keys := s.KeysWithPatch("m1"); len(keys) != 0 {
		t.Errorf("patch survived refetch: %v", keys)
	}
	// Tag links follow the new fetch.
	if keys := s.KeysForTags(model.NewTag("lead", "1")); len(keys) != 0 {
		t.Errorf("old tag still linked: %v", keys)
	}
	if keys := s.KeysForTags(model.NewTag("lead", "2")); len(keys) != 1 {
		t.Errorf("new tag not linked: %v", keys)
	}
}

func TestReplaceQueryDataKeepsFreshness(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewStore(withClock(func() time.Time { return now }))
	s.UpsertQueryResult("q", "old", nil, time.Minute)

	if !s.ReplaceQueryData("q", "new") {
		t.Fatal("ReplaceQueryData failed")
	}
	res, _ := s.ReadQueryResult("q")
	if res.Data != "new" || res.Stale {
		t.Errorf("after replace: data=%v stale=%v", res.Data, res.Stale)
	}

	if s.ReplaceQueryData("missing", "x") {
		t.Error("ReplaceQueryData on missing key must fail")
	}
}

func TestEvictLeavesEntitiesIntact(t *testing.T) {
	s := NewStore()
	s.ApplyEntityVersion(record("lead", "1", 3))
	s.UpsertQueryResult("q", "data", []model.Tag{model.NewTag("lead", "1")}, time.Minute)

	if !s.Evict("q") {
		t.Fatal("Evict failed")
	}
	if s.Evict("q") {
		t.Error("second Evict must report false")
	}
	if _, ok := s.ReadQueryResult("q"); ok {
		t.Error("entry still readable after evict")
	}
	if rec, ok := s.Entity("lead", "1"); !ok || rec.Version != 3 {
		t.Error("canonical record must survive entry eviction")
	}
}
