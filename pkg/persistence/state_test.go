package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cachewire/cachewire-go/pkg/engine"
)

func testMutation(id string) *engine.Mutation {
	return &engine.Mutation{
		ID:         id,
		EntityType: "lead",
		EntityID:   "42",
		Delta:      map[string]any{"score": float64(7)},
		IssuedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.json")

	saved := []*engine.Mutation{testMutation("01A"), testMutation("01B")}
	if err := Save(path, saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d mutations, want 2", len(loaded))
	}
	for i, m := range loaded {
		if m.ID != saved[i].ID || m.EntityType != saved[i].EntityType || m.EntityID != saved[i].EntityID {
			t.Errorf("mutation %d = %+v, want %+v", i, m, saved[i])
		}
		if m.Delta["score"] != float64(7) {
			t.Errorf("mutation %d delta = %v", i, m.Delta)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != nil {
		t.Errorf("loaded = %v, want nil", loaded)
	}
}

func TestLoadCorruptFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil || loaded != nil {
		t.Errorf("Load corrupt = (%v, %v), want (nil, nil)", loaded, err)
	}
}

func TestLoadVersionMismatchIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"mutations":[{"id":"x"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil || loaded != nil {
		t.Errorf("Load future version = (%v, %v), want (nil, nil)", loaded, err)
	}
}

func TestSaveEmptyQueueRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := Save(path, []*engine.Mutation{testMutation("01A")}); err != nil {
		t.Fatal(err)
	}

	if err := Save(path, nil); err != nil {
		t.Fatalf("Save empty: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty queue must remove the state file")
	}

	// Removing an already-absent file is fine.
	if err := Save(path, nil); err != nil {
		t.Fatalf("Save empty twice: %v", err)
	}
}
