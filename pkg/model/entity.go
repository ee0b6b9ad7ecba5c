package model

import (
	"fmt"
	"strings"
)

// EntityType identifies a backend table or collection (e.g. "lead").
type EntityType string

// Tag is an (entityType, id) pair linking cached results to the entities
// they depend on. An empty ID denotes a collection tag covering the whole
// entity type.
type Tag struct {
	EntityType EntityType
	ID         string
}

// NewTag creates a tag for a specific entity.
func NewTag(entityType EntityType, id string) Tag {
	return Tag{EntityType: entityType, ID: id}
}

// CollectionTag creates a tag covering the whole entity type.
// List queries register it so inserts of new ids can reach them.
func CollectionTag(entityType EntityType) Tag {
	return Tag{EntityType: entityType}
}

// IsCollection returns true if the tag covers a whole entity type.
func (t Tag) IsCollection() bool {
	return t.ID == ""
}

// String formats the tag as "entityType:id" ("entityType:*" for
// collection tags).
func (t Tag) String() string {
	if t.IsCollection() {
		return string(t.EntityType) + ":*"
	}
	return string(t.EntityType) + ":" + t.ID
}

// ParseTag parses a "entityType:id" string produced by String.
func ParseTag(s string) (Tag, error) {
	entityType, id, ok := strings.Cut(s, ":")
	if !ok || entityType == "" {
		return Tag{}, fmt.Errorf("invalid tag %q", s)
	}
	if id == "*" {
		id = ""
	}
	return Tag{EntityType: EntityType(entityType), ID: id}, nil
}

// EntityRecord is a versioned snapshot of a single backend entity.
//
// Records handed out by the cache are shared snapshots: callers must not
// mutate Payload. Use Clone before modifying.
type EntityRecord struct {
	// EntityType identifies the backend table or collection.
	EntityType EntityType

	// ID is the entity's unique identifier within its type.
	ID string

	// Version is the backend-assigned monotonic version (sequence number
	// or updated-at timestamp, whichever the backend emits).
	Version int64

	// Payload holds the entity's fields.
	Payload map[string]any

	// Deleted marks a versioned tombstone. Tombstones keep their version
	// so stale updates arriving after a delete are rejected.
	Deleted bool
}

// Tag returns the record's (entityType, id) tag.
func (r *EntityRecord) Tag() Tag {
	return Tag{EntityType: r.EntityType, ID: r.ID}
}

// Validate checks that the record identifies an entity.
func (r *EntityRecord) Validate() error {
	if r.EntityType == "" {
		return fmt.Errorf("entity record missing entity type")
	}
	if r.ID == "" {
		return fmt.Errorf("entity record missing id")
	}
	return nil
}

// Clone returns a deep copy of the record. The payload map is copied one
// level deep, which is sufficient for the copy-then-swap discipline as
// long as payload values themselves are treated as immutable.
func (r *EntityRecord) Clone() *EntityRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}
