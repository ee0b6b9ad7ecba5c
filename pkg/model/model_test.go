package model

import (
	"testing"
)

func TestTagString(t *testing.T) {
	tag := NewTag("lead", "42")
	if got := tag.String(); got != "lead:42" {
		t.Errorf("String() = %q, want %q", got, "lead:42")
	}

	coll := CollectionTag("lead")
	if got := coll.String(); got != "lead:*" {
		t.Errorf("String() = %q, want %q", got, "lead:*")
	}
	if !coll.IsCollection() {
		t.Error("IsCollection() = false for collection tag")
	}
	if tag.IsCollection() {
		t.Error("IsCollection() = true for entity tag")
	}
}

func TestParseTag(t *testing.T) {
	tag, err := ParseTag("lead:42")
	if err != nil {
		t.Fatalf("ParseTag: %v", err)
	}
	if tag.EntityType != "lead" || tag.ID != "42" {
		t.Errorf("ParseTag = %+v, want lead/42", tag)
	}

	coll, err := ParseTag("lead:*")
	if err != nil {
		t.Fatalf("ParseTag: %v", err)
	}
	if !coll.IsCollection() {
		t.Error("parsed wildcard tag should be a collection tag")
	}

	if _, err := ParseTag("noseparator"); err == nil {
		t.Error("ParseTag should reject a string without a separator")
	}
}

func TestEventMask(t *testing.T) {
	m := MaskInsert | MaskDelete

	if !m.Has(EventInsert) {
		t.Error("mask should select inserts")
	}
	if m.Has(EventUpdate) {
		t.Error("mask should not select updates")
	}
	if !m.Has(EventDelete) {
		t.Error("mask should select deletes")
	}

	if !MaskAll.IsValid() {
		t.Error("MaskAll should be valid")
	}
	if EventMask(0).IsValid() {
		t.Error("empty mask should be invalid")
	}
	if EventMask(0xF0).IsValid() {
		t.Error("mask with unknown bits should be invalid")
	}
}

func TestChangeEventValidate(t *testing.T) {
	rec := &EntityRecord{EntityType: "lead", ID: "42", Version: 3}

	tests := []struct {
		name    string
		event   ChangeEvent
		wantErr bool
	}{
		{"valid insert", ChangeEvent{EntityType: "lead", Type: EventInsert, After: rec}, false},
		{"valid update", ChangeEvent{EntityType: "lead", Type: EventUpdate, Before: rec, After: rec}, false},
		{"valid delete", ChangeEvent{EntityType: "lead", Type: EventDelete, Before: rec}, false},
		{"insert with before", ChangeEvent{EntityType: "lead", Type: EventInsert, Before: rec, After: rec}, true},
		{"delete with after", ChangeEvent{EntityType: "lead", Type: EventDelete, Before: rec, After: rec}, true},
		{"update without after", ChangeEvent{EntityType: "lead", Type: EventUpdate, Before: rec}, true},
		{"missing entity type", ChangeEvent{Type: EventInsert, After: rec}, true},
		{"mismatched entity type", ChangeEvent{EntityType: "deal", Type: EventInsert, After: rec}, true},
		{"unknown type", ChangeEvent{EntityType: "lead", Type: 99, After: rec}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChangeEventRecord(t *testing.T) {
	before := &EntityRecord{EntityType: "lead", ID: "1", Version: 1}
	after := &EntityRecord{EntityType: "lead", ID: "1", Version: 2}

	ev := ChangeEvent{Type: EventUpdate, Before: before, After: after}
	if ev.Record() != after {
		t.Error("Record() should prefer After")
	}

	del := ChangeEvent{Type: EventDelete, Before: before}
	if del.Record() != before {
		t.Error("Record() should fall back to Before")
	}
}

func TestEntityRecordClone(t *testing.T) {
	rec := &EntityRecord{
		EntityType: "lead",
		ID:         "42",
		Version:    3,
		Payload:    map[string]any{"score": int64(10)},
	}

	c := rec.Clone()
	c.Payload["score"] = int64(99)

	if rec.Payload["score"] != int64(10) {
		t.Error("Clone() should not share the payload map")
	}

	var nilRec *EntityRecord
	if nilRec.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}
