package engine

import (
	"errors"
	"fmt"

	"github.com/cachewire/cachewire-go/pkg/model"
)

// errNotPatchable marks a data shape the patcher cannot edit in place.
// Not a failure: the caller downgrades to invalidation.
var errNotPatchable = errors.New("query data shape not patchable")

// PatchApplicationError reports a patch that could not be applied to a
// cached entry. The entry is invalidated instead, so the error is
// informational.
type PatchApplicationError struct {
	QueryKey string
	Err      error
}

// Error implements the error interface.
func (e *PatchApplicationError) Error() string {
	return fmt.Sprintf("patch not applied to %q: %v", e.QueryKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *PatchApplicationError) Unwrap() error {
	return e.Err
}

// patchData derives new query data from a canonical record. Supported
// shapes are a single record and a slice of records; everything else
// returns errNotPatchable. The input is never modified.
//
// List membership rules: a delete always removes the record (a deleted
// entity belongs to no result set); an update replaces the record only
// if it is already present, since a changed entity may newly satisfy a
// filter the client cannot evaluate; an insert never patches for the
// same reason.
func patchData(data any, rec *model.EntityRecord, evType model.EventType) (any, error) {
	switch d := data.(type) {
	case *model.EntityRecord:
		if evType == model.EventDelete {
			return nil, errNotPatchable
		}
		if d == nil || d.EntityType != rec.EntityType || d.ID != rec.ID {
			return nil, errNotPatchable
		}
		return rec.Clone(), nil

	case []*model.EntityRecord:
		switch evType {
		case model.EventDelete:
			out := make([]*model.EntityRecord, 0, len(d))
			for _, r := range d {
				if r != nil && r.EntityType == rec.EntityType && r.ID == rec.ID {
					continue
				}
				out = append(out, r)
			}
			return out, nil

		case model.EventUpdate:
			out := make([]*model.EntityRecord, len(d))
			found := false
			for i, r := range d {
				if r != nil && r.EntityType == rec.EntityType && r.ID == rec.ID {
					out[i] = rec.Clone()
					found = true
					continue
				}
				out[i] = r
			}
			if !found {
				return nil, errNotPatchable
			}
			return out, nil

		default:
			return nil, errNotPatchable
		}

	default:
		return nil, errNotPatchable
	}
}
