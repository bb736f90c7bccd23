package core

import (
	"context"
	"slices"

	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// Diff returns the records added and removed between the ancestor and leaf changesets.
//
// The stored delta is used when the ancestor is a direct parent of the leaf.
// A nil ancestor is the empty state.
func (db *DB) Diff(ctx context.Context, ancestor, leaf datamodel.Link) (object.Delta, error) {
	if link.Equal(ancestor, leaf) {
		return object.Delta{Parent: ancestor}, nil
	}
	if ancestor != nil {
		cs, err := db.Changeset(ctx, leaf)
		if err != nil {
			return object.Delta{}, err
		}
		if delta, ok := cs.DeltaFor(ancestor); ok {
			return delta, nil
		}
	}
	before, err := db.RecordSet(ctx, ancestor)
	if err != nil {
		return object.Delta{}, err
	}
	after, err := db.RecordSet(ctx, leaf)
	if err != nil {
		return object.Delta{}, err
	}
	return SetDelta(ancestor, before, after), nil
}

// SetDelta returns the delta between two record sets.
func SetDelta(parent datamodel.Link, before, after []datamodel.Link) object.Delta {
	delta := object.Delta{Parent: parent}
	old := make(map[string]struct{}, len(before))
	for _, l := range before {
		old[l.String()] = struct{}{}
	}
	cur := make(map[string]struct{}, len(after))
	for _, l := range after {
		cur[l.String()] = struct{}{}
		if _, ok := old[l.String()]; !ok {
			delta.Add = append(delta.Add, l)
		}
	}
	for _, l := range before {
		if _, ok := cur[l.String()]; !ok {
			delta.Remove = append(delta.Remove, l)
		}
	}
	object.SortLinks(delta.Add)
	object.SortLinks(delta.Remove)
	return delta
}

// ApplyDelta returns the sorted record set produced by applying the delta to the record set.
func ApplyDelta(records []datamodel.Link, delta object.Delta) []datamodel.Link {
	remove := make(map[string]struct{}, len(delta.Remove))
	for _, l := range delta.Remove {
		remove[l.String()] = struct{}{}
	}
	seen := make(map[string]struct{}, len(records)+len(delta.Add))
	out := make([]datamodel.Link, 0, len(records)+len(delta.Add))
	for _, l := range slices.Concat(records, delta.Add) {
		if _, ok := remove[l.String()]; ok {
			continue
		}
		if _, ok := seen[l.String()]; ok {
			continue
		}
		seen[l.String()] = struct{}{}
		out = append(out, l)
	}
	object.SortLinks(out)
	return out
}
