package merge

import (
	"context"

	"github.com/nasdf/zing/core"
	"github.com/nasdf/zing/object"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/ipld/go-ipld-prime/datamodel"
)

// Side is the change one leaf made to a record relative to the ancestor.
type Side struct {
	// Deleted is the ancestor version removed by the leaf.
	Deleted *object.Record
	// Added is the version added by the leaf.
	Added *object.Record
}

// Touched returns true if the leaf changed the record.
func (s Side) Touched() bool {
	return s.Deleted != nil || s.Added != nil
}

// Changes groups the changes both leaves made to one record.
type Changes struct {
	// ID is the record identity, the recid or the hash for records without one.
	ID    string
	Sides [2]Side
}

// Ancestor returns the ancestor version of the record, or nil if the record
// did not exist in the ancestor.
func (c *Changes) Ancestor() *object.Record {
	for _, s := range c.Sides {
		if s.Deleted != nil {
			return s.Deleted
		}
	}
	return nil
}

// Version returns the record as it exists in the given leaf, or nil if the
// leaf does not contain it.
func (c *Changes) Version(leaf int) *object.Record {
	if s := c.Sides[leaf]; s.Touched() {
		return s.Added
	}
	return c.Ancestor()
}

// RecType returns the record type of any version of the record.
func (c *Changes) RecType() string {
	for _, rec := range []*object.Record{c.Sides[0].Added, c.Sides[1].Added, c.Ancestor()} {
		if rec != nil {
			return rec.RecType
		}
	}
	return ""
}

// leaves returns the number of leaves that changed the record.
func (c *Changes) leaves() int {
	n := 0
	for _, s := range c.Sides {
		if s.Touched() {
			n++
		}
	}
	return n
}

// Collection holds the changes of two leaves grouped by record identity.
type Collection struct {
	Ancestor datamodel.Link
	Leaves   [2]datamodel.Link
	Deltas   [2]object.Delta

	changes *treemap.Map
}

// Collect diffs both leaves against the ancestor and groups the changed records.
//
// Records are grouped by recid. When byHash is set, as for collections
// without record identity, records are grouped by hash instead.
func Collect(ctx context.Context, db *core.DB, ancestor datamodel.Link, leaves [2]datamodel.Link, byHash bool) (*Collection, error) {
	col := &Collection{
		Ancestor: ancestor,
		Leaves:   leaves,
		changes:  treemap.NewWithStringComparator(),
	}
	for i, leaf := range leaves {
		delta, err := db.Diff(ctx, ancestor, leaf)
		if err != nil {
			return nil, err
		}
		col.Deltas[i] = delta
		for _, lnk := range delta.Remove {
			rec, err := db.Record(ctx, lnk)
			if err != nil {
				return nil, err
			}
			col.side(rec, byHash, i).Deleted = rec
		}
		for _, lnk := range delta.Add {
			rec, err := db.Record(ctx, lnk)
			if err != nil {
				return nil, err
			}
			col.side(rec, byHash, i).Added = rec
		}
	}
	return col, nil
}

func (c *Collection) side(rec *object.Record, byHash bool, leaf int) *Side {
	id := rec.Identity()
	if byHash {
		id = rec.Hash.String()
	}
	if found, ok := c.changes.Get(id); ok {
		return &found.(*Changes).Sides[leaf]
	}
	changes := &Changes{ID: id}
	c.changes.Put(id, changes)
	return &changes.Sides[leaf]
}

// Len returns the number of changed records.
func (c *Collection) Len() int {
	return c.changes.Size()
}

// Get returns the changes of the record with the given identity.
func (c *Collection) Get(id string) (*Changes, bool) {
	found, ok := c.changes.Get(id)
	if !ok {
		return nil, false
	}
	return found.(*Changes), true
}

// Changes returns the changes of every record ordered by identity.
func (c *Collection) Changes() []*Changes {
	out := make([]*Changes, 0, c.changes.Size())
	for _, v := range c.changes.Values() {
		out = append(out, v.(*Changes))
	}
	return out
}
