package merge

import (
	"errors"
	"fmt"

	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"
)

// ErrInconsistentChanges is returned when the changes of two leaves cannot
// both descend from the same ancestor state.
var ErrInconsistentChanges = errors.New("inconsistent record changes")

// ConflictKind is the kind of a conflicting record change.
type ConflictKind string

const (
	ConflictAddAdd       ConflictKind = "add/add"
	ConflictDeleteModify ConflictKind = "delete/modify"
	ConflictModifyModify ConflictKind = "modify/modify"
)

// Conflict is a record changed differently by both leaves.
type Conflict struct {
	Kind    ConflictKind
	Changes *Changes
}

// Pending is a record change that merges without conflict.
type Pending struct {
	Changes *Changes
	// Record is the resulting version, nil for deletes.
	Record *object.Record
}

// Classification sorts every changed record into exactly one bucket.
type Classification struct {
	Adds      []Pending
	Deletes   []Pending
	Mods      []Pending
	Conflicts []Conflict
}

// Counts returns the number of records in each bucket.
func (c *Classification) Counts() Counts {
	counts := Counts{
		Adds:    len(c.Adds),
		Deletes: len(c.Deletes),
		Mods:    len(c.Mods),
	}
	for _, conflict := range c.Conflicts {
		switch conflict.Kind {
		case ConflictAddAdd:
			counts.AddAdd++
		case ConflictDeleteModify:
			counts.DeleteModify++
		case ConflictModifyModify:
			counts.ModifyModify++
		}
	}
	return counts
}

// Classify sorts the collected changes into pending changes and conflicts.
func Classify(col *Collection) (*Classification, error) {
	out := &Classification{}
	for _, c := range col.Changes() {
		if err := out.add(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (out *Classification) add(c *Changes) error {
	if c.leaves() == 1 {
		s := c.Sides[0]
		if !s.Touched() {
			s = c.Sides[1]
		}
		switch {
		case s.Added != nil && s.Deleted != nil:
			out.Mods = append(out.Mods, Pending{Changes: c, Record: s.Added})
		case s.Added != nil:
			out.Adds = append(out.Adds, Pending{Changes: c, Record: s.Added})
		default:
			out.Deletes = append(out.Deletes, Pending{Changes: c})
		}
		return nil
	}

	s0, s1 := c.Sides[0], c.Sides[1]
	deletedOnly0 := s0.Deleted != nil && s0.Added == nil
	deletedOnly1 := s1.Deleted != nil && s1.Added == nil
	addedOnly0 := s0.Added != nil && s0.Deleted == nil
	addedOnly1 := s1.Added != nil && s1.Deleted == nil
	modified0 := s0.Added != nil && s0.Deleted != nil
	modified1 := s1.Added != nil && s1.Deleted != nil

	switch {
	case deletedOnly0 && deletedOnly1:
		out.Deletes = append(out.Deletes, Pending{Changes: c})
	case addedOnly0 && addedOnly1:
		if link.Equal(s0.Added.Hash, s1.Added.Hash) {
			out.Adds = append(out.Adds, Pending{Changes: c, Record: s0.Added})
		} else {
			out.Conflicts = append(out.Conflicts, Conflict{Kind: ConflictAddAdd, Changes: c})
		}
	case deletedOnly0 && modified1, modified0 && deletedOnly1:
		out.Conflicts = append(out.Conflicts, Conflict{Kind: ConflictDeleteModify, Changes: c})
	case modified0 && modified1:
		if link.Equal(s0.Added.Hash, s1.Added.Hash) {
			out.Mods = append(out.Mods, Pending{Changes: c, Record: s0.Added})
		} else {
			out.Conflicts = append(out.Conflicts, Conflict{Kind: ConflictModifyModify, Changes: c})
		}
	default:
		return fmt.Errorf("%w: %s", ErrInconsistentChanges, c.ID)
	}
	return nil
}
