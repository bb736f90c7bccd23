package core

import (
	"context"

	"github.com/nasdf/zing/object"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// ChangesetIterator walks a changeset and all of its ancestors breadth first.
type ChangesetIterator struct {
	db   *DB
	next []datamodel.Link
	seen map[string]struct{}
	prev int
}

// ChangesetIterator returns a new iterator that visits the given changesets and all of their ancestors.
func (db *DB) ChangesetIterator(heads ...datamodel.Link) *ChangesetIterator {
	iter := &ChangesetIterator{
		db:   db,
		seen: make(map[string]struct{}),
	}
	for _, h := range heads {
		if _, ok := iter.seen[h.String()]; ok {
			continue
		}
		iter.seen[h.String()] = struct{}{}
		iter.next = append(iter.next, h)
	}
	return iter
}

// Done returns true if the iterator has no items left.
func (i *ChangesetIterator) Done() bool {
	return len(i.next) == 0
}

// Skip skips the parents of the last changeset visited by the iterator.
func (i *ChangesetIterator) Skip() {
	i.next = i.next[:i.prev]
	i.prev = len(i.next)
}

// Next returns the next changeset from the iterator.
func (i *ChangesetIterator) Next(ctx context.Context) (datamodel.Link, *object.Changeset, error) {
	lnk := i.next[0]
	i.next = i.next[1:]
	i.prev = len(i.next)

	cs, err := i.db.Changeset(ctx, lnk)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range cs.Parents {
		if _, ok := i.seen[p.String()]; ok {
			continue
		}
		i.seen[p.String()] = struct{}{}
		i.next = append(i.next, p)
	}
	return lnk, cs, nil
}
