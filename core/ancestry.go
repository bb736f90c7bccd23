package core

import (
	"context"
	"slices"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// MergeBase returns the best common ancestor for merging the two given changesets.
//
// When more than one independent common ancestor exists the one with the
// highest generation is returned. A nil link means the changesets share no history.
func (db *DB) MergeBase(ctx context.Context, a, b datamodel.Link) (datamodel.Link, error) {
	bases, err := db.MergeBases(ctx, a, b)
	if err != nil || len(bases) == 0 {
		return nil, err
	}
	var (
		best       datamodel.Link
		generation int64 = -1
	)
	for _, l := range bases {
		cs, err := db.Changeset(ctx, l)
		if err != nil {
			return nil, err
		}
		if cs.Generation > generation || (cs.Generation == generation && l.String() < best.String()) {
			best = l
			generation = cs.Generation
		}
	}
	return best, nil
}

// MergeBases returns all independent common ancestors of the two given changesets.
func (db *DB) MergeBases(ctx context.Context, a, b datamodel.Link) ([]datamodel.Link, error) {
	seen := make(map[string]struct{})
	aIter := db.ChangesetIterator(a)
	for !aIter.Done() {
		lnk, _, err := aIter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if lnk.String() == b.String() {
			return []datamodel.Link{lnk}, nil
		}
		seen[lnk.String()] = struct{}{}
	}
	var links []datamodel.Link
	bIter := db.ChangesetIterator(b)
	for !bIter.Done() {
		lnk, _, err := bIter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[lnk.String()]; ok {
			links = append(links, lnk)
			// ancestors of a common ancestor are never independent
			bIter.Skip()
		}
	}
	return db.Independents(ctx, links)
}

// Independents returns a list links where each entry is not an ancestor of any other entry.
func (db *DB) Independents(ctx context.Context, links []datamodel.Link) ([]datamodel.Link, error) {
	keep := make(map[string]struct{})
	for _, l := range links {
		keep[l.String()] = struct{}{}
	}
	for _, l := range links {
		if _, ok := keep[l.String()]; !ok {
			continue
		}
		iter := db.ChangesetIterator(l)
		for !iter.Done() {
			lnk, _, err := iter.Next(ctx)
			if err != nil {
				return nil, err
			}
			if lnk.String() != l.String() {
				delete(keep, lnk.String())
			}
		}
	}
	result := make([]datamodel.Link, 0, len(keep))
	for _, l := range links {
		if _, ok := keep[l.String()]; ok {
			result = append(result, l)
		}
	}
	return slices.Clip(result), nil
}

// IsAncestor returns true if the old changeset is an ancestor of the new changeset.
//
// A changeset is considered an ancestor of itself.
func (db *DB) IsAncestor(ctx context.Context, oldLink, newLink datamodel.Link) (bool, error) {
	iter := db.ChangesetIterator(newLink)
	for !iter.Done() {
		lnk, _, err := iter.Next(ctx)
		if err != nil {
			return false, err
		}
		if lnk.String() == oldLink.String() {
			return true, nil
		}
	}
	return false, nil
}
