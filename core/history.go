package core

import (
	"cmp"
	"context"
	"slices"

	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// HistoryEntry is a changeset that wrote a version of a record.
type HistoryEntry struct {
	Changeset  datamodel.Link
	Generation int64
	User       string
	Timestamp  int64
	// Created is true when the changeset introduced the record id.
	Created bool
}

// Audits returns the audit entries of the changeset.
func (db *DB) Audits(ctx context.Context, csid datamodel.Link) ([]object.Audit, error) {
	cs, err := db.Changeset(ctx, csid)
	if err != nil {
		return nil, err
	}
	return cs.Audits, nil
}

// History returns every changeset reachable from heads that wrote the record id.
//
// A changeset with several parents is only credited with versions that none of
// its parents hold, so merges do not count as edits of the records they pull in.
// Entries are ordered by timestamp ascending, then by generation.
func (db *DB) History(ctx context.Context, heads []datamodel.Link, recid string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	iter := db.ChangesetIterator(heads...)
	for !iter.Done() {
		lnk, cs, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		written, created, err := db.writesRecID(ctx, lnk, cs, recid)
		if err != nil {
			return nil, err
		}
		if !written {
			continue
		}
		audit := cs.Audit()
		entries = append(entries, HistoryEntry{
			Changeset:  lnk,
			Generation: cs.Generation,
			User:       audit.User,
			Timestamp:  audit.Timestamp,
			Created:    created,
		})
	}
	slices.SortStableFunc(entries, func(a, b HistoryEntry) int {
		if a.Timestamp != b.Timestamp {
			return cmp.Compare(a.Timestamp, b.Timestamp)
		}
		return cmp.Compare(a.Generation, b.Generation)
	})
	return entries, nil
}

// writesRecID reports whether the changeset added a version of the record id
// that is new against every parent, and whether no parent held the id before.
func (db *DB) writesRecID(ctx context.Context, lnk datamodel.Link, cs *object.Changeset, recid string) (written, created bool, err error) {
	if len(cs.Parents) == 0 {
		records, err := db.RecordSet(ctx, lnk)
		if err != nil {
			return false, false, err
		}
		added, err := db.findRecID(ctx, records, recid)
		return added != nil, added != nil, err
	}
	created = true
	var version datamodel.Link
	for _, p := range cs.Parents {
		delta, err := db.Diff(ctx, p, lnk)
		if err != nil {
			return false, false, err
		}
		added, err := db.findRecID(ctx, delta.Add, recid)
		if err != nil {
			return false, false, err
		}
		if added == nil || (version != nil && !link.Equal(version, added)) {
			return false, false, nil
		}
		version = added
		removed, err := db.findRecID(ctx, delta.Remove, recid)
		if err != nil {
			return false, false, err
		}
		created = created && removed == nil
	}
	return true, created, nil
}

// findRecID returns the first link whose record has the given id.
func (db *DB) findRecID(ctx context.Context, links []datamodel.Link, recid string) (datamodel.Link, error) {
	for _, l := range links {
		rec, err := db.Record(ctx, l)
		if err != nil {
			return nil, err
		}
		if rec.RecID == recid {
			return l, nil
		}
	}
	return nil, nil
}
