package core

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/storage"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// ErrTxDone is returned when using a write transaction after commit or abort.
var ErrTxDone = errors.New("write transaction is done")

// CommitInput contains everything needed to write a changeset.
type CommitInput struct {
	Parents  []datamodel.Link
	Template datamodel.Link
	// Records is the full record set of the new changeset.
	Records []datamodel.Link
	// Deltas are precomputed deltas against parents. Missing deltas are computed.
	Deltas      []object.Delta
	Audits      []object.Audit
	Attachments map[string]datamodel.Link
}

// WriteTx stages blobs for a single changeset of a dag.
//
// Nothing is visible to readers of the DB until Commit succeeds.
type WriteTx struct {
	db      *DB
	dag     string
	overlay *storage.Overlay
	links   *link.Store
	done    bool
}

// Begin starts a new write transaction for the dag.
func (db *DB) Begin(dag string) *WriteTx {
	overlay := storage.NewOverlay(db.store)
	return &WriteTx{
		db:      db,
		dag:     dag,
		overlay: overlay,
		links:   link.NewStore(overlay),
	}
}

// Dag returns the name of the dag the transaction writes to.
func (tx *WriteTx) Dag() string {
	return tx.dag
}

// StoreNode stages the node and returns its link.
func (tx *WriteTx) StoreNode(ctx context.Context, n datamodel.Node) (datamodel.Link, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.links.Store(ctx, n)
}

// StoreRecord stages the record and sets its hash.
func (tx *WriteTx) StoreRecord(ctx context.Context, rec *object.Record) (datamodel.Link, error) {
	n, err := object.RecordNode(rec)
	if err != nil {
		return nil, err
	}
	lnk, err := tx.StoreNode(ctx, n)
	if err != nil {
		return nil, err
	}
	rec.Hash = lnk
	return lnk, nil
}

// Commit writes the changeset and all staged blobs, then replaces the parents
// in the leaf index with the new changeset.
//
// Committing on top of a changeset that is no longer a leaf forks the dag.
func (tx *WriteTx) Commit(ctx context.Context, in CommitInput) (*object.Changeset, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	cs := &object.Changeset{
		Parents:     slices.Clone(in.Parents),
		Template:    in.Template,
		Audits:      slices.Clone(in.Audits),
		Attachments: in.Attachments,
		Generation:  1,
	}
	if cs.Attachments == nil {
		cs.Attachments = make(map[string]datamodel.Link)
	}
	slices.SortStableFunc(cs.Audits, func(a, b object.Audit) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	for _, p := range in.Parents {
		parent, err := tx.db.Changeset(ctx, p)
		if err != nil {
			return nil, err
		}
		cs.Generation = max(cs.Generation, parent.Generation+1)

		delta, ok := deltaFor(in.Deltas, p)
		if !ok {
			before, err := tx.db.RecordSet(ctx, p)
			if err != nil {
				return nil, err
			}
			delta = SetDelta(p, before, in.Records)
		}
		cs.Deltas = append(cs.Deltas, delta)
	}
	recordsNode, err := object.LinkListNode(in.Records)
	if err != nil {
		return nil, err
	}
	cs.Records, err = tx.links.Store(ctx, recordsNode)
	if err != nil {
		return nil, err
	}
	csNode, err := object.ChangesetNode(cs)
	if err != nil {
		return nil, err
	}
	cs.Hash, err = tx.links.Store(ctx, csNode)
	if err != nil {
		return nil, err
	}

	tx.db.lock.Lock()
	defer tx.db.lock.Unlock()

	leaves, err := tx.db.Leaves(ctx, tx.dag)
	if err != nil {
		return nil, err
	}
	if err := tx.overlay.Flush(ctx); err != nil {
		return nil, err
	}
	next := slices.DeleteFunc(leaves, func(l datamodel.Link) bool {
		return slices.ContainsFunc(in.Parents, func(p datamodel.Link) bool { return link.Equal(l, p) })
	})
	if !slices.ContainsFunc(next, func(l datamodel.Link) bool { return link.Equal(l, cs.Hash) }) {
		next = append(next, cs.Hash)
	}
	if err := tx.db.setLeaves(ctx, tx.dag, next); err != nil {
		return nil, err
	}
	tx.done = true
	return cs, nil
}

// Abort discards every staged blob.
func (tx *WriteTx) Abort() {
	tx.overlay.Discard()
	tx.done = true
}

func deltaFor(deltas []object.Delta, parent datamodel.Link) (object.Delta, bool) {
	for _, d := range deltas {
		if link.Equal(d.Parent, parent) {
			return d, true
		}
	}
	return object.Delta{}, false
}
