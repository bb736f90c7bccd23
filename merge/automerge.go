// Package merge performs automatic three way merges of two dag leaves.
//
// Changes of both leaves relative to their merge base are collected per
// record, classified into pending changes and conflicts, resolved using the
// template policies, and committed as a changeset with both leaves as parents.
package merge

import (
	"context"
	log "log/slog"
	"math/rand/v2"

	"github.com/nasdf/zing/core"
	"github.com/nasdf/zing/journal"
	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/template"
	"github.com/nasdf/zing/txn"
	"github.com/nasdf/zing/uniqify"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// State is a step of the automerge state machine.
type State string

const (
	StateCollecting  State = "COLLECTING"
	StateClassifying State = "CLASSIFYING"
	StateResolving   State = "RESOLVING"
	StateCommit1     State = uniqify.StageCommit1
	StateUniqify     State = uniqify.StageUniqify
	StateCommit2     State = uniqify.StageCommit2
	StateSuccess     State = "SUCCESS"
	StateFatal       State = "FATAL"
)

// Options contains the settings of an automatic merge.
type Options struct {
	// Dag is the name of the collection dag.
	Dag string
	// Leaves are the two changesets to merge.
	Leaves [2]datamodel.Link
	// User is the acting user recorded in the audit entry.
	User string
	// Timestamp is recorded in the audit entry.
	Timestamp int64
	// Rand is the random source used by value generators.
	Rand *rand.Rand
}

// Counts contains the number of records in each classification bucket.
type Counts struct {
	Adds         int `json:"adds"`
	Deletes      int `json:"deletes"`
	Mods         int `json:"mods"`
	AddAdd       int `json:"add_add"`
	DeleteModify int `json:"delete_modify"`
	ModifyModify int `json:"modify_modify"`
}

// Conflicts returns the total number of conflicts.
func (c Counts) Conflicts() int {
	return c.AddAdd + c.DeleteModify + c.ModifyModify
}

// Result reports the outcome of an automatic merge.
type Result struct {
	// Node is the merged changeset.
	Node *object.Changeset
	// Ancestor is the merge base of the leaves, nil without shared history.
	Ancestor datamodel.Link
	// State is the last state entered.
	State     State
	Counts    Counts
	Journals  []journal.Entry
	Uniqified []uniqify.Decision
}

func (r *Result) enter(dag string, state State) {
	r.State = state
	log.Debug("automerge", "dag", dag, "state", state)
}

// Automerge merges two leaves of a dag into a new changeset.
//
// When one leaf descends from the other the descendant is returned and
// nothing is committed. On failure the result is returned in the FATAL state
// together with the error.
func Automerge(ctx context.Context, db *core.DB, templates *template.Provider, opts Options) (*Result, error) {
	res := &Result{}
	fail := func(err error) (*Result, error) {
		res.enter(opts.Dag, StateFatal)
		return res, err
	}
	res.enter(opts.Dag, StateCollecting)

	l0, l1 := opts.Leaves[0], opts.Leaves[1]
	ancestor, err := db.MergeBase(ctx, l0, l1)
	if err != nil {
		return fail(err)
	}
	res.Ancestor = ancestor
	if link.Equal(ancestor, l0) || link.Equal(ancestor, l1) {
		head := l0
		if link.Equal(ancestor, l0) {
			head = l1
		}
		if res.Node, err = db.Changeset(ctx, head); err != nil {
			return fail(err)
		}
		res.enter(opts.Dag, StateSuccess)
		return res, nil
	}
	cs0, err := db.Changeset(ctx, l0)
	if err != nil {
		return fail(err)
	}
	cs1, err := db.Changeset(ctx, l1)
	if err != nil {
		return fail(err)
	}
	base, tmpl, err := selectTemplate(ctx, templates, opts.Dag, cs0, cs1)
	if err != nil {
		return fail(err)
	}
	col, err := Collect(ctx, db, ancestor, opts.Leaves, tmpl.Trivial)
	if err != nil {
		return fail(err)
	}

	res.enter(opts.Dag, StateClassifying)
	cls, err := Classify(col)
	if err != nil {
		return fail(err)
	}
	res.Counts = cls.Counts()

	res.enter(opts.Dag, StateResolving)
	outcomes, journals, err := resolve(tmpl, cls, [2]object.Audit{cs0.Audit(), cs1.Audit()})
	if err != nil {
		return fail(err)
	}
	res.Journals = journals

	tx, err := txn.Begin(ctx, db, base, txn.Options{
		Dag:      opts.Dag,
		User:     opts.User,
		Baseline: l0,
		Rand:     opts.Rand,
	})
	if err != nil {
		return fail(err)
	}
	if err := stage(tx, tmpl, outcomes, l1); err != nil {
		tx.Abort()
		return fail(err)
	}
	for _, e := range journals {
		tx.QueueJournal(e)
	}

	cs, decisions, err := uniqify.Commit(ctx, tx, uniqify.Options{
		Timestamp: opts.Timestamp,
		Heads:     []datamodel.Link{l0, l1},
		Observe:   func(stage string) { res.enter(opts.Dag, State(stage)) },
	})
	res.Uniqified = decisions
	if err != nil {
		return fail(err)
	}
	res.Node = cs
	res.enter(opts.Dag, StateSuccess)
	return res, nil
}

// outcome is the merged version of one changed record, nil when deleted.
type outcome struct {
	changes *Changes
	record  *object.Record
}

func resolve(tmpl *template.Template, cls *Classification, audits [2]object.Audit) ([]outcome, []journal.Entry, error) {
	var out []outcome
	for _, bucket := range [][]Pending{cls.Adds, cls.Deletes, cls.Mods} {
		for _, p := range bucket {
			out = append(out, outcome{changes: p.Changes, record: p.Record})
		}
	}
	resolver := NewResolver(tmpl, audits)
	for _, c := range cls.Conflicts {
		rec, err := resolver.Resolve(c)
		if err != nil {
			return nil, nil, err
		}
		if rec != nil && rec.Hash == nil {
			n, err := object.RecordNode(rec)
			if err != nil {
				return nil, nil, err
			}
			if rec.Hash, err = link.Compute(n); err != nil {
				return nil, nil, err
			}
		}
		out = append(out, outcome{changes: c.Changes, record: rec})
	}
	return out, resolver.Journals(), nil
}

// stage applies the outcomes to a transaction based on the first leaf and
// sets the delta against the second leaf.
func stage(tx *txn.Transaction, tmpl *template.Template, outcomes []outcome, other datamodel.Link) error {
	if err := tx.AddParent(tx.Baseline()); err != nil {
		return err
	}
	if err := tx.AddParent(other); err != nil {
		return err
	}
	tx.SetTemplate(tmpl)

	delta := object.Delta{Parent: other}
	for _, o := range outcomes {
		if v0 := o.changes.Version(0); !sameRecord(v0, o.record) {
			var err error
			if o.record == nil {
				err = tx.DeleteRecord(v0.Identity())
			} else {
				err = tx.AddRecord(o.record)
			}
			if err != nil {
				return err
			}
		}
		if v1 := o.changes.Version(1); !sameRecord(v1, o.record) {
			if v1 != nil {
				delta.Remove = append(delta.Remove, v1.Hash)
			}
			if o.record != nil {
				delta.Add = append(delta.Add, o.record.Hash)
			}
		}
	}
	object.SortLinks(delta.Add)
	object.SortLinks(delta.Remove)
	tx.SetBaselineDelta(delta)
	return nil
}

// selectTemplate returns the template of the first leaf and the template of
// the merged changeset. Different templates resolve to the template of the
// leaf with the higher generation, the first leaf on a tie.
func selectTemplate(ctx context.Context, templates *template.Provider, dag string, cs0, cs1 *object.Changeset) (*template.Template, *template.Template, error) {
	t0, err := templates.ForChangeset(ctx, dag, cs0.Hash)
	if err != nil {
		return nil, nil, err
	}
	t1, err := templates.ForChangeset(ctx, dag, cs1.Hash)
	if err != nil {
		return nil, nil, err
	}
	if t0.Equal(t1) || cs0.Generation >= cs1.Generation {
		return t0, t0, nil
	}
	return t0, t1, nil
}
