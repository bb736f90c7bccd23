package merge

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/nasdf/zing/core"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/storage"
	"github.com/nasdf/zing/template"
	"github.com/nasdf/zing/txn"
	"github.com/nasdf/zing/value"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ticketSource = `
type Ticket @merge(record: ["most_recent"], fallback: ["most_recent"]) {
	title: String
	status: String @automerge(ops: ["most_recent"], journal: "MergeLog", journalFields: ["recid=#RECID#", "field=#FIELD_NAME#", "val0=#VAL0#", "val1=#VAL1#", "merged=#MERGED_VALUE#", "op=#OP#"])
	points: Int @automerge(ops: ["max"])
	estimate: Float @automerge(ops: ["average"])
	notes: String @automerge(ops: ["concat"])
	label: String @automerge(ops: ["longest"])
	name: String @unique
}

type MergeLog {
	recid: String
	field: String
	val0: String
	val1: String
	merged: String
	op: String
}
`

const plainSource = `
type Ticket @merge(fallback: ["most_recent"]) {
	title: String
	status: String @automerge(ops: ["least_recent"])
	points: Int @automerge(ops: ["max"])
}
`

type fixture struct {
	db        *core.DB
	templates *template.Provider
	tmpl      *template.Template
	seed      uint64
}

func newFixture(t *testing.T, source string, opts template.Options) *fixture {
	db, err := core.Open(storage.NewMemory(), core.Options{})
	require.NoError(t, err)
	caches, err := template.NewCaches(0, 0, 0)
	require.NoError(t, err)
	tmpl, err := template.Parse(source, opts)
	require.NoError(t, err)
	return &fixture{
		db:        db,
		templates: template.NewProvider(db, caches),
		tmpl:      tmpl,
	}
}

func (f *fixture) rand() *rand.Rand {
	f.seed++
	return rand.New(rand.NewPCG(f.seed, 3))
}

// commit commits a changeset on top of parent staged by fn.
func (f *fixture) commit(t *testing.T, user string, ts int64, parent datamodel.Link, fn func(tx *txn.Transaction)) *object.Changeset {
	ctx := context.Background()
	tx, err := txn.Begin(ctx, f.db, f.tmpl, txn.Options{
		Dag:      "tickets",
		User:     user,
		Baseline: parent,
		Rand:     f.rand(),
	})
	require.NoError(t, err)
	if parent != nil {
		require.NoError(t, tx.AddParent(parent))
	}
	fn(tx)
	cs, err := tx.Commit(ctx, ts)
	require.NoError(t, err)
	return cs
}

func (f *fixture) merge(a, b *object.Changeset) (*Result, error) {
	return Automerge(context.Background(), f.db, f.templates, Options{
		Dag:       "tickets",
		Leaves:    [2]datamodel.Link{a.Hash, b.Hash},
		User:      "carol",
		Timestamp: 300,
		Rand:      f.rand(),
	})
}

func (f *fixture) dump(t *testing.T, cs *object.Changeset) map[string]value.Map {
	dump, err := f.db.Dump(context.Background(), cs.Hash)
	require.NoError(t, err)
	return dump
}

func addTicket(t *testing.T, recid string, fields value.Map) func(tx *txn.Transaction) {
	return func(tx *txn.Transaction) {
		require.NoError(t, tx.AddRecord(object.NewRecord(recid, "Ticket", fields)))
	}
}

func setField(t *testing.T, recid, field string, v value.Value) func(tx *txn.Transaction) {
	return func(tx *txn.Transaction) {
		require.NoError(t, tx.SetField(recid, field, v))
	}
}

func TestAutomergeMostRecentField(t *testing.T) {
	f := newFixture(t, ticketSource, template.Options{})
	root := f.commit(t, "alice", 10, nil, addTicket(t, "r1", value.Map{
		"title":  value.String("bug"),
		"status": value.String("open"),
	}))
	a := f.commit(t, "alice", 100, root.Hash, setField(t, "r1", "status", value.String("closed")))
	b := f.commit(t, "bob", 200, root.Hash, setField(t, "r1", "status", value.String("reopened")))

	res, err := f.merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, root.Hash.String(), res.Ancestor.String())
	assert.Equal(t, 1, res.Counts.ModifyModify)
	assert.Equal(t, []string{a.Hash.String(), b.Hash.String()}, []string{res.Node.Parents[0].String(), res.Node.Parents[1].String()})
	assert.Equal(t, "carol", res.Node.Audit().User)

	dump := f.dump(t, res.Node)
	assert.Equal(t, value.String("reopened"), dump["r1"]["status"])
	assert.Equal(t, value.String("bug"), dump["r1"]["title"])

	require.Len(t, res.Journals, 1)
	assert.Equal(t, "MergeLog", res.Journals[0].RecType)
	assert.Equal(t, map[string]string{
		"recid":  "r1",
		"field":  "status",
		"val0":   "closed",
		"val1":   "reopened",
		"merged": "reopened",
		"op":     "most_recent",
	}, res.Journals[0].Fields)

	var logs int
	for _, fields := range dump {
		if _, ok := fields["merged"]; ok {
			logs++
		}
	}
	assert.Equal(t, 1, logs)

	leaves, err := f.db.Leaves(context.Background(), "tickets")
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, res.Node.Hash.String(), leaves[0].String())
}

func TestAutomergeIdenticalAdds(t *testing.T) {
	f := newFixture(t, ticketSource, template.Options{})
	root := f.commit(t, "alice", 10, nil, func(*txn.Transaction) {})
	fields := value.Map{"title": value.String("same")}
	a := f.commit(t, "alice", 100, root.Hash, addTicket(t, "r1", fields))
	b := f.commit(t, "bob", 200, root.Hash, addTicket(t, "r1", fields))

	res, err := f.merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Adds)
	assert.Zero(t, res.Counts.Conflicts())
	assert.Empty(t, res.Journals)

	dump := f.dump(t, res.Node)
	require.Len(t, dump, 1)
	assert.Equal(t, value.String("same"), dump["r1"]["title"])
}

func TestAutomergeUniqify(t *testing.T) {
	f := newFixture(t, ticketSource, template.Options{})
	root := f.commit(t, "alice", 10, nil, func(*txn.Transaction) {})
	a := f.commit(t, "alice", 100, root.Hash, addTicket(t, "r1", value.Map{"name": value.String("bob")}))
	b := f.commit(t, "bob", 200, root.Hash, addTicket(t, "r2", value.Map{"name": value.String("bob")}))

	res, err := f.merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, 2, res.Counts.Adds)

	require.Len(t, res.Uniqified, 1)
	assert.Equal(t, "r2", res.Uniqified[0].RecID)

	dump := f.dump(t, res.Node)
	require.Len(t, dump, 2)
	assert.Equal(t, value.String("bob"), dump["r1"]["name"])
	assert.NotEqual(t, dump["r1"]["name"], dump["r2"]["name"])
	assert.Equal(t, res.Uniqified[0].New, dump["r2"]["name"])
}

func TestAutomergeAddAdd(t *testing.T) {
	f := newFixture(t, ticketSource, template.Options{})
	root := f.commit(t, "alice", 10, nil, func(*txn.Transaction) {})
	a := f.commit(t, "alice", 100, root.Hash, addTicket(t, "r1", value.Map{"title": value.String("a")}))
	b := f.commit(t, "bob", 200, root.Hash, addTicket(t, "r1", value.Map{"title": value.String("b")}))

	res, err := f.merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.AddAdd)
	assert.Equal(t, value.String("b"), f.dump(t, res.Node)["r1"]["title"])
}

func TestAutomergeDeleteModify(t *testing.T) {
	f := newFixture(t, ticketSource, template.Options{})
	root := f.commit(t, "alice", 10, nil, addTicket(t, "r1", value.Map{"title": value.String("bug")}))
	a := f.commit(t, "alice", 200, root.Hash, func(tx *txn.Transaction) {
		require.NoError(t, tx.DeleteRecord("r1"))
	})
	b := f.commit(t, "bob", 100, root.Hash, setField(t, "r1", "title", value.String("feature")))

	res, err := f.merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.DeleteModify)
	assert.Empty(t, f.dump(t, res.Node))

	// the modification wins when it is more recent
	c := f.commit(t, "bob", 300, root.Hash, setField(t, "r1", "title", value.String("task")))
	res, err = f.merge(a, c)
	require.NoError(t, err)
	assert.Equal(t, value.String("task"), f.dump(t, res.Node)["r1"]["title"])
}

func TestAutomergeFieldRules(t *testing.T) {
	f := newFixture(t, ticketSource, template.Options{})
	root := f.commit(t, "alice", 10, nil, addTicket(t, "r1", value.Map{
		"title":    value.String("t"),
		"status":   value.String("open"),
		"points":   value.Int(1),
		"label":    value.String("x"),
		"estimate": value.Float(1),
		"name":     value.String("n1"),
	}))
	a := f.commit(t, "alice", 100, root.Hash, func(tx *txn.Transaction) {
		p, err := tx.ModifyRecord("r1")
		require.NoError(t, err)
		require.NoError(t, p.Set("points", nil))
		require.NoError(t, p.Set("notes", value.String("n")))
		require.NoError(t, p.Set("label", value.String("ab")))
		require.NoError(t, p.Set("estimate", value.Float(2)))
	})
	b := f.commit(t, "bob", 200, root.Hash, func(tx *txn.Transaction) {
		p, err := tx.ModifyRecord("r1")
		require.NoError(t, err)
		require.NoError(t, p.Set("title", value.String("T2")))
		require.NoError(t, p.Set("label", value.String("abcd")))
		require.NoError(t, p.Set("estimate", value.Float(4)))
	})

	res, err := f.merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, value.Map{
		"title":    value.String("T2"),
		"status":   value.String("open"),
		"notes":    value.String("n"),
		"label":    value.String("abcd"),
		"estimate": value.Float(3),
		"name":     value.String("n1"),
	}, f.dump(t, res.Node)["r1"])
	assert.Empty(t, res.Journals)
}

func TestAutomergeCommutative(t *testing.T) {
	f := newFixture(t, plainSource, template.Options{})
	root := f.commit(t, "alice", 10, nil, func(tx *txn.Transaction) {
		addTicket(t, "r1", value.Map{"title": value.String("t"), "status": value.String("open"), "points": value.Int(1)})(tx)
		addTicket(t, "r2", value.Map{"title": value.String("x")})(tx)
	})
	a := f.commit(t, "alice", 100, root.Hash, func(tx *txn.Transaction) {
		setField(t, "r1", "title", value.String("A"))(tx)
		setField(t, "r1", "status", value.String("a"))(tx)
		setField(t, "r1", "points", value.Int(5))(tx)
		addTicket(t, "r3", value.Map{"title": value.String("new")})(tx)
	})
	b := f.commit(t, "bob", 200, root.Hash, func(tx *txn.Transaction) {
		setField(t, "r1", "title", value.String("B"))(tx)
		setField(t, "r1", "status", value.String("b"))(tx)
		setField(t, "r1", "points", value.Int(3))(tx)
		require.NoError(t, tx.DeleteRecord("r2"))
	})

	ab, err := f.merge(a, b)
	require.NoError(t, err)
	ba, err := f.merge(b, a)
	require.NoError(t, err)

	want := map[string]value.Map{
		"r1": {"title": value.String("B"), "status": value.String("a"), "points": value.Int(5)},
		"r3": {"title": value.String("new")},
	}
	assert.Equal(t, want, f.dump(t, ab.Node))
	assert.Equal(t, want, f.dump(t, ba.Node))
	assert.Equal(t, ab.Node.Generation, ba.Node.Generation)
}

func TestAutomergeAbsorbed(t *testing.T) {
	f := newFixture(t, plainSource, template.Options{})
	root := f.commit(t, "alice", 10, nil, addTicket(t, "r1", value.Map{"title": value.String("t")}))
	a := f.commit(t, "alice", 100, root.Hash, setField(t, "r1", "title", value.String("A")))
	b := f.commit(t, "bob", 200, root.Hash, addTicket(t, "r2", value.Map{"title": value.String("B")}))

	merged, err := f.merge(a, b)
	require.NoError(t, err)

	again, err := f.merge(merged.Node, b)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, again.State)
	assert.Equal(t, merged.Node.Hash.String(), again.Node.Hash.String())
	assert.Equal(t, f.dump(t, merged.Node), f.dump(t, again.Node))

	leaves, err := f.db.Leaves(context.Background(), "tickets")
	require.NoError(t, err)
	assert.Len(t, leaves, 1)
}

func TestAutomergeUnimplementedRecordPolicy(t *testing.T) {
	f := newFixture(t, `type Ticket @merge(record: ["merge_fields"]) { title: String }`, template.Options{})
	root := f.commit(t, "alice", 10, nil, func(*txn.Transaction) {})
	a := f.commit(t, "alice", 100, root.Hash, addTicket(t, "r1", value.Map{"title": value.String("a")}))
	b := f.commit(t, "bob", 200, root.Hash, addTicket(t, "r1", value.Map{"title": value.String("b")}))

	res, err := f.merge(a, b)
	assert.ErrorIs(t, err, template.ErrUnimplementedPolicy)
	assert.Equal(t, StateFatal, res.State)
	assert.Nil(t, res.Node)

	leaves, err := f.db.Leaves(context.Background(), "tickets")
	require.NoError(t, err)
	assert.Len(t, leaves, 2)
}

func TestAutomergeTrivial(t *testing.T) {
	f := newFixture(t, `type Tag { name: String }`, template.Options{Trivial: true})
	tag := func(name string) *object.Record {
		return object.NewRecord("", "Tag", value.Map{"name": value.String(name)})
	}
	root := f.commit(t, "alice", 10, nil, func(tx *txn.Transaction) {
		require.NoError(t, tx.AddRecord(tag("x")))
		require.NoError(t, tx.AddRecord(tag("z")))
	})
	var z string
	for id, fields := range f.dump(t, root) {
		if fields["name"] == value.String("z") {
			z = id
		}
	}
	require.NotEmpty(t, z)

	a := f.commit(t, "alice", 100, root.Hash, func(tx *txn.Transaction) {
		require.NoError(t, tx.AddRecord(tag("a")))
		require.NoError(t, tx.AddRecord(tag("same")))
	})
	b := f.commit(t, "bob", 200, root.Hash, func(tx *txn.Transaction) {
		require.NoError(t, tx.AddRecord(tag("b")))
		require.NoError(t, tx.AddRecord(tag("same")))
		require.NoError(t, tx.DeleteRecord(z))
	})

	res, err := f.merge(a, b)
	require.NoError(t, err)
	assert.Zero(t, res.Counts.Conflicts())

	var names []string
	for _, fields := range f.dump(t, res.Node) {
		names = append(names, fields["name"].String())
	}
	assert.ElementsMatch(t, []string{"x", "a", "b", "same"}, names)
}

func TestClassify(t *testing.T) {
	anc := object.NewRecord("r1", "Ticket", value.Map{"title": value.String("t")})
	v1 := object.NewRecord("r1", "Ticket", value.Map{"title": value.String("u")})
	col := &Collection{}
	col.changes = newChanges(
		&Changes{ID: "a", Sides: [2]Side{{Deleted: anc}, {Deleted: anc}}},
		&Changes{ID: "b", Sides: [2]Side{{Deleted: anc, Added: v1}, {}}},
		&Changes{ID: "c", Sides: [2]Side{{Deleted: anc}, {Deleted: anc, Added: v1}}},
		&Changes{ID: "d", Sides: [2]Side{{Added: v1}, {Deleted: anc}}},
	)
	_, err := Classify(col)
	assert.ErrorIs(t, err, ErrInconsistentChanges)

	col.changes.Remove("d")
	cls, err := Classify(col)
	require.NoError(t, err)
	assert.Equal(t, Counts{Deletes: 1, Mods: 1, DeleteModify: 1}, cls.Counts())
	assert.Same(t, v1, cls.Mods[0].Record)
}

func newChanges(changes ...*Changes) *treemap.Map {
	m := treemap.NewWithStringComparator()
	for _, c := range changes {
		m.Put(c.ID, c)
	}
	return m
}
