package core

import (
	"bytes"
	"context"
	"testing"

	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/storage"
	"github.com/nasdf/zing/value"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	db, err := Open(storage.NewMemory(), Options{QueryCacheSize: 8})
	require.NoError(t, err)
	return db
}

// commitRecords writes a changeset containing the parent's records plus adds minus removes.
func commitRecords(t *testing.T, db *DB, dag string, parents []datamodel.Link, ts int64, adds []*object.Record, removes ...datamodel.Link) *object.Changeset {
	ctx := context.Background()
	var base []datamodel.Link
	if len(parents) > 0 {
		var err error
		base, err = db.RecordSet(ctx, parents[0])
		require.NoError(t, err)
	}
	tx := db.Begin(dag)
	delta := object.Delta{Remove: removes}
	for _, rec := range adds {
		lnk, err := tx.StoreRecord(ctx, rec)
		require.NoError(t, err)
		delta.Add = append(delta.Add, lnk)
	}
	cs, err := tx.Commit(ctx, CommitInput{
		Parents: parents,
		Records: ApplyDelta(base, delta),
		Audits:  []object.Audit{{User: "alice", Timestamp: ts}},
	})
	require.NoError(t, err)
	return cs
}

func TestCommitAndLeaves(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	leaves, err := db.Leaves(ctx, "tickets")
	require.NoError(t, err)
	assert.Empty(t, leaves)

	root := commitRecords(t, db, "tickets", nil, 1, []*object.Record{
		object.NewRecord("r1", "Ticket", value.Map{"status": value.String("open")}),
	})
	assert.Equal(t, int64(1), root.Generation)

	a := commitRecords(t, db, "tickets", []datamodel.Link{root.Hash}, 2, nil)
	b := commitRecords(t, db, "tickets", []datamodel.Link{root.Hash}, 3, []*object.Record{
		object.NewRecord("r2", "Ticket", value.Map{"status": value.String("closed")}),
	})
	assert.Equal(t, int64(2), a.Generation)

	leaves, err = db.Leaves(ctx, "tickets")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Hash.String(), b.Hash.String()}, linkStrings(leaves))

	merged := commitRecords(t, db, "tickets", []datamodel.Link{a.Hash, b.Hash}, 4, []*object.Record{
		object.NewRecord("r2", "Ticket", value.Map{"status": value.String("closed")}),
	})
	assert.Equal(t, int64(3), merged.Generation)
	require.Len(t, merged.Deltas, 2)

	leaves, err = db.Leaves(ctx, "tickets")
	require.NoError(t, err)
	assert.Equal(t, []string{merged.Hash.String()}, linkStrings(leaves))

	dump, err := db.Dump(ctx, merged.Hash)
	require.NoError(t, err)
	assert.Equal(t, value.String("closed"), dump["r2"]["status"])
	assert.Equal(t, value.String("open"), dump["r1"]["status"])
}

func TestAbort(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx := db.Begin("tickets")
	rec := object.NewRecord("r1", "Ticket", value.Map{"title": value.String("a")})
	lnk, err := tx.StoreRecord(ctx, rec)
	require.NoError(t, err)
	tx.Abort()

	_, err = db.Record(ctx, lnk)
	assert.Error(t, err)

	_, err = tx.StoreRecord(ctx, rec)
	assert.ErrorIs(t, err, ErrTxDone)
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	r1 := object.NewRecord("r1", "Ticket", value.Map{"status": value.String("open")})
	root := commitRecords(t, db, "tickets", nil, 1, []*object.Record{r1})

	r1b := object.NewRecord("r1", "Ticket", value.Map{"status": value.String("closed")})
	a := commitRecords(t, db, "tickets", []datamodel.Link{root.Hash}, 2, []*object.Record{r1b}, r1.Hash)

	r2 := object.NewRecord("r2", "Ticket", value.Map{"status": value.String("open")})
	b := commitRecords(t, db, "tickets", []datamodel.Link{a.Hash}, 3, []*object.Record{r2})

	delta, err := db.Diff(ctx, root.Hash, a.Hash)
	require.NoError(t, err)
	assert.Equal(t, []string{r1b.Hash.String()}, linkStrings(delta.Add))
	assert.Equal(t, []string{r1.Hash.String()}, linkStrings(delta.Remove))

	// not a direct parent
	delta, err = db.Diff(ctx, root.Hash, b.Hash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{r1b.Hash.String(), r2.Hash.String()}, linkStrings(delta.Add))
	assert.Equal(t, []string{r1.Hash.String()}, linkStrings(delta.Remove))

	delta, err = db.Diff(ctx, nil, root.Hash)
	require.NoError(t, err)
	assert.Equal(t, []string{r1.Hash.String()}, linkStrings(delta.Add))
	assert.Empty(t, delta.Remove)

	delta, err = db.Diff(ctx, b.Hash, b.Hash)
	require.NoError(t, err)
	assert.True(t, delta.Empty())
}

func TestMergeBase(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	root := commitRecords(t, db, "tickets", nil, 1, nil)
	a := commitRecords(t, db, "tickets", []datamodel.Link{root.Hash}, 2, []*object.Record{
		object.NewRecord("a", "Ticket", value.Map{}),
	})
	a2 := commitRecords(t, db, "tickets", []datamodel.Link{a.Hash}, 3, []*object.Record{
		object.NewRecord("a2", "Ticket", value.Map{}),
	})
	b := commitRecords(t, db, "tickets", []datamodel.Link{root.Hash}, 4, []*object.Record{
		object.NewRecord("b", "Ticket", value.Map{}),
	})

	base, err := db.MergeBase(ctx, a2.Hash, b.Hash)
	require.NoError(t, err)
	assert.Equal(t, root.Hash.String(), base.String())

	base, err = db.MergeBase(ctx, a2.Hash, a.Hash)
	require.NoError(t, err)
	assert.Equal(t, a.Hash.String(), base.String())

	ok, err := db.IsAncestor(ctx, root.Hash, a2.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.IsAncestor(ctx, b.Hash, a2.Hash)
	require.NoError(t, err)
	assert.False(t, ok)

	independents, err := db.Independents(ctx, []datamodel.Link{root.Hash, a.Hash, b.Hash})
	require.NoError(t, err)
	assert.Equal(t, []string{a.Hash.String(), b.Hash.String()}, linkStrings(independents))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	r1 := object.NewRecord("r1", "Ticket", value.Map{"status": value.String("open")})
	root := commitRecords(t, db, "tickets", nil, 10, []*object.Record{r1})
	r1b := object.NewRecord("r1", "Ticket", value.Map{"status": value.String("closed")})
	a := commitRecords(t, db, "tickets", []datamodel.Link{root.Hash}, 20, []*object.Record{r1b}, r1.Hash)

	history, err := db.History(ctx, []datamodel.Link{a.Hash}, "r1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Created)
	assert.Equal(t, int64(10), history[0].Timestamp)
	assert.False(t, history[1].Created)
	assert.Equal(t, int64(20), history[1].Timestamp)
	assert.Equal(t, "alice", history[1].User)

	audits, err := db.Audits(ctx, a.Hash)
	require.NoError(t, err)
	assert.Equal(t, []object.Audit{{User: "alice", Timestamp: 20}}, audits)
}

func TestHistoryMergeParents(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	root := commitRecords(t, db, "tickets", nil, 10, nil)
	p1 := object.NewRecord("p1", "Person", value.Map{"name": value.String("a")})
	p2 := object.NewRecord("p2", "Person", value.Map{"name": value.String("b")})
	a := commitRecords(t, db, "tickets", []datamodel.Link{root.Hash}, 100, []*object.Record{p1})
	b := commitRecords(t, db, "tickets", []datamodel.Link{root.Hash}, 200, []*object.Record{p2})

	for _, parents := range [][]datamodel.Link{{a.Hash, b.Hash}, {b.Hash, a.Hash}} {
		merged := commitRecords(t, db, "tickets", parents, 300, []*object.Record{p1, p2})
		for _, id := range []string{"p1", "p2"} {
			history, err := db.History(ctx, []datamodel.Link{merged.Hash}, id)
			require.NoError(t, err)
			require.Len(t, history, 1, id)
			assert.True(t, history[0].Created)
			assert.NotEqual(t, int64(300), history[0].Timestamp)
		}
	}

	// a version synthesized by the merge is credited to it
	p1b := object.NewRecord("p1", "Person", value.Map{"name": value.String("c")})
	merged := commitRecords(t, db, "tickets", []datamodel.Link{a.Hash, b.Hash}, 400, []*object.Record{p1b, p2}, p1.Hash)
	history, err := db.History(ctx, []datamodel.Link{merged.Hash}, "p1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(400), history[1].Timestamp)
	assert.False(t, history[1].Created)
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	root := commitRecords(t, db, "users", nil, 1, []*object.Record{
		object.NewRecord("u1", "User", value.Map{"name": value.String("bob"), "age": value.Int(30)}),
		object.NewRecord("u2", "User", value.Map{"name": value.String("alice")}),
		object.NewRecord("t1", "Team", value.Map{"name": value.String("bob")}),
	})

	matches, err := db.Query(ctx, root.Hash, "User", FieldEquals, "name", value.String("bob"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "u1", matches[0].RecID)

	matches, err = db.Query(ctx, root.Hash, "", FieldEquals, "name", value.String("bob"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = db.Query(ctx, root.Hash, "User", "'age' in rec && rec.age > arg", "", value.Int(18))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "u1", matches[0].RecID)

	_, err = db.Query(ctx, root.Hash, "User", "rec.name +", "", nil)
	assert.Error(t, err)
}

func TestFixedTemplate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.FixedTemplate(ctx, "tickets")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	node, err := object.LinkListNode(nil)
	require.NoError(t, err)
	lnk, err := db.SetFixedTemplate(ctx, "tickets", node)
	require.NoError(t, err)

	got, err := db.FixedTemplate(ctx, "tickets")
	require.NoError(t, err)
	assert.Equal(t, lnk.String(), got.String())
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	root := commitRecords(t, db, "tickets", nil, 1, []*object.Record{
		object.NewRecord("r1", "Ticket", value.Map{"status": value.String("open")}),
	})
	var out bytes.Buffer
	require.NoError(t, db.Export(ctx, root.Hash, &out))
	assert.NotZero(t, out.Len())
}

func linkStrings(links []datamodel.Link) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.String()
	}
	return out
}
