package merge

import (
	"testing"

	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/template"
	"github.com/nasdf/zing/value"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noteSource = `
type Note @merge(fallback: ["sum", "longest"]) {
	body: String
	size: Int @automerge(ops: ["min"])
	total: Int @automerge(ops: ["sum"])
	short: String @automerge(ops: ["shortest"])
	count: Int
	text: String @automerge(ops: ["concat"])
	pick: String @automerge(ops: ["allowed_last"])
}
`

func parseNote(t *testing.T) *template.Template {
	tmpl, err := template.Parse(noteSource, template.Options{})
	require.NoError(t, err)
	return tmpl
}

func modified(anc, v0, v1 value.Map) Conflict {
	a := object.NewRecord("n1", "Note", anc)
	return Conflict{
		Kind: ConflictModifyModify,
		Changes: &Changes{
			ID: "n1",
			Sides: [2]Side{
				{Deleted: a, Added: object.NewRecord("n1", "Note", v0)},
				{Deleted: a, Added: object.NewRecord("n1", "Note", v1)},
			},
		},
	}
}

func audits(t0, t1 int64) [2]object.Audit {
	return [2]object.Audit{{User: "alice", Timestamp: t0}, {User: "bob", Timestamp: t1}}
}

func TestResolveFieldPrecedence(t *testing.T) {
	r := NewResolver(parseNote(t), audits(100, 200))
	rec, err := r.Resolve(modified(
		value.Map{"body": value.String("a"), "size": value.Int(1), "short": value.String("s"), "count": value.Int(1)},
		value.Map{"body": value.String("a"), "size": value.Int(1), "total": value.Int(4), "count": value.Int(2)},
		value.Map{"body": value.String("b"), "short": value.String("s"), "count": value.Int(2)},
	))
	require.NoError(t, err)
	assert.Equal(t, "n1", rec.RecID)
	assert.Equal(t, value.Map{
		"body":  value.String("b"),
		"total": value.Int(4),
		"count": value.Int(2),
	}, rec.Fields)
	assert.Empty(t, r.Journals())
}

func TestResolveFieldOps(t *testing.T) {
	r := NewResolver(parseNote(t), audits(100, 100))
	rec, err := r.Resolve(modified(
		value.Map{"size": value.Int(5), "total": value.Int(1), "short": value.String("abc")},
		value.Map{"size": value.Int(3), "total": value.Int(2), "short": value.String("ab")},
		value.Map{"size": value.Int(4), "total": value.Int(3), "short": value.String("abcd")},
	))
	require.NoError(t, err)
	assert.Equal(t, value.Int(3), rec.Fields["size"])
	assert.Equal(t, value.Int(5), rec.Fields["total"])
	assert.Equal(t, value.String("ab"), rec.Fields["short"])
}

func TestResolveFallback(t *testing.T) {
	r := NewResolver(parseNote(t), audits(100, 200))
	rec, err := r.Resolve(modified(
		value.Map{"count": value.Int(1), "body": value.String("x")},
		value.Map{"count": value.Int(2), "body": value.String("longer")},
		value.Map{"count": value.Int(3), "body": value.String("y")},
	))
	require.NoError(t, err)
	// sum applies to Int only, longest to String only
	assert.Equal(t, value.Int(5), rec.Fields["count"])
	assert.Equal(t, value.String("longer"), rec.Fields["body"])
}

func TestResolveSafetyNet(t *testing.T) {
	r := NewResolver(parseNote(t), audits(100, 200))
	rec, err := r.Resolve(modified(
		value.Map{"body": value.String("same")},
		value.Map{"body": value.String("abc")},
		value.Map{"body": value.String("xyz")},
	))
	require.NoError(t, err)
	assert.Equal(t, value.String("xyz"), rec.Fields["body"])

	r = NewResolver(parseNote(t), audits(100, 100))
	rec, err = r.Resolve(modified(
		value.Map{"body": value.String("same")},
		value.Map{"body": value.String("abc")},
		value.Map{"body": value.String("xyz")},
	))
	require.NoError(t, err)
	assert.Equal(t, value.String("abc"), rec.Fields["body"])
	assert.Empty(t, r.Journals())
}

func TestResolveConcat(t *testing.T) {
	r := NewResolver(parseNote(t), audits(100, 200))
	rec, err := r.Resolve(modified(
		value.Map{"text": value.String("a\nb\nc\n")},
		value.Map{"text": value.String("A\nb\nc\n")},
		value.Map{"text": value.String("a\nb\nC\n")},
	))
	require.NoError(t, err)
	assert.Equal(t, value.String("A\nb\nC\n"), rec.Fields["text"])
}

func TestResolveUnimplemented(t *testing.T) {
	r := NewResolver(parseNote(t), audits(100, 200))
	_, err := r.Resolve(modified(
		value.Map{"pick": value.String("a")},
		value.Map{"pick": value.String("b")},
		value.Map{"pick": value.String("c")},
	))
	assert.ErrorIs(t, err, template.ErrUnimplementedPolicy)
}

func TestResolveRecordDefault(t *testing.T) {
	r := NewResolver(parseNote(t), audits(300, 200))
	v0 := object.NewRecord("n1", "Note", value.Map{"body": value.String("a")})
	v1 := object.NewRecord("n1", "Note", value.Map{"body": value.String("b")})
	rec, err := r.Resolve(Conflict{
		Kind:    ConflictAddAdd,
		Changes: &Changes{ID: "n1", Sides: [2]Side{{Added: v0}, {Added: v1}}},
	})
	require.NoError(t, err)
	assert.Same(t, v0, rec)
}

func TestConcat(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		hasBase bool
		v0      string
		v1      string
		want    string
	}{
		{name: "no base", v0: "a", v1: "b", want: "a\nb"},
		{name: "empty base", hasBase: true, v0: "a", v1: "b", want: "a\nb"},
		{name: "unchanged leaf", base: "x", hasBase: true, v0: "x", v1: "y", want: "y"},
		{name: "disjoint lines", base: "1\n2\n3\n4\n", hasBase: true, v0: "one\n2\n3\n4\n", v1: "1\n2\n3\nfour\n", want: "one\n2\n3\nfour\n"},
		{name: "same edit", base: "1\n2\n", hasBase: true, v0: "1\ntwo\n", v1: "1\ntwo\n", want: "1\ntwo\n"},
		{name: "append both", base: "1\n", hasBase: true, v0: "0\n1\n", v1: "1\n2\n", want: "0\n1\n2\n"},
		{name: "conflict", base: "x\n", hasBase: true, v0: "y\n", v1: "z\n", want: "y\n\nz\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, concat(tt.base, tt.hasBase, tt.v0, tt.v1))
		})
	}
}
