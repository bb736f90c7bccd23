package template

import (
	"context"
	"errors"
	"testing"

	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/storage"
	"github.com/nasdf/zing/value"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ticketSource = `
type Ticket @merge(record: ["most_recent"], fallback: ["most_recent"], journal: "MergeLog", journalFields: ["rec=#RECID#"]) {
	title: String! @automerge(ops: ["longest"])
	status: String @automerge(ops: ["most_recent"], journal: "MergeLog", journalFields: ["rec=#RECID#", "field=#FIELD_NAME#", "merged=#MERGED_VALUE#"]) @allowed(values: ["open", "closed", "reopened"])
	points: Int @range(min: 0, max: 100) @automerge(ops: ["max"]) @default(value: "1")
	name: String @unique(select: "least_impact", generate: "append_userprefix_unique") @length(min: 1, max: 32)
	code: ID @default(func: "uuid") @index
}

type MergeLog {
	rec: String
	field: String
	merged: String
}
`

func TestParse(t *testing.T) {
	tmpl, err := Parse(ticketSource, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"MergeLog", "Ticket"}, tmpl.RecTypes())
	assert.NotNil(t, tmpl.Hash)

	rt, err := tmpl.RecType("Ticket")
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "status", "points", "name", "code"}, rt.Fields)
	require.NotNil(t, rt.Record)
	assert.Equal(t, []Op{OpMostRecent}, rt.Record.Ops)
	require.NotNil(t, rt.Record.Journal)
	assert.Equal(t, "MergeLog", rt.Record.Journal.RecType)
	assert.Equal(t, map[string]string{"rec": "#RECID#"}, rt.Record.Journal.Fields)

	_, err = tmpl.RecType("Missing")
	assert.ErrorIs(t, err, ErrUnknownRecType)
}

func TestParseHash(t *testing.T) {
	a, err := Parse(ticketSource, Options{})
	require.NoError(t, err)
	b, err := Parse(ticketSource, Options{})
	require.NoError(t, err)
	c, err := Parse(ticketSource, Options{Fixed: true})
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestAttrs(t *testing.T) {
	tmpl, err := Parse(ticketSource, Options{})
	require.NoError(t, err)

	title, err := tmpl.Attrs("Ticket", "title")
	require.NoError(t, err)
	assert.Equal(t, TypeString, title.Type)
	assert.True(t, title.Required)
	assert.Equal(t, []Op{OpLongest}, title.Automerge.Ops)

	status, err := tmpl.Attrs("Ticket", "status")
	require.NoError(t, err)
	assert.False(t, status.Required)
	assert.Equal(t, []string{"open", "closed", "reopened"}, status.Constraints.Allowed)
	require.NotNil(t, status.Automerge.Journal)
	assert.Equal(t, "#MERGED_VALUE#", status.Automerge.Journal.Fields["merged"])

	points, err := tmpl.Attrs("Ticket", "points")
	require.NoError(t, err)
	assert.Equal(t, TypeInt, points.Type)
	require.NotNil(t, points.Constraints.Min)
	require.NotNil(t, points.Constraints.Max)
	assert.Equal(t, 0.0, *points.Constraints.Min)
	assert.Equal(t, 100.0, *points.Constraints.Max)
	assert.Equal(t, value.Int(1), points.Default)

	name, err := tmpl.Attrs("Ticket", "name")
	require.NoError(t, err)
	require.NotNil(t, name.Unique)
	assert.Equal(t, SelectLeastImpact, name.Unique.Select)
	assert.Equal(t, GenerateAppendUserPrefix, name.Unique.Generate)
	assert.Equal(t, DefaultUniqifyAlphabet, name.Unique.Alphabet)
	assert.Equal(t, 32, *name.Constraints.MaxLength)

	code, err := tmpl.Attrs("Ticket", "code")
	require.NoError(t, err)
	assert.Equal(t, TypeID, code.Type)
	assert.Equal(t, "uuid", code.DefaultFunc)
	assert.Nil(t, code.Default)
	assert.True(t, code.Index)

	again, err := tmpl.Attrs("Ticket", "code")
	require.NoError(t, err)
	assert.Same(t, code, again)

	_, err = tmpl.Attrs("Ticket", "missing")
	assert.ErrorIs(t, err, ErrUnknownField)

	unique, err := tmpl.UniqueFields("Ticket")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, unique)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(`type A { _recid: String }`, Options{})
	assert.ErrorIs(t, err, ErrReservedFieldName)

	_, err = Parse(`type A { tags: [String] }`, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedDatatype)

	_, err = Parse(`type A @merge(record: ["bogus"]) { a: String }`, Options{})
	assert.ErrorIs(t, err, ErrInvalidDirective)

	_, err = Parse(`type A { a: String @unknown }`, Options{})
	assert.Error(t, err)

	tmpl, err := Parse(`type A { a: Int @automerge(ops: ["nope"]) }`, Options{})
	require.NoError(t, err)
	_, err = tmpl.Attrs("A", "a")
	assert.ErrorIs(t, err, ErrInvalidDirective)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "A", schemaErr.RecType)
	assert.Equal(t, "a", schemaErr.Field)
}

func TestNumericUniqueAlphabet(t *testing.T) {
	tmpl, err := Parse(`type Seat {
		row: Int @unique
		price: Float @unique(alphabet: "13579", length: 2)
		bad: Int @unique(alphabet: "ab12")
		prefixed: Float @unique(generate: "append_userprefix_unique")
	}`, Options{})
	require.NoError(t, err)

	row, err := tmpl.Attrs("Seat", "row")
	require.NoError(t, err)
	assert.Equal(t, DigitUniqifyAlphabet, row.Unique.Alphabet)
	assert.Equal(t, GenerateAppendRandom, row.Unique.Generate)

	price, err := tmpl.Attrs("Seat", "price")
	require.NoError(t, err)
	assert.Equal(t, "13579", price.Unique.Alphabet)
	assert.Equal(t, 2, price.Unique.Length)

	_, err = tmpl.Attrs("Seat", "bad")
	assert.ErrorIs(t, err, ErrInvalidDirective)

	_, err = tmpl.Attrs("Seat", "prefixed")
	assert.ErrorIs(t, err, ErrInvalidDirective)
}

func TestOpApplies(t *testing.T) {
	assert.True(t, OpMax.Applies(TypeInt))
	assert.True(t, OpSum.Applies(TypeFloat))
	assert.False(t, OpAverage.Applies(TypeString))
	assert.True(t, OpConcat.Applies(TypeString))
	assert.False(t, OpLongest.Applies(TypeBoolean))
	assert.True(t, OpMostRecent.Applies(TypeBoolean))
	assert.False(t, OpMergeFields.Applies(TypeString))
}

type testLoader struct {
	store      *link.Store
	changesets map[string]*object.Changeset
	fixed      map[string]datamodel.Link
	loads      int
}

func (l *testLoader) Changeset(ctx context.Context, csid datamodel.Link) (*object.Changeset, error) {
	cs, ok := l.changesets[csid.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cs, nil
}

func (l *testLoader) LoadAny(ctx context.Context, lnk datamodel.Link) (datamodel.Node, error) {
	l.loads++
	return l.store.LoadAny(ctx, lnk)
}

func (l *testLoader) FixedTemplate(ctx context.Context, dag string) (datamodel.Link, error) {
	lnk, ok := l.fixed[dag]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return lnk, nil
}

func TestProvider(t *testing.T) {
	ctx := context.Background()
	loader := &testLoader{
		store:      link.NewStore(storage.NewMemory()),
		changesets: make(map[string]*object.Changeset),
		fixed:      make(map[string]datamodel.Link),
	}

	tmpl, err := Parse(ticketSource, Options{})
	require.NoError(t, err)
	node, err := tmpl.Node()
	require.NoError(t, err)
	lnk, err := loader.store.Store(ctx, node)
	require.NoError(t, err)
	require.Equal(t, tmpl.Hash.String(), lnk.String())

	fixed, err := Parse(ticketSource, Options{Fixed: true})
	require.NoError(t, err)
	fixedNode, err := fixed.Node()
	require.NoError(t, err)
	fixedLink, err := loader.store.Store(ctx, fixedNode)
	require.NoError(t, err)
	loader.fixed["tickets"] = fixedLink

	csid, err := link.Compute(node)
	require.NoError(t, err)
	loader.changesets[csid.String()] = &object.Changeset{Hash: csid, Template: tmpl.Hash}

	fixedCsid, err := link.Compute(fixedNode)
	require.NoError(t, err)
	loader.changesets[fixedCsid.String()] = &object.Changeset{Hash: fixedCsid}

	caches, err := NewCaches(0, 0, 0)
	require.NoError(t, err)
	provider := NewProvider(loader, caches)

	got, err := provider.ForChangeset(ctx, "tickets", csid)
	require.NoError(t, err)
	assert.True(t, got.Equal(tmpl))

	again, err := provider.ForChangeset(ctx, "tickets", csid)
	require.NoError(t, err)
	assert.Same(t, got, again)
	assert.Equal(t, 1, loader.loads)

	got, err = provider.ForChangeset(ctx, "tickets", fixedCsid)
	require.NoError(t, err)
	assert.True(t, got.Fixed)

	_, err = provider.Fixed(ctx, "comments")
	assert.ErrorIs(t, err, ErrMissingFixedTemplate)
}
