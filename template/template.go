// Package template parses collection templates and exposes the field metadata
// and merge policies declared in them.
//
// A template is a GraphQL SDL document. Every object type is a record type and
// every field is a record field. Merge, uniqify and validation behavior is
// declared with directives.
package template

import (
	_ "embed"
	"fmt"
	"slices"
	"sync"

	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed directives.graphql
var directivesSource string

const (
	templateSource  = "Source"
	templateFixed   = "Fixed"
	templateTrivial = "Trivial"
)

// Options contains the collection flags stored alongside the schema source.
type Options struct {
	// Fixed collections do not store a template link in their changesets.
	Fixed bool
	// Trivial collections have no record ids and are merged by set union.
	Trivial bool
}

// Template is a parsed collection template.
type Template struct {
	Hash    datamodel.Link
	Source  string
	Fixed   bool
	Trivial bool

	schema *ast.Schema
	types  map[string]*RecType
	names  []string

	// lock guards lazy construction of field attributes
	lock  sync.Mutex
	attrs map[fieldKey]*FieldAttrs
}

type fieldKey struct {
	rectype string
	field   string
}

// RecType describes a record type declared in a template.
type RecType struct {
	Name string
	// Fields contains the field names in declaration order.
	Fields []string
	// Record is the record level policy used for add/add and delete/modify conflicts.
	Record *Policy
	// Fallback is the field policy used when a field declares no applicable op.
	Fallback *Policy

	def *ast.Definition
}

// Parse parses the template source and computes its hash.
func Parse(source string, opts Options) (*Template, error) {
	schema, err := gqlparser.LoadSchema(
		&ast.Source{Name: "directives.graphql", Input: directivesSource, BuiltIn: true},
		&ast.Source{Name: "template.graphql", Input: source},
	)
	if err != nil {
		return nil, err
	}
	t := &Template{
		Source:  source,
		Fixed:   opts.Fixed,
		Trivial: opts.Trivial,
		schema:  schema,
		types:   make(map[string]*RecType),
		attrs:   make(map[fieldKey]*FieldAttrs),
	}
	for _, def := range schema.Types {
		if def.BuiltIn || def.Kind != ast.Object {
			continue
		}
		rt, err := parseRecType(def)
		if err != nil {
			return nil, err
		}
		t.types[rt.Name] = rt
		t.names = append(t.names, rt.Name)
	}
	slices.Sort(t.names)
	node, err := t.Node()
	if err != nil {
		return nil, err
	}
	t.Hash, err = link.Compute(node)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Decode returns the template represented by the given node.
func Decode(n datamodel.Node) (*Template, error) {
	sourceNode, err := n.LookupByString(templateSource)
	if err != nil {
		return nil, err
	}
	source, err := sourceNode.AsString()
	if err != nil {
		return nil, err
	}
	var opts Options
	fixedNode, err := n.LookupByString(templateFixed)
	if err != nil {
		return nil, err
	}
	if opts.Fixed, err = fixedNode.AsBool(); err != nil {
		return nil, err
	}
	trivialNode, err := n.LookupByString(templateTrivial)
	if err != nil {
		return nil, err
	}
	if opts.Trivial, err = trivialNode.AsBool(); err != nil {
		return nil, err
	}
	return Parse(source, opts)
}

// Node returns the node representation of the template.
func (t *Template) Node() (datamodel.Node, error) {
	return qp.BuildMap(basicnode.Prototype.Map, 3, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, templateSource, qp.String(t.Source))
		qp.MapEntry(ma, templateFixed, qp.Bool(t.Fixed))
		qp.MapEntry(ma, templateTrivial, qp.Bool(t.Trivial))
	})
}

// RecTypes returns the sorted names of all record types.
func (t *Template) RecTypes() []string {
	return slices.Clone(t.names)
}

// RecType returns the record type with the given name.
func (t *Template) RecType(name string) (*RecType, error) {
	rt, ok := t.types[name]
	if !ok {
		return nil, &SchemaError{RecType: name, Err: ErrUnknownRecType}
	}
	return rt, nil
}

// Attrs returns the attributes of the given field, building them on first use.
func (t *Template) Attrs(rectype, field string) (*FieldAttrs, error) {
	rt, err := t.RecType(rectype)
	if err != nil {
		return nil, err
	}
	key := fieldKey{rectype, field}

	t.lock.Lock()
	defer t.lock.Unlock()

	if attrs, ok := t.attrs[key]; ok {
		return attrs, nil
	}
	def := rt.def.Fields.ForName(field)
	if def == nil {
		return nil, &SchemaError{RecType: rectype, Field: field, Err: ErrUnknownField}
	}
	attrs, err := parseFieldAttrs(rectype, def)
	if err != nil {
		return nil, err
	}
	t.attrs[key] = attrs
	return attrs, nil
}

// UniqueFields returns the names of the unique fields of the record type.
func (t *Template) UniqueFields(rectype string) ([]string, error) {
	rt, err := t.RecType(rectype)
	if err != nil {
		return nil, err
	}
	var fields []string
	for _, name := range rt.Fields {
		attrs, err := t.Attrs(rectype, name)
		if err != nil {
			return nil, err
		}
		if attrs.Unique != nil {
			fields = append(fields, name)
		}
	}
	return fields, nil
}

// Equal returns true if both templates have the same hash.
func (t *Template) Equal(other *Template) bool {
	if t == nil || other == nil {
		return t == other
	}
	return link.Equal(t.Hash, other.Hash)
}

func parseRecType(def *ast.Definition) (*RecType, error) {
	rt := &RecType{
		Name: def.Name,
		def:  def,
	}
	for _, f := range def.Fields {
		if object.IsReserved(f.Name) {
			return nil, &SchemaError{RecType: def.Name, Field: f.Name, Err: ErrReservedFieldName}
		}
		if _, err := parseDatatype(f.Type); err != nil {
			return nil, &SchemaError{RecType: def.Name, Field: f.Name, Err: err}
		}
		rt.Fields = append(rt.Fields, f.Name)
	}
	merge := def.Directives.ForName("merge")
	if merge == nil {
		return rt, nil
	}
	record, err := parsePolicy(merge, "record")
	if err != nil {
		return nil, &SchemaError{RecType: def.Name, Err: err}
	}
	fallback, err := parsePolicy(merge, "fallback")
	if err != nil {
		return nil, &SchemaError{RecType: def.Name, Err: err}
	}
	rt.Record = record
	rt.Fallback = fallback
	return rt, nil
}

func parseDatatype(t *ast.Type) (Datatype, error) {
	if t.Elem != nil {
		return "", fmt.Errorf("%w: list", ErrUnsupportedDatatype)
	}
	dt := Datatype(t.NamedType)
	switch dt {
	case TypeString, TypeID, TypeInt, TypeFloat, TypeBoolean:
		return dt, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedDatatype, t.NamedType)
}
