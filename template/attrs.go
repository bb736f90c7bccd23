package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nasdf/zing/journal"
	"github.com/nasdf/zing/value"

	"github.com/vektah/gqlparser/v2/ast"
)

// Datatype is the declared type of a field.
type Datatype string

const (
	TypeString  Datatype = "String"
	TypeID      Datatype = "ID"
	TypeInt     Datatype = "Int"
	TypeFloat   Datatype = "Float"
	TypeBoolean Datatype = "Boolean"
)

// Kind returns the value kind stored for the datatype.
func (d Datatype) Kind() value.Kind {
	switch d {
	case TypeInt:
		return value.KindInt
	case TypeFloat:
		return value.KindFloat
	case TypeBoolean:
		return value.KindBool
	default:
		return value.KindString
	}
}

// Constraints are the declared value constraints of a field.
type Constraints struct {
	Min        *float64
	Max        *float64
	MinLength  *int
	MaxLength  *int
	Allowed    []string
	Prohibited []string
}

// FieldAttrs contains the metadata of a single record field.
type FieldAttrs struct {
	RecType     string
	Name        string
	Type        Datatype
	Required    bool
	Index       bool
	Constraints Constraints
	// Automerge is the ordered op list used to resolve conflicting edits.
	Automerge *Policy
	// Unique is set when the field value must be unique within its record type.
	Unique *UniqifyPolicy
	// Default is the value assigned on create when the field is not set.
	Default value.Value
	// DefaultFunc names the generator used on create when the field is not set.
	DefaultFunc string
}

func parseFieldAttrs(rectype string, def *ast.FieldDefinition) (*FieldAttrs, error) {
	dt, err := parseDatatype(def.Type)
	if err != nil {
		return nil, &SchemaError{RecType: rectype, Field: def.Name, Err: err}
	}
	attrs := &FieldAttrs{
		RecType:  rectype,
		Name:     def.Name,
		Type:     dt,
		Required: def.Type.NonNull,
		Index:    def.Directives.ForName("index") != nil,
	}
	wrap := func(err error) error {
		return &SchemaError{RecType: rectype, Field: def.Name, Err: err}
	}
	if d := def.Directives.ForName("automerge"); d != nil {
		attrs.Automerge, err = parsePolicy(d, "ops")
		if err != nil {
			return nil, wrap(err)
		}
	}
	if d := def.Directives.ForName("unique"); d != nil {
		attrs.Unique, err = parseUniqifyPolicy(d, dt)
		if err != nil {
			return nil, wrap(err)
		}
	}
	if d := def.Directives.ForName("range"); d != nil {
		if attrs.Constraints.Min, err = argFloat(d, "min"); err != nil {
			return nil, wrap(err)
		}
		if attrs.Constraints.Max, err = argFloat(d, "max"); err != nil {
			return nil, wrap(err)
		}
	}
	if d := def.Directives.ForName("length"); d != nil {
		if attrs.Constraints.MinLength, err = argInt(d, "min"); err != nil {
			return nil, wrap(err)
		}
		if attrs.Constraints.MaxLength, err = argInt(d, "max"); err != nil {
			return nil, wrap(err)
		}
	}
	if d := def.Directives.ForName("allowed"); d != nil {
		if attrs.Constraints.Allowed, err = argStrings(d, "values"); err != nil {
			return nil, wrap(err)
		}
	}
	if d := def.Directives.ForName("prohibited"); d != nil {
		if attrs.Constraints.Prohibited, err = argStrings(d, "values"); err != nil {
			return nil, wrap(err)
		}
	}
	if d := def.Directives.ForName("default"); d != nil {
		if attrs.DefaultFunc, err = argString(d, "func"); err != nil {
			return nil, wrap(err)
		}
		raw, err := argString(d, "value")
		if err != nil {
			return nil, wrap(err)
		}
		if d.Arguments.ForName("value") != nil {
			attrs.Default, err = ParseValue(dt, raw)
			if err != nil {
				return nil, wrap(err)
			}
		}
	}
	return attrs, nil
}

// ParseValue converts the string form of a value into the given datatype.
func ParseValue(dt Datatype, raw string) (value.Value, error) {
	switch dt {
	case TypeInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return value.Int(i), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return value.Float(f), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, err
		}
		return value.Bool(b), nil
	default:
		return value.String(raw), nil
	}
}

func parsePolicy(d *ast.Directive, opsArg string) (*Policy, error) {
	names, err := argStrings(d, opsArg)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	policy := &Policy{}
	for _, name := range names {
		op := Op(name)
		if !knownOps[op] {
			return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidDirective, name)
		}
		policy.Ops = append(policy.Ops, op)
	}
	policy.Journal, err = parseJournal(d)
	if err != nil {
		return nil, err
	}
	return policy, nil
}

func parseUniqifyPolicy(d *ast.Directive, dt Datatype) (*UniqifyPolicy, error) {
	numeric := dt == TypeInt || dt == TypeFloat
	policy := &UniqifyPolicy{
		Select:   SelectLastModified,
		Generate: GenerateAppendRandom,
		Alphabet: DefaultUniqifyAlphabet,
		Length:   DefaultUniqifyLength,
	}
	if numeric {
		policy.Alphabet = DigitUniqifyAlphabet
	}
	sel, err := argString(d, "select")
	if err != nil {
		return nil, err
	}
	switch Selection(sel) {
	case "":
	case SelectLastModified, SelectLastCreated, SelectLeastImpact:
		policy.Select = Selection(sel)
	default:
		return nil, fmt.Errorf("%w: unknown selection %q", ErrInvalidDirective, sel)
	}
	gen, err := argString(d, "generate")
	if err != nil {
		return nil, err
	}
	switch Generation(gen) {
	case "":
	case GenerateRedoDefaultFunc, GenerateAppendRandom, GenerateAppendUserPrefix:
		policy.Generate = Generation(gen)
	default:
		return nil, fmt.Errorf("%w: unknown generation %q", ErrInvalidDirective, gen)
	}
	alphabet, err := argString(d, "alphabet")
	if err != nil {
		return nil, err
	}
	if alphabet != "" {
		policy.Alphabet = alphabet
	}
	if numeric {
		// appended characters must keep the value parseable
		if strings.Trim(policy.Alphabet, DigitUniqifyAlphabet) != "" {
			return nil, fmt.Errorf("%w: alphabet of %s field must be digits", ErrInvalidDirective, dt)
		}
		if policy.Generate == GenerateAppendUserPrefix {
			return nil, fmt.Errorf("%w: %s cannot be used on %s field", ErrInvalidDirective, GenerateAppendUserPrefix, dt)
		}
	}
	length, err := argInt(d, "length")
	if err != nil {
		return nil, err
	}
	if length != nil {
		if *length <= 0 {
			return nil, fmt.Errorf("%w: length must be positive", ErrInvalidDirective)
		}
		policy.Length = *length
	}
	if policy.Blacklist, err = argStrings(d, "blacklist"); err != nil {
		return nil, err
	}
	if policy.Journal, err = parseJournal(d); err != nil {
		return nil, err
	}
	return policy, nil
}

func parseJournal(d *ast.Directive) (*journal.Template, error) {
	rectype, err := argString(d, "journal")
	if err != nil || rectype == "" {
		return nil, err
	}
	entries, err := argStrings(d, "journalFields")
	if err != nil {
		return nil, err
	}
	fields, err := journal.ParseFields(entries)
	if err != nil {
		return nil, err
	}
	return &journal.Template{RecType: rectype, Fields: fields}, nil
}

func argValue(d *ast.Directive, name string) (any, error) {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return nil, nil
	}
	return arg.Value.Value(nil)
}

func argString(d *ast.Directive, name string) (string, error) {
	v, err := argValue(d, name)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: @%s(%s) must be a string", ErrInvalidDirective, d.Name, name)
	}
	return s, nil
}

func argStrings(d *ast.Directive, name string) ([]string, error) {
	v, err := argValue(d, name)
	if err != nil || v == nil {
		return nil, err
	}
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: @%s(%s) must be a string list", ErrInvalidDirective, d.Name, name)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: @%s(%s) must be a string list", ErrInvalidDirective, d.Name, name)
}

func argInt(d *ast.Directive, name string) (*int, error) {
	v, err := argValue(d, name)
	if err != nil || v == nil {
		return nil, err
	}
	i, ok := v.(int64)
	if !ok {
		return nil, fmt.Errorf("%w: @%s(%s) must be an integer", ErrInvalidDirective, d.Name, name)
	}
	n := int(i)
	return &n, nil
}

func argFloat(d *ast.Directive, name string) (*float64, error) {
	v, err := argValue(d, name)
	if err != nil || v == nil {
		return nil, err
	}
	var f float64
	switch t := v.(type) {
	case int64:
		f = float64(t)
	case float64:
		f = t
	default:
		return nil, fmt.Errorf("%w: @%s(%s) must be a number", ErrInvalidDirective, d.Name, name)
	}
	return &f, nil
}
