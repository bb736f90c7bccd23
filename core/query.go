package core

import (
	"context"
	"fmt"

	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/value"

	"github.com/google/cel-go/cel"
	"github.com/ipld/go-ipld-prime/datamodel"
)

// Query variables available to predicates.
const (
	QueryRecord  = "rec"
	QueryRecType = "rectype"
	QueryRecID   = "recid"
	QueryField   = "field"
	QueryArg     = "arg"
)

// FieldEquals matches records whose field named by the field variable equals arg.
const FieldEquals = "field in rec && rec[field] == arg"

func newQueryEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable(QueryRecord, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(QueryRecType, cel.StringType),
		cel.Variable(QueryRecID, cel.StringType),
		cel.Variable(QueryField, cel.StringType),
		cel.Variable(QueryArg, cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating query environment: %w", err)
	}
	return env, nil
}

func (db *DB) program(expr string) (cel.Program, error) {
	return db.queries.GetOrLoad(expr, func() (cel.Program, error) {
		ast, issues := db.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("error compiling query %q: %w", expr, issues.Err())
		}
		return db.env.Program(ast)
	})
}

// Query returns the records of the given type in the changeset matching the predicate.
//
// The predicate is a CEL expression over the variables rec, rectype, recid,
// field and arg. An empty rectype matches every record type.
func (db *DB) Query(ctx context.Context, csid datamodel.Link, rectype, expr, field string, arg value.Value) ([]*object.Record, error) {
	prg, err := db.program(expr)
	if err != nil {
		return nil, err
	}
	records, err := db.State(ctx, csid)
	if err != nil {
		return nil, err
	}
	var argValue any
	if arg != nil {
		argValue = value.ToAny(arg)
	}
	var matches []*object.Record
	for _, rec := range records {
		if rectype != "" && rec.RecType != rectype {
			continue
		}
		out, _, err := prg.Eval(map[string]any{
			QueryRecord:  value.ToAny(rec.Fields),
			QueryRecType: rec.RecType,
			QueryRecID:   rec.RecID,
			QueryField:   field,
			QueryArg:     argValue,
		})
		if err != nil {
			return nil, fmt.Errorf("error evaluating query %q: %w", expr, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return nil, fmt.Errorf("query %q returned %T instead of bool", expr, out.Value())
		}
		if ok {
			matches = append(matches, rec)
		}
	}
	return matches, nil
}
