package merge

import (
	"errors"
	"slices"
	"unicode/utf8"

	"github.com/nasdf/zing/journal"
	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/template"
	"github.com/nasdf/zing/value"
)

// Resolver resolves conflicting record changes using the template policies.
type Resolver struct {
	tmpl     *template.Template
	audits   [2]object.Audit
	journals []journal.Entry
}

// NewResolver returns a resolver for two leaves with the given audit entries.
func NewResolver(tmpl *template.Template, audits [2]object.Audit) *Resolver {
	return &Resolver{
		tmpl:   tmpl,
		audits: audits,
	}
}

// Journals returns the journal entries rendered while resolving.
func (r *Resolver) Journals() []journal.Entry {
	return slices.Clone(r.journals)
}

// Resolve returns the merged version of a conflicting record, or nil if the
// record is deleted.
func (r *Resolver) Resolve(c Conflict) (*object.Record, error) {
	if c.Kind == ConflictModifyModify {
		return r.resolveFields(c.Changes)
	}
	return r.resolveRecord(c.Changes)
}

// resolveRecord picks the version of one leaf using the record level policy.
func (r *Resolver) resolveRecord(c *Changes) (*object.Record, error) {
	rt, err := r.tmpl.RecType(c.RecType())
	if err != nil {
		return nil, err
	}
	ops := []template.Op{template.OpMostRecent}
	if rt.Record != nil {
		ops = rt.Record.Ops
	}
	for _, op := range ops {
		switch op {
		case template.OpMostRecent, template.OpLeastRecent:
		default:
			return nil, &template.SchemaError{RecType: rt.Name, Policy: string(op), Err: template.ErrUnimplementedPolicy}
		}
		leaf, ok := r.byTime(op)
		if !ok {
			continue
		}
		winner := c.Version(leaf)
		if rt.Record != nil && rt.Record.Journal != nil {
			r.journals = append(r.journals, rt.Record.Journal.Render(journal.Vars{
				journal.TokenRecID:       c.ID,
				journal.TokenOp:          string(op),
				journal.TokenFieldName:   "",
				journal.TokenVal0:        recordLabel(c.Version(0)),
				journal.TokenVal1:        recordLabel(c.Version(1)),
				journal.TokenMergedValue: recordLabel(winner),
			}))
		}
		return winner, nil
	}
	return c.Version(0), nil
}

// resolveFields merges a record modified by both leaves field by field.
func (r *Resolver) resolveFields(c *Changes) (*object.Record, error) {
	anc := c.Ancestor()
	l0, l1 := c.Sides[0].Added, c.Sides[1].Added
	rt, err := r.tmpl.RecType(l0.RecType)
	if err != nil {
		return nil, err
	}
	fields := make(value.Map)
	for _, name := range fieldNames(rt, anc, l0, l1) {
		f := fieldVersions{
			id:   c.ID,
			name: name,
		}
		f.a, f.aok = getField(anc, name)
		f.v[0], f.ok[0] = l0.Get(name)
		f.v[1], f.ok[1] = l1.Get(name)

		v, ok, err := r.resolveField(rt, f)
		if err != nil {
			return nil, err
		}
		if ok {
			fields[name] = v
		}
	}
	return object.NewRecord(l0.RecID, l0.RecType, fields), nil
}

// fieldVersions holds the value of one field in the ancestor and both leaves.
type fieldVersions struct {
	id   string
	name string
	a    value.Value
	aok  bool
	v    [2]value.Value
	ok   [2]bool
}

func (f fieldVersions) unchanged(leaf int) bool {
	return f.aok && f.ok[leaf] && value.Equal(f.a, f.v[leaf])
}

// resolveField returns the merged field value and false if the field is omitted.
func (r *Resolver) resolveField(rt *template.RecType, f fieldVersions) (value.Value, bool, error) {
	switch {
	case !f.ok[0] && !f.ok[1]:
		return nil, false, nil
	case f.ok[0] && f.ok[1] && value.Equal(f.v[0], f.v[1]):
		return f.v[0], true, nil
	case !f.aok && f.ok[0] != f.ok[1]:
		if f.ok[0] {
			return f.v[0], true, nil
		}
		return f.v[1], true, nil
	case f.unchanged(0) && !f.ok[1], f.unchanged(1) && !f.ok[0]:
		return nil, false, nil
	case f.unchanged(0):
		return f.v[1], true, nil
	case f.unchanged(1):
		return f.v[0], true, nil
	}
	return r.resolveConflict(rt, f)
}

// resolveConflict tries the field ops, then the applicable fallback ops, and
// finally takes the value of the most recent leaf without journaling.
func (r *Resolver) resolveConflict(rt *template.RecType, f fieldVersions) (value.Value, bool, error) {
	attrs, err := r.tmpl.Attrs(rt.Name, f.name)
	if errors.Is(err, template.ErrUnknownField) {
		attrs = nil
	} else if err != nil {
		return nil, false, err
	}
	if attrs != nil {
		for _, policy := range []*template.Policy{attrs.Automerge, rt.Fallback} {
			if policy == nil {
				continue
			}
			v, ok, resolved, err := r.applyPolicy(policy, attrs, f, policy == rt.Fallback)
			if err != nil {
				return nil, false, err
			}
			if resolved {
				return v, ok, nil
			}
		}
	}
	leaf := 0
	if r.audits[1].Timestamp > r.audits[0].Timestamp {
		leaf = 1
	}
	return f.v[leaf], f.ok[leaf], nil
}

func (r *Resolver) applyPolicy(policy *template.Policy, attrs *template.FieldAttrs, f fieldVersions, fallback bool) (value.Value, bool, bool, error) {
	for _, op := range policy.Ops {
		if fallback && !op.Applies(attrs.Type) {
			continue
		}
		v, ok, resolved, err := r.applyOp(op, attrs, f)
		if err != nil {
			return nil, false, false, err
		}
		if !resolved {
			continue
		}
		if policy.Journal != nil {
			var merged string
			if ok {
				merged = v.String()
			}
			r.journals = append(r.journals, policy.Journal.Render(journal.Vars{
				journal.TokenRecID:       f.id,
				journal.TokenOp:          string(op),
				journal.TokenFieldName:   f.name,
				journal.TokenVal0:        fieldLabel(f.v[0], f.ok[0]),
				journal.TokenVal1:        fieldLabel(f.v[1], f.ok[1]),
				journal.TokenMergedValue: merged,
			}))
		}
		return v, ok, true, nil
	}
	return nil, false, false, nil
}

// applyOp runs one automerge op. It returns the merged value, whether the
// value is present, and whether the op resolved the conflict.
func (r *Resolver) applyOp(op template.Op, attrs *template.FieldAttrs, f fieldVersions) (value.Value, bool, bool, error) {
	both := f.ok[0] && f.ok[1]
	switch op {
	case template.OpMostRecent, template.OpLeastRecent:
		leaf, ok := r.byTime(op)
		if !ok {
			return nil, false, false, nil
		}
		return f.v[leaf], f.ok[leaf], true, nil

	case template.OpMax, template.OpMin:
		if !both || !value.IsNumeric(f.v[0]) || !value.IsNumeric(f.v[1]) {
			return nil, false, false, nil
		}
		c, err := value.Compare(f.v[0], f.v[1])
		if err != nil {
			return nil, false, false, err
		}
		if (op == template.OpMax) == (c >= 0) {
			return f.v[0], true, true, nil
		}
		return f.v[1], true, true, nil

	case template.OpAverage, template.OpSum:
		if !both || !value.IsNumeric(f.v[0]) || !value.IsNumeric(f.v[1]) {
			return nil, false, false, nil
		}
		combine := value.Sum
		if op == template.OpAverage {
			combine = value.Average
		}
		v, err := combine(f.v[0], f.v[1])
		if err != nil {
			return nil, false, false, err
		}
		if attrs.Type == template.TypeInt {
			if n, err := value.Number(v); err == nil {
				v = value.Int(int64(n))
			}
		}
		return v, true, true, nil

	case template.OpLongest, template.OpShortest:
		s0, s1, ok := stringPair(f)
		if !ok {
			return nil, false, false, nil
		}
		n0, n1 := utf8.RuneCountInString(s0), utf8.RuneCountInString(s1)
		if n0 == n1 {
			return nil, false, false, nil
		}
		if (op == template.OpLongest) == (n0 > n1) {
			return f.v[0], true, true, nil
		}
		return f.v[1], true, true, nil

	case template.OpConcat:
		s0, s1, ok := stringPair(f)
		if !ok {
			return nil, false, false, nil
		}
		base, hasBase := "", false
		if f.aok {
			if s, err := value.AsString(f.a); err == nil {
				base, hasBase = s, true
			}
		}
		merged, err := template.ParseValue(attrs.Type, concat(base, hasBase, s0, s1))
		if err != nil {
			return nil, false, false, err
		}
		return merged, true, true, nil
	}
	return nil, false, false, &template.SchemaError{
		RecType: attrs.RecType,
		Field:   attrs.Name,
		Policy:  string(op),
		Err:     template.ErrUnimplementedPolicy,
	}
}

// byTime returns the leaf chosen by a most_recent or least_recent op.
// Equal timestamps leave the conflict unresolved.
func (r *Resolver) byTime(op template.Op) (int, bool) {
	t0, t1 := r.audits[0].Timestamp, r.audits[1].Timestamp
	if t0 == t1 {
		return 0, false
	}
	newer := 0
	if t1 > t0 {
		newer = 1
	}
	if op == template.OpMostRecent {
		return newer, true
	}
	return 1 - newer, true
}

func stringPair(f fieldVersions) (string, string, bool) {
	if !f.ok[0] || !f.ok[1] {
		return "", "", false
	}
	s0, err := value.AsString(f.v[0])
	if err != nil {
		return "", "", false
	}
	s1, err := value.AsString(f.v[1])
	if err != nil {
		return "", "", false
	}
	return s0, s1, true
}

// fieldNames returns the template fields in declaration order followed by any
// other field present in one of the versions.
func fieldNames(rt *template.RecType, records ...*object.Record) []string {
	names := slices.Clone(rt.Fields)
	var extra []string
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for name := range rec.Fields {
			if !slices.Contains(names, name) && !slices.Contains(extra, name) {
				extra = append(extra, name)
			}
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}

func getField(rec *object.Record, name string) (value.Value, bool) {
	if rec == nil {
		return nil, false
	}
	return rec.Get(name)
}

func fieldLabel(v value.Value, ok bool) string {
	if !ok {
		return ""
	}
	return v.String()
}

func recordLabel(rec *object.Record) string {
	if rec == nil || rec.Hash == nil {
		return ""
	}
	return rec.Hash.String()
}

// sameRecord returns true if both versions are absent or have equal content.
func sameRecord(a, b *object.Record) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return link.Equal(a.Hash, b.Hash)
}
