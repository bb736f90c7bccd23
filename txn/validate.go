package txn

import (
	"context"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/nasdf/zing/core"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/template"
	"github.com/nasdf/zing/value"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/sets/treeset"
)

// CheckValue returns the violation caused by assigning v to the field, if any.
func CheckValue(attrs *template.FieldAttrs, recid string, v value.Value) *Violation {
	violation := func(t ViolationType, msg string) *Violation {
		return &Violation{
			Type:    t,
			RecID:   recid,
			RecType: attrs.RecType,
			Field:   attrs.Name,
			Value:   v,
			Message: msg,
		}
	}
	if v == nil || value.IsNull(v) {
		if attrs.Required {
			return violation(ViolationRequired, "field is required")
		}
		return nil
	}
	want := attrs.Type.Kind()
	got := v.Kind()
	if got != want && !(want == value.KindFloat && got == value.KindInt) {
		return violation(ViolationDatatype, fmt.Sprintf("expected %s got %s", want, got))
	}
	c := attrs.Constraints
	if value.IsNumeric(v) && (c.Min != nil || c.Max != nil) {
		n, err := value.Number(v)
		if err != nil {
			return violation(ViolationDatatype, err.Error())
		}
		if c.Min != nil && n < *c.Min {
			return violation(ViolationRange, fmt.Sprintf("must be at least %v", *c.Min))
		}
		if c.Max != nil && n > *c.Max {
			return violation(ViolationRange, fmt.Sprintf("must be at most %v", *c.Max))
		}
	}
	if got == value.KindString && (c.MinLength != nil || c.MaxLength != nil) {
		n := utf8.RuneCountInString(v.String())
		if c.MinLength != nil && n < *c.MinLength {
			return violation(ViolationLength, fmt.Sprintf("must be at least %d characters", *c.MinLength))
		}
		if c.MaxLength != nil && n > *c.MaxLength {
			return violation(ViolationLength, fmt.Sprintf("must be at most %d characters", *c.MaxLength))
		}
	}
	if len(c.Allowed) > 0 && !slices.Contains(c.Allowed, v.String()) {
		return violation(ViolationAllowed, "value is not allowed")
	}
	if slices.Contains(c.Prohibited, v.String()) {
		return violation(ViolationProhibited, "value is prohibited")
	}
	return nil
}

// validateRecord appends every violation of the record to out.
func validateRecord(tmpl *template.Template, rec *object.Record, out []Violation) ([]Violation, error) {
	rt, err := tmpl.RecType(rec.RecType)
	if err != nil {
		return append(out, Violation{
			Type:    ViolationUnknown,
			RecID:   rec.RecID,
			RecType: rec.RecType,
			Message: "unknown record type",
		}), nil
	}
	for _, name := range rec.Fields.SortedKeys() {
		if !slices.Contains(rt.Fields, name) {
			out = append(out, Violation{
				Type:    ViolationUnknown,
				RecID:   rec.RecID,
				RecType: rec.RecType,
				Field:   name,
				Value:   rec.Fields[name],
				Message: "unknown field",
			})
		}
	}
	for _, name := range rt.Fields {
		attrs, err := tmpl.Attrs(rec.RecType, name)
		if err != nil {
			return nil, err
		}
		v, _ := rec.Get(name)
		if violation := CheckValue(attrs, rec.RecID, v); violation != nil {
			out = append(out, *violation)
		}
	}
	return out, nil
}

// uniqueGroup collects the records sharing one unique value.
type uniqueGroup struct {
	rectype string
	field   string
	value   value.Value
	recids  *treeset.Set
}

// validateUnique groups unique field values of the dirty records and reports
// every value held by more than one record.
func (t *Transaction) validateUnique(ctx context.Context, dirty []entry, out []Violation) ([]Violation, error) {
	groups := treemap.NewWithStringComparator()
	for _, e := range dirty {
		rec := e.rec
		if _, err := t.tmpl.RecType(rec.RecType); err != nil {
			continue
		}
		fields, err := t.tmpl.UniqueFields(rec.RecType)
		if err != nil {
			return nil, err
		}
		for _, field := range fields {
			v, ok := rec.Get(field)
			if !ok {
				continue
			}
			key := rec.RecType + "\x00" + field + "\x00" + value.Key(v)
			g, found := groups.Get(key)
			if !found {
				g = &uniqueGroup{
					rectype: rec.RecType,
					field:   field,
					value:   v,
					recids:  treeset.NewWithStringComparator(),
				}
				groups.Put(key, g)
			}
			g.(*uniqueGroup).recids.Add(e.key)
		}
	}
	it := groups.Iterator()
	for it.Next() {
		g := it.Value().(*uniqueGroup)
		holders, err := t.committedHolders(ctx, g.rectype, g.field, g.value)
		if err != nil {
			return nil, err
		}
		for _, id := range holders {
			g.recids.Add(id)
		}
		if g.recids.Size() < 2 {
			continue
		}
		recids := make([]string, 0, g.recids.Size())
		for _, id := range g.recids.Values() {
			recids = append(recids, id.(string))
		}
		out = append(out, Violation{
			Type:    ViolationUnique,
			RecType: g.rectype,
			Field:   g.field,
			Value:   g.value,
			RecIDs:  recids,
			Message: "value is not unique",
		})
	}
	return out, nil
}

// committedHolders returns the committed records that still hold the value in this transaction.
func (t *Transaction) committedHolders(ctx context.Context, rectype, field string, v value.Value) ([]string, error) {
	if t.baseline == nil {
		return nil, nil
	}
	matches, err := t.db.Query(ctx, t.baseline, rectype, core.FieldEquals, field, v)
	if err != nil {
		return nil, err
	}
	var holders []string
	for _, rec := range matches {
		id := rec.Identity()
		if _, ok := t.staged.Get(id); ok {
			continue
		}
		if _, ok := t.deleted.Get(id); ok {
			continue
		}
		holders = append(holders, id)
	}
	return holders, nil
}
