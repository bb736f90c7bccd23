// Package journal renders automatic merge and uniqify decisions into audit records.
//
// Templates contain #TOKEN# placeholders that are replaced with the values of
// the decision being journaled. Unknown tokens are left untouched.
package journal

import (
	"fmt"
	"slices"
	"strings"
)

// Placeholder tokens understood by merge and uniqify journals.
const (
	TokenRecID       = "RECID"
	TokenOp          = "OP"
	TokenFieldName   = "FIELD_NAME"
	TokenVal0        = "VAL0"
	TokenVal1        = "VAL1"
	TokenMergedValue = "MERGED_VALUE"
	TokenOldValue    = "OLD_VALUE"
	TokenNewValue    = "NEW_VALUE"
)

// Vars maps token names, without the surrounding #, to their values.
type Vars map[string]string

// Template describes the record written for a journaled decision.
type Template struct {
	// RecType is the record type of the journal record.
	RecType string
	// Fields maps field names to placeholder templates.
	Fields map[string]string
}

// Entry is a rendered journal record.
type Entry struct {
	RecType string
	Fields  map[string]string
}

// ParseFields parses field templates written as "name=template".
func ParseFields(entries []string) (map[string]string, error) {
	fields := make(map[string]string, len(entries))
	for _, e := range entries {
		name, tpl, ok := strings.Cut(e, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid journal field %q", e)
		}
		fields[name] = tpl
	}
	return fields, nil
}

// Substitute replaces every #TOKEN# in the input with its value from vars.
func Substitute(input string, vars Vars) string {
	var out strings.Builder
	rest := input
	for {
		start := strings.IndexByte(rest, '#')
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end := strings.IndexByte(rest[start+1:], '#')
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end += start + 1
		token := rest[start+1 : end]
		val, ok := vars[token]
		if !ok {
			// keep the leading # and rescan from the closing one
			out.WriteString(rest[:end])
			rest = rest[end:]
			continue
		}
		out.WriteString(rest[:start])
		out.WriteString(val)
		rest = rest[end+1:]
	}
}

// Render substitutes all field templates.
func (t *Template) Render(vars Vars) Entry {
	fields := make(map[string]string, len(t.Fields))
	for k, tpl := range t.Fields {
		fields[k] = Substitute(tpl, vars)
	}
	return Entry{
		RecType: t.RecType,
		Fields:  fields,
	}
}

// FieldNames returns the field names of the entry in sorted order.
func (e Entry) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
