package txn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nasdf/zing/value"
)

// ErrClosed is returned when using a transaction after commit or abort.
var ErrClosed = errors.New("transaction is closed")

// ViolationType categorizes constraint violations.
type ViolationType string

const (
	ViolationRequired   ViolationType = "required"
	ViolationDatatype   ViolationType = "type"
	ViolationRange      ViolationType = "range"
	ViolationLength     ViolationType = "length"
	ViolationAllowed    ViolationType = "allowed"
	ViolationProhibited ViolationType = "prohibited"
	ViolationUnknown    ViolationType = "unknown"
	ViolationUnique     ViolationType = "unique"
)

// Violation is a single failed constraint.
type Violation struct {
	Type    ViolationType
	RecID   string
	RecType string
	Field   string
	Value   value.Value
	// RecIDs names every record sharing a unique value.
	RecIDs  []string
	Message string
}

func (v Violation) String() string {
	var b strings.Builder
	b.WriteString(string(v.Type))
	if v.RecType != "" {
		fmt.Fprintf(&b, " %s", v.RecType)
		if v.Field != "" {
			fmt.Fprintf(&b, ".%s", v.Field)
		}
	}
	if v.RecID != "" {
		fmt.Fprintf(&b, " record=%s", v.RecID)
	}
	if len(v.RecIDs) > 0 {
		fmt.Fprintf(&b, " records=%s", strings.Join(v.RecIDs, ","))
	}
	if v.Value != nil && !value.IsNull(v.Value) {
		fmt.Fprintf(&b, " value=%q", v.Value.String())
	}
	if v.Message != "" {
		fmt.Fprintf(&b, ": %s", v.Message)
	}
	return b.String()
}

// ConstraintError is returned when a commit fails validation.
type ConstraintError struct {
	Violations []Violation
}

// Error names the last offending field, record and value.
func (e *ConstraintError) Error() string {
	if len(e.Violations) == 0 {
		return "constraint violation"
	}
	last := e.Violations[len(e.Violations)-1]
	if len(e.Violations) == 1 {
		return "constraint violation: " + last.String()
	}
	return fmt.Sprintf("%d constraint violations, last: %s", len(e.Violations), last.String())
}

// IsUnique returns true if every violation is a unique violation.
func IsUnique(violations []Violation) bool {
	if len(violations) == 0 {
		return false
	}
	for _, v := range violations {
		if v.Type != ViolationUnique {
			return false
		}
	}
	return true
}
