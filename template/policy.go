package template

import "github.com/nasdf/zing/journal"

// Op is an automerge operation name.
type Op string

const (
	OpMostRecent   Op = "most_recent"
	OpLeastRecent  Op = "least_recent"
	OpMax          Op = "max"
	OpMin          Op = "min"
	OpAverage      Op = "average"
	OpSum          Op = "sum"
	OpLongest      Op = "longest"
	OpShortest     Op = "shortest"
	OpConcat       Op = "concat"
	OpAllowedFirst Op = "allowed_first"
	OpAllowedLast  Op = "allowed_last"
	// OpMergeFields is the whole-record merge policy. It is accepted in
	// templates but has no resolver.
	OpMergeFields Op = "merge_fields"
)

var knownOps = map[Op]bool{
	OpMostRecent:   true,
	OpLeastRecent:  true,
	OpMax:          true,
	OpMin:          true,
	OpAverage:      true,
	OpSum:          true,
	OpLongest:      true,
	OpShortest:     true,
	OpConcat:       true,
	OpAllowedFirst: true,
	OpAllowedLast:  true,
	OpMergeFields:  true,
}

// Applies returns true if the op can resolve values of the given datatype.
func (o Op) Applies(dt Datatype) bool {
	switch o {
	case OpMax, OpMin, OpAverage, OpSum:
		return dt == TypeInt || dt == TypeFloat
	case OpLongest, OpShortest, OpConcat:
		return dt == TypeString || dt == TypeID
	case OpMergeFields:
		return false
	default:
		return true
	}
}

// Policy is an ordered list of automerge operations with an optional journal.
type Policy struct {
	Ops     []Op
	Journal *journal.Template
}

// Selection chooses which record loses a unique value collision.
type Selection string

const (
	SelectLastModified Selection = "last_modified"
	SelectLastCreated  Selection = "last_created"
	SelectLeastImpact  Selection = "least_impact"
)

// Generation chooses how a losing unique value is regenerated.
type Generation string

const (
	GenerateRedoDefaultFunc  Generation = "redo_defaultfunc"
	GenerateAppendRandom     Generation = "append_random_unique"
	GenerateAppendUserPrefix Generation = "append_userprefix_unique"
)

const (
	DefaultUniqifyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	DefaultUniqifyLength   = 1

	// DigitUniqifyAlphabet is the default alphabet of Int and Float fields.
	DigitUniqifyAlphabet = "0123456789"
)

// UniqifyPolicy describes how unique value collisions are resolved.
type UniqifyPolicy struct {
	Select    Selection
	Generate  Generation
	Alphabet  string
	Length    int
	Blacklist []string
	Journal   *journal.Template
}
