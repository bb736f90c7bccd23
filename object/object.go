package object

import (
	"strings"

	"github.com/nasdf/zing/value"

	"github.com/ipld/go-ipld-prime/datamodel"
)

const (
	// RecIDField is the reserved record field holding the logical record id.
	RecIDField = "_recid"
	// RecTypeField is the reserved record field holding the record type name.
	RecTypeField = "_rectype"
	// ReservedPrefix is the prefix of all reserved field names.
	ReservedPrefix = "_"
)

// IsReserved returns true if the field name is reserved for system use.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// Record is an immutable, content addressed set of fields.
type Record struct {
	// Hash is the content link of the encoded record. It is nil until computed.
	Hash datamodel.Link
	// RecID is the logical id that survives edits. Empty in no-recid collections.
	RecID string
	// RecType is the name of the record type.
	RecType string
	// Fields contains the user data of the record.
	Fields value.Map
}

// NewRecord returns a record without a computed hash.
func NewRecord(recid, rectype string, fields value.Map) *Record {
	if fields == nil {
		fields = make(value.Map)
	}
	return &Record{
		RecID:   recid,
		RecType: rectype,
		Fields:  fields,
	}
}

// Identity returns the recid, or the hash for records without one.
func (r *Record) Identity() string {
	if r.RecID != "" {
		return r.RecID
	}
	if r.Hash == nil {
		return ""
	}
	return r.Hash.String()
}

// Get returns the value of the field and true if it is present.
func (r *Record) Get(field string) (value.Value, bool) {
	v, ok := r.Fields[field]
	if !ok || value.IsNull(v) {
		return nil, false
	}
	return v, true
}

// Clone returns a copy of the record without its hash.
func (r *Record) Clone() *Record {
	return NewRecord(r.RecID, r.RecType, r.Fields.Clone())
}

// Audit identifies who created a changeset and when.
type Audit struct {
	User      string
	Timestamp int64
}

// Delta is the set of record hashes added and removed relative to a parent.
type Delta struct {
	// Parent is the changeset this delta is relative to.
	Parent datamodel.Link
	// Add contains the records present in the child but not the parent.
	Add []datamodel.Link
	// Remove contains the records present in the parent but not the child.
	Remove []datamodel.Link
}

// Empty returns true if the delta contains no changes.
func (d Delta) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// Changeset is an immutable node in a collection DAG.
type Changeset struct {
	// Hash is the content link of the encoded changeset.
	Hash datamodel.Link
	// Parents is the list of parent changesets. Zero for a root, two for a merge.
	Parents []datamodel.Link
	// Generation is one more than the highest parent generation.
	Generation int64
	// Template links to the template blob. Nil for fixed schema collections.
	Template datamodel.Link
	// Records links to the sorted record set of this changeset.
	Records datamodel.Link
	// Deltas contains one delta per parent.
	Deltas []Delta
	// Audits is sorted by timestamp ascending.
	Audits []Audit
	// Attachments maps attachment names to blob links.
	Attachments map[string]datamodel.Link
}

// DeltaFor returns the delta relative to the given parent.
func (c *Changeset) DeltaFor(parent datamodel.Link) (Delta, bool) {
	for _, d := range c.Deltas {
		if d.Parent.String() == parent.String() {
			return d, true
		}
	}
	return Delta{}, false
}

// Audit returns the primary audit entry of the changeset.
func (c *Changeset) Audit() Audit {
	if len(c.Audits) == 0 {
		return Audit{}
	}
	return c.Audits[0]
}
