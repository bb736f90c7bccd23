// Package txn stages record changes, validates them, and commits them as a
// new changeset.
package txn

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/nasdf/zing/core"
	"github.com/nasdf/zing/generate"
	"github.com/nasdf/zing/journal"
	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/template"
	"github.com/nasdf/zing/value"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/uuid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

const maxParents = 2

// Options contains the settings of a new transaction.
type Options struct {
	// Dag is the name of the collection dag.
	Dag string
	// User is the acting user recorded in the audit entry.
	User string
	// Baseline is the changeset whose records the transaction starts from.
	// Nil starts from an empty record set.
	Baseline datamodel.Link
	// Rand is the random source used by value generators.
	Rand *rand.Rand
}

// entry is a staged record and the key it is staged under.
type entry struct {
	key string
	rec *object.Record
}

// Transaction is a mutable staging area for one changeset.
type Transaction struct {
	db   *core.DB
	tx   *core.WriteTx
	tmpl *template.Template
	dag  string
	user string
	rand *rand.Rand

	baseline        datamodel.Link
	parents         []datamodel.Link
	templateChanged bool
	deltas          []object.Delta

	// mutations counts staging changes; deltas set before the last change are stale
	mutations int
	deltasAt  int

	// base holds the baseline records by identity
	base map[string]*object.Record
	// staged holds added and modified records by key
	staged *treemap.Map
	// deleted holds the identities of removed baseline records
	deleted *treemap.Map

	journals    []journal.Entry
	attachments map[string][]byte
	seq         int
	closed      bool
}

// Begin starts a transaction on the dag using the given template.
func Begin(ctx context.Context, db *core.DB, tmpl *template.Template, opts Options) (*Transaction, error) {
	records, err := db.State(ctx, opts.Baseline)
	if err != nil {
		return nil, err
	}
	base := make(map[string]*object.Record, len(records))
	for _, rec := range records {
		base[rec.Identity()] = rec
	}
	return &Transaction{
		db:          db,
		tx:          db.Begin(opts.Dag),
		tmpl:        tmpl,
		dag:         opts.Dag,
		user:        opts.User,
		rand:        opts.Rand,
		baseline:    opts.Baseline,
		base:        base,
		staged:      treemap.NewWithStringComparator(),
		deleted:     treemap.NewWithStringComparator(),
		attachments: make(map[string][]byte),
	}, nil
}

// DB returns the changeset store the transaction commits to.
func (t *Transaction) DB() *core.DB {
	return t.db
}

// Dag returns the name of the dag.
func (t *Transaction) Dag() string {
	return t.dag
}

// User returns the acting user.
func (t *Transaction) User() string {
	return t.user
}

// Template returns the template used to validate records.
func (t *Transaction) Template() *template.Template {
	return t.tmpl
}

// Baseline returns the changeset the transaction started from.
func (t *Transaction) Baseline() datamodel.Link {
	return t.baseline
}

// Env returns the environment used to run default functions.
func (t *Transaction) Env() generate.Env {
	return generate.Env{User: t.user, Rand: t.rand}
}

// AddParent adds a parent changeset. A transaction has at most two parents.
func (t *Transaction) AddParent(csid datamodel.Link) error {
	if t.closed {
		return ErrClosed
	}
	if len(t.parents) >= maxParents {
		return fmt.Errorf("transaction already has %d parents", maxParents)
	}
	t.parents = append(t.parents, csid)
	return nil
}

// Parents returns the parent changesets.
func (t *Transaction) Parents() []datamodel.Link {
	return slices.Clone(t.parents)
}

// SetTemplate changes the template of the resulting changeset.
//
// Every record is validated again at commit.
func (t *Transaction) SetTemplate(tmpl *template.Template) {
	if t.tmpl.Equal(tmpl) {
		return
	}
	t.tmpl = tmpl
	t.templateChanged = true
}

// TemplateChanged returns true if the template was changed in this transaction.
func (t *Transaction) TemplateChanged() bool {
	return t.templateChanged
}

// SetBaselineDelta sets the precomputed delta against a parent.
//
// The delta describes the staged record set at the time of the call. Deltas
// are recomputed at commit when records are staged afterwards.
func (t *Transaction) SetBaselineDelta(delta object.Delta) {
	t.deltasAt = t.mutations
	for i, d := range t.deltas {
		if link.Equal(d.Parent, delta.Parent) {
			t.deltas[i] = delta
			return
		}
	}
	t.deltas = append(t.deltas, delta)
}

// Attach stages an attachment blob stored at commit.
func (t *Transaction) Attach(name string, data []byte) error {
	if t.closed {
		return ErrClosed
	}
	t.attachments[name] = slices.Clone(data)
	return nil
}

// QueueJournal stages a journal record added at commit.
func (t *Transaction) QueueJournal(e journal.Entry) {
	t.journals = append(t.journals, e)
}

// Journals returns the queued journal entries.
func (t *Transaction) Journals() []journal.Entry {
	return slices.Clone(t.journals)
}

// CreateRecord stages a new record of the given type with default values applied.
func (t *Transaction) CreateRecord(ctx context.Context, rectype string) (*Pending, error) {
	if t.closed {
		return nil, ErrClosed
	}
	rt, err := t.tmpl.RecType(rectype)
	if err != nil {
		return nil, err
	}
	rec := object.NewRecord("", rectype, nil)
	if !t.tmpl.Trivial {
		rec.RecID = uuid.NewString()
	}
	for _, name := range rt.Fields {
		attrs, err := t.tmpl.Attrs(rectype, name)
		if err != nil {
			return nil, err
		}
		switch {
		case attrs.Default != nil:
			rec.Fields[name] = attrs.Default
		case attrs.DefaultFunc != "":
			v, err := generate.Run(attrs.DefaultFunc, t.Env())
			if err != nil {
				return nil, err
			}
			rec.Fields[name] = v
		}
	}
	key := t.newKey(rec)
	t.staged.Put(key, rec)
	t.mutations++
	return &Pending{t: t, key: key, rec: rec}, nil
}

// ModifyRecord stages a modification of an existing record.
func (t *Transaction) ModifyRecord(recid string) (*Pending, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if staged, ok := t.staged.Get(recid); ok {
		return &Pending{t: t, key: recid, rec: staged.(*object.Record)}, nil
	}
	base, ok := t.base[recid]
	if !ok || base.RecID == "" {
		return nil, fmt.Errorf("record not found: %s", recid)
	}
	if _, ok := t.deleted.Get(recid); ok {
		return nil, fmt.Errorf("record was deleted: %s", recid)
	}
	rec := base.Clone()
	t.staged.Put(recid, rec)
	return &Pending{t: t, key: recid, rec: rec}, nil
}

// DeleteRecord stages removal of the record with the given identity.
func (t *Transaction) DeleteRecord(id string) error {
	if t.closed {
		return ErrClosed
	}
	_, staged := t.staged.Get(id)
	_, based := t.base[id]
	if !staged && !based {
		return fmt.Errorf("record not found: %s", id)
	}
	t.staged.Remove(id)
	if based {
		t.deleted.Put(id, struct{}{})
	}
	t.mutations++
	return nil
}

// AddRecord stages the record as is, replacing any record with the same identity.
func (t *Transaction) AddRecord(rec *object.Record) error {
	if t.closed {
		return ErrClosed
	}
	if base, ok := t.base[rec.Identity()]; ok && link.Equal(base.Hash, rec.Hash) {
		t.staged.Remove(rec.Identity())
		t.deleted.Remove(rec.Identity())
		t.mutations++
		return nil
	}
	key := t.newKey(rec)
	t.deleted.Remove(key)
	t.staged.Put(key, rec)
	t.mutations++
	return nil
}

// Record returns the current version of the record with the given identity.
func (t *Transaction) Record(id string) (*object.Record, bool) {
	if staged, ok := t.staged.Get(id); ok {
		return staged.(*object.Record), true
	}
	if _, ok := t.deleted.Get(id); ok {
		return nil, false
	}
	rec, ok := t.base[id]
	return rec, ok
}

// SetField sets a field of the record with the given identity, staging a
// modification when the record is not staged yet. The value is not validated.
func (t *Transaction) SetField(id, field string, v value.Value) error {
	p, err := t.ModifyRecord(id)
	if err != nil {
		return err
	}
	rec := p.rec.Clone()
	rec.Fields[field] = v
	t.staged.Put(p.key, rec)
	t.mutations++
	return nil
}

// Records returns every record of the resulting changeset ordered by key.
func (t *Transaction) Records() []*object.Record {
	entries := t.entries()
	out := make([]*object.Record, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out
}

// ValueTaken returns true if any staged or committed record holds the value
// in the given field, ignoring the record with identity except.
func (t *Transaction) ValueTaken(ctx context.Context, rectype, field string, v value.Value, except string) (bool, error) {
	for _, e := range t.entries() {
		if e.key == except || e.rec.RecType != rectype {
			continue
		}
		if cur, ok := e.rec.Get(field); ok && value.Equal(cur, v) {
			return true, nil
		}
	}
	holders, err := t.committedHolders(ctx, rectype, field, v)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(holders, func(id string) bool { return id != except }), nil
}

// Validate returns the violations of the staged records.
//
// When the template changed every record is validated, otherwise only staged ones.
func (t *Transaction) Validate(ctx context.Context) ([]Violation, error) {
	var dirty []entry
	if t.templateChanged {
		dirty = t.entries()
	} else {
		for _, e := range t.entries() {
			if _, ok := t.staged.Get(e.key); ok {
				dirty = append(dirty, e)
			}
		}
	}
	var violations []Violation
	var err error
	for _, e := range dirty {
		violations, err = validateRecord(t.tmpl, e.rec, violations)
		if err != nil {
			return nil, err
		}
	}
	return t.validateUnique(ctx, dirty, violations)
}

// Commit validates and commits the transaction.
//
// On violations the transaction is aborted and a *ConstraintError is returned.
func (t *Transaction) Commit(ctx context.Context, timestamp int64) (*object.Changeset, error) {
	cs, violations, err := t.commit(ctx, timestamp)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		t.Abort()
		log.Warn("transaction aborted", "dag", t.dag, "violations", len(violations))
		return nil, &ConstraintError{Violations: violations}
	}
	return cs, nil
}

// CommitOrViolations validates and commits the transaction.
//
// On violations nothing is committed, the violations are returned and the
// transaction stays open.
func (t *Transaction) CommitOrViolations(ctx context.Context, timestamp int64) (*object.Changeset, []Violation, error) {
	return t.commit(ctx, timestamp)
}

// Abort discards the transaction.
func (t *Transaction) Abort() {
	if t.closed {
		return
	}
	t.tx.Abort()
	t.closed = true
}

func (t *Transaction) commit(ctx context.Context, timestamp int64) (*object.Changeset, []Violation, error) {
	if t.closed {
		return nil, nil, ErrClosed
	}
	t.materializeJournals()
	violations, err := t.Validate(ctx)
	if err != nil {
		t.Abort()
		return nil, nil, err
	}
	if len(violations) > 0 {
		return nil, violations, nil
	}
	cs, err := t.write(ctx, timestamp)
	if err != nil {
		t.Abort()
		return nil, nil, err
	}
	t.closed = true
	return cs, nil, nil
}

func (t *Transaction) write(ctx context.Context, timestamp int64) (*object.Changeset, error) {
	in := core.CommitInput{
		Parents:     t.parents,
		Audits:      []object.Audit{{User: t.user, Timestamp: timestamp}},
		Attachments: make(map[string]datamodel.Link, len(t.attachments)),
	}
	var delta object.Delta
	for _, e := range t.entries() {
		if _, ok := t.staged.Get(e.key); !ok {
			in.Records = append(in.Records, e.rec.Hash)
			continue
		}
		lnk, err := t.tx.StoreRecord(ctx, e.rec)
		if err != nil {
			return nil, err
		}
		in.Records = append(in.Records, lnk)
		base, ok := t.base[e.key]
		if ok && link.Equal(base.Hash, lnk) {
			continue
		}
		if ok {
			delta.Remove = append(delta.Remove, base.Hash)
		}
		delta.Add = append(delta.Add, lnk)
	}
	it := t.deleted.Iterator()
	for it.Next() {
		delta.Remove = append(delta.Remove, t.base[it.Key().(string)].Hash)
	}
	in.Records = slices.CompactFunc(sortedLinks(in.Records), func(a, b datamodel.Link) bool { return link.Equal(a, b) })

	if t.mutations == t.deltasAt {
		in.Deltas = slices.Clone(t.deltas)
	} else if len(t.deltas) > 0 {
		log.Debug("recomputing stale baseline deltas", "dag", t.dag)
	}
	if t.baseline != nil && slices.ContainsFunc(t.parents, func(p datamodel.Link) bool { return link.Equal(p, t.baseline) }) {
		if _, ok := findDelta(in.Deltas, t.baseline); !ok {
			delta.Parent = t.baseline
			in.Deltas = append(in.Deltas, delta)
		}
	}
	if !t.tmpl.Fixed {
		n, err := t.tmpl.Node()
		if err != nil {
			return nil, err
		}
		if in.Template, err = t.tx.StoreNode(ctx, n); err != nil {
			return nil, err
		}
	}
	for name, data := range t.attachments {
		lnk, err := t.tx.StoreNode(ctx, basicnode.NewBytes(data))
		if err != nil {
			return nil, err
		}
		in.Attachments[name] = lnk
	}
	return t.tx.Commit(ctx, in)
}

func (t *Transaction) materializeJournals() {
	for _, e := range t.journals {
		fields := make(value.Map, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = value.String(v)
		}
		rec := object.NewRecord("", e.RecType, fields)
		if !t.tmpl.Trivial {
			rec.RecID = uuid.NewString()
		}
		t.staged.Put(t.newKey(rec), rec)
		t.mutations++
	}
	t.journals = nil
}

// entries returns the resulting record set ordered by key.
func (t *Transaction) entries() []entry {
	out := make([]entry, 0, len(t.base)+t.staged.Size())
	for id, rec := range t.base {
		if _, ok := t.deleted.Get(id); ok {
			continue
		}
		if _, ok := t.staged.Get(id); ok {
			continue
		}
		out = append(out, entry{key: id, rec: rec})
	}
	it := t.staged.Iterator()
	for it.Next() {
		out = append(out, entry{key: it.Key().(string), rec: it.Value().(*object.Record)})
	}
	slices.SortFunc(out, func(a, b entry) int {
		return strings.Compare(a.key, b.key)
	})
	return out
}

func (t *Transaction) newKey(rec *object.Record) string {
	if id := rec.Identity(); id != "" {
		return id
	}
	t.seq++
	return "new:" + strconv.Itoa(t.seq)
}

func findDelta(deltas []object.Delta, parent datamodel.Link) (object.Delta, bool) {
	for _, d := range deltas {
		if link.Equal(d.Parent, parent) {
			return d, true
		}
	}
	return object.Delta{}, false
}

func sortedLinks(links []datamodel.Link) []datamodel.Link {
	object.SortLinks(links)
	return links
}

// Pending is a staged record whose fields are validated as they are set.
type Pending struct {
	t   *Transaction
	key string
	rec *object.Record
}

// Key returns the key the record is staged under.
func (p *Pending) Key() string {
	return p.key
}

// Record returns the staged record.
func (p *Pending) Record() *object.Record {
	return p.rec
}

// Set validates and assigns the field value. A null value removes the field.
func (p *Pending) Set(field string, v value.Value) error {
	if p.t.closed {
		return ErrClosed
	}
	attrs, err := p.t.tmpl.Attrs(p.rec.RecType, field)
	if err != nil {
		return err
	}
	if v != nil && v.Kind() == value.KindInt && attrs.Type == template.TypeFloat {
		n, _ := value.AsInt(v)
		v = value.Float(float64(n))
	}
	if violation := CheckValue(attrs, p.rec.RecID, v); violation != nil && violation.Type != ViolationRequired {
		return &ConstraintError{Violations: []Violation{*violation}}
	}
	p.t.mutations++
	if v == nil || value.IsNull(v) {
		delete(p.rec.Fields, field)
		return nil
	}
	p.rec.Fields[field] = v
	return nil
}

// Regenerate runs the default function of the field again.
func (p *Pending) Regenerate(field string) error {
	attrs, err := p.t.tmpl.Attrs(p.rec.RecType, field)
	if err != nil {
		return err
	}
	if attrs.DefaultFunc == "" {
		return errors.New("field has no default function: " + field)
	}
	v, err := generate.Run(attrs.DefaultFunc, p.t.Env())
	if err != nil {
		return err
	}
	return p.Set(field, v)
}
