// Package uniqify resolves unique value collisions by regenerating the value
// of one record per collision and retrying the commit once.
package uniqify

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"slices"
	"time"

	"github.com/nasdf/zing/generate"
	"github.com/nasdf/zing/journal"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/template"
	"github.com/nasdf/zing/txn"
	"github.com/nasdf/zing/value"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/sethvargo/go-retry"
)

// ErrExhausted is returned when no unused value could be generated.
var ErrExhausted = generate.ErrExhausted

// maxRedo is the number of times a default function is run looking for an unused value.
const maxRedo = 16

// Commit stages reported to the observer.
const (
	StageCommit1 = "COMMIT_1"
	StageUniqify = "UNIQIFY"
	StageCommit2 = "COMMIT_2"
)

// Decision records one regenerated value.
type Decision struct {
	RecType string
	Field   string
	RecID   string
	Op      template.Generation
	Old     value.Value
	New     value.Value
}

// Options contains the settings of a uniqify commit.
type Options struct {
	// Timestamp is recorded in the audit entry of the changeset.
	Timestamp int64
	// Heads are the changesets whose history is used to select losers.
	Heads []datamodel.Link
	// Observe is called when the commit enters a new stage.
	Observe func(stage string)
}

// Commit commits the transaction, resolving unique violations and retrying once.
//
// Any other violation, or a unique violation after the retry, aborts the
// transaction and returns a *txn.ConstraintError.
func Commit(ctx context.Context, tx *txn.Transaction, opts Options) (*object.Changeset, []Decision, error) {
	observe := opts.Observe
	if observe == nil {
		observe = func(string) {}
	}
	var (
		cs        *object.Changeset
		decisions []Decision
		attempt   int
	)
	backoff := retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt == 1 {
			observe(StageCommit1)
		} else {
			observe(StageCommit2)
		}
		out, violations, err := tx.CommitOrViolations(ctx, opts.Timestamp)
		if err != nil {
			return err
		}
		if len(violations) == 0 {
			cs = out
			return nil
		}
		cerr := &txn.ConstraintError{Violations: violations}
		if attempt > 1 || !txn.IsUnique(violations) {
			return cerr
		}
		observe(StageUniqify)
		decisions, err = Resolve(ctx, tx, opts.Heads, violations)
		if err != nil {
			return err
		}
		return retry.RetryableError(cerr)
	})
	if err != nil {
		tx.Abort()
		return nil, decisions, err
	}
	return cs, decisions, nil
}

// Resolve regenerates colliding values until every unique violation names a single record.
func Resolve(ctx context.Context, tx *txn.Transaction, heads []datamodel.Link, violations []txn.Violation) ([]Decision, error) {
	var decisions []Decision
	for _, v := range violations {
		if v.Type != txn.ViolationUnique {
			return nil, fmt.Errorf("cannot uniqify %s violation", v.Type)
		}
		attrs, err := tx.Template().Attrs(v.RecType, v.Field)
		if err != nil {
			return nil, err
		}
		if attrs.Unique == nil {
			return nil, &template.SchemaError{RecType: v.RecType, Field: v.Field, Err: errors.New("field has no unique policy")}
		}
		remaining := slices.Clone(v.RecIDs)
		for len(remaining) > 1 {
			loser, err := selectLoser(ctx, tx.DB(), heads, tx.User(), attrs.Unique.Select, remaining)
			if err != nil {
				return nil, err
			}
			d, err := regenerate(ctx, tx, attrs, loser)
			if err != nil {
				return nil, err
			}
			decisions = append(decisions, d)
			remaining = slices.DeleteFunc(remaining, func(id string) bool { return id == loser })
		}
	}
	return decisions, nil
}

func regenerate(ctx context.Context, tx *txn.Transaction, attrs *template.FieldAttrs, id string) (Decision, error) {
	rec, ok := tx.Record(id)
	if !ok {
		return Decision{}, fmt.Errorf("record not found: %s", id)
	}
	old, _ := rec.Get(attrs.Name)
	policy := attrs.Unique
	taken := func(candidate string) (bool, error) {
		v, err := template.ParseValue(attrs.Type, candidate)
		if err != nil {
			return true, nil
		}
		return tx.ValueTaken(ctx, attrs.RecType, attrs.Name, v, id)
	}
	var (
		next string
		err  error
	)
	switch policy.Generate {
	case template.GenerateRedoDefaultFunc:
		next, err = redoDefault(tx, attrs, taken)
	case template.GenerateAppendUserPrefix:
		next, err = generate.AppendUserPrefix(valueString(old), tx.User(), taken)
	default:
		next, err = generate.AppendRandom(tx.Env().Rand, valueString(old), policy.Alphabet, policy.Length, policy.Blacklist, taken)
	}
	if err != nil {
		return Decision{}, err
	}
	nv, err := template.ParseValue(attrs.Type, next)
	if err != nil {
		return Decision{}, err
	}
	if err := tx.SetField(id, attrs.Name, nv); err != nil {
		return Decision{}, err
	}
	d := Decision{
		RecType: attrs.RecType,
		Field:   attrs.Name,
		RecID:   rec.RecID,
		Op:      policy.Generate,
		Old:     old,
		New:     nv,
	}
	if policy.Journal != nil {
		tx.QueueJournal(policy.Journal.Render(journal.Vars{
			journal.TokenRecID:     rec.RecID,
			journal.TokenFieldName: attrs.Name,
			journal.TokenOp:        string(policy.Generate),
			journal.TokenOldValue:  valueString(old),
			journal.TokenNewValue:  nv.String(),
		}))
	}
	log.Info("uniqified value", "rectype", attrs.RecType, "field", attrs.Name, "recid", rec.RecID, "old", valueString(old), "new", nv.String())
	return d, nil
}

func redoDefault(tx *txn.Transaction, attrs *template.FieldAttrs, taken generate.Taken) (string, error) {
	if attrs.DefaultFunc == "" {
		return "", &template.SchemaError{
			RecType: attrs.RecType,
			Field:   attrs.Name,
			Policy:  string(template.GenerateRedoDefaultFunc),
			Err:     errors.New("field has no default function"),
		}
	}
	for range maxRedo {
		v, err := generate.Run(attrs.DefaultFunc, tx.Env())
		if err != nil {
			return "", err
		}
		used, err := taken(v.String())
		if err != nil {
			return "", err
		}
		if !used {
			return v.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s.%s", ErrExhausted, attrs.RecType, attrs.Name)
}

func valueString(v value.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}
