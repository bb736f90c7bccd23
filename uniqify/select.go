package uniqify

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/nasdf/zing/core"
	"github.com/nasdf/zing/template"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// impact summarizes the history of one candidate record.
type impact struct {
	id           string
	editors      int
	entries      int
	generation   int64
	lastModified int64
	created      int64
	createdBy    string
}

func loadImpact(ctx context.Context, db *core.DB, heads []datamodel.Link, id string) (impact, error) {
	imp := impact{id: id}
	history, err := db.History(ctx, heads, id)
	if err != nil {
		return imp, err
	}
	if len(history) == 0 {
		// staged in the current transaction only
		imp.lastModified = math.MaxInt64
		imp.created = math.MaxInt64
		imp.generation = math.MaxInt64
		return imp, nil
	}
	editors := make(map[string]struct{})
	for _, h := range history {
		editors[h.User] = struct{}{}
		imp.lastModified = max(imp.lastModified, h.Timestamp)
		imp.generation = max(imp.generation, h.Generation)
		if h.Created && imp.createdBy == "" {
			imp.created = h.Timestamp
			imp.createdBy = h.User
		}
	}
	imp.editors = len(editors)
	imp.entries = len(history)
	return imp, nil
}

// selectLoser returns the identity of the record that gives up its value.
func selectLoser(ctx context.Context, db *core.DB, heads []datamodel.Link, user string, sel template.Selection, ids []string) (string, error) {
	impacts := make([]impact, 0, len(ids))
	for _, id := range ids {
		imp, err := loadImpact(ctx, db, heads, id)
		if err != nil {
			return "", err
		}
		impacts = append(impacts, imp)
	}
	// the loser sorts first
	var order func(a, b impact) int
	switch sel {
	case template.SelectLastCreated:
		order = func(a, b impact) int {
			return cmp.Or(cmp.Compare(b.created, a.created), cmp.Compare(b.id, a.id))
		}
	case template.SelectLeastImpact:
		order = func(a, b impact) int {
			return cmp.Or(
				cmp.Compare(a.editors, b.editors),
				cmp.Compare(a.entries, b.entries),
				cmp.Compare(b.generation, a.generation),
				compareCreator(a, b, user),
				cmp.Compare(b.created, a.created),
				cmp.Compare(b.id, a.id),
			)
		}
	default:
		order = func(a, b impact) int {
			return cmp.Or(cmp.Compare(b.lastModified, a.lastModified), cmp.Compare(b.id, a.id))
		}
	}
	slices.SortStableFunc(impacts, order)
	return impacts[0].id, nil
}

// compareCreator prefers records created by the acting user as losers.
func compareCreator(a, b impact, user string) int {
	aMine := a.createdBy == user
	bMine := b.createdBy == user
	switch {
	case aMine && !bMine:
		return -1
	case bMine && !aMine:
		return 1
	}
	return 0
}
