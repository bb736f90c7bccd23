package core

import (
	"context"

	"github.com/nasdf/zing/value"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// Dump returns a map of record identities to record fields.
//
// This function is primarily used for testing.
func (db *DB) Dump(ctx context.Context, csid datamodel.Link) (map[string]value.Map, error) {
	records, err := db.State(ctx, csid)
	if err != nil {
		return nil, err
	}
	out := make(map[string]value.Map, len(records))
	for _, rec := range records {
		out[rec.Identity()] = rec.Fields
	}
	return out, nil
}
