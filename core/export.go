package core

import (
	"context"
	"io"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// Export writes a CAR file containing the changeset and everything reachable from it.
func (db *DB) Export(ctx context.Context, csid datamodel.Link, out io.Writer) error {
	return db.links.Export(ctx, csid, out)
}
