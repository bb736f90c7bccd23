// Package core implements the changeset DAG storage engine.
//
// Every collection is a DAG of immutable changesets. Each changeset links to
// the full sorted set of its record links and to a delta against every parent.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nasdf/zing/cache"
	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/storage"

	"github.com/google/cel-go/cel"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

const (
	leavesKeyPrefix = "leaves/"
	fixedKeyPrefix  = "fixed/"
)

// Options contains the settings used to open a DB.
type Options struct {
	// QueryCacheSize is the number of compiled query programs to keep.
	QueryCacheSize int
}

// DB is a changeset store shared by all collections.
type DB struct {
	store storage.Storage
	links *link.Store

	env     *cel.Env
	queries *cache.Cache[string, cel.Program]

	// lock serializes leaf index updates
	lock sync.Mutex
}

// Open returns a DB reading and writing the given storage.
func Open(store storage.Storage, opts Options) (*DB, error) {
	env, err := newQueryEnv()
	if err != nil {
		return nil, err
	}
	queries, err := cache.New[string, cel.Program](opts.QueryCacheSize)
	if err != nil {
		return nil, err
	}
	return &DB{
		store:   store,
		links:   link.NewStore(store),
		env:     env,
		queries: queries,
	}, nil
}

// Links returns the link store used to load nodes.
func (db *DB) Links() *link.Store {
	return db.links
}

// LoadAny returns the node with the given link.
func (db *DB) LoadAny(ctx context.Context, lnk datamodel.Link) (datamodel.Node, error) {
	return db.links.LoadAny(ctx, lnk)
}

// Changeset returns the changeset with the given link.
func (db *DB) Changeset(ctx context.Context, csid datamodel.Link) (*object.Changeset, error) {
	n, err := db.links.Load(ctx, csid, basicnode.Prototype.Map)
	if err != nil {
		return nil, err
	}
	return object.DecodeChangeset(csid, n)
}

// Record returns the record with the given hash.
func (db *DB) Record(ctx context.Context, hash datamodel.Link) (*object.Record, error) {
	n, err := db.links.Load(ctx, hash, basicnode.Prototype.Map)
	if err != nil {
		return nil, err
	}
	return object.DecodeRecord(hash, n)
}

// RecordSet returns the sorted record links of the changeset.
//
// A nil changeset is the empty state before the first changeset of a dag.
func (db *DB) RecordSet(ctx context.Context, csid datamodel.Link) ([]datamodel.Link, error) {
	if csid == nil {
		return nil, nil
	}
	cs, err := db.Changeset(ctx, csid)
	if err != nil {
		return nil, err
	}
	n, err := db.links.Load(ctx, cs.Records, basicnode.Prototype.List)
	if err != nil {
		return nil, err
	}
	return object.DecodeLinkList(n)
}

// State returns every record of the changeset ordered by hash.
func (db *DB) State(ctx context.Context, csid datamodel.Link) ([]*object.Record, error) {
	links, err := db.RecordSet(ctx, csid)
	if err != nil {
		return nil, err
	}
	records := make([]*object.Record, 0, len(links))
	for _, l := range links {
		rec, err := db.Record(ctx, l)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Leaves returns the current leaves of the dag.
func (db *DB) Leaves(ctx context.Context, dag string) ([]datamodel.Link, error) {
	data, err := db.store.Get(ctx, leavesKeyPrefix+dag)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lnk, err := link.Parse(string(data))
	if err != nil {
		return nil, err
	}
	n, err := db.links.Load(ctx, lnk, basicnode.Prototype.List)
	if err != nil {
		return nil, err
	}
	return object.DecodeLinkList(n)
}

func (db *DB) setLeaves(ctx context.Context, dag string, leaves []datamodel.Link) error {
	n, err := object.LinkListNode(leaves)
	if err != nil {
		return err
	}
	lnk, err := db.links.Store(ctx, n)
	if err != nil {
		return err
	}
	return db.store.Put(ctx, leavesKeyPrefix+dag, []byte(lnk.String()))
}

// FixedTemplate returns the template link registered for a fixed schema dag.
func (db *DB) FixedTemplate(ctx context.Context, dag string) (datamodel.Link, error) {
	data, err := db.store.Get(ctx, fixedKeyPrefix+dag)
	if err != nil {
		return nil, err
	}
	return link.Parse(string(data))
}

// SetFixedTemplate stores the template node and registers it for the fixed schema dag.
func (db *DB) SetFixedTemplate(ctx context.Context, dag string, template datamodel.Node) (datamodel.Link, error) {
	lnk, err := db.links.Store(ctx, template)
	if err != nil {
		return nil, err
	}
	if err := db.store.Put(ctx, fixedKeyPrefix+dag, []byte(lnk.String())); err != nil {
		return nil, fmt.Errorf("failed to register fixed template: %w", err)
	}
	return lnk, nil
}

// StoreNode writes the node directly to storage.
func (db *DB) StoreNode(ctx context.Context, n datamodel.Node) (datamodel.Link, error) {
	return db.links.Store(ctx, n)
}
