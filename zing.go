// Package zing merges the dag leaves of schema driven record collections.
package zing

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"slices"
	"time"

	"github.com/nasdf/zing/config"
	"github.com/nasdf/zing/core"
	"github.com/nasdf/zing/merge"
	"github.com/nasdf/zing/storage"
	"github.com/nasdf/zing/template"
	"github.com/nasdf/zing/txn"

	"github.com/ipld/go-ipld-prime/datamodel"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownCollection is returned for collections missing from the configuration.
var ErrUnknownCollection = errors.New("unknown collection")

// Collection is a configured collection dag.
type Collection struct {
	Name string
	// Template is the current template of the collection.
	Template *template.Template
}

// DB merges and commits the configured collections.
type DB struct {
	cfg       *config.Config
	store     storage.Storage
	core      *core.DB
	templates *template.Provider

	collections map[string]*Collection
	names       []string

	// now returns the timestamp recorded in audit entries
	now func() int64
}

// Open opens the storage selected by the configuration.
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	var store storage.Storage
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := storage.NewSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = storage.NewMemory()
	}
	return New(ctx, store, cfg)
}

// New returns a DB using the given storage.
//
// Every configured template is parsed and registered. Templates of fixed
// collections are written to the storage.
func New(ctx context.Context, store storage.Storage, cfg *config.Config) (*DB, error) {
	cdb, err := core.Open(store, core.Options{QueryCacheSize: cfg.Cache.Queries})
	if err != nil {
		return nil, err
	}
	caches, err := template.NewCaches(cfg.Cache.Templates, cfg.Cache.TemplateByChangeset, cfg.Cache.FixedTemplates)
	if err != nil {
		return nil, err
	}
	db := &DB{
		cfg:         cfg,
		store:       store,
		core:        cdb,
		templates:   template.NewProvider(cdb, caches),
		collections: make(map[string]*Collection, len(cfg.Collections)),
		now:         func() int64 { return time.Now().UnixMilli() },
	}
	for _, c := range cfg.Collections {
		tmpl, err := template.Parse(c.Schema, template.Options{Fixed: c.Fixed, Trivial: c.Trivial})
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", c.Name, err)
		}
		if c.Fixed {
			n, err := tmpl.Node()
			if err != nil {
				return nil, err
			}
			if _, err := cdb.SetFixedTemplate(ctx, c.Name, n); err != nil {
				return nil, err
			}
		}
		db.templates.Add(tmpl)
		db.collections[c.Name] = &Collection{Name: c.Name, Template: tmpl}
		db.names = append(db.names, c.Name)
	}
	slices.Sort(db.names)
	return db, nil
}

// Close closes the underlying storage if it needs closing.
func (db *DB) Close() error {
	if c, ok := db.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Core returns the changeset store.
func (db *DB) Core() *core.DB {
	return db.core
}

// Templates returns the template provider.
func (db *DB) Templates() *template.Provider {
	return db.templates
}

// Collections returns the sorted names of the configured collections.
func (db *DB) Collections() []string {
	return slices.Clone(db.names)
}

// Collection returns the configured collection with the given name.
func (db *DB) Collection(name string) (*Collection, error) {
	c, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

// Leaves returns the current leaves of the collection.
func (db *DB) Leaves(ctx context.Context, name string) ([]datamodel.Link, error) {
	if _, err := db.Collection(name); err != nil {
		return nil, err
	}
	return db.core.Leaves(ctx, name)
}

// Begin starts a transaction on the collection.
//
// A nil baseline starts a new root changeset. The transaction uses the
// current collection template.
func (db *DB) Begin(ctx context.Context, name, user string, baseline datamodel.Link) (*txn.Transaction, error) {
	c, err := db.Collection(name)
	if err != nil {
		return nil, err
	}
	tmpl := c.Template
	if baseline != nil {
		if tmpl, err = db.templates.ForChangeset(ctx, name, baseline); err != nil {
			return nil, err
		}
	}
	tx, err := txn.Begin(ctx, db.core, tmpl, txn.Options{
		Dag:      name,
		User:     user,
		Baseline: baseline,
	})
	if err != nil {
		return nil, err
	}
	if baseline != nil {
		if err := tx.AddParent(baseline); err != nil {
			tx.Abort()
			return nil, err
		}
	}
	tx.SetTemplate(c.Template)
	return tx, nil
}

// Merge merges the leaves of the collection until one leaf remains.
//
// A collection without leaves gets an empty root changeset. A single leaf is
// returned as is. More than two leaves are merged pairwise.
func (db *DB) Merge(ctx context.Context, name, user string) (*merge.Result, error) {
	leaves, err := db.Leaves(ctx, name)
	if err != nil {
		return nil, err
	}
	switch len(leaves) {
	case 0:
		tx, err := db.Begin(ctx, name, user, nil)
		if err != nil {
			return nil, err
		}
		cs, err := tx.Commit(ctx, db.now())
		if err != nil {
			return nil, err
		}
		log.Info("created root changeset", "dag", name, "node", cs.Hash)
		return &merge.Result{Node: cs, State: merge.StateSuccess}, nil
	case 1:
		cs, err := db.core.Changeset(ctx, leaves[0])
		if err != nil {
			return nil, err
		}
		return &merge.Result{Node: cs, State: merge.StateSuccess}, nil
	}
	var res *merge.Result
	for len(leaves) > 1 {
		res, err = merge.Automerge(ctx, db.core, db.templates, merge.Options{
			Dag:       name,
			Leaves:    [2]datamodel.Link{leaves[0], leaves[1]},
			User:      user,
			Timestamp: db.now(),
		})
		if err != nil {
			return res, err
		}
		log.Info("merged leaves", "dag", name, "node", res.Node.Hash, "conflicts", res.Counts.Conflicts(), "uniqified", len(res.Uniqified))
		leaves = append([]datamodel.Link{res.Node.Hash}, leaves[2:]...)
	}
	return res, nil
}

// MergeAll merges every configured collection.
//
// The first failure stops the pass unless collections are isolated, in which
// case every failure is joined into the returned error.
func (db *DB) MergeAll(ctx context.Context, user string) (map[string]*merge.Result, error) {
	isolate := db.cfg.Merge.IsolateCollections
	results := make([]*merge.Result, len(db.names))
	errs := make([]error, len(db.names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(db.cfg.Merge.Concurrency, 1))
	for i, name := range db.names {
		g.Go(func() error {
			res, err := db.Merge(gctx, name, user)
			results[i] = res
			if err == nil {
				return nil
			}
			err = fmt.Errorf("collection %s: %w", name, err)
			if isolate {
				log.Warn("collection merge failed", "dag", name, "error", err)
				errs[i] = err
				return nil
			}
			return err
		})
	}
	out := make(map[string]*merge.Result, len(db.names))
	err := g.Wait()
	for i, name := range db.names {
		if results[i] != nil {
			out[name] = results[i]
		}
	}
	if err != nil {
		return out, err
	}
	return out, errors.Join(errs...)
}

// Export writes a CAR file of the single leaf of the collection.
func (db *DB) Export(ctx context.Context, name string, w io.Writer) error {
	leaves, err := db.Leaves(ctx, name)
	if err != nil {
		return err
	}
	if len(leaves) != 1 {
		return fmt.Errorf("collection %s has %d leaves", name, len(leaves))
	}
	return db.core.Export(ctx, leaves[0], w)
}
