package template

import (
	"context"
	"errors"
	"fmt"

	"github.com/nasdf/zing/cache"
	"github.com/nasdf/zing/link"
	"github.com/nasdf/zing/object"
	"github.com/nasdf/zing/storage"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// Loader is the storage needed to resolve templates.
type Loader interface {
	// Changeset returns the changeset with the given link.
	Changeset(ctx context.Context, csid datamodel.Link) (*object.Changeset, error)
	// LoadAny returns the node with the given link.
	LoadAny(ctx context.Context, lnk datamodel.Link) (datamodel.Node, error)
	// FixedTemplate returns the template link registered for a fixed schema dag.
	FixedTemplate(ctx context.Context, dag string) (datamodel.Link, error)
}

// Caches holds the process wide template caches.
//
// Each cache is guarded by its own mutex and shared by every provider using it.
type Caches struct {
	Templates   *cache.Cache[string, *Template]
	ByChangeset *cache.Cache[string, string]
	Fixed       *cache.Cache[string, *Template]
}

// NewCaches returns template caches with the given sizes. A size of zero never evicts.
func NewCaches(templates, byChangeset, fixed int) (*Caches, error) {
	t, err := cache.New[string, *Template](templates)
	if err != nil {
		return nil, err
	}
	c, err := cache.New[string, string](byChangeset)
	if err != nil {
		return nil, err
	}
	f, err := cache.New[string, *Template](fixed)
	if err != nil {
		return nil, err
	}
	return &Caches{Templates: t, ByChangeset: c, Fixed: f}, nil
}

// Provider resolves the template of changesets.
type Provider struct {
	loader Loader
	caches *Caches
}

// NewProvider returns a provider reading from loader and caching in caches.
func NewProvider(loader Loader, caches *Caches) *Provider {
	return &Provider{
		loader: loader,
		caches: caches,
	}
}

// Get returns the template with the given hash.
func (p *Provider) Get(ctx context.Context, hash datamodel.Link) (*Template, error) {
	return p.caches.Templates.GetOrLoad(hash.String(), func() (*Template, error) {
		n, err := p.loader.LoadAny(ctx, hash)
		if err != nil {
			return nil, err
		}
		return Decode(n)
	})
}

// Add caches a template that was parsed locally.
func (p *Provider) Add(t *Template) {
	p.caches.Templates.Add(t.Hash.String(), t)
}

// Fixed returns the template registered for the fixed schema dag.
func (p *Provider) Fixed(ctx context.Context, dag string) (*Template, error) {
	return p.caches.Fixed.GetOrLoad(dag, func() (*Template, error) {
		lnk, err := p.loader.FixedTemplate(ctx, dag)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &SchemaError{Err: fmt.Errorf("%w for dag %s", ErrMissingFixedTemplate, dag)}
		}
		if err != nil {
			return nil, err
		}
		return p.Get(ctx, lnk)
	})
}

// ForChangeset returns the template used by the changeset.
//
// Changesets of fixed schema dags carry no template link and use the fixed template.
func (p *Provider) ForChangeset(ctx context.Context, dag string, csid datamodel.Link) (*Template, error) {
	hash, err := p.caches.ByChangeset.GetOrLoad(csid.String(), func() (string, error) {
		cs, err := p.loader.Changeset(ctx, csid)
		if err != nil {
			return "", err
		}
		if cs.Template == nil {
			return "", nil
		}
		return cs.Template.String(), nil
	})
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return p.Fixed(ctx, dag)
	}
	lnk, err := link.Parse(hash)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, lnk)
}
