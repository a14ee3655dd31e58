// Package provider defines the capability contract the engine uses to talk
// to an external tracking system, and the registry that holds the provider
// instances of one configuration.
//
// Providers exchange native records: JSON-shaped maps exactly as the
// external system represents an item. Field names, paths and value formats
// are provider-native; translation to internal items is done by the engine
// through the field path resolver.
//
// Errors returned by a provider are *syncerr.Error values of KindProvider.
// Network failures, HTTP 429 and 5xx responses set Transient; the engine
// retries those with backoff and never retries anything else.
package provider

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// Record is one native record.
type Record = map[string]any

// Page is one page of query results. An empty Next marks the last page.
type Page struct {
	Records []Record
	Next    string
}

// Capabilities describes optional provider behavior.
type Capabilities struct {
	// AtomicWrites reports that a multi-field Update is applied all or
	// nothing, so the sync status can be written with the data it describes.
	AtomicWrites bool
}

// Role tells ValidateFilter which side of a rule a filter belongs to.
type Role string

const (
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
)

// Provider is the capability contract implemented per external system.
type Provider interface {
	// ValidateFilter checks filter keys and value shapes without network
	// access. Unsupported keys yield a configuration error.
	ValidateFilter(mapping string, role Role, filter ir.Filter) error

	// Query returns one page of records matching filter. cursor is "" for
	// the first page and Page.Next afterwards.
	Query(ctx context.Context, mapping string, filter ir.Filter, cursor string) (Page, error)

	// Create creates a record and returns its native identifier. scope is
	// the destination filter; providers use it to place the new record
	// where the destination query will find it again.
	Create(ctx context.Context, mapping string, scope ir.Filter, values Record) (string, error)

	// Update writes values into an existing record. Paths absent from
	// values are left untouched.
	Update(ctx context.Context, mapping, id string, values Record) error

	// ReadNative reads the value at path from a record of this provider.
	ReadNative(record Record, path fieldpath.Path) (any, bool)

	// Capabilities reports optional behavior.
	Capabilities() Capabilities
}

// Linker is implemented by providers that can link to an item in their UI.
type Linker interface {
	ItemURL(mapping, id string) string
}

// Registry holds the providers of one configuration by name. It is built
// once at startup and passed explicitly to the engine.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	kinds     map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		kinds:     make(map[string]string),
	}
}

// Register adds a provider under name.
func (r *Registry) Register(name, kind string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.providers[name]; dup {
		return syncerr.Configuration("E301", "provider %q registered twice", name)
	}
	r.providers[name] = p
	r.kinds[name] = kind
	return nil
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, syncerr.Configuration("E301", "unknown provider %q", name)
	}
	return p, nil
}

// Kind returns the kind the named provider was registered with.
func (r *Registry) Kind(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kinds[name]
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every provider implementing io.Closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs syncerr.List
	for _, name := range ir.SortedKeys(r.providers) {
		if c, ok := r.providers[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close provider %q: %w", name, err))
			}
		}
	}
	return errs.ErrOrNil()
}

// ItemURL returns the provider's link to an item, or "" when the provider
// has no Linker.
func ItemURL(p Provider, mapping, id string) string {
	if l, ok := p.(Linker); ok {
		return l.ItemURL(mapping, id)
	}
	return ""
}
