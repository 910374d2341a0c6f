// Package operator is the extension directory: every chunker, enricher,
// indexer, retriever, and post-processor registers here under a
// (category, name) key and is constructed from a parameter map.
package operator

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/tessera-kb/tessera/pkg/types"
)

// Category partitions the operator namespace.
type Category string

const (
	CategoryChunker       Category = "chunker"
	CategoryEnricher      Category = "enricher"
	CategoryIndexer       Category = "indexer"
	CategoryRetriever     Category = "retriever"
	CategoryPostProcessor Category = "postprocessor"
)

// Requirement is a cross-category dependency an operator imposes on the
// rest of a knowledge base's configuration.
type Requirement struct {
	Category Category
	Name     string
}

// Factory builds an operator instance from its parameter map. The
// dynamic type of the result depends on the category; consuming
// packages assert to their own interface.
type Factory func(params map[string]any) (any, error)

// Descriptor is one registered operator.
type Descriptor struct {
	Category Category
	Name     string
	Factory  Factory
	// Requires lists operators that must appear elsewhere in the same
	// knowledge-base config.
	Requires []Requirement
	// NeedsSparse marks retrievers that cannot run without the sparse
	// store enabled on the knowledge base.
	NeedsSparse bool
}

// Directory holds all registered operators. Registration happens at
// startup; lookups afterwards.
type Directory struct {
	mu    sync.RWMutex
	items map[Category]map[string]Descriptor
}

func NewDirectory() *Directory {
	return &Directory{items: make(map[Category]map[string]Descriptor)}
}

// Register adds a descriptor. Re-registering the identical factory
// under the same key is a no-op; a different factory for an existing
// key is an OPERATOR_CONFLICT.
func (d *Directory) Register(desc Descriptor) error {
	if desc.Category == "" || desc.Name == "" {
		return types.NewError(types.ErrValidation, "operator category and name are required")
	}
	if desc.Factory == nil {
		return types.NewError(types.ErrValidation, "operator %s/%s has no factory", desc.Category, desc.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	byName, ok := d.items[desc.Category]
	if !ok {
		byName = make(map[string]Descriptor)
		d.items[desc.Category] = byName
	}

	if existing, ok := byName[desc.Name]; ok {
		if sameFactory(existing.Factory, desc.Factory) {
			return nil
		}
		return types.NewError(types.ErrOperatorConflict,
			"operator %s/%s already registered with a different implementation", desc.Category, desc.Name)
	}

	byName[desc.Name] = desc
	return nil
}

func sameFactory(a, b Factory) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// Get looks up a descriptor by category and name.
func (d *Directory) Get(category Category, name string) (Descriptor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if desc, ok := d.items[category][name]; ok {
		return desc, nil
	}
	return Descriptor{}, types.NewError(types.ErrOperatorNotFound, "no %s operator named %q", category, name)
}

// Names lists the registered names in a category.
func (d *Directory) Names(category Category) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.items[category]))
	for name := range d.items[category] {
		names = append(names, name)
	}
	return names
}

// Build resolves the ref and constructs the operator with its params.
func (d *Directory) Build(category Category, ref types.OperatorRef) (any, error) {
	desc, err := d.Get(category, ref.Name)
	if err != nil {
		return nil, err
	}
	op, err := desc.Factory(ref.Params)
	if err != nil {
		return nil, types.WrapError(types.ErrKBConfigError, err,
			"failed to construct %s operator %q", category, ref.Name)
	}
	return op, nil
}

// ValidateKB checks a knowledge-base config against the directory
// before anything is written: all referenced operators must exist and
// every cross-operator requirement must hold.
func (d *Directory) ValidateKB(cfg types.KBConfig) error {
	if cfg.Embedding.Dimension < 1 {
		return types.NewError(types.ErrKBConfigError,
			"embedding dimension must be positive, got %d", cfg.Embedding.Dimension)
	}
	refs := map[Category]types.OperatorRef{
		CategoryChunker:   cfg.Chunker,
		CategoryIndexer:   cfg.Indexer,
		CategoryRetriever: cfg.Retriever,
	}
	if cfg.Enricher != nil {
		refs[CategoryEnricher] = *cfg.Enricher
	}

	for category, ref := range refs {
		desc, err := d.Get(category, ref.Name)
		if err != nil {
			return err
		}
		for _, req := range desc.Requires {
			have, ok := refs[req.Category]
			if !ok || have.Name != req.Name {
				return types.NewError(types.ErrKBConfigError,
					"%s operator %q requires %s operator %q", category, ref.Name, req.Category, req.Name)
			}
		}
		if desc.NeedsSparse && !cfg.SparseEnabled {
			return types.NewError(types.ErrKBConfigError,
				"%s operator %q requires sparse indexing to be enabled", category, ref.Name)
		}
	}
	return nil
}

// DecodeParams fills a typed param struct from an operator's raw
// parameter map. Unknown keys are a VALIDATION_ERROR so typos surface
// at configuration time rather than silently defaulting.
func DecodeParams(params map[string]any, out any) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:   out,
		Metadata: &md,
		TagName:  "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to build param decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return types.WrapError(types.ErrValidation, err, "invalid operator params")
	}
	if len(md.Unused) > 0 {
		return types.NewError(types.ErrValidation, "unknown operator params: %v", md.Unused)
	}
	return nil
}
