// Package parser turns raw source payloads into canonical entities.
package parser

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"go.uber.org/zap"
)

// Parser builds an entity from one payload. previous is the stored entity or
// nil and must not be modified.
type Parser interface {
	Parse(ctx context.Context, raw source.RawPayload, previous *entity.Entity) (*entity.Entity, error)
}

type Factory func(config map[string]any, logger *zap.Logger) (Parser, error)

type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(parserType string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[parserType]; exists {
		return fmt.Errorf("parser type %s already registered", parserType)
	}

	r.factories[parserType] = factory
	return nil
}

func (r *Registry) Create(parserType string, config map[string]any, logger *zap.Logger) (Parser, error) {
	r.mu.RLock()
	factory, exists := r.factories[parserType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("parser type %s not found", parserType)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	p, err := factory(config, logger.With(zap.String("parser", parserType)))
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}
	return p, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

func (r *Registry) Has(parserType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[parserType]
	return exists
}

func Register(parserType string, factory Factory) error {
	return globalRegistry.Register(parserType, factory)
}

func MustRegister(parserType string, factory Factory) {
	if err := Register(parserType, factory); err != nil {
		panic(err)
	}
}

func Create(parserType string, config map[string]any, logger *zap.Logger) (*Validated, error) {
	p, err := globalRegistry.Create(parserType, config, logger)
	if err != nil {
		return nil, err
	}
	return &Validated{Parser: p}, nil
}

func List() []string {
	return globalRegistry.List()
}

func Has(parserType string) bool {
	return globalRegistry.Has(parserType)
}

// Validated wraps a parser and rejects results that break the entity
// invariants every later stage relies on.
type Validated struct {
	Parser
}

func (v *Validated) Parse(ctx context.Context, raw source.RawPayload, previous *entity.Entity) (*entity.Entity, error) {
	e, err := v.Parser.Parse(ctx, raw, previous)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("parser returned no entity for %s", raw.ID)
	}
	if e.ID == "" {
		e.ID = raw.ID
	}
	if err := e.Properties.Validate(); err != nil {
		return nil, fmt.Errorf("invalid properties for %s: %w", e.ID, err)
	}
	return e, nil
}
