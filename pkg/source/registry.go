package source

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

type Registry struct {
	factories map[string]ClientFactory
	mu        sync.RWMutex
}

// ClientFactory builds a client for the source called name.
type ClientFactory func(name string, config map[string]any, logger *zap.Logger) (Client, error)

var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ClientFactory),
	}
}

func (r *Registry) Register(clientType string, factory ClientFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[clientType]; exists {
		return fmt.Errorf("client type %s already registered", clientType)
	}

	r.factories[clientType] = factory
	return nil
}

func (r *Registry) Create(
	ctx context.Context,
	clientType string,
	name string,
	config map[string]any,
	logger *zap.Logger,
) (Client, error) {
	r.mu.RLock()
	factory, exists := r.factories[clientType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("client type %s not found", clientType)
	}

	client, err := factory(name, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if c, ok := client.(Connector); ok {
		if err := c.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to source: %w", err)
		}
	}

	return client, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for clientType := range r.factories {
		types = append(types, clientType)
	}
	slices.Sort(types)
	return types
}

func (r *Registry) Has(clientType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[clientType]
	return exists
}

func Register(clientType string, factory ClientFactory) error {
	return globalRegistry.Register(clientType, factory)
}

func MustRegister(clientType string, factory ClientFactory) {
	if err := Register(clientType, factory); err != nil {
		panic(err)
	}
}

func Create(
	ctx context.Context,
	clientType string,
	name string,
	config map[string]any,
	logger *zap.Logger,
) (Client, error) {
	return globalRegistry.Create(ctx, clientType, name, config, logger)
}

func List() []string {
	return globalRegistry.List()
}

func Has(clientType string) bool {
	return globalRegistry.Has(clientType)
}
