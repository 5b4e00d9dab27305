package fw24

import (
	"context"
	"fmt"
	"sync"
)

// RelatedService is what the hydrator needs from the service of a related
// entity. *EntityService implements it.
type RelatedService interface {
	Schema() *Schema
	GetBatch(ctx context.Context, in GetBatchInput) (*GetBatchOutput, error)
	SerializationAttributeNames() []string
}

// Registry maps entity names to their services. It is populated at startup
// and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	services map[string]RelatedService
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]RelatedService)}
}

// Register adds svc under its schema's entity name. Registering the same
// entity twice is an ErrConfiguration.
func (r *Registry) Register(svc RelatedService) error {
	entity := svc.Schema().Entity
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[entity]; ok {
		return fmt.Errorf("%w: entity %s is already registered", ErrConfiguration, entity)
	}
	r.services[entity] = svc
	r.order = append(r.order, entity)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(services ...RelatedService) {
	for _, svc := range services {
		if err := r.Register(svc); err != nil {
			panic(err)
		}
	}
}

// Service returns the service registered for entity.
func (r *Registry) Service(entity string) (RelatedService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[entity]
	return svc, ok
}

// Schema implements SchemaLookup.
func (r *Registry) Schema(entity string) (*Schema, bool) {
	svc, ok := r.Service(entity)
	if !ok {
		return nil, false
	}
	return svc.Schema(), true
}

// Entities returns the registered entity names in registration order.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
