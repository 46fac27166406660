package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler dispatches one queue item against the remote service. The handler
// owns decoding the item's payload into its concrete type - see
// DecodePayload.
type Handler func(ctx context.Context, item *Item) error

type registryKey struct {
	entityType string
	operation  Operation
}

// Registry maps (entity type, operation) pairs to handlers. New entity
// kinds are added by registration rather than by editing a central
// conditional.
type Registry struct {
	mu       sync.RWMutex
	handlers map[registryKey]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[registryKey]Handler)}
}

// Register installs a handler for the given pair, replacing any previous
// registration.
func (r *Registry) Register(entityType string, op Operation, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[registryKey{entityType, op}] = h
}

// Lookup returns the handler for the given pair, if one is registered.
func (r *Registry) Lookup(entityType string, op Operation) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[registryKey{entityType, op}]
	return h, ok
}

// DecodePayload unmarshals an item's opaque payload into the concrete type
// a handler expects. Decoding happens here, at the registry boundary, so
// untyped JSON never travels further into the engine.
func DecodePayload[T any](item *Item) (T, error) {
	var v T
	if len(item.Payload) == 0 {
		return v, fmt.Errorf("queue item %d has no payload", item.ID)
	}
	if err := json.Unmarshal(item.Payload, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s %s payload: %w", item.EntityType, item.Operation, err)
	}
	return v, nil
}
