// Package uploads maps mutation kinds to the backend requests that sync
// them. Each handler owns one resource path and knows how to turn a stored
// record into a create or update call.
package uploads

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lumehealth/lume-sync/pkg/backend"
	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
)

// Client is the slice of the backend client the handlers use.
type Client interface {
	Create(ctx context.Context, req backend.Request) (json.RawMessage, error)
	Update(ctx context.Context, req backend.Request) (json.RawMessage, error)
}

// Handler uploads one kind of mutation record and returns the remote id the
// backend assigned to it.
type Handler interface {
	Kind() enums.MutationKind
	Upload(ctx context.Context, record *models.MutationRecord, token string) (string, error)
}

// Registry resolves the handler for a mutation kind.
type Registry struct {
	mtx      sync.RWMutex
	handlers map[enums.MutationKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[enums.MutationKind]Handler)}
}

// Register adds a handler under its kind, replacing any previous one.
func (r *Registry) Register(handler Handler) {
	if handler == nil {
		return
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.handlers[handler.Kind()] = handler
}

// Resolve returns the handler for the kind, if one is registered.
func (r *Registry) Resolve(kind enums.MutationKind) (Handler, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	handler, ok := r.handlers[kind]
	return handler, ok
}

// NewDefaultRegistry wires the full handler set against the given client.
func NewDefaultRegistry(client Client) *Registry {
	registry := NewRegistry()
	registry.Register(NewProgressHandler(client))
	registry.Register(NewMoodHandler(client))
	registry.Register(NewGoalHandler(client))
	registry.Register(NewMealHandler(client))
	registry.Register(NewPhotoRecognitionHandler(client))
	return registry
}
