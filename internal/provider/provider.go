// Package provider holds the backends that produce chunk/error/end event
// sequences for chat requests.
package provider

import (
	"context"
	"fmt"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/stream"
)

// Request is the opaque upstream payload for one chat completion.
type Request struct {
	Model     string
	Messages  []models.ChatMessage
	MaxTokens int
}

// Invoker triggers a backend completion and emits its event sequence on the
// request's channel: zero or more chunk events followed by exactly one end
// or one error event. A non-nil return is a synchronous rejection - nothing
// has been emitted and nothing will be.
type Invoker interface {
	Name() string
	SupportsModel(model string) bool
	Stream(ctx context.Context, req *Request, ch *stream.Emitter) error
}

// Registry resolves models to the provider that serves them.
type Registry struct {
	invokers []Invoker
}

// NewRegistry creates a registry over the given providers, consulted in
// order.
func NewRegistry(invokers ...Invoker) *Registry {
	return &Registry{invokers: invokers}
}

// Register appends a provider to the registry.
func (r *Registry) Register(inv Invoker) {
	r.invokers = append(r.invokers, inv)
}

// Resolve returns the first provider claiming the model.
func (r *Registry) Resolve(model string) (Invoker, error) {
	for _, inv := range r.invokers {
		if inv.SupportsModel(model) {
			return inv, nil
		}
	}
	return nil, fmt.Errorf("%w: no provider supports model '%s'", domain.ErrValidation, model)
}
