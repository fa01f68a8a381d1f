package capabilities

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Registry holds the model catalog across all providers.
type Registry struct {
	providers map[string]*ProviderModels
	order     []string
	mu        sync.RWMutex
}

// NewRegistry creates a registry from the embedded YAML catalogs.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*ProviderModels),
	}

	for _, provider := range []string{"anthropic", "lorem"} {
		if err := r.loadProviderFile(provider); err != nil {
			return nil, fmt.Errorf("failed to load %s catalog: %w", provider, err)
		}
	}

	return r, nil
}

func (r *Registry) loadProviderFile(provider string) error {
	filename := fmt.Sprintf("config/%s.yaml", provider)
	data, err := configFiles.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	var models ProviderModels
	if err := yaml.Unmarshal(data, &models); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filename, err)
	}

	r.mu.Lock()
	r.providers[provider] = &models
	r.order = append(r.order, provider)
	r.mu.Unlock()

	return nil
}

// GetModel returns the catalog entry for a model, searching all providers.
func (r *Registry) GetModel(model string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, provider := range r.order {
		models := r.providers[provider]
		for i := range models.Models {
			if models.Models[i].ID == model {
				return &models.Models[i], nil
			}
		}
	}

	return nil, fmt.Errorf("unknown model: %s", model)
}

// ListModels returns the full catalog in provider, then YAML, order.
func (r *Registry) ListModels() []ProviderModels {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderModels, 0, len(r.order))
	for _, provider := range r.order {
		out = append(out, *r.providers[provider])
	}
	return out
}
