package capabilities

import "gopkg.in/yaml.v3"

// Model describes one selectable chat model.
type Model struct {
	// Model identifier (set during YAML unmarshaling)
	ID string `yaml:"-" json:"id"`

	DisplayName string `yaml:"display_name" json:"display_name"`
	Description string `yaml:"description" json:"description"`

	// Limits
	ContextWindow int `yaml:"context_window" json:"context_window"`
	MaxOutput     int `yaml:"max_output" json:"max_output"`

	// Streaming is false only for models that return the whole reply at
	// once; everything currently shipped streams.
	Streaming bool `yaml:"streaming" json:"streaming"`
}

// ProviderModels holds all models for one provider.
type ProviderModels struct {
	Provider string  `yaml:"provider" json:"provider"`
	Models   []Model `yaml:"-" json:"models"` // ordered slice, populated by custom unmarshaler
}

// UnmarshalYAML preserves the model order of the YAML file; the dropdown in
// the client shows models in catalog order.
func (p *ProviderModels) UnmarshalYAML(node *yaml.Node) error {
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "provider" {
			p.Provider = node.Content[i+1].Value
			break
		}
	}

	type modelsOnly struct {
		Models map[string]Model `yaml:"models"`
	}
	var m modelsOnly
	if err := node.Decode(&m); err != nil {
		return err
	}

	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "models" {
			modelsNode := node.Content[i+1]
			// modelsNode.Content alternates key, value, key, value...
			for j := 0; j < len(modelsNode.Content); j += 2 {
				modelID := modelsNode.Content[j].Value
				if model, ok := m.Models[modelID]; ok {
					model.ID = modelID
					p.Models = append(p.Models, model)
				}
			}
			break
		}
	}

	return nil
}
