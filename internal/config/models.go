package config

import (
	"fmt"
	"os"
)

// ModelsConfig is the on-disk form of the model catalog (configs/models.yaml).
type ModelsConfig struct {
	// Priority is the fixed fallback order of providers.
	Priority  []string                  `yaml:"priority"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	DefaultModel string                 `yaml:"default_model"`
	APIKey       string                 `yaml:"api_key"`
	APIKeyEnv    string                 `yaml:"api_key_env"`
	Models       map[string]ModelConfig `yaml:"models"`
}

// Key returns the configured API key, falling back to the named env var.
func (p ProviderConfig) Key() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

type ModelConfig struct {
	MaxOutputTokens int              `yaml:"max_output_tokens"`
	Reasoning       *ReasoningConfig `yaml:"reasoning,omitempty"`
}

// ReasoningConfig marks a model id as the thinking variant of BaseModel.
type ReasoningConfig struct {
	BaseModel    string `yaml:"base_model"`
	Effort       string `yaml:"effort,omitempty"`
	BudgetTokens int    `yaml:"budget_tokens,omitempty"`
	BetaHeader   string `yaml:"beta_header,omitempty"`
}

// Validate checks that every priority entry has a provider section and that
// no model id is listed under more than one provider.
func (m *ModelsConfig) Validate() error {
	for _, p := range m.Priority {
		if _, ok := m.Providers[p]; !ok {
			return fmt.Errorf("priority lists unknown provider %q", p)
		}
	}
	owner := make(map[string]string)
	for name, p := range m.Providers {
		for model := range p.Models {
			if prev, dup := owner[model]; dup {
				return fmt.Errorf("model %q listed under both %q and %q", model, prev, name)
			}
			owner[model] = name
		}
		if p.DefaultModel != "" {
			if _, ok := p.Models[p.DefaultModel]; !ok {
				return fmt.Errorf("provider %q default model %q is not in its model list", name, p.DefaultModel)
			}
		}
	}
	return nil
}
