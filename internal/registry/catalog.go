package registry

import (
	"fmt"
	"slices"

	"github.com/af-corp/wall-e/internal/config"
)

// Reasoning describes a thinking variant of a base model.
type Reasoning struct {
	BaseModel    ModelName
	Effort       string
	BudgetTokens int
	BetaHeader   string
}

// Model is one catalog entry.
type Model struct {
	Name            ModelName
	Provider        Provider
	MaxOutputTokens int
	Reasoning       *Reasoning
}

// UpstreamName is the identifier sent to the vendor. Thinking variants map to their base model.
func (m Model) UpstreamName() ModelName {
	if m.Reasoning != nil && m.Reasoning.BaseModel != "" {
		return m.Reasoning.BaseModel
	}
	return m.Name
}

type providerEntry struct {
	defaultModel ModelName
	models       []ModelName
	apiKey       string
}

// Catalog maps providers to their models, default model and API key.
// It is built once and never mutated, so it can be shared between goroutines.
type Catalog struct {
	priority  []Provider
	providers map[Provider]providerEntry
	models    map[ModelName]Model
}

// New builds a catalog from the models config. A model listed under two
// providers, or a provider name the bot does not support, is an error.
func New(cfg *config.ModelsConfig) (*Catalog, error) {
	c := &Catalog{
		providers: make(map[Provider]providerEntry),
		models:    make(map[ModelName]Model),
	}

	for name, pc := range cfg.Providers {
		p, err := ParseProvider(name)
		if err != nil {
			return nil, err
		}
		entry := providerEntry{
			defaultModel: ModelName(pc.DefaultModel),
			apiKey:       pc.Key(),
		}
		for id, mc := range pc.Models {
			m := ModelName(id)
			if prev, dup := c.models[m]; dup {
				return nil, fmt.Errorf("model %s listed under both %s and %s", m, prev.Provider, p)
			}
			if mc.MaxOutputTokens <= 0 {
				return nil, fmt.Errorf("model %s: max_output_tokens must be positive", m)
			}
			model := Model{Name: m, Provider: p, MaxOutputTokens: mc.MaxOutputTokens}
			if r := mc.Reasoning; r != nil {
				model.Reasoning = &Reasoning{
					BaseModel:    ModelName(r.BaseModel),
					Effort:       r.Effort,
					BudgetTokens: r.BudgetTokens,
					BetaHeader:   r.BetaHeader,
				}
			}
			c.models[m] = model
			entry.models = append(entry.models, m)
		}
		slices.Sort(entry.models)
		if entry.defaultModel != "" && !slices.Contains(entry.models, entry.defaultModel) {
			return nil, fmt.Errorf("provider %s: default model %s is not in its model list", p, entry.defaultModel)
		}
		c.providers[p] = entry
	}

	priority := cfg.Priority
	if len(priority) == 0 {
		for _, p := range Known() {
			priority = append(priority, string(p))
		}
	}
	for _, name := range priority {
		p, err := ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("priority: %w", err)
		}
		if slices.Contains(c.priority, p) {
			return nil, fmt.Errorf("priority lists %s twice", p)
		}
		c.priority = append(c.priority, p)
	}
	return c, nil
}

// MustNew is New for built-in tables that are covered by tests.
func MustNew(cfg *config.ModelsConfig) *Catalog {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) IsValidModel(m ModelName) bool {
	_, ok := c.models[m]
	return ok
}

// ProviderForModel returns Unknown for models no provider serves.
func (c *Catalog) ProviderForModel(m ModelName) Provider {
	if model, ok := c.models[m]; ok {
		return model.Provider
	}
	return Unknown
}

func (c *Catalog) Model(m ModelName) (Model, bool) {
	model, ok := c.models[m]
	return model, ok
}

// DefaultModel returns the provider's default model, if one is configured.
func (c *Catalog) DefaultModel(p Provider) (ModelName, bool) {
	entry, ok := c.providers[p]
	if !ok || entry.defaultModel == "" {
		return "", false
	}
	return entry.defaultModel, true
}

// Models returns the sorted model set of p.
func (c *Catalog) Models(p Provider) []ModelName {
	return slices.Clone(c.providers[p].models)
}

func (c *Catalog) APIKey(p Provider) string {
	return c.providers[p].apiKey
}

// Priority returns the fixed fallback order.
func (c *Catalog) Priority() []Provider {
	return slices.Clone(c.priority)
}

// Resolve validates a user's provider/model choice. An empty provider is
// inferred from the model; an empty model falls back to the provider default.
func (c *Catalog) Resolve(provider string, model string) (Provider, ModelName, error) {
	var p Provider
	if provider != "" {
		parsed, err := ParseProvider(provider)
		if err != nil {
			return Unknown, "", err
		}
		if _, ok := c.providers[parsed]; !ok {
			return Unknown, "", fmt.Errorf("%w: %s is not configured", ErrInvalidProvider, parsed)
		}
		p = parsed
	}

	m := ModelName(model)
	if m == "" {
		if p == "" {
			return Unknown, "", fmt.Errorf("%w: no model or provider given", ErrInvalidModel)
		}
		def, ok := c.DefaultModel(p)
		if !ok {
			return Unknown, "", fmt.Errorf("%w: %s has no default model", ErrInvalidModel, p)
		}
		return p, def, nil
	}

	owner := c.ProviderForModel(m)
	if owner == Unknown {
		return Unknown, "", fmt.Errorf("%w: %s", ErrInvalidModel, m)
	}
	if p != "" && owner != p {
		return Unknown, "", fmt.Errorf("%w: %s is served by %s, not %s", ErrModelProviderMismatch, m, owner, p)
	}
	return owner, m, nil
}
