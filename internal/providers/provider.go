// Package providers builds vendor-specific relay steps from a vendor-neutral prompt.
package providers

import (
	"errors"
	"fmt"

	"github.com/af-corp/wall-e/internal/registry"
	"github.com/af-corp/wall-e/internal/types"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrUnsupportedModel    = errors.New("unsupported model")
)

// Request is one relay step: the vendor, the vendor endpoint relative to the
// relay, the vendor headers and the vendor body.
type Request struct {
	Provider registry.Provider `json:"provider"`
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers"`
	Query    any               `json:"query"`
}

type Params struct {
	Model       registry.ModelName
	Prompts     types.PromptMessages
	APIKey      string
	Temperature float64
	Stream      bool
}

// Builder translates params into a vendor request. Implementations are pure.
type Builder interface {
	Build(model registry.Model, p Params) (Request, error)
}

var builders = map[registry.Provider]Builder{
	registry.Anthropic:      anthropicBuilder{},
	registry.OpenAI:         openAIBuilder{},
	registry.GoogleAIStudio: googleBuilder{},
}

// Build looks up the provider's builder and the model's catalog entry.
// Models the catalog does not list under provider fail closed.
func Build(catalog *registry.Catalog, provider registry.Provider, p Params) (Request, error) {
	b, ok := builders[provider]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	m, ok := catalog.Model(p.Model)
	if !ok || m.Provider != provider {
		return Request{}, fmt.Errorf("%w: %s for %s", ErrUnsupportedModel, p.Model, provider)
	}
	return b.Build(m, p)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
