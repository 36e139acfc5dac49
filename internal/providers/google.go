package providers

import (
	"github.com/af-corp/wall-e/internal/registry"
	"google.golang.org/genai"
)

type googleBuilder struct{}

// Build produces a generateContent request body from genai types. Temperature
// passes through within [0,2].
func (googleBuilder) Build(m registry.Model, p Params) (Request, error) {
	temp := float32(clamp(p.Temperature, 0, 2))
	cfg := &genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(m.MaxOutputTokens),
	}
	if r := m.Reasoning; r != nil {
		one := float32(1)
		cfg.Temperature = &one
		budget := int32(r.BudgetTokens)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}

	body := googleRequestBody{
		Contents: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: p.Prompts.User}},
		}},
		GenerationConfig: cfg,
		Tools:            []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if p.Prompts.System != "" {
		body.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: p.Prompts.System}}}
	}

	endpoint := "v1beta/models/" + string(m.UpstreamName())
	if p.Stream {
		endpoint += ":streamGenerateContent?alt=sse"
	} else {
		endpoint += ":generateContent"
	}

	return Request{
		Provider: registry.GoogleAIStudio,
		Endpoint: endpoint,
		Headers: map[string]string{
			"x-goog-api-key": p.APIKey,
			"content-type":   "application/json",
		},
		Query: body,
	}, nil
}

type googleRequestBody struct {
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	Contents          []*genai.Content        `json:"contents"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
	Tools             []*genai.Tool           `json:"tools,omitempty"`
}
