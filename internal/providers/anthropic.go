package providers

import (
	"github.com/af-corp/wall-e/internal/registry"
)

const anthropicVersion = "2023-06-01"

type anthropicBuilder struct{}

// Build produces a Messages API request. Temperature is passed through within
// [0,1]; thinking variants send the base model with a thinking budget and
// temperature 1.
func (anthropicBuilder) Build(m registry.Model, p Params) (Request, error) {
	headers := map[string]string{
		"x-api-key":         p.APIKey,
		"anthropic-version": anthropicVersion,
		"content-type":      "application/json",
	}

	body := anthropicRequestBody{
		Model:       string(m.UpstreamName()),
		MaxTokens:   m.MaxOutputTokens,
		Stream:      p.Stream,
		System:      p.Prompts.System,
		Temperature: clamp(p.Temperature, 0, 1),
		Messages: []anthropicMessage{
			{Role: "user", Content: p.Prompts.User},
		},
	}

	if r := m.Reasoning; r != nil {
		body.Temperature = 1
		body.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: r.BudgetTokens}
		if r.BetaHeader != "" {
			headers["anthropic-beta"] = r.BetaHeader
		}
	}

	return Request{
		Provider: registry.Anthropic,
		Endpoint: "v1/messages",
		Headers:  headers,
		Query:    body,
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}
