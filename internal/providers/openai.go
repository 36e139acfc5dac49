package providers

import (
	"github.com/af-corp/wall-e/internal/registry"
)

type openAIBuilder struct{}

// Build produces a chat completions request, or a responses API request for
// reasoning models. The caller's temperature is on a [0,1] scale and is
// doubled onto OpenAI's [0,2] range.
func (openAIBuilder) Build(m registry.Model, p Params) (Request, error) {
	headers := map[string]string{
		"authorization": "Bearer " + p.APIKey,
		"content-type":  "application/json",
	}

	if r := m.Reasoning; r != nil {
		return Request{
			Provider: registry.OpenAI,
			Endpoint: "responses",
			Headers:  headers,
			Query: openAIResponsesBody{
				Model:           string(m.UpstreamName()),
				Stream:          p.Stream,
				Instructions:    p.Prompts.System,
				Input:           []openAIMessage{{Role: "user", Content: p.Prompts.User}},
				Reasoning:       &openAIReasoning{Effort: r.Effort},
				Temperature:     1,
				MaxOutputTokens: m.MaxOutputTokens,
			},
		}, nil
	}

	seed := 0
	return Request{
		Provider: registry.OpenAI,
		Endpoint: "chat/completions",
		Headers:  headers,
		Query: openAIChatBody{
			Model:  string(m.UpstreamName()),
			Stream: p.Stream,
			Messages: []openAIMessage{
				{Role: "system", Content: p.Prompts.System},
				{Role: "user", Content: p.Prompts.User},
			},
			Temperature:         clamp(p.Temperature*2, 0, 2),
			Seed:                &seed,
			MaxCompletionTokens: m.MaxOutputTokens,
		},
	}, nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatBody struct {
	Model               string          `json:"model"`
	Stream              bool            `json:"stream"`
	Messages            []openAIMessage `json:"messages"`
	Temperature         float64         `json:"temperature"`
	Seed                *int            `json:"seed,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens"`
}

type openAIReasoning struct {
	Effort string `json:"effort,omitempty"`
}

type openAIResponsesBody struct {
	Model           string           `json:"model"`
	Stream          bool             `json:"stream"`
	Instructions    string           `json:"instructions,omitempty"`
	Input           []openAIMessage  `json:"input"`
	Reasoning       *openAIReasoning `json:"reasoning,omitempty"`
	Temperature     float64          `json:"temperature"`
	MaxOutputTokens int              `json:"max_output_tokens"`
}
