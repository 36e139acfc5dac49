package registry

import "github.com/af-corp/wall-e/internal/config"

// DefaultModelsConfig is the built-in catalog used when no models.yaml is present.
func DefaultModelsConfig() *config.ModelsConfig {
	return &config.ModelsConfig{
		Priority: []string{string(Anthropic), string(OpenAI), string(GoogleAIStudio)},
		Providers: map[string]config.ProviderConfig{
			string(Anthropic): {
				DefaultModel: "claude-3-7-sonnet-20250219",
				APIKeyEnv:    "ANTHROPIC_API_KEY",
				Models: map[string]config.ModelConfig{
					"claude-3-5-sonnet-20240620": {MaxOutputTokens: 8192},
					"claude-3-7-sonnet-20250219": {MaxOutputTokens: 8192},
					"claude-3-7-sonnet-20250219-thinking": {
						MaxOutputTokens: 128000,
						Reasoning: &config.ReasoningConfig{
							BaseModel:    "claude-3-7-sonnet-20250219",
							BudgetTokens: 32000,
							BetaHeader:   "output-128k-2025-02-19",
						},
					},
				},
			},
			string(OpenAI): {
				DefaultModel: "gpt-4.1",
				APIKeyEnv:    "OPENAI_API_KEY",
				Models: map[string]config.ModelConfig{
					"gpt-4o":  {MaxOutputTokens: 16384},
					"gpt-4.1": {MaxOutputTokens: 32768},
					"o3":      {MaxOutputTokens: 100000, Reasoning: &config.ReasoningConfig{Effort: "high"}},
					"o4-mini": {MaxOutputTokens: 100000, Reasoning: &config.ReasoningConfig{Effort: "high"}},
				},
			},
			string(GoogleAIStudio): {
				DefaultModel: "gemini-2.5-pro",
				APIKeyEnv:    "GOOGLE_AI_STUDIO_API_KEY",
				Models: map[string]config.ModelConfig{
					"gemini-2.5-pro":   {MaxOutputTokens: 65536},
					"gemini-2.5-flash": {MaxOutputTokens: 65536},
					"gemini-2.5-flash-thinking": {
						MaxOutputTokens: 65536,
						Reasoning: &config.ReasoningConfig{
							BaseModel:    "gemini-2.5-flash",
							BudgetTokens: 24576,
						},
					},
				},
			},
		},
	}
}

// Default builds the built-in catalog.
func Default() *Catalog {
	return MustNew(DefaultModelsConfig())
}
