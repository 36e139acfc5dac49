package registry

import (
	"errors"
	"fmt"
)

// Provider is an LLM vendor backend reachable through the relay.
type Provider string

const (
	Anthropic      Provider = "anthropic"
	OpenAI         Provider = "openai"
	GoogleAIStudio Provider = "google-ai-studio"
	Unknown        Provider = "unknown"
)

// ModelName is a model identifier as users type it in commands.
type ModelName string

var (
	ErrInvalidProvider       = errors.New("invalid provider")
	ErrInvalidModel          = errors.New("invalid model")
	ErrModelProviderMismatch = errors.New("model does not belong to provider")
)

// Known returns every provider the bot can build requests for, in declaration order.
func Known() []Provider {
	return []Provider{Anthropic, OpenAI, GoogleAIStudio}
}

func (p Provider) Valid() bool {
	switch p {
	case Anthropic, OpenAI, GoogleAIStudio:
		return true
	default:
		return false
	}
}

// ParseProvider maps a user-supplied name to a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return Unknown, fmt.Errorf("%w: %q", ErrInvalidProvider, s)
	}
	return p, nil
}
