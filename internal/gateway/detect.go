package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/af-corp/wall-e/internal/registry"
)

var ErrUnknownProvider = errors.New("could not attribute response to a known provider")

// UnknownProviderError carries the raw events so they can be posted for diagnosis.
type UnknownProviderError struct {
	Events []json.RawMessage
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("%s (%d events)", ErrUnknownProvider, len(e.Events))
}

func (e *UnknownProviderError) Unwrap() error { return ErrUnknownProvider }

// Dump renders the events one per line, capped at limit bytes.
func (e *UnknownProviderError) Dump(limit int) string {
	var b strings.Builder
	for _, ev := range e.Events {
		if b.Len()+len(ev) > limit {
			b.WriteString("...")
			break
		}
		b.Write(ev)
		b.WriteByte('\n')
	}
	return b.String()
}

// envelope holds the top-level fields detection looks at.
type envelope struct {
	Type          string          `json:"type"`
	Object        string          `json:"object"`
	ID            json.RawMessage `json:"id"`
	Nonce         json.RawMessage `json:"nonce"`
	Choices       json.RawMessage `json:"choices"`
	Candidates    json.RawMessage `json:"candidates"`
	UsageMetadata json.RawMessage `json:"usageMetadata"`
}

func present(v json.RawMessage) bool {
	return len(v) > 0 && string(v) != "null"
}

type detector struct {
	name     string
	provider registry.Provider
	match    func(first envelope, all []envelope) bool
}

// detectors is evaluated in order; the first match wins.
var detectors = []detector{
	{
		name:     "anthropic message_start",
		provider: registry.Anthropic,
		match: func(_ envelope, all []envelope) bool {
			for _, p := range all {
				if p.Type == "message_start" {
					return true
				}
			}
			return false
		},
	},
	{
		name:     "openai nonce and id",
		provider: registry.OpenAI,
		match: func(first envelope, _ []envelope) bool {
			return present(first.Nonce) && present(first.ID)
		},
	},
	{
		name:     "google candidates and usageMetadata",
		provider: registry.GoogleAIStudio,
		match: func(first envelope, _ []envelope) bool {
			return present(first.Candidates) && present(first.UsageMetadata)
		},
	},
	{
		name:     "openai chat completion chunk",
		provider: registry.OpenAI,
		match: func(first envelope, _ []envelope) bool {
			return first.Object == "chat.completion.chunk"
		},
	},
	{
		name:     "openai responses event",
		provider: registry.OpenAI,
		match: func(first envelope, _ []envelope) bool {
			return strings.HasPrefix(first.Type, "response.")
		},
	},
	{
		name:     "openai choices",
		provider: registry.OpenAI,
		match: func(first envelope, _ []envelope) bool {
			return present(first.Choices)
		},
	},
}

// Detect attributes an event sequence to the provider that produced it.
func Detect(events []json.RawMessage) (registry.Provider, error) {
	if len(events) == 0 {
		return registry.Unknown, &UnknownProviderError{}
	}
	envelopes := make([]envelope, len(events))
	for i, ev := range events {
		// events that are not objects leave a zero envelope
		_ = json.Unmarshal(ev, &envelopes[i])
	}
	for _, d := range detectors {
		if d.match(envelopes[0], envelopes) {
			return d.provider, nil
		}
	}
	return registry.Unknown, &UnknownProviderError{Events: events}
}
