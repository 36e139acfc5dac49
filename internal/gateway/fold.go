package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/af-corp/wall-e/internal/registry"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
	"google.golang.org/genai"
)

// Folded is the text and metadata recovered from one provider's events.
type Folded struct {
	Text         string
	Model        string
	MessageID    string
	InputTokens  int64
	OutputTokens int64
	Grounded     bool
}

// Metadata renders the non-text fields as short "key: value" lines.
func (f Folded) Metadata() []string {
	var md []string
	if f.MessageID != "" {
		md = append(md, "id: "+f.MessageID)
	}
	if f.InputTokens > 0 || f.OutputTokens > 0 {
		md = append(md, fmt.Sprintf("usage: %d input, %d output tokens", f.InputTokens, f.OutputTokens))
	}
	if f.Grounded {
		md = append(md, "grounding: search entry point present")
	}
	return md
}

type foldFunc func(events []json.RawMessage) Folded

var folds = map[registry.Provider]foldFunc{
	registry.Anthropic:      foldAnthropic,
	registry.OpenAI:         foldOpenAI,
	registry.GoogleAIStudio: foldGoogle,
}

// Fold concatenates the text deltas of events in order. Events without a
// text delta are ignored.
func Fold(provider registry.Provider, events []json.RawMessage) (Folded, error) {
	f, ok := folds[provider]
	if !ok {
		return Folded{}, &UnknownProviderError{Events: events}
	}
	return f(events), nil
}

func foldAnthropic(events []json.RawMessage) Folded {
	var out Folded
	var text strings.Builder
	for _, raw := range events {
		var ev anthropic.MessageStreamEventUnion
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			out.Model = string(ev.Message.Model)
			out.MessageID = ev.Message.ID
			out.InputTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" {
				text.WriteString(ev.Delta.Text)
			}
		case "message_delta":
			out.OutputTokens = ev.Usage.OutputTokens
		}
	}
	out.Text = text.String()
	return out
}

func foldOpenAI(events []json.RawMessage) Folded {
	var out Folded
	var text strings.Builder
	for _, raw := range events {
		var p envelope
		_ = json.Unmarshal(raw, &p)

		if strings.HasPrefix(p.Type, "response.") {
			var ev responses.ResponseStreamEventUnion
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "response.output_text.delta":
				text.WriteString(ev.Delta.OfString)
			case "response.created", "response.completed":
				out.Model = ev.Response.Model
				out.MessageID = ev.Response.ID
				if ev.Response.Usage.OutputTokens > 0 {
					out.InputTokens = ev.Response.Usage.InputTokens
					out.OutputTokens = ev.Response.Usage.OutputTokens
				}
			}
			continue
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.ID != "" {
			out.MessageID = chunk.ID
		}
		if chunk.Usage.CompletionTokens > 0 {
			out.InputTokens = chunk.Usage.PromptTokens
			out.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Index == 0 {
				text.WriteString(choice.Delta.Content)
			}
		}
	}
	out.Text = text.String()
	return out
}

func foldGoogle(events []json.RawMessage) Folded {
	var out Folded
	var text strings.Builder
	for _, raw := range events {
		var resp genai.GenerateContentResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		if resp.ModelVersion != "" {
			out.Model = resp.ModelVersion
		}
		if resp.ResponseID != "" {
			out.MessageID = resp.ResponseID
		}
		if u := resp.UsageMetadata; u != nil {
			out.InputTokens = int64(u.PromptTokenCount)
			out.OutputTokens = int64(u.CandidatesTokenCount)
		}
		for _, c := range resp.Candidates {
			if c == nil {
				continue
			}
			if c.GroundingMetadata != nil && c.GroundingMetadata.SearchEntryPoint != nil {
				out.Grounded = true
			}
			if c.Content == nil {
				continue
			}
			for _, part := range c.Content.Parts {
				if part == nil || part.Thought {
					continue
				}
				text.WriteString(part.Text)
			}
		}
	}
	out.Text = text.String()
	return out
}
