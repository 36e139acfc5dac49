// Package prompt builds the LLM prompts for each command and extracts the
// generated file from a completion.
package prompt

import (
	_ "embed"
	"regexp"
	"strings"

	"github.com/af-corp/wall-e/internal/types"
)

//go:embed markdown/generate_worker.md
var generateSystem string

//go:embed markdown/improve_worker.md
var improveSystem string

// ForGeneration builds the prompt that writes the output file from scratch.
func ForGeneration(specFile string) types.PromptMessages {
	return types.PromptMessages{
		System: generateSystem,
		User:   tag("spec_file", specFile) + "\n\n",
	}
}

// ForImprovement builds the prompt that revises an existing output file.
func ForImprovement(indexFile, specFile, feedback string) types.PromptMessages {
	return types.PromptMessages{
		System: improveSystem,
		User: tag("index_file", indexFile) + "\n\n" +
			tag("reviewer_feedback", feedback) + "\n\n" +
			tag("spec_file", specFile) + "\n\n",
	}
}

func tag(name, body string) string {
	return "<" + name + ">\n" + body + "\n</" + name + ">"
}

var (
	codeTag   = regexp.MustCompile(`<?/?generated_code>`)
	codeFence = regexp.MustCompile("(?s)^```[\\w-]*\\s*\\n(.*?)\\n?```$")
)

// ExtractGeneratedCode returns the code between <generated_code> tags. Models
// sometimes drop one of the tags, or both; whatever is left after removing
// the tags that are present is used. A surrounding markdown fence is removed.
func ExtractGeneratedCode(text string) string {
	code := text
	locs := codeTag.FindAllStringIndex(text, -1)
	switch {
	case len(locs) >= 2:
		code = text[locs[0][1]:locs[len(locs)-1][0]]
	case len(locs) == 1:
		before, after := text[:locs[0][0]], text[locs[0][1]:]
		if strings.Contains(text[locs[0][0]:locs[0][1]], "/") {
			code = before
		} else {
			code = after
		}
	}
	code = strings.TrimSpace(code)
	if m := codeFence.FindStringSubmatch(code); m != nil {
		code = strings.TrimSpace(m[1])
	}
	return code
}
