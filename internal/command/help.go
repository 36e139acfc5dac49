package command

import (
	"fmt"
	"strings"

	"github.com/af-corp/wall-e/internal/registry"
)

// InvalidReply is posted when a comment addresses the bot with an unknown command.
func InvalidReply(prefix string) string {
	return fmt.Sprintf("The command you entered is not valid. Please use `%s help` to see the available commands.", prefix)
}

// ConflictReply is posted when a command arrives while another one holds the
// conversation.
const ConflictReply = "Another command is already running on this pull request. Please wait for it to finish and try again."

// HelpText lists the commands, their flags and the models the catalog serves.
func HelpText(prefix string, catalog *registry.Catalog) string {
	var b strings.Builder
	b.WriteString("Available commands:\n\n")
	fmt.Fprintf(&b, "- `%s generate` - Generate code based on the spec file\n", prefix)
	fmt.Fprintf(&b, "- `%s improve <feedback>` - Improve the generated code using your feedback\n", prefix)
	fmt.Fprintf(&b, "- `%s help` - Show this message\n", prefix)

	b.WriteString("\nOptions for `generate` and `improve`:\n\n")
	b.WriteString("- `path:<dir>` - Base directory of the worker inside the repository\n")
	b.WriteString("- `provider:<name>` - Provider to use; its default model is picked when no model is given\n")
	b.WriteString("- `model:<name>` - Model to use\n")
	fmt.Fprintf(&b, "- `temp:<0-1>` - Sampling temperature (default %.1f)\n", DefaultTemperature)
	b.WriteString("- `fallback:false` - Do not fall back to other providers\n")

	b.WriteString("\nModels:\n")
	for _, p := range catalog.Priority() {
		def, _ := catalog.DefaultModel(p)
		fmt.Fprintf(&b, "\n**%s**\n", p)
		for _, m := range catalog.Models(p) {
			if m == def {
				fmt.Fprintf(&b, "- `%s` (default)\n", m)
				continue
			}
			fmt.Fprintf(&b, "- `%s`\n", m)
		}
	}
	return b.String()
}
