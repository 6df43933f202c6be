package acp

import (
	"fmt"
	"strings"

	"github.com/m4xw311/warden/policy"
)

type slashCommand struct {
	name        string
	description string
	hint        string
}

var slashCommands = []slashCommand{
	{name: "confirm", description: "Control confirmation mode (always-ask|always-approve|llm-approve)", hint: "mode"},
	{name: "help", description: "Show available slash commands"},
}

func availableCommands() map[string]any {
	cmds := make([]any, 0, len(slashCommands))
	for _, c := range slashCommands {
		cmd := map[string]any{"name": "/" + c.name, "description": c.description}
		if c.hint != "" {
			cmd["input"] = map[string]any{"hint": c.hint}
		}
		cmds = append(cmds, cmd)
	}
	return map[string]any{"session_update": updateCommands, "available_commands": cmds}
}

// parseSlashCommand splits "/name arg" into its lower-cased name and the
// rest. Text that does not start with a slash, or a lone slash, is not a
// command.
func parseSlashCommand(text string) (name, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	text = strings.TrimSpace(text[1:])
	if text == "" {
		return "", "", false
	}
	name, arg, _ = strings.Cut(text, " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func helpText() string {
	lines := []string{"Available slash commands:", ""}
	for _, c := range slashCommands {
		lines = append(lines, fmt.Sprintf("  /%s - %s", c.name, c.description))
	}
	return strings.Join(lines, "\n")
}

func modesText() string {
	var b strings.Builder
	b.WriteString("Available modes:\n")
	for _, m := range policy.Modes() {
		fmt.Fprintf(&b, "  %-14s - %s\n", m.ID, m.Description)
	}
	return b.String()
}

// runCommand executes a slash command against a session's policy store and
// returns the text to show the user.
func runCommand(store *policy.Store, name, arg string) string {
	switch name {
	case "help":
		return helpText()
	case "confirm":
		current := store.Get().Mode()
		if arg == "" {
			return fmt.Sprintf("Current confirmation mode: %s\n\n%s\nUsage: /confirm <mode>\nExample: /confirm always-ask", current, modesText())
		}
		p, err := policy.FromMode(arg)
		if err != nil {
			return fmt.Sprintf("Unknown mode: %s\n\n%s\nCurrent mode: %s", arg, modesText(), current)
		}
		store.Set(p)
		return fmt.Sprintf("Confirmation mode set to: %s", p.Mode())
	}
	names := make([]string, len(slashCommands))
	for i, c := range slashCommands {
		names[i] = "/" + c.name
	}
	return fmt.Sprintf("Unknown command: /%s\n\nAvailable commands: %s\nUse /help for more information.", name, strings.Join(names, ", "))
}
