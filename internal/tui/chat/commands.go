package chat

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Command is one slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
}

// CommandRegistry resolves slash commands and suggests completions.
type CommandRegistry struct {
	commands map[string]*Command
	aliases  map[string]string
	names    []string
}

// NewCommandRegistry creates the registry with the chat command set.
func NewCommandRegistry() *CommandRegistry {
	r := &CommandRegistry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
	}

	r.Register(&Command{
		Name:        "help",
		Aliases:     []string{"h", "?"},
		Description: "Show available commands",
		Usage:       "/help [command]",
	})
	r.Register(&Command{
		Name:        "mode",
		Aliases:     []string{"m"},
		Description: "Show or set the assistant mode",
		Usage:       "/mode [concise|standard|thorough]",
	})
	r.Register(&Command{
		Name:        "refs",
		Aliases:     []string{"r"},
		Description: "List live entity references",
		Usage:       "/refs [filter]",
	})
	r.Register(&Command{
		Name:        "copy",
		Aliases:     []string{"cp", "y"},
		Description: "Copy the last reply to the clipboard",
		Usage:       "/copy",
	})
	r.Register(&Command{
		Name:        "cancel",
		Aliases:     []string{"c", "stop"},
		Description: "Cancel the running turn",
		Usage:       "/cancel",
	})
	r.Register(&Command{
		Name:        "export",
		Aliases:     []string{"ex"},
		Description: "Export a session snapshot to a file",
		Usage:       "/export <path>",
	})
	r.Register(&Command{
		Name:        "clear",
		Aliases:     []string{"cls"},
		Description: "Clear the transcript view",
		Usage:       "/clear",
	})
	r.Register(&Command{
		Name:        "quit",
		Aliases:     []string{"q", "exit"},
		Description: "Exit chat",
		Usage:       "/quit",
	})

	return r
}

// Register adds a command.
func (r *CommandRegistry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	r.names = append(r.names, cmd.Name)
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd.Name
	}
}

// Parse resolves input into a command and its arguments. The third result
// is false when input is not a slash command at all.
func (r *CommandRegistry) Parse(input string) (*Command, []string, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil, nil, false
	}

	parts := strings.Fields(input[1:])
	if len(parts) == 0 {
		return nil, nil, false
	}

	name := strings.ToLower(parts[0])
	if real, ok := r.aliases[name]; ok {
		name = real
	}
	if cmd, ok := r.commands[name]; ok {
		return cmd, parts[1:], true
	}
	return nil, parts[1:], true
}

// Suggest fuzzy-matches partial input against command names and aliases,
// returning deduplicated command names.
func (r *CommandRegistry) Suggest(partial string) []string {
	partial = strings.ToLower(strings.TrimPrefix(partial, "/"))
	if partial == "" {
		out := append([]string(nil), r.names...)
		sort.Strings(out)
		return out
	}

	all := append([]string(nil), r.names...)
	for alias := range r.aliases {
		all = append(all, alias)
	}

	seen := make(map[string]bool)
	var out []string
	for _, match := range fuzzy.Find(partial, all) {
		name := match.Str
		if real, ok := r.aliases[name]; ok {
			name = real
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Help renders help text for one command or the whole set.
func (r *CommandRegistry) Help(name string) string {
	if name != "" {
		if real, ok := r.aliases[name]; ok {
			name = real
		}
		if cmd, ok := r.commands[name]; ok {
			return cmd.Usage + "  " + cmd.Description
		}
		return "Unknown command: " + name
	}

	names := append([]string(nil), r.names...)
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, n := range names {
		cmd := r.commands[n]
		sb.WriteString("  ")
		sb.WriteString(cmd.Usage)
		if len(cmd.Aliases) > 0 {
			sb.WriteString(" (")
			sb.WriteString(strings.Join(cmd.Aliases, ", "))
			sb.WriteString(")")
		}
		sb.WriteString("\n    ")
		sb.WriteString(cmd.Description)
		sb.WriteString("\n")
	}
	return sb.String()
}
