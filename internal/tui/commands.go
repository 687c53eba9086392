package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/highclaw/clawdeck/internal/deck"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
)

// Command represents a TUI slash command
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Handler     func(m *Model, args []string) (string, error)
}

// getBuiltinCommands returns the list of all built-in commands
func getBuiltinCommands() []Command {
	return []Command{
		{Name: "press", Aliases: []string{"p"}, Usage: "<actionId> [id=value ...]", Description: "Send an action", Handler: cmdPress},
		{Name: "model", Aliases: []string{"m"}, Usage: "<provider/model>", Description: "Send a generic model switch", Handler: cmdModel},
		{Name: "settings", Aliases: []string{"set"}, Usage: "<name=value ...>", Description: "Push changed settings", Handler: cmdSettings},
		{Name: "close", Description: "Send closePlugin", Handler: cmdClose},
		{Name: "actions", Aliases: []string{"ls"}, Description: "List known actions", Handler: cmdActions},
		{Name: "state", Aliases: []string{"st"}, Description: "Show published states", Handler: cmdState},
		{Name: "clear", Aliases: []string{"cls", "c"}, Description: "Clear the event log", Handler: cmdClear},
		{Name: "help", Aliases: []string{"h", "?"}, Description: "Show help", Handler: cmdHelp},
		{Name: "quit", Aliases: []string{"q", "exit"}, Description: "Quit", Handler: cmdQuit},
	}
}

func findCommand(name string) *Command {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	cmds := getBuiltinCommands()
	for i := range cmds {
		if cmds[i].Name == name {
			return &cmds[i]
		}
		for _, alias := range cmds[i].Aliases {
			if alias == name {
				return &cmds[i]
			}
		}
	}
	return nil
}

func parseCommand(input string) (name string, args []string) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil
	}
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// parsePairs parses name=value arguments.
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected name=value, got %q", a)
		}
		out[k] = v
	}
	return out, nil
}

func cmdPress(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /press <actionId> [id=value ...]", nil
	}
	pairs, err := parsePairs(args[1:])
	if err != nil {
		return "", err
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := make([]protocol.ActionData, 0, len(keys))
	for _, k := range keys {
		data = append(data, protocol.ActionData{ID: k, Value: pairs[k]})
	}
	m.press(args[0], data...)
	return "", nil
}

func cmdModel(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("Current: %s\nUsage: /model <provider/model>", orDash(m.states[deck.StateModel])), nil
	}
	m.press(deck.ActionSwitchModel, protocol.ActionData{ID: "model", Value: strings.Join(args, " ")})
	return "", nil
}

func cmdSettings(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /settings <name=value ...>", nil
	}
	values, err := parsePairs(args)
	if err != nil {
		return "", err
	}
	if err := m.opts.Panel.SendSettings(values); err != nil {
		return "", err
	}
	return fmt.Sprintf("Sent %d setting(s).", len(values)), nil
}

func cmdClose(m *Model, args []string) (string, error) {
	if err := m.opts.Panel.ClosePlugin(); err != nil {
		return "", err
	}
	m.plugin = ""
	return "closePlugin sent.", nil
}

func cmdActions(m *Model, args []string) (string, error) {
	var b strings.Builder
	b.WriteString("Actions:\n")
	for _, id := range deck.KnownActions() {
		if model, ok := deck.ModelFor(id); ok {
			b.WriteString(fmt.Sprintf("  %-32s %s\n", id, model))
		} else {
			b.WriteString("  " + id + "\n")
		}
	}
	return b.String(), nil
}

func cmdState(m *Model, args []string) (string, error) {
	if len(m.states) == 0 {
		return "No states published yet.", nil
	}
	keys := make([]string, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s = %s\n", k, m.states[k]))
	}
	return b.String(), nil
}

func cmdClear(m *Model, args []string) (string, error) {
	m.lines = nil
	m.updateViewport()
	return "", nil
}

func cmdHelp(m *Model, args []string) (string, error) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range getBuiltinCommands() {
		name := "/" + c.Name
		if c.Usage != "" {
			name += " " + c.Usage
		}
		b.WriteString(fmt.Sprintf("  %-36s %s\n", name, c.Description))
	}
	return b.String(), nil
}

func cmdQuit(m *Model, args []string) (string, error) {
	return "__QUIT__", nil
}
