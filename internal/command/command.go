// Package command implements the slash commands chat users drive interviews with.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nidhogg/agent-interview/internal/session"
)

// Command is one slash command. Aliases resolve to the same handler.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     CommandHandler
}

// CommandHandler runs a command with everything after its name as args.
type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// CommandContext describes where a command was issued.
type CommandContext struct {
	Platform  string
	ChannelID string
	UserID    string
	UserName  string
}

// CommandResult is the reply to post. Session is set when the command
// started an interview the caller should follow.
type CommandResult struct {
	Content string           `json:"content"`
	Session *session.Session `json:"-"`
}

// Registry resolves command names and aliases to commands.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Command
	alias  map[string]string
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Command),
		alias:  make(map[string]string),
	}
}

// Register adds cmd. A later command with the same name or alias wins.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(cmd.Name)
	r.byName[name] = cmd
	for _, a := range cmd.Aliases {
		r.alias[strings.ToLower(a)] = name
	}
}

// Lookup finds a command by name or alias.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.ToLower(name)
	if target, ok := r.alias[name]; ok {
		name = target
	}
	cmd, ok := r.byName[name]
	return cmd, ok
}

// Dispatch parses a slash command and runs it. Unknown commands produce a
// reply rather than an error; handler errors come back wrapped with the
// command name.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	name, args := Parse(input)
	if name == "" {
		return &CommandResult{Content: "Type /help for available commands."}, nil
	}

	cmd, ok := r.Lookup(name)
	if !ok {
		msg := fmt.Sprintf("Unknown command: /%s.", name)
		if guess := r.suggest(name); guess != "" {
			msg += fmt.Sprintf(" Did you mean /%s?", guess)
		} else {
			msg += " Type /help for available commands."
		}
		return &CommandResult{Content: msg}, nil
	}

	res, err := cmd.Handler(ctx, args, cc)
	if err != nil {
		return nil, fmt.Errorf("/%s: %w", cmd.Name, err)
	}
	return res, nil
}

// suggest returns the only command whose name starts with prefix.
func (r *Registry) suggest(prefix string) string {
	var match string
	for _, cmd := range r.List() {
		if strings.HasPrefix(cmd.Name, prefix) {
			if match != "" {
				return ""
			}
			match = cmd.Name
		}
	}
	return match
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	out := make([]*Command, 0, len(r.byName))
	for _, cmd := range r.byName {
		out = append(out, cmd)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits "/name args..." into the lowercased name and its arguments.
func Parse(input string) (name, args string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ = strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// IsCommand reports whether text is a slash command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}
