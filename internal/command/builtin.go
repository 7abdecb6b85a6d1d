package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/queue"
	"github.com/nidhogg/agent-interview/internal/session"
)

// Sessions is the part of the session manager the chat commands use.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Session, error)
	ByChannel(platform, channelID string) (*session.Session, bool)
	Finish(id, text string) (*queue.Turn, error)
	Cancel(id string) error
	Catalog(ctx context.Context) ([]feature.Spec, error)
}

// RegisterBuiltins registers /help, /create, /edit, /finish, /cancel,
// /status and /features.
func RegisterBuiltins(reg *Registry, sessions Sessions) {
	reg.Register(helpCommand(reg))
	reg.Register(createCommand(sessions))
	reg.Register(editCommand(sessions))
	reg.Register(finishCommand(sessions))
	reg.Register(cancelCommand(sessions))
	reg.Register(statusCommand(sessions))
	reg.Register(featuresCommand(sessions))
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if len(c.Aliases) > 0 {
					fmt.Fprintf(&b, "    Aliases: /%s\n", strings.Join(c.Aliases, ", /"))
				}
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// splitFeatures pulls a leading "--feature a,b" flag off args.
func splitFeatures(args string) ([]string, string) {
	const flag = "--feature"
	if !strings.HasPrefix(args, flag) {
		return nil, args
	}
	rest := strings.TrimSpace(strings.TrimPrefix(args, flag))
	list, prompt, _ := strings.Cut(rest, " ")
	var names []string
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names, strings.TrimSpace(prompt)
}

func startReply(sess *session.Session, err error) (*CommandResult, error) {
	if errors.Is(err, session.ErrChannelBusy) || errors.Is(err, feature.ErrUnknownFeature) {
		return &CommandResult{Content: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &CommandResult{
		Content: fmt.Sprintf("Interview %s started (%s mode).", sess.ID, sess.Mode),
		Session: sess,
	}, nil
}

func createCommand(sessions Sessions) *Command {
	return &Command{
		Name:        "create",
		Aliases:     []string{"new"},
		Description: "Design a new agent; with a prompt it is generated in one go",
		Usage:       "/create [--feature tts,rateLimit] [prompt]",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			features, prompt := splitFeatures(args)
			sess, err := sessions.Start(ctx, session.StartRequest{
				Prompt:    prompt,
				Features:  features,
				Platform:  cc.Platform,
				ChannelID: cc.ChannelID,
			})
			return startReply(sess, err)
		},
	}
}

func editCommand(sessions Sessions) *Command {
	return &Command{
		Name:        "edit",
		Description: "Edit a stored agent",
		Usage:       "/edit <agent id> [prompt]",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			id, prompt, _ := strings.Cut(args, " ")
			if id == "" {
				return &CommandResult{Content: "Usage: /edit <agent id> [prompt]"}, nil
			}
			sess, err := sessions.Start(ctx, session.StartRequest{
				AgentID:   id,
				Prompt:    strings.TrimSpace(prompt),
				Platform:  cc.Platform,
				ChannelID: cc.ChannelID,
			})
			return startReply(sess, err)
		},
	}
}

func finishCommand(sessions Sessions) *Command {
	return &Command{
		Name:        "finish",
		Aliases:     []string{"done"},
		Description: "Wrap up the interview in this channel now",
		Usage:       "/finish",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			sess, ok := sessions.ByChannel(cc.Platform, cc.ChannelID)
			if !ok {
				return &CommandResult{Content: "No interview is running in this channel."}, nil
			}
			if _, err := sessions.Finish(sess.ID, args); err != nil {
				return &CommandResult{Content: "Cannot finish: " + err.Error()}, nil
			}
			return &CommandResult{Content: "Finishing up..."}, nil
		},
	}
}

func cancelCommand(sessions Sessions) *Command {
	return &Command{
		Name:        "cancel",
		Aliases:     []string{"stop"},
		Description: "Abandon the interview in this channel",
		Usage:       "/cancel",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			sess, ok := sessions.ByChannel(cc.Platform, cc.ChannelID)
			if !ok {
				return &CommandResult{Content: "No interview is running in this channel."}, nil
			}
			if err := sessions.Cancel(sess.ID); err != nil {
				return nil, err
			}
			return &CommandResult{Content: "Interview cancelled."}, nil
		},
	}
}

func statusCommand(sessions Sessions) *Command {
	return &Command{
		Name:        "status",
		Description: "Show the interview running in this channel",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			sess, ok := sessions.ByChannel(cc.Platform, cc.ChannelID)
			if !ok {
				return &CommandResult{Content: "No interview is running in this channel."}, nil
			}
			snap := sess.Snapshot()
			var b strings.Builder
			fmt.Fprintf(&b, "Interview %s (%s mode): %s\n", snap.ID, snap.Mode, snap.State)
			if snap.Object.Name != "" {
				fmt.Fprintf(&b, "  Name: %s\n", snap.Object.Name)
			}
			if snap.Processing {
				b.WriteString("  Thinking...\n")
			} else if snap.Question != "" {
				fmt.Fprintf(&b, "  Waiting on: %s\n", snap.Question)
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func featuresCommand(sessions Sessions) *Command {
	return &Command{
		Name:        "features",
		Description: "List the features an agent can be given",
		Usage:       "/features",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			specs, err := sessions.Catalog(ctx)
			if err != nil {
				return nil, err
			}
			if len(specs) == 0 {
				return &CommandResult{Content: "No features available."}, nil
			}
			var b strings.Builder
			b.WriteString("Available features:\n")
			for _, s := range specs {
				desc, _, _ := strings.Cut(s.Description, "\n")
				fmt.Fprintf(&b, "  %s: %s\n", s.Name, desc)
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}
