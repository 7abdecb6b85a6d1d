package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/app"
	"github.com/nidhogg/agent-interview/internal/feature"
	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/spf13/cobra"
)

var (
	createFeatures   []string
	createJSON       string
	createDir        string
	createYes        bool
	createCard       string
	createProfilePic string
	createHomeSpace  string
)

// createCmd interviews for a new agent and writes its agent.json.
var createCmd = &cobra.Command{
	Use:   "create [prompt]",
	Short: "Create a new agent, from either a prompt or an interview",
	Long: `Create a new agent configuration.

With a prompt the model fills in the agent on its own. Without one it asks
questions on the terminal until you are done; end the input (Ctrl-D) to let it
finish with what it has. --json or --character-card start from an existing
agent and skip the interview.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringArrayVar(&createFeatures, "feature", nil, "Feature name or JSON object of feature parameters (repeatable)")
	createCmd.Flags().StringVar(&createJSON, "json", "", "Initial agent JSON; skips the interview")
	createCmd.Flags().StringVarP(&createDir, "dir", "d", "", "Output directory (default: derived from the agent name)")
	createCmd.Flags().BoolVarP(&createYes, "yes", "y", false, "Non-interactive: skip the interview")
	createCmd.Flags().StringVar(&createCard, "character-card", "", "Start from a character card JSON file; skips the interview")
	createCmd.Flags().StringVar(&createProfilePic, "profile-picture", "", "Profile picture image file")
	createCmd.Flags().StringVar(&createHomeSpace, "home-space", "", "Home space image file")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	prompt := ""
	if len(args) > 0 {
		prompt = args[0]
	}
	out := cmd.OutOrStdout()

	var object agent.Config
	seeded := false
	switch {
	case createJSON != "":
		if err := json.Unmarshal([]byte(createJSON), &object); err != nil {
			return fmt.Errorf("parse --json: %w", err)
		}
		seeded = true
	case createCard != "":
		object, err = agent.LoadCharacterCard(createCard)
		if err != nil {
			return err
		}
		seeded = true
	}
	if err := addImages(&object, createProfilePic, createHomeSpace); err != nil {
		return err
	}
	features, err := parseFeatures(createFeatures)
	if err != nil {
		return err
	}
	if err := e.checkFeatures(ctx, features); err != nil {
		return err
	}
	addFeatures(&object, features)

	fmt.Fprintf(out, "%sGenerating agent...%s\n", colorItalic, colorReset)
	if !seeded && !createYes {
		mode := interview.ModeInteractive
		if prompt != "" {
			mode = interview.ModeAuto
		} else {
			fmt.Fprintf(out, "%sStarting the interview...%s\n\n", colorItalic, colorReset)
		}
		object, err = e.runInterview(ctx, runOptions{
			Object: object,
			Prompt: prompt,
			Mode:   mode,
			Dir:    createDir,
		}, cmd.InOrStdin(), out)
		if err != nil {
			return err
		}
	}

	object = agent.EnsureDefaults(object, app.Defaults(e.cfg.Interview))
	return saveAgent(out, createDir, object)
}

func saveAgent(out io.Writer, dir string, object agent.Config) error {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = filepath.Join(cwd, agent.SanitizeDirName(object.Name))
	}
	path, err := agent.Save(dir, object)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%sAgent generated...%s\n", colorItalic, colorReset)
	printSummary(out, object)
	abs, _ := filepath.Abs(filepath.Dir(path))
	fmt.Fprintf(out, "\nCreated agent at %s\n", abs)
	fmt.Fprintf(out, "%sTo edit this agent again, run:%s\n", colorGreen, colorReset)
	fmt.Fprintf(out, "%s  interview edit %s%s\n", colorCyan, abs, colorReset)
	return nil
}

// parseFeatures reads --feature values: a bare name selects the feature
// with default parameters, a JSON object maps names to parameters.
func parseFeatures(values []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.HasPrefix(v, "{") {
			var m map[string]json.RawMessage
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return nil, fmt.Errorf("parse feature %s: %w", v, err)
			}
			for name, params := range m {
				out[name] = params
			}
			continue
		}
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out[name] = json.RawMessage(`{}`)
			}
		}
	}
	return out, nil
}

// checkFeatures validates --feature values against the feature catalog.
func (e *env) checkFeatures(ctx context.Context, features map[string]json.RawMessage) error {
	if len(features) == 0 {
		return nil
	}
	catalog, err := e.registry.Features(ctx)
	if err != nil {
		return fmt.Errorf("load feature catalog: %w", err)
	}
	if err := feature.CheckParams(catalog, features); err != nil {
		return fmt.Errorf("--feature: %w", err)
	}
	return nil
}

func addFeatures(c *agent.Config, features map[string]json.RawMessage) {
	if len(features) == 0 {
		return
	}
	if c.Features == nil {
		c.Features = make(map[string]json.RawMessage, len(features))
	}
	for name, params := range features {
		c.Features[name] = params
	}
}

func addImages(c *agent.Config, avatar, homespace string) error {
	if avatar != "" {
		u, err := agent.ImageDataURL(avatar)
		if err != nil {
			return err
		}
		c.AvatarURL = u
	}
	if homespace != "" {
		u, err := agent.ImageDataURL(homespace)
		if err != nil {
			return err
		}
		c.HomespaceURL = u
	}
	return nil
}
