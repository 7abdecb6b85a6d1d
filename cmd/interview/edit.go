package main

import (
	"fmt"
	"os"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/spf13/cobra"
)

var (
	editAddFeatures    []string
	editRemoveFeatures []string
	editCard           string
	editProfilePic     string
	editHomeSpace      string
)

// editCmd reopens an existing agent.json.
var editCmd = &cobra.Command{
	Use:   "edit [dir] [prompt]",
	Short: "Edit an existing agent",
	Long: `Edit the agent.json in dir (default: the current directory).

With a prompt the model applies it on its own; without one it asks what to
change. --add-feature and --remove-feature edit the feature map directly and
skip the interview.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringArrayVar(&editAddFeatures, "add-feature", nil, "Feature name or JSON object of feature parameters to add (repeatable)")
	editCmd.Flags().StringSliceVar(&editRemoveFeatures, "remove-feature", nil, "Feature names to remove")
	editCmd.Flags().StringVar(&editCard, "character-card", "", "Overlay name, description and bio from a character card")
	editCmd.Flags().StringVar(&editProfilePic, "profile-picture", "", "Profile picture image file")
	editCmd.Flags().StringVar(&editHomeSpace, "home-space", "", "Home space image file")
}

func runEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	prompt := ""
	if len(args) > 0 {
		dir = args[0]
	}
	if len(args) > 1 {
		prompt = args[1]
	}

	object, err := agent.Load(dir)
	if err != nil {
		return err
	}
	if editCard != "" {
		card, err := agent.LoadCharacterCard(editCard)
		if err != nil {
			return err
		}
		overlayCard(&object, card)
	}
	if err := addImages(&object, editProfilePic, editHomeSpace); err != nil {
		return err
	}

	added, err := parseFeatures(editAddFeatures)
	if err != nil {
		return err
	}
	if err := e.checkFeatures(ctx, added); err != nil {
		return err
	}
	for _, name := range editRemoveFeatures {
		delete(object.Features, name)
	}
	addFeatures(&object, added)

	out := cmd.OutOrStdout()
	if len(added) == 0 && len(editRemoveFeatures) == 0 {
		mode := interview.ModeEdit
		if prompt != "" {
			mode = interview.ModeAuto
		}
		// offer the whole catalog, not just the features already set
		object, err = e.runInterview(ctx, runOptions{
			Object:   object,
			Prompt:   prompt,
			Mode:     mode,
			Features: []string{},
			Dir:      dir,
		}, cmd.InOrStdin(), out)
		if err != nil {
			return err
		}
	}

	path, err := agent.Save(dir, object)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nUpdated %s\n", path)
	printSummary(out, object)
	return nil
}

func overlayCard(c *agent.Config, card agent.Config) {
	if card.Name != "" {
		c.Name = card.Name
	}
	if card.Description != "" {
		c.Description = card.Description
	}
	if card.Bio != "" {
		c.Bio = card.Bio
	}
}
