package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/ui"
)

var (
	profileNamespace  string
	profileListOutput string
	profileGetOutput  string
	profileFile       string
	profileYes        bool
)

// profileCmd groups the profile commands.
var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles"},
	Short:   "Manage profiles",
	Long: `Manage profiles, the reusable fragments composites are built from.

A profile file is YAML:

  name: web
  description: nginx frontend
  priority: 10
  merge_strategy: deep      # deep, shallow, override or append
  includes: [<profile-id>]  # same-category profiles applied first
  config:
    containers:
      - name: web
        image: nginx:1.25`,
}

var profileListCmd = &cobra.Command{
	Use:               "list <category>",
	Short:             "List profiles of a category",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeCategories,
	RunE:              runProfileList,
}

var profileGetCmd = &cobra.Command{
	Use:               "get <category> <id>",
	Short:             "Show a profile",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeCategories,
	RunE:              runProfileGet,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <category> -f profile.yaml",
	Short: "Create a profile",
	Example: `  rigging profile create container -f web.yaml
  cat env.yaml | rigging profile create env -f -`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeCategories,
	RunE:              runProfileCreate,
}

var profileUpdateCmd = &cobra.Command{
	Use:               "update <category> <id> -f profile.yaml",
	Short:             "Replace a profile",
	Long:              `Replace a profile. Set version in the file to guard against concurrent edits.`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeCategories,
	RunE:              runProfileUpdate,
}

var profileDeleteCmd = &cobra.Command{
	Use:               "delete <category> <id>",
	Aliases:           []string{"rm"},
	Short:             "Delete a profile that nothing uses",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeCategories,
	RunE:              runProfileDelete,
}

// dependentsCmd shows the consumers of a profile.
var dependentsCmd = &cobra.Command{
	Use:   "dependents <profile-id>",
	Short: "Show the composites and profiles that use a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runDependents,
}

func init() {
	profileListCmd.Flags().StringVarP(&profileNamespace, "namespace", "n", "", "Only list profiles in this namespace")
	profileListCmd.Flags().StringVarP(&profileListOutput, "output", "o", "", "Output format (yaml, json); default is a table")
	profileGetCmd.Flags().StringVarP(&profileGetOutput, "output", "o", "yaml", "Output format (yaml, json)")
	profileCreateCmd.Flags().StringVarP(&profileFile, "file", "f", "", "Profile file (- for stdin)")
	profileUpdateCmd.Flags().StringVarP(&profileFile, "file", "f", "", "Profile file (- for stdin)")
	profileDeleteCmd.Flags().BoolVarP(&profileYes, "yes", "y", false, "Do not ask for confirmation")

	profileCmd.AddCommand(profileListCmd, profileGetCmd, profileCreateCmd, profileUpdateCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(dependentsCmd)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	category, err := manifest.ParseCategory(args[0])
	if err != nil {
		return err
	}

	return withBackend(cmd.Context(), false, func(ctx context.Context, b backend) error {
		profiles, err := b.ListProfiles(ctx, category, profileNamespace)
		if err != nil {
			return err
		}
		if profileListOutput != "" {
			return writeOutput(cmd, profiles, profileListOutput)
		}

		out := cmd.OutOrStdout()
		if len(profiles) == 0 {
			fmt.Fprintf(out, "No %s profiles\n", category)
			return nil
		}
		ui.Bold.Fprintf(out, "%-36s  %-24s  %-12s  %-8s  %s\n", "ID", "NAME", "NAMESPACE", "PRIORITY", "VERSION")
		for _, p := range profiles {
			fmt.Fprintf(out, "%-36s  %-24s  %-12s  %-8d  %d\n", p.ID, p.Name, p.Namespace, p.Priority, p.Version)
		}
		return nil
	})
}

func runProfileGet(cmd *cobra.Command, args []string) error {
	category, err := manifest.ParseCategory(args[0])
	if err != nil {
		return err
	}

	return withBackend(cmd.Context(), false, func(ctx context.Context, b backend) error {
		p, err := b.GetProfile(ctx, category, args[1])
		if err != nil {
			return err
		}
		return writeOutput(cmd, p, profileGetOutput)
	})
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	category, err := manifest.ParseCategory(args[0])
	if err != nil {
		return err
	}
	var p manifest.Profile
	if err := readYAMLFile(cmd, profileFile, &p); err != nil {
		return err
	}

	return withBackend(cmd.Context(), true, func(ctx context.Context, b backend) error {
		created, err := b.CreateProfile(ctx, category, &p)
		if err != nil {
			return err
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Created %s profile %s (%s)\n", created.Category, created.Name, created.ID)
		return nil
	})
}

func runProfileUpdate(cmd *cobra.Command, args []string) error {
	category, err := manifest.ParseCategory(args[0])
	if err != nil {
		return err
	}
	var p manifest.Profile
	if err := readYAMLFile(cmd, profileFile, &p); err != nil {
		return err
	}

	return withBackend(cmd.Context(), true, func(ctx context.Context, b backend) error {
		updated, err := b.UpdateProfile(ctx, category, args[1], &p)
		if err != nil {
			return err
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Updated %s profile %s to version %d\n", updated.Category, updated.Name, updated.Version)
		return nil
	})
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	category, err := manifest.ParseCategory(args[0])
	if err != nil {
		return err
	}
	id := args[1]

	ok, err := confirm(profileYes, fmt.Sprintf("Delete %s profile %s?", category, id))
	if err != nil {
		return err
	}
	if !ok {
		ui.Warning("Aborted")
		return nil
	}

	return withBackend(cmd.Context(), true, func(ctx context.Context, b backend) error {
		err := b.DeleteProfile(ctx, category, id)
		var dependents *manifest.DependentsExistError
		if errors.As(err, &dependents) {
			w := cmd.ErrOrStderr()
			ui.Red.Fprintf(w, "✗ %s profile %s is still used by:\n", category, id)
			printConsumers(w, dependents.Dependents)
			return fmt.Errorf("profile %s has %d dependent(s)", id, len(dependents.Dependents))
		}
		if err != nil {
			return err
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s profile %s\n", category, id)
		return nil
	})
}

func runDependents(cmd *cobra.Command, args []string) error {
	return withBackend(cmd.Context(), false, func(ctx context.Context, b backend) error {
		refs, err := b.Dependents(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(refs) == 0 {
			fmt.Fprintf(out, "Nothing uses profile %s\n", args[0])
			return nil
		}
		printConsumers(out, refs)
		return nil
	})
}

func printConsumers(w io.Writer, refs []manifest.ConsumerRef) {
	for _, r := range refs {
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "  %-9s  %-24s  %s\n", r.Kind, name, r.ID)
	}
}
