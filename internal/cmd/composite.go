package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/ui"
)

var (
	compositeNamespace  string
	compositeListOutput string
	compositeGetOutput  string
	compositeFile       string
	compositeYes        bool
	compositeWrite      string
)

// compositeCmd groups the composite commands.
var compositeCmd = &cobra.Command{
	Use:     "composite",
	Aliases: []string{"composites"},
	Short:   "Manage composites",
	Long: `Manage composites, the saved profile selections that render to manifests.

A composite file is YAML:

  name: web
  namespace: default
  kind: Deployment
  selected_profile_ids:
    container: [<id>]
    env: [<id>, <id>]
  overrides:
    replicas: 3`,
}

var compositeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List composites",
	Args:  cobra.NoArgs,
	RunE:  runCompositeList,
}

var compositeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a composite",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompositeGet,
}

var compositeSaveCmd = &cobra.Command{
	Use:   "save -f composite.yaml",
	Short: "Save a composite without composing it",
	Long: `Save a composite selection as-is. Every selected profile must exist in the
category it is listed under. Use 'rigging commit' to compose before saving.`,
	Args: cobra.NoArgs,
	RunE: runCompositeSave,
}

var compositeDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a composite and release its profiles",
	Args:    cobra.ExactArgs(1),
	RunE:    runCompositeDelete,
}

var compositeRenderCmd = &cobra.Command{
	Use:     "render <id>",
	Short:   "Compose a saved composite",
	Example: `  rigging composite render <id>
  rigging composite render <id> -o json --write deploy/web.json`,
	Args: cobra.ExactArgs(1),
	RunE: runCompositeRender,
}

func init() {
	compositeListCmd.Flags().StringVarP(&compositeNamespace, "namespace", "n", "", "Only list composites in this namespace")
	compositeListCmd.Flags().StringVarP(&compositeListOutput, "output", "o", "", "Output format (yaml, json); default is a table")
	compositeGetCmd.Flags().StringVarP(&compositeGetOutput, "output", "o", "yaml", "Output format (yaml, json)")
	compositeRenderCmd.Flags().StringVarP(&compositeGetOutput, "output", "o", "yaml", "Output format (yaml, json)")
	compositeRenderCmd.Flags().StringVarP(&compositeWrite, "write", "w", "", "Write the manifest to this file instead of stdout")
	compositeSaveCmd.Flags().StringVarP(&compositeFile, "file", "f", "", "Composite file (- for stdin)")
	compositeDeleteCmd.Flags().BoolVarP(&compositeYes, "yes", "y", false, "Do not ask for confirmation")

	compositeCmd.AddCommand(compositeListCmd, compositeGetCmd, compositeSaveCmd, compositeDeleteCmd, compositeRenderCmd)
	rootCmd.AddCommand(compositeCmd)
}

func runCompositeList(cmd *cobra.Command, args []string) error {
	return withBackend(cmd.Context(), false, func(ctx context.Context, b backend) error {
		composites, err := b.ListComposites(ctx, compositeNamespace)
		if err != nil {
			return err
		}
		if compositeListOutput != "" {
			return writeOutput(cmd, composites, compositeListOutput)
		}

		out := cmd.OutOrStdout()
		if len(composites) == 0 {
			fmt.Fprintln(out, "No composites")
			return nil
		}
		ui.Bold.Fprintf(out, "%-36s  %-24s  %-12s  %-12s  %s\n", "ID", "NAME", "NAMESPACE", "KIND", "PROFILES")
		for _, c := range composites {
			fmt.Fprintf(out, "%-36s  %-24s  %-12s  %-12s  %d\n", c.ID, c.Name, c.Namespace, c.Kind, len(c.ProfileIDs()))
		}
		return nil
	})
}

func runCompositeGet(cmd *cobra.Command, args []string) error {
	return withBackend(cmd.Context(), false, func(ctx context.Context, b backend) error {
		c, err := b.GetComposite(ctx, args[0])
		if err != nil {
			return err
		}
		return writeOutput(cmd, c, compositeGetOutput)
	})
}

func runCompositeSave(cmd *cobra.Command, args []string) error {
	var c manifest.CompositeResource
	if err := readYAMLFile(cmd, compositeFile, &c); err != nil {
		return err
	}

	return withBackend(cmd.Context(), true, func(ctx context.Context, b backend) error {
		saved, err := b.SaveComposite(ctx, &c)
		if err != nil {
			return err
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Saved composite %s (%s) version %d\n", saved.Name, saved.ID, saved.Version)
		return nil
	})
}

func runCompositeDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	ok, err := confirm(compositeYes, fmt.Sprintf("Delete composite %s?", id))
	if err != nil {
		return err
	}
	if !ok {
		ui.Warning("Aborted")
		return nil
	}

	return withBackend(cmd.Context(), true, func(ctx context.Context, b backend) error {
		if err := b.DeleteComposite(ctx, id); err != nil {
			return err
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Deleted composite %s\n", id)
		return nil
	})
}

func runCompositeRender(cmd *cobra.Command, args []string) error {
	return withBackend(cmd.Context(), false, func(ctx context.Context, b backend) error {
		res, err := b.Render(ctx, args[0])
		if err != nil {
			return err
		}
		if compositeWrite == "" {
			return emitResult(cmd, res, compositeGetOutput, "")
		}

		printMessages(cmd, res.Errors, res.Warnings)
		if !res.Success {
			return &compositionFailed{count: len(res.Errors)}
		}
		format, err := manifest.ParseFormat(compositeGetOutput)
		if err != nil {
			return err
		}
		if err := manifest.WriteManifest(compositeWrite, res.ComposedDocument, format); err != nil {
			return err
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", compositeWrite)
		return nil
	})
}
