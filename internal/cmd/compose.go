package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/compose"
	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/ui"
)

var (
	previewFile     string
	previewOutput   string
	previewTemplate string
	commitFile      string
)

// previewCmd composes a request without saving it.
var previewCmd = &cobra.Command{
	Use:   "preview -f request.yaml",
	Short: "Compose a manifest without saving it",
	Long: `Compose a manifest from a request file and print it. Nothing is saved.

A request file is YAML:

  kind: Deployment
  name: web
  namespace: default
  profile_ids_by_category:
    container: [<id>]
    env: [<id>]
  overrides:
    replicas: 3

Errors and warnings go to stderr; the manifest goes to stdout. With
--template the output is rendered through a Go template instead. The template
sees .Document, .Provenance, .Metadata and .Warnings, plus the sprig
functions, toYaml and pointer.`,
	Example: `  rigging preview -f web.yaml
  rigging preview -f web.yaml -o json
  rigging preview -f web.yaml --template summary.tmpl`,
	Args: cobra.NoArgs,
	RunE: runPreview,
}

// commitCmd composes a request and saves it as a composite.
var commitCmd = &cobra.Command{
	Use:   "commit -f request.yaml",
	Short: "Compose and save a composite",
	Long: `Compose a request and, when it composes cleanly, save it as a composite.
Add id and version to the request file to update an existing composite.`,
	Args: cobra.NoArgs,
	RunE: runCommit,
}

func init() {
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "", "Request file (- for stdin)")
	previewCmd.Flags().StringVarP(&previewOutput, "output", "o", "yaml", "Output format (yaml, json)")
	previewCmd.Flags().StringVar(&previewTemplate, "template", "", "Render the result through this Go template file")
	commitCmd.Flags().StringVarP(&commitFile, "file", "f", "", "Request file (- for stdin)")

	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(commitCmd)
}

// compositionFailed reports a composition that produced errors.
type compositionFailed struct {
	count int
}

func (e *compositionFailed) Error() string {
	return fmt.Sprintf("composition failed with %d error(s)", e.count)
}

func runPreview(cmd *cobra.Command, args []string) error {
	var req compose.Request
	if err := readYAMLFile(cmd, previewFile, &req); err != nil {
		return err
	}

	return withBackend(cmd.Context(), false, func(ctx context.Context, b backend) error {
		res, err := b.Preview(ctx, req)
		if err != nil {
			return err
		}
		return emitResult(cmd, res, previewOutput, previewTemplate)
	})
}

// emitResult prints messages to stderr and the composed document (or the
// rendered template) to stdout.
func emitResult(cmd *cobra.Command, res *compose.Result, format, templatePath string) error {
	printMessages(cmd, res.Errors, res.Warnings)
	if !res.Success {
		return &compositionFailed{count: len(res.Errors)}
	}

	if templatePath != "" {
		text, err := os.ReadFile(templatePath)
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		data := map[string]any{
			"Document":   res.ComposedDocument,
			"Provenance": res.Provenance,
			"Metadata":   res.Metadata,
			"Warnings":   res.Warnings,
		}
		return manifest.RenderTemplate(cmd.OutOrStdout(), filepath.Base(templatePath), string(text), data)
	}

	return writeOutput(cmd, res.ComposedDocument, format)
}

func runCommit(cmd *cobra.Command, args []string) error {
	var req compose.CommitRequest
	if err := readYAMLFile(cmd, commitFile, &req); err != nil {
		return err
	}

	return withBackend(cmd.Context(), true, func(ctx context.Context, b backend) error {
		res, saved, err := b.Commit(ctx, req)
		if res != nil {
			printMessages(cmd, res.Errors, res.Warnings)
		}
		if err != nil {
			return err
		}
		if !res.Success {
			return &compositionFailed{count: len(res.Errors)}
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Committed composite %s (%s) version %d\n", saved.Name, saved.ID, saved.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  %d fragment(s) composed in %s\n", res.Metadata.FragmentCount, res.Metadata.CompositionTime)
		return nil
	})
}
