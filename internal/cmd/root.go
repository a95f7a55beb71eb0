// Package cmd provides the CLI commands for rigging.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/ui"
)

const version = "0.1.0"

var (
	cfgFile   string
	serverURL string
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rigging",
	Short: "Compose Kubernetes manifests from reusable profiles",
	Long: `rigging - compose Kubernetes manifests from reusable profiles

Profiles are small, independently stored fragments (a container, an env
block, a probe, resource limits...). A composite selects profiles per
category and rigging merges them into one Deployment, Pod or Service
manifest. Profiles that a composite or another profile still uses
cannot be deleted.

SERVER
  serve                         Run the Composition API

PROFILES
  profile list <category>       List profiles of a category
  profile get <category> <id>   Show a profile
  profile create <category>     Create a profile from a file (-f)
  profile update <category> <id>
  profile delete <category> <id>
  dependents <profile-id>       Show what still uses a profile

COMPOSITION
  preview -f request.yaml       Compose without saving
  commit -f request.yaml        Compose and save as a composite
  composite list|get|save|delete|render

DATA
  snapshot create|list|restore  Save and restore copies of the local store
  composite render <id> -w out  Write a rendered manifest to a file

REFERENCE
  categories                    List categories in application order
  doctor                        Check config, store and server

Commands use the local store unless --server points at a running API.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Setup(noColor)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: rigging.yaml in the project, then ~/.rigging.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Use the rigging API at this URL instead of the local store (env RIGGING_SERVER)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.SetVersionTemplate("rigging version {{.Version}}\n")
}
