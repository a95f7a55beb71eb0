package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/config"
	"github.com/cameronsjo/rigging/internal/snapshot"
	"github.com/cameronsjo/rigging/internal/store"
	"github.com/cameronsjo/rigging/internal/ui"
)

var snapshotYes bool

// snapshotCmd groups the snapshot commands.
var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snap"},
	Short:   "Save and restore copies of the local store",
	Long: `Save and restore point-in-time copies of every profile and composite.

Snapshots are YAML files under <data_dir>/snapshots. The newest 20 are kept.
Restoring replaces the whole store and writes a pre-restore snapshot first.
These commands always work on the local data directory; stop the server
before restoring.`,
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the local store",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotCreate,
}

var snapshotListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List snapshots",
	Args:    cobra.NoArgs,
	RunE:    runSnapshotList,
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Replace the local store with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotRestore,
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return completeSnapshots()
	},
}

func init() {
	snapshotRestoreCmd.Flags().BoolVarP(&snapshotYes, "yes", "y", false, "Do not ask for confirmation")

	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	return withLocalStore(cmd.Context(), false, func(ctx context.Context, cfg *config.Config, st store.Store) error {
		info, err := snapshot.Create(ctx, st, cfg.DataDir)
		if err != nil {
			return err
		}
		if info == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Store is empty, nothing to snapshot")
			return nil
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Created snapshot %s\n", info.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "  %d profile(s), %d composite(s)\n", info.Profiles, info.Composites)
		return nil
	})
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	snapshots, err := snapshot.List(cfg.DataDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(snapshots) == 0 {
		fmt.Fprintln(out, "No snapshots")
		return nil
	}
	ui.Bold.Fprintf(out, "%-46s  %-19s  %-8s  %s\n", "NAME", "CREATED", "PROFILES", "COMPOSITES")
	for _, s := range snapshots {
		fmt.Fprintf(out, "%-46s  %-19s  %-8d  %d\n", s.Name, s.Created.Local().Format("2006-01-02 15:04:05"), s.Profiles, s.Composites)
	}
	return nil
}

func runSnapshotRestore(cmd *cobra.Command, args []string) error {
	name := args[0]
	ok, err := confirm(snapshotYes, fmt.Sprintf("Replace every profile and composite with %s?", name))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
		return nil
	}

	return withLocalStore(cmd.Context(), true, func(ctx context.Context, cfg *config.Config, st store.Store) error {
		result, err := snapshot.Restore(ctx, st, cfg.DataDir, name)
		if result != nil && result.Backup != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Previous contents saved as %s\n", result.Backup)
		}
		if err != nil {
			return err
		}
		ui.Green.Fprintf(cmd.OutOrStdout(), "✓ Restored %s\n", name)
		fmt.Fprintf(cmd.OutOrStdout(), "  %d profile(s), %d composite(s)\n", result.Profiles, result.Composites)
		return nil
	})
}

// completeSnapshots lists snapshot names for shell completion.
func completeSnapshots() ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	snapshots, err := snapshot.List(cfg.DataDir)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	names := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		names = append(names, s.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
