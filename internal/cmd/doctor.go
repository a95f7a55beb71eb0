package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/config"
	"github.com/cameronsjo/rigging/internal/preflight"
	"github.com/cameronsjo/rigging/internal/ui"
)

const doctorTimeout = 10 * time.Second

// doctorCmd checks the environment.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, store and server",
	Long: `Check that rigging can run here: the config loads, the data directory is
writable, the store opens and, with --server, the server answers.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ui.Blue.Fprintln(out, "Running pre-flight checks...")
	fmt.Fprintln(out)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		ui.Red.Fprintf(out, "  x config: %v\n", err)
		return fmt.Errorf("config is invalid")
	}
	source := cfg.File
	if source == "" {
		source = "defaults"
	}
	ui.Green.Fprintf(out, "  * config: %s\n", source)

	ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
	defer cancel()

	results := preflight.Run(ctx, preflight.Checks(cfg, resolveServerURL()))
	for _, r := range results {
		switch {
		case r.OK():
			ui.Green.Fprintf(out, "  * %s: %s\n", r.Name, r.Detail)
		case r.Required:
			ui.Red.Fprintf(out, "  x %s: %v\n", r.Name, r.Err)
			ui.Blue.Fprintf(out, "      %s\n", r.Hint)
		default:
			ui.Yellow.Fprintf(out, "  ! %s: %v\n", r.Name, r.Err)
			ui.Blue.Fprintf(out, "      %s\n", r.Hint)
		}
	}

	warnings, errs := preflight.Summarize(results)
	passed := len(results) + 1 - len(warnings) - len(errs)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Summary: ")
	ui.Green.Fprintf(out, "%d passed", passed)
	fmt.Fprintf(out, ", ")
	ui.Yellow.Fprintf(out, "%d warnings", len(warnings))
	fmt.Fprintf(out, ", ")
	ui.Red.Fprintf(out, "%d failed\n", len(errs))

	if len(errs) > 0 {
		return fmt.Errorf("%d check(s) failed", len(errs))
	}
	return nil
}
