package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/ui"
)

var categoriesKind string

// categoriesCmd lists categories in the order composition applies them.
var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List profile categories in application order",
	Long: `List profile categories in the order composition applies them, with the
manifest kinds each one applies to. With --kind only the categories that
apply to that kind are listed.`,
	Args: cobra.NoArgs,
	RunE: runCategories,
}

func init() {
	categoriesCmd.Flags().StringVarP(&categoriesKind, "kind", "k", "", "Only list categories that apply to this kind")
	rootCmd.AddCommand(categoriesCmd)
}

func runCategories(cmd *cobra.Command, args []string) error {
	kinds := manifest.SupportedKinds
	if categoriesKind != "" {
		kind, err := manifest.ParseKind(categoriesKind)
		if err != nil {
			return err
		}
		kinds = []manifest.Kind{kind}
	}

	out := cmd.OutOrStdout()
	ui.Bold.Fprintf(out, "%-3s  %-22s  %s\n", "#", "CATEGORY", "KINDS")
	n := 0
	for _, cat := range manifest.ApplicationOrder {
		var applies []string
		for _, k := range kinds {
			spec, err := manifest.SpecFor(k)
			if err != nil {
				return err
			}
			if spec.Applies(cat) {
				applies = append(applies, string(k))
			}
		}
		if categoriesKind != "" && len(applies) == 0 {
			continue
		}
		n++
		fmt.Fprintf(out, "%-3d  %-22s  %s\n", n, cat, strings.Join(applies, ", "))
	}
	return nil
}
