package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/manifest"
)

// Completion timeout to avoid hanging shell.
const completionTimeout = 2 * time.Second

// completeCategories completes the category argument, then profile ids of
// that category for commands that take one.
func completeCategories(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		var names []string
		for _, c := range manifest.ApplicationOrder {
			if strings.HasPrefix(string(c), toComplete) {
				names = append(names, string(c))
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	case 1:
		if cmd.Name() == "list" || cmd.Name() == "create" {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		category, err := manifest.ParseCategory(args[0])
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return completeProfileIDs(category, toComplete)
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

// completeProfileIDs lists profile ids of a category with their names as
// descriptions.
func completeProfileIDs(category manifest.Category, toComplete string) ([]string, cobra.ShellCompDirective) {
	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	var ids []string
	err := withBackend(ctx, false, func(ctx context.Context, b backend) error {
		profiles, err := b.ListProfiles(ctx, category, "")
		if err != nil {
			return err
		}
		for _, p := range profiles {
			if strings.HasPrefix(p.ID, toComplete) {
				ids = append(ids, p.ID+"\t"+p.Name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}
