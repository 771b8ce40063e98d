package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Sternrassler/activity-export/pkg/client"
	"github.com/spf13/cobra"
)

func newCategoriesCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "categories [label...]",
		Short: "List the category catalogue, optionally filtered by label",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, global, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, cmd.InOrStdin(), cmd.ErrOrStderr(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			cred, err := a.login(ctx)
			if err != nil {
				return err
			}
			categories, err := a.client.ListCategories(ctx, cred.Token)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				var missing []string
				categories, missing = client.MatchCategories(categories, args)
				for _, label := range missing {
					fmt.Fprintf(cmd.ErrOrStderr(), "no category labelled %q\n", label)
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tLABEL")
			for _, c := range categories {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", c.ID, c.Type, c.Label)
			}
			return tw.Flush()
		},
	}
}
