package main

import (
	"fmt"

	"github.com/Sternrassler/activity-export/pkg/auth"
	"github.com/spf13/cobra"
)

func newCredentialsCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage client credentials in the system keyring",
	}

	profileOf := func() string {
		if global.profile != "" {
			return global.profile
		}
		return "default"
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "store",
		Short: "Prompt for a client id and secret and store them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := auth.NewPromptSource(cmd.InOrStdin(), cmd.ErrOrStderr())
			creds, err := prompt.Credentials(cmd.Context())
			if err != nil {
				return err
			}
			if err := auth.NewKeyringSource(profileOf()).Store(creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials for profile %q\n", profileOf())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.NewKeyringSource(profileOf()).Delete(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted credentials for profile %q\n", profileOf())
			return nil
		},
	})

	return cmd
}
