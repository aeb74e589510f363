package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRevokeCmd() *cobra.Command {
	var tokenDir string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Discard the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadApp()
			if err != nil {
				return err
			}
			if tokenDir == "" {
				tokenDir = cfg.TokenDir
			}

			out := cmd.OutOrStdout()
			mgr := newManager(tokenDir, logger, nil)

			had := mgr.IsAuthenticated()
			if err := mgr.Revoke(cmd.Context()); err != nil {
				return err
			}

			if had {
				fmt.Fprintln(out, "Credential revoked.")
			} else {
				fmt.Fprintln(out, "No credential to revoke.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenDir, "token-dir", "", "Directory holding the token store (default from COPILOT_AUTH_TOKEN_DIR)")

	return cmd
}
