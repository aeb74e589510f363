package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var tokenDir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
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

			st, err := mgr.Status()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Authenticated: %t\n", st.Authenticated)
			fmt.Fprintf(out, "Token dir: %s\n", st.TokenDir)
			if st.Authenticated {
				if len(st.Scopes) > 0 {
					fmt.Fprintf(out, "Scopes: %s\n", strings.Join(st.Scopes, ", "))
				}
				if st.ExpiresAt != nil {
					fmt.Fprintf(out, "Expires: %s\n", st.ExpiresAt.Format(time.RFC3339))
				} else {
					fmt.Fprintln(out, "Expires: never (valid until revoked)")
				}
			}

			if cfg.GitHubToken != "" {
				fmt.Fprintln(out, "GITHUB_TOKEN: present")
			} else {
				fmt.Fprintln(out, "GITHUB_TOKEN: not set")
			}

			if !st.Authenticated && cfg.GitHubToken == "" {
				fmt.Fprintln(out, loginHint)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenDir, "token-dir", "", "Directory holding the token store (default from COPILOT_AUTH_TOKEN_DIR)")

	return cmd
}
