package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
)

const defaultLoginTimeout = 15 * time.Minute

func newLoginCmd() *cobra.Command {
	var (
		timeout   time.Duration
		tokenDir  string
		checkOnly bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with GitHub Copilot using the OAuth device flow",
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
			mgr := newManager(tokenDir, logger, grantPrinter(out))

			if checkOnly {
				if mgr.IsAuthenticated() {
					fmt.Fprintln(out, "Authenticated.")
					return nil
				}
				fmt.Fprintln(out, loginHint)
				return cerrors.ErrNoCredentials
			}

			if mgr.IsAuthenticated() {
				fmt.Fprintln(out, "Already authenticated.")
				return nil
			}

			rec, err := mgr.Authenticate(cmd.Context(), timeout)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Authentication successful.")
			if len(rec.Scopes) > 0 {
				fmt.Fprintf(out, "Scopes: %s\n", strings.Join(rec.Scopes, ", "))
			}
			if rec.ExpiresAt != nil {
				fmt.Fprintf(out, "Expires: %s\n", rec.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultLoginTimeout, "Maximum time to wait for authorization")
	cmd.Flags().StringVar(&tokenDir, "token-dir", "", "Directory holding the token store (default from COPILOT_AUTH_TOKEN_DIR)")
	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "Only check authentication status, do not authenticate")

	return cmd
}
