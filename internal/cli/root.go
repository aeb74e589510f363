// Package cli wires the copilot-auth commands. Commands print to the
// cobra output streams and return typed errors; exit-code mapping lives
// in ExitCode so main stays a one-liner.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mwhitfield/copilot-auth/internal/auth"
	"github.com/mwhitfield/copilot-auth/internal/config"
	"github.com/mwhitfield/copilot-auth/internal/credstore"
	"github.com/mwhitfield/copilot-auth/internal/deviceflow"
	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
	"github.com/mwhitfield/copilot-auth/internal/logging"
)

// loginHint is printed whenever no usable credential exists, so the
// user always sees the way forward instead of a bare error.
const loginHint = "Not authenticated. Run `copilot-auth login` to start the device flow,\n" +
	"or set the GITHUB_TOKEN environment variable."

// NewRootCmd assembles the command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "copilot-auth",
		Short:         "Manage GitHub Copilot credentials and provider configuration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newLoginCmd(),
		newStatusCmd(),
		newRevokeCmd(),
		newKeyCmd(),
		newInitCmd(),
	)

	return root
}

// ExitCode maps a command error to the process exit code: 0 success,
// 1 authentication declined/failed/no credential, 2 config or internal
// error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, cerrors.ErrAuthorizationDenied),
		errors.Is(err, cerrors.ErrGrantExpired),
		errors.Is(err, cerrors.ErrAuthenticationCancelled),
		errors.Is(err, cerrors.ErrNoCredentials),
		cerrors.IsNetwork(err):
		return 1
	}
	return 2
}

// loadApp loads environment configuration and builds the logger every
// command shares.
func loadApp() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.NewLogger(cfg.Environment), nil
}

// newFlow builds the device flow a manager runs. Tests replace this to
// avoid real network.
var newFlow = func(logger *slog.Logger, onGrant func(deviceflow.DeviceGrant)) auth.Flow {
	a := deviceflow.New(deviceflow.NewHTTPRequester(nil), nil, logger)
	a.OnGrant = onGrant
	return a
}

func newManager(tokenDir string, logger *slog.Logger, onGrant func(deviceflow.DeviceGrant)) *auth.Manager {
	store := credstore.New(tokenDir)
	return auth.NewManager(store, newFlow(logger, onGrant), logger)
}

// grantPrinter shows the user code and verification URL the moment the
// grant arrives, before polling starts.
func grantPrinter(out io.Writer) func(deviceflow.DeviceGrant) {
	return func(g deviceflow.DeviceGrant) {
		fmt.Fprintf(out, "To authenticate, open %s and enter code %s\n", g.VerificationURI, g.UserCode)
		fmt.Fprintln(out, "Waiting for authorization...")
	}
}
