package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwhitfield/copilot-auth/internal/config"
	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
	"github.com/mwhitfield/copilot-auth/internal/provider"
	"github.com/mwhitfield/copilot-auth/internal/settings"
)

const (
	proxyMarker   = "litellm_proxy/"
	copilotMarker = "github_copilot/"
)

func newInitCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		force      bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Project the resolved configuration into a settings snapshot",
		Long: `Project the resolved configuration into a settings snapshot.

Reads config.toml, resolves the connection (mode, base URL, credential)
and writes the settings file a host UI reads at startup. An existing
snapshot is never overwritten unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != "auto" && mode != "direct" && mode != "proxy" {
				return fmt.Errorf("%w: invalid --mode %q (want direct, proxy or auto)", cerrors.ErrConfig, mode)
			}

			cfg, logger, err := loadApp()
			if err != nil {
				return err
			}

			fc, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			model := applyMode(fc.LLM.Model, mode)

			if model == "" || !provider.IsCopilotModel(model) {
				fmt.Fprintln(out, "No Copilot configuration detected.")
				fmt.Fprintf(out, "Set [llm] model in %s to a Copilot model (e.g. github_copilot/gpt-4.1).\n", configPath)
				return nil
			}

			mgr := newManager(cfg.TokenDir, logger, nil)
			oauthToken, _ := mgr.Credential()

			in := provider.Inputs{
				Model:       model,
				ExplicitKey: fc.LLM.APIKey,
				BaseURL:     fc.LLM.BaseURL,
				EnvToken:    cfg.GitHubToken,
				OAuthToken:  oauthToken,
			}

			conn, err := provider.Resolve(in)
			if err != nil {
				return err
			}
			if !conn.Known {
				logger.Warn("model is not on the supported list", slog.String("model", conn.Model))
			}
			if !conn.Usable() {
				fmt.Fprintln(out, loginHint)
				return cerrors.ErrNoCredentials
			}

			proj := settings.NewProjector(cfg.SettingsPath, logger)
			res, err := proj.Project(
				settings.FromConnection(conn, fc.Agent.Name, fc.Agent.MaxIterations),
				settings.Options{Force: force, DryRun: dryRun},
			)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Mode: %s\n", conn.Mode)
			fmt.Fprintf(out, "Model: %s\n", conn.Model)
			fmt.Fprintf(out, "Credential source: %s\n", conn.Source)
			switch {
			case dryRun && res.Written:
				fmt.Fprintf(out, "Dry run: would write %s\n", res.Path)
			case dryRun:
				fmt.Fprintf(out, "Dry run: %s already exists, would need --force\n", res.Path)
			case res.Written:
				fmt.Fprintf(out, "Settings written to %s\n", res.Path)
			default:
				fmt.Fprintf(out, "Settings already exist at %s (use --force to overwrite)\n", res.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.toml", "Config file to read")
	cmd.Flags().StringVar(&mode, "mode", "auto", "Connection mode: direct, proxy or auto-detect")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing settings file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without writing")

	return cmd
}

// applyMode rewrites the model identifier when the user forces a mode.
// auto leaves the identifier as configured.
func applyMode(model, mode string) string {
	if model == "" {
		return model
	}

	switch mode {
	case "direct":
		return strings.TrimPrefix(model, proxyMarker)
	case "proxy":
		if strings.HasPrefix(model, proxyMarker) {
			return model
		}
		if !strings.HasPrefix(model, copilotMarker) {
			model = copilotMarker + strings.TrimPrefix(model, "copilot/")
		}
		return proxyMarker + model
	}
	return model
}
