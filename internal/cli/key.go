package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mwhitfield/copilot-auth/internal/config"
	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
)

func newKeyCmd() *cobra.Command {
	var (
		configPath string
		model      string
	)

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Store an explicit API key in config.toml",
		Long: `Store an explicit API key in config.toml.

The key is prompted with hidden input, or read from stdin when piped:

  copilot-auth key
  echo $KEY | copilot-auth key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(cmd)
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("%w: empty API key", cerrors.ErrConfig)
			}

			fc, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			fc.LLM.APIKey = key
			if model != "" {
				fc.LLM.Model = model
			}

			if err := config.SaveFile(configPath, fc); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "API key saved to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.toml", "Config file to write")
	cmd.Flags().StringVar(&model, "model", "", "Also set the model identifier")

	return cmd
}

// readKey reads the API key with echo disabled on a terminal, or as a
// single line when stdin is piped.
func readKey(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
		keyBytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return strings.TrimSpace(string(keyBytes)), nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return "", nil
	}
	return strings.TrimSpace(scanner.Text()), nil
}
