package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/signing"
)

// keystoreCommand creates the signing certificate management command.
func (c *CLI) keystoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Manage signing certificates",
	}

	cmd.AddCommand(c.keystoreDebugCommand())
	cmd.AddCommand(c.keystorePathCommand())

	return cmd
}

// keystoreDebugCommand creates the "keystore debug" subcommand.
func (c *CLI) keystoreDebugCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Create the debug signing certificate",
		Long: `Create a self-signed debug certificate and private key.

Builds without a signing section are signed with this certificate. Existing
files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := debugStore(dir)
			if err != nil {
				return err
			}
			if err := signing.CreateDebugStore(cfg); err != nil {
				if errors.Is(err, errors.ErrCodeInvalidInput) {
					printInfo("Debug certificate already exists")
					printDetail("Certificate: %s", cfg.StoreFile)
					return nil
				}
				return fmt.Errorf("create debug certificate: %w", err)
			}
			c.Logger.Debug("created debug certificate", "store", cfg.StoreFile)
			printSuccess("Debug certificate created")
			printFile(cfg.StoreFile)
			printFile(cfg.KeyFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default ~/.config/packsmith)")

	return cmd
}

// keystorePathCommand creates the "keystore path" subcommand.
func (c *CLI) keystorePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the debug certificate path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := debugStore("")
			if err != nil {
				return err
			}
			fmt.Println(cfg.StoreFile)
			return nil
		},
	}
}
