package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/packsmith/pkg/buildinfo"
	"github.com/matzehuels/packsmith/pkg/pipeline"
)

// RootCommand creates the root cobra command with all subcommands registered.
//
// Logging:
//   - Default: info level (logs to stderr)
//   - With --verbose (-v): debug level
func (c *CLI) RootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Packsmith assembles installable application archives",
		Long: `Packsmith assembles installable application archives from compiled inputs.

It merges the application manifest with the manifests of its libraries,
generates identifier sources for library packages, and packages, signs and
seals the final archive.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				c.SetLogLevel(LogDebug)
			}
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default "+pipeline.DefaultConfigFile+")")
	_ = root.MarkPersistentFlagFilename("config", "toml")

	c.registerCommands(root)
	return root
}
