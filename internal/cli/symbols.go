package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/manifest"
	"github.com/matzehuels/packsmith/pkg/pipeline"
)

// symbolsCommand creates the symbols command.
func (c *CLI) symbolsCommand() *cobra.Command {
	var (
		host      string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Generate identifier sources for library packages",
		Long: `Generate one identifier source per library package.

Libraries sharing a package are combined; every value is taken from the
application's full symbol table. Libraries without a symbol table, and
libraries owned by the application package, are skipped.

The application package defaults to symbols.host_package, then to the
package of the merged manifest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Symbols.HostPackage = host
			}
			if outputDir != "" {
				cfg.Symbols.OutputDir = outputDir
			}
			return c.runSymbols(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "application package (overrides symbols.host_package)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "generated source root (overrides symbols.output_dir)")

	return cmd
}

func (c *CLI) runSymbols(ctx context.Context, cfg *pipeline.Config) error {
	host, err := hostPackage(cfg)
	if err != nil {
		return err
	}

	prog := newProgress(c.Logger)
	res, err := c.newRunner().ResolveSymbols(ctx, cfg, host)
	if err != nil {
		return fmt.Errorf("symbols: %w", err)
	}
	prog.done(fmt.Sprintf("Resolved %d packages", len(res.Packages)))

	printSymbolWarnings(res)
	if len(res.Packages) == 0 {
		printInfo("No library identifiers to generate")
		return nil
	}
	printSuccess("Generated %d identifier sources", len(res.Packages))
	for _, p := range res.Packages {
		printFile(p.Path)
	}
	if len(res.Skipped) > 0 {
		printDetail("Skipped: %d libraries", len(res.Skipped))
	}
	return nil
}

// hostPackage resolves the application package without running a merge:
// configured value, package override, merged manifest, main manifest.
func hostPackage(cfg *pipeline.Config) (string, error) {
	if cfg.Symbols.HostPackage != "" {
		return cfg.Symbols.HostPackage, nil
	}
	if err := cfg.ValidateManifest(); err != nil {
		return "", err
	}
	if cfg.Manifest.PackageOverride != "" {
		return cfg.Manifest.PackageOverride, nil
	}
	if _, err := os.Stat(cfg.Manifest.Output); err == nil {
		return manifest.ReadPackage(cfg.Manifest.Output)
	}
	pkg, err := manifest.ReadPackage(cfg.Manifest.Main)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfig, err, "determine application package (set symbols.host_package)")
	}
	return pkg, nil
}
