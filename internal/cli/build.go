package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/packsmith/pkg/pipeline"
	"github.com/matzehuels/packsmith/pkg/symbols"
)

// buildCommand creates the build command that runs the full pipeline.
func (c *CLI) buildCommand() *cobra.Command {
	var (
		output   string
		jniDebug bool
		parallel bool
		timings  bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Merge, generate and package the application archive",
		Long: `Build the application archive described by the config file.

The build runs these stages in order and stops at the first failure:

  merge      merge the library manifests into the application manifest
  resources  run the resource compiler (tools.resources, optional)
  symbols    generate identifier sources for library packages
  bytecode   run the bytecode compiler (tools.bytecode, optional)
  assemble   package, sign and seal the archive

The archive is signed with the configured certificate, or with the debug
certificate created by 'packsmith keystore debug' when none is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Archive.Output = output
			}
			if cmd.Flags().Changed("jni-debug") {
				cfg.Archive.JNIDebug = jniDebug
			}
			if cmd.Flags().Changed("parallel") {
				cfg.Manifest.Parallel = parallel
			}
			return c.runBuild(cmd.Context(), cfg, timings)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "archive output path (overrides archive.output)")
	cmd.Flags().BoolVar(&jniDebug, "jni-debug", false, "package the native debug server")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "merge library subtrees concurrently")
	cmd.Flags().BoolVar(&timings, "timings", false, "print per-stage timings")

	return cmd
}

func (c *CLI) runBuild(ctx context.Context, cfg *pipeline.Config, timings bool) error {
	applySigningFallback(cfg, c.Logger)

	var result *pipeline.Result
	err := withSpinner(ctx, "Building...", "Build complete", func() error {
		var err error
		result, err = c.newRunner().Execute(ctx, cfg)
		return err
	})
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	printSymbolWarnings(result.Symbols)
	printFile(cfg.Manifest.Output)
	printFile(cfg.Archive.Output)
	printStats(result.Stats, result.Signed)
	if timings {
		printStageTimes(result.Stats)
	}
	if !result.Signed {
		printNextStep("Create a debug certificate", appName+" keystore debug")
	}
	return nil
}

// printSymbolWarnings reports conflicting and missing library identifiers.
func printSymbolWarnings(res *symbols.Result) {
	if res == nil {
		return
	}
	for _, cf := range res.Conflicts {
		printWarning("%s: %s declared with different values by %d libraries", cf.Package, cf.Key, len(cf.Claims))
	}
	for _, m := range res.Missing {
		printWarning("%s: %s from %s is missing from the full table", m.Package, m.Key, m.Library)
	}
}
