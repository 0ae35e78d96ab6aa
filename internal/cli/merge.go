package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/packsmith/pkg/pipeline"
)

type mergeOpts struct {
	output          string
	packageOverride string
	versionCode     int
	versionName     string
	testPackage     string
	testOutput      string
	print           bool
}

// mergeCommand creates the merge command.
func (c *CLI) mergeCommand() *cobra.Command {
	var opts mergeOpts

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge library manifests into the application manifest",
		Long: `Merge the manifest tree described by the config file.

Each library's own dependencies are merged into it first; the results are
then merged into the application manifest in declared order. Version and SDK
attributes and the package override are applied to the final manifest only.

With --test-package, an instrumentation manifest for a test application is
generated and merged with the same libraries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			return c.runMerge(cmd.Context(), cfg, opts.print)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "merged manifest path (overrides manifest.output)")
	cmd.Flags().StringVar(&opts.packageOverride, "package", "", "rename the application package")
	cmd.Flags().IntVar(&opts.versionCode, "version-code", 0, "inject versionCode")
	cmd.Flags().StringVar(&opts.versionName, "version-name", "", "inject versionName")
	cmd.Flags().StringVar(&opts.testPackage, "test-package", "", "also generate a test manifest for this package")
	cmd.Flags().StringVar(&opts.testOutput, "test-output", "", "test manifest path")
	cmd.Flags().BoolVar(&opts.print, "print", false, "print the merged manifest to stdout")

	return cmd
}

func (o mergeOpts) apply(cmd *cobra.Command, cfg *pipeline.Config) {
	if o.output != "" {
		cfg.Manifest.Output = o.output
	}
	if o.packageOverride != "" {
		cfg.Manifest.PackageOverride = o.packageOverride
	}
	if cmd.Flags().Changed("version-code") {
		cfg.Manifest.VersionCode = o.versionCode
	}
	if o.versionName != "" {
		cfg.Manifest.VersionName = o.versionName
	}
	if o.testPackage != "" {
		cfg.Manifest.Test = &pipeline.TestManifestConfig{Package: o.testPackage, Output: o.testOutput}
	}
}

func (c *CLI) runMerge(ctx context.Context, cfg *pipeline.Config, print bool) error {
	prog := newProgress(c.Logger)
	data, err := c.newRunner().Merge(ctx, cfg)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	prog.done(fmt.Sprintf("Merged %d libraries", len(pipeline.FlatLibraries(cfg.Libraries))))

	if print {
		_, err := os.Stdout.Write(data)
		return err
	}
	printSuccess("Manifest merged")
	printFile(cfg.Manifest.Output)
	if cfg.Manifest.Test != nil {
		printFile(cfg.Manifest.Test.Output)
	}
	return nil
}
