package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/packsmith/pkg/pipeline"
)

// packageCommand creates the package command.
func (c *CLI) packageCommand() *cobra.Command {
	var (
		output   string
		jniDebug bool
		unsigned bool
	)

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Package, sign and seal the archive from compiled inputs",
		Long: `Package the archive from the compiled resource package and bytecode.

Secondary resources, library archives and native payloads are added after
the compiled inputs. Two entries at the same path are an error unless they
come from the same source with identical content.`,
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
			if unsigned {
				cfg.Signing = pipeline.SigningConfig{}
			} else {
				applySigningFallback(cfg, c.Logger)
			}
			return c.runPackage(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "archive output path (overrides archive.output)")
	cmd.Flags().BoolVar(&jniDebug, "jni-debug", false, "package the native debug server")
	cmd.Flags().BoolVar(&unsigned, "unsigned", false, "do not sign the archive")

	return cmd
}

func (c *CLI) runPackage(ctx context.Context, cfg *pipeline.Config) error {
	var (
		n      int
		signed bool
	)
	err := withSpinner(ctx, "Packaging...", "Archive sealed", func() error {
		entries, ok, err := c.newRunner().Assemble(ctx, cfg)
		n, signed = len(entries), ok
		return err
	})
	if err != nil {
		return fmt.Errorf("package: %w", err)
	}

	printFile(cfg.Archive.Output)
	printStats(pipeline.Stats{Entries: n}, signed)
	return nil
}
