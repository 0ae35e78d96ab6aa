package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/packsmith/pkg/manifest"
	"github.com/matzehuels/packsmith/pkg/pipeline"
)

const (
	graphFormatDOT = "dot"
	graphFormatSVG = "svg"
)

// graphCommand creates the graph command that draws the library tree.
func (c *CLI) graphCommand() *cobra.Command {
	var (
		output   string
		format   string
		detailed bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Draw the manifest merge tree",
		Long: `Draw the library tree of the config as a Graphviz graph.

Edges point from a manifest to the manifests merged into it and are labeled
with their merge priority. Output is DOT by default, or SVG with --format svg.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != graphFormatDOT && format != graphFormatSVG {
				return fmt.Errorf("invalid format %q (must be %s or %s)", format, graphFormatDOT, graphFormatSVG)
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			return c.runGraph(cmd.Context(), cfg, format, output, detailed)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", graphFormatDOT, "output format: dot, svg")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "show manifest paths")
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(
		[]string{graphFormatDOT, graphFormatSVG}, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

func (c *CLI) runGraph(ctx context.Context, cfg *pipeline.Config, format, output string, detailed bool) error {
	if err := cfg.ValidateManifest(); err != nil {
		return err
	}
	app, err := manifest.ReadPackage(cfg.Manifest.Main)
	if err != nil {
		c.Logger.Debug("application package unavailable", "err", err)
		app = appName
	}

	data := []byte(manifest.ToDOT(app, pipeline.Dependencies(cfg.Libraries), manifest.GraphOptions{Detailed: detailed}))
	if format == graphFormatSVG {
		if data, err = manifest.RenderSVG(ctx, string(data)); err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}

	if output == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	printSuccess("Graph written")
	printFile(output)
	return nil
}
