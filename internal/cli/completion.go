package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

// completionCommand creates the completion command. Besides subcommand names,
// the scripts complete --config with .toml files and graph --format with the
// supported output formats.
func (c *CLI) completionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate a completion script for packsmith.

The script completes the build, merge, symbols, package, graph and keystore
commands and their flags, .toml files for --config, and dot or svg for
graph --format.

  bash:        source <(packsmith completion bash)
  zsh:         packsmith completion zsh > "${fpath[1]}/_packsmith"
  fish:        packsmith completion fish > ~/.config/fish/completions/packsmith.fish
  powershell:  packsmith completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             completionShells,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), cmd.OutOrStdout()
			c.Logger.Debug("generating completion", "shell", args[0])
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return fmt.Errorf("unsupported shell %q", args[0])
		},
	}
}
