// Package cli implements the packsmith command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/packsmith/pkg/pipeline"
	"github.com/matzehuels/packsmith/pkg/signing"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "packsmith"

	// debugStoreName is the base name of the generated debug signing files.
	debugStoreName = "debug"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// configPath is bound to the persistent --config flag.
	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// =============================================================================
// Runner Factory
// =============================================================================

func (c *CLI) newRunner() *pipeline.Runner {
	return pipeline.NewRunner(c.Logger)
}

// loadConfig reads the config named by --config, or packsmith.toml in the
// working directory.
func (c *CLI) loadConfig() (*pipeline.Config, error) {
	path := c.configPath
	if path == "" {
		path = pipeline.DefaultConfigFile
	}
	cfg, err := pipeline.Load(path)
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("loaded config", "path", path)
	return cfg, nil
}

// withSpinner runs fn behind a spinner and reports the outcome.
func withSpinner(ctx context.Context, message, success string, fn func() error) error {
	spinner := newSpinnerWithContext(ctx, message)
	spinner.Start()
	if err := fn(); err != nil {
		spinner.StopWithError(message + " failed")
		return err
	}
	spinner.StopWithSuccess(success)
	return nil
}

// =============================================================================
// Paths
// =============================================================================

// configDir returns the config directory using XDG standard (~/.config/packsmith/).
func configDir() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// debugStore returns the signing config of the debug certificate in dir,
// or in the config directory when dir is empty.
func debugStore(dir string) (signing.Config, error) {
	if dir == "" {
		d, err := configDir()
		if err != nil {
			return signing.Config{}, fmt.Errorf("get config dir: %w", err)
		}
		dir = d
	}
	return signing.Config{
		StoreFile: filepath.Join(dir, debugStoreName+".crt"),
		KeyFile:   filepath.Join(dir, debugStoreName+".key"),
		KeyAlias:  signing.DefaultAlias,
	}, nil
}

// applySigningFallback points an unconfigured signing section at the debug
// certificate when it exists.
func applySigningFallback(cfg *pipeline.Config, logger *log.Logger) {
	if cfg.Signing.Store != "" || cfg.Signing.Key != "" {
		return
	}
	debug, err := debugStore("")
	if err != nil {
		return
	}
	if _, err := os.Stat(debug.StoreFile); err != nil {
		return
	}
	if _, err := os.Stat(debug.KeyFile); err != nil {
		return
	}
	logger.Debug("signing with debug certificate", "store", debug.StoreFile)
	cfg.Signing.Store = debug.StoreFile
	cfg.Signing.Key = debug.KeyFile
	cfg.Signing.Alias = debug.KeyAlias
}

// registerCommands adds every subcommand to root.
func (c *CLI) registerCommands(root *cobra.Command) {
	root.AddCommand(c.buildCommand())
	root.AddCommand(c.mergeCommand())
	root.AddCommand(c.symbolsCommand())
	root.AddCommand(c.packageCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.keystoreCommand())
	root.AddCommand(c.completionCommand())
}
