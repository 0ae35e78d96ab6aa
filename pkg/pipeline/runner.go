package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/packsmith/pkg/archive"
	"github.com/matzehuels/packsmith/pkg/buildinfo"
	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/manifest"
	"github.com/matzehuels/packsmith/pkg/observability"
	"github.com/matzehuels/packsmith/pkg/signing"
	"github.com/matzehuels/packsmith/pkg/symbols"
	"github.com/matzehuels/packsmith/pkg/toolrun"
)

// Environment passed to the resource and bytecode tools.
const (
	EnvManifest        = "PACKSMITH_MANIFEST"
	EnvFullTable       = "PACKSMITH_FULL_TABLE"
	EnvResourcePackage = "PACKSMITH_RESOURCE_PACKAGE"
	EnvGenerated       = "PACKSMITH_GENERATED"
	EnvBytecode        = "PACKSMITH_BYTECODE"
)

// Runner executes pipeline runs.
//
// The Runner holds no per-run state. Multiple goroutines can use the same
// Runner with different configs as long as their outputs do not overlap.
type Runner struct {
	Logger *log.Logger

	// Merger overrides the merger selected by the config when set.
	Merger manifest.Merger

	// Signer loads signing material. Defaults to [signing.PEMProvider].
	Signer signing.Provider

	// Tools runs the external tools. Defaults to a zero [toolrun.Runner].
	Tools *toolrun.Runner
}

// NewRunner creates a runner with default collaborators.
func NewRunner(logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Logger: logger,
		Signer: signing.PEMProvider{},
		Tools:  &toolrun.Runner{Logger: logger},
	}
}

// Execute runs merge → resources → symbols → bytecode → assemble and stops
// at the first failing stage.
func (r *Runner) Execute(ctx context.Context, cfg *Config) (*Result, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	result := &Result{RunID: uuid.NewString()}
	run := *r
	run.Logger = r.logger().With("run", result.RunID[:8])
	logger := run.Logger

	libs := FlatLibraries(cfg.Libraries)
	result.Stats.Libraries = len(libs)

	// Stage 1: Merge
	err := run.stage(ctx, observability.StageMerge, &result.Stats.MergeTime, func() error {
		data, err := run.Merge(ctx, cfg)
		result.Manifest = data
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info("merged manifest",
		"libraries", result.Stats.Libraries,
		"output", cfg.Manifest.Output,
		"duration", result.Stats.MergeTime)

	// Stage 2: Resources
	if err := run.tool(ctx, cfg, observability.StageResources, cfg.Tools.Resources, &result.Stats.ResourcesTime); err != nil {
		return nil, err
	}

	// Stage 3: Symbols
	err = run.stage(ctx, observability.StageSymbols, &result.Stats.SymbolsTime, func() error {
		host, err := cfg.hostPackage(result.Manifest)
		if err != nil {
			return err
		}
		result.HostPackage = host
		result.Symbols, err = run.ResolveSymbols(ctx, cfg, host)
		return err
	})
	if err != nil {
		return nil, err
	}
	result.Stats.Packages = len(result.Symbols.Packages)
	logger.Info("generated symbols",
		"packages", result.Stats.Packages,
		"conflicts", len(result.Symbols.Conflicts),
		"duration", result.Stats.SymbolsTime)

	// Stage 4: Bytecode
	if err := run.tool(ctx, cfg, observability.StageBytecode, cfg.Tools.Bytecode, &result.Stats.BytecodeTime); err != nil {
		return nil, err
	}

	// Stage 5: Assemble
	err = run.stage(ctx, observability.StageAssemble, &result.Stats.AssembleTime, func() error {
		var err error
		result.Entries, result.Signed, err = run.Assemble(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	result.Stats.Entries = len(result.Entries)
	logger.Info("assembled archive",
		"output", cfg.Archive.Output,
		"entries", result.Stats.Entries,
		"signed", result.Signed,
		"duration", result.Stats.AssembleTime)

	return result, nil
}

// =============================================================================
// Stages
// =============================================================================

// Merge resolves the manifest tree of cfg and writes the merged manifest,
// plus the test manifest when one is configured.
func (r *Runner) Merge(ctx context.Context, cfg *Config) ([]byte, error) {
	if err := cfg.ValidateManifest(); err != nil {
		return nil, err
	}
	in, err := cfg.ManifestInput()
	if err != nil {
		return nil, err
	}

	resolver := manifest.NewResolver(r.merger(cfg), r.logger())
	resolver.Parallel = cfg.Manifest.Parallel

	data, err := resolver.Merge(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := writeOutput(cfg.Manifest.Output, data); err != nil {
		return nil, err
	}

	if t := cfg.Manifest.Test; t != nil {
		tested, err := manifest.PackageOf(cfg.Manifest.Output, data)
		if err != nil {
			return nil, err
		}
		testData, err := resolver.MergeTest(ctx, manifest.TestManifest{
			Package:               t.Package,
			TestedPackage:         tested,
			InstrumentationRunner: t.Runner,
			MinSDKVersion:         orNoValue(cfg.Manifest.MinSDK),
			TargetSDKVersion:      orNoValue(cfg.Manifest.TargetSDK),
		}, in.Libraries)
		if err != nil {
			return nil, fmt.Errorf("test manifest: %w", err)
		}
		if err := writeOutput(t.Output, testData); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// ResolveSymbols generates identifier sources for the configured libraries.
func (r *Runner) ResolveSymbols(ctx context.Context, cfg *Config, host string) (*symbols.Result, error) {
	if err := cfg.ValidateSymbols(); err != nil {
		return nil, err
	}
	return symbols.NewResolver(r.logger()).Resolve(ctx, cfg.SymbolsRequest(host))
}

// Assemble packages the archive of cfg and reports the committed entries and
// whether the archive was signed. A failed assembly leaves no output file.
func (r *Runner) Assemble(ctx context.Context, cfg *Config) ([]archive.Entry, bool, error) {
	if err := cfg.ValidateArchive(); err != nil {
		return nil, false, err
	}

	material, err := r.signer().Certificate(cfg.SigningConfig())
	if err != nil {
		return nil, false, err
	}
	opts := cfg.ArchiveOptions(material)
	opts.CreatedBy = buildinfo.CreatedBy()
	opts.Logger = r.logger()

	a, err := archive.Open(ctx, opts)
	if err != nil {
		return nil, false, err
	}
	if err := r.fill(ctx, a, cfg); err != nil {
		a.Abort()
		return nil, false, err
	}
	if err := a.Seal(ctx); err != nil {
		a.Abort()
		return nil, false, err
	}
	return a.Entries(), material != nil, nil
}

func (r *Runner) fill(ctx context.Context, a *archive.Assembler, cfg *Config) error {
	for _, root := range cfg.Archive.Resources {
		if err := a.AddSecondaryResources(ctx, root); err != nil {
			return err
		}
	}
	for _, l := range FlatLibraries(cfg.Libraries) {
		if l.Archive == "" {
			continue
		}
		if err := a.AddFromArchive(ctx, l.Archive); err != nil {
			return err
		}
	}
	if cfg.Archive.Native != "" {
		if err := a.AddNativePayloads(ctx, cfg.Archive.Native); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Runner) stage(ctx context.Context, name string, d *time.Duration, fn func() error) error {
	hooks := observability.Pipeline()
	hooks.OnStageStart(ctx, name)

	start := time.Now()
	err := fn()
	*d = time.Since(start)

	hooks.OnStageComplete(ctx, name, *d, err)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// tool runs an external tool stage. Stages without a command are skipped.
func (r *Runner) tool(ctx context.Context, cfg *Config, name string, cmd []string, d *time.Duration) error {
	if len(cmd) == 0 {
		r.logger().Debug("stage skipped", "stage", name)
		return nil
	}
	return r.stage(ctx, name, d, func() error {
		tools := r.tools(cfg)
		out, err := tools.Run(ctx, cmd)
		if len(out) > 0 {
			r.logger().Debug("tool output", "stage", name, "output", string(out))
		}
		return err
	})
}

func (r *Runner) tools(cfg *Config) *toolrun.Runner {
	t := toolrun.Runner{Logger: r.logger()}
	if r.Tools != nil {
		t = *r.Tools
	}
	t.Env = append(slices.Clone(t.Env),
		EnvManifest+"="+cfg.Manifest.Output,
		EnvFullTable+"="+cfg.Symbols.FullTable,
		EnvResourcePackage+"="+cfg.Archive.ResourcePackage,
		EnvGenerated+"="+cfg.Symbols.OutputDir,
		EnvBytecode+"="+cfg.Archive.Bytecode,
	)
	return &t
}

func (r *Runner) merger(cfg *Config) manifest.Merger {
	if r.Merger != nil {
		return r.Merger
	}
	if cfg.Manifest.Merger == MergerTool {
		return &manifest.ToolMerger{Runner: r.tools(cfg), Command: cfg.Tools.Manifest}
	}
	return manifest.NewXMLMerger()
}

func (r *Runner) signer() signing.Provider {
	if r.Signer == nil {
		return signing.PEMProvider{}
	}
	return r.Signer
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return r.Logger
}

// hostPackage returns the configured host package, or the package of the
// merged manifest.
func (c *Config) hostPackage(merged []byte) (string, error) {
	if c.Symbols.HostPackage != "" {
		return c.Symbols.HostPackage, nil
	}
	return manifest.PackageOf(c.Manifest.Output, merged)
}

func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", path)
	}
	return nil
}
