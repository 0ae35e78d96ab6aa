// Package pipeline runs the complete assembly of one application.
//
// The pipeline chains the three assembly stages and the external tools
// between them:
//
//  1. Merge: merge the manifest tree into the final manifest
//  2. Resources: run the resource compiler (external, optional)
//  3. Symbols: generate identifier sources for library packages
//  4. Bytecode: run the bytecode compiler (external, optional)
//  5. Assemble: package, sign and seal the archive
//
// Data only flows downstream; the first failing stage stops the run.
//
// # Configuration
//
// A run is described by a [Config], usually loaded from packsmith.toml:
//
//	[manifest]
//	main = "src/main/AndroidManifest.xml"
//	output = "build/AndroidManifest.xml"
//	version_code = 12
//	min_sdk = 16
//
//	[[library]]
//	name = "support"
//	manifest = "libs/support/AndroidManifest.xml"
//	symbols = "libs/support/R.txt"
//
//	  [[library.library]]
//	  name = "annotations"
//	  manifest = "libs/annotations/AndroidManifest.xml"
//
//	[symbols]
//	full_table = "build/R.txt"
//	output_dir = "build/generated/source/r"
//
//	[archive]
//	output = "build/app.apk"
//	resource_package = "build/resources.ap_"
//	bytecode = "build/classes.dex"
//
// Relative paths are resolved against the directory of the config file.
//
// # Usage
//
//	cfg, err := pipeline.Load("packsmith.toml")
//	if err != nil {
//	    return err
//	}
//	result, err := pipeline.NewRunner(logger).Execute(ctx, cfg)
package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/packsmith/pkg/archive"
	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/manifest"
	"github.com/matzehuels/packsmith/pkg/signing"
	"github.com/matzehuels/packsmith/pkg/symbols"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultConfigFile is looked up in the working directory.
	DefaultConfigFile = "packsmith.toml"

	// DefaultManifestOutput is the merged manifest location.
	DefaultManifestOutput = "build/AndroidManifest.xml"

	// DefaultSymbolsOutput is the root of generated identifier sources.
	DefaultSymbolsOutput = "build/generated/source/r"

	// DefaultTestRunner is the instrumentation runner of test manifests.
	DefaultTestRunner = "android.test.InstrumentationTestRunner"
)

// Merger names accepted by ManifestConfig.Merger.
const (
	MergerXML  = "xml"
	MergerTool = "tool"
)

// =============================================================================
// Config - Pipeline Configuration
// =============================================================================

// Config describes one assembly run.
type Config struct {
	Manifest  ManifestConfig  `toml:"manifest"`
	Libraries []LibraryConfig `toml:"library"`
	Symbols   SymbolsConfig   `toml:"symbols"`
	Archive   ArchiveConfig   `toml:"archive"`
	Signing   SigningConfig   `toml:"signing"`
	Tools     ToolsConfig     `toml:"tools"`

	validated bool
}

// ManifestConfig configures the merge stage.
type ManifestConfig struct {
	Main            string   `toml:"main"`
	Overlays        []string `toml:"overlays"`
	Output          string   `toml:"output"`
	PackageOverride string   `toml:"package_override"`

	// Injected attributes. Zero values are not injected.
	VersionCode int               `toml:"version_code"`
	VersionName string            `toml:"version_name"`
	MinSDK      int               `toml:"min_sdk"`
	TargetSDK   int               `toml:"target_sdk"`
	Inject      map[string]string `toml:"inject"` // "path|namespace name" = value

	Merger   string `toml:"merger"`   // "xml" (default) or "tool"
	Parallel bool   `toml:"parallel"` // Resolve library subtrees concurrently

	Test *TestManifestConfig `toml:"test"`
}

// TestManifestConfig enables generation of a test application manifest.
type TestManifestConfig struct {
	Package string `toml:"package"`
	Runner  string `toml:"runner"`
	Output  string `toml:"output"`
}

// LibraryConfig is one node of the library dependency tree.
type LibraryConfig struct {
	Name      string          `toml:"name"`
	Manifest  string          `toml:"manifest"`
	Symbols   string          `toml:"symbols"` // Library symbol table (optional)
	Archive   string          `toml:"archive"` // Packaged library whose entries are absorbed (optional)
	Libraries []LibraryConfig `toml:"library"`
}

// Label returns the library name, or its manifest path when unnamed.
func (l LibraryConfig) Label() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Manifest
}

// SymbolsConfig configures the symbols stage.
type SymbolsConfig struct {
	FullTable   string `toml:"full_table"`
	HostPackage string `toml:"host_package"` // Defaults to the merged manifest's package
	OutputDir   string `toml:"output_dir"`
}

// ArchiveConfig configures the assemble stage.
type ArchiveConfig struct {
	Output          string   `toml:"output"`
	ResourcePackage string   `toml:"resource_package"`
	Bytecode        string   `toml:"bytecode"`
	Resources       []string `toml:"resources"` // Secondary resource roots
	Native          string   `toml:"native"`    // Native payload root
	JNIDebug        bool     `toml:"jni_debug"`
}

// SigningConfig configures archive signing.
type SigningConfig struct {
	Store    string `toml:"store"`
	Key      string `toml:"key"`
	Alias    string `toml:"alias"`
	Required bool   `toml:"required"` // Fail if no certificate can be loaded
}

// ToolsConfig holds the command lines of the external tools. Empty commands
// skip their stage.
type ToolsConfig struct {
	Manifest  []string `toml:"manifest"`
	Resources []string `toml:"resources"`
	Bytecode  []string `toml:"bytecode"`
}

// =============================================================================
// Loading
// =============================================================================

// Load reads a config file and resolves relative paths against its
// directory. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "config %s not found", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config %s", path)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "%s", path)
	}
	cfg.Rebase(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes a config document. Paths are left as written.
func Parse(doc string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(doc, &cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.ErrCodeInvalidConfig, "unknown keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// Rebase resolves every relative path in c against dir.
func (c *Config) Rebase(dir string) {
	rel := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	relAll := func(ps []string) {
		for i := range ps {
			rel(&ps[i])
		}
	}

	rel(&c.Manifest.Main)
	relAll(c.Manifest.Overlays)
	rel(&c.Manifest.Output)
	if c.Manifest.Test != nil {
		rel(&c.Manifest.Test.Output)
	}

	var rebaseLibs func(libs []LibraryConfig)
	rebaseLibs = func(libs []LibraryConfig) {
		for i := range libs {
			rel(&libs[i].Manifest)
			rel(&libs[i].Symbols)
			rel(&libs[i].Archive)
			rebaseLibs(libs[i].Libraries)
		}
	}
	rebaseLibs(c.Libraries)

	rel(&c.Symbols.FullTable)
	rel(&c.Symbols.OutputDir)

	rel(&c.Archive.Output)
	rel(&c.Archive.ResourcePackage)
	rel(&c.Archive.Bytecode)
	relAll(c.Archive.Resources)
	rel(&c.Archive.Native)

	rel(&c.Signing.Store)
	rel(&c.Signing.Key)
}

// =============================================================================
// Validation
// =============================================================================

// ValidateAndSetDefaults checks required fields and applies defaults.
// Calling it more than once has no further effect.
func (c *Config) ValidateAndSetDefaults() error {
	if c.validated {
		return nil
	}
	if err := c.ValidateManifest(); err != nil {
		return err
	}
	if err := c.ValidateSymbols(); err != nil {
		return err
	}
	if err := c.ValidateArchive(); err != nil {
		return err
	}
	c.validated = true
	return nil
}

// ValidateManifest validates the manifest section and the library tree.
func (c *Config) ValidateManifest() error {
	if c.Manifest.Main == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "manifest.main is required")
	}
	if c.Manifest.Output == "" {
		c.Manifest.Output = DefaultManifestOutput
	}
	switch c.Manifest.Merger {
	case "":
		c.Manifest.Merger = MergerXML
	case MergerXML:
	case MergerTool:
		if len(c.Tools.Manifest) == 0 {
			return errors.New(errors.ErrCodeInvalidConfig, "manifest.merger = %q requires tools.manifest", MergerTool)
		}
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "invalid manifest.merger %q (must be %s or %s)", c.Manifest.Merger, MergerXML, MergerTool)
	}
	if c.Manifest.PackageOverride != "" {
		if err := errors.ValidatePackageName(c.Manifest.PackageOverride); err != nil {
			return err
		}
	}
	if _, err := c.Injection(); err != nil {
		return err
	}
	if t := c.Manifest.Test; t != nil {
		if err := errors.ValidatePackageName(t.Package); err != nil {
			return err
		}
		if t.Runner == "" {
			t.Runner = DefaultTestRunner
		}
		if t.Output == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "manifest.test.output is required")
		}
	}
	return validateLibraries(c.Libraries)
}

// ValidateSymbols validates the symbols section.
func (c *Config) ValidateSymbols() error {
	if c.Symbols.OutputDir == "" {
		c.Symbols.OutputDir = DefaultSymbolsOutput
	}
	if c.Symbols.HostPackage != "" {
		if err := errors.ValidatePackageName(c.Symbols.HostPackage); err != nil {
			return err
		}
	}
	return validateLibraries(c.Libraries)
}

// ValidateArchive validates the archive and signing sections.
func (c *Config) ValidateArchive() error {
	if c.Archive.Output == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "archive.output is required")
	}
	if c.Archive.ResourcePackage == "" || c.Archive.Bytecode == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "archive.resource_package and archive.bytecode are required")
	}
	if (c.Signing.Store == "") != (c.Signing.Key == "") {
		return errors.New(errors.ErrCodeInvalidConfig, "signing.store and signing.key must be set together")
	}
	return nil
}

func validateLibraries(libs []LibraryConfig) error {
	for _, l := range libs {
		if l.Manifest == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "library %q has no manifest", l.Name)
		}
		if err := validateLibraries(l.Libraries); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Stage Inputs
// =============================================================================

// Injection builds the attribute injection of the final manifest.
func (c *Config) Injection() (manifest.Injection, error) {
	m := c.Manifest
	inj := manifest.NewInjection(orNoValue(m.VersionCode), m.VersionName, orNoValue(m.MinSDK), orNoValue(m.TargetSDK))
	for raw, value := range m.Inject {
		key, err := manifest.ParseAttributeKey(raw)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "manifest.inject")
		}
		inj.Set(key, value)
	}
	return inj, nil
}

func orNoValue(v int) int {
	if v <= 0 {
		return manifest.NoValue
	}
	return v
}

// ManifestInput builds the merge stage input.
func (c *Config) ManifestInput() (manifest.Input, error) {
	inj, err := c.Injection()
	if err != nil {
		return manifest.Input{}, err
	}
	return manifest.Input{
		Main:            c.Manifest.Main,
		Overlays:        c.Manifest.Overlays,
		Libraries:       Dependencies(c.Libraries),
		Injection:       inj,
		PackageOverride: c.Manifest.PackageOverride,
	}, nil
}

// Dependencies converts the configured library tree.
func Dependencies(libs []LibraryConfig) []*manifest.Dependency {
	if len(libs) == 0 {
		return nil
	}
	deps := make([]*manifest.Dependency, len(libs))
	for i, l := range libs {
		deps[i] = &manifest.Dependency{
			Name:         l.Label(),
			Path:         l.Manifest,
			Dependencies: Dependencies(l.Libraries),
		}
	}
	return deps
}

// FlatLibraries returns every library of the tree once, depth-first in
// declared order. Libraries reached twice are identified by manifest path.
func FlatLibraries(libs []LibraryConfig) []LibraryConfig {
	var out []LibraryConfig
	seen := map[string]bool{}
	var walk func([]LibraryConfig)
	walk = func(list []LibraryConfig) {
		for _, l := range list {
			if seen[l.Manifest] {
				continue
			}
			seen[l.Manifest] = true
			out = append(out, l)
			walk(l.Libraries)
		}
	}
	walk(libs)
	return out
}

// SymbolsRequest builds the symbols stage input for the given host package.
func (c *Config) SymbolsRequest(host string) symbols.Request {
	req := symbols.Request{
		FullTable:   c.Symbols.FullTable,
		HostPackage: host,
		OutputDir:   c.Symbols.OutputDir,
	}
	for _, l := range FlatLibraries(c.Libraries) {
		req.Libraries = append(req.Libraries, symbols.Library{
			Name:       l.Label(),
			Manifest:   l.Manifest,
			SymbolFile: l.Symbols,
		})
	}
	return req
}

// SigningConfig converts the signing section.
func (c *Config) SigningConfig() signing.Config {
	return signing.Config{StoreFile: c.Signing.Store, KeyFile: c.Signing.Key, KeyAlias: c.Signing.Alias}
}

// ArchiveOptions builds the assembler options around loaded material.
func (c *Config) ArchiveOptions(material *signing.Material) archive.Options {
	return archive.Options{
		Output:           c.Archive.Output,
		ResourcePackage:  c.Archive.ResourcePackage,
		Bytecode:         c.Archive.Bytecode,
		Signing:          material,
		SigningRequested: c.Signing.Required || c.SigningConfig().IsReady(),
		JNIDebug:         c.Archive.JNIDebug,
	}
}

// =============================================================================
// Result
// =============================================================================

// Result contains the outputs of a pipeline run.
type Result struct {
	// RunID identifies the run in logs.
	RunID string

	// Manifest is the merged manifest.
	Manifest []byte

	// HostPackage is the application package used by the symbols stage.
	HostPackage string

	// Symbols reports the generated packages, conflicts and missing keys.
	Symbols *symbols.Result

	// Entries lists the committed archive entries.
	Entries []archive.Entry

	// Signed reports whether the archive was signed.
	Signed bool

	// Stats contains timing and size information.
	Stats Stats
}

// Stats contains pipeline execution statistics.
type Stats struct {
	Libraries     int
	Packages      int
	Entries       int
	MergeTime     time.Duration
	ResourcesTime time.Duration
	SymbolsTime   time.Duration
	BytecodeTime  time.Duration
	AssembleTime  time.Duration
}

// Total returns the summed stage time.
func (s Stats) Total() time.Duration {
	return s.MergeTime + s.ResourcesTime + s.SymbolsTime + s.BytecodeTime + s.AssembleTime
}
