package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/manifest"
)

const sampleConfig = `
[manifest]
main = "AndroidManifest.xml"
output = "build/AndroidManifest.xml"
version_code = 12
version_name = "1.2"
min_sdk = 16

[manifest.inject]
"/manifest|http://schemas.android.com/apk/res/android installLocation" = "auto"

[[library]]
name = "support"
manifest = "libs/support/AndroidManifest.xml"
symbols = "libs/support/R.txt"

  [[library.library]]
  name = "annotations"
  manifest = "libs/annotations/AndroidManifest.xml"

[[library]]
manifest = "libs/ui/AndroidManifest.xml"
archive = "libs/ui/classes.jar"

[symbols]
full_table = "build/R.txt"

[archive]
output = "build/app.apk"
resource_package = "build/resources.ap_"
bytecode = "build/classes.dex"
resources = ["src/main/resources"]
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if got := len(cfg.Libraries); got != 2 {
		t.Fatalf("len(Libraries) = %d, want 2", got)
	}
	support := cfg.Libraries[0]
	if support.Name != "support" || len(support.Libraries) != 1 {
		t.Errorf("Libraries[0] = %+v, want support with one child", support)
	}
	if got := support.Libraries[0].Label(); got != "annotations" {
		t.Errorf("nested library = %q, want annotations", got)
	}
	if got := cfg.Libraries[1].Label(); got != "libs/ui/AndroidManifest.xml" {
		t.Errorf("unnamed Label() = %q, want manifest path", got)
	}
	if cfg.Manifest.VersionCode != 12 || cfg.Manifest.MinSDK != 16 {
		t.Errorf("Manifest = %+v", cfg.Manifest)
	}
	if got := cfg.Archive.Resources; len(got) != 1 || got[0] != "src/main/resources" {
		t.Errorf("Archive.Resources = %v", got)
	}
}

func TestParseUnknownKey(t *testing.T) {
	_, err := Parse("[manifest]\nmain = \"a.xml\"\nmian = \"typo\"\n")
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Fatalf("Parse() error = %v, want INVALID_CONFIG", err)
	}
	if !strings.Contains(err.Error(), "manifest.mian") {
		t.Errorf("error = %q, want the unknown key named", err)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse("[manifest\n"); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("Parse() error = %v, want INVALID_CONFIG", err)
	}
}

func TestLoadRebasesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	tests := []struct {
		name, got, want string
	}{
		{"manifest.main", cfg.Manifest.Main, filepath.Join(dir, "AndroidManifest.xml")},
		{"library", cfg.Libraries[0].Symbols, filepath.Join(dir, "libs/support/R.txt")},
		{"nested library", cfg.Libraries[0].Libraries[0].Manifest, filepath.Join(dir, "libs/annotations/AndroidManifest.xml")},
		{"library archive", cfg.Libraries[1].Archive, filepath.Join(dir, "libs/ui/classes.jar")},
		{"archive.resources", cfg.Archive.Resources[0], filepath.Join(dir, "src/main/resources")},
		{"unset stays empty", cfg.Archive.Native, ""},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, errors.ErrCodeFileNotFound) {
		t.Errorf("Load() error = %v, want FILE_NOT_FOUND", err)
	}
}

func validConfig() *Config {
	return &Config{
		Manifest: ManifestConfig{Main: "AndroidManifest.xml"},
		Archive:  ArchiveConfig{Output: "app.apk", ResourcePackage: "res.ap_", Bytecode: "classes.dex"},
	}
}

func TestValidateAndSetDefaults(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   errors.Code
	}{
		{"valid", func(*Config) {}, ""},
		{"missing main", func(c *Config) { c.Manifest.Main = "" }, errors.ErrCodeInvalidConfig},
		{"missing output", func(c *Config) { c.Archive.Output = "" }, errors.ErrCodeInvalidConfig},
		{"missing bytecode", func(c *Config) { c.Archive.Bytecode = "" }, errors.ErrCodeInvalidConfig},
		{"bad merger", func(c *Config) { c.Manifest.Merger = "magic" }, errors.ErrCodeInvalidConfig},
		{"tool merger without command", func(c *Config) { c.Manifest.Merger = MergerTool }, errors.ErrCodeInvalidConfig},
		{"bad override", func(c *Config) { c.Manifest.PackageOverride = "single" }, errors.ErrCodeInvalidPackage},
		{"bad inject key", func(c *Config) { c.Manifest.Inject = map[string]string{"noseparator": "x"} }, errors.ErrCodeInvalidConfig},
		{"library without manifest", func(c *Config) {
			c.Libraries = []LibraryConfig{{Name: "a", Libraries: []LibraryConfig{{Name: "b"}}}}
		}, errors.ErrCodeInvalidConfig},
		{"store without key", func(c *Config) { c.Signing.Store = "cert.pem" }, errors.ErrCodeInvalidConfig},
		{"test manifest without output", func(c *Config) {
			c.Manifest.Test = &TestManifestConfig{Package: "com.example.test"}
		}, errors.ErrCodeInvalidConfig},
		{"bad host package", func(c *Config) { c.Symbols.HostPackage = "nodots" }, errors.ErrCodeInvalidPackage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.ValidateAndSetDefaults()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("ValidateAndSetDefaults() error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateAndSetDefaults() error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestValidateAndSetDefaultsAppliesDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Manifest.Test = &TestManifestConfig{Package: "com.example.test", Output: "test.xml"}
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}

	if cfg.Manifest.Output != DefaultManifestOutput {
		t.Errorf("Manifest.Output = %q, want %q", cfg.Manifest.Output, DefaultManifestOutput)
	}
	if cfg.Manifest.Merger != MergerXML {
		t.Errorf("Manifest.Merger = %q, want %q", cfg.Manifest.Merger, MergerXML)
	}
	if cfg.Symbols.OutputDir != DefaultSymbolsOutput {
		t.Errorf("Symbols.OutputDir = %q, want %q", cfg.Symbols.OutputDir, DefaultSymbolsOutput)
	}
	if cfg.Manifest.Test.Runner != DefaultTestRunner {
		t.Errorf("Test.Runner = %q, want %q", cfg.Manifest.Test.Runner, DefaultTestRunner)
	}
}

func TestInjection(t *testing.T) {
	cfg := &Config{Manifest: ManifestConfig{
		VersionCode: 7,
		MinSDK:      21,
		Inject: map[string]string{
			manifest.PathManifest + "|" + manifest.AndroidNS + " installLocation": "auto",
		},
	}}

	inj, err := cfg.Injection()
	if err != nil {
		t.Fatalf("Injection() error: %v", err)
	}

	want := map[manifest.AttributeKey]string{
		manifest.AttrVersionCode:   "7",
		manifest.AttrMinSDKVersion: "21",
		{Path: manifest.PathManifest, Namespace: manifest.AndroidNS, Name: "installLocation"}: "auto",
	}
	if len(inj) != len(want) {
		t.Fatalf("Injection() = %v, want %d keys", inj, len(want))
	}
	for k, v := range want {
		if inj[k] != v {
			t.Errorf("Injection()[%s] = %q, want %q", k, inj[k], v)
		}
	}
}

func TestFlatLibraries(t *testing.T) {
	shared := LibraryConfig{Name: "shared", Manifest: "shared.xml"}
	libs := []LibraryConfig{
		{Name: "a", Manifest: "a.xml", Libraries: []LibraryConfig{shared}},
		{Name: "b", Manifest: "b.xml", Libraries: []LibraryConfig{shared}},
	}

	var got []string
	for _, l := range FlatLibraries(libs) {
		got = append(got, l.Name)
	}
	if want := "a,shared,b"; strings.Join(got, ",") != want {
		t.Errorf("FlatLibraries() = %v, want %s", got, want)
	}

	deps := Dependencies(libs)
	if len(deps) != 2 || len(deps[1].Dependencies) != 1 || deps[1].Dependencies[0].Path != "shared.xml" {
		t.Errorf("Dependencies() did not keep the tree: %+v", deps)
	}
}

func TestArchiveOptionsSigningRequested(t *testing.T) {
	tests := []struct {
		name    string
		signing SigningConfig
		want    bool
	}{
		{"unsigned", SigningConfig{}, false},
		{"configured", SigningConfig{Store: "cert.pem", Key: "key.pem"}, true},
		{"required", SigningConfig{Required: true}, true},
	}
	for _, tt := range tests {
		cfg := validConfig()
		cfg.Signing = tt.signing
		if got := cfg.ArchiveOptions(nil).SigningRequested; got != tt.want {
			t.Errorf("%s: SigningRequested = %v, want %v", tt.name, got, tt.want)
		}
	}
}
