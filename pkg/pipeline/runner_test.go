package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zip"

	"github.com/matzehuels/packsmith/pkg/archive"
	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/observability"
	"github.com/matzehuels/packsmith/pkg/signing"
)

const appManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
    <application android:label="App">
        <activity android:name=".MainActivity" />
    </application>
</manifest>
`

const libManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.lib">
    <uses-permission android:name="android.permission.INTERNET" />
    <application>
        <activity android:name=".LibActivity" />
    </application>
</manifest>
`

// project lays out a buildable project in a temp dir and returns its config.
func project(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, content string) string {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	write("AndroidManifest.xml", appManifest)
	write("libs/lib/AndroidManifest.xml", libManifest)
	write("libs/lib/R.txt", "int string lib_name 0x7f040001\n")
	write("build/R.txt", "int string app_name 0x7f040000\nint string lib_name 0x7f040007\n")
	write("build/classes.dex", "dex\n035\x00")
	write("res/extra/notes.txt", "notes")

	f, err := os.Create(filepath.Join(dir, "build/resources.ap_"))
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, name := range []string{"AndroidManifest.xml", "resources.arsc", "res/layout/main.xml"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(name)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Parse(`
[manifest]
main = "AndroidManifest.xml"
output = "build/AndroidManifest.xml"
version_code = 3
min_sdk = 16

[[library]]
name = "lib"
manifest = "libs/lib/AndroidManifest.xml"
symbols = "libs/lib/R.txt"

[symbols]
full_table = "build/R.txt"
output_dir = "build/gen"

[archive]
output = "build/app.apk"
resource_package = "build/resources.ap_"
bytecode = "build/classes.dex"
resources = ["res"]
`)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Rebase(dir)
	return cfg
}

type stageRecorder struct {
	observability.NoopPipelineHooks
	mu     sync.Mutex
	stages []string
	failed string
}

func (h *stageRecorder) OnStageComplete(_ context.Context, stage string, _ time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stages = append(h.stages, stage)
	if err != nil {
		h.failed = stage
	}
}

func recordStages(t *testing.T) *stageRecorder {
	t.Helper()
	h := &stageRecorder{}
	observability.SetPipelineHooks(h)
	t.Cleanup(observability.Reset)
	return h
}

func TestExecute(t *testing.T) {
	cfg := project(t)
	hooks := recordStages(t)

	result, err := NewRunner(log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel})).Execute(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if len(result.RunID) != 36 {
		t.Errorf("RunID = %q, want a UUID", result.RunID)
	}
	if got := strings.Join(hooks.stages, ","); got != "merge,symbols,assemble" {
		t.Errorf("stages = %s, want merge,symbols,assemble (tools skipped)", got)
	}

	merged := string(result.Manifest)
	for _, want := range []string{"com.example.lib.LibActivity", "android.permission.INTERNET", `android:minSdkVersion="16"`, `android:versionCode="3"`} {
		if !strings.Contains(merged, want) {
			t.Errorf("merged manifest missing %q:\n%s", want, merged)
		}
	}
	onDisk, err := os.ReadFile(cfg.Manifest.Output)
	if err != nil || string(onDisk) != merged {
		t.Errorf("merged manifest not written to %s: %v", cfg.Manifest.Output, err)
	}

	if result.HostPackage != "com.example.app" {
		t.Errorf("HostPackage = %q, want com.example.app", result.HostPackage)
	}
	if result.Stats.Packages != 1 || result.Stats.Libraries != 1 {
		t.Errorf("Stats = %+v, want 1 library and 1 package", result.Stats)
	}
	gen, err := os.ReadFile(filepath.Join(cfg.Symbols.OutputDir, "com/example/lib/R.java"))
	if err != nil {
		t.Fatalf("generated source: %v", err)
	}
	if !strings.Contains(string(gen), "0x7f040007") {
		t.Errorf("generated source does not carry the full table value:\n%s", gen)
	}

	paths := map[string]bool{}
	for _, e := range result.Entries {
		paths[e.Path] = true
	}
	for _, want := range []string{"AndroidManifest.xml", "resources.arsc", archive.BytecodeEntry, "extra/notes.txt"} {
		if !paths[want] {
			t.Errorf("archive missing entry %q", want)
		}
	}
	if result.Signed {
		t.Error("Signed = true for an unsigned config")
	}

	zr, err := zip.OpenReader(cfg.Archive.Output)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if got, want := len(zr.File), len(result.Entries)+1; got != want {
		t.Errorf("archive has %d files, want %d entries plus %s", got, want, archive.ManifestPath)
	}
}

func TestExecuteRunsTools(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell tools")
	}
	cfg := project(t)
	marker := filepath.Join(filepath.Dir(cfg.Archive.Output), "tools.log")
	cfg.Tools.Resources = []string{"sh", "-c", `echo "resources $` + EnvManifest + `" >> ` + marker}
	cfg.Tools.Bytecode = []string{"sh", "-c", `echo "bytecode $` + EnvGenerated + `" >> ` + marker}
	hooks := recordStages(t)

	if _, err := NewRunner(nil).Execute(context.Background(), cfg); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if got, want := strings.Join(hooks.stages, ","), "merge,resources,symbols,bytecode,assemble"; got != want {
		t.Errorf("stages = %s, want %s", got, want)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	want := "resources " + cfg.Manifest.Output + "\nbytecode " + cfg.Symbols.OutputDir + "\n"
	if string(data) != want {
		t.Errorf("tool log = %q, want %q", data, want)
	}
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell tools")
	}
	cfg := project(t)
	cfg.Tools.Resources = []string{"sh", "-c", "echo broken resources >&2; exit 3"}
	hooks := recordStages(t)

	_, err := NewRunner(nil).Execute(context.Background(), cfg)
	if !errors.Is(err, errors.ErrCodeToolFailed) {
		t.Fatalf("Execute() error = %v, want TOOL_FAILED", err)
	}
	if !strings.Contains(err.Error(), "broken resources") {
		t.Errorf("error = %q, want tool output", err)
	}
	if hooks.failed != observability.StageResources {
		t.Errorf("failed stage = %q, want %q", hooks.failed, observability.StageResources)
	}
	if _, err := os.Stat(cfg.Symbols.OutputDir); !os.IsNotExist(err) {
		t.Errorf("symbols stage ran after failure: %v", err)
	}
	if _, err := os.Stat(cfg.Archive.Output); !os.IsNotExist(err) {
		t.Errorf("archive created after failure: %v", err)
	}
}

func TestExecuteMissingFullTable(t *testing.T) {
	cfg := project(t)
	if err := os.Remove(cfg.Symbols.FullTable); err != nil {
		t.Fatal(err)
	}

	_, err := NewRunner(nil).Execute(context.Background(), cfg)
	if !errors.Is(err, errors.ErrCodeMissingFullTable) {
		t.Fatalf("Execute() error = %v, want MISSING_FULL_TABLE", err)
	}
}

func TestExecuteSigningRequiredWithoutMaterial(t *testing.T) {
	cfg := project(t)
	cfg.Signing.Required = true

	_, err := NewRunner(nil).Execute(context.Background(), cfg)
	if !errors.Is(err, errors.ErrCodeSigning) {
		t.Fatalf("Execute() error = %v, want SIGNING_ERROR", err)
	}
	if _, err := os.Stat(cfg.Archive.Output); !os.IsNotExist(err) {
		t.Errorf("archive exists after signing failure: %v", err)
	}
}

func TestExecuteSigned(t *testing.T) {
	cfg := project(t)
	dir := filepath.Dir(cfg.Archive.Output)
	cfg.Signing.Store = filepath.Join(dir, "debug.crt")
	cfg.Signing.Key = filepath.Join(dir, "debug.key")
	if err := signing.CreateDebugStore(cfg.SigningConfig()); err != nil {
		t.Fatal(err)
	}

	result, err := NewRunner(nil).Execute(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !result.Signed {
		t.Fatal("Signed = false, want true")
	}

	zr, err := zip.OpenReader(cfg.Archive.Output)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"META-INF/CERT.SF", "META-INF/CERT.SIG"} {
		if !names[want] {
			t.Errorf("signed archive missing %s", want)
		}
	}
}

func TestMergeWithTestManifest(t *testing.T) {
	cfg := project(t)
	cfg.Manifest.Test = &TestManifestConfig{
		Package: "com.example.app.test",
		Output:  filepath.Join(filepath.Dir(cfg.Manifest.Output), "test/AndroidManifest.xml"),
	}

	if _, err := NewRunner(nil).Merge(context.Background(), cfg); err != nil {
		t.Fatalf("Merge() error: %v", err)
	}

	data, err := os.ReadFile(cfg.Manifest.Test.Output)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{`android:targetPackage="com.example.app"`, DefaultTestRunner, "com.example.lib.LibActivity"} {
		if !strings.Contains(got, want) {
			t.Errorf("test manifest missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "versionCode") {
		t.Errorf("test manifest received injection:\n%s", got)
	}
}

func TestCanceledContext(t *testing.T) {
	cfg := project(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewRunner(nil).Execute(ctx, cfg); err == nil {
		t.Fatal("Execute() with canceled context succeeded")
	}
	if _, err := os.Stat(cfg.Archive.Output); !os.IsNotExist(err) {
		t.Errorf("archive created with canceled context: %v", err)
	}
}
