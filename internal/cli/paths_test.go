package cli

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/matzehuels/packsmith/pkg/pipeline"
	"github.com/matzehuels/packsmith/pkg/signing"
)

func TestConfigDirDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	dir, err := configDir()
	if err != nil {
		t.Fatalf("configDir() error: %v", err)
	}

	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", appName)
	if dir != expected {
		t.Errorf("configDir() = %q, want %q", dir, expected)
	}
}

func TestConfigDirXDG(t *testing.T) {
	custom := filepath.Join(t.TempDir(), "config")
	t.Setenv("XDG_CONFIG_HOME", custom)

	dir, err := configDir()
	if err != nil {
		t.Fatalf("configDir() error: %v", err)
	}

	expected := filepath.Join(custom, appName)
	if dir != expected {
		t.Errorf("configDir() with XDG_CONFIG_HOME = %q, want %q", dir, expected)
	}
}

func TestDebugStore(t *testing.T) {
	dir := t.TempDir()

	cfg, err := debugStore(dir)
	if err != nil {
		t.Fatalf("debugStore() error: %v", err)
	}
	if cfg.StoreFile != filepath.Join(dir, "debug.crt") || cfg.KeyFile != filepath.Join(dir, "debug.key") {
		t.Errorf("debugStore() = %+v", cfg)
	}
	if cfg.KeyAlias != signing.DefaultAlias {
		t.Errorf("KeyAlias = %q, want %q", cfg.KeyAlias, signing.DefaultAlias)
	}
}

func TestApplySigningFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	logger := newLogger(io.Discard, LogInfo)

	// No debug certificate yet: nothing changes.
	cfg := &pipeline.Config{}
	applySigningFallback(cfg, logger)
	if cfg.Signing.Store != "" {
		t.Fatalf("fallback applied without a debug certificate: %+v", cfg.Signing)
	}

	debug, err := debugStore("")
	if err != nil {
		t.Fatal(err)
	}
	if err := signing.CreateDebugStore(debug); err != nil {
		t.Fatal(err)
	}

	applySigningFallback(cfg, logger)
	if cfg.Signing.Store != debug.StoreFile || cfg.Signing.Key != debug.KeyFile {
		t.Errorf("Signing = %+v, want debug certificate %s", cfg.Signing, debug.StoreFile)
	}

	// A configured store is never replaced.
	own := &pipeline.Config{Signing: pipeline.SigningConfig{Store: "release.crt", Key: "release.key"}}
	applySigningFallback(own, logger)
	if own.Signing.Store != "release.crt" {
		t.Errorf("configured store replaced: %+v", own.Signing)
	}
}
