package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

func TestLoadMissingManifestReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Load(dir, zerolog.Nop())
	if cfg.ContractsPath != "." || cfg.MinSeverity != severity.Low {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadValidManifest(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`scan:
  contracts_path: "src"
  ignore_paths: ["vendor/**"]
  min_severity: "Medium"
  block_on_severity: "Critical"
  enabled_tools: ["slither"]
`)
	if err := os.WriteFile(filepath.Join(dir, ManifestFilename), body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(dir, zerolog.Nop())
	if cfg.ContractsPath != "src" || cfg.MinSeverity != severity.Medium || cfg.BlockOnSeverity != severity.Critical {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.EnabledTools) != 1 || cfg.EnabledTools[0] != "slither" {
		t.Fatalf("unexpected tools: %+v", cfg.EnabledTools)
	}
}

func TestLoadUnknownFieldFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	body := []byte("scan:\n  bogus_field: true\n")
	if err := os.WriteFile(filepath.Join(dir, ManifestFilename), body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(dir, zerolog.Nop())
	if cfg.ContractsPath != "." {
		t.Fatalf("expected fallback to defaults, got %+v", cfg)
	}
}

func TestLoadInvalidEnumFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	body := []byte("scan:\n  min_severity: \"extreme\"\n")
	if err := os.WriteFile(filepath.Join(dir, ManifestFilename), body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(dir, zerolog.Nop())
	if cfg.MinSeverity != severity.Low {
		t.Fatalf("expected fallback default severity, got %s", cfg.MinSeverity)
	}
}

func TestLoadMalformedYAMLNeverPanics(t *testing.T) {
	dir := t.TempDir()
	inputs := [][]byte{
		nil,
		{0x00, 0xff, 0x10},
		[]byte("not: [valid: yaml: at: all"),
		[]byte("scan: \"a string, not a mapping\""),
		[]byte(""),
	}
	for _, input := range inputs {
		if err := os.WriteFile(filepath.Join(dir, ManifestFilename), input, 0o644); err != nil {
			t.Fatal(err)
		}
		cfg := Load(dir, zerolog.Nop())
		if cfg.ContractsPath == "" {
			t.Fatalf("expected a resolved config for input %q, got empty ContractsPath", input)
		}
	}
}

func TestIgnoreGlobDoubleStarCrossesSegments(t *testing.T) {
	cfg := DefaultScanConfig()
	cfg.IgnorePaths = []string{"node_modules/**"}
	cfg.IgnoreGlobs = compileGlobs(cfg.IgnorePaths)

	if !cfg.MatchesIgnore("node_modules/a") {
		t.Fatal("expected node_modules/a to match node_modules/**")
	}
	if !cfg.MatchesIgnore("node_modules/a/b") {
		t.Fatal("expected node_modules/a/b to match node_modules/**")
	}
	if cfg.MatchesIgnore("src/node_modules") {
		t.Fatal("expected src/node_modules not to match node_modules/**")
	}
}
