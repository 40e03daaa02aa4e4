// Package config loads the per-repository audit-pit-crew.yml manifest. The
// load path is deliberately defensive: any parse or validation problem
// degrades to DefaultScanConfig rather than propagating, so a malformed
// manifest committed by a repository owner can never block a scan.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

// ManifestFilename is the fixed filename read from a workspace root. It is
// never searched for recursively.
const ManifestFilename = "audit-pit-crew.yml"

// ScanConfig is the fully-resolved, validated scan configuration for one
// repository. All fields are optional in the manifest; zero values here are
// always replaced by DefaultScanConfig before use.
type ScanConfig struct {
	ContractsPath   string
	IgnorePaths     []string
	IgnoreGlobs     []glob.Glob
	MinSeverity     severity.Severity
	BlockOnSeverity severity.Severity
	EnabledTools    []string
}

// manifest is the strict-schema document shape read from disk. yaml.v3
// decodes into this and rejects unknown fields via KnownFields on the
// decoder, not a struct tag, so the decode in parse uses a Decoder rather
// than a bare yaml.Unmarshal call.
type manifest struct {
	Scan *scanSection `yaml:"scan"`
}

type scanSection struct {
	ContractsPath   *string  `yaml:"contracts_path"`
	IgnorePaths     []string `yaml:"ignore_paths"`
	MinSeverity     *string  `yaml:"min_severity"`
	BlockOnSeverity *string  `yaml:"block_on_severity"`
	EnabledTools    []string `yaml:"enabled_tools"`
}

// DefaultScanConfig returns the safe defaults per the manifest schema.
func DefaultScanConfig() ScanConfig {
	cfg := ScanConfig{
		ContractsPath:   ".",
		IgnorePaths:     []string{"node_modules/**", "test/**"},
		MinSeverity:     severity.Low,
		BlockOnSeverity: severity.High,
		EnabledTools:    []string{"slither", "mythril"},
	}
	cfg.IgnoreGlobs = compileGlobs(cfg.IgnorePaths)
	return cfg
}

// Load reads ManifestFilename from workspaceRoot and returns a fully
// resolved ScanConfig. It never returns an error that the caller must act
// on: every failure path logs and falls back to DefaultScanConfig, per the
// config loader's never-block contract.
func Load(workspaceRoot string, log zerolog.Logger) ScanConfig {
	path := filepath.Join(workspaceRoot, ManifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("no manifest found, using defaults")
		} else {
			log.Error().Err(err).Str("path", path).Msg("failed to read manifest, using defaults")
		}
		return DefaultScanConfig()
	}

	cfg, err := parse(data)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to parse manifest, using defaults")
		return DefaultScanConfig()
	}
	return cfg
}

// parse validates raw manifest bytes and returns a resolved ScanConfig, or
// an error describing the first validation failure. Never panics on
// arbitrary input — the config-fallback testable property requires that any
// byte string either yields a valid ScanConfig or triggers this error path.
func parse(data []byte) (ScanConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m manifest
	if err := dec.Decode(&m); err != nil {
		return ScanConfig{}, err
	}

	cfg := DefaultScanConfig()
	if m.Scan == nil {
		return cfg, nil
	}

	s := m.Scan
	if s.ContractsPath != nil {
		cfg.ContractsPath = *s.ContractsPath
	}
	if s.IgnorePaths != nil {
		cfg.IgnorePaths = s.IgnorePaths
	}
	if s.MinSeverity != nil {
		sev, ok := severity.Parse(*s.MinSeverity)
		if !ok {
			return ScanConfig{}, errInvalidEnum("min_severity", *s.MinSeverity)
		}
		cfg.MinSeverity = sev
	}
	if s.BlockOnSeverity != nil {
		sev, ok := severity.Parse(*s.BlockOnSeverity)
		if !ok {
			return ScanConfig{}, errInvalidEnum("block_on_severity", *s.BlockOnSeverity)
		}
		cfg.BlockOnSeverity = sev
	}
	if s.EnabledTools != nil {
		cfg.EnabledTools = s.EnabledTools
	}

	cfg.IgnoreGlobs = compileGlobs(cfg.IgnorePaths)
	return cfg, nil
}

func compileGlobs(patterns []string) []glob.Glob {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		globs = append(globs, g)
	}
	return globs
}

// MatchesIgnore reports whether relPath matches any configured ignore_paths
// pattern.
func (c ScanConfig) MatchesIgnore(relPath string) bool {
	for _, g := range c.IgnoreGlobs {
		if g.Match(relPath) {
			return true
		}
	}
	return false
}

func errInvalidEnum(field, value string) error {
	return fmt.Errorf("invalid value %q for %s", value, field)
}
