package scanner

import (
	"context"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/core/config"
	gwerrors "github.com/audit-pit-crew/gateway/pkg/domain/errors"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
)

// AdapterTiming records one adapter's elapsed wall time within a Scan, for
// the per-run timing report.
type AdapterTiming struct {
	Adapter  string
	Duration time.Duration
	Failed   bool
}

// Report is the Unified Scanner's aggregate result.
type Report struct {
	Findings    []finding.Finding
	Timings     []AdapterTiming
	Failed      []string
	Unknown     []string
	Unavailable []string
}

// binaryNamer is implemented by adapters that shell out to an external
// binary, letting the Scanner probe for it with exec.LookPath without
// knowing each adapter's concrete type. Adapters with no such binary (test
// doubles, in-process analyzers) simply don't implement it and are always
// treated as available.
type binaryNamer interface {
	BinaryName() string
}

// Scanner runs every adapter named in a ScanConfig's enabled_tools,
// sequentially within the job, against a single workspace. It never returns
// an error for an individual adapter's failure: per-adapter failures are
// isolated, logged, and recorded in Report.Failed, and the scan continues
// with the remaining adapters. It returns an error only when the registry
// cannot resolve any enabled adapter into something runnable — callers
// escalate that as ScannerFatalError.
type Scanner struct {
	Registry  *Registry
	Logger    zerolog.Logger
	available map[string]bool
}

// NewScanner returns a Scanner backed by the built-in adapter registry.
// Every registered adapter's binary is probed once here, via
// exec.LookPath, rather than on every Scan — a missing analyzer binary is
// an environment fact that doesn't change mid-process, so there is no
// reason to pay a LookPath syscall per job.
func NewScanner(logger zerolog.Logger) *Scanner {
	registry := DefaultRegistry()
	return &Scanner{Registry: registry, Logger: logger, available: probeAvailability(registry, logger)}
}

// probeAvailability builds every registered adapter once and resolves its
// binary with exec.LookPath, so a deployment missing e.g. securify logs
// that once at startup instead of once per job that enables it.
func probeAvailability(registry *Registry, logger zerolog.Logger) map[string]bool {
	names := registry.Names()
	adapters, _ := registry.Build(names)
	available := make(map[string]bool, len(adapters))
	for _, adapter := range adapters {
		bn, ok := adapter.(binaryNamer)
		if !ok {
			available[adapter.Name()] = true
			continue
		}
		if _, err := exec.LookPath(bn.BinaryName()); err != nil {
			logger.Warn().Str("adapter", adapter.Name()).Str("binary", bn.BinaryName()).
				Msg("scanner: adapter binary not found on PATH, adapter will be skipped when enabled")
			available[adapter.Name()] = false
			continue
		}
		available[adapter.Name()] = true
	}
	return available
}

// Scan runs cfg.EnabledTools' adapters over workspaceRoot. files is the
// diff-filtered candidate list for PR-mode scans, or nil for a baseline
// (whole-tree) scan.
func (s *Scanner) Scan(ctx context.Context, workspaceRoot string, files []string, cfg config.ScanConfig) (Report, error) {
	adapters, unknown := s.Registry.Build(cfg.EnabledTools)
	for _, name := range unknown {
		s.Logger.Warn().Str("adapter", name).Msg("scanner: enabled_tools names an unregistered adapter, skipping")
	}

	if len(adapters) == 0 {
		return Report{Unknown: unknown}, gwerrors.ScannerFatal("scanner", "no enabled adapter resolved to a registered implementation", nil)
	}

	runCfg := RunConfig{MinSeverity: cfg.MinSeverity}

	var (
		all         []finding.Finding
		timings     []AdapterTiming
		failed      []string
		unavailable []string
	)

	for _, adapter := range adapters {
		log := s.Logger.With().Str("adapter", adapter.Name()).Logger()

		if available, known := s.available[adapter.Name()]; known && !available {
			log.Warn().Msg("scanner: adapter binary unavailable, skipping")
			unavailable = append(unavailable, adapter.Name())
			continue
		}

		log.Info().Msg("scanner: adapter starting")

		start := time.Now()
		result, err := adapter.Run(ctx, workspaceRoot, files, runCfg)
		elapsed := time.Since(start)

		if err != nil {
			log.Error().Err(err).Dur("elapsed", elapsed).Msg("scanner: adapter failed, continuing with remaining adapters")
			timings = append(timings, AdapterTiming{Adapter: adapter.Name(), Duration: elapsed, Failed: true})
			failed = append(failed, adapter.Name())
			continue
		}

		log.Info().Dur("elapsed", elapsed).Int("findings", len(result.Findings)).Msg("scanner: adapter completed")
		timings = append(timings, AdapterTiming{Adapter: adapter.Name(), Duration: elapsed})
		all = append(all, result.Findings...)
	}

	deduped := finding.Dedup(all)

	s.Logger.Info().
		Int("adapters_run", len(adapters)-len(unavailable)).
		Int("adapters_failed", len(failed)).
		Int("adapters_unavailable", len(unavailable)).
		Int("findings_total", len(all)).
		Int("findings_deduped", len(deduped)).
		Msg("scanner: run complete")

	return Report{Findings: deduped, Timings: timings, Failed: failed, Unknown: unknown, Unavailable: unavailable}, nil
}
