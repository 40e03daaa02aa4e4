package scanner

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/core/config"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

type fakeAdapter struct {
	name     string
	result   Result
	err      error
	sevMap   map[string]severity.Severity
	received []string
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) DefaultSeverityMap() map[string]severity.Severity {
	return f.sevMap
}
func (f *fakeAdapter) Run(_ context.Context, _ string, files []string, _ RunConfig) (Result, error) {
	f.received = files
	return f.result, f.err
}

func newTestRegistry(adapters ...Adapter) *Registry {
	r := NewRegistry()
	for _, a := range adapters {
		a := a
		r.Register(a.Name(), func() Adapter { return a })
	}
	return r
}

func TestScanAggregatesAndDedupsAcrossAdapters(t *testing.T) {
	dup := finding.Finding{Tool: "slither", Type: "reentrancy", File: "A.sol", Line: 10, Severity: severity.High}
	a1 := &fakeAdapter{name: "slither", result: Result{Findings: []finding.Finding{dup, dup}}}
	a2 := &fakeAdapter{name: "mythril", result: Result{Findings: []finding.Finding{
		{Tool: "mythril", Type: "overflow", File: "B.sol", Line: 5, Severity: severity.Medium},
	}}}

	s := &Scanner{Registry: newTestRegistry(a1, a2), Logger: zerolog.Nop()}
	cfg := config.DefaultScanConfig()
	cfg.EnabledTools = []string{"slither", "mythril"}
	cfg.MinSeverity = severity.Low

	report, err := s.Scan(context.Background(), "/workspace", nil, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Findings) != 2 {
		t.Fatalf("expected 2 deduped findings, got %d: %+v", len(report.Findings), report.Findings)
	}
	if len(report.Timings) != 2 {
		t.Fatalf("expected 2 timing entries, got %d", len(report.Timings))
	}
	if len(report.Failed) != 0 {
		t.Fatalf("expected no failed adapters, got %v", report.Failed)
	}
}

func TestScanIsolatesOneAdapterFailureAndContinues(t *testing.T) {
	failing := &fakeAdapter{name: "manticore", err: errors.New("binary not found")}
	healthy := &fakeAdapter{name: "slither", result: Result{Findings: []finding.Finding{
		{Tool: "slither", Type: "reentrancy", File: "A.sol", Line: 1, Severity: severity.High},
	}}}

	s := &Scanner{Registry: newTestRegistry(failing, healthy), Logger: zerolog.Nop()}
	cfg := config.DefaultScanConfig()
	cfg.EnabledTools = []string{"manticore", "slither"}

	report, err := s.Scan(context.Background(), "/workspace", nil, cfg)
	if err != nil {
		t.Fatalf("a single adapter failure must not fail the whole scan: %v", err)
	}
	if len(report.Findings) != 1 {
		t.Fatalf("expected the healthy adapter's finding to survive, got %d", len(report.Findings))
	}
	if len(report.Failed) != 1 || report.Failed[0] != "manticore" {
		t.Fatalf("expected manticore recorded as failed, got %v", report.Failed)
	}
}

func TestScanUnknownEnabledToolIsSkippedNotFatal(t *testing.T) {
	healthy := &fakeAdapter{name: "slither", result: Result{}}
	s := &Scanner{Registry: newTestRegistry(healthy), Logger: zerolog.Nop()}
	cfg := config.DefaultScanConfig()
	cfg.EnabledTools = []string{"slither", "ghost-tool"}

	report, err := s.Scan(context.Background(), "/workspace", nil, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Unknown) != 1 || report.Unknown[0] != "ghost-tool" {
		t.Fatalf("expected ghost-tool recorded as unknown, got %v", report.Unknown)
	}
}

func TestScanAllUnknownToolsIsScannerFatal(t *testing.T) {
	s := &Scanner{Registry: NewRegistry(), Logger: zerolog.Nop()}
	cfg := config.DefaultScanConfig()
	cfg.EnabledTools = []string{"ghost-tool"}

	_, err := s.Scan(context.Background(), "/workspace", nil, cfg)
	if err == nil {
		t.Fatal("expected a fatal error when no enabled adapter resolves")
	}
}

func TestScanPassesFilesThroughToAdapters(t *testing.T) {
	a := &fakeAdapter{name: "mythril", result: Result{}}
	s := &Scanner{Registry: newTestRegistry(a), Logger: zerolog.Nop()}
	cfg := config.DefaultScanConfig()
	cfg.EnabledTools = []string{"mythril"}

	files := []string{"contracts/Vault.sol"}
	if _, err := s.Scan(context.Background(), "/workspace", files, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.received) != 1 || a.received[0] != "contracts/Vault.sol" {
		t.Fatalf("expected adapter to receive the filtered file list, got %v", a.received)
	}
}
