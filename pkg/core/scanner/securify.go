package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/audit-pit-crew/gateway/pkg/common/runner"
	gwerrors "github.com/audit-pit-crew/gateway/pkg/domain/errors"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

// SecurifyAdapter is the whole-tree comprehensive analyzer: one invocation
// over the entire repository, a long timeout, and it may not be installed
// in minimal deployments — the Scanner probes for its binary once at
// construction time and skips it when enabled but absent, so its absence
// never blocks adapters that are installed.
type SecurifyAdapter struct {
	Binary  string
	Timeout time.Duration
	Runner  runner.CommandRunner
}

func NewSecurifyAdapter() *SecurifyAdapter {
	return &SecurifyAdapter{Binary: "securify", Timeout: 600 * time.Second, Runner: runner.DefaultCommandRunner{}}
}

func (a *SecurifyAdapter) Name() string { return "securify" }

// BinaryName lets the Scanner probe for a.Binary with exec.LookPath at
// construction time.
func (a *SecurifyAdapter) BinaryName() string { return a.Binary }

func (a *SecurifyAdapter) DefaultSeverityMap() map[string]severity.Severity {
	return map[string]severity.Severity{
		"VIOLATION":  severity.High,
		"WARNING":    severity.Medium,
		"CONFORMING": severity.Informational,
	}
}

type securifyOutput struct {
	Results map[string]struct {
		Results map[string]struct {
			Violations []struct {
				File string `json:"file"`
				Line int    `json:"line"`
			} `json:"violations"`
			Type string `json:"type"`
		} `json:"results"`
	} `json:"results"`
}

func (a *SecurifyAdapter) Run(ctx context.Context, workspaceRoot string, _ []string, cfg RunConfig) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	res, err := a.Runner.Run(runCtx, workspaceRoot, a.Binary, "--project", ".", "--json-output", "-")
	if err != nil {
		return Result{}, gwerrors.ToolExecution(a.Name(), fmt.Sprintf("securify exited non-zero: %s", res.Stderr), err)
	}

	var parsed securifyOutput
	if jsonErr := json.Unmarshal([]byte(res.Stdout), &parsed); jsonErr != nil {
		return Result{}, gwerrors.ToolExecution(a.Name(), "securify output was not valid JSON", jsonErr)
	}

	sevMap := a.DefaultSeverityMap()
	var findings []finding.Finding
	for _, contract := range parsed.Results {
		for pattern, r := range contract.Results {
			sev, ok := sevMap[r.Type]
			if !ok {
				sev = severity.Informational
			}
			for _, v := range r.Violations {
				findings = append(findings, finding.Finding{
					Tool:     a.Name(),
					Type:     pattern,
					Title:    pattern,
					File:     v.File,
					Line:     v.Line,
					Severity: sev,
				})
			}
		}
	}

	return Result{Findings: finding.Filter(findings, cfg.MinSeverity)}, nil
}
