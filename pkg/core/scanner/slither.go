package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/audit-pit-crew/gateway/pkg/common/runner"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
	gwerrors "github.com/audit-pit-crew/gateway/pkg/domain/errors"
	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

// SlitherAdapter is the AST-pattern analyzer: a fast, tree-walking static
// analysis over Solidity sources. It is invoked once over the whole repo
// root (or, when PR mode supplies a filtered file list, still scans the
// tree — slither's detector passes need whole-project context to resolve
// imports, so the file list is advisory only for this adapter).
type SlitherAdapter struct {
	Binary  string
	Timeout time.Duration
	Runner  runner.CommandRunner
}

func NewSlitherAdapter() *SlitherAdapter {
	return &SlitherAdapter{Binary: "slither", Timeout: 300 * time.Second, Runner: runner.DefaultCommandRunner{}}
}

func (a *SlitherAdapter) Name() string { return "slither" }

// BinaryName lets the Scanner probe for a.Binary with exec.LookPath at
// construction time.
func (a *SlitherAdapter) BinaryName() string { return a.Binary }

func (a *SlitherAdapter) DefaultSeverityMap() map[string]severity.Severity {
	return map[string]severity.Severity{
		"informational": severity.Informational,
		"low":           severity.Low,
		"medium":        severity.Medium,
		"high":          severity.High,
	}
}

type slitherOutput struct {
	Results struct {
		Detectors []slitherDetector `json:"detectors"`
	} `json:"results"`
}

type slitherDetector struct {
	Check       string `json:"check"`
	Impact      string `json:"impact"`
	Description string `json:"description"`
	Elements    []struct {
		SourceMapping struct {
			FilenameRelative string `json:"filename_relative"`
			Lines            []int  `json:"lines"`
		} `json:"source_mapping"`
	} `json:"elements"`
}

func (a *SlitherAdapter) Run(ctx context.Context, workspaceRoot string, _ []string, cfg RunConfig) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	res, err := a.Runner.Run(runCtx, workspaceRoot, a.Binary, ".", "--json", "-")
	if err != nil {
		return Result{}, gwerrors.ToolExecution(a.Name(), fmt.Sprintf("slither exited non-zero: %s", res.Stderr), err)
	}

	var parsed slitherOutput
	if jsonErr := json.Unmarshal([]byte(res.Stdout), &parsed); jsonErr != nil {
		return Result{}, gwerrors.ToolExecution(a.Name(), "slither output was not valid JSON", jsonErr)
	}

	sevMap := a.DefaultSeverityMap()
	var findings []finding.Finding
	for _, d := range parsed.Results.Detectors {
		file, line := "", 0
		if len(d.Elements) > 0 {
			file = d.Elements[0].SourceMapping.FilenameRelative
			if len(d.Elements[0].SourceMapping.Lines) > 0 {
				line = d.Elements[0].SourceMapping.Lines[0]
			}
		}
		sev, ok := sevMap[normalizeImpact(d.Impact)]
		if !ok {
			sev = severity.Informational
		}
		findings = append(findings, finding.Finding{
			Tool:        a.Name(),
			Type:        d.Check,
			Title:       d.Check,
			Description: d.Description,
			File:        file,
			Line:        line,
			Severity:    sev,
		})
	}

	return Result{Findings: finding.Filter(findings, cfg.MinSeverity)}, nil
}

func normalizeImpact(impact string) string {
	switch impact {
	case "Informational":
		return "informational"
	case "Low":
		return "low"
	case "Medium":
		return "medium"
	case "High":
		return "high"
	default:
		return "informational"
	}
}
