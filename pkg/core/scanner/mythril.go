package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	gwerrors "github.com/audit-pit-crew/gateway/pkg/domain/errors"
	"github.com/audit-pit-crew/gateway/pkg/common/runner"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

// MythrilAdapter is the symbolic-execution analyzer: slower, operates on
// compiled bytecode, invoked once per file with an execution-depth bound
// that trades coverage for latency.
type MythrilAdapter struct {
	Binary         string
	Timeout        time.Duration
	ExecutionDepth int
	Runner         runner.CommandRunner
}

func NewMythrilAdapter() *MythrilAdapter {
	return &MythrilAdapter{
		Binary:         "myth",
		Timeout:        300 * time.Second,
		ExecutionDepth: 22,
		Runner:         runner.DefaultCommandRunner{},
	}
}

func (a *MythrilAdapter) Name() string { return "mythril" }

// BinaryName lets the Scanner probe for a.Binary with exec.LookPath at
// construction time.
func (a *MythrilAdapter) BinaryName() string { return a.Binary }

func (a *MythrilAdapter) DefaultSeverityMap() map[string]severity.Severity {
	return map[string]severity.Severity{
		"Low":      severity.Low,
		"Medium":   severity.Medium,
		"High":     severity.High,
		"Critical": severity.Critical,
	}
}

type mythrilOutput struct {
	Issues []struct {
		SWCID       string `json:"swc-id"`
		Title       string `json:"title"`
		Severity    string `json:"severity"`
		Filename    string `json:"filename"`
		Lineno      int    `json:"lineno"`
		Description string `json:"description"`
	} `json:"issues"`
}

func (a *MythrilAdapter) Run(ctx context.Context, workspaceRoot string, files []string, cfg RunConfig) (Result, error) {
	if len(files) == 0 {
		// Tree-wide baseline scan: mythril needs a concrete entry point
		// per file, and baseline-mode jobs pass no file list, so mythril
		// is not invoked and contributes no findings. That is not a
		// failure.
		return Result{}, nil
	}

	sevMap := a.DefaultSeverityMap()
	var findings []finding.Finding
	logs := make(map[string]string)

	for _, file := range files {
		runCtx, cancel := context.WithTimeout(ctx, a.Timeout)
		res, err := a.Runner.Run(runCtx, workspaceRoot, a.Binary,
			"analyze", file, "-o", "json", "--execution-timeout", strconv.Itoa(int(a.Timeout.Seconds())),
			"--max-depth", strconv.Itoa(a.ExecutionDepth))
		cancel()
		if err != nil {
			return Result{}, gwerrors.ToolExecution(a.Name(), fmt.Sprintf("mythril failed on %s: %s", file, res.Stderr), err)
		}

		var parsed mythrilOutput
		if jsonErr := json.Unmarshal([]byte(res.Stdout), &parsed); jsonErr != nil {
			return Result{}, gwerrors.ToolExecution(a.Name(), fmt.Sprintf("mythril output for %s was not valid JSON", file), jsonErr)
		}

		for _, issue := range parsed.Issues {
			sev, ok := sevMap[issue.Severity]
			if !ok {
				sev = severity.Informational
			}
			findings = append(findings, finding.Finding{
				Tool:        a.Name(),
				Type:        issue.SWCID,
				Title:       issue.Title,
				Description: issue.Description,
				File:        file,
				Line:        issue.Lineno,
				Severity:    sev,
			})
		}
		logs[file] = file
	}

	return Result{Findings: finding.Filter(findings, cfg.MinSeverity), Logs: logs}, nil
}
