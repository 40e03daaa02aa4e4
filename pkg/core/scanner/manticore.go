package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/common/runner"
	gwerrors "github.com/audit-pit-crew/gateway/pkg/domain/errors"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

// ManticoreAdapter is the bytecode-pattern analyzer: each file is an
// independent invocation, and a file missing from disk by the time the
// adapter runs (e.g. deleted between diff and scan) is skipped with a
// warning rather than failing the whole adapter.
type ManticoreAdapter struct {
	Binary  string
	Timeout time.Duration
	Runner  runner.CommandRunner
	Logger  zerolog.Logger
}

func NewManticoreAdapter() *ManticoreAdapter {
	return &ManticoreAdapter{
		Binary:  "manticore",
		Timeout: 300 * time.Second,
		Runner:  runner.DefaultCommandRunner{},
		Logger:  zerolog.Nop(),
	}
}

func (a *ManticoreAdapter) Name() string { return "manticore" }

// BinaryName lets the Scanner probe for a.Binary with exec.LookPath at
// construction time.
func (a *ManticoreAdapter) BinaryName() string { return a.Binary }

func (a *ManticoreAdapter) DefaultSeverityMap() map[string]severity.Severity {
	return map[string]severity.Severity{
		"info": severity.Informational,
		"low":  severity.Low,
		"med":  severity.Medium,
		"high": severity.High,
	}
}

type manticoreFinding struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
}

type manticoreOutput struct {
	Findings []manticoreFinding `json:"findings"`
}

func (a *ManticoreAdapter) Run(ctx context.Context, workspaceRoot string, files []string, cfg RunConfig) (Result, error) {
	sevMap := a.DefaultSeverityMap()
	var findings []finding.Finding

	for _, file := range files {
		if _, err := os.Stat(filepath.Join(workspaceRoot, file)); err != nil {
			a.Logger.Warn().Str("file", file).Err(err).Msg("manticore: file missing, skipping")
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, a.Timeout)
		res, err := a.Runner.Run(runCtx, workspaceRoot, a.Binary, "--json-output", "-", file)
		cancel()
		if err != nil {
			return Result{}, gwerrors.ToolExecution(a.Name(), fmt.Sprintf("manticore failed on %s: %s", file, res.Stderr), err)
		}

		var parsed manticoreOutput
		if jsonErr := json.Unmarshal([]byte(res.Stdout), &parsed); jsonErr != nil {
			return Result{}, gwerrors.ToolExecution(a.Name(), fmt.Sprintf("manticore output for %s was not valid JSON", file), jsonErr)
		}

		for _, f := range parsed.Findings {
			sev, ok := sevMap[f.Severity]
			if !ok {
				sev = severity.Informational
			}
			findings = append(findings, finding.Finding{
				Tool:        a.Name(),
				Type:        f.Type,
				Title:       f.Type,
				Description: f.Message,
				File:        file,
				Line:        f.Line,
				Severity:    sev,
			})
		}
	}

	return Result{Findings: finding.Filter(findings, cfg.MinSeverity)}, nil
}
