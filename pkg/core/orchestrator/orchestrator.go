// Package orchestrator implements the scan orchestrator: the seven-step
// sequence that turns one Job into a workspace, a clone, a config, a set of
// changed files, a scan, a report, and a guaranteed cleanup.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/common/retry"
	"github.com/audit-pit-crew/gateway/pkg/core/config"
	"github.com/audit-pit-crew/gateway/pkg/core/scanner"
	"github.com/audit-pit-crew/gateway/pkg/core/workspace"
	"github.com/audit-pit-crew/gateway/pkg/domain/errors"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
	"github.com/audit-pit-crew/gateway/pkg/domain/job"
	"github.com/audit-pit-crew/gateway/pkg/infrastructure/baseline"
	"github.com/audit-pit-crew/gateway/pkg/infrastructure/reporting"
)

// Status is a job's terminal outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is the small structured record the orchestrator returns for every
// job, successful or not.
type Result struct {
	Status         Status
	NewIssuesFound int
	Mode           job.Mode
	Reason         string
}

// Authenticator mints a short-lived installation token. It is the subset of
// HostingClient the orchestrator needs before a clone.
type Authenticator interface {
	IssueInstallationToken(ctx context.Context, installationID int64) (string, error)
}

// Orchestrator runs one Job's seven steps: Workspace, Authenticate+Clone,
// LoadConfig, DiscoverFiles, Scan, Report, Cleanup.
type Orchestrator struct {
	Workspace *workspace.Manager
	Scanner   *scanner.Scanner
	Baseline  baseline.Store
	Reporter  *reporting.Reporter
	Auth      Authenticator
	Logger    zerolog.Logger
	Timeouts  workspace.Timeouts
	Retry     retry.Policy
	Breakers  *cloneBreakers
}

// New builds an Orchestrator from its collaborators.
func New(ws *workspace.Manager, sc *scanner.Scanner, store baseline.Store, reporter *reporting.Reporter, auth Authenticator, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Workspace: ws,
		Scanner:   sc,
		Baseline:  store,
		Reporter:  reporter,
		Auth:      auth,
		Logger:    logger.With().Str("component", "orchestrator").Logger(),
		Timeouts:  workspace.DefaultTimeouts(),
		Retry:     retry.OrchestratorPolicy(),
		Breakers:  newCloneBreakers(),
	}
}

// RunJob implements queue.Runner.
func (o *Orchestrator) RunJob(ctx context.Context, j job.Job) error {
	result := o.Execute(ctx, j)
	if result.Status == StatusFailed {
		return fmt.Errorf("job %s failed: %s", j.ID, result.Reason)
	}
	return nil
}

// Execute runs the full seven-step sequence for j.
func (o *Orchestrator) Execute(ctx context.Context, j job.Job) Result {
	log := o.Logger.With().Str("job_id", j.ID).Str("repo_url", j.RepoURL).Logger()
	mode := j.Mode()
	ctx = reporting.WithInstallationID(ctx, j.InstallationID)

	// Step 1: Workspace. Any failure here is fatal to the job.
	dir, err := o.Workspace.CreateWorkspace()
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: workspace creation failed, job cannot proceed")
		return Result{Status: StatusFailed, Mode: mode, Reason: "workspace creation failed"}
	}
	// Step 7: Cleanup. Runs unconditionally on every exit path.
	defer func() {
		if rmErr := o.Workspace.RemoveWorkspace(dir); rmErr != nil {
			log.Error().Err(rmErr).Msg("orchestrator: workspace cleanup failed")
		}
	}()

	if ctx.Err() != nil {
		return Result{Status: StatusFailed, Mode: mode, Reason: "cancelled"}
	}

	// Step 2: Authenticate + Clone.
	repoRoot, err := o.authenticateAndClone(ctx, j, dir)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Status: StatusFailed, Mode: mode, Reason: "cancelled"}
		}
		log.Error().Err(err).Msg("orchestrator: authenticate+clone failed")
		o.reportFatal(ctx, j, "failed to authenticate or clone repository")
		return Result{Status: StatusFailed, Mode: mode, Reason: "clone failed"}
	}

	// Step 3: Load Config. Never fails the job.
	cfg := config.Load(repoRoot, log)

	// Step 4: Discover Files.
	var files []string
	if mode == job.ModeDifferential {
		files, err = o.discoverChangedFiles(ctx, repoRoot, j.PR.BaseRef, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Status: StatusFailed, Mode: mode, Reason: "cancelled"}
			}
			log.Error().Err(err).Msg("orchestrator: failed to discover changed files")
			o.reportFatal(ctx, j, "failed to diff changed files")
			return Result{Status: StatusFailed, Mode: mode, Reason: "diff failed"}
		}
		if len(files) == 0 {
			if perr := o.Reporter.PostNoChanges(ctx, *j.PR); perr != nil {
				log.Error().Err(perr).Msg("orchestrator: failed to post no-changes check run")
			}
			return Result{Status: StatusSkipped, Mode: mode, Reason: "no Solidity changes"}
		}
	}

	// Step 5: Scan.
	report, err := o.Scanner.Scan(ctx, repoRoot, files, cfg)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: scanner fatal error, escalating")
		if mode == job.ModeDifferential {
			if perr := o.Reporter.PostErrorReport(ctx, *j.PR, err.Error()); perr != nil {
				log.Error().Err(perr).Msg("orchestrator: failed to post error report")
			}
		}
		return Result{Status: StatusFailed, Mode: mode, Reason: "scanner fatal error"}
	}

	// Step 6: Report.
	newIssues := 0
	switch mode {
	case job.ModeDifferential:
		key := baseline.NewKey(j.PR.Owner, j.PR.Repo)
		existing, err := o.Baseline.Read(ctx, key)
		if err != nil {
			log.Error().Err(err).Msg("orchestrator: baseline read failed, treating as empty")
			existing = baseline.Empty()
		}
		newFindings := finding.NewRelativeTo(report.Findings, existing.Fingerprints)
		newIssues = len(newFindings)

		if err := o.Reporter.PostReport(ctx, *j.PR, newFindings, cfg.BlockOnSeverity); err != nil {
			log.Error().Err(err).Msg("orchestrator: failed to post report")
			return Result{Status: StatusFailed, Mode: mode, NewIssuesFound: newIssues, Reason: "reporter failed"}
		}
	case job.ModeBaseline:
		newBaseline := baseline.Baseline{Fingerprints: finding.Fingerprints(report.Findings)}
		key := baseline.NewKey(ownerRepoFromURL(j.RepoURL))
		if err := o.Baseline.Write(ctx, key, newBaseline); err != nil {
			log.Error().Err(err).Msg("orchestrator: failed to write baseline")
			return Result{Status: StatusFailed, Mode: mode, Reason: "baseline write failed"}
		}
	}

	return Result{Status: StatusSuccess, Mode: mode, NewIssuesFound: newIssues}
}

func (o *Orchestrator) authenticateAndClone(ctx context.Context, j job.Job, dir string) (string, error) {
	token, err := o.Auth.IssueInstallationToken(ctx, j.InstallationID)
	if err != nil {
		return "", errors.Auth("orchestrator", "failed to mint installation token", err)
	}

	breaker := o.Breakers.For(j.RepoURL)
	if !breaker.CanExecute() {
		return "", errors.Clone("orchestrator", "circuit open after repeated clone failures for this repository", nil)
	}

	cloneErr := retry.Do(ctx, o.Retry, errors.IsRetryable, func(ctx context.Context) error {
		return o.Workspace.Clone(ctx, dir, workspace.CloneOptions{
			URL:     j.RepoURL,
			Token:   token,
			Shallow: j.Mode() == job.ModeBaseline,
			Timeout: o.Timeouts.Clone,
		})
	})
	if cloneErr != nil {
		breaker.RecordFailure()
		return "", cloneErr
	}
	breaker.RecordSuccess()

	repoRoot, err := o.Workspace.RepoRoot(dir)
	if err != nil {
		return "", err
	}

	if j.PR != nil {
		checkoutErr := retry.Do(ctx, o.Retry, errors.IsRetryable, func(ctx context.Context) error {
			return o.Workspace.Checkout(ctx, repoRoot, j.PR.HeadSHA, o.Timeouts.Checkout)
		})
		if checkoutErr != nil {
			return "", checkoutErr
		}
	}

	return repoRoot, nil
}

func (o *Orchestrator) discoverChangedFiles(ctx context.Context, repoRoot, baseRef string, cfg config.ScanConfig) ([]string, error) {
	o.Workspace.FetchBaseRef(ctx, repoRoot, baseRef, o.Timeouts.FetchRef)

	var files []string
	err := retry.Do(ctx, o.Retry, errors.IsRetryable, func(ctx context.Context) error {
		var diffErr error
		files, diffErr = o.Workspace.ChangedSolidityFiles(ctx, repoRoot, baseRef, cfg, o.Timeouts)
		return diffErr
	})
	return files, err
}

func (o *Orchestrator) reportFatal(ctx context.Context, j job.Job, reason string) {
	if j.PR == nil {
		return
	}
	if err := o.Reporter.PostErrorReport(ctx, *j.PR, reason); err != nil {
		o.Logger.Error().Err(err).Msg("orchestrator: failed to post fatal error report")
	}
}

// ownerRepoFromURL is a best-effort owner/repo extraction for baseline-mode
// jobs, which carry no PRContext. It is intentionally forgiving: a
// malformed URL yields an empty owner/repo pair rather than failing the
// job, since the baseline key is only a cache key, not load-bearing for
// correctness beyond this process's own writes.
func ownerRepoFromURL(url string) (string, string) {
	trimmed := url
	for _, prefix := range []string{"https://", "http://", "git@"} {
		if len(trimmed) >= len(prefix) && trimmed[:len(prefix)] == prefix {
			trimmed = trimmed[len(prefix):]
			break
		}
	}
	trimmed = stripSuffix(trimmed, ".git")

	parts := splitLast(trimmed, '/')
	if len(parts) != 2 {
		return "", trimmed
	}
	ownerParts := splitLast(parts[0], '/')
	owner := ownerParts[len(ownerParts)-1]
	owner = stripSuffix(owner, ":")
	return owner, parts[1]
}

func stripSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func splitLast(s string, sep byte) []string {
	idx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == sep {
			idx = i
			break
		}
	}
	if idx == -1 {
		return []string{s}
	}
	return []string{s[:idx], s[idx+1:]}
}
