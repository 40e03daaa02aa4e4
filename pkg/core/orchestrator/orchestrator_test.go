package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/core/scanner"
	"github.com/audit-pit-crew/gateway/pkg/core/workspace"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
	"github.com/audit-pit-crew/gateway/pkg/domain/job"
	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
	"github.com/audit-pit-crew/gateway/pkg/infrastructure/baseline"
	"github.com/audit-pit-crew/gateway/pkg/infrastructure/reporting"
)

// --- test doubles ---

type fakeAuth struct{}

func (fakeAuth) IssueInstallationToken(context.Context, int64) (string, error) {
	return "test-token", nil
}

type fakeAdapter struct {
	name     string
	findings []finding.Finding
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) DefaultSeverityMap() map[string]severity.Severity {
	return nil
}
func (a *fakeAdapter) Run(context.Context, string, []string, scanner.RunConfig) (scanner.Result, error) {
	return scanner.Result{Findings: a.findings}, nil
}

func newTestScanner(t *testing.T, findings ...finding.Finding) *scanner.Scanner {
	t.Helper()
	reg := scanner.NewRegistry()
	reg.Register("fake", func() scanner.Adapter { return &fakeAdapter{name: "fake", findings: findings} })
	s := scanner.NewScanner(zerolog.Nop())
	s.Registry = reg
	return s
}

type fakeHostingClient struct {
	comments  []string
	checkRuns []reporting.CheckRun
}

func (f *fakeHostingClient) IssueInstallationToken(context.Context, int64) (string, error) {
	return "test-token", nil
}
func (f *fakeHostingClient) PostIssueComment(_ context.Context, _, _ string, _ int, body string) error {
	f.comments = append(f.comments, body)
	return nil
}
func (f *fakeHostingClient) CreateCheckRun(_ context.Context, _, _ string, run reporting.CheckRun) error {
	f.checkRuns = append(f.checkRuns, run)
	return nil
}
func (f *fakeHostingClient) UpdateCheckRun(context.Context, string, string, int64, reporting.CheckRun) error {
	return nil
}

// runGit runs a git command in dir and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

// newUpstreamRepo builds a local git repository with one commit on main and
// writes the given files in a second commit, returning the repo path and
// the head SHA of that second commit.
func newUpstreamRepo(t *testing.T, files map[string]string) (repoPath, baseRef, headSHA string) {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	manifest := "scan:\n  enabled_tools: [\"fake\"]\n"
	if err := os.WriteFile(filepath.Join(dir, "audit-pit-crew.yml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("init"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "init")

	baseRef = gitRevParse(t, dir, "HEAD")

	for path, content := range files {
		full := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "add contracts")
	headSHA = gitRevParse(t, dir, "HEAD")

	return dir, baseRef, headSHA
}

func gitRevParse(t *testing.T, dir, ref string) string {
	t.Helper()
	cmd := exec.Command("git", "-C", dir, "rev-parse", ref)
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("rev-parse %s failed: %v", ref, err)
	}
	return string(out[:len(out)-1])
}

func newOrchestrator(t *testing.T, sc *scanner.Scanner, client *fakeHostingClient, store baseline.Store) *Orchestrator {
	t.Helper()
	ws := workspace.NewManager(zerolog.Nop(), nil)
	reporter := reporting.NewReporter(client, zerolog.Nop())
	o := New(ws, sc, store, reporter, fakeAuth{}, zerolog.Nop())
	o.Retry.InitialDelay = 0
	o.Retry.MaxDelay = 0
	return o
}

func TestDifferentialScanReportsNewFindings(t *testing.T) {
	repoPath, baseRef, headSHA := newUpstreamRepo(t, map[string]string{
		"contracts/Vault.sol": "contract Vault {}",
	})

	f := finding.Finding{Tool: "fake", Type: "reentrancy", File: "contracts/Vault.sol", Line: 1, Severity: severity.Medium}
	sc := newTestScanner(t, f)
	client := &fakeHostingClient{}
	store := baseline.NewMemoryStore()
	o := newOrchestrator(t, sc, client, store)

	j := job.Job{
		ID:      "job-1",
		RepoURL: repoPath,
		PR: &job.PRContext{
			Owner: "acme", Repo: "vault", PRNumber: 1,
			BaseRef: baseRef, HeadSHA: headSHA,
		},
	}

	result := o.Execute(context.Background(), j)
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.Reason)
	}
	if result.NewIssuesFound != 1 {
		t.Fatalf("expected 1 new issue, got %d", result.NewIssuesFound)
	}
	if len(client.comments) != 1 {
		t.Fatalf("expected 1 PR comment, got %d", len(client.comments))
	}
	if len(client.checkRuns) != 1 || client.checkRuns[0].Conclusion != reporting.ConclusionNeutral {
		t.Fatalf("expected a neutral check run for a medium finding below the default block threshold, got %+v", client.checkRuns)
	}
}

func TestDifferentialScanBlocksOnSeverity(t *testing.T) {
	repoPath, baseRef, headSHA := newUpstreamRepo(t, map[string]string{
		"contracts/Vault.sol": "contract Vault {}",
	})

	f := finding.Finding{Tool: "fake", Type: "reentrancy", File: "contracts/Vault.sol", Line: 1, Severity: severity.Critical}
	sc := newTestScanner(t, f)
	client := &fakeHostingClient{}
	store := baseline.NewMemoryStore()
	o := newOrchestrator(t, sc, client, store)

	j := job.Job{
		ID:      "job-2",
		RepoURL: repoPath,
		PR: &job.PRContext{
			Owner: "acme", Repo: "vault", PRNumber: 2,
			BaseRef: baseRef, HeadSHA: headSHA,
		},
	}

	result := o.Execute(context.Background(), j)
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.Reason)
	}
	if len(client.checkRuns) != 1 || client.checkRuns[0].Conclusion != reporting.ConclusionFailure {
		t.Fatalf("expected a failing check run for a critical finding, got %+v", client.checkRuns)
	}
}

func TestDifferentialScanWithNoSolidityChangesSkipsWithAffirmativeCheckRun(t *testing.T) {
	repoPath, baseRef, headSHA := newUpstreamRepo(t, map[string]string{
		"README.md": "more docs, no contracts",
	})

	sc := newTestScanner(t)
	client := &fakeHostingClient{}
	store := baseline.NewMemoryStore()
	o := newOrchestrator(t, sc, client, store)

	j := job.Job{
		ID:      "job-3",
		RepoURL: repoPath,
		PR: &job.PRContext{
			Owner: "acme", Repo: "vault", PRNumber: 3,
			BaseRef: baseRef, HeadSHA: headSHA,
		},
	}

	result := o.Execute(context.Background(), j)
	if result.Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", result.Status)
	}
	if len(client.comments) != 0 {
		t.Fatalf("expected no PR comment when nothing changed, got %d", len(client.comments))
	}
	if len(client.checkRuns) != 1 || client.checkRuns[0].Conclusion != reporting.ConclusionSuccess {
		t.Fatalf("expected a successful no-changes check run, got %+v", client.checkRuns)
	}
}

func TestDifferentialScanOmitsFindingsAlreadyInBaseline(t *testing.T) {
	repoPath, baseRef, headSHA := newUpstreamRepo(t, map[string]string{
		"contracts/Vault.sol": "contract Vault {}",
	})

	f := finding.Finding{Tool: "fake", Type: "reentrancy", File: "contracts/Vault.sol", Line: 1, Severity: severity.High}
	sc := newTestScanner(t, f)
	client := &fakeHostingClient{}
	store := baseline.NewMemoryStore()
	key := baseline.NewKey("acme", "vault")
	if err := store.Write(context.Background(), key, baseline.Baseline{Fingerprints: finding.Fingerprints([]finding.Finding{f})}); err != nil {
		t.Fatal(err)
	}
	o := newOrchestrator(t, sc, client, store)

	j := job.Job{
		ID:      "job-4",
		RepoURL: repoPath,
		PR: &job.PRContext{
			Owner: "acme", Repo: "vault", PRNumber: 4,
			BaseRef: baseRef, HeadSHA: headSHA,
		},
	}

	result := o.Execute(context.Background(), j)
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.Reason)
	}
	if result.NewIssuesFound != 0 {
		t.Fatalf("expected 0 new issues since the finding is already baselined, got %d", result.NewIssuesFound)
	}
	if len(client.checkRuns) != 1 || client.checkRuns[0].Conclusion != reporting.ConclusionSuccess {
		t.Fatalf("expected an affirmative success check run, got %+v", client.checkRuns)
	}
}

func TestBaselineModeScanWritesBaselineWithoutReporting(t *testing.T) {
	repoPath, _, _ := newUpstreamRepo(t, map[string]string{
		"contracts/Vault.sol": "contract Vault {}",
	})

	f := finding.Finding{Tool: "fake", Type: "reentrancy", File: "contracts/Vault.sol", Line: 1, Severity: severity.Medium}
	sc := newTestScanner(t, f)
	client := &fakeHostingClient{}
	store := baseline.NewMemoryStore()
	o := newOrchestrator(t, sc, client, store)

	j := job.Job{ID: "job-5", RepoURL: repoPath}

	result := o.Execute(context.Background(), j)
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.Reason)
	}
	if len(client.comments) != 0 || len(client.checkRuns) != 0 {
		t.Fatal("baseline-mode scans should not report to the hosting platform")
	}

	owner, repo := ownerRepoFromURL(repoPath)
	saved, err := store.Read(context.Background(), baseline.NewKey(owner, repo))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := saved.Fingerprints[f.Fingerprint()]; !ok {
		t.Fatal("expected the finding's fingerprint to be saved in the baseline")
	}
}

func TestCloneFailurePostsErrorCheckRun(t *testing.T) {
	sc := newTestScanner(t)
	client := &fakeHostingClient{}
	store := baseline.NewMemoryStore()
	o := newOrchestrator(t, sc, client, store)

	j := job.Job{
		ID:      "job-6",
		RepoURL: filepath.Join(t.TempDir(), "does-not-exist"),
		PR: &job.PRContext{
			Owner: "acme", Repo: "vault", PRNumber: 6,
			BaseRef: "main", HeadSHA: "deadbeef",
		},
	}

	result := o.Execute(context.Background(), j)
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(client.checkRuns) != 1 || client.checkRuns[0].Conclusion != reporting.ConclusionFailure {
		t.Fatalf("expected a failure check run reporting the clone error, got %+v", client.checkRuns)
	}
}
