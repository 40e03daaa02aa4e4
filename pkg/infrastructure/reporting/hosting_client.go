// Package reporting formats scan results for the hosting platform and posts
// them via a HostingClient — PR comments and check runs, grouped and capped
// the way a reviewer actually reads them.
package reporting

import "context"

// CheckConclusion is the terminal state of a check run.
type CheckConclusion string

const (
	ConclusionSuccess CheckConclusion = "success"
	ConclusionFailure CheckConclusion = "failure"
	ConclusionNeutral CheckConclusion = "neutral"
)

// CheckRunAnnotation is one inline file/line annotation on a check run.
type CheckRunAnnotation struct {
	Path            string
	StartLine       int
	EndLine         int
	AnnotationLevel string // "notice", "warning", or "failure"
	Title           string
	Message         string
}

// CheckRun is the full check-run payload posted for a commit.
type CheckRun struct {
	Name        string
	HeadSHA     string
	Status      string // "in_progress" or "completed"
	Conclusion  CheckConclusion
	Title       string
	Summary     string
	Annotations []CheckRunAnnotation
}

// HostingClient is the subset of a hosting platform's API the gateway needs:
// installation auth, PR comments, and check runs. A concrete implementation
// wraps the platform SDK; tests use a fake.
type HostingClient interface {
	IssueInstallationToken(ctx context.Context, installationID int64) (string, error)
	PostIssueComment(ctx context.Context, owner, repo string, prNumber int, body string) error
	CreateCheckRun(ctx context.Context, owner, repo string, run CheckRun) error
	UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, run CheckRun) error
}
