package reporting

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	gwerrors "github.com/audit-pit-crew/gateway/pkg/domain/errors"
	"github.com/audit-pit-crew/gateway/pkg/domain/finding"
	"github.com/audit-pit-crew/gateway/pkg/domain/job"
	"github.com/audit-pit-crew/gateway/pkg/domain/severity"
)

const checkName = "audit-pit-crew"

const commentSignature = "<!-- audit-pit-crew:report -->"

const maxAnnotations = 50

// Reporter formats a scan's findings and posts them through a HostingClient.
type Reporter struct {
	Client HostingClient
	Logger zerolog.Logger
}

func NewReporter(client HostingClient, logger zerolog.Logger) *Reporter {
	return &Reporter{Client: client, Logger: logger}
}

// PostReport posts the PR comment and check run for a completed differential
// scan. blockOnSeverity determines the check run's conclusion: failure iff
// any finding is at least that severe.
func (r *Reporter) PostReport(ctx context.Context, pr job.PRContext, findings []finding.Finding, blockOnSeverity severity.Severity) error {
	sorted := sortForReport(findings)

	if err := r.Client.PostIssueComment(ctx, pr.Owner, pr.Repo, pr.PRNumber, formatComment(sorted)); err != nil {
		r.Logger.Error().Err(err).Msg("reporter: failed to post PR comment")
		return reporterErr("failed to post PR comment", err)
	}

	run := buildCheckRun(pr.HeadSHA, sorted, blockOnSeverity)
	if err := r.Client.CreateCheckRun(ctx, pr.Owner, pr.Repo, run); err != nil {
		r.Logger.Error().Err(err).Msg("reporter: failed to create check run")
		return reporterErr("failed to create check run", err)
	}

	return nil
}

// PostErrorReport posts a failure check run when the scan itself could not
// complete (ScannerFatalError, clone/checkout exhaustion, etc). It never
// posts a PR comment for this case — a failed scan has no findings to
// summarize, only a status to surface.
func (r *Reporter) PostErrorReport(ctx context.Context, pr job.PRContext, reason string) error {
	run := CheckRun{
		Name:       checkName,
		HeadSHA:    pr.HeadSHA,
		Status:     "completed",
		Conclusion: ConclusionFailure,
		Title:      "Scan failed",
		Summary:    fmt.Sprintf("The security scan could not complete: %s", reason),
	}
	if err := r.Client.CreateCheckRun(ctx, pr.Owner, pr.Repo, run); err != nil {
		r.Logger.Error().Err(err).Msg("reporter: failed to post error check run")
		return reporterErr("failed to post error check run", err)
	}
	return nil
}

// PostNoChanges posts an affirmative success check run for a PR whose diff
// contains no Solidity changes, so the status check resolves instead of
// hanging when there is nothing to scan.
func (r *Reporter) PostNoChanges(ctx context.Context, pr job.PRContext) error {
	run := CheckRun{
		Name:       checkName,
		HeadSHA:    pr.HeadSHA,
		Status:     "completed",
		Conclusion: ConclusionSuccess,
		Title:      "No Solidity changes",
		Summary:    "This pull request does not change any Solidity files; nothing to scan.",
	}
	if err := r.Client.CreateCheckRun(ctx, pr.Owner, pr.Repo, run); err != nil {
		r.Logger.Error().Err(err).Msg("reporter: failed to post no-changes check run")
		return reporterErr("failed to post no-changes check run", err)
	}
	return nil
}

// sortForReport orders findings severity-descending, then file-ascending,
// then line-ascending — the order a reviewer scans a report in.
func sortForReport(findings []finding.Finding) []finding.Finding {
	sorted := append([]finding.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return sorted
}

func buildCheckRun(headSHA string, findings []finding.Finding, blockOnSeverity severity.Severity) CheckRun {
	conclusion := ConclusionSuccess
	for _, f := range findings {
		if f.Severity.AtLeast(blockOnSeverity) {
			conclusion = ConclusionFailure
			break
		}
	}
	if conclusion == ConclusionSuccess && len(findings) > 0 {
		conclusion = ConclusionNeutral
	}

	return CheckRun{
		Name:        checkName,
		HeadSHA:     headSHA,
		Status:      "completed",
		Conclusion:  conclusion,
		Title:       checkRunTitle(findings, conclusion),
		Summary:     checkRunSummary(findings),
		Annotations: buildAnnotations(findings),
	}
}

func checkRunTitle(findings []finding.Finding, conclusion CheckConclusion) string {
	if len(findings) == 0 {
		return "No new issues found"
	}
	if conclusion == ConclusionFailure {
		return fmt.Sprintf("%d issue(s) found, blocking merge", len(findings))
	}
	return fmt.Sprintf("%d issue(s) found, none blocking", len(findings))
}

func checkRunSummary(findings []finding.Finding) string {
	if len(findings) == 0 {
		return "No new findings since the last scan of this repository."
	}

	counts := countBySeverity(findings)
	var b strings.Builder
	b.WriteString("### Findings by severity\n\n")
	for _, sev := range []severity.Severity{severity.Critical, severity.High, severity.Medium, severity.Low, severity.Informational} {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(&b, "- **%s**: %d\n", sev, n)
		}
	}
	return b.String()
}

func buildAnnotations(findings []finding.Finding) []CheckRunAnnotation {
	var annotations []CheckRunAnnotation
	for _, f := range findings {
		if len(annotations) >= maxAnnotations {
			break
		}
		annotations = append(annotations, CheckRunAnnotation{
			Path:            f.File,
			StartLine:       lineOrOne(f.Line),
			EndLine:         lineOrOne(f.Line),
			AnnotationLevel: annotationLevel(f.Severity),
			Title:           f.Title,
			Message:         fmt.Sprintf("[%s/%s] %s", f.Tool, f.Type, f.Description),
		})
	}
	return annotations
}

func lineOrOne(line int) int {
	if line <= 0 {
		return 1
	}
	return line
}

func annotationLevel(sev severity.Severity) string {
	switch {
	case sev >= severity.High:
		return "failure"
	case sev == severity.Medium:
		return "warning"
	default:
		return "notice"
	}
}

func countBySeverity(findings []finding.Finding) map[severity.Severity]int {
	counts := make(map[severity.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// formatComment renders the PR comment body. An empty findings set still
// gets an affirmative "no new issues" comment rather than silence, so a
// reviewer watching the PR sees that the scan ran at all.
func formatComment(findings []finding.Finding) string {
	var b strings.Builder
	b.WriteString("## Security scan report\n\n")
	b.WriteString(commentSignature + "\n\n")

	if len(findings) == 0 {
		b.WriteString("No new issues found since the last scan of this repository.\n")
		return b.String()
	}

	counts := countBySeverity(findings)
	b.WriteString("| Severity | Count |\n|---|---|\n")
	for _, sev := range []severity.Severity{severity.Critical, severity.High, severity.Medium, severity.Low, severity.Informational} {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(&b, "| %s | %d |\n", sev, n)
		}
	}
	b.WriteString("\n")

	for _, f := range findings {
		fmt.Fprintf(&b, "### %s (%s)\n", f.Title, f.Severity)
		fmt.Fprintf(&b, "`%s:%d` — %s\n\n", f.File, f.Line, f.Description)
		fmt.Fprintf(&b, "tool: `%s` · type: `%s`\n\n", f.Tool, f.Type)
	}

	return b.String()
}

func reporterErr(message string, cause error) error {
	return gwerrors.Reporter("reporting", message, cause)
}
