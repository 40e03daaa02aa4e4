// Package workspace owns the per-job filesystem directory and every git
// operation the scan orchestrator needs against it: create/remove, clone,
// fetch, checkout, and changed-file discovery. Every git invocation is an
// explicit argv with an explicit working directory and an explicit timeout
// via the caller's context — never a shell string.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/audit-pit-crew/gateway/pkg/core/config"
	gwerrors "github.com/audit-pit-crew/gateway/pkg/domain/errors"
)

const workspacePrefix = "audit-pit-crew-"

// Manager creates and tears down workspaces and runs the git operations
// inside them.
type Manager struct {
	logger zerolog.Logger
	jail   *FilesystemJail
}

// NewManager returns a Manager. jail may be nil to disable the filesystem
// jail (tests, or deployments that trust their temp root).
func NewManager(logger zerolog.Logger, jail *FilesystemJail) *Manager {
	return &Manager{logger: logger.With().Str("component", "workspace").Logger(), jail: jail}
}

// CreateWorkspace creates a unique, empty, writable directory under the
// system temp root.
func (m *Manager) CreateWorkspace() (string, error) {
	dir, err := os.MkdirTemp("", workspacePrefix+uuid.NewString()+"-")
	if err != nil {
		return "", gwerrors.Internal("workspace", "failed to create workspace directory", err)
	}
	m.logger.Debug().Str("path", dir).Msg("workspace created")
	return dir, nil
}

// RemoveWorkspace deletes dir and everything under it. Idempotent: removing
// an already-removed or never-created workspace is not an error, because
// cleanup runs unconditionally on every job exit path.
func (m *Manager) RemoveWorkspace(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return gwerrors.Internal("workspace", fmt.Sprintf("failed to remove workspace %s", dir), err)
	}
	m.logger.Debug().Str("path", dir).Msg("workspace removed")
	return nil
}

// CloneOptions parameterize Clone.
type CloneOptions struct {
	URL     string
	Token   string
	Shallow bool
	Timeout time.Duration
}

// Clone authenticates url with token in-memory (never written to disk) and
// clones into dir. Shallow clones pass --depth 1 for baseline-mode jobs
// where full history is not needed.
func (m *Manager) Clone(ctx context.Context, dir string, opts CloneOptions) error {
	if m.jail != nil {
		if err := m.jail.ValidateURL(opts.URL); err != nil {
			return gwerrors.SecurityViolation("workspace", err.Error())
		}
		securePath, err := m.jail.SecureTargetPath(dir)
		if err != nil {
			return gwerrors.SecurityViolation("workspace", err.Error())
		}
		dir = securePath
	}

	cloneCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"clone"}
	if opts.Shallow {
		args = append(args, "--depth", "1")
	}
	url := opts.URL
	if opts.Token != "" {
		url = injectToken(url, opts.Token)
	}
	args = append(args, url, dir)

	args, err := m.secureArgs(args)
	if err != nil {
		return gwerrors.SecurityViolation("workspace", err.Error())
	}

	cmd := exec.CommandContext(cloneCtx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return gwerrors.Clone("workspace", fmt.Sprintf("git clone failed: %s", truncate(string(out))), err)
	}
	return nil
}

// secureArgs runs args through the jail's hook- and file-protocol-disabling
// hardening when a jail is configured; with no jail (tests, or deployments
// that trust their temp root) args pass through unchanged.
func (m *Manager) secureArgs(args []string) ([]string, error) {
	if m.jail == nil {
		return args, nil
	}
	return m.jail.SecureGitArgs(args...)
}

// RepoRoot returns the top-level directory of the cloned repository under
// workspace, handling the case where clone produced exactly one child
// directory (some hosting platforms' tarball-style checkouts do this; a
// plain `git clone <url> <dir>` does not, so this is usually a no-op).
func (m *Manager) RepoRoot(workspace string) (string, error) {
	if _, err := os.Stat(filepath.Join(workspace, ".git")); err == nil {
		return workspace, nil
	}
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return "", gwerrors.Internal("workspace", "failed to read workspace", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		child := filepath.Join(workspace, entries[0].Name())
		if _, err := os.Stat(filepath.Join(child, ".git")); err == nil {
			return child, nil
		}
	}
	return workspace, nil
}

// FetchBaseRef attempts to fetch baseRef from origin. Any failure is
// downgraded to a warning: baseRef may already be a commit SHA or locally
// reachable without a fetch.
func (m *Manager) FetchBaseRef(ctx context.Context, repoRoot, baseRef string, timeout time.Duration) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args, err := m.secureArgs([]string{"-C", repoRoot, "fetch", "origin", baseRef})
	if err != nil {
		m.logger.Warn().Err(err).Str("base_ref", baseRef).Msg("fetch base ref rejected by filesystem jail, proceeding without it")
		return
	}

	cmd := exec.CommandContext(fetchCtx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		m.logger.Warn().Err(err).Str("base_ref", baseRef).Str("output", truncate(string(out))).
			Msg("fetch base ref failed, proceeding without it")
	}
}

// Checkout performs a hard checkout of ref in repoRoot.
func (m *Manager) Checkout(ctx context.Context, repoRoot, ref string, timeout time.Duration) error {
	checkoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args, err := m.secureArgs([]string{"-C", repoRoot, "checkout", "--force", ref})
	if err != nil {
		return gwerrors.SecurityViolation("workspace", err.Error())
	}

	cmd := exec.CommandContext(checkoutCtx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return gwerrors.Checkout("workspace", fmt.Sprintf("checkout %s failed: %s", ref, truncate(string(out))), err)
	}
	return nil
}

// resolveRef tries `rev-parse ref`, falling back to `rev-parse origin/ref`.
// If both fail it logs a warning and returns the original string unresolved
// — diff then runs against whatever that string means to git, which may
// itself fail and surface as a DiffError.
func (m *Manager) resolveRef(ctx context.Context, repoRoot, ref string, timeout time.Duration) string {
	resolveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if out, err := exec.CommandContext(resolveCtx, "git", "-C", repoRoot, "rev-parse", ref).CombinedOutput(); err == nil {
		return strings.TrimSpace(string(out))
	}

	originRef := "origin/" + ref
	resolveCtx2, cancel2 := context.WithTimeout(ctx, timeout)
	defer cancel2()
	if out, err := exec.CommandContext(resolveCtx2, "git", "-C", repoRoot, "rev-parse", originRef).CombinedOutput(); err == nil {
		return strings.TrimSpace(string(out))
	}

	m.logger.Warn().Str("ref", ref).Msg("could not resolve base ref locally or via origin, using as-is")
	return ref
}

// ChangedSolidityFiles resolves baseRef, diffs it against HEAD, and filters
// the result to existing .sol files inside cfg's contracts_path and outside
// its ignore_paths, per the Discover Files step's contract.
func (m *Manager) ChangedSolidityFiles(ctx context.Context, repoRoot, baseRef string, cfg config.ScanConfig, timeouts Timeouts) ([]string, error) {
	resolved := m.resolveRef(ctx, repoRoot, baseRef, timeouts.RefResolve)

	diffCtx, cancel := context.WithTimeout(ctx, timeouts.Diff)
	defer cancel()

	cmd := exec.CommandContext(diffCtx, "git", "-C", repoRoot, "diff", "--name-only", resolved, "HEAD")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, gwerrors.Diff("workspace", fmt.Sprintf("diff against %s failed: %s", resolved, truncate(string(out))), err)
	}

	candidates := strings.Split(strings.TrimSpace(string(out)), "\n")

	seen := make(map[string]struct{}, len(candidates))
	var files []string
	for _, rel := range candidates {
		rel = strings.TrimSpace(rel)
		if rel == "" {
			continue
		}
		if !strings.HasSuffix(rel, ".sol") {
			continue
		}
		full := filepath.Join(repoRoot, rel)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		if !withinContractsPath(rel, cfg.ContractsPath) {
			continue
		}
		relToContracts := relativeToContractsPath(rel, cfg.ContractsPath)
		if cfg.MatchesIgnore(rel) || cfg.MatchesIgnore(relToContracts) {
			continue
		}
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}
		files = append(files, rel)
	}
	return files, nil
}

func withinContractsPath(rel, contractsPath string) bool {
	if contractsPath == "" || contractsPath == "." {
		return true
	}
	return rel == contractsPath || strings.HasPrefix(rel, contractsPath+"/")
}

func relativeToContractsPath(rel, contractsPath string) string {
	if contractsPath == "" || contractsPath == "." {
		return rel
	}
	trimmed := strings.TrimPrefix(rel, contractsPath+"/")
	return trimmed
}

// Timeouts bundles the per-operation timeouts the Workspace/Git Manager
// uses, so orchestrator callers configure them once rather than threading
// five separate durations through every call.
type Timeouts struct {
	Clone      time.Duration
	FetchRef   time.Duration
	RefResolve time.Duration
	Diff       time.Duration
	Checkout   time.Duration
}

// DefaultTimeouts returns the defaults from the concurrency model: clone
// 120s, fetch 30s, ref resolution 10s, diff 30s, checkout 30s.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Clone:      120 * time.Second,
		FetchRef:   30 * time.Second,
		RefResolve: 10 * time.Second,
		Diff:       30 * time.Second,
		Checkout:   30 * time.Second,
	}
}

func injectToken(url, token string) string {
	if strings.HasPrefix(url, "https://") {
		return strings.Replace(url, "https://", "https://x-access-token:"+token+"@", 1)
	}
	return url
}

func truncate(s string) string {
	const max = 2000
	if len(s) > max {
		return s[:max] + "...(truncated)"
	}
	return s
}
