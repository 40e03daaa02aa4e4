package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecurityOptions configures a FilesystemJail.
type SecurityOptions struct {
	WorkspaceRoot string
	BlockedPaths  []string
	AllowSymlinks bool
}

// DefaultSecurityOptions returns secure defaults for a given workspace root.
func DefaultSecurityOptions(workspaceRoot string) *SecurityOptions {
	return &SecurityOptions{
		WorkspaceRoot: workspaceRoot,
		BlockedPaths:  []string{"/.."},
		AllowSymlinks: false,
	}
}

// restrictedPrefixes maps a handful of system directories to a presence
// check: a path under one of these, outside the jail's own root, is rejected
// even before the traversal check runs — a misconfigured jail shouldn't be
// able to point a clone at system state by way of a crafted target path.
var restrictedPrefixes = map[string]struct{}{
	"/etc/": {}, "/root/": {}, "/var/log/": {}, "/usr/bin/": {}, "/usr/sbin/": {},
	"/bin/": {}, "/sbin/": {}, "/lib/": {}, "/lib64/": {}, "/proc/": {}, "/sys/": {}, "/dev/": {},
}

// shellMetacharacters are the substrings that turn a string destined for an
// argv slot (never a shell) into something worth rejecting anyway: if a
// credential helper, submodule URL, or proxy config ever interpolates one of
// these downstream, it shouldn't have reached that point carrying them.
var shellMetacharacters = []string{"..", "~", "${", "$(", "`", "|", ";", "&", ">", "<"}

// FilesystemJail confines workspace paths, clone URLs, and the git argv
// itself to a safe subset before any subprocess runs against a cloned,
// untrusted third-party repository.
type FilesystemJail struct {
	root          string
	blockedPaths  []string
	allowSymlinks bool
}

// NewFilesystemJail builds a jail rooted at opts.WorkspaceRoot, which must
// already exist.
func NewFilesystemJail(opts *SecurityOptions) (*FilesystemJail, error) {
	if opts.WorkspaceRoot == "" {
		return nil, fmt.Errorf("workspace root is required for filesystem jail")
	}
	root, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	stat, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root does not exist: %w", err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", root)
	}
	return &FilesystemJail{root: root, blockedPaths: opts.BlockedPaths, allowSymlinks: opts.AllowSymlinks}, nil
}

// ValidatePath rejects a path outside the jail's root, under a restricted
// system directory, reached by a traversal sequence, or passing through a
// symlink.
func (j *FilesystemJail) ValidatePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	for _, blocked := range j.blockedPaths {
		if strings.Contains(abs, blocked) {
			return fmt.Errorf("path contains blocked pattern %q: %s", blocked, abs)
		}
	}
	if err := j.withinBounds(abs); err != nil {
		return err
	}
	if rel, err := filepath.Rel(j.root, filepath.Clean(abs)); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path traversal detected: %s", path)
	}
	if j.allowSymlinks {
		return nil
	}
	return j.noSymlinksAbove(abs)
}

// withinBounds returns nil when abs sits under the jail root and an error
// otherwise; the error names the restricted system prefix when abs falls
// under one, and reports the path as outside the workspace root when not.
func (j *FilesystemJail) withinBounds(abs string) error {
	if strings.HasPrefix(abs, j.root) {
		return nil
	}
	for prefix := range restrictedPrefixes {
		if strings.HasPrefix(abs, prefix) {
			return fmt.Errorf("path is in restricted location %q: %s", prefix, abs)
		}
	}
	return fmt.Errorf("path is outside workspace root: %s", abs)
}

// ValidateURL rejects file:// URLs and any URL carrying a shell
// metacharacter. A clone URL ultimately reaches an argv passed to git
// without a shell in between, but an unvalidated URL could still confuse
// credential-helper or proxy configuration downstream.
func (j *FilesystemJail) ValidateURL(url string) error {
	if strings.HasPrefix(strings.ToLower(url), "file://") {
		return fmt.Errorf("file:// URLs are not allowed")
	}
	if pattern, bad := containsMetacharacter(url); bad {
		return fmt.Errorf("URL contains suspicious pattern %q", pattern)
	}
	return nil
}

// SecureTargetPath resolves targetDir relative to the jail's root if it is
// not already absolute, then validates it.
func (j *FilesystemJail) SecureTargetPath(targetDir string) (string, error) {
	if !filepath.IsAbs(targetDir) {
		targetDir = filepath.Join(j.root, targetDir)
	}
	if err := j.ValidatePath(targetDir); err != nil {
		return "", err
	}
	return filepath.Clean(targetDir), nil
}

// SecureGitArgs prepends hook- and file-protocol-disabling global options to
// a git subcommand's arguments and rejects any argument carrying a shell
// metacharacter, so a crafted ref, path, or branch name pulled from an
// untrusted PR can't trigger hook execution or a local-protocol fetch once
// it reaches git's argv.
func (j *FilesystemJail) SecureGitArgs(args ...string) ([]string, error) {
	for i, arg := range args {
		if pattern, bad := containsMetacharacter(arg); bad {
			return nil, fmt.Errorf("argument[%d] contains suspicious pattern %q: %s", i, pattern, arg)
		}
	}
	secured := make([]string, 0, len(args)+4)
	secured = append(secured, "-c", "core.hooksPath=/dev/null", "-c", "protocol.file.allow=never")
	return append(secured, args...), nil
}

func containsMetacharacter(s string) (string, bool) {
	for _, pattern := range shellMetacharacters {
		if strings.Contains(s, pattern) {
			return pattern, true
		}
	}
	return "", false
}

func (j *FilesystemJail) noSymlinksAbove(path string) error {
	for current := path; current != "/" && current != j.root; current = filepath.Dir(current) {
		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to check path component: %w", err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("symbolic links are not allowed: %s", current)
		}
	}
	return nil
}
