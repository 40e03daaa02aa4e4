// Package runner executes external analyzer binaries: explicit working
// directory, explicit argv, explicit timeout via the caller's context, and
// captured stdout/stderr/exit code. No shell interpolation anywhere.
package runner

import (
	"bytes"
	"context"
	"os/exec"
)

// Result is the outcome of one subprocess invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner executes a command rooted at dir and bounded by ctx's
// deadline. Implementations must kill-and-wait the child on context
// cancellation so timed-out processes cannot accumulate.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string, args ...string) (Result, error)
}

// DefaultCommandRunner shells out via os/exec.
type DefaultCommandRunner struct{}

var _ CommandRunner = DefaultCommandRunner{}

func (DefaultCommandRunner) Run(ctx context.Context, dir, command string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	return result, err
}

// FakeCommandRunner is a test double returning a fixed Result, optionally
// per-command via Responses keyed on the invoked command name.
type FakeCommandRunner struct {
	Result    Result
	Err       error
	Responses map[string]FakeResponse
}

// FakeResponse overrides FakeCommandRunner's default Result/Err for one
// specific command name.
type FakeResponse struct {
	Result Result
	Err    error
}

var _ CommandRunner = &FakeCommandRunner{}

func (f *FakeCommandRunner) Run(_ context.Context, _ string, command string, _ ...string) (Result, error) {
	if f.Responses != nil {
		if resp, ok := f.Responses[command]; ok {
			return resp.Result, resp.Err
		}
	}
	return f.Result, f.Err
}
